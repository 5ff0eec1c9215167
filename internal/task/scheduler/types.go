package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "announcebot/pkg/logx"
)

// ErrDisabled is returned by Add* when scheduler.enabled is false.
var ErrDisabled = errors.New("scheduler disabled")

type Config struct {
	Enabled  bool
	Timezone string // IANA TZ, e.g. "Europe/Berlin"; empty means Local
}

// Job is the function run when a trigger fires.
type Job func(ctx context.Context) error

type scheduleDef struct {
	name    string
	spec    string
	timeout time.Duration
	job     Job
	entryID cron.EntryID
}

// Entry describes one registered trigger.
type Entry struct {
	Name string
	Spec string
	Next time.Time
	Prev time.Time
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location

	parser cron.Parser
	c      *cron.Cron
	defs   map[string]*scheduleDef

	runCtx    context.Context
	runCancel context.CancelFunc
}
