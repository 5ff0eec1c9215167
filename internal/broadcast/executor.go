// Package broadcast fans one message out to every stored recipient.
package broadcast

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"announcebot/internal/eventbus"
	"announcebot/internal/storage"
	kit "announcebot/internal/transport"
	logx "announcebot/pkg/logx"
)

const maxRecordedFailures = 200

// Directory enumerates recipients.
type Directory interface {
	ListRecipients(ctx context.Context) ([]storage.Recipient, error)
}

type Config struct {
	Workers     int
	RatePerSec  int
	SendTimeout time.Duration // 0 disables
}

// Result is the aggregate outcome of one broadcast.
type Result struct {
	Success int
	Failure int
	// Failed holds up to 200 user ids whose delivery failed.
	Failed []int64
	Took   time.Duration
}

func (r Result) Total() int { return r.Success + r.Failure }

// Executor delivers a message to a snapshot of the recipient directory.
// Deliveries are independent: one failing or hanging recipient never stops
// the others.
type Executor struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	dir    Directory
	sender kit.Sender
	bus    eventbus.Bus
	log    logx.Logger
}

func New(cfg Config, dir Directory, sender kit.Sender, bus eventbus.Bus, log logx.Logger) *Executor {
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Executor{dir: dir, sender: sender, bus: bus, log: log.With(logx.String("comp", "broadcast"))}
	e.Apply(cfg)
	return e
}

// Apply swaps the tuning. Broadcasts already running keep their settings.
func (e *Executor) Apply(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 25
	}
	e.mu.Lock()
	e.cfg = cfg
	e.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	e.mu.Unlock()
}

// Broadcast sends text to every recipient listed at call time. The error is
// non-nil only when the directory itself could not be read.
func (e *Executor) Broadcast(ctx context.Context, text string, opt *kit.SendOptions) (Result, error) {
	start := time.Now()
	recipients, err := e.dir.ListRecipients(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list recipients: %w", err)
	}

	e.mu.Lock()
	cfg, lim := e.cfg, e.limiter
	e.mu.Unlock()

	var (
		ok, fail atomic.Int64
		failMu   sync.Mutex
		failed   []int64
	)
	g := new(errgroup.Group)
	g.SetLimit(cfg.Workers)
	for _, r := range recipients {
		g.Go(func() error {
			if err := e.sendOne(ctx, lim, cfg.SendTimeout, r, text, opt); err != nil {
				fail.Add(1)
				failMu.Lock()
				if len(failed) < maxRecordedFailures {
					failed = append(failed, r.UserID)
				}
				failMu.Unlock()
				return nil
			}
			ok.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	res := Result{Success: int(ok.Load()), Failure: int(fail.Load()), Failed: failed, Took: time.Since(start)}
	fields := []logx.Field{
		logx.Int("total", res.Total()),
		logx.Int("ok", res.Success),
		logx.Int("failed", res.Failure),
		logx.Duration("dur", res.Took),
	}
	if res.Failure > 0 {
		e.log.Warn("broadcast finished with failures", fields...)
	} else {
		e.log.Info("broadcast finished", fields...)
	}
	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Type: eventbus.TypeBroadcastDone, Data: res})
	}
	return res, nil
}

func (e *Executor) sendOne(ctx context.Context, lim *rate.Limiter, timeout time.Duration, r storage.Recipient, text string, opt *kit.SendOptions) (err error) {
	defer func() {
		if p := recover(); p != nil {
			e.log.Error("broadcast send panicked", logx.Int64("user_id", r.UserID), logx.Any("panic", p), logx.Stack(string(debug.Stack())))
			err = fmt.Errorf("panic: %v", p)
		}
	}()

	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
	}
	sendCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	to := kit.ChatTarget{ChatID: r.ChatID}
	if to.ChatID == 0 {
		to.ChatID = r.UserID
	}
	if _, err := e.sender.SendText(sendCtx, to, text, opt); err != nil {
		e.log.Warn("broadcast send failed", logx.Int64("user_id", r.UserID), logx.Int64("chat_id", to.ChatID), logx.Err(err))
		return err
	}
	return nil
}
