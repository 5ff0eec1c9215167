package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Telegram     TelegramConfig     `json:"telegram"`
	Logging      LoggingConfig      `json:"logging"`
	Scheduler    SchedulerConfig    `json:"scheduler"`
	Schedule     *ScheduleDefaults  `json:"schedule,omitempty"`
	Broadcast    BroadcastConfig    `json:"broadcast"`
	Conversation ConversationConfig `json:"conversation"`
	Storage      *StorageConfig     `json:"storage,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	GroupLog     string  `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// SchedulerConfig controls the cron runner that fires announcements.
type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"`
}

// ScheduleDefaults overrides the values seeded when no schedule is stored yet.
// Empty fields keep the built-in defaults.
type ScheduleDefaults struct {
	DailyTime     string `json:"daily_time,omitempty"`
	DailyMessage  string `json:"daily_message,omitempty"`
	WeeklyDay     *int   `json:"weekly_day,omitempty"`
	WeeklyTime    string `json:"weekly_time,omitempty"`
	WeeklyMessage string `json:"weekly_message,omitempty"`
}

// BroadcastConfig tunes the fan-out of announcements.
//
// Defaults: workers 4, rate_per_sec 25, send_timeout "30s". send_timeout "0s"
// disables the per-recipient timeout.
type BroadcastConfig struct {
	Workers     int    `json:"workers,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	SendTimeout string `json:"send_timeout,omitempty"`
}

type ConversationConfig struct {
	// DraftTTL expires idle conversations. "0s" or empty keeps them forever.
	DraftTTL string `json:"draft_ttl,omitempty"`
}

// StorageConfig selects the persistence driver.
//
//	"storage": { "driver": "sqlite", "path": "./data/announcebot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

const (
	DefaultBroadcastWorkers = 4
	DefaultBroadcastRate    = 25
	DefaultSendTimeout      = 30 * time.Second
	DefaultPollTimeout      = 10 * time.Second
)

// BroadcastSettings is BroadcastConfig with defaults applied.
type BroadcastSettings struct {
	Workers     int
	RatePerSec  int
	SendTimeout time.Duration
}

func (c BroadcastConfig) Resolve() (BroadcastSettings, error) {
	out := BroadcastSettings{Workers: c.Workers, RatePerSec: c.RatePerSec, SendTimeout: DefaultSendTimeout}
	if out.Workers <= 0 {
		out.Workers = DefaultBroadcastWorkers
	}
	if out.RatePerSec <= 0 {
		out.RatePerSec = DefaultBroadcastRate
	}
	if strings.TrimSpace(c.SendTimeout) != "" {
		d, err := ParseDurationField("broadcast.send_timeout", c.SendTimeout)
		if err != nil {
			return BroadcastSettings{}, err
		}
		out.SendTimeout = d
	}
	return out, nil
}

// Validate checks the fields that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if _, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Broadcast.Resolve(); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("conversation.draft_ttl", c.Conversation.DraftTTL); err != nil {
		errs = append(errs, err)
	}
	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	if d := c.Schedule; d != nil && d.WeeklyDay != nil && (*d.WeeklyDay < 0 || *d.WeeklyDay > 6) {
		errs = append(errs, fmt.Errorf("schedule.weekly_day: %d out of range 0..6", *d.WeeklyDay))
	}
	if s := c.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "sqlite", "file", "memory":
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
