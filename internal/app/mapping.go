package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"announcebot/internal/broadcast"
	"announcebot/internal/config"
	"announcebot/internal/schedule"
	"announcebot/internal/storage"
	"announcebot/internal/task/scheduler"
	logx "announcebot/pkg/logx"
)

const defaultDBPath = "./data/announcebot.db"

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg.Storage == nil {
		return storage.Config{Driver: "sqlite", Path: defaultDBPath}, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "sqlite", "sqlite3":
		if path == "" {
			path = defaultDBPath
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	case "file":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=file")
		}
		return storage.Config{Driver: "file", Path: path}, nil
	case "memory":
		return storage.Config{Driver: "memory"}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// mapScheduleDefaults overlays the configured defaults on the built-in ones.
func mapScheduleDefaults(cfg *config.Config) (schedule.Config, error) {
	out := schedule.Defaults()
	d := cfg.Schedule
	if d == nil {
		return out, nil
	}
	canon := func(key, raw string, dst *string) error {
		if strings.TrimSpace(raw) == "" {
			return nil
		}
		c, err := schedule.ToCanonical(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = c
		return nil
	}
	if err := canon("schedule.daily_time", d.DailyTime, &out.DailyTime); err != nil {
		return schedule.Config{}, err
	}
	if err := canon("schedule.weekly_time", d.WeeklyTime, &out.WeeklyTime); err != nil {
		return schedule.Config{}, err
	}
	if strings.TrimSpace(d.DailyMessage) != "" {
		out.DailyMessage = d.DailyMessage
	}
	if strings.TrimSpace(d.WeeklyMessage) != "" {
		out.WeeklyMessage = d.WeeklyMessage
	}
	if d.WeeklyDay != nil {
		out.WeeklyDay = *d.WeeklyDay
	}
	return out, nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled,
			ThreadID:   l.Telegram.ThreadID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

// groupLogChat parses telegram.group_log. Empty or invalid means no log chat.
func groupLogChat(cfg *config.Config) int64 {
	raw := strings.TrimSpace(cfg.Telegram.GroupLog)
	if raw == "" {
		return 0
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{Enabled: cfg.Scheduler.Enabled, Timezone: cfg.Scheduler.Timezone}
}

func mapBroadcastConfig(cfg *config.Config) (broadcast.Config, error) {
	s, err := cfg.Broadcast.Resolve()
	if err != nil {
		return broadcast.Config{}, err
	}
	return broadcast.Config{Workers: s.Workers, RatePerSec: s.RatePerSec, SendTimeout: s.SendTimeout}, nil
}

func draftTTL(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("conversation.draft_ttl", cfg.Conversation.DraftTTL, 0)
}

// validateRuntime rejects configs whose values only fail once mapped.
func validateRuntime(cfg *config.Config) error {
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapScheduleDefaults(cfg); err != nil {
		return err
	}
	if raw := strings.TrimSpace(cfg.Telegram.GroupLog); raw != "" && groupLogChat(cfg) == 0 {
		return fmt.Errorf("telegram.group_log: %q is not a chat id", raw)
	}
	return nil
}
