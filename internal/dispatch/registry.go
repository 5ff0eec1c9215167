// Package dispatch keeps the daily and weekly announcement triggers in step
// with the stored schedule and runs the broadcast when one fires.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"announcebot/internal/broadcast"
	"announcebot/internal/eventbus"
	"announcebot/internal/schedule"
	"announcebot/internal/storage"
	"announcebot/internal/task/scheduler"
	kit "announcebot/internal/transport"
	logx "announcebot/pkg/logx"
)

// Triggers is the scheduling facility. Adding a name that exists replaces it.
type Triggers interface {
	AddDaily(name, hhmm string, timeout time.Duration, job scheduler.Job) error
	AddWeekly(name string, weekday time.Weekday, hhmm string, timeout time.Duration, job scheduler.Job) error
	Remove(name string) bool
	Entries() []scheduler.Entry
}

type ConfigSource interface {
	Current(ctx context.Context) (schedule.Config, error)
}

type Broadcaster interface {
	Broadcast(ctx context.Context, text string, opt *kit.SendOptions) (broadcast.Result, error)
}

type Auditor interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

// Registry owns the "daily_announcement" and "weekly_announcement" jobs.
type Registry struct {
	mu sync.Mutex // serializes Install

	src      ConfigSource
	triggers Triggers
	bc       Broadcaster
	audit    Auditor
	bus      eventbus.Bus
	log      logx.Logger
}

func New(src ConfigSource, triggers Triggers, bc Broadcaster, audit Auditor, bus eventbus.Bus, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{
		src:      src,
		triggers: triggers,
		bc:       bc,
		audit:    audit,
		bus:      bus,
		log:      log.With(logx.String("comp", "dispatch")),
	}
}

// Install registers both jobs from the current config. Each name is replaced
// in place, so a stale trigger never fires after Install returns.
func (r *Registry) Install(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg, err := r.src.Current(ctx)
	if err != nil {
		return fmt.Errorf("load schedule: %w", err)
	}
	if err := r.triggers.AddDaily(schedule.KindDaily.JobName(), cfg.DailyTime, 0, r.job(schedule.KindDaily)); err != nil {
		return fmt.Errorf("install %s: %w", schedule.KindDaily.JobName(), err)
	}
	if err := r.triggers.AddWeekly(schedule.KindWeekly.JobName(), time.Weekday(cfg.WeeklyDay), cfg.WeeklyTime, 0, r.job(schedule.KindWeekly)); err != nil {
		// both or neither: the previous weekly trigger would fire on a stale schedule
		r.triggers.Remove(schedule.KindDaily.JobName())
		r.triggers.Remove(schedule.KindWeekly.JobName())
		return fmt.Errorf("install %s: %w", schedule.KindWeekly.JobName(), err)
	}
	r.log.Info("announcement jobs installed",
		logx.String("daily", cfg.DailyTime),
		logx.String("weekly", fmt.Sprintf("%s %s", schedule.DayName(cfg.WeeklyDay), cfg.WeeklyTime)),
	)
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: eventbus.TypeJobsInstalled})
	}
	return nil
}

// Reinstall is Install reporting success as a bool. Failures are logged and
// not retried.
func (r *Registry) Reinstall(ctx context.Context) bool {
	if err := r.Install(ctx); err != nil {
		r.log.Error("reinstall failed", logx.Err(err))
		return false
	}
	return true
}

// JobInfo describes an installed announcement job.
type JobInfo struct {
	Kind schedule.Kind
	Spec string
	Next time.Time
}

// Jobs lists the installed announcement jobs.
func (r *Registry) Jobs() []JobInfo {
	var out []JobInfo
	for _, e := range r.triggers.Entries() {
		for _, k := range []schedule.Kind{schedule.KindDaily, schedule.KindWeekly} {
			if e.Name == k.JobName() {
				out = append(out, JobInfo{Kind: k, Spec: e.Spec, Next: e.Next})
			}
		}
	}
	return out
}

func (r *Registry) job(kind schedule.Kind) scheduler.Job {
	return func(ctx context.Context) error {
		_, err := r.Fire(ctx, kind)
		return err
	}
}

// Fire broadcasts the latest stored message for kind.
func (r *Registry) Fire(ctx context.Context, kind schedule.Kind) (broadcast.Result, error) {
	start := time.Now()
	cfg, err := r.src.Current(ctx)
	if err != nil {
		r.log.Error("fire skipped: schedule unreadable", logx.String("job", kind.JobName()), logx.Err(err))
		return broadcast.Result{}, err
	}
	msg := cfg.Message(kind)
	res, err := r.bc.Broadcast(ctx, msg, nil)

	entry := storage.AuditEntry{
		Action: "schedule.fire",
		Target: kind.JobName(),
		OK:     res.Success,
		Fail:   res.Failure,
		TookMS: time.Since(start).Milliseconds(),
	}
	if err != nil {
		entry.Error = err.Error()
		r.log.Error("scheduled broadcast failed", logx.String("job", kind.JobName()), logx.Err(err))
	} else {
		r.log.Info("scheduled broadcast sent",
			logx.String("job", kind.JobName()),
			logx.Int("ok", res.Success),
			logx.Int("failed", res.Failure),
		)
	}
	if r.audit != nil {
		if aerr := r.audit.AppendAudit(ctx, entry); aerr != nil {
			r.log.Warn("audit append failed", logx.Err(aerr))
		}
	}
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: eventbus.TypeJobFired, Data: entry})
	}
	return res, err
}
