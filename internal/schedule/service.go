package schedule

import (
	"context"
	"fmt"
	"time"

	"announcebot/internal/eventbus"
	"announcebot/internal/storage"
	logx "announcebot/pkg/logx"
)

// Rescheduler reinstalls the announcement triggers from the stored config.
type Rescheduler interface {
	Reinstall(ctx context.Context) bool
}

// Outcome is the user-visible result of committing a change.
type Outcome int

const (
	OutcomeSaved Outcome = iota
	OutcomeSavedNotActive
	OutcomeNotSaved
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSaved:
		return "saved"
	case OutcomeSavedNotActive:
		return "saved_not_active"
	default:
		return "not_saved"
	}
}

// Text is the message shown to the operator for o.
func (o Outcome) Text() string {
	switch o {
	case OutcomeSaved:
		return "✅ Schedule settings updated successfully!"
	case OutcomeSavedNotActive:
		return "⚠️ Settings saved but failed to reschedule jobs. Please restart the bot to apply changes."
	default:
		return "❌ Failed to update schedule settings. Please try again later."
	}
}

// Service owns the schedule singleton.
type Service struct {
	store    storage.ScheduleStore
	defaults Config
	bus      eventbus.Bus
	log      logx.Logger
}

// NewService builds a Service. A zero defaults value means Defaults().
func NewService(store storage.ScheduleStore, defaults Config, bus eventbus.Bus, log logx.Logger) *Service {
	if defaults == (Config{}) {
		defaults = Defaults()
	}
	return &Service{store: store, defaults: defaults, bus: bus, log: log.With(logx.String("comp", "schedule"))}
}

func (s *Service) Defaults() Config { return s.defaults }

// Current returns the stored config, or the defaults when nothing is stored.
func (s *Service) Current(ctx context.Context) (Config, error) {
	rec, found, err := s.store.GetSchedule(ctx)
	if err != nil {
		return Config{}, fmt.Errorf("read schedule: %w", err)
	}
	if !found {
		return s.defaults, nil
	}
	return fromRecord(rec), nil
}

// EnsureDefaults stores the defaults if no schedule exists yet.
func (s *Service) EnsureDefaults(ctx context.Context) error {
	_, found, err := s.store.GetSchedule(ctx)
	if err != nil {
		return fmt.Errorf("read schedule: %w", err)
	}
	if found {
		return nil
	}
	if err := s.store.PatchSchedule(ctx, s.defaults.record(), storage.SchedulePatch{}); err != nil {
		return fmt.Errorf("seed schedule: %w", err)
	}
	s.log.Info("schedule seeded with defaults")
	return nil
}

// Apply validates u and writes only the fields of u.Kind.
func (s *Service) Apply(ctx context.Context, u Update) error {
	if err := u.Validate(); err != nil {
		return err
	}
	if err := s.store.PatchSchedule(ctx, s.defaults.record(), u.patch()); err != nil {
		return fmt.Errorf("write %s schedule: %w", u.Kind, err)
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeScheduleUpdated, Data: u.Kind.String()})
	}
	return nil
}

// Commit applies u and then reinstalls the triggers. A failed write skips
// the reinstall.
func (s *Service) Commit(ctx context.Context, u Update, r Rescheduler) Outcome {
	start := time.Now()
	if err := s.Apply(ctx, u); err != nil {
		s.log.Error("schedule update failed", logx.String("kind", u.Kind.String()), logx.Err(err))
		return OutcomeNotSaved
	}
	if r == nil || !r.Reinstall(ctx) {
		s.log.Warn("schedule saved but reinstall failed", logx.String("kind", u.Kind.String()))
		return OutcomeSavedNotActive
	}
	s.log.Info("schedule updated",
		logx.String("kind", u.Kind.String()),
		logx.String("time", u.Time),
		logx.Duration("took", time.Since(start)),
	)
	return OutcomeSaved
}
