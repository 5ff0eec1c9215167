package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "announcebot/pkg/logx"
)

// AddCron registers job under name, replacing any trigger with that name.
// timeout bounds a single run; 0 means unbounded.
func (s *Service) AddCron(name, spec string, timeout time.Duration, job Job) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if job == nil {
		return errors.New("job required")
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("parse spec %q: %w", spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled {
		return ErrDisabled
	}
	s.removeLocked(name)
	d := &scheduleDef{name: name, spec: spec, timeout: timeout, job: job}
	s.defs[name] = d
	if s.c == nil {
		// registered on Start
		return nil
	}
	if err := s.addCronLocked(d); err != nil {
		delete(s.defs, name)
		return err
	}
	args := []logx.Field{logx.String("name", name), logx.String("spec", spec)}
	if next := s.previewNextRunsLocked(spec, 3); next != "" {
		args = append(args, logx.String("next", next))
	}
	s.log.Debug("schedule registered", args...)
	return nil
}

// AddDaily fires every day at hhmm in the scheduler timezone.
func (s *Service) AddDaily(name, hhmm string, timeout time.Duration, job Job) error {
	h, m, err := parseHHMM(hhmm)
	if err != nil {
		return err
	}
	return s.AddCron(name, fmt.Sprintf("%d %d * * *", m, h), timeout, job)
}

// AddWeekly fires on weekday at hhmm in the scheduler timezone.
func (s *Service) AddWeekly(name string, weekday time.Weekday, hhmm string, timeout time.Duration, job Job) error {
	h, m, err := parseHHMM(hhmm)
	if err != nil {
		return err
	}
	if weekday < time.Sunday || weekday > time.Saturday {
		return fmt.Errorf("invalid weekday %d", weekday)
	}
	return s.AddCron(name, fmt.Sprintf("%d %d * * %d", m, h, int(weekday)), timeout, job)
}

// Remove unregisters name. It reports whether anything was removed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := s.removeLocked(strings.TrimSpace(name))
	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

func (s *Service) removeLocked(name string) bool {
	d, ok := s.defs[name]
	if !ok {
		return false
	}
	if s.c != nil && d.entryID != 0 {
		s.c.Remove(d.entryID)
	}
	delete(s.defs, name)
	return true
}

// Entries lists registered triggers sorted by name. Next and Prev are zero
// while the scheduler is not running.
func (s *Service) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.defs))
	for _, d := range s.defs {
		e := Entry{Name: d.name, Spec: d.spec}
		if s.c != nil && d.entryID != 0 {
			ce := s.c.Entry(d.entryID)
			e.Next, e.Prev = ce.Next, ce.Prev
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// NextAfter computes the next fire time of spec after t in the scheduler timezone.
func (s *Service) NextAfter(spec string, t time.Time) (time.Time, error) {
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(t.In(s.Location())), nil
}

func (s *Service) addCronLocked(d *scheduleDef) error {
	ctx := s.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	name, timeout, job := d.name, d.timeout, d.job
	log := s.log
	eid, err := s.c.AddJob(d.spec, cron.FuncJob(func() {
		runCtx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				log.Error("scheduled job panicked", logx.String("name", name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			}
		}()
		if err := job(runCtx); err != nil {
			log.Warn("scheduled job failed", logx.String("name", name), logx.Duration("took", time.Since(start)), logx.Err(err))
			return
		}
		log.Debug("scheduled job done", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}))
	if err != nil {
		return err
	}
	d.entryID = eid
	return nil
}

// previewNextRunsLocked lists upcoming fire times for debug logging.
func (s *Service) previewNextRunsLocked(spec string, n int) string {
	if !s.log.Enabled(logx.LevelDebug) {
		return ""
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return ""
	}
	t := time.Now().In(s.loc)
	parts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		parts = append(parts, t.Format("2006-01-02 15:04"))
	}
	return strings.Join(parts, ", ")
}

func parseHHMM(s string) (hour, minute int, err error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	hour, err = strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err = strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return hour, minute, nil
}
