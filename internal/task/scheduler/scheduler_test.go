package scheduler

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "announcebot/pkg/logx"
)

func noop(context.Context) error { return nil }

func newRunning(t *testing.T, cfg Config) *Service {
	t.Helper()
	s := New(cfg, logx.Nop())
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func TestAddReplacesByName(t *testing.T) {
	t.Parallel()

	s := newRunning(t, Config{Enabled: true, Timezone: "UTC"})
	for i := 0; i < 5; i++ {
		require.NoError(t, s.AddDaily("daily_announcement", "09:00", 0, noop))
		require.NoError(t, s.AddWeekly("weekly_announcement", time.Monday, "10:00", 0, noop))
	}
	entries := s.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "daily_announcement", entries[0].Name)
	assert.Equal(t, "0 9 * * *", entries[0].Spec)
	assert.Equal(t, "weekly_announcement", entries[1].Name)
	assert.Equal(t, "0 10 * * 1", entries[1].Spec)
	assert.False(t, entries[0].Next.IsZero())
}

func TestWeeklyNextOccurrence(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: true, Timezone: "UTC"}, logx.Nop())
	// Wednesday 2026-10-14 12:00 UTC
	from := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

	next, err := s.NextAfter("30 14 * * 1", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 19, 14, 30, 0, 0, time.UTC), next)

	again, err := s.NextAfter("30 14 * * 1", next)
	require.NoError(t, err)
	assert.Equal(t, next.AddDate(0, 0, 7), again)

	daily, err := s.NextAfter("0 9 * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC), daily)
}

func TestDisabledRejectsAdd(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: false}, logx.Nop())
	s.Start(context.Background())
	assert.ErrorIs(t, s.AddDaily("daily_announcement", "09:00", 0, noop), ErrDisabled)
	assert.Empty(t, s.Entries())
}

func TestAddValidates(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: true}, logx.Nop())
	assert.Error(t, s.AddDaily("x", "25:00", 0, noop))
	assert.Error(t, s.AddCron("x", "not a spec", 0, noop))
	assert.Error(t, s.AddCron("", "* * * * *", 0, noop))
	assert.Error(t, s.AddWeekly("x", time.Weekday(9), "10:00", 0, noop))
}

func TestRegisteredBeforeStartIsActivated(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: true}, logx.Nop())
	require.NoError(t, s.AddDaily("daily_announcement", "09:00", 0, noop))
	assert.True(t, s.Entries()[0].Next.IsZero())

	s.Start(context.Background())
	defer s.Stop(context.Background())
	assert.False(t, s.Entries()[0].Next.IsZero())
}

func TestRemove(t *testing.T) {
	t.Parallel()

	s := newRunning(t, Config{Enabled: true})
	require.NoError(t, s.AddDaily("daily_announcement", "09:00", 0, noop))
	assert.True(t, s.Remove("daily_announcement"))
	assert.False(t, s.Remove("daily_announcement"))
	assert.Empty(t, s.Entries())
}

func TestJobFiresAndSurvivesPanic(t *testing.T) {
	t.Parallel()

	s := newRunning(t, Config{Enabled: true})
	var runs atomic.Int32
	require.NoError(t, s.AddCron("tick", "* * * * * *", time.Second, func(ctx context.Context) error {
		if runs.Add(1) == 1 {
			panic("first run explodes")
		}
		return nil
	}))
	require.Eventually(t, func() bool { return runs.Load() >= 2 }, 4*time.Second, 50*time.Millisecond)
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestPanickingJobKeepsFiring(t *testing.T) {
	t.Parallel()

	var out lockedBuffer
	s := New(Config{Enabled: true}, logx.NewWriter(&out, "debug"))
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
	})

	var runs atomic.Int32
	require.NoError(t, s.AddCron("always_panics", "* * * * * *", 0, func(context.Context) error {
		runs.Add(1)
		panic("boom")
	}))
	require.Eventually(t, func() bool { return runs.Load() >= 3 }, 6*time.Second, 50*time.Millisecond)
	assert.True(t, strings.Contains(out.String(), "scheduled job panicked"))
}

func TestApplyTimezoneRestartKeepsEntries(t *testing.T) {
	t.Parallel()

	s := newRunning(t, Config{Enabled: true, Timezone: "UTC"})
	require.NoError(t, s.AddDaily("daily_announcement", "09:00", 0, noop))

	s.Apply(Config{Enabled: true, Timezone: "Asia/Tokyo"})
	assert.Equal(t, "Asia/Tokyo", s.Location().String())
	entries := s.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, 9, entries[0].Next.In(s.Location()).Hour())

	s.Apply(Config{Enabled: false, Timezone: "Asia/Tokyo"})
	assert.True(t, s.Entries()[0].Next.IsZero())
}
