package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"announcebot/internal/broadcast"
	"announcebot/internal/eventbus"
	"announcebot/internal/schedule"
	"announcebot/internal/storage"
	"announcebot/internal/task/scheduler"
	kit "announcebot/internal/transport"
	logx "announcebot/pkg/logx"
)

type recordingBroadcaster struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (b *recordingBroadcaster) Broadcast(_ context.Context, text string, _ *kit.SendOptions) (broadcast.Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.texts = append(b.texts, text)
	if b.err != nil {
		return broadcast.Result{}, b.err
	}
	return broadcast.Result{Success: 3, Failure: 1}, nil
}

type staticSource struct {
	cfg schedule.Config
	err error
}

func (s staticSource) Current(context.Context) (schedule.Config, error) { return s.cfg, s.err }

func newFixture(t *testing.T, enabled bool) (*Registry, *schedule.Service, *scheduler.Service, *recordingBroadcaster, storage.Store) {
	t.Helper()
	st := storage.NewMemory()
	svc := schedule.NewService(st, schedule.Config{}, nil, logx.Nop())
	require.NoError(t, svc.EnsureDefaults(context.Background()))
	sch := scheduler.New(scheduler.Config{Enabled: enabled, Timezone: "UTC"}, logx.Nop())
	sch.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		sch.Stop(ctx)
	})
	bc := &recordingBroadcaster{}
	return New(svc, sch, bc, st, eventbus.New(), logx.Nop()), svc, sch, bc, st
}

func TestReinstallKeepsExactlyTwoJobs(t *testing.T) {
	t.Parallel()

	reg, svc, sch, _, _ := newFixture(t, true)
	ctx := context.Background()
	require.NoError(t, reg.Install(ctx))
	for i := 0; i < 10; i++ {
		require.NoError(t, svc.Apply(ctx, schedule.Update{Kind: schedule.KindDaily, Message: "m", Time: "07:15"}))
		require.True(t, reg.Reinstall(ctx))
	}

	entries := sch.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "daily_announcement", entries[0].Name)
	assert.Equal(t, "15 7 * * *", entries[0].Spec)
	assert.Equal(t, "weekly_announcement", entries[1].Name)
	assert.Equal(t, "0 10 * * 1", entries[1].Spec)

	jobs := reg.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, schedule.KindDaily, jobs[0].Kind)
	assert.False(t, jobs[0].Next.IsZero())
}

func TestWeeklyDayChangeMovesTrigger(t *testing.T) {
	t.Parallel()

	reg, svc, sch, _, _ := newFixture(t, true)
	ctx := context.Background()
	require.NoError(t, reg.Install(ctx))
	require.NoError(t, svc.Apply(ctx, schedule.Update{Kind: schedule.KindWeekly, Message: "w", Time: "18:30", Day: 0}))
	require.True(t, reg.Reinstall(ctx))

	entries := sch.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "30 18 * * 0", entries[1].Spec)
}

func TestFireUsesLatestMessage(t *testing.T) {
	t.Parallel()

	reg, svc, _, bc, _ := newFixture(t, true)
	ctx := context.Background()
	require.NoError(t, reg.Install(ctx))
	require.NoError(t, svc.Apply(ctx, schedule.Update{Kind: schedule.KindDaily, Message: "fresh text", Time: "09:00"}))

	res, err := reg.Fire(ctx, schedule.KindDaily)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Success)

	_, err = reg.Fire(ctx, schedule.KindWeekly)
	require.NoError(t, err)

	assert.Equal(t, []string{"fresh text", schedule.Defaults().WeeklyMessage}, bc.texts)
}

func TestFireReportsBroadcastError(t *testing.T) {
	t.Parallel()

	reg, _, _, bc, _ := newFixture(t, true)
	bc.err = errors.New("directory down")
	_, err := reg.Fire(context.Background(), schedule.KindDaily)
	require.Error(t, err)
}

func TestInstallFailsWhenSchedulerDisabled(t *testing.T) {
	t.Parallel()

	reg, _, sch, _, _ := newFixture(t, false)
	err := reg.Install(context.Background())
	require.ErrorIs(t, err, scheduler.ErrDisabled)
	assert.False(t, reg.Reinstall(context.Background()))
	assert.Empty(t, sch.Entries())
}

func TestInstallKeepsJobsWhenConfigUnreadable(t *testing.T) {
	t.Parallel()

	sch := scheduler.New(scheduler.Config{Enabled: true, Timezone: "UTC"}, logx.Nop())
	good := New(staticSource{cfg: schedule.Defaults()}, sch, &recordingBroadcaster{}, nil, nil, logx.Nop())
	require.NoError(t, good.Install(context.Background()))

	bad := New(staticSource{err: errors.New("db gone")}, sch, &recordingBroadcaster{}, nil, nil, logx.Nop())
	assert.False(t, bad.Reinstall(context.Background()))
	assert.Len(t, sch.Entries(), 2)
}

func TestInstallDropsBothJobsWhenWeeklyRejected(t *testing.T) {
	t.Parallel()

	sch := scheduler.New(scheduler.Config{Enabled: true, Timezone: "UTC"}, logx.Nop())
	good := New(staticSource{cfg: schedule.Defaults()}, sch, &recordingBroadcaster{}, nil, nil, logx.Nop())
	require.NoError(t, good.Install(context.Background()))
	require.Len(t, sch.Entries(), 2)

	cfg := schedule.Defaults()
	cfg.DailyTime = "06:00"
	cfg.WeeklyDay = 9
	bad := New(staticSource{cfg: cfg}, sch, &recordingBroadcaster{}, nil, nil, logx.Nop())
	err := bad.Install(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "weekly_announcement")
	assert.Empty(t, sch.Entries())
	assert.Empty(t, bad.Jobs())
}
