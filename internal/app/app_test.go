package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"announcebot/internal/config"
	"announcebot/internal/eventbus"
	"announcebot/internal/schedule"
	logx "announcebot/pkg/logx"
)

const testConfig = `
telegram:
  token: "123:abc"
  owner_user_ids: [1]
logging:
  level: error
  console: true
scheduler:
  enabled: false
  timezone: UTC
schedule:
  daily_time: "8:30 AM"
  weekly_day: 5
conversation:
  draft_ttl: 10m
storage:
  driver: memory
`

func newTestApp(t *testing.T) *App {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o600))
	a, err := NewApp(context.Background(), Options{ConfigPath: path, Offline: true})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		a.cron.Stop(ctx)
		_ = a.tasks.Stop(ctx)
		_ = a.store.Close()
		_ = a.logs.Close()
	})
	return a
}

func TestNewAppSeedsConfiguredDefaults(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)
	cfg, err := a.schedule.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "08:30", cfg.DailyTime)
	assert.Equal(t, 5, cfg.WeeklyDay)
	assert.Equal(t, schedule.Defaults().WeeklyTime, cfg.WeeklyTime)
}

func TestApplyConfigReloadsLiveComponents(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)
	ctx := context.Background()
	prev := a.cfgm.Get()
	assert.Empty(t, a.jobs.Jobs())
	assert.False(t, a.router.IsAdmin(ctx, 2))

	next := *prev
	next.Telegram.OwnerUserIDs = []int64{2}
	next.Scheduler.Enabled = true
	got := a.applyConfig(ctx, prev, &next)

	assert.Same(t, &next, got)
	assert.True(t, a.router.IsAdmin(ctx, 2))
	assert.False(t, a.router.IsAdmin(ctx, 1))
	assert.True(t, a.cron.Enabled())
	assert.Len(t, a.jobs.Jobs(), 2)
}

func TestApplyConfigKeepsTokenOverride(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)
	a.token = "override"
	prev := *a.cfgm.Get()
	prev.Telegram.Token = "override"

	next := prev
	next.Telegram.Token = "from-file"
	got := a.applyConfig(context.Background(), &prev, &next)
	assert.Equal(t, "override", got.Telegram.Token)
}

func TestReportDroppedWarnsOnNewLosses(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)
	var buf bytes.Buffer
	a.log = logx.NewWriter(&buf, "warn")

	_, unsub := a.bus.Subscribe(1)
	defer unsub()
	for i := 0; i < 3; i++ {
		a.bus.Publish(eventbus.Event{Type: eventbus.TypeJobFired})
	}

	seen := a.reportDropped(0)
	assert.EqualValues(t, 2, seen)
	assert.Contains(t, buf.String(), "eventbus dropped events")
	assert.Contains(t, buf.String(), `"dropped":2`)

	buf.Reset()
	assert.EqualValues(t, 2, a.reportDropped(seen))
	assert.Zero(t, buf.Len())
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()

	sc, err := mapStorageConfig(&config.Config{})
	require.NoError(t, err)
	assert.Equal(t, "sqlite", sc.Driver)
	assert.Equal(t, defaultDBPath, sc.Path)

	sc, err = mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "sqlite", Path: "x.db", BusyTimeout: "3s"}})
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, sc.BusyTimeout)

	_, err = mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "file"}})
	assert.Error(t, err)
	_, err = mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "redis"}})
	assert.Error(t, err)
}

func TestMapScheduleDefaults(t *testing.T) {
	t.Parallel()

	got, err := mapScheduleDefaults(&config.Config{})
	require.NoError(t, err)
	assert.Equal(t, schedule.Defaults(), got)

	got, err = mapScheduleDefaults(&config.Config{Schedule: &config.ScheduleDefaults{WeeklyTime: "18:05", WeeklyMessage: "Sync"}})
	require.NoError(t, err)
	assert.Equal(t, "18:05", got.WeeklyTime)
	assert.Equal(t, "Sync", got.WeeklyMessage)
	assert.Equal(t, schedule.Defaults().DailyMessage, got.DailyMessage)

	_, err = mapScheduleDefaults(&config.Config{Schedule: &config.ScheduleDefaults{DailyTime: "25:00"}})
	assert.ErrorIs(t, err, schedule.ErrInvalidTime)
}

func TestValidateRuntime(t *testing.T) {
	t.Parallel()

	assert.NoError(t, validateRuntime(&config.Config{Telegram: config.TelegramConfig{GroupLog: "-100123"}}))
	assert.Error(t, validateRuntime(&config.Config{Telegram: config.TelegramConfig{GroupLog: "logs"}}))
	assert.Equal(t, int64(-100123), groupLogChat(&config.Config{Telegram: config.TelegramConfig{GroupLog: " -100123 "}}))
}
