package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "announcebot/pkg/logx"
)

func ptr[T any](v T) *T { return &v }

var seed = ScheduleRecord{
	DailyTime:     "09:00",
	DailyMessage:  "Daily community reminder!",
	WeeklyDay:     1,
	WeeklyTime:    "10:00",
	WeeklyMessage: "Weekly community update!",
}

func drivers(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemory() },
		"file": func(t *testing.T) Store {
			st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "bot.json")}, logx.Nop())
			require.NoError(t, err)
			return st
		},
		"sqlite": func(t *testing.T) Store {
			st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
			require.NoError(t, err)
			return st
		},
	}
}

func TestStoreContract(t *testing.T) {
	t.Parallel()

	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			st := open(t)
			t.Cleanup(func() { _ = st.Close() })
			ctx := context.Background()

			t.Run("schedule", func(t *testing.T) {
				_, found, err := st.GetSchedule(ctx)
				require.NoError(t, err)
				assert.False(t, found)

				require.NoError(t, st.PatchSchedule(ctx, seed, SchedulePatch{
					DailyTime:    ptr("07:30"),
					DailyMessage: ptr("Good morning"),
				}))
				rec, found, err := st.GetSchedule(ctx)
				require.NoError(t, err)
				require.True(t, found)
				assert.Equal(t, "07:30", rec.DailyTime)
				assert.Equal(t, "Good morning", rec.DailyMessage)
				assert.Equal(t, 1, rec.WeeklyDay)
				assert.Equal(t, "Weekly community update!", rec.WeeklyMessage)

				// weekly patch leaves daily untouched and ignores the seed
				require.NoError(t, st.PatchSchedule(ctx, seed, SchedulePatch{WeeklyDay: ptr(5), WeeklyTime: ptr("18:00")}))
				rec, _, err = st.GetSchedule(ctx)
				require.NoError(t, err)
				assert.Equal(t, "07:30", rec.DailyTime)
				assert.Equal(t, 5, rec.WeeklyDay)
				assert.Equal(t, "18:00", rec.WeeklyTime)
			})

			t.Run("recipients", func(t *testing.T) {
				created, err := st.UpsertRecipient(ctx, Recipient{UserID: 2, ChatID: 2, Username: "bob"})
				require.NoError(t, err)
				assert.True(t, created)
				created, err = st.UpsertRecipient(ctx, Recipient{UserID: 1, ChatID: 1, FirstName: "Ann"})
				require.NoError(t, err)
				assert.True(t, created)
				created, err = st.UpsertRecipient(ctx, Recipient{UserID: 2, ChatID: 2, Username: "bobby"})
				require.NoError(t, err)
				assert.False(t, created)

				list, err := st.ListRecipients(ctx)
				require.NoError(t, err)
				require.Len(t, list, 2)
				assert.Equal(t, int64(1), list[0].UserID)
				assert.Equal(t, "bobby", list[1].Username)
				assert.False(t, list[1].CreatedAt.IsZero())

				n, err := st.CountRecipients(ctx)
				require.NoError(t, err)
				assert.Equal(t, 2, n)

				removed, err := st.RemoveRecipient(ctx, 1)
				require.NoError(t, err)
				assert.True(t, removed)
				removed, err = st.RemoveRecipient(ctx, 1)
				require.NoError(t, err)
				assert.False(t, removed)

				_, ok, err := st.GetRecipient(ctx, 2)
				require.NoError(t, err)
				assert.True(t, ok)
			})

			t.Run("admins", func(t *testing.T) {
				base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
				created, err := st.AddAdmin(ctx, Admin{UserID: 10, AddedBy: 1, AddedByUsername: "root", AddedAt: base})
				require.NoError(t, err)
				assert.True(t, created)
				created, err = st.AddAdmin(ctx, Admin{UserID: 10, AddedBy: 2})
				require.NoError(t, err)
				assert.False(t, created)
				_, err = st.AddAdmin(ctx, Admin{UserID: 11, AddedBy: 10, AddedAt: base.Add(time.Hour)})
				require.NoError(t, err)

				ok, err := st.IsAdmin(ctx, 10)
				require.NoError(t, err)
				assert.True(t, ok)

				admins, err := st.ListAdmins(ctx)
				require.NoError(t, err)
				require.Len(t, admins, 2)
				assert.Equal(t, int64(10), admins[0].UserID)
				assert.Equal(t, "root", admins[0].AddedByUsername)
				assert.True(t, admins[0].AddedAt.Equal(base))

				removed, err := st.RemoveAdmin(ctx, 10)
				require.NoError(t, err)
				assert.True(t, removed)
				removed, err = st.RemoveAdmin(ctx, 99)
				require.NoError(t, err)
				assert.False(t, removed)
			})

			t.Run("audit", func(t *testing.T) {
				require.NoError(t, st.AppendAudit(ctx, AuditEntry{Action: "schedule.fire", Target: "daily", OK: 2}))
			})
		})
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bot.json")
	ctx := context.Background()

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.PatchSchedule(ctx, seed, SchedulePatch{WeeklyMessage: ptr("see you")}))
	_, err = st.UpsertRecipient(ctx, Recipient{UserID: 7, ChatID: 7})
	require.NoError(t, err)
	require.NoError(t, st.Close())

	st, err = Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	rec, found, err := st.GetSchedule(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "see you", rec.WeeklyMessage)
	n, err := st.CountRecipients(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMemoryRollsBackFailedCommit(t *testing.T) {
	t.Parallel()

	m := &memoryStore{st: newState(), commit: func(state) error { return errors.New("disk full") }}
	_, err := m.UpsertRecipient(context.Background(), Recipient{UserID: 1})
	require.Error(t, err)
	n, err := m.CountRecipients(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestClosedStore(t *testing.T) {
	t.Parallel()

	st := NewMemory()
	require.NoError(t, st.Close())
	_, _, err := st.GetSchedule(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestUnknownDriver(t *testing.T) {
	t.Parallel()

	_, err := Open(Config{Driver: "redis"}, logx.Nop())
	assert.Error(t, err)
}

func TestIsLockError(t *testing.T) {
	t.Parallel()

	assert.False(t, isLockError(nil))
	assert.True(t, isLockError(errors.New("database is locked (5) (SQLITE_BUSY)")))
	assert.False(t, isLockError(errors.New("no such table")))
}
