package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"announcebot/internal/plugin"
	"announcebot/internal/plugin/plugintest"
	sched "announcebot/internal/schedule"
	"announcebot/internal/transport/telegram/router"
)

const adminID = 1

func specs(h *plugintest.Harness) map[sched.Kind]string {
	out := map[sched.Kind]string{}
	for _, j := range h.Jobs.Jobs() {
		out[j.Kind] = j.Spec
	}
	return out
}

func TestWeeklyScheduleConversation(t *testing.T) {
	t.Parallel()

	h := plugintest.New(t, []int64{adminID}, New())
	admin := plugintest.User(adminID, "boss")

	h.Send(admin, "/setschedule")
	first := h.Out.Last(adminID)
	assert.Equal(t, sched.PromptChooseType, first.Text)

	h.Click(admin, plugintest.Button(first.Keyboard, "Weekly Announcement"))
	assert.Contains(t, h.Out.LastEdit().Text, "Weekly Announcement")

	h.Send(admin, "Team sync tonight")
	assert.Contains(t, h.Out.Last(adminID).Text, "Please enter the time for the weekly announcement")

	h.Send(admin, "25:00")
	assert.Equal(t, sched.RejectTime, h.Out.Last(adminID).Text)

	h.Send(admin, "6:30 PM")
	days := h.Out.Last(adminID)
	assert.Equal(t, sched.PromptWeekday, days.Text)

	h.Click(admin, plugintest.Button(days.Keyboard, "Sunday"))
	summary := h.Out.LastEdit()
	assert.Contains(t, summary.Text, "📆 Day: Sunday")
	assert.Contains(t, summary.Text, "⏰ Time: 6:30 PM")

	h.Click(admin, plugintest.Button(summary.Keyboard, "✅ Confirm"))
	assert.Equal(t, sched.OutcomeSaved.Text(), h.Out.LastEdit().Text)

	cfg, err := h.Schedule.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "18:30", cfg.WeeklyTime)
	assert.Equal(t, 0, cfg.WeeklyDay)
	assert.Equal(t, "Team sync tonight", cfg.WeeklyMessage)

	got := specs(h)
	assert.Len(t, got, 2)
	assert.Equal(t, "30 18 * * 0", got[sched.KindWeekly])
	assert.Equal(t, "0 9 * * *", got[sched.KindDaily])

	_, ok := h.Router.Sessions().Get(router.SessionKey{ChatID: adminID, UserID: adminID})
	assert.False(t, ok)
}

func TestDailyScheduleAbort(t *testing.T) {
	t.Parallel()

	h := plugintest.New(t, []int64{adminID}, New())
	admin := plugintest.User(adminID, "boss")

	h.Send(admin, "/schedule")
	h.Click(admin, plugintest.Button(h.Out.Last(adminID).Keyboard, "Daily Announcement"))
	h.Send(admin, "Good morning")
	h.Send(admin, "07:15")
	summary := h.Out.Last(adminID)
	require.NotEmpty(t, summary.Keyboard)

	h.Click(admin, plugintest.Button(summary.Keyboard, "❌ Cancel"))
	assert.Equal(t, sched.TextAborted, h.Out.LastEdit().Text)

	cfg, err := h.Schedule.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sched.Defaults(), cfg)
}

func TestStaleButtonsAreRejected(t *testing.T) {
	t.Parallel()

	h := plugintest.New(t, []int64{adminID}, New())
	admin := plugintest.User(adminID, "boss")

	h.Send(admin, "/setschedule")
	old := plugintest.Button(h.Out.Last(adminID).Keyboard, "Daily Announcement")
	h.Send(admin, "/setschedule")

	h.Click(admin, old)
	assert.Contains(t, h.Out.Answers(), textExpired)
	assert.Empty(t, h.Out.Edits())

	// another user cannot drive the admin's conversation
	h.Click(plugintest.User(2, "intruder"), old)
	assert.Empty(t, h.Out.Edits())
}

func TestCancelEndsConversation(t *testing.T) {
	t.Parallel()

	h := plugintest.New(t, []int64{adminID}, New())
	admin := plugintest.User(adminID, "boss")

	h.Send(admin, "/setschedule")
	h.Send(admin, "/cancel")
	assert.Equal(t, router.CancelText, h.Out.Last(adminID).Text)

	n := len(h.Out.To(adminID))
	h.Send(admin, "some text")
	assert.Len(t, h.Out.To(adminID), n)
}

func TestCancelMidConversationKeepsSchedule(t *testing.T) {
	t.Parallel()

	h := plugintest.New(t, []int64{adminID}, New())
	admin := plugintest.User(adminID, "boss")

	h.Send(admin, "/setschedule")
	h.Click(admin, plugintest.Button(h.Out.Last(adminID).Keyboard, "Weekly Announcement"))
	h.Send(admin, "Half-written message")
	n := len(h.Out.To(adminID))

	h.Send(admin, "/cancel")
	require.Len(t, h.Out.To(adminID), n+1)
	assert.Equal(t, sched.TextCancelled, h.Out.Last(adminID).Text)

	_, ok := h.Router.Sessions().Get(router.SessionKey{ChatID: adminID, UserID: adminID})
	assert.False(t, ok)
	cfg, err := h.Schedule.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sched.Defaults(), cfg)

	h.Send(admin, "07:15")
	assert.Len(t, h.Out.To(adminID), n+1)
}

func TestFormatSchedule(t *testing.T) {
	t.Parallel()

	cfg := sched.Defaults()
	next := time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)
	out := FormatSchedule(cfg, []plugin.JobInfo{{Kind: sched.KindWeekly, Spec: "0 10 * * 1", Next: next}})

	assert.Contains(t, out, "Daily at 9:00 AM (not active)")
	assert.Contains(t, out, "Weekly on Monday at 10:00 AM (next run Mon 2024-06-03 10:00 UTC)")
	assert.Contains(t, out, cfg.DailyMessage)
}

func TestShowSchedulesRequiresAdmin(t *testing.T) {
	t.Parallel()

	h := plugintest.New(t, []int64{adminID}, New())
	h.Send(plugintest.User(adminID, "boss"), "/schedules")
	assert.Contains(t, h.Out.Last(adminID).Text, "Daily at 9:00 AM (active)")

	h.Send(plugintest.User(7, "x"), "/schedules")
	assert.Equal(t, router.AccessDeniedText, h.Out.Last(7).Text)
}
