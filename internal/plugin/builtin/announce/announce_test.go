package announce

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"announcebot/internal/plugin/plugintest"
	"announcebot/internal/transport/telegram/router"
)

const adminID = 1

func setup(t *testing.T) (*plugintest.Harness, func(string), func(string)) {
	t.Helper()
	h := plugintest.New(t, []int64{adminID}, New())
	admin := plugintest.User(adminID, "boss")
	return h, func(s string) { h.Send(admin, s) }, func(data string) { h.Click(admin, data) }
}

func waitEdit(t *testing.T, h *plugintest.Harness, text string) {
	t.Helper()
	require.Eventually(t, func() bool { return h.Out.LastEdit().Text == text }, 2*time.Second, 10*time.Millisecond)
}

func TestAnnounceFlowSends(t *testing.T) {
	t.Parallel()

	h, send, click := setup(t)
	h.Subscribe(t, 10, 11, 12)
	h.Out.Fail = map[int64]bool{12: true}

	send("/announce")
	assert.Equal(t, textPrompt, h.Out.Last(adminID).Text)

	send("Meetup on Friday")
	preview := h.Out.Last(adminID)
	assert.Equal(t, Preview("Meetup on Friday"), preview.Text)
	sendBtn := plugintest.Button(preview.Keyboard, "Send")
	require.NotEmpty(t, sendBtn)

	click(sendBtn)
	waitEdit(t, h, "Announcement sent to 2 users. (1 failed)")
	assert.Equal(t, Message("Meetup on Friday"), h.Out.Last(10).Text)
	assert.Equal(t, Message("Meetup on Friday"), h.Out.Last(11).Text)

	// the same button cannot send twice
	click(sendBtn)
	assert.Len(t, h.Out.To(10), 1)
	assert.Contains(t, h.Out.Answers(), textExpired)
}

func TestAnnounceCancelButton(t *testing.T) {
	t.Parallel()

	h, send, click := setup(t)
	h.Subscribe(t, 10)
	send("/announce")
	send("never mind")
	click(plugintest.Button(h.Out.Last(adminID).Keyboard, "Cancel"))

	assert.Equal(t, textCancelled, h.Out.LastEdit().Text)
	assert.Empty(t, h.Out.To(10))
	_, ok := h.Router.Sessions().Get(router.SessionKey{ChatID: adminID, UserID: adminID})
	assert.False(t, ok)
}

func TestAnnounceStaleButtonAfterRestart(t *testing.T) {
	t.Parallel()

	h, send, click := setup(t)
	h.Subscribe(t, 10)
	send("/announce")
	send("first")
	stale := plugintest.Button(h.Out.Last(adminID).Keyboard, "Send")

	send("/announce")
	send("second")
	click(stale)
	assert.Empty(t, h.Out.To(10))

	click(plugintest.Button(h.Out.Last(adminID).Keyboard, "Send"))
	waitEdit(t, h, "Announcement sent to 1 users. (0 failed)")
	require.Len(t, h.Out.To(10), 1)
	assert.Equal(t, Message("second"), h.Out.To(10)[0].Text)
}

func TestAnnounceRejectsBlankAndNonAdmins(t *testing.T) {
	t.Parallel()

	h, send, _ := setup(t)
	send("/announce")
	send("   ")
	assert.Equal(t, textEmpty, h.Out.Last(adminID).Text)

	send("ok text")
	send("more text")
	assert.Equal(t, textUseButton, h.Out.Last(adminID).Text)

	h.Send(plugintest.User(99, "nobody"), "/announce")
	assert.Equal(t, router.AccessDeniedText, h.Out.Last(99).Text)
}

func TestAnnounceWithoutRecipients(t *testing.T) {
	t.Parallel()

	h, send, click := setup(t)
	send("/announce")
	send("hello")
	click(plugintest.Button(h.Out.Last(adminID).Keyboard, "Send"))

	n, err := h.Store.CountRecipients(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	waitEdit(t, h, "Announcement sent to 0 users. (0 failed)")
}

func TestAnnounceBroadcastLeavesRouterFree(t *testing.T) {
	t.Parallel()

	h, send, click := setup(t)
	h.Subscribe(t, 10, 11)
	release := make(chan struct{})
	h.Out.Hold = map[int64]chan struct{}{10: release}

	send("/announce")
	send("Road closed today")
	click(plugintest.Button(h.Out.Last(adminID).Keyboard, "Send"))
	assert.Equal(t, textSending, h.Out.LastEdit().Text)
	assert.Contains(t, h.Out.Answers(), "Sending…")

	// the broadcast is parked on chat 10; other traffic is still served
	h.Send(plugintest.User(50, "member"), "/help")
	assert.NotEmpty(t, h.Out.Last(50).Text)
	send("/announce")
	assert.Equal(t, textPrompt, h.Out.Last(adminID).Text)
	assert.Empty(t, h.Out.To(10))

	close(release)
	waitEdit(t, h, "Announcement sent to 2 users. (0 failed)")
	assert.Equal(t, Message("Road closed today"), h.Out.Last(10).Text)
}
