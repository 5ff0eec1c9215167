// Package plugintest runs plugins against an in-memory bot for tests.
package plugintest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"announcebot/internal/broadcast"
	"announcebot/internal/dispatch"
	"announcebot/internal/eventbus"
	"announcebot/internal/plugin"
	"announcebot/internal/runtime/supervisor"
	"announcebot/internal/schedule"
	"announcebot/internal/storage"
	"announcebot/internal/task/scheduler"
	kit "announcebot/internal/transport"
	"announcebot/internal/transport/telegram/router"
	logx "announcebot/pkg/logx"
)

type Sent struct {
	To       kit.ChatTarget
	Text     string
	Keyboard kit.Keyboard
}

type Edit struct {
	Ref      kit.MessageRef
	Text     string
	Keyboard kit.Keyboard
}

// Messenger records outbound traffic. Chats listed in Fail reject sends.
// Sends to a chat in Hold wait until its channel is closed.
type Messenger struct {
	mu      sync.Mutex
	sent    []Sent
	edits   []Edit
	answers []string
	Fail    map[int64]bool
	Hold    map[int64]chan struct{}
}

func (m *Messenger) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	m.mu.Lock()
	hold := m.Hold[to.ChatID]
	m.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return kit.MessageRef{}, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail[to.ChatID] {
		return kit.MessageRef{}, fmt.Errorf("chat %d: blocked", to.ChatID)
	}
	s := Sent{To: to, Text: text}
	if opt != nil {
		s.Keyboard = opt.Keyboard
	}
	m.sent = append(m.sent, s)
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: len(m.sent)}, nil
}

func (m *Messenger) EditText(_ context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := Edit{Ref: ref, Text: text}
	if opt != nil {
		e.Keyboard = opt.Keyboard
	}
	m.edits = append(m.edits, e)
	return nil
}

func (m *Messenger) AnswerCallback(_ context.Context, _ string, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.answers = append(m.answers, text)
	return nil
}

// To returns the texts sent to chatID in order.
func (m *Messenger) To(chatID int64) []Sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Sent
	for _, s := range m.sent {
		if s.To.ChatID == chatID {
			out = append(out, s)
		}
	}
	return out
}

// Last returns the most recent message sent to chatID.
func (m *Messenger) Last(chatID int64) Sent {
	all := m.To(chatID)
	if len(all) == 0 {
		return Sent{}
	}
	return all[len(all)-1]
}

func (m *Messenger) Edits() []Edit {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Edit(nil), m.edits...)
}

// LastEdit returns the most recent edit or a zero Edit.
func (m *Messenger) LastEdit() Edit {
	e := m.Edits()
	if len(e) == 0 {
		return Edit{}
	}
	return e[len(e)-1]
}

func (m *Messenger) Answers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.answers...)
}

// Harness is a bot with an in-memory store and a stopped scheduler.
type Harness struct {
	Out      *Messenger
	Store    storage.Store
	Schedule *schedule.Service
	Cron     *scheduler.Service
	Jobs     *dispatch.Registry
	Exec     *broadcast.Executor
	Bus      eventbus.Bus
	Router   *router.Router
	// Tasks runs background work started by plugins.
	Tasks *supervisor.Supervisor
}

// New initialises plugins and registers their routes. Users in owners are
// always admins.
func New(t testing.TB, owners []int64, plugins ...plugin.Plugin) *Harness {
	t.Helper()
	ctx := context.Background()
	log := logx.Nop()

	h := &Harness{Out: &Messenger{}, Store: storage.NewMemory(), Bus: eventbus.New()}
	h.Schedule = schedule.NewService(h.Store, schedule.Config{}, h.Bus, log)
	require.NoError(t, h.Schedule.EnsureDefaults(ctx))
	h.Cron = scheduler.New(scheduler.Config{Enabled: true, Timezone: "UTC"}, log)
	h.Exec = broadcast.New(broadcast.Config{Workers: 2, RatePerSec: 1000}, h.Store, h.Out, h.Bus, log)
	h.Jobs = dispatch.New(h.Schedule, h.Cron, h.Exec, h.Store, h.Bus, log)
	require.NoError(t, h.Jobs.Install(ctx))

	h.Tasks = supervisor.New(ctx, supervisor.WithLogger(log))
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = h.Tasks.Stop(stopCtx)
	})

	h.Router = router.New(router.Options{Out: h.Out, Admins: h.Store, Owners: owners, Log: log})
	m := plugin.NewManager(log, h.Bus, plugins...)
	require.NoError(t, m.InitAll(ctx, plugin.Deps{
		Log:       log,
		Store:     h.Store,
		Schedule:  h.Schedule,
		Jobs:      h.Jobs,
		Broadcast: h.Exec,
		Sender:    h.Out,
		Bus:       h.Bus,
		Tasks:     h.Tasks,
	}))
	m.Apply(h.Router)
	return h
}

// User returns a private-chat user profile.
func User(id int64, username string) kit.User {
	return kit.User{ID: id, Username: username, FirstName: username}
}

// Send delivers text from u in their private chat. Routing is synchronous.
func (h *Harness) Send(u kit.User, text string) {
	h.Router.Route(context.Background(), kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ChatID: u.ID,
		From:   u,
		Text:   text,
	}})
}

// Click presses an inline button carrying data in u's private chat.
func (h *Harness) Click(u kit.User, data string) {
	h.Router.Route(context.Background(), kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{
		ID:        "cb",
		From:      u,
		ChatID:    u.ID,
		MessageID: 1,
		Data:      data,
	}})
}

// Subscribe registers recipients directly in the store.
func (h *Harness) Subscribe(t testing.TB, ids ...int64) {
	t.Helper()
	for _, id := range ids {
		_, err := h.Store.UpsertRecipient(context.Background(), storage.Recipient{UserID: id, ChatID: id, Username: fmt.Sprintf("user%d", id)})
		require.NoError(t, err)
	}
}

// Button finds the data of the button labelled text in kb.
func Button(kb kit.Keyboard, text string) string {
	for _, row := range kb {
		for _, b := range row {
			if b.Text == text {
				return b.Data
			}
		}
	}
	return ""
}
