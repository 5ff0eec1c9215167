package transport

import "context"

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

// User is the sender profile attached to every incoming update.
type User struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
}

type Message struct {
	ID       int
	ChatID   int64
	ThreadID int // forum topic thread id (0 if none)
	From     User
	Text     string
	IsGroup  bool
}

type Callback struct {
	ID        string
	From      User
	ChatID    int64
	ThreadID  int
	MessageID int
	Data      string
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

// Button is one inline keyboard button. Data is delivered back as Callback.Data.
type Button struct {
	Text string
	Data string
}

// Keyboard is an inline keyboard laid out in rows.
type Keyboard [][]Button

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	Keyboard       Keyboard
}

// Sender is the outbound half of an Adapter.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

type Adapter interface {
	Sender
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface for adapters that can publish
// a platform command menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
