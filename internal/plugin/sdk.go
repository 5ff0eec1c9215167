// Package plugin defines the contract feature plugins implement and the
// manager that wires them into the router.
package plugin

import (
	"context"
	"errors"

	"announcebot/internal/broadcast"
	"announcebot/internal/dispatch"
	"announcebot/internal/eventbus"
	"announcebot/internal/schedule"
	"announcebot/internal/storage"
	kit "announcebot/internal/transport"
	"announcebot/internal/transport/telegram/router"
	logx "announcebot/pkg/logx"
)

type Plugin interface {
	Name() string
	Init(ctx context.Context, deps Deps) error
	Commands() []router.Command
}

type CallbackProvider interface {
	Callbacks() []router.CallbackRoute
}

// FlowProvider is implemented by plugins that run conversations.
type FlowProvider interface {
	Flows() []router.Flow
}

// Broadcaster sends one text to every recipient.
type Broadcaster interface {
	Broadcast(ctx context.Context, text string, opt *kit.SendOptions) (broadcast.Result, error)
}

// JobInfo describes one installed announcement trigger.
type JobInfo = dispatch.JobInfo

// JobView exposes the announcement triggers.
type JobView interface {
	schedule.Rescheduler
	Jobs() []JobInfo
}

// Runner starts work that outlives the request that asked for it.
// *supervisor.Supervisor satisfies it.
type Runner interface {
	Go0(name string, fn func(ctx context.Context))
}

type Deps struct {
	Log       logx.Logger
	Store     storage.Store
	Schedule  *schedule.Service
	Jobs      JobView
	Broadcast Broadcaster
	// Sender reaches single chats outside a request, e.g. a demoted admin.
	Sender kit.Sender
	Bus    eventbus.Bus
	// Tasks runs long operations off the router worker.
	Tasks Runner
}

// Base carries deps and a plugin-scoped logger. Embed it and call InitBase
// from Init.
type Base struct {
	Log  logx.Logger
	Deps Deps
	name string
}

func (b *Base) InitBase(deps Deps, name string) {
	b.Deps = deps
	b.name = name
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	b.Log = deps.Log.With(logx.String("plugin", name))
}

// AppendAudit records e. Failures are logged and otherwise ignored.
func (b *Base) AppendAudit(ctx context.Context, e storage.AuditEntry) {
	st := b.Deps.Store
	if st == nil {
		return
	}
	if err := st.AppendAudit(ctx, e); err != nil && !errors.Is(err, context.Canceled) {
		b.Log.Warn("audit append failed", logx.String("action", e.Action), logx.Err(err))
	}
}

// PublishEvent is non-blocking.
func (b *Base) PublishEvent(typ string, data any) {
	if b.Deps.Bus == nil {
		return
	}
	b.Deps.Bus.Publish(eventbus.Event{Type: typ, Data: data})
}
