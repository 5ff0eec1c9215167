package plugin

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"announcebot/internal/eventbus"
	"announcebot/internal/transport/telegram/router"
	logx "announcebot/pkg/logx"
)

type pluginEvent struct {
	Plugin string `json:"plugin"`
	Err    string `json:"err,omitempty"`
	TookMS int64  `json:"took_ms,omitempty"`
	Count  int    `json:"count,omitempty"`
}

// Manager initialises plugins and feeds their routes to the router.
type Manager struct {
	log     logx.Logger
	bus     eventbus.Bus
	plugins []Plugin
	ready   []Plugin
}

func NewManager(log logx.Logger, bus eventbus.Bus, plugins ...Plugin) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{log: log.With(logx.String("comp", "plugins")), bus: bus, plugins: plugins}
}

// InitAll initialises every plugin. A plugin that fails is left out of
// routing; the others keep working. The returned error names the failures.
func (m *Manager) InitAll(ctx context.Context, deps Deps) error {
	m.ready = m.ready[:0]
	var failed []string
	for _, p := range m.plugins {
		name := p.Name()
		start := time.Now()
		err := m.safeCall("init."+name, func() error { return p.Init(ctx, deps) })
		ev := pluginEvent{Plugin: name, TookMS: time.Since(start).Milliseconds()}
		if err != nil {
			ev.Err = err.Error()
			failed = append(failed, name)
			m.log.Error("plugin init failed", logx.String("plugin", name), logx.Err(err))
			m.emit(eventbus.TypePluginFailed, ev)
			continue
		}
		m.ready = append(m.ready, p)
		m.log.Debug("plugin ready", logx.String("plugin", name), logx.Duration("took", time.Since(start)))
		m.emit(eventbus.TypePluginReady, ev)
	}
	if len(failed) > 0 {
		return fmt.Errorf("plugins failed to init: %v", failed)
	}
	return nil
}

// Routes collects commands, callbacks and flows of the ready plugins.
// Callback routes are forced into their plugin's namespace.
func (m *Manager) Routes() ([]router.Command, []router.CallbackRoute, []router.Flow) {
	var (
		cmds  []router.Command
		cbs   []router.CallbackRoute
		flows []router.Flow
	)
	for _, p := range m.ready {
		name := p.Name()
		cmds = append(cmds, m.safeCommands(name, p)...)
		if cp, ok := p.(CallbackProvider); ok {
			for _, r := range m.safeCallbacks(name, cp) {
				r.Plugin = name
				cbs = append(cbs, r)
			}
		}
		if fp, ok := p.(FlowProvider); ok {
			flows = append(flows, fp.Flows()...)
		}
	}
	return cmds, cbs, flows
}

// Apply registers all routes into r.
func (m *Manager) Apply(r *router.Router) {
	cmds, cbs, flows := m.Routes()
	r.Register(cmds, cbs, flows)
}

func (m *Manager) Ready() []string {
	out := make([]string, 0, len(m.ready))
	for _, p := range m.ready {
		out = append(out, p.Name())
	}
	return out
}

func (m *Manager) emit(typ string, ev pluginEvent) {
	if m.bus != nil {
		m.bus.Publish(eventbus.Event{Type: typ, Data: ev})
	}
}

func (m *Manager) safeCall(label string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in plugin call", logx.String("call", label), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			err = fmt.Errorf("panic in %s: %v", label, r)
		}
	}()
	return fn()
}

func (m *Manager) safeCommands(name string, p Plugin) (out []router.Command) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in plugin Commands()", logx.String("plugin", name), logx.Any("panic", r))
			out = nil
		}
	}()
	return p.Commands()
}

func (m *Manager) safeCallbacks(name string, p CallbackProvider) (out []router.CallbackRoute) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in plugin Callbacks()", logx.String("plugin", name), logx.Any("panic", r))
			out = nil
		}
	}()
	return p.Callbacks()
}
