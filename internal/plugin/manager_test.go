package plugin_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"announcebot/internal/eventbus"
	"announcebot/internal/plugin"
	"announcebot/internal/transport/telegram/router"
	logx "announcebot/pkg/logx"
)

type fakePlugin struct {
	name    string
	initErr error
	panics  bool
}

func (f *fakePlugin) Name() string { return f.name }

func (f *fakePlugin) Init(context.Context, plugin.Deps) error {
	if f.panics {
		panic("boom")
	}
	return f.initErr
}

func (f *fakePlugin) Commands() []router.Command {
	return []router.Command{{Name: f.name, Handle: func(context.Context, *router.Request) error { return nil }}}
}

func (f *fakePlugin) Callbacks() []router.CallbackRoute {
	return []router.CallbackRoute{{Plugin: "someone-else", Action: "go", Handle: func(context.Context, *router.Request, string) error { return nil }}}
}

func TestInitAllSkipsFailedPlugins(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	m := plugin.NewManager(logx.Nop(), bus,
		&fakePlugin{name: "good"},
		&fakePlugin{name: "bad", initErr: errors.New("no store")},
		&fakePlugin{name: "wild", panics: true},
	)
	err := m.InitAll(context.Background(), plugin.Deps{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
	assert.Contains(t, err.Error(), "wild")
	assert.Equal(t, []string{"good"}, m.Ready())

	var types []string
	for len(events) > 0 {
		types = append(types, (<-events).Type)
	}
	assert.Equal(t, []string{eventbus.TypePluginReady, eventbus.TypePluginFailed, eventbus.TypePluginFailed}, types)
}

func TestRoutesForceCallbackNamespace(t *testing.T) {
	t.Parallel()

	m := plugin.NewManager(logx.Nop(), nil, &fakePlugin{name: "alpha"})
	require.NoError(t, m.InitAll(context.Background(), plugin.Deps{}))

	cmds, cbs, flows := m.Routes()
	require.Len(t, cmds, 1)
	require.Len(t, cbs, 1)
	assert.Equal(t, "alpha", cbs[0].Plugin)
	assert.Empty(t, flows)
}
