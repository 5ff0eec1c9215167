package tgui

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kit "announcebot/internal/transport"
)

func TestGrid(t *testing.T) {
	t.Parallel()

	b := func(s string) kit.Button { return Btn(s, s) }
	kb := Grid(3, b("Mon"), b("Tue"), b("Wed"), b("Thu"), b("Fri"), b("Sat"), b("Sun"))
	require.Len(t, kb, 3)
	assert.Len(t, kb[0], 3)
	assert.Len(t, kb[1], 3)
	assert.Equal(t, []kit.Button{b("Sun")}, kb[2])
}

func TestInlineSkipsEmptyRows(t *testing.T) {
	t.Parallel()

	kb := NewInline().Row(Btn("a", "x:a")).Row().Row(Btn("b", "x:b")).Keyboard()
	assert.Len(t, kb, 2)
	assert.Equal(t, kit.Keyboard{{Btn("Send", "s"), Btn("Cancel", "c")}}, Confirm(Btn("Send", "s"), Btn("Cancel", "c")))
}

func TestCallbackData(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "schedule:type", Data("schedule", "type", ""))
	assert.Equal(t, "schedule:day:abc|3", Data(" schedule ", "day", JoinPayload("abc", "3")))
	assert.Equal(t, []string{"abc", "3"}, SplitPayload("abc|3"))
	assert.Nil(t, SplitPayload(""))

	_, err := CheckedData("p", "a", strings.Repeat("x", 70))
	assert.ErrorIs(t, err, ErrCallbackDataTooLong)
	// uuid payloads fit
	d, err := CheckedData("schedule", "confirm", "0b6e6e1c-3a52-4a7e-9a55-6f4f1f0e2d11|1")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(d), MaxCallbackDataLen)
}

func TestTruncRunes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "hello", TruncRunes("hello", 5))
	assert.Equal(t, "hel…", TruncRunes("hello", 4))
	assert.Equal(t, "📢📢…", TruncRunes("📢📢📢📢", 3))
	assert.Equal(t, "", TruncRunes("x", 0))
}
