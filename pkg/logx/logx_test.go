package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	lg := NewWriter(&buf, "debug").With(String("comp", "dispatch"))
	lg.Info("job fired", Int("recipients", 3), Err(errors.New("boom")))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "job fired", rec["message"])
	assert.Equal(t, "dispatch", rec["comp"])
	assert.EqualValues(t, 3, rec["recipients"])
	assert.Equal(t, "boom", rec["err"])
	assert.Contains(t, rec["caller"], "logx_test.go:")
}

func TestLoggerLevelFilter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	lg := NewWriter(&buf, "warn")
	lg.Info("hidden")
	assert.Zero(t, buf.Len())
	assert.False(t, lg.Enabled(LevelInfo))
	assert.True(t, lg.Enabled(LevelError))
}

func TestZeroLoggerDiscards(t *testing.T) {
	t.Parallel()

	var lg Logger
	assert.True(t, lg.IsZero())
	lg.Error("nothing happens")
	assert.False(t, Nop().IsZero())
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, LevelWarn, ParseLevel("warning", LevelInfo))
	assert.Equal(t, LevelDebug, ParseLevel(" debug ", LevelInfo))
	assert.Equal(t, LevelInfo, ParseLevel("loud", LevelInfo))
}

func TestFormatChatRecord(t *testing.T) {
	t.Parallel()

	got := formatChatRecord([]byte(`{"level":"warn","time":"x","message":"send failed","user":42,"comp":"broadcast"}`))
	assert.Equal(t, "[WARN] send failed\n- comp=broadcast\n- user=42", got)

	raw := formatChatRecord([]byte("not json"))
	assert.Equal(t, "not json", raw)
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "abc", truncate("abc", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefgxxxxxxxxxx", 10))
}

type captureSender struct {
	mu    sync.Mutex
	texts []string
}

func (c *captureSender) SendLog(_ context.Context, chatID int64, _ int, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.texts = append(c.texts, text)
	return nil
}

func (c *captureSender) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.texts)
}

func TestServiceForwardsWarningsToChat(t *testing.T) {
	sender := &captureSender{}
	svc, lg := New(Config{
		Level:    "debug",
		Telegram: TelegramConfig{Enabled: true, MinLevel: "warn", RatePerSec: 10},
	}, sender)
	t.Cleanup(func() { _ = svc.Close() })

	lg.Warn("dropped before target is set")
	svc.SetTelegramTarget(-100, 0)
	lg.Info("below min level")
	lg.Warn("reaches chat", String("k", "v"))

	require.Eventually(t, func() bool { return sender.count() == 1 }, time.Second, 10*time.Millisecond)
	sender.mu.Lock()
	assert.Contains(t, sender.texts[0], "[WARN] reaches chat")
	assert.Contains(t, sender.texts[0], "- k=v")
	sender.mu.Unlock()
}
