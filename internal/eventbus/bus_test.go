package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFansOut(t *testing.T) {
	t.Parallel()

	b := New()
	a, unsubA := b.Subscribe(1)
	c, unsubC := b.Subscribe(1)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: TypeScheduleUpdated, Data: "daily"})

	ea := <-a
	ec := <-c
	assert.Equal(t, TypeScheduleUpdated, ea.Type)
	assert.Equal(t, "daily", ec.Data)
	assert.False(t, ea.Time.IsZero())
}

func TestPublishDropsWhenFull(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: TypeJobFired})
	b.Publish(Event{Type: TypeJobFired})
	assert.Equal(t, uint64(1), b.Dropped())
	require.Len(t, ch, 1)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(0)
	unsub()
	unsub()

	_, ok := <-ch
	assert.False(t, ok)
	b.Publish(Event{Type: TypeAdminAdded})
}
