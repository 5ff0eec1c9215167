package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by announcebot components.
const (
	TypeConfigReloaded   = "config.reloaded"
	TypeScheduleUpdated  = "schedule.updated"
	TypeJobsInstalled    = "schedule.jobs_installed"
	TypeJobFired         = "schedule.job_fired"
	TypeBroadcastDone    = "broadcast.done"
	TypeAdminAdded       = "admin.added"
	TypeAdminRemoved     = "admin.removed"
	TypeRecipientJoined  = "recipient.joined"
	TypeRecipientStopped = "recipient.stopped"
	TypePluginReady      = "plugin.ready"
	TypePluginFailed     = "plugin.failed"
)

// Event is a small in-memory signal. Publish never blocks; a slow
// subscriber loses events once its buffer is full.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
	Dropped() uint64
}

// New returns an in-memory fanout bus with no background goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// sends are non-blocking, so holding the read lock keeps unsubscribe
	// from closing a channel mid-send
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}

func (b *memBus) Dropped() uint64 { return b.dropped.Load() }
