package storage

import (
	"context"
	"slices"
	"sync"
	"time"
)

// state is the full persisted data set. The file driver serializes it as-is.
type state struct {
	Schedule   *ScheduleRecord     `json:"schedule,omitempty"`
	Recipients map[int64]Recipient `json:"recipients"`
	Admins     map[int64]Admin     `json:"admins"`
}

func newState() state {
	return state{Recipients: map[int64]Recipient{}, Admins: map[int64]Admin{}}
}

// memoryStore keeps everything in process memory.
type memoryStore struct {
	mu     sync.RWMutex
	st     state
	audit  []AuditEntry
	closed bool

	// commit is called with mu held after every mutation; the file driver
	// uses it to persist the new state.
	commit func(state) error
}

// NewMemory returns an empty in-memory Store.
func NewMemory() Store {
	return &memoryStore{st: newState()}
}

func (m *memoryStore) mutate(fn func(st *state) (changed bool)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	prev := cloneState(m.st)
	if !fn(&m.st) || m.commit == nil {
		return nil
	}
	if err := m.commit(m.st); err != nil {
		m.st = prev
		return err
	}
	return nil
}

func (m *memoryStore) GetSchedule(_ context.Context) (ScheduleRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ScheduleRecord{}, false, ErrClosed
	}
	if m.st.Schedule == nil {
		return ScheduleRecord{}, false, nil
	}
	return *m.st.Schedule, true, nil
}

func (m *memoryStore) PatchSchedule(_ context.Context, seed ScheduleRecord, patch SchedulePatch) error {
	return m.mutate(func(st *state) bool {
		rec := seed
		if st.Schedule != nil {
			rec = *st.Schedule
		}
		patch.apply(&rec)
		rec.UpdatedAt = time.Now().UTC()
		st.Schedule = &rec
		return true
	})
}

func (m *memoryStore) UpsertRecipient(_ context.Context, r Recipient) (bool, error) {
	var created bool
	err := m.mutate(func(st *state) bool {
		now := time.Now().UTC()
		old, ok := st.Recipients[r.UserID]
		created = !ok
		if ok {
			r.CreatedAt = old.CreatedAt
		} else if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		r.LastActive = now
		st.Recipients[r.UserID] = r
		return true
	})
	return created, err
}

func (m *memoryStore) RemoveRecipient(_ context.Context, userID int64) (bool, error) {
	var removed bool
	err := m.mutate(func(st *state) bool {
		_, removed = st.Recipients[userID]
		delete(st.Recipients, userID)
		return removed
	})
	return removed, err
}

func (m *memoryStore) GetRecipient(_ context.Context, userID int64) (Recipient, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return Recipient{}, false, ErrClosed
	}
	r, ok := m.st.Recipients[userID]
	return r, ok, nil
}

func (m *memoryStore) ListRecipients(_ context.Context) ([]Recipient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]Recipient, 0, len(m.st.Recipients))
	for _, r := range m.st.Recipients {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b Recipient) int { return cmpInt64(a.UserID, b.UserID) })
	return out, nil
}

func (m *memoryStore) CountRecipients(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrClosed
	}
	return len(m.st.Recipients), nil
}

func (m *memoryStore) AddAdmin(_ context.Context, a Admin) (bool, error) {
	var created bool
	err := m.mutate(func(st *state) bool {
		if _, ok := st.Admins[a.UserID]; ok {
			return false
		}
		if a.AddedAt.IsZero() {
			a.AddedAt = time.Now().UTC()
		}
		st.Admins[a.UserID] = a
		created = true
		return true
	})
	return created, err
}

func (m *memoryStore) RemoveAdmin(_ context.Context, userID int64) (bool, error) {
	var removed bool
	err := m.mutate(func(st *state) bool {
		_, removed = st.Admins[userID]
		delete(st.Admins, userID)
		return removed
	})
	return removed, err
}

func (m *memoryStore) IsAdmin(_ context.Context, userID int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return false, ErrClosed
	}
	_, ok := m.st.Admins[userID]
	return ok, nil
}

func (m *memoryStore) ListAdmins(_ context.Context) ([]Admin, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]Admin, 0, len(m.st.Admins))
	for _, a := range m.st.Admins {
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b Admin) int {
		if c := a.AddedAt.Compare(b.AddedAt); c != 0 {
			return c
		}
		return cmpInt64(a.UserID, b.UserID)
	})
	return out, nil
}

func (m *memoryStore) AppendAudit(_ context.Context, e AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	m.audit = append(m.audit, e)
	if len(m.audit) > 1000 {
		m.audit = m.audit[len(m.audit)-1000:]
	}
	return nil
}

func (m *memoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func cloneState(st state) state {
	out := newState()
	if st.Schedule != nil {
		s := *st.Schedule
		out.Schedule = &s
	}
	for k, v := range st.Recipients {
		out.Recipients[k] = v
	}
	for k, v := range st.Admins {
		out.Admins[k] = v
	}
	return out
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
