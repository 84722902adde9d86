package cache

import (
	"context"
	"sync"
	"time"

	"gastos/internal/core"
)

// Memory is an unbounded in-process Store.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*Entry
	now     func() time.Time
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]*Entry), now: time.Now}
}

func (m *Memory) Lookup(_ context.Context, key string) (Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return Entry{}, false, nil
	}
	e.Hits++
	return *e, true, nil
}

func (m *Memory) Put(_ context.Context, key string, payload core.StructuredTransaction, ref core.Date) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[key]; ok {
		if samePayload(e.Payload, payload) {
			return nil
		}
		return ErrPayloadConflict
	}
	m.entries[key] = &Entry{Key: key, Payload: payload, ReferenceDate: ref, CreatedAt: m.now()}
	return nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	m.entries = make(map[string]*Entry)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Len(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries), nil
}

// Entry returns a copy of the entry stored under key.
func (m *Memory) Entry(key string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}
