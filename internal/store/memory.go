package store

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process KV implementation. It backs tests and the
// zero-dependency dev mode; production deployments use Redis or MongoDB.
type Memory struct {
	mu    sync.Mutex
	items map[string]memoryItem
	lists map[string]*memoryList
	now   func() time.Time
}

type memoryItem struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

type memoryList struct {
	values    [][]byte
	expiresAt time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		items: make(map[string]memoryItem),
		lists: make(map[string]*memoryList),
		now:   time.Now,
	}
}

// SetClock overrides the store's clock. Tests use it to exercise expiry
// without sleeping.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Memory) expired(at time.Time) bool {
	return !at.IsZero() && !m.now().Before(at)
}

func (m *Memory) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item := memoryItem{value: append([]byte(nil), value...)}
	if ttl > 0 {
		item.expiresAt = m.now().Add(ttl)
	}
	m.items[key] = item
	return nil
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[key]
	if !ok || m.expired(item.expiresAt) {
		delete(m.items, key)
		return nil, ErrNotFound
	}
	return append([]byte(nil), item.value...), nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

func (m *Memory) ListAppend(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lists[key]
	if !ok || m.expired(l.expiresAt) {
		l = &memoryList{}
		m.lists[key] = l
	}
	l.values = append(l.values, append([]byte(nil), value...))
	if ttl > 0 {
		l.expiresAt = m.now().Add(ttl)
	} else {
		l.expiresAt = time.Time{}
	}
	return nil
}

func (m *Memory) ListRange(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lists[key]
	if !ok || m.expired(l.expiresAt) {
		delete(m.lists, key)
		return nil, nil
	}

	n := int64(len(l.values))
	// Redis-style index semantics: negative indexes count from the tail,
	// stop is inclusive.
	if start < 0 {
		start += n
		if start < 0 {
			start = 0
		}
	}
	if stop < 0 {
		stop += n
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return nil, nil
	}

	out := make([][]byte, 0, stop-start+1)
	for _, v := range l.values[start : stop+1] {
		out = append(out, append([]byte(nil), v...))
	}
	return out, nil
}

func (m *Memory) Close(ctx context.Context) error { return nil }
