// Package cachetest provides an in-memory cache.Cache for tests.
package cachetest

import (
	"context"
	"strconv"
	"sync"
	"time"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

// MemCache is a goroutine-safe in-memory Cache. Expiry is checked against Now.
type MemCache struct {
	mu      sync.Mutex
	entries map[string]entry

	// Err, when set, is returned by every call.
	Err error
	// Now is the clock used for expiry.
	Now func() time.Time
	// Deletes records every deleted key in order.
	Deletes []string
}

func New() *MemCache {
	return &MemCache{entries: make(map[string]entry), Now: time.Now}
}

func (m *MemCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = m.Now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

func (m *MemCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, false, m.Err
	}
	e, ok := m.live(key)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

func (m *MemCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Deletes = append(m.Deletes, key)
	if m.Err != nil {
		return m.Err
	}
	delete(m.entries, key)
	return nil
}

func (m *MemCache) Ping(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Err
}

func (m *MemCache) IncrWithExpiry(_ context.Context, key string, expiry time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	e, ok := m.live(key)
	var n int64
	if ok {
		n, _ = strconv.ParseInt(string(e.value), 10, 64)
	} else {
		e.expiresAt = m.Now().Add(expiry)
	}
	n++
	e.value = []byte(strconv.FormatInt(n, 10))
	m.entries[key] = e
	return n, nil
}

// Has reports whether key holds a live entry.
func (m *MemCache) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.live(key)
	return ok
}

func (m *MemCache) live(key string) (entry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return entry{}, false
	}
	if !e.expiresAt.IsZero() && !m.Now().Before(e.expiresAt) {
		delete(m.entries, key)
		return entry{}, false
	}
	return e, true
}
