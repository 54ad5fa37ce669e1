package cache

import (
	"context"
	"sync"
	"time"
)

const defaultMaxEntries = 128

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// Memory is an in-process cache with a TTL and a bound on entry count.
// When full, the entry closest to expiry is evicted.
type Memory struct {
	ttl        time.Duration
	maxEntries int
	entries    map[string]memoryEntry
	mutex      sync.RWMutex
	now        func() time.Time
}

// NewMemory creates a memory cache. A non-positive TTL means entries never expire.
func NewMemory(ttl time.Duration, maxEntries int) *Memory {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	return &Memory{
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]memoryEntry),
		now:        time.Now,
	}
}

// Get retrieves a value if it exists and hasn't expired
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mutex.RLock()
	entry, ok := m.entries[key]
	m.mutex.RUnlock()

	if !ok || m.expired(entry) {
		return nil, false, nil
	}
	return entry.data, true, nil
}

// Set stores a copy of value
func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, exists := m.entries[key]; !exists && len(m.entries) >= m.maxEntries {
		m.cleanExpired()
		if len(m.entries) >= m.maxEntries {
			m.evictOldest()
		}
	}

	entry := memoryEntry{data: append([]byte(nil), value...)}
	if m.ttl > 0 {
		entry.expiresAt = m.now().Add(m.ttl)
	}
	m.entries[key] = entry
	return nil
}

// Len returns the number of stored entries, expired or not
func (m *Memory) Len() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.entries)
}

// Close drops every entry
func (m *Memory) Close() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.entries = make(map[string]memoryEntry)
	return nil
}

func (m *Memory) expired(e memoryEntry) bool {
	return !e.expiresAt.IsZero() && m.now().After(e.expiresAt)
}

// cleanExpired removes expired entries (must be called with lock held)
func (m *Memory) cleanExpired() {
	for key, entry := range m.entries {
		if m.expired(entry) {
			delete(m.entries, key)
		}
	}
}

// evictOldest removes the entry that expires first (must be called with lock held)
func (m *Memory) evictOldest() {
	var victim string
	var oldest time.Time
	first := true
	for key, entry := range m.entries {
		if first || entry.expiresAt.Before(oldest) {
			victim, oldest, first = key, entry.expiresAt, false
		}
	}
	if !first {
		delete(m.entries, victim)
	}
}
