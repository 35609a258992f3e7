package store

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

type memoryEntry struct {
	value     string
	hash      map[string]string
	list      []string
	expiresAt time.Time // zero means no expiry
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryStore implements Store with a single mutex over the whole key space.
// It only ever serves one process, so the coarse lock is acceptable. TTLs are
// evicted lazily on access, mirroring how Redis expiry is observed by readers.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	nowFn   func() time.Time
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
		nowFn:   time.Now,
	}
}

// entry returns the live entry at key, evicting it when expired.
// Callers must hold mu.
func (s *MemoryStore) entry(key string) *memoryEntry {
	e, ok := s.entries[key]
	if !ok {
		return nil
	}
	if e.expired(s.nowFn()) {
		delete(s.entries, key)
		return nil
	}
	return e
}

// Get returns the string value at key, or ErrNotFound.
func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(key)
	if e == nil {
		return "", ErrNotFound
	}
	return e.value, nil
}

// Set stores value at key with an optional TTL.
func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := &memoryEntry{value: value}
	if ttl > 0 {
		e.expiresAt = s.nowFn().Add(ttl)
	}
	s.entries[key] = e
	return nil
}

// Incr adds amount to the integer at key, treating a missing key as zero.
func (s *MemoryStore) Incr(_ context.Context, key string, amount int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(key)
	if e == nil {
		e = &memoryEntry{}
		s.entries[key] = e
	}
	current := int64(0)
	if e.value != "" {
		parsed, errParse := strconv.ParseInt(e.value, 10, 64)
		if errParse != nil {
			return 0, fmt.Errorf("store: incr on non-integer value at %s", key)
		}
		current = parsed
	}
	current += amount
	e.value = strconv.FormatInt(current, 10)
	return current, nil
}

// HGet returns one hash field, or ErrNotFound.
func (s *MemoryStore) HGet(_ context.Context, key, field string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(key)
	if e == nil || e.hash == nil {
		return "", ErrNotFound
	}
	val, ok := e.hash[field]
	if !ok {
		return "", ErrNotFound
	}
	return val, nil
}

// HSet writes the given hash fields, creating the hash when absent.
func (s *MemoryStore) HSet(_ context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(key)
	if e == nil {
		e = &memoryEntry{}
		s.entries[key] = e
	}
	if e.hash == nil {
		e.hash = make(map[string]string, len(fields))
	}
	for field, value := range fields {
		e.hash[field] = value
	}
	return nil
}

// HGetAll returns a copy of all hash fields; empty map when absent.
func (s *MemoryStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string)
	e := s.entry(key)
	if e == nil || e.hash == nil {
		return out, nil
	}
	for field, value := range e.hash {
		out[field] = value
	}
	return out, nil
}

// LAppend appends values to the list at key.
func (s *MemoryStore) LAppend(_ context.Context, key string, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(key)
	if e == nil {
		e = &memoryEntry{}
		s.entries[key] = e
	}
	e.list = append(e.list, values...)
	return nil
}

// LRange returns list elements in [start, stop] using Redis range semantics.
func (s *MemoryStore) LRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(key)
	if e == nil || len(e.list) == 0 {
		return nil, nil
	}
	n := int64(len(e.list))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return nil, nil
	}
	out := make([]string, stop-start+1)
	copy(out, e.list[start:stop+1])
	return out, nil
}

// Expire sets the key TTL.
func (s *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(key)
	if e == nil {
		return nil
	}
	if ttl > 0 {
		e.expiresAt = s.nowFn().Add(ttl)
	} else {
		e.expiresAt = time.Time{}
	}
	return nil
}

// Delete removes the key.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Ping always succeeds for the in-process store.
func (s *MemoryStore) Ping(_ context.Context) error { return nil }

// Close is a no-op for the in-process store.
func (s *MemoryStore) Close() error { return nil }
