package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// InMemoryLedger implements Ledger for testing and for runs without a
// persistent ledger.
type InMemoryLedger struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

var _ Ledger = (*InMemoryLedger)(nil)

// NewInMemoryLedger creates an empty in-memory ledger.
func NewInMemoryLedger() *InMemoryLedger {
	return &InMemoryLedger{entries: make(map[string]Entry)}
}

// Record inserts or replaces the entry for e.Key.
func (s *InMemoryLedger) Record(ctx context.Context, e Entry) error {
	if e.Key == "" {
		return fmt.Errorf("entry key is required")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.CreatedAt = e.CreatedAt.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.entries[e.Key]; ok {
		e.Hits = old.Hits
		e.LastHit = old.LastHit
	}
	s.entries[e.Key] = e
	return nil
}

// Get returns the entry for key, or nil if there is none.
func (s *InMemoryLedger) Get(ctx context.Context, key string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

// List returns every entry ordered by creation time, then key.
func (s *InMemoryLedger) List(ctx context.Context) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.Before(entries[j].CreatedAt)
		}
		return entries[i].Key < entries[j].Key
	})
	return entries, nil
}

// Touch counts a cache hit on key.
func (s *InMemoryLedger) Touch(ctx context.Context, key string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil
	}
	at = at.UTC()
	e.Hits++
	e.LastHit = &at
	s.entries[key] = e
	return nil
}

// Delete removes the entry for key.
func (s *InMemoryLedger) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

// Close is a no-op.
func (s *InMemoryLedger) Close() error { return nil }
