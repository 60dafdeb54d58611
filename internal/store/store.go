// Package store defines the Ledger interface for indexing cached trials.
// The trace files themselves are the source of truth; the ledger records
// what was written, when, and how often it has been read back.
package store

import (
	"context"
	"time"
)

// Entry describes one cached trial.
type Entry struct {
	Key       string     `json:"key"`
	Path      string     `json:"path"`
	Cell      string     `json:"cell"`
	Amplitude float64    `json:"amplitude"` // nA
	Duration  float64    `json:"duration"`  // ms
	Frequency float64    `json:"frequency"` // Hz
	Shape     bool       `json:"shape"`     // whether a shape table was stored
	Size      int64      `json:"size"`      // bytes on disk
	Hits      int        `json:"hits"`
	CreatedAt time.Time  `json:"created_at"`
	LastHit   *time.Time `json:"last_hit,omitempty"`
}

// Ledger indexes cache entries by key.
type Ledger interface {
	// Record inserts or replaces the entry for e.Key. The hit count and
	// last hit time of an existing entry are kept.
	Record(ctx context.Context, e Entry) error

	// Get returns the entry for key, or nil if there is none.
	Get(ctx context.Context, key string) (*Entry, error)

	// List returns every entry ordered by creation time, then key.
	List(ctx context.Context) ([]Entry, error)

	// Touch counts a cache hit on key at the given time. Unknown keys are
	// ignored.
	Touch(ctx context.Context, key string, at time.Time) error

	// Delete removes the entry for key. Unknown keys are ignored.
	Delete(ctx context.Context, key string) error

	Close() error
}
