package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteLedger implements Ledger using SQLite for persistence.
type SQLiteLedger struct {
	mu     sync.RWMutex
	db     *sql.DB
	dbPath string
}

var _ Ledger = (*SQLiteLedger)(nil)

// NewSQLiteLedger opens (creating if needed) the ledger at <root>/ledger.db.
func NewSQLiteLedger(root string) (*SQLiteLedger, error) {
	if err := EnsureRoot(root); err != nil {
		return nil, err
	}
	return OpenSQLiteLedger(LedgerPath(root))
}

// OpenSQLiteLedger opens the ledger database at dbPath.
func OpenSQLiteLedger(dbPath string) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite works best with single writer

	if err := InitSchema(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteLedger{db: db, dbPath: dbPath}, nil
}

// Path returns the database file path.
func (s *SQLiteLedger) Path() string { return s.dbPath }

// Record inserts or replaces the entry for e.Key.
func (s *SQLiteLedger) Record(ctx context.Context, e Entry) error {
	if e.Key == "" {
		return fmt.Errorf("entry key is required")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entries (key, path, cell, amplitude, duration, frequency, shape, size, hits, created_at, last_hit)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			path = excluded.path,
			cell = excluded.cell,
			amplitude = excluded.amplitude,
			duration = excluded.duration,
			frequency = excluded.frequency,
			shape = excluded.shape,
			size = excluded.size,
			created_at = excluded.created_at`,
		e.Key, e.Path, e.Cell, e.Amplitude, e.Duration, e.Frequency, e.Shape, e.Size, e.Hits,
		formatTime(e.CreatedAt), formatTimePtr(e.LastHit))
	if err != nil {
		return fmt.Errorf("failed to record entry %s: %w", e.Key, err)
	}
	return nil
}

const selectEntry = `SELECT key, path, cell, amplitude, duration, frequency, shape, size, hits, created_at, last_hit FROM entries`

// Get returns the entry for key, or nil if there is none.
func (s *SQLiteLedger) Get(ctx context.Context, key string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, selectEntry+` WHERE key = ?`, key)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entry %s: %w", key, err)
	}
	return &e, nil
}

// List returns every entry ordered by creation time, then key.
func (s *SQLiteLedger) List(ctx context.Context) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, selectEntry+` ORDER BY created_at, key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Touch counts a cache hit on key.
func (s *SQLiteLedger) Touch(ctx context.Context, key string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx,
		`UPDATE entries SET hits = hits + 1, last_hit = ? WHERE key = ?`,
		formatTime(at), key); err != nil {
		return fmt.Errorf("failed to touch entry %s: %w", key, err)
	}
	return nil
}

// Delete removes the entry for key.
func (s *SQLiteLedger) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete entry %s: %w", key, err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteLedger) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var (
		e       Entry
		created string
		lastHit sql.NullString
	)
	if err := row.Scan(&e.Key, &e.Path, &e.Cell, &e.Amplitude, &e.Duration, &e.Frequency,
		&e.Shape, &e.Size, &e.Hits, &created, &lastHit); err != nil {
		return Entry{}, err
	}

	t, err := time.Parse(timeLayout, created)
	if err != nil {
		return Entry{}, fmt.Errorf("parsing created_at %q: %w", created, err)
	}
	e.CreatedAt = t

	if lastHit.Valid {
		t, err := time.Parse(timeLayout, lastHit.String)
		if err != nil {
			return Entry{}, fmt.Errorf("parsing last_hit %q: %w", lastHit.String, err)
		}
		e.LastHit = &t
	}
	return e, nil
}

// Helper functions

// timeLayout has a fixed width so stored times sort as strings.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}
