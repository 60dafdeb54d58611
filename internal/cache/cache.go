// Package cache persists trial results so that a trial computed once is read
// back from disk on later requests with the same name.
//
// Each cached trial is one trace file: a JSON header line followed by named,
// gzip-compressed Arrow payloads ("df" for the shape table, "apn" for the
// flattened AP counts). Names containing "test" bypass the cache entirely.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nvandessel/pvnav/internal/constants"
	"github.com/nvandessel/pvnav/internal/logging"
	"github.com/nvandessel/pvnav/internal/shape"
	"github.com/nvandessel/pvnav/internal/sim"
	"github.com/nvandessel/pvnav/internal/store"
	"github.com/nvandessel/pvnav/internal/trace"
)

// Acquirer runs one trial. *trace.Driver implements it.
type Acquirer interface {
	Acquire(c sim.Cell, stim trace.Stimulus, withShape bool) (*trace.Result, error)
}

// Config configures a Cache.
type Config struct {
	// Root is the cache directory. Defaults to constants.DefaultCacheRoot.
	Root string

	// Ledger, if set, indexes every written entry and counts hits.
	Ledger store.Ledger

	// Logger receives operational output. Nil discards it.
	Logger *slog.Logger

	// Trials, if set, receives one JSONL event per request.
	Trials *logging.TrialLogger
}

// Trial is a cached or freshly computed trial.
type Trial struct {
	// ID identifies the request in logs.
	ID string

	AP trace.APCounts

	// Shape is nil when the trial was computed without shape recording.
	Shape *shape.Wide

	// Hit is set when the trial was read from disk.
	Hit bool

	// Path is the trace file backing the trial. Empty for test names.
	Path string
}

// Cache wraps an Acquirer with file-backed persistence.
type Cache struct {
	root   string
	acq    Acquirer
	ledger store.Ledger
	logger *slog.Logger
	trials *logging.TrialLogger
	now    func() time.Time
}

// New creates a cache over acq.
func New(acq Acquirer, cfg Config) *Cache {
	root := cfg.Root
	if root == "" {
		root = constants.DefaultCacheRoot
	}
	return &Cache{
		root:   root,
		acq:    acq,
		ledger: cfg.Ledger,
		logger: logging.OrDiscard(cfg.Logger),
		trials: cfg.Trials,
		now:    time.Now,
	}
}

// Root returns the cache directory.
func (c *Cache) Root() string { return c.root }

// Path resolves name to its trace file, creating the cache directory.
func (c *Cache) Path(name string) (string, error) {
	return FilePath(c.root, name)
}

// key returns the ledger key of a trace file path.
func (c *Cache) key(path string) string {
	return Key(rel(c.root, path))
}

// GetOrCompute returns the trial stored under name, or runs it on cell and
// stores the result. Test names are always computed and never stored.
func (c *Cache) GetOrCompute(ctx context.Context, name string, cell sim.Cell, stim trace.Stimulus, withShape bool) (*Trial, error) {
	id := uuid.NewString()
	start := c.now()

	path, err := c.Path(name)
	if err != nil {
		return nil, err
	}
	test := IsTest(name)
	key := c.key(path)

	if !test {
		if _, err := os.Stat(path); err == nil {
			tr, err := Load(path)
			if err != nil {
				return nil, fmt.Errorf("loading cached trial %s: %w", key, err)
			}
			tr.ID = id
			c.touch(ctx, key)
			c.logger.Debug("cache hit", "trial_id", id, "key", key, "shape", tr.Shape != nil)
			c.trials.Log(c.event(id, logging.EventCacheHit, key, cell, stim, withShape, start))
			return tr, nil
		}
	}

	res, err := c.acq.Acquire(cell, stim, withShape)
	if err != nil {
		return nil, fmt.Errorf("computing trial %s: %w", key, err)
	}
	series := FlattenAP(res.AP)
	tr := &Trial{ID: id, AP: ToAP(series), Shape: res.Shape}

	if test {
		c.logger.Debug("test trial, cache bypassed", "trial_id", id, "name", name)
		c.trials.Log(c.event(id, logging.EventCacheBypass, key, cell, stim, withShape, start))
		return tr, nil
	}

	header := Header{
		Key:       key,
		CreatedAt: c.now().UTC(),
		Trial: TrialInfo{
			Cell:      cell.Name(),
			Amplitude: stim.Amplitude,
			Duration:  stim.Duration,
			Frequency: stim.Frequency,
			Shape:     res.Shape != nil,
		},
	}
	if err := Store(path, header, res.Shape, series); err != nil {
		return nil, fmt.Errorf("storing trial %s: %w", key, err)
	}
	tr.Path = path
	c.record(ctx, key, path, header)

	c.logger.Debug("cache miss, trial stored", "trial_id", id, "key", key, "path", path)
	c.trials.Log(c.event(id, logging.EventCacheMiss, key, cell, stim, withShape, start))
	return tr, nil
}

// Store writes a trace file holding shape (if non-nil) and the AP series.
func Store(path string, header Header, w *shape.Wide, series APSeries) error {
	var payloads []payload
	if w != nil {
		data, err := EncodeShape(w)
		if err != nil {
			return err
		}
		payloads = append(payloads, payload{name: PayloadShape, data: data, rows: w.Rows()})
	}
	data, err := EncodeAPSeries(series)
	if err != nil {
		return err
	}
	payloads = append(payloads, payload{name: PayloadAP, data: data, rows: len(series)})
	return writeFile(path, header, payloads)
}

// Load reads a trace file. A file without a shape table yields a trial with
// a nil Shape.
func Load(path string) (*Trial, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	header, start, err := readHeader(f)
	if err != nil {
		return nil, err
	}

	tr := &Trial{Hit: true, Path: path}

	if data, err := readPayload(f, header, start, PayloadShape); err == nil {
		if tr.Shape, err = DecodeShape(data); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, ErrPayloadNotFound) {
		return nil, err
	}

	data, err := readPayload(f, header, start, PayloadAP)
	if err != nil {
		return nil, err
	}
	series, err := DecodeAPSeries(data)
	if err != nil {
		return nil, err
	}
	tr.AP = ToAP(series)
	return tr, nil
}

func (c *Cache) touch(ctx context.Context, key string) {
	if c.ledger == nil {
		return
	}
	if err := c.ledger.Touch(ctx, key, c.now()); err != nil {
		c.logger.Warn("ledger touch failed", "key", key, "error", err)
	}
}

func (c *Cache) record(ctx context.Context, key, path string, h Header) {
	if c.ledger == nil {
		return
	}
	var size int64
	if info, err := os.Stat(path); err == nil {
		size = info.Size()
	}
	err := c.ledger.Record(ctx, store.Entry{
		Key:       key,
		Path:      path,
		Cell:      h.Trial.Cell,
		Amplitude: h.Trial.Amplitude,
		Duration:  h.Trial.Duration,
		Frequency: h.Trial.Frequency,
		Shape:     h.Trial.Shape,
		Size:      size,
		CreatedAt: h.CreatedAt,
	})
	if err != nil {
		c.logger.Warn("ledger record failed", "key", key, "error", err)
	}
}

func (c *Cache) event(id, kind, key string, cell sim.Cell, stim trace.Stimulus, withShape bool, start time.Time) logging.TrialEvent {
	return logging.TrialEvent{
		Event:     kind,
		TrialID:   id,
		Key:       key,
		Cell:      cell.Name(),
		Amplitude: stim.Amplitude,
		Duration:  stim.Duration,
		Frequency: stim.Frequency,
		Shape:     withShape,
		ElapsedMS: c.now().Sub(start).Milliseconds(),
	}
}

// Clear removes every trace file under the cache root and drops their
// ledger entries. It returns the removed paths.
func (c *Cache) Clear(ctx context.Context) ([]string, error) {
	entries, err := List(c.root)
	if err != nil {
		return nil, err
	}
	var removed []string
	for _, e := range entries {
		if err := os.Remove(e.Path); err != nil {
			return removed, fmt.Errorf("removing %s: %w", e.Path, err)
		}
		removed = append(removed, e.Path)
		c.forget(ctx, e.Key)
	}
	return removed, nil
}

// Prune removes the trace files the policy does not keep and drops their
// ledger entries.
func (c *Cache) Prune(ctx context.Context, policy RetentionPolicy) ([]string, error) {
	deleted, err := Prune(c.root, policy)
	for _, p := range deleted {
		c.forget(ctx, c.key(p))
	}
	return deleted, err
}

func (c *Cache) forget(ctx context.Context, key string) {
	if c.ledger == nil {
		return
	}
	if err := c.ledger.Delete(ctx, key); err != nil {
		c.logger.Warn("ledger delete failed", "key", key, "error", err)
	}
}

// rel returns path relative to root in slash form, or path itself when it
// is outside root.
func rel(root, path string) string {
	r, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(r, "..") {
		return path
	}
	return filepath.ToSlash(r)
}
