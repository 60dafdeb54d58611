// Package logging provides leveled logging and trial tracing for pvnav.
// It offers two complementary outputs:
//   - A leveled slog.Logger for stderr (operational output)
//   - A TrialLogger for structured JSONL trial events (<cache root>/trials.jsonl)
package logging

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LevelTrace is a custom slog level below Debug for per-step simulator output.
const LevelTrace = slog.LevelDebug - 4

// TrialLogFile is the file name trial events are appended to.
const TrialLogFile = "trials.jsonl"

// ParseLevel maps a string level name to a slog.Level.
// Supported values: "info", "debug", "trace" (case-insensitive).
// Unknown values default to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "trace":
		return LevelTrace
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a leveled slog.Logger writing to w.
func NewLogger(level string, w io.Writer) *slog.Logger {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace {
					a.Value = slog.StringValue("TRACE")
				}
			}
			return a
		},
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(discardHandler{})
}

// OrDiscard returns l, or a discarding logger when l is nil.
func OrDiscard(l *slog.Logger) *slog.Logger {
	if l == nil {
		return Discard()
	}
	return l
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (h discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return h }
func (h discardHandler) WithGroup(string) slog.Handler           { return h }

// Trial event kinds.
const (
	EventCacheHit    = "cache_hit"
	EventCacheMiss   = "cache_miss"
	EventCacheBypass = "cache_bypass"
)

// TrialEvent is one line of the trial log: how a single trial request was
// served and how long it took.
type TrialEvent struct {
	Time      time.Time `json:"time"`
	Event     string    `json:"event"`
	TrialID   string    `json:"trial_id"`
	Key       string    `json:"key"`
	Cell      string    `json:"cell"`
	Amplitude float64   `json:"amplitude"`
	Duration  float64   `json:"duration"`
	Frequency float64   `json:"frequency,omitempty"`
	Shape     bool      `json:"shape"`
	ElapsedMS int64     `json:"elapsed_ms"`
}

// TrialLogger appends trial events to a JSONL file. It is safe for
// concurrent use, and a nil *TrialLogger discards everything.
type TrialLogger struct {
	mu  sync.Mutex
	enc *json.Encoder
	f   *os.File
}

// NewTrialLogger opens dir/trials.jsonl for append. Trial events are only
// recorded at "debug" or "trace" level: at any other level, or when the
// file can't be opened, it returns nil.
func NewTrialLogger(dir string, level string) *TrialLogger {
	if ParseLevel(level) == slog.LevelInfo {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil
	}
	f, err := os.OpenFile(filepath.Join(dir, TrialLogFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil
	}
	return &TrialLogger{enc: json.NewEncoder(f), f: f}
}

// Log appends ev as one line. A zero Time is set to the current UTC time.
func (tl *TrialLogger) Log(ev TrialEvent) {
	if tl == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}

	tl.mu.Lock()
	defer tl.mu.Unlock()
	if tl.f == nil {
		return
	}
	_ = tl.enc.Encode(ev)
}

// Close closes the log file. Later events are dropped.
func (tl *TrialLogger) Close() {
	if tl == nil {
		return
	}
	tl.mu.Lock()
	defer tl.mu.Unlock()
	if tl.f != nil {
		tl.f.Close()
		tl.f = nil
	}
}
