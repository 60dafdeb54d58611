package cache

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nvandessel/pvnav/internal/constants"
)

// EntryInfo describes one trace file under the cache root.
type EntryInfo struct {
	Path      string
	Key       string
	Size      int64
	CreatedAt time.Time
	Trial     TrialInfo
	Shape     bool

	// Err is set when the header could not be read. CreatedAt then falls
	// back to the file's modification time.
	Err error
}

// Damaged reports whether the entry's header could not be read.
func (e EntryInfo) Damaged() bool { return e.Err != nil }

// List walks root for trace files and returns them newest first, ties
// broken by key. A missing root yields no entries.
func List(root string) ([]EntryInfo, error) {
	var entries []EntryInfo
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == root {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() || filepath.Ext(path) != constants.CacheExt {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		entries = append(entries, describe(root, path, info))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing cache %s: %w", root, err)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.After(entries[j].CreatedAt)
		}
		return entries[i].Key < entries[j].Key
	})
	return entries, nil
}

func describe(root, path string, info fs.FileInfo) EntryInfo {
	e := EntryInfo{
		Path:      path,
		Key:       Key(rel(root, path)),
		Size:      info.Size(),
		CreatedAt: info.ModTime(),
	}
	h, err := ReadHeader(path)
	if err != nil {
		e.Err = err
		return e
	}
	e.CreatedAt = h.CreatedAt
	e.Trial = h.Trial
	e.Shape = h.Has(PayloadShape)
	return e
}

// RetentionPolicy picks the trials to keep from a newest-first listing of
// readable entries.
type RetentionPolicy interface {
	Apply(entries []EntryInfo) (keep []EntryInfo)
}

// CountPolicy keeps the MaxCount newest trials. With PerCell the limit
// applies to each cell model separately, so a burst of sweeps on one
// variant doesn't evict the other's trials.
type CountPolicy struct {
	MaxCount int
	PerCell  bool
}

func (p *CountPolicy) Apply(entries []EntryInfo) []EntryInfo {
	seen := make(map[string]int)
	return filter(entries, func(e EntryInfo) bool {
		group := ""
		if p.PerCell {
			group = e.Trial.Cell
		}
		seen[group]++
		return seen[group] <= p.MaxCount
	})
}

// AgePolicy keeps trials created within MaxAge of Now. A zero Now means
// the time of the call.
type AgePolicy struct {
	MaxAge time.Duration
	Now    time.Time
}

func (p *AgePolicy) Apply(entries []EntryInfo) []EntryInfo {
	now := p.Now
	if now.IsZero() {
		now = time.Now()
	}
	cutoff := now.Add(-p.MaxAge)
	return filter(entries, func(e EntryInfo) bool { return e.CreatedAt.After(cutoff) })
}

// SizePolicy keeps the newest trials whose files fit in MaxBytes. The
// newest trial is kept even when it alone is larger.
type SizePolicy struct {
	MaxBytes int64
}

func (p *SizePolicy) Apply(entries []EntryInfo) []EntryInfo {
	var total int64
	n := 0
	full := false
	return filter(entries, func(e EntryInfo) bool {
		if full || (n > 0 && total+e.Size > p.MaxBytes) {
			full = true
			return false
		}
		total += e.Size
		n++
		return true
	})
}

// CompositePolicy keeps a trial if any of its policies does.
type CompositePolicy struct {
	Policies []RetentionPolicy
}

func (p *CompositePolicy) Apply(entries []EntryInfo) []EntryInfo {
	kept := make(map[string]bool)
	for _, policy := range p.Policies {
		for _, e := range policy.Apply(entries) {
			kept[e.Path] = true
		}
	}
	return filter(entries, func(e EntryInfo) bool { return kept[e.Path] })
}

// filter returns the entries keep accepts, visited in order.
func filter(entries []EntryInfo, keep func(EntryInfo) bool) []EntryInfo {
	var out []EntryInfo
	for _, e := range entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

// Prune deletes the trace files under root that policy does not keep.
// Damaged files are never offered to the policy and are always deleted.
func Prune(root string, policy RetentionPolicy) (deleted []string, err error) {
	entries, err := List(root)
	if err != nil {
		return nil, err
	}

	readable := filter(entries, func(e EntryInfo) bool { return !e.Damaged() })
	keep := make(map[string]bool, len(readable))
	for _, e := range policy.Apply(readable) {
		keep[e.Path] = true
	}

	for _, e := range entries {
		if keep[e.Path] {
			continue
		}
		if err := os.Remove(e.Path); err != nil {
			return deleted, fmt.Errorf("removing %s: %w", filepath.Base(e.Path), err)
		}
		deleted = append(deleted, e.Path)
	}
	return deleted, nil
}

// ageUnits extends time.ParseDuration with day and week suffixes.
var ageUnits = map[byte]time.Duration{
	'd': 24 * time.Hour,
	'w': 7 * 24 * time.Hour,
}

// ParseDuration parses a trial age such as "720h", "30d" or "2w".
func ParseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("empty duration string")
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	unit, ok := ageUnits[s[len(s)-1]]
	if !ok || len(s) < 2 {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}
	n, err := strconv.Atoi(strings.TrimSpace(s[:len(s)-1]))
	if err != nil {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}
	return time.Duration(n) * unit, nil
}
