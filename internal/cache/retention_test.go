package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testEntries(now time.Time) []EntryInfo {
	return []EntryInfo{
		{Path: "/c/e5.trace", CreatedAt: now, Size: 100},
		{Path: "/c/e4.trace", CreatedAt: now.Add(-1 * time.Hour), Size: 100},
		{Path: "/c/e3.trace", CreatedAt: now.Add(-12 * time.Hour), Size: 100},
		{Path: "/c/e2.trace", CreatedAt: now.Add(-48 * time.Hour), Size: 100},
		{Path: "/c/e1.trace", CreatedAt: now.Add(-720 * time.Hour), Size: 100},
	}
}

func TestCountPolicy(t *testing.T) {
	entries := testEntries(time.Now())

	keep := (&CountPolicy{MaxCount: 3}).Apply(entries)
	if len(keep) != 3 || keep[0].Path != "/c/e5.trace" || keep[2].Path != "/c/e3.trace" {
		t.Errorf("CountPolicy{3}.Apply() = %v", keep)
	}
	if keep := (&CountPolicy{MaxCount: 10}).Apply(entries); len(keep) != 5 {
		t.Errorf("CountPolicy{10}.Apply() kept %d, want 5", len(keep))
	}
}

func TestCountPolicy_PerCell(t *testing.T) {
	entries := testEntries(time.Now())
	for i := range entries {
		entries[i].Trial.Cell = "pv"
	}
	entries[3].Trial.Cell = "pv_orig"
	entries[4].Trial.Cell = "pv_orig"

	keep := (&CountPolicy{MaxCount: 1, PerCell: true}).Apply(entries)
	if len(keep) != 2 || keep[0].Path != "/c/e5.trace" || keep[1].Path != "/c/e2.trace" {
		t.Errorf("per-cell CountPolicy{1}.Apply() = %v", keep)
	}
}

func TestAgePolicy(t *testing.T) {
	now := time.Now()
	keep := (&AgePolicy{MaxAge: 24 * time.Hour, Now: now}).Apply(testEntries(now))
	if len(keep) != 3 {
		t.Errorf("AgePolicy.Apply() kept %d, want 3", len(keep))
	}
	// measured from Now, every entry but the oldest is within 30 days
	keep = (&AgePolicy{MaxAge: 30 * 24 * time.Hour, Now: now.Add(time.Hour)}).Apply(testEntries(now))
	if len(keep) != 4 {
		t.Errorf("AgePolicy.Apply() kept %d, want 4", len(keep))
	}
}

func TestSizePolicy(t *testing.T) {
	entries := testEntries(time.Now())

	if keep := (&SizePolicy{MaxBytes: 250}).Apply(entries); len(keep) != 2 {
		t.Errorf("SizePolicy{250}.Apply() kept %d, want 2", len(keep))
	}
	// The newest entry is always kept.
	if keep := (&SizePolicy{MaxBytes: 10}).Apply(entries); len(keep) != 1 {
		t.Errorf("SizePolicy{10}.Apply() kept %d, want 1", len(keep))
	}
}

func TestCompositePolicy_Union(t *testing.T) {
	entries := testEntries(time.Now())
	policy := &CompositePolicy{Policies: []RetentionPolicy{
		&CountPolicy{MaxCount: 1},
		&AgePolicy{MaxAge: 2 * time.Hour},
	}}

	keep := policy.Apply(entries)
	if len(keep) != 2 || keep[0].Path != "/c/e5.trace" || keep[1].Path != "/c/e4.trace" {
		t.Errorf("CompositePolicy.Apply() = %v", keep)
	}
}

func storeAt(t *testing.T, root, name string, created time.Time) string {
	t.Helper()
	path, err := FilePath(root, name)
	if err != nil {
		t.Fatal(err)
	}
	header := Header{Key: name, CreatedAt: created, Trial: TrialInfo{Cell: "default", Amplitude: 0.1, Duration: 10}}
	if err := Store(path, header, nil, APSeries{{Site: "soma", Counts: []int{1}}}); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestList(t *testing.T) {
	root := t.TempDir()
	now := time.Now().UTC().Truncate(time.Second)
	storeAt(t, root, "old", now.Add(-2*time.Hour))
	storeAt(t, root, "nested/new", now)
	os.WriteFile(filepath.Join(root, "ledger.db"), []byte("x"), 0644)
	os.WriteFile(filepath.Join(root, "broken.trace"), []byte("x"), 0644)

	entries, err := List(root)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("List() = %d entries, want 3", len(entries))
	}

	byKey := make(map[string]EntryInfo)
	for _, e := range entries {
		byKey[e.Key] = e
	}
	if e := byKey["nested/new"]; !e.CreatedAt.Equal(now) || e.Trial.Cell != "default" || e.Err != nil || e.Shape {
		t.Errorf("nested/new = %+v", e)
	}
	if e := byKey["broken"]; e.Err == nil {
		t.Error("broken entry has no error")
	}
	if entries[len(entries)-1].Key != "old" {
		t.Errorf("List() not sorted newest-first: %v", entries)
	}
}

func TestList_MissingRoot(t *testing.T) {
	entries, err := List(filepath.Join(t.TempDir(), "nope"))
	if err != nil || len(entries) != 0 {
		t.Errorf("List(missing) = %v, %v", entries, err)
	}
}

func TestPrune(t *testing.T) {
	root := t.TempDir()
	now := time.Now().UTC()
	oldPath := storeAt(t, root, "old", now.Add(-72*time.Hour))
	newPath := storeAt(t, root, "new", now.Add(-time.Minute))

	deleted, err := Prune(root, &AgePolicy{MaxAge: 24 * time.Hour})
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if len(deleted) != 1 || deleted[0] != oldPath {
		t.Errorf("Prune() deleted %v, want [%s]", deleted, oldPath)
	}
	if _, err := os.Stat(newPath); err != nil {
		t.Errorf("kept entry missing: %v", err)
	}
}

func TestPrune_RemovesDamaged(t *testing.T) {
	root := t.TempDir()
	kept := storeAt(t, root, "good", time.Now().UTC())
	broken := filepath.Join(root, "broken.trace")
	if err := os.WriteFile(broken, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	deleted, err := Prune(root, &CountPolicy{MaxCount: 10})
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if len(deleted) != 1 || deleted[0] != broken {
		t.Errorf("Prune() deleted %v, want [%s]", deleted, broken)
	}
	if _, err := os.Stat(kept); err != nil {
		t.Errorf("readable entry removed: %v", err)
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Duration
		wantErr bool
	}{
		{"720h", 720 * time.Hour, false},
		{"30d", 30 * 24 * time.Hour, false},
		{"2w", 14 * 24 * time.Hour, false},
		{"90m", 90 * time.Minute, false},
		{"", 0, true},
		{"x", 0, true},
		{"5y", 0, true},
		{"abcd", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDuration(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDuration(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseDuration(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
