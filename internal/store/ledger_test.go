package store

import (
	"context"
	"testing"
	"time"
)

// ledgers returns one fresh instance of every Ledger implementation.
func ledgers(t *testing.T) map[string]Ledger {
	t.Helper()
	sq, err := NewSQLiteLedger(t.TempDir())
	if err != nil {
		t.Fatalf("NewSQLiteLedger() error = %v", err)
	}
	t.Cleanup(func() { sq.Close() })
	return map[string]Ledger{
		"memory": NewInMemoryLedger(),
		"sqlite": sq,
	}
}

func testEntry(key string, created time.Time) Entry {
	return Entry{
		Key:       key,
		Path:      "/tmp/cache/" + key + ".trace",
		Cell:      "default(1000.0, 30.0, 1.0, 60.0)",
		Amplitude: 0.5,
		Duration:  1000,
		Frequency: 10,
		Shape:     true,
		Size:      4096,
		CreatedAt: created,
	}
}

func TestLedger_RecordGet(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			want := testEntry("default_1.0_all_0.5_1000", created)
			if err := l.Record(ctx, want); err != nil {
				t.Fatalf("Record() error = %v", err)
			}

			got, err := l.Get(ctx, want.Key)
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if got == nil {
				t.Fatal("Get() returned nil for recorded entry")
			}
			if got.Path != want.Path || got.Cell != want.Cell || got.Amplitude != want.Amplitude ||
				got.Duration != want.Duration || got.Frequency != want.Frequency || got.Shape != want.Shape ||
				got.Size != want.Size || !got.CreatedAt.Equal(want.CreatedAt) {
				t.Errorf("Get() = %+v, want %+v", got, want)
			}
			if got.Hits != 0 || got.LastHit != nil {
				t.Errorf("new entry hits = %d, last hit = %v", got.Hits, got.LastHit)
			}

			missing, err := l.Get(ctx, "missing")
			if err != nil || missing != nil {
				t.Errorf("Get(missing) = %v, %v, want nil, nil", missing, err)
			}
		})
	}
}

func TestLedger_RecordRequiresKey(t *testing.T) {
	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			if err := l.Record(context.Background(), Entry{Path: "x"}); err == nil {
				t.Error("Record() with empty key should fail")
			}
		})
	}
}

func TestLedger_TouchAndReplace(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	hit := created.Add(time.Hour)
	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			e := testEntry("k", created)
			if err := l.Record(ctx, e); err != nil {
				t.Fatalf("Record() error = %v", err)
			}
			for i := 0; i < 3; i++ {
				if err := l.Touch(ctx, "k", hit); err != nil {
					t.Fatalf("Touch() error = %v", err)
				}
			}
			if err := l.Touch(ctx, "unknown", hit); err != nil {
				t.Errorf("Touch(unknown) error = %v", err)
			}

			// Rewriting the entry keeps its hit history.
			e.Size = 8192
			if err := l.Record(ctx, e); err != nil {
				t.Fatalf("Record() error = %v", err)
			}

			got, err := l.Get(ctx, "k")
			if err != nil || got == nil {
				t.Fatalf("Get() = %v, %v", got, err)
			}
			if got.Hits != 3 {
				t.Errorf("Hits = %d, want 3", got.Hits)
			}
			if got.LastHit == nil || !got.LastHit.Equal(hit) {
				t.Errorf("LastHit = %v, want %v", got.LastHit, hit)
			}
			if got.Size != 8192 {
				t.Errorf("Size = %d, want 8192", got.Size)
			}
		})
	}
}

func TestLedger_ListDelete(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, e := range []Entry{
				testEntry("c", base.Add(2*time.Minute)),
				testEntry("b", base),
				testEntry("a", base),
			} {
				if err := l.Record(ctx, e); err != nil {
					t.Fatalf("Record() error = %v", err)
				}
			}

			entries, err := l.List(ctx)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			var keys []string
			for _, e := range entries {
				keys = append(keys, e.Key)
			}
			if len(keys) != 3 || keys[0] != "a" || keys[1] != "b" || keys[2] != "c" {
				t.Errorf("List() keys = %v, want [a b c]", keys)
			}

			if err := l.Delete(ctx, "b"); err != nil {
				t.Fatalf("Delete() error = %v", err)
			}
			if err := l.Delete(ctx, "b"); err != nil {
				t.Errorf("second Delete() error = %v", err)
			}
			entries, _ = l.List(ctx)
			if len(entries) != 2 {
				t.Errorf("List() after delete = %d entries, want 2", len(entries))
			}
		})
	}
}
