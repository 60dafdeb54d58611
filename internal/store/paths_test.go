package store

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLedgerPath(t *testing.T) {
	tests := []struct {
		root string
		want string
	}{
		{".cache", filepath.Join(".cache", "ledger.db")},
		{"/var/pvnav", filepath.Join("/var/pvnav", "ledger.db")},
	}
	for _, tt := range tests {
		if got := LedgerPath(tt.root); got != tt.want {
			t.Errorf("LedgerPath(%q) = %q, want %q", tt.root, got, tt.want)
		}
	}
}

func TestEnsureRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "a", "b")

	if err := EnsureRoot(root); err != nil {
		t.Fatalf("EnsureRoot() error = %v", err)
	}
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		t.Fatalf("root not created: %v", err)
	}

	// Existing directory is fine.
	if err := EnsureRoot(root); err != nil {
		t.Errorf("EnsureRoot() on existing dir error = %v", err)
	}

	if err := EnsureRoot(""); err == nil {
		t.Error("EnsureRoot(\"\") should fail")
	}
}
