package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// LedgerFile is the name of the SQLite ledger inside a cache root.
const LedgerFile = "ledger.db"

// LedgerPath returns the path of the ledger database for the given cache root.
func LedgerPath(root string) string {
	return filepath.Join(root, LedgerFile)
}

// EnsureRoot creates the cache root if it doesn't exist.
// Returns nil if the directory already exists or was successfully created.
func EnsureRoot(root string) error {
	if root == "" {
		return fmt.Errorf("cache root must not be empty")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return fmt.Errorf("failed to create cache root %s: %w", root, err)
	}
	return nil
}
