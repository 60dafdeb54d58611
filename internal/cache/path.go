package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nvandessel/pvnav/internal/constants"
)

// IsTest reports whether name is a test name. Test names are never read
// from or written to disk.
func IsTest(name string) bool {
	return strings.Contains(name, constants.TestMarker)
}

// Key returns the cache key of name: the name without the trace extension.
func Key(name string) string {
	return strings.ReplaceAll(filepath.ToSlash(name), constants.CacheExt, "")
}

// FilePath resolves name to a trace file under root. An extension already
// present in name is not duplicated, and names already under root are not
// prefixed again. The parent directory is created if it doesn't exist.
func FilePath(root, name string) (string, error) {
	if root == "" {
		root = constants.DefaultCacheRoot
	}
	path := filepath.Clean(strings.ReplaceAll(name, constants.CacheExt, "") + constants.CacheExt)
	if !filepath.IsAbs(path) && !within(root, path) {
		path = filepath.Join(root, path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating cache directory: %w", err)
	}
	return path, nil
}

// within reports whether root is an ancestor directory of path.
func within(root, path string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Dir(path))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
