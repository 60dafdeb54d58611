package trace

import (
	"slices"

	"golang.org/x/exp/maps"
)

// APCount is the number of action potentials counted at one site.
type APCount struct {
	N int `json:"n"`
}

// APCounts holds the counts of a trial by site name. Scalar sites (soma,
// init, comm) have one count; Vector sites (props, one count per node) have
// one per element.
type APCounts struct {
	Scalar map[string]APCount   `json:"scalar,omitempty"`
	Vector map[string][]APCount `json:"vector,omitempty"`
}

// NewAPCounts returns empty counts.
func NewAPCounts() APCounts {
	return APCounts{
		Scalar: make(map[string]APCount),
		Vector: make(map[string][]APCount),
	}
}

// Get returns the scalar count at site.
func (a APCounts) Get(site string) (APCount, bool) {
	c, ok := a.Scalar[site]
	return c, ok
}

// Each returns the counts at a vector site.
func (a APCounts) Each(site string) ([]APCount, bool) {
	c, ok := a.Vector[site]
	return c, ok
}

// Sites returns every site name in sorted order.
func (a APCounts) Sites() []string {
	names := maps.Keys(a.Scalar)
	for k := range a.Vector {
		if _, dup := a.Scalar[k]; !dup {
			names = append(names, k)
		}
	}
	slices.Sort(names)
	return names
}

// Len returns the number of sites.
func (a APCounts) Len() int {
	return len(a.Sites())
}

// Equal reports whether both hold the same counts at the same sites.
func (a APCounts) Equal(b APCounts) bool {
	if !maps.Equal(a.Scalar, b.Scalar) || len(a.Vector) != len(b.Vector) {
		return false
	}
	for k, v := range a.Vector {
		w, ok := b.Vector[k]
		if !ok || !slices.Equal(v, w) {
			return false
		}
	}
	return true
}
