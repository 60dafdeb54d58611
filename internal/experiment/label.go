// Package experiment runs Nav1.1 manipulation sweeps: every combination of
// Nav1.1 fraction, location and stimulus amplitude is run through the trial
// cache and summarized by firing rate, propagation failures and how far
// spikes travel along the axon.
package experiment

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"gonum.org/v1/gonum/floats/scalar"

	"github.com/nvandessel/pvnav/internal/cell"
	"github.com/nvandessel/pvnav/internal/sim"
)

// ErrUnsupportedLoc is returned for locations whose Nav1.1 baseline is unknown.
var ErrUnsupportedLoc = errors.New("unsupported Nav1.1 location")

// Key returns the cache name of one sweep point.
func Key(cellName string, frac float64, navLoc string, stim, dur float64) string {
	return fmt.Sprintf("%s_%s_%s_%s_%s", cellName,
		cell.FormatFloat(frac), navLoc, cell.FormatFloat(stim), cell.FormatFloat(dur))
}

// NavLoc is the set of section groups whose Nav1.1 conductance is changed.
type NavLoc []sim.Group

// String renders a single group by name and several as a tuple, e.g.
// "('ais', 'nodes')". StrToTuple reverses the tuple form.
func (l NavLoc) String() string {
	if len(l) == 1 {
		return string(l[0])
	}
	parts := make([]string, len(l))
	for i, g := range l {
		parts[i] = "'" + string(g) + "'"
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// ParseNavLoc parses a location written as a group name, a tuple produced by
// NavLoc.String or groups joined by "+".
func ParseNavLoc(s string) (NavLoc, error) {
	var names []string
	switch {
	case strings.HasPrefix(strings.TrimSpace(s), "("):
		names = StrToTuple(strings.TrimSpace(s))
	case strings.Contains(s, "+"):
		names = strings.Split(s, "+")
	default:
		names = []string{s}
	}

	loc := make(NavLoc, 0, len(names))
	for _, n := range names {
		n = strings.TrimSuffix(strings.TrimSpace(n), ",")
		if n == "" {
			continue
		}
		g, err := sim.ParseGroup(n)
		if err != nil {
			return nil, err
		}
		loc = append(loc, g)
	}
	if len(loc) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLoc, s)
	}
	return loc, nil
}

// FormatNavLoc returns the display label of a location: "AIS" for the axon
// initial segment, "Soma" for somatic sections and "AIS+Nodes" for the axon.
func FormatNavLoc(l NavLoc) string {
	parts := make([]string, len(l))
	for i, g := range l {
		parts[i] = formatGroup(g)
	}
	return strings.Join(parts, "+")
}

func formatGroup(g sim.Group) string {
	switch g {
	case sim.AIS:
		return "AIS"
	case sim.Somatic:
		return formatGroup(sim.Soma)
	case sim.Axonal:
		return FormatNavLoc(NavLoc{sim.AIS, sim.Nodes})
	}
	s := strings.ToLower(string(g))
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// PercDecrease converts a Nav1.1 fraction to the percentage removed,
// rounded half to even at fp decimals.
func PercDecrease(frac float64, fp int) float64 {
	return scalar.RoundEven(100*(1-frac), fp)
}

// StrToTuple splits a tuple rendered as "('a', 'b')" into its elements.
func StrToTuple(s string) []string {
	subs := strings.Split(s, ", ")
	out := make([]string, len(subs))
	r := strings.NewReplacer("'", "", "(", "", ")", "")
	for i, sub := range subs {
		out[i] = r.Replace(sub)
	}
	return out
}

// groups expands a location into the regions that carry a Nav1.1 baseline.
func (l NavLoc) groups() ([]sim.Group, error) {
	var out []sim.Group
	add := func(gs ...sim.Group) {
		for _, g := range gs {
			if !slices.Contains(out, g) {
				out = append(out, g)
			}
		}
	}
	for _, g := range l {
		switch g {
		case sim.Soma, sim.Somatic:
			add(sim.Somatic)
		case sim.AIS, sim.Nodes:
			add(g)
		case sim.Axonal:
			add(sim.AIS, sim.Nodes)
		case sim.All:
			add(sim.Somatic, sim.AIS, sim.Nodes)
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedLoc, g)
		}
	}
	return out, nil
}
