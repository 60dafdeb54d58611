// Package measure extracts events from shape tables: spike onset times,
// propagation failures between recording sites and how far along the axon
// activity reached.
package measure

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/nvandessel/pvnav/internal/shape"
)

// NoLocation is the index reported when no sample qualifies.
const NoLocation = -1

// ErrUnknownSection is returned when the requested section was not recorded.
var ErrUnknownSection = errors.New("section not recorded")

// ErrUnsupportedTable is returned for tables that are neither *shape.Wide nor *shape.Long.
var ErrUnsupportedTable = errors.New("unsupported table type")

// SpikeTimes returns the onset times of spikes recorded at section. An onset
// is the first sample at or above threshold that comes at least gap ms after
// the previous onset; the first onset must come at least gap ms after time
// zero. The site is the first recorded location of section, and wide and long
// forms of the same table give identical results. No sample above threshold
// yields an empty result.
func SpikeTimes(t shape.Table, threshold, gap float64, section string) ([]float64, error) {
	if shape.IsLong(t) {
		l, ok := t.(*shape.Long)
		if !ok {
			return nil, fmt.Errorf("%w: %T", ErrUnsupportedTable, t)
		}
		return spikeTimesLong(l, threshold, gap, section)
	}
	w, ok := t.(*shape.Wide)
	if !ok || w == nil {
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedTable, t)
	}
	return spikeTimesWide(w, threshold, gap, section)
}

// onsets scans time-ordered samples.
type onsets struct {
	threshold, gap float64
	prev           float64
	times          []float64
}

func (o *onsets) add(t, v float64) {
	if v >= o.threshold && t >= o.prev+o.gap {
		o.times = append(o.times, t)
		o.prev = t
	}
}

func spikeTimesWide(w *shape.Wide, threshold, gap float64, section string) ([]float64, error) {
	col := w.Column(section)
	if col < 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSection, section)
	}
	o := onsets{threshold: threshold, gap: gap, times: []float64{}}
	for r, t := range w.Time {
		o.add(t, w.Values[col][r])
	}
	return o.times, nil
}

// spikeTimesLong scans the rows of the first column recorded in section, in
// table order. Repeated times are scanned like any other sample.
func spikeTimesLong(l *shape.Long, threshold, gap float64, section string) ([]float64, error) {
	var first shape.Sample
	found := false
	o := onsets{threshold: threshold, gap: gap, times: []float64{}}
	for _, s := range l.Rows {
		if s.Section != section {
			continue
		}
		if !found {
			first, found = s, true
		}
		if s.Column != first.Column || s.Location() != first.Location() {
			continue
		}
		o.add(s.Time, s.Voltage)
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSection, section)
	}
	return o.times, nil
}

// FindFailures returns the times with no matching event in ref. A time t is
// matched when the nearest reference time r satisfies t <= r <= t+tol; on
// equal distance the earliest reference in ref wins. With no reference
// times every time fails. Input order is kept.
func FindFailures(times, ref []float64, tol float64) []float64 {
	failures := make([]float64, 0, len(times))
	if len(ref) == 0 {
		return append(failures, times...)
	}
	for _, t := range times {
		r := ref[NearestIndex(ref, t)]
		if r < t || r-t > tol {
			failures = append(failures, t)
		}
	}
	return failures
}

// NearestIndex returns the index of the value in arr closest to v, the
// lowest index on ties, or -1 for an empty slice.
func NearestIndex(arr []float64, v float64) int {
	if len(arr) == 0 {
		return -1
	}
	diffs := make([]float64, len(arr))
	for i, a := range arr {
		diffs[i] = math.Abs(a - v)
	}
	return floats.MinIdx(diffs)
}

// NearestValue returns the value in arr closest to v. It panics on an empty slice.
func NearestValue(arr []float64, v float64) float64 {
	return arr[NearestIndex(arr, v)]
}

// Window bounds sample times (ms), inclusive at both ends.
type Window struct {
	From float64
	To   float64
}

// Since returns a window open at the end.
func Since(from float64) Window {
	return Window{From: from, To: math.Inf(1)}
}

// Between returns a closed window.
func Between(from, to float64) Window {
	return Window{From: from, To: to}
}

// Contains reports whether t lies in the window.
func (w Window) Contains(t float64) bool {
	return t >= w.From && t <= w.To
}

// MaxPropagation returns the row of the long form of t with the greatest
// distance among samples inside win at or above threshold, and that
// distance. Wide tables are converted first. Without a qualifying sample it
// returns NoLocation and NaN.
func MaxPropagation(t shape.Table, threshold float64, win Window) (int, float64) {
	var l *shape.Long
	switch tbl := t.(type) {
	case *shape.Long:
		l = tbl
	case *shape.Wide:
		l = shape.ToLong(tbl)
	}
	if l == nil {
		return NoLocation, math.NaN()
	}

	idx, dist := NoLocation, math.Inf(-1)
	for i, s := range l.Rows {
		if s.Voltage >= threshold && win.Contains(s.Time) && s.Distance > dist {
			idx, dist = i, s.Distance
		}
	}
	if idx == NoLocation {
		return NoLocation, math.NaN()
	}
	return idx, dist
}

// LastSection returns the section of the most distal sample.
func LastSection(l *shape.Long) (string, bool) {
	if l.Len() == 0 {
		return "", false
	}
	best := 0
	for i, s := range l.Rows {
		if s.Distance > l.Rows[best].Distance {
			best = i
		}
	}
	return l.Rows[best].Section, true
}

// InstantaneousRate returns 1000/ISI (Hz) for consecutive spike times in ms.
func InstantaneousRate(times []float64) []float64 {
	if len(times) < 2 {
		return []float64{}
	}
	rates := make([]float64, len(times)-1)
	for i := range rates {
		rates[i] = 1000 / (times[i+1] - times[i])
	}
	return rates
}

// MeanInstantaneousRate averages InstantaneousRate, or returns 0 with fewer
// than two spikes.
func MeanInstantaneousRate(times []float64) float64 {
	rates := InstantaneousRate(times)
	if len(rates) == 0 {
		return 0
	}
	return stat.Mean(rates, nil)
}

// FiringRate converts a spike count over dur ms to Hz.
func FiringRate(n int, dur float64) float64 {
	if dur <= 0 {
		return 0
	}
	return float64(n) * 1000 / dur
}

// Failed returns the fraction of times that failed to propagate.
func Failed(times, failures []float64) float64 {
	if len(times) == 0 {
		return 0
	}
	n := 0
	for _, f := range failures {
		if slices.Contains(times, f) {
			n++
		}
	}
	return float64(n) / float64(len(times))
}
