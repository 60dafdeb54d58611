// Package shape holds per-segment voltage recordings along a cell ("shape"
// tables) and converts them between wide and long layouts.
//
// A Wide table has one time axis and one column per recorded location. A
// Long table has one row per (time, section, distance) sample. ToLong and
// ToWide are inverses: no value is aggregated or dropped in either direction.
package shape

import (
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/nvandessel/pvnav/internal/constants"
)

// ErrRaggedTable is returned when a column's length differs from the time axis.
var ErrRaggedTable = errors.New("column length does not match time axis")

// Location addresses a recorded segment by section name and distance from
// the soma reference (μm). Several columns may share a Location.
type Location struct {
	Section  string  `json:"section"`
	Distance float64 `json:"distance"`
}

// String returns "section@distance".
func (l Location) String() string {
	return l.Section + "@" + strconv.FormatFloat(l.Distance, 'g', -1, 64)
}

// Table is implemented by both layouts.
type Table interface {
	// ColumnNames lists the table's columns. A long table includes
	// constants.TimeLabel; a wide table indexes by time instead.
	ColumnNames() []string
}

// Wide is a shape table with time as its index. Values[c][r] is the voltage
// of column c at Time[r]. Columns keep registration order.
type Wide struct {
	Time    []float64
	Columns []Location
	Values  [][]float64
}

// NewWide returns an empty wide table over the time axis t.
func NewWide(t []float64) *Wide {
	return &Wide{Time: t}
}

// Add appends a column. The values must cover the time axis.
func (w *Wide) Add(loc Location, values []float64) error {
	if len(values) != len(w.Time) {
		return fmt.Errorf("column %s has %d values for %d times: %w", loc, len(values), len(w.Time), ErrRaggedTable)
	}
	w.Columns = append(w.Columns, loc)
	w.Values = append(w.Values, values)
	return nil
}

// Rows returns the number of time samples.
func (w *Wide) Rows() int {
	if w == nil {
		return 0
	}
	return len(w.Time)
}

// ColumnNames returns the location of every column.
func (w *Wide) ColumnNames() []string {
	if w == nil {
		return nil
	}
	names := make([]string, len(w.Columns))
	for i, c := range w.Columns {
		names[i] = c.String()
	}
	return names
}

// Column returns the index of the first column in section, or -1.
func (w *Wide) Column(section string) int {
	if w == nil {
		return -1
	}
	for i, c := range w.Columns {
		if c.Section == section {
			return i
		}
	}
	return -1
}

// Validate checks that every column covers the time axis.
func (w *Wide) Validate() error {
	if len(w.Columns) != len(w.Values) {
		return fmt.Errorf("%d columns but %d value series: %w", len(w.Columns), len(w.Values), ErrRaggedTable)
	}
	for i, v := range w.Values {
		if len(v) != len(w.Time) {
			return fmt.Errorf("column %s has %d values for %d times: %w", w.Columns[i], len(v), len(w.Time), ErrRaggedTable)
		}
	}
	return nil
}

// Equal reports whether two wide tables hold identical times, columns and values.
func (w *Wide) Equal(o *Wide) bool {
	if w == nil || o == nil {
		return w == o
	}
	if !slices.Equal(w.Time, o.Time) || !slices.Equal(w.Columns, o.Columns) || len(w.Values) != len(o.Values) {
		return false
	}
	for i := range w.Values {
		if !slices.Equal(w.Values[i], o.Values[i]) {
			return false
		}
	}
	return true
}

// Sample is one row of a long table.
type Sample struct {
	Time     float64 `json:"time"`
	Section  string  `json:"section"`
	Distance float64 `json:"distance"`
	Voltage  float64 `json:"voltage"`

	// Site labels rows selected by Concise; empty otherwise.
	Site string `json:"site,omitempty"`

	// Column is the wide column the row was melted from. It separates
	// columns that share a location.
	Column int `json:"-"`
}

// Location returns the sample's location.
func (s Sample) Location() Location {
	return Location{Section: s.Section, Distance: s.Distance}
}

// Long is a shape table with one row per sample.
type Long struct {
	Rows []Sample
}

// ColumnNames returns the long-form column labels.
func (l *Long) ColumnNames() []string {
	if l == nil {
		return nil
	}
	return []string{constants.TimeLabel, constants.SectionLabel, constants.DistanceLabel, constants.VoltageLabel}
}

// Len returns the number of rows.
func (l *Long) Len() int {
	if l == nil {
		return 0
	}
	return len(l.Rows)
}

// IsLong reports whether t is a long table: a non-nil table with a time column.
func IsLong(t Table) bool {
	if t == nil {
		return false
	}
	return slices.Contains(t.ColumnNames(), constants.TimeLabel)
}

// ToLong melts w column by column: all samples of the first column in time
// order, then the second, and so on.
func ToLong(w *Wide) *Long {
	if w == nil {
		return nil
	}
	rows := make([]Sample, 0, len(w.Columns)*len(w.Time))
	for c, loc := range w.Columns {
		for r, t := range w.Time {
			rows = append(rows, Sample{
				Time:     t,
				Section:  loc.Section,
				Distance: loc.Distance,
				Voltage:  w.Values[c][r],
				Column:   c,
			})
		}
	}
	return &Long{Rows: rows}
}

// ToWide regroups a long table produced by ToLong. The time axis is the
// leading run of increasing times at the first location; every following
// block of that many rows becomes one column, so duplicate locations stay
// separate.
func ToWide(l *Long) (*Wide, error) {
	if l == nil || len(l.Rows) == 0 {
		return &Wide{}, nil
	}

	first := l.Rows[0].Location()
	times := []float64{l.Rows[0].Time}
	for _, s := range l.Rows[1:] {
		if s.Location() != first || s.Time <= times[len(times)-1] {
			break
		}
		times = append(times, s.Time)
	}
	n := len(times)
	if len(l.Rows)%n != 0 {
		return nil, fmt.Errorf("%d rows do not divide into columns of %d: %w", len(l.Rows), n, ErrRaggedTable)
	}

	w := NewWide(times)
	for start := 0; start < len(l.Rows); start += n {
		loc := l.Rows[start].Location()
		vals := make([]float64, n)
		for i, s := range l.Rows[start : start+n] {
			if s.Location() != loc || s.Time != times[i] {
				return nil, fmt.Errorf("location %s row %d: %w", loc, start+i, ErrRaggedTable)
			}
			vals[i] = s.Voltage
		}
		if err := w.Add(loc, vals); err != nil {
			return nil, err
		}
	}
	return w, nil
}
