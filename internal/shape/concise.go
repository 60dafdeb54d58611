package shape

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/nvandessel/pvnav/internal/constants"
)

// ErrNotLong is returned by operations that require a long table.
var ErrNotLong = errors.New("table is not in long form")

// Concise keeps the rows of the three landmark sites: the soma (distance 0
// when soma is true, negative distances otherwise), the far end of the AIS and the most distal recorded
// point (the pre-synaptic terminal). Rows keep their order and are labelled
// in Site.
func Concise(l *Long, soma bool) (*Long, error) {
	if !IsLong(l) {
		return nil, ErrNotLong
	}

	aisEnd := math.Inf(-1)
	terminal := math.Inf(-1)
	for _, s := range l.Rows {
		if s.Section == constants.AISSection && s.Distance > aisEnd {
			aisEnd = s.Distance
		}
		if s.Distance > terminal {
			terminal = s.Distance
		}
	}

	out := &Long{}
	for _, s := range l.Rows {
		var atSoma bool
		if soma {
			atSoma = s.Distance == 0
		} else {
			atSoma = s.Distance < 0
		}
		if !atSoma && s.Distance != aisEnd && s.Distance != terminal {
			continue
		}
		switch {
		case s.Section == constants.AISSection:
			s.Site = constants.AISLabel
		case atSoma:
			s.Site = constants.SomaLabel
		default:
			s.Site = constants.TerminalLabel
		}
		out.Rows = append(out.Rows, s)
	}
	return out, nil
}

// WriteCSV writes l with a header row. A site column is added when any row
// carries a site label.
func WriteCSV(w io.Writer, l *Long) error {
	if l == nil {
		return ErrNotLong
	}
	withSite := false
	for _, s := range l.Rows {
		if s.Site != "" {
			withSite = true
			break
		}
	}

	cw := csv.NewWriter(w)
	header := l.ColumnNames()
	if withSite {
		header = append(header, constants.SiteLabel)
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}

	for i, s := range l.Rows {
		rec := []string{
			formatValue(s.Time),
			s.Section,
			formatValue(s.Distance),
			formatValue(s.Voltage),
		}
		if withSite {
			rec = append(rec, s.Site)
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("writing csv row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
