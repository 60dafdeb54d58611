package shape

import (
	"bytes"
	"encoding/csv"
	"errors"
	"strings"
	"testing"

	"github.com/nvandessel/pvnav/internal/constants"
)

func sampleWide(t *testing.T) *Wide {
	t.Helper()
	w := NewWide([]float64{0, 0.5, 1, 1.5})
	cols := []struct {
		loc  Location
		vals []float64
	}{
		{Location{"soma[0]", 0}, []float64{-65, -20, 10, -60}},
		{Location{"axon[0]", 15}, []float64{-65, -40, 5, -50}},
		// duplicate location from a second segment
		{Location{"axon[0]", 15}, []float64{-64, -41, 6, -51}},
		{Location{"axon[1]", 40}, []float64{-65, -65, -10, 20}},
		{Location{"node[0]", 75.5}, []float64{-65, -65, -65, 30}},
	}
	for _, c := range cols {
		if err := w.Add(c.loc, c.vals); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	return w
}

func TestToLong_PreservesEverySample(t *testing.T) {
	w := sampleWide(t)
	l := ToLong(w)

	if got, want := l.Len(), len(w.Columns)*len(w.Time); got != want {
		t.Fatalf("rows = %d, want %d", got, want)
	}
	// column-major order
	first := l.Rows[:len(w.Time)]
	for i, s := range first {
		if s.Section != "soma[0]" || s.Time != w.Time[i] || s.Voltage != w.Values[0][i] {
			t.Errorf("row %d = %+v", i, s)
		}
	}
	if l.Rows[len(w.Time)].Section != "axon[0]" {
		t.Errorf("second block starts with %q", l.Rows[len(w.Time)].Section)
	}
}

func TestRoundTrip(t *testing.T) {
	w := sampleWide(t)
	back, err := ToWide(ToLong(w))
	if err != nil {
		t.Fatalf("ToWide: %v", err)
	}
	if !back.Equal(w) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", back, w)
	}
}

func TestToWide_Errors(t *testing.T) {
	l := ToLong(sampleWide(t))
	l.Rows = l.Rows[:len(l.Rows)-1]
	if _, err := ToWide(l); !errors.Is(err, ErrRaggedTable) {
		t.Errorf("truncated table error = %v, want ErrRaggedTable", err)
	}

	empty, err := ToWide(&Long{})
	if err != nil || empty.Rows() != 0 {
		t.Errorf("empty ToWide = %+v, %v", empty, err)
	}
}

func TestAdd_Ragged(t *testing.T) {
	w := NewWide([]float64{0, 1})
	if err := w.Add(Location{"soma[0]", 0}, []float64{1}); !errors.Is(err, ErrRaggedTable) {
		t.Errorf("Add error = %v, want ErrRaggedTable", err)
	}
}

func TestIsLong(t *testing.T) {
	var nilLong *Long
	tests := []struct {
		name  string
		table Table
		want  bool
	}{
		{"long", ToLong(sampleWide(t)), true},
		{"empty long", &Long{}, true},
		{"wide", sampleWide(t), false},
		{"nil interface", nil, false},
		{"nil long", nilLong, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsLong(tt.table); got != tt.want {
				t.Errorf("IsLong = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConcise(t *testing.T) {
	l := ToLong(sampleWide(t))

	c, err := Concise(l, true)
	if err != nil {
		t.Fatalf("Concise: %v", err)
	}
	sites := map[string]int{}
	for _, s := range c.Rows {
		sites[s.Site]++
	}
	if sites[constants.SomaLabel] != 4 || sites[constants.AISLabel] != 4 || sites[constants.TerminalLabel] != 4 {
		t.Errorf("site counts = %v, want 4 of each", sites)
	}

	c, err = Concise(l, false)
	if err != nil {
		t.Fatalf("Concise: %v", err)
	}
	for _, s := range c.Rows {
		if s.Site == constants.SomaLabel {
			t.Fatal("soma rows should be excluded")
		}
	}

	if _, err := Concise(nil, true); !errors.Is(err, ErrNotLong) {
		t.Errorf("Concise(nil) error = %v, want ErrNotLong", err)
	}
}

func TestConcise_SomaReference(t *testing.T) {
	w := NewWide([]float64{0, 1})
	for _, loc := range []Location{{"soma[0]", -5}, {"soma[0]", 0}, {"node[0]", 90}} {
		if err := w.Add(loc, []float64{-65, -60}); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	l := ToLong(w)

	tests := []struct {
		name     string
		soma     bool
		distance float64
	}{
		{"soma center", true, 0},
		{"proximal reference", false, -5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Concise(l, tt.soma)
			if err != nil {
				t.Fatalf("Concise: %v", err)
			}
			n := 0
			for _, s := range c.Rows {
				if s.Site != constants.SomaLabel {
					continue
				}
				n++
				if s.Distance != tt.distance {
					t.Errorf("soma row at distance %v, want %v", s.Distance, tt.distance)
				}
			}
			if n != 2 {
				t.Errorf("soma rows = %d, want 2", n)
			}
		})
	}
}

func TestWriteCSV(t *testing.T) {
	l := ToLong(sampleWide(t))
	var buf bytes.Buffer
	if err := WriteCSV(&buf, l); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	recs, err := csv.NewReader(strings.NewReader(buf.String())).ReadAll()
	if err != nil {
		t.Fatalf("reading csv: %v", err)
	}
	if len(recs) != l.Len()+1 {
		t.Fatalf("records = %d, want %d", len(recs), l.Len()+1)
	}
	if recs[0][0] != constants.TimeLabel || len(recs[0]) != 4 {
		t.Errorf("header = %v", recs[0])
	}
	if got := recs[len(recs)-1]; got[1] != "node[0]" || got[2] != "75.5" || got[3] != "30" {
		t.Errorf("last row = %v", got)
	}

	c, _ := Concise(l, true)
	buf.Reset()
	if err := WriteCSV(&buf, c); err != nil {
		t.Fatalf("WriteCSV concise: %v", err)
	}
	if !strings.Contains(strings.SplitN(buf.String(), "\n", 2)[0], constants.SiteLabel) {
		t.Error("concise csv should include a site column")
	}
}
