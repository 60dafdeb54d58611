// Package cell builds and configures PV interneuron instances on a
// simulation engine. Cells are memoized by canonical name so repeated
// requests for the same construction parameters share one instance.
package cell

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/nvandessel/pvnav/internal/logging"
	"github.com/nvandessel/pvnav/internal/sim"
)

// DefaultName is the base name of the standard cell.
const DefaultName = "default"

// ErrInvalidName is returned by ParseName for names not produced by CanonicalName.
var ErrInvalidName = errors.New("invalid cell name")

// Params are the construction parameters of a cell (μm).
type Params struct {
	TargetMyelinatedL float64 `yaml:"target_myelinated_l" json:"target_myelinated_l"`
	NodeSpacing       float64 `yaml:"node_spacing" json:"node_spacing"`
	NodeLength        float64 `yaml:"node_length" json:"node_length"`
	AISL              float64 `yaml:"ais_l" json:"ais_l"`
}

// DefaultParams returns the standard morphology parameters.
func DefaultParams() Params {
	return Params{
		TargetMyelinatedL: 1000,
		NodeSpacing:       30,
		NodeLength:        1,
		AISL:              60,
	}
}

// Template converts p to an engine template of the given variant.
func (p Params) Template(v sim.Variant) sim.Template {
	return sim.Template{
		Variant:           v,
		TargetMyelinatedL: p.TargetMyelinatedL,
		NodeSpacing:       p.NodeSpacing,
		NodeLength:        p.NodeLength,
		AISL:              p.AISL,
	}
}

// VariantFor returns the template variant selected by a base name. Names
// containing "orig" use the reduced morphology.
func VariantFor(name string) sim.Variant {
	if strings.Contains(name, "orig") {
		return sim.VariantOriginal
	}
	return sim.VariantStandard
}

// CanonicalName returns the identity string of a cell, e.g.
// "default(1000.0, 30.0, 1.0, 60.0)".
func CanonicalName(name string, p Params) string {
	return fmt.Sprintf("%s(%s, %s, %s, %s)", name,
		FormatFloat(p.TargetMyelinatedL),
		FormatFloat(p.NodeSpacing),
		FormatFloat(p.NodeLength),
		FormatFloat(p.AISL))
}

// ParseName splits a canonical name into its base name and parameters.
func ParseName(full string) (string, Params, error) {
	open := strings.Index(full, "(")
	if open < 0 || !strings.HasSuffix(full, ")") {
		return "", Params{}, fmt.Errorf("%w: %q", ErrInvalidName, full)
	}
	fields := strings.Split(full[open+1:len(full)-1], ", ")
	if len(fields) != 4 {
		return "", Params{}, fmt.Errorf("%w: %q has %d parameters, want 4", ErrInvalidName, full, len(fields))
	}
	vals := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return "", Params{}, fmt.Errorf("%w: %q: %v", ErrInvalidName, full, err)
		}
		vals[i] = v
	}
	return full[:open], Params{
		TargetMyelinatedL: vals[0],
		NodeSpacing:       vals[1],
		NodeLength:        vals[2],
		AISL:              vals[3],
	}, nil
}

// FormatFloat renders v in the number format of cell names and cache keys.
// Integral values keep a trailing ".0"; magnitudes below 1e-4 or from 1e16
// up use exponent notation.
func FormatFloat(v float64) string {
	abs := math.Abs(v)
	switch {
	case math.IsInf(v, 0) || math.IsNaN(v):
		return strconv.FormatFloat(v, 'g', -1, 64)
	case abs != 0 && (abs < 1e-4 || abs >= 1e16):
		return strconv.FormatFloat(v, 'e', -1, 64)
	case v == math.Trunc(v):
		return strconv.FormatFloat(v, 'f', 1, 64)
	default:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
}

// Cell is a registered cell instance. It embeds the engine cell and reports
// its canonical name.
type Cell struct {
	sim.Cell
	name    string
	base    string
	params  Params
	variant sim.Variant
}

// Name returns the canonical name.
func (c *Cell) Name() string { return c.name }

// BaseName returns the name without parameters.
func (c *Cell) BaseName() string { return c.base }

// Params returns the construction parameters.
func (c *Cell) Params() Params { return c.params }

// Variant returns the template variant the cell was built from.
func (c *Cell) Variant() sim.Variant { return c.variant }

// EngineName returns the engine's own name for the instance.
func (c *Cell) EngineName() string { return c.Cell.Name() }

type registryKey struct {
	name   string
	params Params
}

// Registry memoizes cells by name and parameters for the lifetime of an
// engine. It is safe for concurrent use.
type Registry struct {
	mu     sync.Mutex
	engine sim.Engine
	logger *slog.Logger
	cells  map[registryKey]*Cell
}

// NewRegistry creates a registry on engine. A nil logger discards output.
func NewRegistry(engine sim.Engine, logger *slog.Logger) *Registry {
	return &Registry{
		engine: engine,
		logger: logging.OrDiscard(logger),
		cells:  make(map[registryKey]*Cell),
	}
}

// Engine returns the engine cells are built on.
func (r *Registry) Engine() sim.Engine { return r.engine }

// Get returns the cell for (name, p), constructing it on first request.
// When the engine reports missing templates, Get loads them once and
// retries; a second failure is returned.
func (r *Registry) Get(name string, p Params) (*Cell, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := registryKey{name: name, params: p}
	if c, ok := r.cells[k]; ok {
		return c, nil
	}

	variant := VariantFor(name)
	tmpl := p.Template(variant)
	sc, err := r.engine.NewCell(tmpl)
	if errors.Is(err, sim.ErrTemplateNotLoaded) {
		r.logger.Debug("templates not loaded, loading and retrying", "cell", name)
		if lerr := r.engine.LoadTemplates(); lerr != nil {
			return nil, fmt.Errorf("loading templates for %s: %w", name, lerr)
		}
		sc, err = r.engine.NewCell(tmpl)
	}
	if err != nil {
		return nil, fmt.Errorf("creating cell %s: %w", CanonicalName(name, p), err)
	}

	c := &Cell{
		Cell:    sc,
		name:    CanonicalName(name, p),
		base:    name,
		params:  p,
		variant: variant,
	}
	r.cells[k] = c
	r.logger.Debug("created cell", "name", c.name, "engine_name", sc.Name(), "variant", variant.String())
	return c, nil
}

// Default returns the standard cell with default parameters.
func (r *Registry) Default() (*Cell, error) {
	return r.Get(DefaultName, DefaultParams())
}

// Len returns the number of distinct cells created.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cells)
}
