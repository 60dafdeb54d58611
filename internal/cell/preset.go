package cell

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nvandessel/pvnav/internal/sim"
)

// Mechanism parameter names used by presets and Nav1.1 manipulation.
const (
	ParamNav11  = "gNav11bar_Nav11"
	ParamNav11m = "gNav11bar_Nav11m"
	ParamNaTs2  = "gNaTs2_tbar_NaTs2_t"
	ParamNap    = "gNap_Et2bar_Nap_Et2"
	ParamKv3    = "gSKv3_1bar_SKv3_1"

	ParamMh  = "mh_Nav11m"
	ParamHh  = "hh_Nav11m"
	ParamTmh = "tmh_Nav11m"
	ParamThh = "thh_Nav11m"
)

// Preset names a set of biophysical densities applied on top of the
// template defaults.
type Preset string

const (
	PresetDefault Preset = "default"
	PresetAlt1    Preset = "alt1"
	PresetAlt2    Preset = "alt2"
	PresetOrig    Preset = "orig"
)

// Presets lists every preset in display order.
var Presets = []Preset{PresetDefault, PresetAlt1, PresetAlt2, PresetOrig}

// ErrUnknownPreset is returned for preset names that are not in Presets.
var ErrUnknownPreset = errors.New("unknown preset")

// ParsePreset resolves a preset name (case-insensitive).
func ParsePreset(s string) (Preset, error) {
	p := Preset(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Presets {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPreset, s)
}

// BaseNav holds the Nav1.1 conductance (S/cm2) of each region after a preset
// is applied. Keys are sim.Somatic, sim.AIS and sim.Nodes; cells without
// nodes have no sim.Nodes entry.
type BaseNav map[sim.Group]float64

// axonDensities describes AIS and node densities by Na/K ratios.
type axonDensities struct {
	naKAIS   float64
	naKNodes float64
	navAIS   float64
}

func (a axonDensities) values() (navAIS, kAIS, navNodes, kNodes float64) {
	navAIS = a.navAIS
	kAIS = navAIS / a.naKAIS
	navNodes = navAIS * (a.naKNodes / a.naKAIS)
	kNodes = navNodes / a.naKNodes
	return navAIS, kAIS, navNodes, kNodes
}

type presetDef struct {
	somatic []paramValue
	axon    axonDensities
}

type paramValue struct {
	param string
	value float64
}

var presetDefs = map[Preset]presetDef{
	PresetAlt1: {
		somatic: []paramValue{
			{ParamNaTs2, 0.95585841724208476},
			{ParamNav11, 0.11504623309972959},
			{ParamKv3, 0.18497365407533689},
		},
		axon: axonDensities{naKAIS: 2.2, naKNodes: 3, navAIS: 1},
	},
	PresetAlt2: {
		somatic: []paramValue{
			{ParamNaTs2, 0.95585841724208476},
			{ParamNav11, 0.21504623309972959},
			{ParamNap, 7.9295968986726376e-07},
			{ParamKv3, 0.18497365407533689},
		},
		axon: axonDensities{naKAIS: 2.5, naKNodes: 2.5, navAIS: 0.8},
	},
	PresetOrig: {
		somatic: []paramValue{
			{ParamNaTs2, 0.95585841724208476},
			{ParamNav11, 0.21504623309972959},
			{ParamNap, 7.9295968986726376e-07},
			{ParamKv3, 0.018497365407533689},
		},
		axon: axonDensities{naKAIS: 8.39, naKNodes: 8.39, navAIS: 2.99},
	},
}

// ApplyPreset resets the cell's biophysics and applies preset p. It returns
// the resulting baseline Nav1.1 conductances.
func ApplyPreset(c sim.Cell, p Preset) (BaseNav, error) {
	if err := c.Biophys(); err != nil {
		return nil, fmt.Errorf("resetting biophysics: %w", err)
	}

	if def, ok := presetDefs[p]; ok {
		for _, sec := range c.Sections(sim.Somatic) {
			for _, pv := range def.somatic {
				if err := sec.Set(pv.param, pv.value); err != nil {
					return nil, fmt.Errorf("preset %s: %w", p, err)
				}
			}
		}

		navAIS, kAIS, navNodes, kNodes := def.axon.values()
		for _, sec := range c.Sections(sim.AIS) {
			if err := setNaK(sec, navAIS, kAIS); err != nil {
				return nil, fmt.Errorf("preset %s: %w", p, err)
			}
		}
		for _, sec := range c.Sections(sim.Nodes) {
			if err := setNaK(sec, navNodes, kNodes); err != nil {
				return nil, fmt.Errorf("preset %s: %w", p, err)
			}
		}
	} else if p != PresetDefault {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPreset, p)
	}

	return CurrentBaseNav(c)
}

func setNaK(sec sim.Section, nav, k float64) error {
	if err := sec.Set(ParamNav11, nav); err != nil {
		return err
	}
	return sec.Set(ParamKv3, k)
}

// CurrentBaseNav reads the Nav1.1 conductance at the middle of the first
// section of each region.
func CurrentBaseNav(c sim.Cell) (BaseNav, error) {
	base := make(BaseNav)
	for _, g := range []sim.Group{sim.Somatic, sim.AIS, sim.Nodes} {
		sec := sim.First(c, g)
		if sec == nil {
			continue
		}
		v, err := sec.At(0.5).Get(ParamNav11)
		if err != nil {
			return nil, fmt.Errorf("reading %s baseline: %w", g, err)
		}
		base[g] = v
	}
	return base, nil
}
