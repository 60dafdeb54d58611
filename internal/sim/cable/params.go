package cable

import "math"

// Params holds the integration and global electrical settings of an Engine.
type Params struct {
	// Dt is the fixed time step (ms) used when adaptive stepping is off.
	Dt float64

	// DtMin and DtMax bound the adaptive step (ms).
	DtMin float64
	DtMax float64

	// DVTol is the largest voltage change (mV) targeted per adaptive step.
	DVTol float64

	// Celsius sets gate kinetics; rates scale with Q10 = 3 from 6.3 degC.
	Celsius float64

	// VInit is the initial membrane potential (mV) of every segment.
	VInit float64

	// Ra is the axial resistivity (ohm cm).
	Ra float64

	// ENa and EK are the sodium and potassium reversal potentials (mV).
	ENa float64
	EK  float64

	phi float64
}

// Defaults sets the default parameters.
func (p *Params) Defaults() {
	p.Dt = 0.025
	p.DtMin = 0.005
	p.DtMax = 0.1
	p.DVTol = 0.5
	p.Celsius = 6.3
	p.VInit = -65
	p.Ra = 150
	p.ENa = 50
	p.EK = -77
	p.Update()
}

// Update recomputes derived values after parameters change.
func (p *Params) Update() {
	p.phi = math.Pow(3, (p.Celsius-6.3)/10)
}

// DefaultParams returns Params with Defaults applied.
func DefaultParams() Params {
	var p Params
	p.Defaults()
	return p
}

// region identifies the biophysical zone of a section.
type region int

const (
	regionSoma region = iota
	regionHillock
	regionAIS
	regionMyelin
	regionNode
)

// geometry of the built-in morphology (μm).
const (
	somaL     = 20.0
	somaDiam  = 20.0
	hillockL  = 10.0
	hillockD  = 1.5
	aisDiam   = 1.2
	axonDiam  = 1.0
	nodeDiam  = 0.8
	maxSegLen = 10.0
	eLeakHH   = -54.387
	cmMyelin  = 0.04
)

// density holds the mechanism parameters of one segment. Conductances are
// in S/cm2, voltages in mV and capacitance in uF/cm2.
type density struct {
	cm   float64
	gPas float64
	ePas float64

	gNav11  float64
	gNav11m float64

	mhNav11m  float64
	hhNav11m  float64
	tmhNav11m float64
	thhNav11m float64

	gNaTs2 float64
	gNap   float64
	gKv3   float64
}

// default half-activation voltages of the HH sodium gates.
const (
	mhDefault = -40.0
	hhDefault = -62.0
)

// defaultDensity returns the template densities of a region.
func defaultDensity(r region) density {
	d := density{
		cm:        1,
		ePas:      eLeakHH,
		mhNav11m:  mhDefault,
		hhNav11m:  hhDefault,
		tmhNav11m: mhDefault,
		thhNav11m: hhDefault,
	}
	switch r {
	case regionSoma:
		d.gPas = 0.0003
		d.gNav11 = 0.06
		d.gNaTs2 = 0.06
		d.gKv3 = 0.036
	case regionHillock:
		d.gPas = 0.0003
		d.gNav11 = 0.12
		d.gKv3 = 0.036
	case regionAIS:
		d.gPas = 0.0009
		d.gNav11 = 0.36
		d.gKv3 = 0.108
	case regionNode:
		d.gPas = 0.003
		d.gNav11 = 1.2
		d.gKv3 = 0.36
	case regionMyelin:
		d.cm = cmMyelin
		d.gPas = 1e-5
		d.ePas = -65
	}
	return d
}

// mechanisms inserted in each region.
func regionMechanisms(r region) []string {
	switch r {
	case regionSoma:
		return []string{"pas", "Nav11", "Nav11m", "NaTs2_t", "Nap_Et2", "SKv3_1"}
	case regionMyelin:
		return []string{"pas"}
	default:
		return []string{"pas", "Nav11", "Nav11m", "SKv3_1"}
	}
}

// paramSpec maps a NEURON-style parameter name to a density field. An empty
// mech means the parameter exists on every segment.
type paramSpec struct {
	mech  string
	field func(d *density) *float64
}

var paramSpecs = map[string]paramSpec{
	"cm":                  {"", func(d *density) *float64 { return &d.cm }},
	"g_pas":               {"pas", func(d *density) *float64 { return &d.gPas }},
	"e_pas":               {"pas", func(d *density) *float64 { return &d.ePas }},
	"gNav11bar_Nav11":     {"Nav11", func(d *density) *float64 { return &d.gNav11 }},
	"gNav11bar_Nav11m":    {"Nav11m", func(d *density) *float64 { return &d.gNav11m }},
	"mh_Nav11m":           {"Nav11m", func(d *density) *float64 { return &d.mhNav11m }},
	"hh_Nav11m":           {"Nav11m", func(d *density) *float64 { return &d.hhNav11m }},
	"tmh_Nav11m":          {"Nav11m", func(d *density) *float64 { return &d.tmhNav11m }},
	"thh_Nav11m":          {"Nav11m", func(d *density) *float64 { return &d.thhNav11m }},
	"gNaTs2_tbar_NaTs2_t": {"NaTs2_t", func(d *density) *float64 { return &d.gNaTs2 }},
	"gNap_Et2bar_Nap_Et2": {"Nap_Et2", func(d *density) *float64 { return &d.gNap }},
	"gSKv3_1bar_SKv3_1":   {"SKv3_1", func(d *density) *float64 { return &d.gKv3 }},
}
