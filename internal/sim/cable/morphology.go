package cable

import (
	"fmt"
	"math"

	"github.com/nvandessel/pvnav/internal/sim"
)

// Cell is a PV interneuron built as an unbranched chain of sections:
// soma[0], axon[0] (hillock), axon[1] (AIS) and, for the standard variant,
// alternating myelin[i] and node[i] sections.
type Cell struct {
	eng      *Engine
	name     string
	variant  sim.Variant
	sections []*Section
	groups   map[sim.Group][]*Section
	segs     []*Segment
	gax      []float64 // axial conductance (S) between segs[i] and segs[i+1]
}

// Section is an unbranched cable of one or more segments.
type Section struct {
	cell   *Cell
	name   string
	region region
	length float64 // μm
	diam   float64 // μm
	start  float64 // path position (μm) of the 0 end from the soma's 0 end
	segs   []*Segment
}

// Segment is a single isopotential compartment.
type Segment struct {
	sec   *Section
	x     float64
	index int // position in the cell chain
	mechs []string
	d     density

	area       float64 // cm2
	v          float64
	m, h, n    float64 // Nav11, NaTs2_t and SKv3_1 gates
	mMut, hMut float64 // Nav11m gates
}

func nsegFor(length float64) int {
	n := int(math.Ceil(length / maxSegLen))
	if n < 1 {
		n = 1
	}
	if n%2 == 0 {
		n++
	}
	return n
}

// build lays out the sections of a template into c.
func (c *Cell) build(t sim.Template) {
	c.groups = make(map[sim.Group][]*Section)
	add := func(name string, r region, length, diam float64, nseg int, groups ...sim.Group) *Section {
		start := 0.0
		if n := len(c.sections); n > 0 {
			last := c.sections[n-1]
			start = last.start + last.length
		}
		sec := &Section{cell: c, name: name, region: r, length: length, diam: diam, start: start}
		for i := 0; i < nseg; i++ {
			seg := &Segment{
				sec:   sec,
				x:     (float64(i) + 0.5) / float64(nseg),
				index: len(c.segs),
				mechs: regionMechanisms(r),
				d:     defaultDensity(r),
			}
			// lateral membrane area in cm2
			seg.area = math.Pi * diam * 1e-4 * (length / float64(nseg)) * 1e-4
			sec.segs = append(sec.segs, seg)
			c.segs = append(c.segs, seg)
		}
		c.sections = append(c.sections, sec)
		for _, g := range append(groups, sim.All) {
			c.groups[g] = append(c.groups[g], sec)
		}
		return sec
	}

	add("soma[0]", regionSoma, somaL, somaDiam, 1, sim.Soma, sim.Somatic)
	add("axon[0]", regionHillock, hillockL, hillockD, nsegFor(hillockL), sim.Axon, sim.Axonal)
	add("axon[1]", regionAIS, t.AISL, aisDiam, nsegFor(t.AISL), sim.Axon, sim.AIS, sim.Axonal)

	if t.Variant == sim.VariantStandard && t.NodeSpacing > 0 {
		n := int(math.Round(t.TargetMyelinatedL / t.NodeSpacing))
		for i := 0; i < n; i++ {
			add(fmt.Sprintf("myelin[%d]", i), regionMyelin, t.NodeSpacing, axonDiam, nsegFor(t.NodeSpacing), sim.Myelin, sim.Axonal)
			add(fmt.Sprintf("node[%d]", i), regionNode, t.NodeLength, nodeDiam, 1, sim.Nodes, sim.Axonal)
		}
	}

	c.computeAxial()
}

// computeAxial derives the coupling conductance between neighbouring segments.
func (c *Cell) computeAxial() {
	ra := c.eng.params.Ra
	c.gax = make([]float64, len(c.segs))
	for i := 0; i+1 < len(c.segs); i++ {
		a, b := c.segs[i], c.segs[i+1]
		c.gax[i] = 1 / (halfResistance(a, ra) + halfResistance(b, ra))
	}
}

// halfResistance is the axial resistance (ohm) from a segment's center to its edge.
func halfResistance(s *Segment, ra float64) float64 {
	dx := s.sec.length / float64(len(s.sec.segs)) / 2 * 1e-4
	r := s.sec.diam / 2 * 1e-4
	return ra * dx / (math.Pi * r * r)
}

// Name returns the engine name of the cell, e.g. "pv[0]".
func (c *Cell) Name() string { return c.name }

// Sections returns the ordered sections of a group.
func (c *Cell) Sections(g sim.Group) []sim.Section {
	secs := c.groups[g]
	out := make([]sim.Section, len(secs))
	for i, s := range secs {
		out[i] = s
	}
	return out
}

// Biophys resets every segment to its region's default densities.
func (c *Cell) Biophys() error {
	for _, seg := range c.segs {
		seg.d = defaultDensity(seg.sec.region)
	}
	return nil
}

// Name returns the qualified section name, e.g. "pv[0].axon[1]".
func (s *Section) Name() string { return s.cell.name + "." + s.name }

// Segments returns the interior segments of the section.
func (s *Section) Segments() []sim.Segment {
	out := make([]sim.Segment, len(s.segs))
	for i, seg := range s.segs {
		out[i] = seg
	}
	return out
}

// At returns the segment containing x. Positions 0 and 1 map to the end segments.
func (s *Section) At(x float64) sim.Segment {
	i := int(x * float64(len(s.segs)))
	if i >= len(s.segs) {
		i = len(s.segs) - 1
	}
	if i < 0 {
		i = 0
	}
	return s.segs[i]
}

// HasMechanism reports whether mech is inserted in the section.
func (s *Section) HasMechanism(mech string) bool {
	for _, seg := range s.segs {
		if seg.hasMechanism(mech) {
			return true
		}
	}
	return false
}

// Set sets param on every segment of the section.
func (s *Section) Set(param string, value float64) error {
	for _, seg := range s.segs {
		if err := seg.Set(param, value); err != nil {
			return err
		}
	}
	return nil
}

// Section returns the owning section.
func (s *Segment) Section() sim.Section { return s.sec }

// X returns the normalized position of the segment center.
func (s *Segment) X() float64 { return s.x }

// Mechanisms lists the inserted mechanisms.
func (s *Segment) Mechanisms() []string {
	return append([]string(nil), s.mechs...)
}

func (s *Segment) hasMechanism(mech string) bool {
	for _, m := range s.mechs {
		if m == mech {
			return true
		}
	}
	return false
}

func (s *Segment) field(param string) (*float64, error) {
	spec, ok := paramSpecs[param]
	if !ok || (spec.mech != "" && !s.hasMechanism(spec.mech)) {
		return nil, fmt.Errorf("%w: %s has no %q", sim.ErrUnknownParam, s.sec.Name(), param)
	}
	return spec.field(&s.d), nil
}

// Get returns the value of a mechanism parameter.
func (s *Segment) Get(param string) (float64, error) {
	f, err := s.field(param)
	if err != nil {
		return 0, err
	}
	return *f, nil
}

// Set sets a mechanism parameter.
func (s *Segment) Set(param string, value float64) error {
	f, err := s.field(param)
	if err != nil {
		return err
	}
	*f = value
	return nil
}

// center returns the path position (μm) of the segment center.
func (s *Segment) center() float64 {
	return s.sec.start + s.x*s.sec.length
}
