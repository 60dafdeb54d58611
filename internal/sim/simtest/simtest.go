// Package simtest provides a scripted sim.Engine for tests. Membrane
// potentials come from a caller-supplied function instead of integration,
// which makes trial outcomes exact and fast to compute.
package simtest

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/nvandessel/pvnav/internal/constants"
	"github.com/nvandessel/pvnav/internal/sim"
)

// VoltageFunc returns the membrane potential (mV) at time t for the section
// with the given short name (e.g. "soma[0]") at normalized position x.
type VoltageFunc func(t float64, section string, x float64) float64

// Rest returns a VoltageFunc that holds every segment at v.
func Rest(v float64) VoltageFunc {
	return func(float64, string, float64) float64 { return v }
}

// Engine is a deterministic sim.Engine.
type Engine struct {
	// Voltage produces the recorded potentials. Defaults to Rest(-65).
	Voltage VoltageFunc

	// Dt is the sampling interval (ms) of a Run. Defaults to 0.025.
	Dt float64

	// Nodes is the number of node/myelin pairs built for the standard
	// variant. Original-variant cells never have nodes.
	Nodes int

	// RequireLoad makes NewCell fail with sim.ErrTemplateNotLoaded until
	// LoadTemplates has been called.
	RequireLoad bool

	// RunErr, when set, is returned by Run.
	RunErr error

	mu        sync.Mutex
	loaded    bool
	loadCalls int
	runs      []RunCall
	cells     int
	handles   []*handle
	origin    *Segment
}

// RunCall records the arguments of a Run.
type RunCall struct {
	Tstop    float64
	Adaptive bool
}

var _ sim.Engine = (*Engine)(nil)

// New returns an engine with two nodes per standard cell.
func New(v VoltageFunc) *Engine {
	return &Engine{Voltage: v, Nodes: 2}
}

// LoadCalls returns how many times LoadTemplates was called.
func (e *Engine) LoadCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loadCalls
}

// Runs returns the recorded Run calls.
func (e *Engine) Runs() []RunCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]RunCall(nil), e.runs...)
}

// Active returns the number of handles that have not been released.
func (e *Engine) Active() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, h := range e.handles {
		if !h.released {
			n++
		}
	}
	return n
}

// Stimuli returns every stimulus attached so far, in attachment order.
func (e *Engine) Stimuli() []Stim {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []Stim
	for _, h := range e.handles {
		if h.kind == kindStim {
			st := h.stim
			st.Released = h.released
			out = append(out, st)
		}
	}
	return out
}

func (e *Engine) LoadTemplates() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loaded = true
	e.loadCalls++
	return nil
}

func (e *Engine) NewCell(t sim.Template) (sim.Cell, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.RequireLoad && !e.loaded {
		return nil, sim.ErrTemplateNotLoaded
	}

	c := &Cell{eng: e, name: fmt.Sprintf("%s[%d]", t.Variant, e.cells), groups: make(map[sim.Group][]*Section)}
	e.cells++

	c.add("soma[0]", 20, 1, sim.Soma, sim.Somatic)
	c.add("axon[0]", 10, 1, sim.Axon, sim.Axonal)
	c.add("axon[1]", 30, 3, sim.Axon, sim.AIS, sim.Axonal)
	if t.Variant == sim.VariantStandard {
		for i := 0; i < e.Nodes; i++ {
			c.add(fmt.Sprintf("myelin[%d]", i), 30, 3, sim.Myelin, sim.Axonal)
			c.add(fmt.Sprintf("node[%d]", i), 1, 1, sim.Nodes, sim.Axonal)
		}
	}
	return c, nil
}

func (e *Engine) own(seg sim.Segment) (*Segment, error) {
	s, ok := seg.(*Segment)
	if !ok || s.sec.cell.eng != e {
		return nil, fmt.Errorf("simtest: foreign segment %T", seg)
	}
	return s, nil
}

func (e *Engine) attach(h *handle) *handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	h.eng = e
	e.handles = append(e.handles, h)
	return h
}

func (e *Engine) IClamp(seg sim.Segment, c sim.Clamp) (sim.Stimulus, error) {
	s, err := e.own(seg)
	if err != nil {
		return nil, err
	}
	return e.attach(&handle{kind: kindStim, seg: s, stim: Stim{Segment: s.Name(), Clamp: &c}}), nil
}

func (e *Engine) Ipulse(seg sim.Segment, p sim.PulseTrain) (sim.Stimulus, error) {
	s, err := e.own(seg)
	if err != nil {
		return nil, err
	}
	return e.attach(&handle{kind: kindStim, seg: s, stim: Stim{Segment: s.Name(), Train: &p}}), nil
}

func (e *Engine) RecordV(seg sim.Segment) (sim.Vector, error) {
	s, err := e.own(seg)
	if err != nil {
		return nil, err
	}
	return e.attach(&handle{kind: kindV, seg: s}), nil
}

func (e *Engine) RecordT() (sim.Vector, error) {
	return e.attach(&handle{kind: kindT}), nil
}

func (e *Engine) APCount(seg sim.Segment) (sim.Counter, error) {
	s, err := e.own(seg)
	if err != nil {
		return nil, err
	}
	return e.attach(&handle{kind: kindCount, seg: s}), nil
}

func (e *Engine) SetDistanceOrigin(seg sim.Segment) {
	if s, err := e.own(seg); err == nil {
		e.mu.Lock()
		e.origin = s
		e.mu.Unlock()
	}
}

func (e *Engine) Distance(seg sim.Segment) float64 {
	s, err := e.own(seg)
	if err != nil {
		return math.NaN()
	}
	e.mu.Lock()
	origin := e.origin
	e.mu.Unlock()
	if origin == nil {
		return s.center()
	}
	if origin.sec.cell != s.sec.cell {
		return math.NaN()
	}
	return math.Abs(s.center() - origin.center())
}

// Run samples Voltage on a uniform grid from 0 to tstop.
func (e *Engine) Run(tstop float64, adaptive bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.runs = append(e.runs, RunCall{Tstop: tstop, Adaptive: adaptive})
	if e.RunErr != nil {
		return e.RunErr
	}

	dt := e.Dt
	if dt <= 0 {
		dt = 0.025
	}
	voltage := e.Voltage
	if voltage == nil {
		voltage = Rest(-65)
	}

	n := int(math.Round(tstop/dt)) + 1
	times := make([]float64, n)
	for i := range times {
		times[i] = float64(i) * dt
	}

	for _, h := range e.handles {
		if h.released {
			continue
		}
		switch h.kind {
		case kindT:
			h.values = append([]float64(nil), times...)
		case kindV:
			h.values = make([]float64, n)
			for i, t := range times {
				h.values[i] = voltage(t, h.seg.sec.name, h.seg.x)
			}
		case kindCount:
			h.n = 0
			above := false
			for _, t := range times {
				v := voltage(t, h.seg.sec.name, h.seg.x)
				if v >= constants.APCountThreshold && !above {
					h.n++
				}
				above = v >= constants.APCountThreshold
			}
		}
	}
	return nil
}

// Stim describes an attached stimulus.
type Stim struct {
	Segment  string
	Clamp    *sim.Clamp
	Train    *sim.PulseTrain
	Released bool
}

type handleKind int

const (
	kindStim handleKind = iota
	kindV
	kindT
	kindCount
)

type handle struct {
	eng      *Engine
	kind     handleKind
	seg      *Segment
	stim     Stim
	values   []float64
	n        int
	released bool
}

func (h *handle) Release() {
	h.eng.mu.Lock()
	h.released = true
	h.eng.mu.Unlock()
}

func (h *handle) Values() []float64 {
	h.eng.mu.Lock()
	defer h.eng.mu.Unlock()
	return append([]float64(nil), h.values...)
}

func (h *handle) N() int {
	h.eng.mu.Lock()
	defer h.eng.mu.Unlock()
	return h.n
}

func (h *handle) Threshold() float64 { return constants.APCountThreshold }

// Cell is a scripted cell: a chain of sections with fixed lengths.
type Cell struct {
	eng      *Engine
	name     string
	sections []*Section
	groups   map[sim.Group][]*Section
	biophys  int
}

func (c *Cell) add(name string, length float64, nseg int, groups ...sim.Group) {
	start := 0.0
	if n := len(c.sections); n > 0 {
		start = c.sections[n-1].start + c.sections[n-1].length
	}
	sec := &Section{cell: c, name: name, length: length, start: start}
	for i := 0; i < nseg; i++ {
		seg := &Segment{sec: sec, x: (float64(i) + 0.5) / float64(nseg)}
		seg.reset()
		sec.segs = append(sec.segs, seg)
	}
	c.sections = append(c.sections, sec)
	for _, g := range append(groups, sim.All) {
		c.groups[g] = append(c.groups[g], sec)
	}
}

func (c *Cell) Name() string { return c.name }

func (c *Cell) Sections(g sim.Group) []sim.Section {
	out := make([]sim.Section, 0, len(c.groups[g]))
	for _, s := range c.groups[g] {
		out = append(out, s)
	}
	return out
}

// Biophys restores every segment to DefaultNav.
func (c *Cell) Biophys() error {
	c.biophys++
	for _, sec := range c.sections {
		for _, seg := range sec.segs {
			seg.reset()
		}
	}
	return nil
}

// BiophysCalls returns how many times Biophys ran.
func (c *Cell) BiophysCalls() int { return c.biophys }

// Section is a scripted section. Every parameter name is accepted.
type Section struct {
	cell   *Cell
	name   string
	length float64
	start  float64
	segs   []*Segment
}

func (s *Section) Name() string { return s.cell.name + "." + s.name }

func (s *Section) Segments() []sim.Segment {
	out := make([]sim.Segment, len(s.segs))
	for i, seg := range s.segs {
		out[i] = seg
	}
	return out
}

func (s *Section) At(x float64) sim.Segment {
	i := int(x * float64(len(s.segs)))
	i = max(0, min(i, len(s.segs)-1))
	return s.segs[i]
}

func (s *Section) myelin() bool { return strings.HasPrefix(s.name, "myelin") }

// HasMechanism reports pas everywhere and Nav11 everywhere except myelin.
func (s *Section) HasMechanism(mech string) bool {
	if s.myelin() {
		return mech == "pas"
	}
	return mech == "pas" || mech == "Nav11"
}

func (s *Section) Set(param string, v float64) error {
	for _, seg := range s.segs {
		if err := seg.Set(param, v); err != nil {
			return err
		}
	}
	return nil
}

// DefaultNav is the Nav1.1 conductance of every non-myelin segment after
// Biophys.
const DefaultNav = 0.1

// Segment stores parameters in a map.
type Segment struct {
	sec    *Section
	x      float64
	params map[string]float64
}

// Name returns "<section name>(<x>)".
func (s *Segment) Name() string { return fmt.Sprintf("%s(%g)", s.sec.Name(), s.x) }

func (s *Segment) Section() sim.Section { return s.sec }

func (s *Segment) X() float64 { return s.x }

func (s *Segment) Mechanisms() []string {
	if s.sec.myelin() {
		return []string{"pas"}
	}
	return []string{"pas", "Nav11"}
}

func (s *Segment) Get(param string) (float64, error) {
	v, ok := s.params[param]
	if !ok {
		return 0, fmt.Errorf("%w: %s", sim.ErrUnknownParam, param)
	}
	return v, nil
}

func (s *Segment) Set(param string, v float64) error {
	s.params[param] = v
	return nil
}

func (s *Segment) reset() {
	s.params = map[string]float64{"g_pas": 1e-4}
	if !s.sec.myelin() {
		s.params["gNav11bar_Nav11"] = DefaultNav
	}
}

func (s *Segment) center() float64 { return s.sec.start + s.x*s.sec.length }
