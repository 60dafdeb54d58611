// Package cable is the built-in compartmental engine. It integrates
// Hodgkin-Huxley style PV interneuron models on an unbranched cable with an
// implicit (backward Euler) voltage update and exponential Euler gates.
package cable

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sort"
	"sync"

	"github.com/nvandessel/pvnav/internal/constants"
	"github.com/nvandessel/pvnav/internal/logging"
	"github.com/nvandessel/pvnav/internal/sim"
)

// ErrForeignSegment is returned when a segment was not created by the engine.
var ErrForeignSegment = errors.New("segment does not belong to this engine")

// Engine implements sim.Engine.
type Engine struct {
	mu     sync.Mutex
	params Params
	logger *slog.Logger

	loaded   bool
	cells    []*Cell
	counts   map[sim.Variant]int
	stims    []*stimulus
	vectors  []*vector
	counters []*counter
	origin   *Segment
}

var _ sim.Engine = (*Engine)(nil)

// New creates an engine. A nil logger discards output.
func New(p Params, logger *slog.Logger) *Engine {
	p.Update()
	return &Engine{
		params: p,
		logger: logging.OrDiscard(logger),
		counts: make(map[sim.Variant]int),
	}
}

// Params returns the engine parameters.
func (e *Engine) Params() Params { return e.params }

// LoadTemplates makes the built-in pv and pv_orig templates available.
func (e *Engine) LoadTemplates() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded {
		e.logger.Debug("loading cell templates", "templates", []string{sim.VariantStandard.String(), sim.VariantOriginal.String()})
	}
	e.loaded = true
	return nil
}

// NewCell instantiates a cell. It returns sim.ErrTemplateNotLoaded until
// LoadTemplates has been called.
func (e *Engine) NewCell(t sim.Template) (sim.Cell, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.loaded {
		return nil, fmt.Errorf("new cell %s: %w", t.Variant, sim.ErrTemplateNotLoaded)
	}
	if t.AISL <= 0 {
		return nil, fmt.Errorf("new cell %s: AIS length must be positive, got %g", t.Variant, t.AISL)
	}
	if t.Variant == sim.VariantStandard && (t.NodeSpacing <= 0 || t.NodeLength <= 0 || t.TargetMyelinatedL < 0) {
		return nil, fmt.Errorf("new cell %s: invalid axon geometry %+v", t.Variant, t)
	}

	c := &Cell{
		eng:     e,
		name:    fmt.Sprintf("%s[%d]", t.Variant, e.counts[t.Variant]),
		variant: t.Variant,
	}
	e.counts[t.Variant]++
	c.build(t)
	e.cells = append(e.cells, c)

	e.logger.Debug("created cell", "name", c.name, "sections", len(c.sections), "segments", len(c.segs))
	return c, nil
}

func (e *Engine) own(seg sim.Segment) (*Segment, error) {
	s, ok := seg.(*Segment)
	if !ok || s.sec.cell.eng != e {
		return nil, ErrForeignSegment
	}
	return s, nil
}

// IClamp attaches a constant current pulse to seg.
func (e *Engine) IClamp(seg sim.Segment, c sim.Clamp) (sim.Stimulus, error) {
	s, err := e.own(seg)
	if err != nil {
		return nil, fmt.Errorf("iclamp: %w", err)
	}
	st := &stimulus{eng: e, seg: s, amp: c.Amp, delay: c.Delay, width: c.Dur, num: 1, period: math.Inf(1)}
	e.mu.Lock()
	e.stims = append(e.stims, st)
	e.mu.Unlock()
	return st, nil
}

// Ipulse attaches a periodic pulse train to seg.
func (e *Engine) Ipulse(seg sim.Segment, p sim.PulseTrain) (sim.Stimulus, error) {
	s, err := e.own(seg)
	if err != nil {
		return nil, fmt.Errorf("ipulse: %w", err)
	}
	if p.Num > 1 && p.Period <= 0 {
		return nil, fmt.Errorf("ipulse: period must be positive, got %g", p.Period)
	}
	st := &stimulus{eng: e, seg: s, amp: p.Amp, delay: p.Delay, width: p.Width, num: p.Num, period: p.Period}
	e.mu.Lock()
	e.stims = append(e.stims, st)
	e.mu.Unlock()
	return st, nil
}

// RecordV records the membrane potential of seg.
func (e *Engine) RecordV(seg sim.Segment) (sim.Vector, error) {
	s, err := e.own(seg)
	if err != nil {
		return nil, fmt.Errorf("record v: %w", err)
	}
	v := &vector{eng: e, seg: s}
	e.mu.Lock()
	e.vectors = append(e.vectors, v)
	e.mu.Unlock()
	return v, nil
}

// RecordT records the simulation time.
func (e *Engine) RecordT() (sim.Vector, error) {
	v := &vector{eng: e}
	e.mu.Lock()
	e.vectors = append(e.vectors, v)
	e.mu.Unlock()
	return v, nil
}

// APCount counts upward crossings of constants.APCountThreshold at seg.
func (e *Engine) APCount(seg sim.Segment) (sim.Counter, error) {
	s, err := e.own(seg)
	if err != nil {
		return nil, fmt.Errorf("apcount: %w", err)
	}
	c := &counter{eng: e, seg: s, thresh: constants.APCountThreshold}
	e.mu.Lock()
	e.counters = append(e.counters, c)
	e.mu.Unlock()
	return c, nil
}

// SetDistanceOrigin sets the reference segment for Distance.
func (e *Engine) SetDistanceOrigin(seg sim.Segment) {
	s, err := e.own(seg)
	if err != nil {
		return
	}
	e.mu.Lock()
	e.origin = s
	e.mu.Unlock()
}

// Distance returns the path length (μm) between the origin and seg. Without
// an origin the distance is measured from the soma's 0 end. Segments of a
// different cell than the origin are NaN.
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

// Run initializes every cell to rest and integrates until tstop (ms).
func (e *Engine) Run(tstop float64, adaptive bool) error {
	if tstop <= 0 || math.IsNaN(tstop) {
		return fmt.Errorf("run: tstop must be positive, got %g", tstop)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	p := e.params
	e.initialize()
	edges := e.stimulusEdges()

	t := 0.0
	e.record(t)

	dt := p.Dt
	if adaptive {
		dt = p.DtMin
	}
	steps := 0
	for tstop-t > 1e-9 {
		if adaptive {
			dt = clipToEdges(t, dt, edges)
		}
		if t+dt > tstop {
			dt = tstop - t
		}

		maxDV := 0.0
		for _, c := range e.cells {
			if dv := e.step(c, t, dt); dv > maxDV {
				maxDV = dv
			}
		}
		t += dt
		steps++
		e.record(t)

		if adaptive {
			dt = nextStep(dt, maxDV, p)
		} else {
			dt = p.Dt
		}
	}

	e.logger.Debug("run complete", "tstop", tstop, "steps", steps, "adaptive", adaptive, "cells", len(e.cells))
	return nil
}

// initialize resets every segment to VInit with gates at steady state and
// drops released handles.
func (e *Engine) initialize() {
	p := e.params
	for _, c := range e.cells {
		for _, s := range c.segs {
			s.v = p.VInit
			s.m, _ = mGate(s.v, 0, 0, p.phi)
			s.h, _ = hGate(s.v, 0, 0, p.phi)
			s.n, _ = nGate(s.v, p.phi)
			s.mMut, _ = mGate(s.v, s.d.mhNav11m-mhDefault, s.d.tmhNav11m-mhDefault, p.phi)
			s.hMut, _ = hGate(s.v, s.d.hhNav11m-hhDefault, s.d.thhNav11m-hhDefault, p.phi)
		}
	}
	e.stims = slices.DeleteFunc(e.stims, func(s *stimulus) bool { return s.released })
	e.vectors = slices.DeleteFunc(e.vectors, func(v *vector) bool { return v.released })
	e.counters = slices.DeleteFunc(e.counters, func(c *counter) bool { return c.released })
	for _, v := range e.vectors {
		v.values = v.values[:0]
	}
	for _, c := range e.counters {
		c.n = 0
		c.above = false
	}
}

func (e *Engine) record(t float64) {
	for _, v := range e.vectors {
		if v.released {
			continue
		}
		if v.seg == nil {
			v.values = append(v.values, t)
		} else {
			v.values = append(v.values, v.seg.v)
		}
	}
	for _, c := range e.counters {
		if c.released {
			continue
		}
		above := c.seg.v >= c.thresh
		if above && !c.above {
			c.n++
		}
		c.above = above
	}
}

// stimulusEdges returns the sorted on and off times of every active stimulus.
func (e *Engine) stimulusEdges() []float64 {
	var edges []float64
	for _, s := range e.stims {
		if s.released {
			continue
		}
		for k := 0; k < s.num; k++ {
			on := s.delay
			if k > 0 {
				on += float64(k) * s.period
			}
			edges = append(edges, on, on+s.width)
		}
	}
	sort.Float64s(edges)
	return edges
}

// clipToEdges shortens dt so that a step never straddles a stimulus edge.
func clipToEdges(t, dt float64, edges []float64) float64 {
	i := sort.SearchFloat64s(edges, t+1e-9)
	if i < len(edges) && edges[i] < t+dt {
		return edges[i] - t
	}
	return dt
}

// nextStep scales the step so the largest voltage change approaches DVTol.
func nextStep(dt, maxDV float64, p Params) float64 {
	next := 2 * dt
	if maxDV > 0 {
		next = math.Min(next, dt*p.DVTol/maxDV)
	}
	return math.Max(p.DtMin, math.Min(p.DtMax, next))
}

// step advances cell c from t by dt and returns the largest |dV| (mV).
func (e *Engine) step(c *Cell, t, dt float64) float64 {
	p := e.params
	n := len(c.segs)
	inj := make([]float64, n)
	mid := t + dt/2
	for _, s := range e.stims {
		if s.released || s.seg.sec.cell != c {
			continue
		}
		inj[s.seg.index] += s.current(mid)
	}

	a := make([]float64, n)
	b := make([]float64, n)
	cc := make([]float64, n)
	r := make([]float64, n)
	for i, s := range c.segs {
		v := s.v
		d := &s.d

		mInf, mTau := mGate(v, 0, 0, p.phi)
		hInf, hTau := hGate(v, 0, 0, p.phi)
		nInf, nTau := nGate(v, p.phi)
		s.m = relax(s.m, mInf, mTau, dt)
		s.h = relax(s.h, hInf, hTau, dt)
		s.n = relax(s.n, nInf, nTau, dt)
		if d.gNav11m > 0 {
			mmInf, mmTau := mGate(v, d.mhNav11m-mhDefault, d.tmhNav11m-mhDefault, p.phi)
			hmInf, hmTau := hGate(v, d.hhNav11m-hhDefault, d.thhNav11m-hhDefault, p.phi)
			s.mMut = relax(s.mMut, mmInf, mmTau, dt)
			s.hMut = relax(s.hMut, hmInf, hmTau, dt)
		}

		gNa := (d.gNav11+d.gNaTs2)*s.m*s.m*s.m*s.h +
			d.gNav11m*s.mMut*s.mMut*s.mMut*s.hMut +
			d.gNap*napInf(v)
		gK := d.gKv3 * s.n * s.n * s.n * s.n
		gion := gNa + gK + d.gPas

		capTerm := 1e-3 * d.cm / dt
		b[i] = capTerm + gion
		r[i] = capTerm*v + gNa*p.ENa + gK*p.EK + d.gPas*d.ePas + inj[i]*1e-6/s.area
		if i > 0 {
			g := c.gax[i-1] / s.area
			a[i] = -g
			b[i] += g
		}
		if i+1 < n {
			g := c.gax[i] / s.area
			cc[i] = -g
			b[i] += g
		}
	}

	vNew := solveTridiagonal(a, b, cc, r)
	maxDV := 0.0
	for i, s := range c.segs {
		if dv := math.Abs(vNew[i] - s.v); dv > maxDV {
			maxDV = dv
		}
		s.v = vNew[i]
	}
	return maxDV
}

// solveTridiagonal solves the system with sub-diagonal a, diagonal b and
// super-diagonal c using the Thomas algorithm. The inputs are modified.
func solveTridiagonal(a, b, c, r []float64) []float64 {
	n := len(b)
	for i := 1; i < n; i++ {
		w := a[i] / b[i-1]
		b[i] -= w * c[i-1]
		r[i] -= w * r[i-1]
	}
	x := make([]float64, n)
	x[n-1] = r[n-1] / b[n-1]
	for i := n - 2; i >= 0; i-- {
		x[i] = (r[i] - c[i]*x[i+1]) / b[i]
	}
	return x
}
