// Package trace runs stimulation trials against a simulation engine and
// collects their recordings: the soma voltage trace, action-potential counts
// at the recording sites and, optionally, a shape table of every segment.
package trace

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nvandessel/pvnav/internal/constants"
	"github.com/nvandessel/pvnav/internal/logging"
	"github.com/nvandessel/pvnav/internal/measure"
	"github.com/nvandessel/pvnav/internal/shape"
	"github.com/nvandessel/pvnav/internal/sim"
)

// ErrNoSoma is returned for cells without a soma section.
var ErrNoSoma = errors.New("cell has no soma")

// ErrUnknownSite is returned when a requested AP site was not recorded.
var ErrUnknownSite = errors.New("unknown recording site")

// Result is the outcome of one trial.
type Result struct {
	// Time and Voltage are the samples at the middle of the soma.
	Time    []float64
	Voltage []float64

	// AP holds per-site counts. Cells with node sites report soma, init,
	// comm and props; other cells report soma only.
	AP APCounts

	// Shape is nil unless shape recording was requested.
	Shape *shape.Wide
}

// Driver runs trials on one engine, one trial at a time.
type Driver struct {
	mu       sync.Mutex
	engine   sim.Engine
	adaptive bool
	logger   *slog.Logger
}

// NewDriver creates a driver. Trials use adaptive time steps when adaptive
// is set. A nil logger discards output.
func NewDriver(engine sim.Engine, adaptive bool, logger *slog.Logger) *Driver {
	return &Driver{
		engine:   engine,
		adaptive: adaptive,
		logger:   logging.OrDiscard(logger),
	}
}

// Engine returns the driven engine.
func (d *Driver) Engine() sim.Engine { return d.engine }

// trial collects the handles of one trial so they stay attached until the
// results have been read.
type trial struct {
	eng     sim.Engine
	handles []sim.Handle
}

func (t *trial) keep(h sim.Handle, err error) (sim.Handle, error) {
	if err != nil {
		return nil, err
	}
	t.handles = append(t.handles, h)
	return h, nil
}

func (t *trial) vector(seg sim.Segment, kind RecordKind) (sim.Vector, error) {
	h, err := t.keep(Record(t.eng, seg, kind))
	if err != nil {
		return nil, fmt.Errorf("recording %s: %w", kind, err)
	}
	return h.(sim.Vector), nil
}

func (t *trial) counter(seg sim.Segment) (sim.Counter, error) {
	h, err := t.keep(Record(t.eng, seg, RecordAPCount))
	if err != nil {
		return nil, fmt.Errorf("recording %s: %w", RecordAPCount, err)
	}
	return h.(sim.Counter), nil
}

func (t *trial) release() {
	for _, h := range t.handles {
		h.Release()
	}
	t.handles = nil
}

// apProbes are the counters of one trial by site.
type apProbes struct {
	scalar map[string]sim.Counter
	vector map[string][]sim.Counter
}

func (p apProbes) counts() APCounts {
	out := NewAPCounts()
	for site, c := range p.scalar {
		out.Scalar[site] = APCount{N: c.N()}
	}
	for site, cs := range p.vector {
		counts := make([]APCount, len(cs))
		for i, c := range cs {
			counts[i] = APCount{N: c.N()}
		}
		out.Vector[site] = counts
	}
	return out
}

// shapeProbe is one segment recorded for the shape table.
type shapeProbe struct {
	loc shape.Location
	vec sim.Vector
}

// Acquire runs one trial of stim on c. When withShape is set, every segment
// of the somatic and axonal sections is recorded into Result.Shape.
func (d *Driver) Acquire(c sim.Cell, stim Stimulus, withShape bool) (*Result, error) {
	if err := stim.Validate(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	soma := sim.First(c, sim.Soma)
	if soma == nil {
		return nil, fmt.Errorf("acquire %s: %w", c.Name(), ErrNoSoma)
	}
	mid := soma.At(0.5)

	tr := &trial{eng: d.engine}
	defer tr.release()

	if _, err := tr.keep(stim.attach(d.engine, mid)); err != nil {
		return nil, fmt.Errorf("attaching stimulus: %w", err)
	}
	tv, err := tr.vector(mid, RecordTime)
	if err != nil {
		return nil, err
	}
	vv, err := tr.vector(mid, RecordVoltage)
	if err != nil {
		return nil, err
	}

	probes, err := d.apProbes(tr, c, mid)
	if err != nil {
		return nil, err
	}

	var shapeProbes []shapeProbe
	if withShape {
		if shapeProbes, err = d.shapeProbes(tr, c, mid); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	if err := d.engine.Run(stim.RunTime(), d.adaptive); err != nil {
		return nil, fmt.Errorf("running trial on %s: %w", c.Name(), err)
	}

	res := &Result{
		Time:    tv.Values(),
		Voltage: vv.Values(),
		AP:      probes.counts(),
	}
	if withShape {
		w := shape.NewWide(res.Time)
		for _, p := range shapeProbes {
			if err := w.Add(p.loc, p.vec.Values()); err != nil {
				return nil, fmt.Errorf("assembling shape table: %w", err)
			}
		}
		res.Shape = w
	}

	d.logger.Debug("trial complete",
		"cell", c.Name(),
		"amplitude", stim.Amplitude,
		"duration", stim.Duration,
		"frequency", stim.Frequency,
		"samples", len(res.Time),
		"shape_columns", len(shapeProbes),
		"elapsed", time.Since(start))
	return res, nil
}

// apProbes attaches spike counters. Cells with node sites are counted at the
// soma, the end of the axon (initiation), the end of the last node
// (commitment) and the end of every node (propagation); other cells at the
// soma only.
func (d *Driver) apProbes(tr *trial, c sim.Cell, mid sim.Segment) (apProbes, error) {
	p := apProbes{scalar: make(map[string]sim.Counter), vector: make(map[string][]sim.Counter)}

	somaAP, err := tr.counter(mid)
	if err != nil {
		return p, err
	}
	p.scalar[constants.SiteSoma] = somaAP

	if !sim.HasNodeSites(c) {
		d.logger.Debug("cell has no node sites, counting at soma only", "cell", c.Name())
		return p, nil
	}

	if p.scalar[constants.SiteInit], err = tr.counter(sim.Last(c, sim.Axon).At(1)); err != nil {
		return p, err
	}
	if p.scalar[constants.SiteComm], err = tr.counter(sim.Last(c, sim.Nodes).At(1)); err != nil {
		return p, err
	}
	for _, node := range c.Sections(sim.Nodes) {
		ap, err := tr.counter(node.At(1))
		if err != nil {
			return p, err
		}
		p.vector[constants.SiteProps] = append(p.vector[constants.SiteProps], ap)
	}
	return p, nil
}

// shapeProbes records every segment of the somatic and axonal sections with
// its distance from the middle of the soma.
func (d *Driver) shapeProbes(tr *trial, c sim.Cell, mid sim.Segment) ([]shapeProbe, error) {
	d.engine.SetDistanceOrigin(mid)

	var probes []shapeProbe
	for _, g := range []sim.Group{sim.Somatic, sim.Axonal} {
		for _, sec := range c.Sections(g) {
			name := LocalName(sec.Name())
			for _, seg := range sec.Segments() {
				v, err := tr.vector(seg, RecordVoltage)
				if err != nil {
					return nil, err
				}
				probes = append(probes, shapeProbe{
					loc: shape.Location{Section: name, Distance: d.engine.Distance(seg)},
					vec: v,
				})
			}
		}
	}
	return probes, nil
}

// LocalName strips the owner prefix from a section name:
// "pv[0].axon[1]" becomes "axon[1]".
func LocalName(name string) string {
	return name[strings.Index(name, ".")+1:]
}

// FiringRates runs one constant-current trial of dur ms per input amplitude
// and returns the firing rate (Hz) at each requested scalar site. With no
// sites the initiation site is used.
func (d *Driver) FiringRates(c sim.Cell, inputs []float64, dur float64, sites ...string) (map[string][]float64, error) {
	if len(sites) == 0 {
		sites = []string{constants.SiteInit}
	}
	rates := make(map[string][]float64, len(sites))
	for _, amp := range inputs {
		res, err := d.Acquire(c, Stimulus{Amplitude: amp, Duration: dur}, false)
		if err != nil {
			return nil, fmt.Errorf("firing rate at %g nA: %w", amp, err)
		}
		for _, site := range sites {
			ap, ok := res.AP.Get(site)
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrUnknownSite, site)
			}
			rates[site] = append(rates[site], measure.FiringRate(ap.N, dur))
		}
	}
	return rates, nil
}
