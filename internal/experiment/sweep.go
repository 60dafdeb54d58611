package experiment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/nvandessel/pvnav/internal/cache"
	"github.com/nvandessel/pvnav/internal/cell"
	"github.com/nvandessel/pvnav/internal/constants"
	"github.com/nvandessel/pvnav/internal/logging"
	"github.com/nvandessel/pvnav/internal/measure"
	"github.com/nvandessel/pvnav/internal/shape"
	"github.com/nvandessel/pvnav/internal/sim"
	"github.com/nvandessel/pvnav/internal/trace"
)

// ErrNoShape is returned when a cached trial has no shape table to analyse.
var ErrNoShape = errors.New("trial has no shape table")

// Sweep describes the grid of trials to run.
type Sweep struct {
	// Name prefixes every cache name. Defaults to the preset name.
	Name string

	Preset cell.Preset

	// Fracs are the Nav1.1 fractions kept at each location (1 = baseline).
	Fracs []float64
	Locs  []NavLoc

	// Mutant, when positive, moves that fraction of Nav1.1 into the
	// shifted population after the location change.
	Mutant float64

	Amplitudes []float64 // nA
	Duration   float64   // ms
	Frequency  float64   // Hz; 0 for constant current
}

// Analysis holds the thresholds used to summarize a trial.
type Analysis struct {
	SpikeThreshold       float64
	GapTime              float64
	FailureTolerance     float64
	PropagationThreshold float64
}

// DefaultAnalysis returns the standard thresholds.
func DefaultAnalysis() Analysis {
	return Analysis{
		SpikeThreshold:       constants.DefaultSpikeThreshold,
		GapTime:              constants.DefaultGapTime,
		FailureTolerance:     constants.DefaultFailureTolerance,
		PropagationThreshold: constants.DefaultPropagationThreshold,
	}
}

// Validate checks the sweep can be run.
func (s Sweep) Validate() error {
	if len(s.Fracs) == 0 || len(s.Locs) == 0 || len(s.Amplitudes) == 0 {
		return errors.New("sweep needs at least one fraction, location and amplitude")
	}
	for _, f := range s.Fracs {
		if f < 0 || math.IsNaN(f) {
			return fmt.Errorf("Nav1.1 fraction must not be negative, got %g", f)
		}
	}
	for _, l := range s.Locs {
		if _, err := l.groups(); err != nil {
			return err
		}
	}
	if s.Mutant < 0 || s.Mutant > 1 {
		return fmt.Errorf("mutant fraction must be within [0, 1], got %g", s.Mutant)
	}
	return trace.Stimulus{Duration: s.Duration, Frequency: s.Frequency}.Validate()
}

// Len returns the number of points in the sweep.
func (s Sweep) Len() int {
	return len(s.Fracs) * len(s.Locs) * len(s.Amplitudes)
}

// Point is the summary of one trial.
type Point struct {
	Key       string  `json:"key"`
	Frac      float64 `json:"frac"`
	Loc       string  `json:"loc"`
	Amplitude float64 `json:"amplitude"`
	Hit       bool    `json:"cache_hit"`

	// Rates are the firing rates (Hz) at each single-point recording site.
	Rates map[string]float64 `json:"rates"`

	SomaTimes     []float64 `json:"soma_times"`
	Terminal      string    `json:"terminal"`
	TerminalTimes []float64 `json:"terminal_times"`

	// Failures are soma spikes with no matching spike at the terminal.
	Failures []float64 `json:"failures"`
	Failed   float64   `json:"failed"`

	// MaxIndex is the long-form row of the most distal suprathreshold
	// sample, or measure.NoLocation with a NaN MaxDistance.
	MaxIndex    int     `json:"max_index"`
	MaxDistance float64 `json:"-"`
}

// Runner runs sweeps through a trial cache.
type Runner struct {
	cache    *cache.Cache
	analysis Analysis
	logger   *slog.Logger
}

// NewRunner creates a runner. A nil logger discards output.
func NewRunner(c *cache.Cache, a Analysis, logger *slog.Logger) *Runner {
	return &Runner{cache: c, analysis: a, logger: logging.OrDiscard(logger)}
}

// Run executes every point of s on c, in fraction, location, amplitude
// order. The cell's biophysics are reset with the sweep's preset before
// each point.
func (r *Runner) Run(ctx context.Context, c sim.Cell, s Sweep) ([]Point, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	name := s.Name
	if name == "" {
		name = string(s.Preset)
	}
	if name == "" {
		name = string(cell.PresetDefault)
	}

	points := make([]Point, 0, s.Len())
	for _, frac := range s.Fracs {
		for _, loc := range s.Locs {
			for _, amp := range s.Amplitudes {
				if err := ctx.Err(); err != nil {
					return points, err
				}
				if err := r.configure(c, s, frac, loc); err != nil {
					return points, err
				}
				key := s.pointKey(name, c.Name(), frac, loc, amp)
				stim := trace.Stimulus{Amplitude: amp, Duration: s.Duration, Frequency: s.Frequency}
				tr, err := r.cache.GetOrCompute(ctx, key, c, stim, true)
				if err != nil {
					return points, err
				}
				p, err := r.summarize(tr, s.Duration)
				if err != nil {
					return points, fmt.Errorf("summarizing %s: %w", key, err)
				}
				p.Key, p.Frac, p.Loc, p.Amplitude = key, frac, FormatNavLoc(loc), amp
				r.logger.Debug("sweep point",
					"key", key, "hit", p.Hit, "failed", p.Failed, "max_distance", p.MaxDistance)
				points = append(points, p)
			}
		}
	}
	return points, nil
}

// pointKey names one point in the cache. Pulsed stimuli and mutant sweeps
// change the trial, so they get their own suffixes.
func (s Sweep) pointKey(name, cellName string, frac float64, loc NavLoc, amp float64) string {
	key := name + "/" + Key(cellName, frac, loc.String(), amp, s.Duration)
	if s.Frequency > 0 {
		key += "_" + cell.FormatFloat(s.Frequency) + "Hz"
	}
	if s.Mutant > 0 {
		key += "_mut" + cell.FormatFloat(s.Mutant)
	}
	return key
}

// configure applies the preset and scales Nav1.1 at loc to frac of its
// baseline.
func (r *Runner) configure(c sim.Cell, s Sweep, frac float64, loc NavLoc) error {
	preset := s.Preset
	if preset == "" {
		preset = cell.PresetDefault
	}
	base, err := cell.ApplyPreset(c, preset)
	if err != nil {
		return err
	}
	groups, err := loc.groups()
	if err != nil {
		return err
	}
	for _, g := range groups {
		b, ok := base[g]
		if !ok {
			r.logger.Debug("no Nav1.1 baseline, skipping", "group", g, "cell", c.Name())
			continue
		}
		if err := cell.SetRelativeNav(c, frac, g, b); err != nil {
			return err
		}
	}
	if s.Mutant > 0 {
		return cell.Mutate(c, s.Mutant)
	}
	return nil
}

func (r *Runner) summarize(tr *cache.Trial, dur float64) (Point, error) {
	p := Point{Hit: tr.Hit, Rates: make(map[string]float64)}
	if tr.Shape == nil {
		return p, ErrNoShape
	}
	for _, site := range tr.AP.Sites() {
		if n, ok := tr.AP.Get(site); ok {
			p.Rates[site] = measure.FiringRate(n.N, dur)
		}
	}

	a := r.analysis
	var err error
	p.SomaTimes, err = measure.SpikeTimes(tr.Shape, a.SpikeThreshold, a.GapTime, constants.DefaultSpikeSection)
	if err != nil {
		return p, err
	}

	long := shape.ToLong(tr.Shape)
	terminal, ok := measure.LastSection(long)
	if !ok {
		return p, ErrNoShape
	}
	p.Terminal = terminal
	p.TerminalTimes, err = measure.SpikeTimes(long, a.SpikeThreshold, a.GapTime, terminal)
	if err != nil {
		return p, err
	}

	p.Failures = measure.FindFailures(p.SomaTimes, p.TerminalTimes, a.FailureTolerance)
	p.Failed = measure.Failed(p.SomaTimes, p.Failures)
	p.MaxIndex, p.MaxDistance = measure.MaxPropagation(long, a.PropagationThreshold, measure.Since(0))
	return p, nil
}
