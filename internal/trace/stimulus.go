package trace

import (
	"fmt"
	"math"

	"github.com/nvandessel/pvnav/internal/constants"
	"github.com/nvandessel/pvnav/internal/sim"
)

// Stimulus is the current injected at the soma during a trial.
type Stimulus struct {
	Amplitude float64 `json:"amplitude"` // nA
	Duration  float64 `json:"duration"`  // ms
	Frequency float64 `json:"frequency"` // Hz; 0 injects one constant pulse
}

// Pulsed reports whether the stimulus is a pulse train.
func (s Stimulus) Pulsed() bool {
	return s.Frequency > 0
}

// Validate checks the stimulus can be applied.
func (s Stimulus) Validate() error {
	if s.Duration <= 0 || math.IsNaN(s.Duration) || math.IsInf(s.Duration, 0) {
		return fmt.Errorf("stimulus duration must be positive and finite, got %g", s.Duration)
	}
	if s.Frequency < 0 || math.IsNaN(s.Frequency) {
		return fmt.Errorf("stimulus frequency must not be negative, got %g", s.Frequency)
	}
	if math.IsNaN(s.Amplitude) {
		return fmt.Errorf("stimulus amplitude is NaN")
	}
	return nil
}

// Clamp returns the single pulse spanning the whole duration.
func (s Stimulus) Clamp() sim.Clamp {
	return sim.Clamp{
		Delay: constants.StimOnset,
		Dur:   s.Duration,
		Amp:   s.Amplitude,
	}
}

// PulseTrain returns the pulse train for a pulsed stimulus: one pulse every
// 1000/Frequency ms for as many pulses as start within Duration.
func (s Stimulus) PulseTrain() sim.PulseTrain {
	return sim.PulseTrain{
		Delay:  constants.StimOnset,
		Width:  constants.StimPulseDur,
		Num:    int(math.Ceil(s.Duration / 1000 * s.Frequency)),
		Amp:    s.Amplitude,
		Period: 1000 / s.Frequency,
	}
}

// RunTime returns how long a trial with this stimulus is simulated (ms).
func (s Stimulus) RunTime() float64 {
	return s.Duration + constants.RunMargin
}

// attach injects the stimulus at seg.
func (s Stimulus) attach(eng sim.Engine, seg sim.Segment) (sim.Stimulus, error) {
	if s.Pulsed() {
		return eng.Ipulse(seg, s.PulseTrain())
	}
	return eng.IClamp(seg, s.Clamp())
}
