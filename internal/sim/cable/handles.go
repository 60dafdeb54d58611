package cable

import "math"

// stimulus is a square pulse train. A single clamp is a train of one pulse.
type stimulus struct {
	eng      *Engine
	seg      *Segment
	amp      float64
	delay    float64
	width    float64
	num      int
	period   float64
	released bool
}

// current returns the injected current (nA) at time t.
func (s *stimulus) current(t float64) float64 {
	if t < s.delay || s.num <= 0 {
		return 0
	}
	k := 0
	if s.num > 1 {
		k = int(math.Floor((t - s.delay) / s.period))
	}
	if k >= s.num {
		return 0
	}
	if t-s.delay-float64(k)*s.period < s.width {
		return s.amp
	}
	return 0
}

func (s *stimulus) Release() {
	s.eng.mu.Lock()
	s.released = true
	s.eng.mu.Unlock()
}

// vector records voltage at seg, or time when seg is nil.
type vector struct {
	eng      *Engine
	seg      *Segment
	values   []float64
	released bool
}

func (v *vector) Values() []float64 {
	v.eng.mu.Lock()
	defer v.eng.mu.Unlock()
	return append([]float64(nil), v.values...)
}

func (v *vector) Release() {
	v.eng.mu.Lock()
	v.released = true
	v.eng.mu.Unlock()
}

// counter counts upward threshold crossings.
type counter struct {
	eng      *Engine
	seg      *Segment
	thresh   float64
	n        int
	above    bool
	released bool
}

func (c *counter) N() int {
	c.eng.mu.Lock()
	defer c.eng.mu.Unlock()
	return c.n
}

func (c *counter) Threshold() float64 { return c.thresh }

func (c *counter) Release() {
	c.eng.mu.Lock()
	c.released = true
	c.eng.mu.Unlock()
}
