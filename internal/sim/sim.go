// Package sim defines the boundary between pvnav and the compartmental
// simulation engine that integrates the cell model.
//
// An Engine is an explicitly passed simulation context: it owns one clock and
// one set of active mechanisms, and every trial-driving operation receives it
// by reference. Probes and stimuli created on an Engine are Handles; a handle
// stays active until Release is called on it.
package sim

import "errors"

// Sentinel errors returned by engines.
var (
	// ErrTemplateNotLoaded is returned by NewCell when cell definitions have not
	// been loaded into the engine yet. Callers may LoadTemplates and retry.
	ErrTemplateNotLoaded = errors.New("cell template not loaded")

	// ErrUnknownParam is returned when a mechanism parameter name does not exist
	// on a section or segment.
	ErrUnknownParam = errors.New("unknown parameter")

	// ErrUnknownGroup is returned when a section group name cannot be resolved.
	ErrUnknownGroup = errors.New("unknown section group")

	// ErrReleased is returned when a released handle is used to start recording.
	ErrReleased = errors.New("handle released")
)

// Variant selects the morphology template a cell is built from.
type Variant int

const (
	// VariantStandard builds the myelinated axon with nodes of Ranvier.
	VariantStandard Variant = iota
	// VariantOriginal builds the reduced model without myelin and nodes.
	VariantOriginal
)

// String returns the template name of the variant.
func (v Variant) String() string {
	switch v {
	case VariantOriginal:
		return "pv_orig"
	default:
		return "pv"
	}
}

// Template holds the construction parameters of a cell.
type Template struct {
	Variant           Variant
	TargetMyelinatedL float64 // total myelinated length (μm)
	NodeSpacing       float64 // internode length (μm)
	NodeLength        float64 // node of Ranvier length (μm)
	AISL              float64 // axon initial segment length (μm)
}

// Clamp is a single constant-amplitude current pulse.
type Clamp struct {
	Delay float64 // ms
	Dur   float64 // ms
	Amp   float64 // nA
}

// PulseTrain is a periodic train of square current pulses.
type PulseTrain struct {
	Delay  float64 // ms before the first pulse
	Width  float64 // ms of each pulse
	Num    int     // number of pulses
	Amp    float64 // nA
	Period float64 // ms between pulse onsets
}

// Handle is any engine object whose lifetime is scoped to a trial.
type Handle interface {
	// Release detaches the object from the engine. Released stimuli stop
	// injecting current and released probes stop recording.
	Release()
}

// Stimulus is an attached current source.
type Stimulus interface {
	Handle
}

// Vector is a recording probe. Values returns a copy of the samples recorded
// during the last Run.
type Vector interface {
	Handle
	Values() []float64
}

// Counter counts upward threshold crossings at a segment.
type Counter interface {
	Handle
	N() int
	Threshold() float64
}

// Engine is the simulator surface consumed by pvnav.
type Engine interface {
	// LoadTemplates loads the cell definitions required by NewCell.
	LoadTemplates() error

	// NewCell instantiates a cell from a template.
	NewCell(t Template) (Cell, error)

	// IClamp attaches a single constant pulse to seg.
	IClamp(seg Segment, c Clamp) (Stimulus, error)

	// Ipulse attaches a periodic pulse train to seg.
	Ipulse(seg Segment, p PulseTrain) (Stimulus, error)

	// RecordV records the membrane potential at seg on every step.
	RecordV(seg Segment) (Vector, error)

	// RecordT records the simulation time on every step.
	RecordT() (Vector, error)

	// APCount counts action potentials at seg.
	APCount(seg Segment) (Counter, error)

	// SetDistanceOrigin sets the reference point for Distance.
	SetDistanceOrigin(seg Segment)

	// Distance returns the path length (μm) from the origin to seg.
	Distance(seg Segment) float64

	// Run initializes all cells and integrates until tstop (ms).
	Run(tstop float64, adaptive bool) error
}

// Cell is an instantiated cell model.
type Cell interface {
	// Name returns the engine's name for the cell instance.
	Name() string

	// Sections returns the ordered sections of a group. Groups the cell does
	// not have resolve to an empty slice.
	Sections(g Group) []Section

	// Biophys resets all mechanism densities to the template defaults.
	Biophys() error
}

// Section is an unbranched cable of one or more segments.
type Section interface {
	// Name returns the fully qualified section name, e.g. "pv[0].soma[0]".
	Name() string

	// Segments returns the interior segments in order from 0 to 1.
	Segments() []Segment

	// At returns the segment containing normalized position x.
	At(x float64) Segment

	// HasMechanism reports whether any segment has the mechanism inserted.
	HasMechanism(mech string) bool

	// Set sets a parameter on every segment of the section.
	Set(param string, value float64) error
}

// Segment is a single compartment of a section.
type Segment interface {
	Section() Section
	X() float64
	Mechanisms() []string
	Get(param string) (float64, error)
	Set(param string, value float64) error
}

// HasNodeSites reports whether the cell exposes the recording points used for
// multi-site spike counting: an axon ending in the AIS and nodes of Ranvier.
func HasNodeSites(c Cell) bool {
	return len(c.Sections(Axon)) > 0 && len(c.Sections(Nodes)) > 0
}

// Last returns the last section of a group, or nil when the group is empty.
func Last(c Cell, g Group) Section {
	secs := c.Sections(g)
	if len(secs) == 0 {
		return nil
	}
	return secs[len(secs)-1]
}

// First returns the first section of a group, or nil when the group is empty.
func First(c Cell, g Group) Section {
	secs := c.Sections(g)
	if len(secs) == 0 {
		return nil
	}
	return secs[0]
}
