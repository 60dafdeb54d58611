// Package constants provides named constants used throughout the pvnav codebase.
// This centralizes labels and simulation settings so tables, caches and the CLI
// agree on naming.
package constants

// Nav1.1 channel naming
const (
	// Nav1P1 is the display name of the sodium channel under study.
	Nav1P1 = "Nav1.1"
)

// Column and axis labels shared by shape tables, CSV exports and plots.
const (
	CurrentLabel     = "Current (nA)"
	DistanceLabel    = "Distance from soma (μm)"
	InstaFRLabel     = "Instantaneous firing rate (Hz)"
	FiringRateLabel  = "Firing rate (Hz)"
	MaxPropLabel     = "Max propagation distance (μm)"
	NavFracLabel     = Nav1P1 + " fraction"
	NavPercLabel     = Nav1P1 + " deletion \n(% of baseline)"
	NavSectionsLabel = Nav1P1 + " section(s)"
	SiteLabel        = "Recording site"
	StimFreqLabel    = "Stimulation frequency (Hz)"

	APLabel      = "Action potentials"
	TimeLabel    = "Time (ms)"
	VoltageLabel = "Membrane potential (mV)"

	SectionLabel  = "Section"
	TerminalLabel = "Pre-synaptic\nTerminal"
	SomaLabel     = "Soma"
	AISLabel      = "AIS"
)

// Stimulation settings.
const (
	// StimOnset is the delay in ms before any stimulus starts injecting current.
	StimOnset = 10.0

	// StimPulseDur is the width in ms of each pulse of a periodic pulse train.
	StimPulseDur = 1.0

	// RunMargin is the time in ms simulated after the stimulus duration so
	// trailing dynamics after stimulus offset are captured.
	RunMargin = 20.0
)

// Analysis defaults
const (
	// APCountThreshold is the voltage (mV) a spike counter must cross upward to count an AP.
	APCountThreshold = -20.0

	// DefaultSpikeThreshold is the voltage (mV) at or above which a sample can mark a spike onset.
	DefaultSpikeThreshold = 0.0

	// DefaultGapTime is the minimum time (ms) between two recorded spike onsets.
	DefaultGapTime = 1.0

	// DefaultFailureTolerance is the window (ms) in which a downstream spike must follow
	// an upstream one to count as propagated.
	DefaultFailureTolerance = 2.0

	// DefaultPropagationThreshold is the voltage (mV) a segment must reach to count as
	// invaded by an action potential.
	DefaultPropagationThreshold = -20.0

	// DefaultSpikeSection is the section whose first segment is scanned for spike onsets.
	DefaultSpikeSection = "soma[0]"

	// AISSection is the section name of the axon initial segment in the PV morphology.
	AISSection = "axon[1]"
)

// Cache settings
const (
	// DefaultCacheRoot is the directory holding cached trials, relative to the working directory.
	DefaultCacheRoot = ".cache"

	// CacheExt is the extension of cached trial files.
	CacheExt = ".trace"

	// TestMarker marks cache names that are never read from or written to disk.
	TestMarker = "test"
)

// Recording site names used in AP-count structures.
const (
	SiteSoma  = "soma"
	SiteInit  = "init"
	SiteComm  = "comm"
	SiteProps = "props"
)
