package trace

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nvandessel/pvnav/internal/sim"
)

// ErrUnknownRecordKind is returned for recording kinds other than v, t and apc.
var ErrUnknownRecordKind = errors.New("unknown recording kind")

// RecordKind selects what a probe records.
type RecordKind int

const (
	// RecordVoltage records membrane potential ("v").
	RecordVoltage RecordKind = iota + 1
	// RecordTime records simulation time ("t").
	RecordTime
	// RecordAPCount counts action potentials ("apc").
	RecordAPCount
)

// String returns the short name of the kind.
func (k RecordKind) String() string {
	switch k {
	case RecordVoltage:
		return "v"
	case RecordTime:
		return "t"
	case RecordAPCount:
		return "apc"
	default:
		return fmt.Sprintf("RecordKind(%d)", int(k))
	}
}

// ParseRecordKind resolves "v", "t" or "apc" (case-insensitive).
func ParseRecordKind(s string) (RecordKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "v":
		return RecordVoltage, nil
	case "t":
		return RecordTime, nil
	case "apc":
		return RecordAPCount, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownRecordKind, s)
	}
}

// Record attaches a probe of the given kind at seg. Voltage and time probes
// are sim.Vector values and AP counters are sim.Counter values. Time probes
// ignore seg.
func Record(eng sim.Engine, seg sim.Segment, kind RecordKind) (sim.Handle, error) {
	switch kind {
	case RecordVoltage:
		return eng.RecordV(seg)
	case RecordTime:
		return eng.RecordT()
	case RecordAPCount:
		return eng.APCount(seg)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownRecordKind, kind)
	}
}
