package cell

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/nvandessel/pvnav/internal/sim"
)

// Gating of the shifted Nav1.1 population installed by Mutate (mV).
const (
	MutMh  = -26.6
	MutHh  = -60.2
	MutTmh = -40.0
	MutThh = -65.0
)

// ErrSameGroup is returned when the group being changed is also the source
// of the baseline conductance.
var ErrSameGroup = errors.New("target group is also the baseline group")

// Mutate moves frac of every section's Nav1.1 conductance into the shifted
// Nav11m population. Sections without Nav1.1 reuse the conductance of the
// last section that had it.
func Mutate(c sim.Cell, frac float64) error {
	gNav := 0.0
	for _, sec := range c.Sections(sim.All) {
		if sec.HasMechanism("Nav11") {
			v, err := sec.At(0.5).Get(ParamNav11)
			if err != nil {
				return fmt.Errorf("mutate %s: %w", sec.Name(), err)
			}
			gNav = v
		}
		for _, seg := range sec.Segments() {
			mechs := seg.Mechanisms()
			if slices.Contains(mechs, "Nav11m") {
				for _, pv := range []paramValue{
					{ParamNav11m, frac * gNav},
					{ParamMh, MutMh},
					{ParamHh, MutHh},
					{ParamTmh, MutTmh},
					{ParamThh, MutThh},
				} {
					if err := seg.Set(pv.param, pv.value); err != nil {
						return fmt.Errorf("mutate %s: %w", sec.Name(), err)
					}
				}
			}
			if slices.Contains(mechs, "Nav11") {
				if err := seg.Set(ParamNav11, (1-frac)*gNav); err != nil {
					return fmt.Errorf("mutate %s: %w", sec.Name(), err)
				}
			}
		}
	}
	return nil
}

// SetRelativeNav sets the Nav1.1 conductance of every section in group at to
// base*proportion. Myelin sections are skipped.
func SetRelativeNav(c sim.Cell, proportion float64, at sim.Group, base float64) error {
	for _, sec := range c.Sections(at) {
		if strings.Contains(sec.Name(), "myelin") {
			continue
		}
		if err := sec.Set(ParamNav11, base*proportion); err != nil {
			return fmt.Errorf("setting %s on %s: %w", ParamNav11, sec.Name(), err)
		}
	}
	return nil
}

// SetRelativeNavFrom is SetRelativeNav with the baseline read from the last
// section of baseGroup.
func SetRelativeNavFrom(c sim.Cell, proportion float64, at, baseGroup sim.Group) error {
	if at == baseGroup {
		return fmt.Errorf("cannot change %s: %w", at, ErrSameGroup)
	}
	sec := sim.Last(c, baseGroup)
	if sec == nil {
		return fmt.Errorf("baseline group %s: %w", baseGroup, sim.ErrUnknownGroup)
	}
	base, err := sec.At(0.5).Get(ParamNav11)
	if err != nil {
		return fmt.Errorf("reading baseline from %s: %w", sec.Name(), err)
	}
	return SetRelativeNav(c, proportion, at, base)
}

// SetProperty sets property on every section of group. With ignoreErr,
// sections that lack the property are skipped.
func SetProperty(c sim.Cell, property string, value float64, group sim.Group, ignoreErr bool) error {
	for _, sec := range c.Sections(group) {
		if err := sec.Set(property, value); err != nil {
			if ignoreErr && errors.Is(err, sim.ErrUnknownParam) {
				continue
			}
			return fmt.Errorf("setting %s on %s: %w", property, sec.Name(), err)
		}
	}
	return nil
}
