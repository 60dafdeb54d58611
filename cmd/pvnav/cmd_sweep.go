package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvandessel/pvnav/internal/constants"
	"github.com/nvandessel/pvnav/internal/experiment"
)

func newSweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Sweep Nav1.1 fraction and location",
		Long: `Run every combination of Nav1.1 fraction, location and stimulus amplitude
with shape recording, and report firing rate, propagation failures between
the soma and the axon terminal and the maximum propagation distance.

Locations: soma, ais, nodes, axonal, all, or groups joined by "+".

Examples:
  pvnav sweep --fracs 1,0.75,0.5,0.25,0 --locs ais,nodes --amps 0.5
  pvnav sweep --fracs 0.5 --locs ais+nodes --amps 0.3 --dur 1000 --freq 100`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			fracs, _ := cmd.Flags().GetFloat64Slice("fracs")
			locNames, _ := cmd.Flags().GetStringSlice("locs")
			amps, _ := cmd.Flags().GetFloat64Slice("amps")
			dur, _ := cmd.Flags().GetFloat64("dur")
			freq, _ := cmd.Flags().GetFloat64("freq")
			mutant, _ := cmd.Flags().GetFloat64("mutant")
			name, _ := cmd.Flags().GetString("name")

			locs := make([]experiment.NavLoc, 0, len(locNames))
			for _, n := range locNames {
				loc, err := experiment.ParseNavLoc(n)
				if err != nil {
					return err
				}
				locs = append(locs, loc)
			}

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			c, preset, err := a.loadCell()
			if err != nil {
				return err
			}

			s := experiment.Sweep{
				Name:       name,
				Preset:     preset,
				Fracs:      fracs,
				Locs:       locs,
				Mutant:     mutant,
				Amplitudes: amps,
				Duration:   dur,
				Frequency:  freq,
			}
			runner := experiment.NewRunner(a.cache, experiment.Analysis{
				SpikeThreshold:       a.cfg.Analysis.SpikeThreshold,
				GapTime:              a.cfg.Analysis.GapTime,
				FailureTolerance:     a.cfg.Analysis.FailureTolerance,
				PropagationThreshold: a.cfg.Analysis.PropagationThreshold,
			}, a.logger)

			points, err := runner.Run(cmd.Context(), c, s)
			if err != nil {
				return err
			}

			if jsonOut {
				type jsonPoint struct {
					experiment.Point
					PercDecrease float64  `json:"perc_decrease"`
					MaxDistance  *float64 `json:"max_distance"`
				}
				out := make([]jsonPoint, len(points))
				for i, p := range points {
					out[i] = jsonPoint{
						Point:        p,
						PercDecrease: experiment.PercDecrease(p.Frac, 2),
						MaxDistance:  jsonFloat(p.MaxDistance),
					}
				}
				return writeJSON(cmd, map[string]any{
					"cell":     c.Name(),
					"preset":   preset,
					"duration": dur,
					"points":   out,
				})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (%s), %g ms\n", c.Name(), preset, dur)
			fmt.Fprintf(out, "  %-10s %10s %8s %10s %9s %10s  %s\n",
				"loc", "deletion %", "nA", "soma Hz", "failed %", "max um", "cache")
			for _, p := range points {
				status := "miss"
				if p.Hit {
					status = "hit"
				}
				fmt.Fprintf(out, "  %-10s %10g %8g %10.2f %9.1f %10.1f  %s\n",
					p.Loc, experiment.PercDecrease(p.Frac, 2), p.Amplitude,
					p.Rates[constants.SiteSoma], 100*p.Failed, p.MaxDistance, status)
			}
			return nil
		},
	}

	cmd.Flags().Float64Slice("fracs", []float64{1, 0.5, 0}, "Nav1.1 fractions kept (1 = baseline)")
	cmd.Flags().StringSlice("locs", []string{"ais"}, "Nav1.1 locations")
	cmd.Flags().Float64Slice("amps", []float64{0.5}, "Stimulus amplitudes (nA)")
	cmd.Flags().Float64("dur", 500, "Stimulus duration (ms)")
	cmd.Flags().Float64("freq", 0, "Pulse frequency (Hz); 0 for constant current")
	cmd.Flags().Float64("mutant", 0, "Fraction of Nav1.1 moved to the shifted population")
	cmd.Flags().String("name", "", "Cache directory for the sweep (default preset name)")

	return cmd
}
