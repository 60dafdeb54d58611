package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvandessel/pvnav/internal/measure"
)

func newFailuresCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "failures",
		Short: "Match spike times against downstream spike times",
		Long: `Report the spike times that did not propagate. A time t propagated when the
nearest reference time r satisfies t <= r <= t + tolerance. With no
reference times every spike failed.

Examples:
  pvnav failures --times 5,12 --ref 6,20
  pvnav failures --times 3,4,5 --tol 1 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			times, _ := cmd.Flags().GetFloat64Slice("times")
			ref, _ := cmd.Flags().GetFloat64Slice("ref")

			tol, _ := cmd.Flags().GetFloat64("tol")
			if !cmd.Flags().Changed("tol") {
				cfg, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				tol = cfg.Analysis.FailureTolerance
			}

			failures := measure.FindFailures(times, ref, tol)
			failed := measure.Failed(times, failures)

			if jsonOut {
				return writeJSON(cmd, map[string]any{
					"times":     times,
					"reference": ref,
					"tolerance": tol,
					"failures":  failures,
					"failed":    failed,
				})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Failures: %v\n", failures)
			fmt.Fprintf(out, "Failed: %d of %d (%.1f%%)\n", len(failures), len(times), 100*failed)
			return nil
		},
	}

	cmd.Flags().Float64Slice("times", nil, "Upstream spike times (ms)")
	cmd.Flags().Float64Slice("ref", nil, "Downstream spike times (ms)")
	cmd.Flags().Float64("tol", 0, "Tolerance window (ms); default from config")

	return cmd
}
