package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rates",
		Short: "Compute a current-frequency (I-F) curve",
		Long: `Run one constant-current trial per amplitude and report the firing rate at
each requested recording site. Rates are not cached.

Sites: soma, init (AIS), comm (most distal node).

Examples:
  pvnav rates --amps 0.1,0.2,0.3,0.4
  pvnav rates --amps 0.5 --dur 1000 --sites soma,comm`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			amps, _ := cmd.Flags().GetFloat64Slice("amps")
			dur, _ := cmd.Flags().GetFloat64("dur")
			sites, _ := cmd.Flags().GetStringSlice("sites")

			if len(amps) == 0 {
				return fmt.Errorf("--amps is required")
			}

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			c, _, err := a.loadCell()
			if err != nil {
				return err
			}
			rates, err := a.driver.FiringRates(c, amps, dur, sites...)
			if err != nil {
				return err
			}

			if jsonOut {
				return writeJSON(cmd, map[string]any{
					"cell":       c.Name(),
					"duration":   dur,
					"amplitudes": amps,
					"rates":      rates,
				})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s, %g ms\n", c.Name(), dur)
			fmt.Fprintf(out, "  %8s", "nA")
			for _, site := range sites {
				fmt.Fprintf(out, "  %8s", site)
			}
			fmt.Fprintln(out)
			for i, amp := range amps {
				fmt.Fprintf(out, "  %8g", amp)
				for _, site := range sites {
					fmt.Fprintf(out, "  %8.2f", rates[site][i])
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}

	cmd.Flags().Float64Slice("amps", nil, "Stimulus amplitudes (nA)")
	cmd.Flags().Float64("dur", 500, "Stimulus duration (ms)")
	cmd.Flags().StringSlice("sites", []string{"init"}, "Recording sites")

	return cmd
}
