package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nvandessel/pvnav/internal/cache"
	"github.com/nvandessel/pvnav/internal/constants"
	"github.com/nvandessel/pvnav/internal/experiment"
	"github.com/nvandessel/pvnav/internal/measure"
	"github.com/nvandessel/pvnav/internal/shape"
	"github.com/nvandessel/pvnav/internal/trace"
)

func newTraceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Run (or load) one stimulation trial",
		Long: `Run one stimulation trial on the configured cell and report action-potential
counts per recording site. Trials are cached under the cache root; names
containing "test" are always recomputed and never stored.

Examples:
  pvnav trace --amp 0.5 --dur 500
  pvnav trace --amp 0.3 --dur 1000 --freq 50 --shape --csv shape.csv
  pvnav trace --amp 0.5 --dur 100 --shape --concise --csv landmarks.csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			amp, _ := cmd.Flags().GetFloat64("amp")
			dur, _ := cmd.Flags().GetFloat64("dur")
			freq, _ := cmd.Flags().GetFloat64("freq")
			withShape, _ := cmd.Flags().GetBool("shape")
			name, _ := cmd.Flags().GetString("name")
			csvPath, _ := cmd.Flags().GetString("csv")
			concise, _ := cmd.Flags().GetBool("concise")

			if csvPath != "" && !withShape {
				return fmt.Errorf("--csv requires --shape")
			}
			stim := trace.Stimulus{Amplitude: amp, Duration: dur, Frequency: freq}
			if err := stim.Validate(); err != nil {
				return err
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
			if name == "" {
				name = fmt.Sprintf("trace/%s_%s", preset, experiment.Key(c.Name(), 1, "none", amp, dur))
				if freq > 0 {
					name += "_" + fmt.Sprint(freq) + "Hz"
				}
				if withShape {
					name += "_shape"
				}
			}

			tr, err := a.cache.GetOrCompute(cmd.Context(), name, c, stim, withShape)
			if err != nil {
				return err
			}

			var somaTimes []float64
			if tr.Shape != nil {
				somaTimes, err = measure.SpikeTimes(tr.Shape, a.cfg.Analysis.SpikeThreshold,
					a.cfg.Analysis.GapTime, constants.DefaultSpikeSection)
				if err != nil {
					return err
				}
			}

			if csvPath != "" {
				if err := writeShapeCSV(csvPath, tr, concise); err != nil {
					return err
				}
			}

			if jsonOut {
				counts := make(map[string]any, tr.AP.Len())
				for _, site := range tr.AP.Sites() {
					if n, ok := tr.AP.Get(site); ok {
						counts[site] = n.N
					} else if each, ok := tr.AP.Each(site); ok {
						ns := make([]int, len(each))
						for i, e := range each {
							ns[i] = e.N
						}
						counts[site] = ns
					}
				}
				return writeJSON(cmd, map[string]any{
					"trial_id":   tr.ID,
					"cell":       c.Name(),
					"preset":     preset,
					"stimulus":   stim,
					"cache_hit":  tr.Hit,
					"path":       tr.Path,
					"ap_counts":  counts,
					"soma_times": somaTimes,
				})
			}

			out := cmd.OutOrStdout()
			status := "computed"
			if tr.Hit {
				status = "cached"
			}
			fmt.Fprintf(out, "%s (%s)\n", c.Name(), status)
			fmt.Fprintf(out, "  stimulus: %g nA for %g ms", amp, dur)
			if freq > 0 {
				fmt.Fprintf(out, " at %g Hz", freq)
			}
			fmt.Fprintln(out)
			for _, site := range tr.AP.Sites() {
				if n, ok := tr.AP.Get(site); ok {
					fmt.Fprintf(out, "  %-6s %4d APs  %8.2f Hz\n", site, n.N, measure.FiringRate(n.N, dur))
				} else if each, ok := tr.AP.Each(site); ok {
					fmt.Fprintf(out, "  %-6s", site)
					for _, e := range each {
						fmt.Fprintf(out, " %d", e.N)
					}
					fmt.Fprintln(out)
				}
			}
			if tr.Shape != nil {
				fmt.Fprintf(out, "  soma spike times (ms): %v\n", somaTimes)
			}
			if csvPath != "" {
				fmt.Fprintf(out, "Shape table written to %s\n", csvPath)
			}
			return nil
		},
	}

	cmd.Flags().Float64("amp", 0.5, "Stimulus amplitude (nA)")
	cmd.Flags().Float64("dur", 500, "Stimulus duration (ms)")
	cmd.Flags().Float64("freq", 0, "Pulse frequency (Hz); 0 for constant current")
	cmd.Flags().Bool("shape", false, "Record voltage at every segment")
	cmd.Flags().String("name", "", "Cache name (default derived from cell and stimulus)")
	cmd.Flags().String("csv", "", "Write the long-form shape table to this file")
	cmd.Flags().Bool("concise", false, "Keep only soma, AIS end and terminal rows in --csv output")

	return cmd
}

func writeShapeCSV(path string, tr *cache.Trial, concise bool) error {
	long := shape.ToLong(tr.Shape)
	if concise {
		var err error
		if long, err = shape.Concise(long, true); err != nil {
			return err
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := shape.WriteCSV(f, long); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}
