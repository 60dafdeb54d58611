package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"
	"github.com/spf13/cobra"

	"github.com/nvandessel/pvnav/internal/cache"
	"github.com/nvandessel/pvnav/internal/config"
	"github.com/nvandessel/pvnav/internal/store"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the trial cache",
		Long: `List, verify, prune and clear cached trials.

Examples:
  pvnav cache list
  pvnav cache verify
  pvnav cache prune --keep 100 --max-age 30d --max-size 2GB
  pvnav cache clear`,
	}

	cmd.AddCommand(
		newCacheListCmd(),
		newCacheVerifyCmd(),
		newCachePruneCmd(),
		newCacheClearCmd(),
	)

	return cmd
}

// cacheEnv opens the cache for maintenance commands, without an engine.
func cacheEnv(cmd *cobra.Command) (*config.Config, *cache.Cache, store.Ledger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	ledger, err := openLedger(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	c := cache.New(nil, cache.Config{Root: cfg.Cache.Root, Ledger: ledger})
	return cfg, c, ledger, nil
}

func closeLedger(l store.Ledger) {
	if l != nil {
		l.Close()
	}
}

func newCacheListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cached trials",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			cfg, _, ledger, err := cacheEnv(cmd)
			if err != nil {
				return err
			}
			defer closeLedger(ledger)

			entries, err := cache.List(cfg.Cache.Root)
			if err != nil {
				return err
			}
			hits := ledgerHits(cmd.Context(), ledger)

			if jsonOut {
				type jsonEntry struct {
					Key       string          `json:"key"`
					Path      string          `json:"path"`
					Size      int64           `json:"size_bytes"`
					CreatedAt string          `json:"created_at"`
					Trial     cache.TrialInfo `json:"trial"`
					Shape     bool            `json:"shape"`
					Hits      int             `json:"hits"`
					Error     string          `json:"error,omitempty"`
				}
				out := make([]jsonEntry, 0, len(entries))
				for _, e := range entries {
					je := jsonEntry{
						Key:       e.Key,
						Path:      e.Path,
						Size:      e.Size,
						CreatedAt: e.CreatedAt.Format(time.RFC3339),
						Trial:     e.Trial,
						Shape:     e.Shape,
						Hits:      hits[e.Key],
					}
					if e.Err != nil {
						je.Error = e.Err.Error()
					}
					out = append(out, je)
				}
				return writeJSON(cmd, map[string]any{
					"entries":     out,
					"total_count": len(out),
					"directory":   cfg.Cache.Root,
				})
			}

			w := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintf(w, "No cached trials in %s\n", cfg.Cache.Root)
				return nil
			}

			fmt.Fprintf(w, "Cached trials in %s:\n", cfg.Cache.Root)
			var total int64
			for _, e := range entries {
				total += e.Size
				detail := "unreadable"
				if e.Err == nil {
					detail = fmt.Sprintf("%g nA %g ms", e.Trial.Amplitude, e.Trial.Duration)
					if e.Trial.Frequency > 0 {
						detail += fmt.Sprintf(" %g Hz", e.Trial.Frequency)
					}
					if e.Shape {
						detail += " +shape"
					}
				}
				fmt.Fprintf(w, "  %-14s %9s  %3d hits  %-28s %s\n",
					humanize.Time(e.CreatedAt), humanize.Bytes(uint64(e.Size)), hits[e.Key], detail, e.Key)
			}
			fmt.Fprintf(w, "Total: %s in %s\n",
				english.Plural(len(entries), "trial", "trials"), humanize.Bytes(uint64(total)))
			return nil
		},
	}
}

// ledgerHits returns hit counts by key, or nil without a ledger.
func ledgerHits(ctx context.Context, l store.Ledger) map[string]int {
	if l == nil {
		return nil
	}
	entries, err := l.List(ctx)
	if err != nil {
		return nil
	}
	hits := make(map[string]int, len(entries))
	for _, e := range entries {
		hits[e.Key] = e.Hits
	}
	return hits
}

func newCacheVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify [file...]",
		Short: "Verify payload checksums of cached trials",
		Long: `Verify every cached trial, or only the given files, by recomputing the
SHA-256 checksum of each payload.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			paths := args
			if len(paths) == 0 {
				cfg, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				entries, err := cache.List(cfg.Cache.Root)
				if err != nil {
					return err
				}
				for _, e := range entries {
					paths = append(paths, e.Path)
				}
			}

			type result struct {
				File  string `json:"file"`
				Valid bool   `json:"valid"`
				Error string `json:"error,omitempty"`
			}
			results := make([]result, 0, len(paths))
			failed := 0
			for _, p := range paths {
				r := result{File: p, Valid: true}
				if err := cache.Verify(p); err != nil {
					r.Valid, r.Error = false, err.Error()
					failed++
				}
				results = append(results, r)
			}

			if jsonOut {
				if err := writeJSON(cmd, map[string]any{"results": results, "failed": failed}); err != nil {
					return err
				}
			} else {
				w := cmd.OutOrStdout()
				for _, r := range results {
					if r.Valid {
						fmt.Fprintf(w, "OK      %s\n", r.File)
					} else {
						fmt.Fprintf(w, "FAILED  %s: %s\n", r.File, r.Error)
					}
				}
				fmt.Fprintf(w, "%d verified, %d failed\n", len(results)-failed, failed)
			}
			if failed > 0 {
				return fmt.Errorf("%d cached trial(s) failed verification", failed)
			}
			return nil
		},
	}
}

func newCachePruneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete cached trials outside a retention policy",
		Long: `Delete cached trials not kept by any of the given limits. A trial is kept
when it is among the --keep newest, younger than --max-age, or within the
--max-size budget counted from the newest trial.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			keep, _ := cmd.Flags().GetInt("keep")
			maxAge, _ := cmd.Flags().GetString("max-age")
			maxSize, _ := cmd.Flags().GetString("max-size")

			perCell, _ := cmd.Flags().GetBool("per-cell")

			policy, err := buildRetentionPolicy(keep, perCell, maxAge, maxSize)
			if err != nil {
				return err
			}

			_, c, ledger, err := cacheEnv(cmd)
			if err != nil {
				return err
			}
			defer closeLedger(ledger)

			deleted, err := c.Prune(cmd.Context(), policy)
			if err != nil {
				return err
			}

			if jsonOut {
				return writeJSON(cmd, map[string]any{"deleted": deleted, "count": len(deleted)})
			}
			w := cmd.OutOrStdout()
			for _, p := range deleted {
				fmt.Fprintf(w, "  deleted %s\n", p)
			}
			fmt.Fprintf(w, "Pruned %s\n", english.Plural(len(deleted), "trial", "trials"))
			return nil
		},
	}

	cmd.Flags().Int("keep", 0, "Keep the N newest trials")
	cmd.Flags().Bool("per-cell", false, "Apply --keep to each cell model separately")
	cmd.Flags().String("max-age", "", "Keep trials younger than this (e.g. 72h, 30d, 2w)")
	cmd.Flags().String("max-size", "", "Keep newest trials up to this total size (e.g. 500MB)")

	return cmd
}

// buildRetentionPolicy combines the given limits. At least one is required.
func buildRetentionPolicy(keep int, perCell bool, maxAge, maxSize string) (cache.RetentionPolicy, error) {
	var policies []cache.RetentionPolicy
	if keep > 0 {
		policies = append(policies, &cache.CountPolicy{MaxCount: keep, PerCell: perCell})
	}
	if maxAge != "" {
		d, err := cache.ParseDuration(maxAge)
		if err != nil {
			return nil, err
		}
		policies = append(policies, &cache.AgePolicy{MaxAge: d})
	}
	if maxSize != "" {
		n, err := humanize.ParseBytes(maxSize)
		if err != nil {
			return nil, fmt.Errorf("invalid size %q: %w", maxSize, err)
		}
		policies = append(policies, &cache.SizePolicy{MaxBytes: int64(n)})
	}

	switch len(policies) {
	case 0:
		return nil, fmt.Errorf("at least one of --keep, --max-age or --max-size is required")
	case 1:
		return policies[0], nil
	default:
		return &cache.CompositePolicy{Policies: policies}, nil
	}
}

func newCacheClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete every cached trial",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			cfg, c, ledger, err := cacheEnv(cmd)
			if err != nil {
				return err
			}
			defer closeLedger(ledger)

			removed, err := c.Clear(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, map[string]any{"deleted": removed, "count": len(removed)})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s from %s\n",
				english.Plural(len(removed), "trial", "trials"), cfg.Cache.Root)
			return nil
		},
	}
}
