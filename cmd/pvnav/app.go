package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nvandessel/pvnav/internal/cache"
	"github.com/nvandessel/pvnav/internal/cell"
	"github.com/nvandessel/pvnav/internal/config"
	"github.com/nvandessel/pvnav/internal/logging"
	"github.com/nvandessel/pvnav/internal/sim"
	"github.com/nvandessel/pvnav/internal/sim/cable"
	"github.com/nvandessel/pvnav/internal/store"
	"github.com/nvandessel/pvnav/internal/trace"
)

// newEngine builds the simulation engine. Tests replace it.
var newEngine = func(cfg *config.Config, logger *slog.Logger) sim.Engine {
	p := cable.DefaultParams()
	p.Dt = cfg.Simulation.Dt
	p.DtMin = cfg.Simulation.DtMin
	p.DtMax = cfg.Simulation.DtMax
	p.DVTol = cfg.Simulation.DVTol
	p.Celsius = cfg.Simulation.Celsius
	return cable.New(p, logger)
}

// loadConfig loads the configuration and applies the global flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")

	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadPath(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if root, _ := cmd.Flags().GetString("cache-root"); root != "" {
		cfg.Cache.Root = root
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// app holds the components shared by the trial commands.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	trials *logging.TrialLogger
	ledger store.Ledger
	cells  *cell.Registry
	driver *trace.Driver
	cache  *cache.Cache
}

func openApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:    cfg,
		logger: logging.NewLogger(cfg.Logging.Level, cmd.ErrOrStderr()),
		trials: logging.NewTrialLogger(cfg.Cache.Root, cfg.Logging.Level),
	}

	if cfg.Cache.Ledger {
		ledger, err := store.NewSQLiteLedger(cfg.Cache.Root)
		if err != nil {
			a.trials.Close()
			return nil, fmt.Errorf("failed to open cache ledger: %w", err)
		}
		a.ledger = ledger
	}

	engine := newEngine(cfg, a.logger)
	a.cells = cell.NewRegistry(engine, a.logger)
	a.driver = trace.NewDriver(engine, cfg.Simulation.Adaptive, a.logger)
	a.cache = cache.New(a.driver, cache.Config{
		Root:   cfg.Cache.Root,
		Ledger: a.ledger,
		Logger: a.logger,
		Trials: a.trials,
	})
	return a, nil
}

// openLedger opens the ledger alone, for commands that never run trials.
// It returns nil when the ledger is disabled.
func openLedger(cfg *config.Config) (store.Ledger, error) {
	if !cfg.Cache.Ledger {
		return nil, nil
	}
	if _, err := os.Stat(store.LedgerPath(cfg.Cache.Root)); os.IsNotExist(err) {
		return nil, nil
	}
	ledger, err := store.OpenSQLiteLedger(store.LedgerPath(cfg.Cache.Root))
	if err != nil {
		return nil, fmt.Errorf("failed to open cache ledger: %w", err)
	}
	return ledger, nil
}

func (a *app) Close() {
	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil {
			a.logger.Warn("closing ledger", "error", err)
		}
	}
	a.trials.Close()
}

// loadCell returns the configured cell with its preset applied.
func (a *app) loadCell() (*cell.Cell, cell.Preset, error) {
	preset, err := cell.ParsePreset(a.cfg.Cell.Preset)
	if err != nil {
		return nil, "", err
	}
	c, err := a.cells.Get(a.cfg.Cell.Name, cell.Params{
		TargetMyelinatedL: a.cfg.Cell.TargetMyelinatedL,
		NodeSpacing:       a.cfg.Cell.NodeSpacing,
		NodeLength:        a.cfg.Cell.NodeLength,
		AISL:              a.cfg.Cell.AISL,
	})
	if err != nil {
		return nil, "", err
	}
	if _, err := cell.ApplyPreset(c, preset); err != nil {
		return nil, "", err
	}
	return c, preset, nil
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// jsonFloat renders NaN as null.
func jsonFloat(v float64) *float64 {
	if v != v {
		return nil
	}
	return &v
}
