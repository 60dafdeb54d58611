// Package config provides unified configuration loading for pvnav.
// It supports loading from YAML files and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/nvandessel/pvnav/internal/constants"
	"gopkg.in/yaml.v3"
)

// DefaultFile is the config file looked up in the working directory by Load.
const DefaultFile = "pvnav.yaml"

// Config contains all pvnav configuration settings.
type Config struct {
	// Cache controls where trials are persisted.
	Cache CacheConfig `json:"cache" yaml:"cache"`

	// Simulation configures the reference engine.
	Simulation SimulationConfig `json:"simulation" yaml:"simulation"`

	// Analysis holds thresholds for spike extraction and propagation measures.
	Analysis AnalysisConfig `json:"analysis" yaml:"analysis"`

	// Cell selects the cell model and its biophysical preset.
	Cell CellConfig `json:"cell" yaml:"cell"`

	// Logging contains settings for operational and trial logging.
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// CacheConfig configures the trace cache.
type CacheConfig struct {
	// Root is the directory holding cached trial files. Created on demand.
	Root string `json:"root" yaml:"root"`

	// Ledger enables the SQLite index of cache entries (<root>/ledger.db).
	Ledger bool `json:"ledger" yaml:"ledger"`
}

// SimulationConfig configures the built-in cable engine.
type SimulationConfig struct {
	// Adaptive enables variable time stepping.
	Adaptive bool `json:"adaptive" yaml:"adaptive"`

	// Dt is the fixed step in ms used when Adaptive is false.
	Dt float64 `json:"dt" yaml:"dt"`

	// DtMin and DtMax bound the adaptive step in ms.
	DtMin float64 `json:"dt_min" yaml:"dt_min"`
	DtMax float64 `json:"dt_max" yaml:"dt_max"`

	// DVTol is the voltage change (mV) targeted per adaptive step.
	DVTol float64 `json:"dv_tol" yaml:"dv_tol"`

	// Celsius is the simulation temperature used for gate kinetics.
	Celsius float64 `json:"celsius" yaml:"celsius"`
}

// AnalysisConfig configures spike extraction and propagation measures.
type AnalysisConfig struct {
	SpikeThreshold       float64 `json:"spike_threshold" yaml:"spike_threshold"`
	GapTime              float64 `json:"gap_time" yaml:"gap_time"`
	FailureTolerance     float64 `json:"failure_tolerance" yaml:"failure_tolerance"`
	PropagationThreshold float64 `json:"propagation_threshold" yaml:"propagation_threshold"`
}

// CellConfig selects the cell model.
type CellConfig struct {
	Name              string  `json:"name" yaml:"name"`
	Preset            string  `json:"preset" yaml:"preset"`
	TargetMyelinatedL float64 `json:"target_myelinated_l" yaml:"target_myelinated_l"`
	NodeSpacing       float64 `json:"node_spacing" yaml:"node_spacing"`
	NodeLength        float64 `json:"node_length" yaml:"node_length"`
	AISL              float64 `json:"ais_l" yaml:"ais_l"`
}

// LoggingConfig configures pvnav's logging behavior.
type LoggingConfig struct {
	// Level sets the log verbosity: "info" (default), "debug", or "trace".
	// "debug" enables trial logging to <cache root>/trials.jsonl.
	Level string `json:"level" yaml:"level"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Cache: CacheConfig{
			Root:   constants.DefaultCacheRoot,
			Ledger: true,
		},
		Simulation: SimulationConfig{
			Adaptive: true,
			Dt:       0.025,
			DtMin:    0.005,
			DtMax:    0.1,
			DVTol:    0.5,
			Celsius:  6.3,
		},
		Analysis: AnalysisConfig{
			SpikeThreshold:       constants.DefaultSpikeThreshold,
			GapTime:              constants.DefaultGapTime,
			FailureTolerance:     constants.DefaultFailureTolerance,
			PropagationThreshold: constants.DefaultPropagationThreshold,
		},
		Cell: CellConfig{
			Name:              "default",
			Preset:            "default",
			TargetMyelinatedL: 1000,
			NodeSpacing:       30,
			NodeLength:        1,
			AISL:              60,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from the default locations and environment variables.
// Order: defaults -> ./pvnav.yaml -> environment variables
func Load() (*Config, error) {
	config := Default()

	if _, statErr := os.Stat(DefaultFile); statErr == nil {
		fileConfig, err := LoadFromFile(DefaultFile)
		if err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
		config = fileConfig
	}

	applyEnvOverrides(config)

	return config, nil
}

// LoadPath loads configuration from path and applies environment variables.
func LoadPath(path string) (*Config, error) {
	config, err := LoadFromFile(path)
	if err != nil {
		return nil, err
	}
	applyEnvOverrides(config)
	return config, nil
}

// LoadFromFile loads configuration from a specific YAML file.
// Fields missing from the file keep their default values.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	config.Cache.Root = os.ExpandEnv(config.Cache.Root)

	return config, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Cache.Root == "" {
		return fmt.Errorf("cache root must not be empty")
	}

	if c.Simulation.Dt <= 0 {
		return fmt.Errorf("dt must be positive, got %g", c.Simulation.Dt)
	}
	if c.Simulation.DtMin <= 0 || c.Simulation.DtMax < c.Simulation.DtMin {
		return fmt.Errorf("invalid adaptive step bounds: dt_min=%g dt_max=%g", c.Simulation.DtMin, c.Simulation.DtMax)
	}
	if c.Simulation.DVTol <= 0 {
		return fmt.Errorf("dv_tol must be positive, got %g", c.Simulation.DVTol)
	}

	if c.Analysis.GapTime < 0 {
		return fmt.Errorf("gap_time must be non-negative, got %g", c.Analysis.GapTime)
	}
	if c.Analysis.FailureTolerance < 0 {
		return fmt.Errorf("failure_tolerance must be non-negative, got %g", c.Analysis.FailureTolerance)
	}

	if c.Cell.Name == "" {
		return fmt.Errorf("cell name must not be empty")
	}
	if c.Cell.NodeSpacing <= 0 || c.Cell.NodeLength <= 0 || c.Cell.AISL <= 0 || c.Cell.TargetMyelinatedL < 0 {
		return fmt.Errorf("invalid cell geometry: myelinated=%g spacing=%g node=%g ais=%g",
			c.Cell.TargetMyelinatedL, c.Cell.NodeSpacing, c.Cell.NodeLength, c.Cell.AISL)
	}

	validLevels := map[string]bool{"info": true, "debug": true, "trace": true}
	if c.Logging.Level != "" && !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: info, debug, trace, or empty for default)", c.Logging.Level)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("PVNAV_CACHE_ROOT"); v != "" {
		config.Cache.Root = v
	}
	if v := os.Getenv("PVNAV_CACHE_LEDGER"); v != "" {
		config.Cache.Ledger = v == "true" || v == "1"
	}
	if v := os.Getenv("PVNAV_ADAPTIVE"); v != "" {
		config.Simulation.Adaptive = v == "true" || v == "1"
	}
	if v := os.Getenv("PVNAV_CELSIUS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Simulation.Celsius = f
		}
	}
	if v := os.Getenv("PVNAV_SPIKE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Analysis.SpikeThreshold = f
		}
	}
	if v := os.Getenv("PVNAV_GAP_TIME"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Analysis.GapTime = f
		}
	}
	if v := os.Getenv("PVNAV_FAILURE_TOLERANCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Analysis.FailureTolerance = f
		}
	}
	if v := os.Getenv("PVNAV_CELL_PRESET"); v != "" {
		config.Cell.Preset = v
	}
	if v := os.Getenv("PVNAV_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
}
