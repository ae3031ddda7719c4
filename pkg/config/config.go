// Package config holds the CLI-configurable tunables shared by every energat
// subcommand: the cobra/pflag flag set plus an optional YAML config file
// layered underneath it, mirroring the original ml_collections
// config-file-plus-flags setup without adopting a non-ecosystem dependency.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/pflag"
)

// Config is the full set of tunables from spec §6.
type Config struct {
	PID  int
	Name string

	Output   string
	BaseFile string

	BasePeriod  time.Duration
	RAPLPeriod  time.Duration
	Interval    time.Duration
	Gamma       float64
	Delta       float64
	LogInterval time.Duration
	LogLevel    string

	ConfigFile string
}

// Defaults mirrors configs/default.py's values.
func Defaults() Config {
	return Config{
		Output:      "./data/results",
		BaseFile:    "./data/baseline_power.json",
		BasePeriod:  2 * time.Second,
		RAPLPeriod:  10 * time.Millisecond,
		Interval:    time.Second,
		Gamma:       0.3,
		Delta:       0.2,
		LogInterval: 2 * time.Second,
		LogLevel:    "info",
	}
}

// RegisterFlags binds every Config field to a flag on flags, pre-filled
// with cfg's current (default) values.
func RegisterFlags(flags *pflag.FlagSet, cfg *Config) {
	flags.IntVar(&cfg.PID, "pid", cfg.PID, "PID of the target application")
	flags.StringVar(&cfg.Name, "name", cfg.Name, "Name of the target application")
	flags.StringVar(&cfg.Output, "output", cfg.Output, "Output directory")
	flags.StringVar(&cfg.BaseFile, "basefile", cfg.BaseFile, "File recording the baseline power")
	flags.DurationVar(&cfg.BasePeriod, "base_period", cfg.BasePeriod, "Baseline period (not read by any subcommand; basepower samples over --rapl_period)")
	flags.DurationVar(&cfg.RAPLPeriod, "rapl_period", cfg.RAPLPeriod, "Sampling period for RAPL power meters (>= 10ms)")
	flags.DurationVar(&cfg.Interval, "interval", cfg.Interval, "Interval between two power estimations (>= 50ms)")
	flags.Float64Var(&cfg.Gamma, "gamma", cfg.Gamma, "Non-linear scaling factor for CPU power")
	flags.Float64Var(&cfg.Delta, "delta", cfg.Delta, "Non-linear scaling factor for DRAM power")
	flags.DurationVar(&cfg.LogInterval, "logging", cfg.LogInterval, "Debug logging interval (loglvl=debug only)")
	flags.StringVar(&cfg.LogLevel, "loglvl", cfg.LogLevel, "Logging level (info|debug)")
	flags.StringVar(&cfg.ConfigFile, "config", cfg.ConfigFile, "Optional YAML config file")
}

// Validate enforces the floors called out in spec §6.
func (c Config) Validate() error {
	if c.RAPLPeriod < 10*time.Millisecond {
		return fmt.Errorf("config: rapl_period must be >= 10ms, got %s", c.RAPLPeriod)
	}
	if c.Interval < 50*time.Millisecond {
		return fmt.Errorf("config: interval must be >= 50ms, got %s", c.Interval)
	}
	if c.LogLevel != "info" && c.LogLevel != "debug" {
		return fmt.Errorf("config: loglvl must be info or debug, got %q", c.LogLevel)
	}
	return nil
}

// SlogLevel maps LogLevel to its slog.Level.
func (c Config) SlogLevel() slog.Level {
	if c.LogLevel == "debug" {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}
