package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// fileConfig mirrors Config's fields as optional (pointer) values, so a key
// absent from the YAML file never overwrites a flag-set or default value.
// Durations are expressed in seconds, matching configs/default.py's
// *_SEC naming.
type fileConfig struct {
	Output      *string  `yaml:"output"`
	BaseFile    *string  `yaml:"basefile"`
	BasePeriod  *float64 `yaml:"base_period"`
	RAPLPeriod  *float64 `yaml:"rapl_period"`
	Interval    *float64 `yaml:"interval"`
	Gamma       *float64 `yaml:"gamma"`
	Delta       *float64 `yaml:"delta"`
	LogInterval *float64 `yaml:"logging"`
	LogLevel    *string  `yaml:"loglvl"`
}

// MergeYAML loads cfg.ConfigFile (a no-op if unset) and applies each key it
// sets to cfg, UNLESS the equivalent flag was explicitly passed on the
// command line - flags always win over the file, the file always wins
// over Defaults().
func MergeYAML(cfg *Config, flags *pflag.FlagSet) error {
	if cfg.ConfigFile == "" {
		return nil
	}

	data, err := os.ReadFile(cfg.ConfigFile)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", cfg.ConfigFile, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("config: parse %s: %w", cfg.ConfigFile, err)
	}

	set := func(name string, apply func()) {
		if flags.Changed(name) {
			return
		}
		apply()
	}

	if fc.Output != nil {
		set("output", func() { cfg.Output = *fc.Output })
	}
	if fc.BaseFile != nil {
		set("basefile", func() { cfg.BaseFile = *fc.BaseFile })
	}
	if fc.BasePeriod != nil {
		set("base_period", func() { cfg.BasePeriod = secondsToDuration(*fc.BasePeriod) })
	}
	if fc.RAPLPeriod != nil {
		set("rapl_period", func() { cfg.RAPLPeriod = secondsToDuration(*fc.RAPLPeriod) })
	}
	if fc.Interval != nil {
		set("interval", func() { cfg.Interval = secondsToDuration(*fc.Interval) })
	}
	if fc.Gamma != nil {
		set("gamma", func() { cfg.Gamma = *fc.Gamma })
	}
	if fc.Delta != nil {
		set("delta", func() { cfg.Delta = *fc.Delta })
	}
	if fc.LogInterval != nil {
		set("logging", func() { cfg.LogInterval = secondsToDuration(*fc.LogInterval) })
	}
	if fc.LogLevel != nil {
		set("loglvl", func() { cfg.LogLevel = *fc.LogLevel })
	}
	return nil
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
