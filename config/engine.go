package config

import (
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"
)

// EngineConfig is the process-level configuration for one running
// instance: where it stores data and how it bounds its own resource use.
// It loads from a YAML file via gopkg.in/yaml.v3, or from CLI flags when
// no file is given.
type EngineConfig struct {
	DataDir string `yaml:"dataDir"`

	// MaxTasks bounds how many task records the queue keeps before the
	// oldest finished ones are eligible for automatic pruning.
	MaxTasks int `yaml:"maxTasks"`

	// DeleteBatchSize bounds how many tasks a single TaskDelete sweep
	// removes per invocation.
	DeleteBatchSize int `yaml:"deleteBatchSize"`

	// MinimumDeleteToProceed is the fewest eligible finished tasks the
	// automatic cleanup sweep needs before it registers a TaskDelete; below
	// it, the sweep registers nothing. A TaskDelete registered by a caller
	// is not bound by it.
	MinimumDeleteToProceed int `yaml:"minimumDeleteToProceed"`

	// IndexingWorkerCount sizes internal/indexer's extraction fan-out.
	IndexingWorkerCount int `yaml:"indexingWorkerCount"`
}

// DefaultEngineConfig matches runtime.NumCPU()-sized indexing fan-out and
// conservative queue-maintenance defaults.
func DefaultEngineConfig(dataDir string) EngineConfig {
	return EngineConfig{
		DataDir:                dataDir,
		MaxTasks:               1_000_000,
		DeleteBatchSize:        100_000,
		MinimumDeleteToProceed: 2,
		IndexingWorkerCount:    runtime.NumCPU(),
	}
}

// LoadEngineConfig reads a YAML engine configuration file, filling any
// field left at its zero value with DefaultEngineConfig's corresponding
// default.
func LoadEngineConfig(path string) (EngineConfig, error) {
	cfg := DefaultEngineConfig("")

	data, err := os.ReadFile(path) // #nosec G304 -- path is operator-supplied, not untrusted input
	if err != nil {
		return EngineConfig{}, fmt.Errorf("config: read engine config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return EngineConfig{}, fmt.Errorf("config: parse engine config %q: %w", path, err)
	}

	defaults := DefaultEngineConfig(cfg.DataDir)
	if cfg.MaxTasks == 0 {
		cfg.MaxTasks = defaults.MaxTasks
	}
	if cfg.DeleteBatchSize == 0 {
		cfg.DeleteBatchSize = defaults.DeleteBatchSize
	}
	if cfg.MinimumDeleteToProceed == 0 {
		cfg.MinimumDeleteToProceed = defaults.MinimumDeleteToProceed
	}
	if cfg.IndexingWorkerCount == 0 {
		cfg.IndexingWorkerCount = defaults.IndexingWorkerCount
	}
	return cfg, nil
}
