// Package config provides ralph's process-wide configuration: a JSON-backed
// struct loaded once, guarded by a mutex, exposed only by value so callers
// can never mutate shared state through a returned pointer. Grounded on
// the shape of the teacher's pkg/config global-singleton, value-based
// access, atomic-update design (struct reworked for ralph's own domain:
// timeouts, retry, futility, and parallel defaults rather than agent/model
// settings).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"ralph/internal/futility"
	"ralph/internal/model"
)

// Config is ralph's run configuration.
type Config struct {
	DefaultPRDPath string               `json:"defaultPrdPath" yaml:"defaultPrdPath"`
	WorkingDir     string               `json:"workingDir" yaml:"workingDir"`
	Timeouts       model.TimeoutConfig  `json:"timeouts" yaml:"timeouts"`
	Retry          model.RetryStrategy  `json:"retry" yaml:"retry"`
	Futility       futility.Config      `json:"futility" yaml:"futility"`
	Parallel       model.ParallelConfig `json:"parallel" yaml:"parallel"`
}

// Default returns ralph's built-in defaults.
func Default() Config {
	return Config{
		DefaultPRDPath: "./prd.json",
		WorkingDir:     ".",
		Timeouts:       model.DefaultTimeoutConfig(),
		Retry:          model.DefaultRetryStrategy(),
		Futility:       futility.DefaultConfig(),
		Parallel:       model.DefaultParallelConfig(),
	}
}

var (
	mu      sync.RWMutex
	current = Default()
)

// Get returns a copy of the current configuration; mutating the result
// has no effect on package state.
func Get() Config {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// Update atomically replaces the configuration via fn, which mutates a
// copy the caller may freely modify before it's committed.
func Update(fn func(*Config)) {
	mu.Lock()
	defer mu.Unlock()
	cp := current
	fn(&cp)
	current = cp
}

// LoadFile reads a config file and replaces the current config with its
// contents, defaults filling anything the file omits. Extension
// .yaml/.yml selects the YAML decoder (Ralph's `.ralph/config.yaml`
// override), everything else is parsed as JSON.
func LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("parse config yaml: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("parse config json: %w", err)
		}
	}

	mu.Lock()
	current = cfg
	mu.Unlock()
	return nil
}
