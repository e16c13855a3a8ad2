// Package config loads the engine's five recognized options (spec.md §6):
// data_directory, log_level, max_objects, max_locators, and max_log_records.
// Precedence, lowest to highest: compiled-in defaults, an optional YAML
// file, environment variables, then CLI flags — each layer only overrides
// what it actually sets.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/corestore/pkg/engine"
)

// Options mirrors the five recognized configuration options.
type Options struct {
	DataDirectory string `yaml:"data_directory"`
	LogLevel      string `yaml:"log_level"`
	MaxObjects    uint64 `yaml:"max_objects"`
	MaxLocators   uint32 `yaml:"max_locators"`
	MaxLogRecords int    `yaml:"max_log_records"`
}

// Defaults returns the compiled-in baseline every other layer overrides.
func Defaults() Options {
	return Options{
		DataDirectory: "",
		LogLevel:      "info",
		MaxObjects:    1 << 24,
		MaxLocators:   1 << 20,
		MaxLogRecords: 10000,
	}
}

// LoadYAML reads path and overlays its fields onto o. A missing file is not
// an error: the YAML layer is optional, and Defaults already cover it.
func (o *Options) LoadYAML(path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, o); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

// env names, one per option, following the teacher's ALL_CAPS convention
// for process environment configuration.
const (
	envDataDirectory = "CORESTORE_DATA_DIRECTORY"
	envLogLevel      = "CORESTORE_LOG_LEVEL"
	envMaxObjects    = "CORESTORE_MAX_OBJECTS"
	envMaxLocators   = "CORESTORE_MAX_LOCATORS"
	envMaxLogRecords = "CORESTORE_MAX_LOG_RECORDS"
)

// LoadEnv overlays any of the five CORESTORE_* environment variables that
// are set, above the YAML layer and below flags.
func (o *Options) LoadEnv() error {
	if v, ok := os.LookupEnv(envDataDirectory); ok {
		o.DataDirectory = v
	}
	if v, ok := os.LookupEnv(envLogLevel); ok {
		o.LogLevel = v
	}
	if v, ok := os.LookupEnv(envMaxObjects); ok {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", envMaxObjects, err)
		}
		o.MaxObjects = n
	}
	if v, ok := os.LookupEnv(envMaxLocators); ok {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("%s: %w", envMaxLocators, err)
		}
		o.MaxLocators = uint32(n)
	}
	if v, ok := os.LookupEnv(envMaxLogRecords); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", envMaxLogRecords, err)
		}
		o.MaxLogRecords = n
	}
	return nil
}

// BindFlags registers the five options on flags with o's current values as
// defaults, so a caller applies YAML and env first, then binds flags, then
// parses argv — each layer's result becomes the next layer's default.
func (o *Options) BindFlags(flags *pflag.FlagSet) {
	flags.StringVar(&o.DataDirectory, "data-dir", o.DataDirectory, "filesystem path for optional persistence")
	flags.StringVar(&o.LogLevel, "log-level", o.LogLevel, "log verbosity (debug, info, warn, error)")
	flags.Uint64Var(&o.MaxObjects, "max-objects", o.MaxObjects, "capacity of the object arena, in bytes")
	flags.Uint32Var(&o.MaxLocators, "max-locators", o.MaxLocators, "capacity of the locator map")
	flags.IntVar(&o.MaxLogRecords, "max-log-records", o.MaxLogRecords, "per-transaction log capacity")
}

// Engine projects the subset of Options the storage engine itself enforces
// as hard caps; data_directory and log_level are consumed by the
// persistence sink and logging setup instead.
func (o Options) Engine() engine.Options {
	return engine.Options{
		MaxObjects:    o.MaxObjects,
		MaxLocators:   o.MaxLocators,
		MaxLogRecords: o.MaxLogRecords,
	}
}
