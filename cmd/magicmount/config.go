package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"github.com/tailscale/hujson"
)

// defaultConfigBasePath is the on-device config location, checked with both
// .json and .jsonc extensions.
const defaultConfigBasePath = "/data/adb/magicmount/config"

// LoadConfigInput holds the inputs for LoadConfig.
type LoadConfigInput struct {
	ConfigPath string
	CLIFlags   *pflag.FlagSet
}

// Config holds the application configuration.
type Config struct {
	ModuleDir         string   `json:"module_dir,omitempty"`
	MountSource       string   `json:"mount_source,omitempty"`
	ExtraPartitions   []string `json:"extra_partitions,omitempty"`
	EnableUnmountable *bool    `json:"enable_unmountable,omitempty"`
}

// LoadConfig loads configuration with the following precedence (later
// overrides earlier):
//  1. Built-in defaults (zero Config; the library applies its own defaults)
//  2. Config file: the --config path, or /data/adb/magicmount/config.json or
//     config.jsonc when no path is given (missing files are skipped silently)
//  3. CLI flags
//
// Both .json and .jsonc files support comments via tailscale/hujson. If both
// extensions exist at the default location, it's an error. Extra partitions
// from flags are appended to those from the file.
func LoadConfig(input LoadConfigInput) (Config, error) {
	var cfg Config

	configPath := input.ConfigPath

	if configPath == "" {
		found, err := findConfigFile(defaultConfigBasePath)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, err
		}

		configPath = found
	}

	if configPath != "" {
		fileCfg, err := parseConfigFile(configPath)
		if err != nil {
			return Config{}, err
		}

		cfg = fileCfg
	}

	if input.CLIFlags != nil {
		applyCLIFlags(&cfg, input.CLIFlags)
	}

	return cfg, nil
}

// applyCLIFlags applies CLI flag overrides to the config.
// This is the final layer of config merging (highest precedence).
func applyCLIFlags(cfg *Config, flags *pflag.FlagSet) {
	if flags.Changed("module-dir") {
		val, _ := flags.GetString("module-dir")
		cfg.ModuleDir = val
	}

	if flags.Changed("mount-source") {
		val, _ := flags.GetString("mount-source")
		cfg.MountSource = val
	}

	if flags.Changed("extra-partition") {
		val, _ := flags.GetStringArray("extra-partition")
		cfg.ExtraPartitions = append(cfg.ExtraPartitions, val...)
	}

	if flags.Changed("enable-unmountable") {
		val, _ := flags.GetBool("enable-unmountable")
		cfg.EnableUnmountable = &val
	}
}

// findConfigFile finds a config file at the given base path. It checks for
// both .json and .jsonc extensions and returns an error if both exist.
func findConfigFile(basePath string) (string, error) {
	jsonPath := basePath + ".json"
	jsoncPath := basePath + ".jsonc"

	jsonExists, jsonErr := fileExists(jsonPath)
	jsoncExists, jsoncErr := fileExists(jsoncPath)

	if jsonErr != nil {
		return "", fmt.Errorf("checking %s: %w", jsonPath, jsonErr)
	}

	if jsoncErr != nil {
		return "", fmt.Errorf("checking %s: %w", jsoncPath, jsoncErr)
	}

	if jsonExists && jsoncExists {
		return "", fmt.Errorf("duplicate config files found: both %s and %s exist; remove one", jsonPath, jsoncPath)
	}

	if jsonExists {
		return jsonPath, nil
	}

	if jsoncExists {
		return jsoncPath, nil
	}

	return "", os.ErrNotExist
}

// fileExists checks if a file exists and is not a directory.
// Returns (true, nil) if file exists, (false, nil) if not found,
// or (false, error) for other errors (e.g., permission denied).
func fileExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}

		return false, fmt.Errorf("checking file %s: %w", path, err)
	}

	if info.IsDir() {
		return false, nil
	}

	return true, nil
}

// parseConfigFile loads and parses a JSON/JSONC config file.
// Both .json and .jsonc files support comments via hujson.
// Returns an error if the config contains unknown fields.
func parseConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}

	// Standardize JSONC to JSON (handles comments in both .json and .jsonc)
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}

	var cfg Config

	decoder := json.NewDecoder(bytes.NewReader(standardized))
	decoder.DisallowUnknownFields()

	err = decoder.Decode(&cfg)
	if err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}
