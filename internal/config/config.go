// Copyright 2024 Ingest Harness Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

var (
	// ErrMissingRequiredField is returned when a required configuration field is missing
	ErrMissingRequiredField = errors.New("missing required configuration field")
	// ErrInvalidConfigValue is returned when a configuration value is invalid
	ErrInvalidConfigValue = errors.New("invalid configuration value")
)

// Config represents the complete harness configuration
type Config struct {
	Project ProjectConfig `mapstructure:"project"`
	Ingest  IngestConfig  `mapstructure:"ingest"`
	Output  OutputConfig  `mapstructure:"output"`
	History HistoryConfig `mapstructure:"history"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ProjectConfig controls project-root discovery
type ProjectConfig struct {
	// Root pins the project root explicitly. Empty means auto-discover
	// by walking up from the working directory looking for Marker.
	Root   string `mapstructure:"root"`
	Marker string `mapstructure:"marker"`
}

// IngestConfig describes how to invoke the external ingestion CLI
type IngestConfig struct {
	Command        string `mapstructure:"command"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	Verbose        bool   `mapstructure:"verbose"`
}

// OutputConfig names the actual and golden output trees, relative to the project root
type OutputConfig struct {
	Dir         string `mapstructure:"dir"`
	ExpectedDir string `mapstructure:"expected_dir"`
}

// HistoryConfig contains run-history store configuration
type HistoryConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed for field '%s': %s", e.Field, e.Message)
}

// LoadOptions contains options for configuration loading
type LoadOptions struct {
	ConfigPath       string
	ValidateRequired bool
}

// Load loads configuration from file and environment variables.
// Environment variables take precedence over config file values.
func Load(configPath string) (*Config, error) {
	return LoadWithOptions(LoadOptions{
		ConfigPath:       configPath,
		ValidateRequired: true,
	})
}

// LoadWithOptions loads configuration with additional options
func LoadWithOptions(opts LoadOptions) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if err := setConfigFile(v, opts.ConfigPath); err != nil {
		return nil, fmt.Errorf("failed to set config file: %w", err)
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("HARNESS")

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not an error; defaults and env vars apply
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	setEnvironmentMappings(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if opts.ValidateRequired {
		if err := validateConfig(&config); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Project defaults
	v.SetDefault("project.root", "")
	v.SetDefault("project.marker", "example-docs")

	// Ingestion CLI defaults
	v.SetDefault("ingest.command", "unstructured-ingest")
	v.SetDefault("ingest.timeout_seconds", 0)
	v.SetDefault("ingest.verbose", true)

	// Output tree defaults
	v.SetDefault("output.dir", "structured-output")
	v.SetDefault("output.expected_dir", "expected-output")

	// Run-history defaults
	v.SetDefault("history.db_path", "./harness-runs.db")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}

// setConfigFile sets the configuration file path with fallback logic
func setConfigFile(v *viper.Viper, configPath string) error {
	// Check for CONFIG_PATH environment variable
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		if _, err := os.Stat(envPath); err != nil {
			return fmt.Errorf("config file specified by CONFIG_PATH does not exist: %s", envPath)
		}
		v.SetConfigFile(envPath)
		return nil
	}

	// Use the provided config path when it exists. A missing explicit path
	// is not fatal because the harness is fully usable on defaults alone.
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			return nil
		}
	}

	// Default fallback locations
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	return nil
}

// setEnvironmentMappings sets explicit environment variable mappings
func setEnvironmentMappings(v *viper.Viper) {
	envMappings := map[string]string{
		"PROJECT_ROOT":    "project.root",
		"INGEST_COMMAND":  "ingest.command",
		"HISTORY_DB_PATH": "history.db_path",
		"LOG_LEVEL":       "logging.level",
		"LOG_FORMAT":      "logging.format",
		"LOG_OUTPUT":      "logging.output",
	}

	for envVar, configKey := range envMappings {
		if value := os.Getenv(envVar); value != "" {
			v.Set(configKey, value)
		}
	}
}

// validateConfig validates the configuration for required fields and valid values
func validateConfig(config *Config) error {
	var errs []ValidationError

	if config.Ingest.Command == "" {
		errs = append(errs, ValidationError{
			Field:   "ingest.command",
			Message: "ingestion command is required. Set via config file or INGEST_COMMAND environment variable",
		})
	}

	if config.Ingest.TimeoutSeconds < 0 {
		errs = append(errs, ValidationError{
			Field:   "ingest.timeout_seconds",
			Message: "timeout_seconds must be greater than or equal to 0",
		})
	}

	if config.Output.Dir == "" {
		errs = append(errs, ValidationError{
			Field:   "output.dir",
			Message: "structured output directory is required",
		})
	} else if filepath.IsAbs(config.Output.Dir) {
		errs = append(errs, ValidationError{
			Field:   "output.dir",
			Message: "must be relative to the project root",
		})
	}

	if config.Output.ExpectedDir == "" {
		errs = append(errs, ValidationError{
			Field:   "output.expected_dir",
			Message: "expected output directory is required",
		})
	} else if filepath.IsAbs(config.Output.ExpectedDir) {
		errs = append(errs, ValidationError{
			Field:   "output.expected_dir",
			Message: "must be relative to the project root",
		})
	}

	if config.Project.Root != "" {
		if err := validateDirectoryExists(config.Project.Root); err != nil {
			errs = append(errs, ValidationError{
				Field:   "project.root",
				Message: fmt.Sprintf("project root does not exist: %s", config.Project.Root),
			})
		}
	}

	if config.Project.Root == "" && config.Project.Marker == "" {
		errs = append(errs, ValidationError{
			Field:   "project.marker",
			Message: "project marker is required when project.root is not pinned",
		})
	}

	if config.History.DBPath == "" {
		errs = append(errs, ValidationError{
			Field:   "history.db_path",
			Message: "run-history database path is required",
		})
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, config.Logging.Level) {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("log level must be one of: %s", strings.Join(validLogLevels, ", ")),
		})
	}

	validLogFormats := []string{"json", "text"}
	if !contains(validLogFormats, config.Logging.Format) {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("log format must be one of: %s", strings.Join(validLogFormats, ", ")),
		})
	}

	if len(errs) > 0 {
		var errorMessages []string
		for _, err := range errs {
			errorMessages = append(errorMessages, err.Error())
		}
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errorMessages, "\n"))
	}

	return nil
}

// contains checks if a slice contains a specific string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// validateDirectoryExists checks if a directory exists
func validateDirectoryExists(path string) error {
	if path == "" || path == "." {
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	return nil
}

// WatchConfig enables configuration hot-reloading for development
func WatchConfig(configPath string, callback func(*Config)) error {
	v := viper.New()

	if err := setConfigFile(v, configPath); err != nil {
		return err
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		fmt.Printf("Config file changed: %s\n", e.Name)

		config, err := LoadWithOptions(LoadOptions{
			ConfigPath:       configPath,
			ValidateRequired: true,
		})
		if err != nil {
			fmt.Printf("Failed to reload config: %v\n", err)
			return
		}

		callback(config)
	})

	return nil
}
