// Package config provides workload configuration management using Viper
// for flexible loading from YAML files, environment variables, and
// command-line flags.
//
// The configuration system supports environment variable overrides with a
// FILTERFORGE_ prefix, validation, and path safety checks. It manages the
// source list, chunked compilation options, output settings, and logging.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/filterforge/filterforge/internal/chunk"
	"github.com/filterforge/filterforge/internal/compiler"
	"github.com/filterforge/filterforge/internal/types"
)

type Config struct {
	Name            string         `mapstructure:"name"`
	Description     string         `mapstructure:"description"`
	Homepage        string         `mapstructure:"homepage"`
	License         string         `mapstructure:"license"`
	Version         string         `mapstructure:"version"`
	Sources         []types.Source `mapstructure:"sources"`
	Transformations []string       `mapstructure:"transformations"`
	Exclusions      []string       `mapstructure:"exclusions"`
	Inclusions      []string       `mapstructure:"inclusions"`
	Chunking        chunk.Options  `mapstructure:"chunking"`
	Output          OutputConfig   `mapstructure:"output"`
	Logging         LoggingConfig  `mapstructure:"logging"`
}

type OutputConfig struct {
	Path string `mapstructure:"path"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func Load() (*Config, error) {
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Handle transformations set via viper (workaround for viper slice handling)
	if viper.IsSet("transformations") && len(config.Transformations) == 0 {
		config.Transformations = viper.GetStringSlice("transformations")
	}

	// Handle chunking settings set via viper (workaround for viper bool handling)
	if viper.IsSet("chunking.enabled") {
		enabled := viper.GetBool("chunking.enabled")
		config.Chunking.Enabled = &enabled
	}
	if viper.IsSet("chunking.max_parallel") {
		config.Chunking.MaxParallel = viper.GetInt("chunking.max_parallel")
	}

	applyDefaults(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func applyDefaults(config *Config) {
	defaults := chunk.DefaultOptions()
	if config.Chunking.ChunkSize <= 0 {
		config.Chunking.ChunkSize = defaults.ChunkSize
	}
	if config.Chunking.MaxParallel <= 0 {
		config.Chunking.MaxParallel = defaults.MaxParallel
	}
	if config.Chunking.Strategy == "" {
		config.Chunking.Strategy = defaults.Strategy
	}

	if config.Output.Path == "" {
		config.Output.Path = "filter.txt"
	}
	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if config.Logging.Format == "" {
		config.Logging.Format = "text"
	}
}

// validateConfig validates configuration values for security and correctness
func validateConfig(config *Config) error {
	if err := validateSources(config.Sources); err != nil {
		return fmt.Errorf("sources: %w", err)
	}
	if err := validateChunking(&config.Chunking); err != nil {
		return fmt.Errorf("chunking: %w", err)
	}
	if err := validatePath(config.Output.Path); err != nil {
		return fmt.Errorf("output path: %w", err)
	}
	switch config.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging format %q is not supported", config.Logging.Format)
	}
	return nil
}

func validateSources(sources []types.Source) error {
	if len(sources) == 0 {
		return fmt.Errorf("at least one source is required")
	}
	for i, src := range sources {
		if strings.TrimSpace(src.Origin) == "" {
			return fmt.Errorf("source %d has an empty origin", i)
		}
		if src.IsLocal() {
			if err := validatePath(src.Origin); err != nil {
				return fmt.Errorf("source %d: %w", i, err)
			}
		}
	}
	return nil
}

func validateChunking(opts *chunk.Options) error {
	if opts.MaxParallel < 1 || opts.MaxParallel > 256 {
		return fmt.Errorf("max_parallel %d is not in valid range 1-256", opts.MaxParallel)
	}
	if opts.ChunkSize < 1 {
		return fmt.Errorf("chunk_size must be positive, got %d", opts.ChunkSize)
	}
	switch opts.Strategy {
	case chunk.StrategySource, chunk.StrategyLineCount:
	default:
		return fmt.Errorf("strategy %q is not supported", opts.Strategy)
	}
	return nil
}

// validatePath rejects paths with shell metacharacters or traversal
// segments.
func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("path is empty")
	}
	dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'"}
	for _, char := range dangerousChars {
		if strings.Contains(path, char) {
			return fmt.Errorf("path contains dangerous character: %s", char)
		}
	}
	for _, segment := range strings.Split(filepath.ToSlash(path), "/") {
		if segment == ".." {
			return fmt.Errorf("path contains a traversal segment: %s", path)
		}
	}
	return nil
}

// CompilerConfig converts the workload into the external compiler's
// configuration shape. The source assignment is left empty; the executor
// fills it per chunk.
func (c *Config) CompilerConfig() compiler.Config {
	return compiler.Config{
		Name:            c.Name,
		Description:     c.Description,
		Homepage:        c.Homepage,
		License:         c.License,
		Version:         c.Version,
		Transformations: c.Transformations,
		Exclusions:      c.Exclusions,
		Inclusions:      c.Inclusions,
	}
}
