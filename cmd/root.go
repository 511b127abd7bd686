// Package cmd provides the command-line interface for filterforge with
// configuration management supporting multiple configuration sources.
//
// Configuration System:
//
//	The CLI supports flexible configuration through multiple sources with clear precedence:
//	1. Command-line flags (--config, --output, etc.) - highest priority
//	2. FILTERFORGE_CONFIG_FILE environment variable - custom config file path
//	3. Individual environment variables (FILTERFORGE_CHUNKING_MAX_PARALLEL, etc.)
//	4. Configuration files (.filterforge.yml) - lowest priority
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "filterforge",
	Short: "Compile filter-list sources into one deduplicated artifact",
	Long: `Filterforge compiles many textual filter-list sources (local files and
remote URLs) into a single deduplicated artifact. Large workloads are split
into chunks compiled in parallel, and a zero-trust validation pipeline wraps
every stage with abortable checkpoints, including lock-based tamper
detection on local source files.

Quick Start:
  filterforge init                Initialize a starter configuration
  filterforge validate            Validate the workload configuration
  filterforge compile             Compile the configured sources
  filterforge version             Show version information`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Accept snake_case spellings of kebab-case flags.
	rootCmd.PersistentFlags().SetNormalizeFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .filterforge.yml, can also use FILTERFORGE_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig initializes the configuration system.
//
// Configuration Loading Priority (highest to lowest):
//  1. --config flag: Explicitly specified config file path
//  2. FILTERFORGE_CONFIG_FILE environment variable: Custom config file path
//  3. Default: .filterforge.yml in current directory
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("FILTERFORGE_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".filterforge")
	}

	// Enable automatic environment variable binding with the FILTERFORGE_
	// prefix, e.g. FILTERFORGE_CHUNKING_MAX_PARALLEL=8.
	viper.SetEnvPrefix("FILTERFORGE")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
