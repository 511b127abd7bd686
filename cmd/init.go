package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const defaultConfigName = ".filterforge.yml"

// starterConfig is the YAML shape written by `filterforge init`.
type starterConfig struct {
	Name            string          `yaml:"name"`
	Description     string          `yaml:"description"`
	Sources         []starterSource `yaml:"sources"`
	Transformations []string        `yaml:"transformations"`
	Chunking        starterChunking `yaml:"chunking"`
	Output          starterOutput   `yaml:"output"`
}

type starterSource struct {
	Name   string `yaml:"name,omitempty"`
	Source string `yaml:"source"`
	Type   string `yaml:"type,omitempty"`
}

type starterChunking struct {
	Enabled     bool   `yaml:"enabled"`
	MaxParallel int    `yaml:"max_parallel"`
	Strategy    string `yaml:"strategy"`
}

type starterOutput struct {
	Path string `yaml:"path"`
}

// initCmd represents the init command
var initCmd = &cobra.Command{
	Use:     "init",
	Aliases: []string{"i"},
	Short:   "Write a starter workload configuration",
	Long: `Init writes a commented starter configuration (` + defaultConfigName + `)
into the current directory. Edit the source list, then run
"filterforge compile".

Examples:
  filterforge init
  filterforge init --force    # Overwrite an existing configuration`,
	RunE: runInitCommand,
}

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().Bool("force", false, "overwrite an existing configuration file")
}

func runInitCommand(cmd *cobra.Command, args []string) error {
	force, _ := cmd.Flags().GetBool("force")

	if _, err := os.Stat(defaultConfigName); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", defaultConfigName)
	}

	starter := starterConfig{
		Name:        "My Filter List",
		Description: "Merged and deduplicated filter list",
		Sources: []starterSource{
			{Name: "local rules", Source: "rules/custom.txt", Type: "adblock"},
			{Name: "upstream list", Source: "https://example.org/filters.txt"},
		},
		Transformations: []string{"Deduplicate", "RemoveEmptyLines"},
		Chunking: starterChunking{
			Enabled:     true,
			MaxParallel: 4,
			Strategy:    "source",
		},
		Output: starterOutput{Path: "filter.txt"},
	}

	data, err := yaml.Marshal(&starter)
	if err != nil {
		return err
	}
	header := []byte("# filterforge workload configuration\n# See `filterforge validate` to check this file.\n")
	if err := os.WriteFile(defaultConfigName, append(header, data...), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", defaultConfigName, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", defaultConfigName)
	return nil
}
