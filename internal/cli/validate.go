package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/likearthian/multistore"
)

func newValidateCmd() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		Long: `Validates the datasource configuration for syntax and semantic correctness:
drivers, urls, pool settings, initialization modes and the primary datasource.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runValidate(cmd, verbose)
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "show the configured datasources")

	return cmd
}

func runValidate(cmd *cobra.Command, verbose bool) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	cmd.Println("Configuration is valid")

	if verbose {
		printDataSources(cmd, cfg)
	}

	return nil
}

func printDataSources(cmd *cobra.Command, cfg *multistore.Config) {
	if len(cfg.DataSources) == 0 {
		cmd.Println("  No datasources configured")
		return
	}

	primary := cfg.PrimaryName()
	cmd.Printf("  Datasources: %d\n", len(cfg.DataSources))
	for _, ds := range cfg.DataSources {
		marker := ""
		if ds.Name == primary {
			marker = " (primary)"
		}

		cmd.Printf("    - %s: %s%s\n", ds.Name, ds.Driver, marker)
		if ds.Initialization != nil {
			mode := ds.Initialization.Mode
			if mode == "" {
				mode = multistore.InitModeEmbedded
			}
			cmd.Printf("      initialization: %s, %d schema and %d data scripts\n",
				mode, len(ds.Initialization.SchemaLocations), len(ds.Initialization.DataLocations))
		}
	}
}
