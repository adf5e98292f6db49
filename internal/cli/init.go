package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/likearthian/multistore"
)

func newInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init [datasource...]",
		Short: "Run the initialization scripts of the datasources",
		Long: `Opens the named datasources, or all of them, and runs their schema and data scripts
according to the initialization mode. --force runs them whatever the mode is.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, args, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "run the scripts even when the mode would skip them")

	return cmd
}

func runInit(cmd *cobra.Command, names []string, force bool) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if len(names) > 0 {
		selected := make(map[string]bool, len(names))
		for _, name := range names {
			selected[name] = true
		}

		kept := cfg.DataSources[:0]
		for _, ds := range cfg.DataSources {
			if selected[ds.Name] {
				kept = append(kept, ds)
				delete(selected, ds.Name)
			}
		}

		for _, name := range names {
			if selected[name] {
				return fmt.Errorf("%w: %s", multistore.ErrDataSourceNotFound, name)
			}
		}

		cfg.DataSources = kept
		if cfg.Primary != "" && !containsDataSource(kept, cfg.Primary) {
			cfg.Primary = ""
		}
	}

	if force {
		for i := range cfg.DataSources {
			if cfg.DataSources[i].Initialization != nil {
				cfg.DataSources[i].Initialization.Mode = multistore.InitModeAlways
			}
		}
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	reg, err := multistore.Open(ctx, cfg, multistore.WithRegistryLogger(newLogger(cmd, cfg)))
	if err != nil {
		return err
	}
	defer reg.Close(ctx)

	for _, name := range reg.Names() {
		cmd.Printf("  %s: initialized\n", name)
	}

	return nil
}

func containsDataSource(list []multistore.DataSourceConfig, name string) bool {
	for _, ds := range list {
		if ds.Name == name {
			return true
		}
	}

	return false
}
