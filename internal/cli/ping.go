package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/likearthian/multistore"
)

func newPingCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "ping [datasource...]",
		Short: "Check that the datasources answer",
		Long:  "Opens the configured datasources and pings each named one, or all of them.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPing(cmd, args, timeout)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "timeout of each ping")

	return cmd
}

func runPing(cmd *cobra.Command, names []string, timeout time.Duration) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// scripts are run by init only
	for i := range cfg.DataSources {
		cfg.DataSources[i].Initialization = nil
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

	if len(names) == 0 {
		names = reg.Names()
	}

	failed := 0
	for _, name := range names {
		ds, err := reg.Get(name)
		if err == nil {
			pctx, cancel := context.WithTimeout(ctx, timeout)
			err = ds.Ping(pctx)
			cancel()
		}

		if err != nil {
			failed++
			cmd.PrintErrf("  %s: %v\n", name, err)
			continue
		}

		cmd.Printf("  %s: ok\n", name)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d datasources failed", failed, len(names))
	}

	return nil
}
