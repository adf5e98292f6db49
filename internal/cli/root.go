// Package cli implements the multistore admin commands.
package cli

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/likearthian/multistore"
)

const defaultConfigPath = "multistore.yaml"

// NewRootCmd creates the root command with the validate, ping and init
// subcommands.
func NewRootCmd(ver string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "multistore",
		Short:         "Inspect and initialize configured datasources",
		Version:       ver,
		SilenceUsage:  true,
		SilenceErrors: true,
		Example: `  # Check the configuration file
  multistore validate --config multistore.yaml

  # Check that every datasource answers
  multistore ping

  # Run the initialization scripts of one datasource regardless of mode
  multistore init main --force`,
	}

	cmd.PersistentFlags().StringP("config", "c", defaultConfigPath, "path of the datasource configuration file")
	cmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error); overrides the config file")

	cmd.AddCommand(newValidateCmd(), newPingCmd(), newInitCmd())

	return cmd
}

// loadConfig reads the file named by --config.
func loadConfig(cmd *cobra.Command) (*multistore.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return multistore.LoadConfig(path)
}

// newLogger builds the command logger from --log-level or the config level.
func newLogger(cmd *cobra.Command, cfg *multistore.Config) zerolog.Logger {
	level, _ := cmd.Flags().GetString("log-level")
	if level == "" && cfg != nil {
		level = cfg.Logging.Level
	}

	return multistore.NewLogger(cmd.ErrOrStderr(), level)
}
