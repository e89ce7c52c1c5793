package cmd

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"ariaview/config"
	"ariaview/logging"
)

var (
	cfgFile  string
	logLevel string

	// cfg is loaded before any command runs
	cfg *config.Config

	rootCmd = &cobra.Command{
		Use:   "ariaview",
		Short: "Live view of an aria2 download queue",
		Long: `ariaview keeps a consistent snapshot of everything an aria2 daemon is
downloading and pushes it to browsers and terminals over WebSocket.
Viewers can also add and remove downloads.

Without a subcommand, ariaview runs the server.`,
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
		RunE:              serveMain,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file; the environment is used when unset")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level, overrides LOG_LEVEL")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(watchCmd)
}

// Execute runs the command line
func Execute() error {
	return rootCmd.Execute()
}

func loadConfig(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if logLevel != "" {
		loaded.LogLevel = logLevel
	}
	if err := logging.Setup(loaded.LogLevel); err != nil {
		return errors.Wrap(err, "failed to set up logging")
	}
	cfg = loaded
	return nil
}
