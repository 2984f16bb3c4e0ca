// Package cmd implements the CLI commands for the encodefleet worker agent.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/encodefleet/encodefleet/internal/config"
	"github.com/encodefleet/encodefleet/internal/observability"
	"github.com/encodefleet/encodefleet/internal/version"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:     "encodefleet-agent",
	Short:   "Worker agent for the encodefleet transcoding fleet",
	Version: version.Short(),
	Long: `encodefleet-agent connects to an encodefleet controller, advertises
the encoders its local ffmpeg supports, and runs leased transcode jobs:
pull the source over HTTP, transcode, push the output back.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ., ./configs, /etc/encodefleet)")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format override (text, json)")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if rootCmd.PersistentFlags().Changed("log-level") {
		cfg.Logging.Level, _ = rootCmd.PersistentFlags().GetString("log-level")
	}
	if rootCmd.PersistentFlags().Changed("log-format") {
		cfg.Logging.Format, _ = rootCmd.PersistentFlags().GetString("log-format")
	}
	return cfg, nil
}

// stringOverride applies a string flag only when the user set it
// explicitly, preserving env and config file values otherwise.
func stringOverride(flags *pflag.FlagSet, name string, dst *string) {
	if flags.Changed(name) {
		*dst, _ = flags.GetString(name)
	}
}

// intOverride is stringOverride for int flags.
func intOverride(flags *pflag.FlagSet, name string, dst *int) {
	if flags.Changed(name) {
		*dst, _ = flags.GetInt(name)
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	logger := observability.NewLoggerWithWriter(cfg.Logging, os.Stderr)
	logger = observability.WithApp(logger, "encodefleet-agent")
	observability.SetDefault(logger)
	return logger
}
