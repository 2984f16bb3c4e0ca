package cmd

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/encodefleet/encodefleet/internal/agent"
	"github.com/encodefleet/encodefleet/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the worker agent",
	Long: `Connect to the controller and serve transcode leases until
interrupted. The agent reconnects automatically with backoff if the
connection drops.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("controller-url", "", "controller base URL (http or https)")
	serveCmd.Flags().String("token", "", "pairing token")
	serveCmd.Flags().String("name", "", "agent name reported to the controller")
	serveCmd.Flags().Int("concurrency", 0, "maximum simultaneous leases (0 = CPU count)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	stringOverride(cmd.Flags(), "controller-url", &cfg.Agent.ControllerURL)
	stringOverride(cmd.Flags(), "token", &cfg.Agent.Token)
	stringOverride(cmd.Flags(), "name", &cfg.Agent.Name)
	intOverride(cmd.Flags(), "concurrency", &cfg.Agent.Concurrency)

	logger := newLogger(cfg)
	logger.Info("starting agent", "version", version.Short(), "controller", cfg.Agent.ControllerURL)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := agent.New(cfg.Agent, logger)
	if err := client.Run(ctx, cfg.FFmpeg.BinaryPath); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("agent stopped")
	return nil
}
