package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/encodefleet/encodefleet/internal/dispatch"
	internalhttp "github.com/encodefleet/encodefleet/internal/http"
	"github.com/encodefleet/encodefleet/internal/http/handlers"
	"github.com/encodefleet/encodefleet/internal/metrics"
	"github.com/encodefleet/encodefleet/internal/observability"
	"github.com/encodefleet/encodefleet/internal/registry"
	"github.com/encodefleet/encodefleet/internal/session"
	"github.com/encodefleet/encodefleet/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the encodefleet controller",
	Long: `Start the controller HTTP server.

The server provides:
- REST API for jobs, nodes, settings and pairing
- Websocket control channel for worker agents at /agent
- Data plane for job inputs and outputs under /stream
- Prometheus metrics at /metrics`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "host to bind to")
	serveCmd.Flags().Int("port", 0, "port to listen on")
	serveCmd.Flags().String("public-base-url", "", "base URL agents use to reach the data plane")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	stringOverride(cmd.Flags(), "host", &cfg.Server.Host)
	intOverride(cmd.Flags(), "port", &cfg.Server.Port)
	stringOverride(cmd.Flags(), "public-base-url", &cfg.Server.PublicBaseURL)

	logger := newLogger(cfg, "encodefleet")
	logger.Info("starting controller", "version", version.Short())

	jobs := registry.NewJobRegistry()
	agents := registry.NewAgentRegistry()
	settings := registry.NewSettings(cfg.Server.PairingTokens, cfg.Server.PublicBaseURL)

	m := metrics.New(
		func() float64 { return float64(agents.ConnectedCount()) },
		func() float64 { return float64(jobs.PendingLen()) },
	)

	dispatcher := dispatch.New(jobs, agents, settings, m,
		observability.WithComponent(logger, "dispatch"))
	hub := session.NewHub(jobs, agents, settings, dispatcher, m,
		observability.WithComponent(logger, "session"))

	server := internalhttp.NewServer(cfg.Server,
		observability.WithComponent(logger, "http"), version.Version)
	handlers.NewNodesHandler(agents).Register(server.API())
	handlers.NewSettingsHandler(settings).Register(server.API())
	handlers.NewPairHandler(settings).Register(server.API())
	handlers.NewScanHandler().Register(server.API())
	handlers.NewJobsHandler(jobs, dispatcher).Register(server.API())
	server.Mount(hub, internalhttp.NewStreamHandler(jobs,
		observability.WithComponent(logger, "stream")), m)

	// Disconnected agents are retired once their heartbeats go stale.
	cutoff := cfg.Dispatch.StaleCutoff()
	sweepLogger := observability.WithComponent(logger, "stale-sweep")
	scheduler := cron.New(cron.WithSeconds())
	_, err = scheduler.AddFunc(cfg.Dispatch.StaleSweepCron, func() {
		for _, id := range agents.Stale(cutoff.Milliseconds()) {
			agents.Remove(id)
			sweepLogger.Info("retired stale agent", "agent_id", id)
		}
	})
	if err != nil {
		return fmt.Errorf("scheduling stale-agent sweep: %w", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig.String())
	}

	if err := server.Shutdown(context.Background()); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}
