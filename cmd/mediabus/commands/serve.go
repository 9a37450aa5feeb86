package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/marmos91/mediabus/internal/logger"
	"github.com/marmos91/mediabus/pkg/bus"
	"github.com/marmos91/mediabus/pkg/config"
	"github.com/marmos91/mediabus/pkg/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bus daemon and publish the configured providers",
	Long: `Start the websocket bus, build every configured source and publish the
providers on the protocol generations they are configured for.

Examples:
  # Serve with the default config location
  mediabus serve

  # Serve with a custom config file
  mediabus serve --config /etc/mediabus/config.yaml

  # Override settings through the environment
  MEDIABUS_LOGGING_LEVEL=DEBUG mediabus serve`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("mediabus starting", "version", Version, "commit", Commit)
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))
	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsResult := config.InitializeMetrics(cfg)

	reg, err := config.InitializeRegistry(ctx, cfg, metricsResult.Source)
	if err != nil {
		return fmt.Errorf("failed to initialize registry: %w", err)
	}
	defer func() {
		if err := reg.Close(); err != nil {
			logger.Warn("Source shutdown failed", logger.KeyError, err)
		}
	}()
	logger.Info("Registry initialized",
		"sources", reg.CountSources(), "providers", reg.CountProviders())

	hub := bus.NewHub()
	busServer := config.CreateBusServer(hub, &cfg.Bus, metricsResult.Bus)

	conn, err := hub.Connect()
	if err != nil {
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	defer func() { _ = conn.Close() }()

	srv, err := server.New(conn, cfg.ProviderServerConfig(metricsResult.Provider))
	if err != nil {
		return fmt.Errorf("failed to create provider server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return busServer.Serve(gctx, cfg.Bus.Listen)
	})
	if metricsResult.Server != nil {
		g.Go(func() error {
			return metricsResult.Server.Start(gctx)
		})
	}
	g.Go(func() error {
		return srv.Serve(gctx, reg)
	})

	logger.Info("mediabus is running", logger.KeyAddress, cfg.Bus.Listen, "bus_url", cfg.Bus.BusURL())

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	var serveErr error
	select {
	case serveErr = <-done:
	case <-ctx.Done():
		logger.Info("Shutting down", "timeout", cfg.Server.ShutdownTimeout)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		select {
		case serveErr = <-done:
		case <-shutdownCtx.Done():
			return fmt.Errorf("shutdown timed out after %s", cfg.Server.ShutdownTimeout)
		}
	}

	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		return serveErr
	}
	logger.Info("mediabus stopped")
	return nil
}
