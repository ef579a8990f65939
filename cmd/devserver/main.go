// Package main provides a development server for the agent event stream. It
// speaks the same protocol as production: rooms, typing relay and periodic
// metrics, behind a sub-protocol token check.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HMasataka/agentws/internal/config"
	"github.com/HMasataka/agentws/internal/eventbus"
	"github.com/HMasataka/agentws/internal/hub"
	"github.com/HMasataka/agentws/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		addr       string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:          "devserver",
		Short:        "Development server for the agent event stream",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.LoadOptions{Path: configPath})
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if logLevel != "" {
				cfg.Logging.Level = logLevel
			}
			return run(cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file path (JSON or YAML)")
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	return cmd
}

func run(cfg *config.Config) error {
	logger := logging.New(cfg.Logging)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	h := hub.New(logger)
	if err := h.Start(ctx); err != nil {
		return err
	}
	defer h.Stop()

	bus := eventbus.NewInMemoryBus()
	bus.SubscribeAll(func(e *eventbus.Event) {
		logger.Debug("server event", "type", e.Type, "data", e.Data)
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(newHubCollector(h))

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           newRouter(cfg, h, bus, registry, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go pushMetrics(ctx, h, cfg.Server.MetricsInterval.Std(), logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("devserver listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

// pushMetrics broadcasts hub statistics as metrics_update frames
func pushMetrics(ctx context.Context, h *hub.Hub, interval time.Duration, logger *logging.Logger) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.Broadcast(metricsUpdate(h.Stats())); err != nil {
				logger.Warn("failed to push metrics", "error", err)
			}
		}
	}
}
