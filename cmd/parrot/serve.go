package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/parrot/internal/app"
	"github.com/MrWong99/parrot/internal/config"
	"github.com/MrWong99/parrot/internal/observe"
)

func newServeCmd(c *cli) *cobra.Command {
	var reloadInterval time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Long: `Run the chat HTTP server.

The config file is polled for changes; character personas and the log level
are applied without a restart. Send SIGHUP to reload immediately.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.serve(cmd, reloadInterval)
		},
	}
	cmd.Flags().DurationVar(&reloadInterval, "reload-interval", 5*time.Second, "config file polling interval, 0 disables hot reload")
	return cmd
}

func (c *cli) serve(cmd *cobra.Command, reloadInterval time.Duration) error {
	cfg := c.cfg

	slog.Info("parrot starting",
		"version", version,
		"config", c.configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "parrot",
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	providers, err := buildProviders(cfg, reg, metrics)
	if err != nil {
		return err
	}

	printStartupSummary(cmd.OutOrStdout(), cfg)

	application, err := app.New(ctx, cfg, providers,
		app.WithMetrics(metrics),
		app.WithLogLevel(c.logLevel),
	)
	if err != nil {
		return err
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	if reloadInterval > 0 {
		w, err := config.NewWatcher(c.configPath, application.ApplyConfig, config.WithInterval(reloadInterval))
		if err != nil {
			slog.Warn("config hot reload disabled", "err", err)
		} else {
			defer w.Stop()
			go reloadOnHangup(ctx, w)
		}
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	} else {
		runErr = nil
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		return errors.Join(runErr, fmt.Errorf("shutdown: %w", err))
	}
	slog.Info("goodbye")
	return runErr
}

func reloadOnHangup(ctx context.Context, w *config.Watcher) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := w.Reload(); err != nil {
				slog.Warn("manual config reload failed", "err", err)
			}
		}
	}
}
