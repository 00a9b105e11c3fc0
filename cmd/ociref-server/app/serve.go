package app

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	refapp "github.com/stacklok/ociref-server/internal/app"
	"github.com/stacklok/ociref-server/internal/config"
	"github.com/stacklok/ociref-server/internal/telemetry"
	"github.com/stacklok/ociref-server/internal/versions"
)

const (
	defaultGracefulTimeout = 30 * time.Second // Kubernetes-friendly shutdown time
	telemetryFlushTimeout  = 5 * time.Second
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the reference server",
		Long: `Start the HTTP server that stores provider references, maintains official
categories and renders badges.

Without --config the server keeps everything in memory and listens on :8080.
The configuration file selects a persistent backend (redis, postgres or bolt)
and telemetry settings.`,
		RunE: runServe,
	}

	cmd.Flags().String("address", "", "Address to listen on (overrides the configuration, default :8080)")
	cmd.Flags().String("config", "", "Path to configuration file (YAML format)")

	if err := viper.BindPFlag("address", cmd.Flags().Lookup("address")); err != nil {
		panic(err)
	}
	if err := viper.BindPFlag("config", cmd.Flags().Lookup("config")); err != nil {
		panic(err)
	}

	return cmd
}

// loadConfig returns the defaults when path is empty.
func loadConfig(path string) (*config.Config, error) {
	var opts []config.Option
	if path != "" {
		opts = append(opts, config.WithConfigPath(path))
	}

	cfg, err := config.LoadConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	configPath := viper.GetString("config")
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	slog.Info("Loaded configuration",
		"path", configPath,
		"storage", cfg.Storage.GetType(),
		"set_prefix", cfg.Storage.GetSetPrefix())

	tel, err := telemetry.New(ctx,
		telemetry.WithTelemetryConfig(cfg.Telemetry),
		telemetry.WithServiceVersion(versions.GetVersionInfo().Version),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), telemetryFlushTimeout)
		defer cancel()
		if err := tel.Shutdown(flushCtx); err != nil {
			slog.Error("Failed to shutdown telemetry", "error", err)
		}
	}()

	opts := []refapp.ReferenceAppOptions{
		refapp.WithConfig(cfg),
		refapp.WithMeterProvider(tel.MeterProvider()),
		refapp.WithTracerProvider(tel.TracerProvider()),
		refapp.WithMetricsServer(tel.PrometheusAddress(), tel.MetricsHandler()),
	}
	if address := viper.GetString("address"); address != "" {
		opts = append(opts, refapp.WithAddress(address))
	}

	app, err := refapp.NewReferenceApp(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- app.Start()
	}()

	select {
	case err := <-errChan:
		_ = app.Stop(defaultGracefulTimeout)
		return err
	case <-ctx.Done():
	}

	if err := app.Stop(defaultGracefulTimeout); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		return err
	}
	return <-errChan
}
