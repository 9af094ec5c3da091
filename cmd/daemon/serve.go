// Copyright (c) 2025 mase1981
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/mase1981/uc-intg-emby/internal/api"
	"github.com/mase1981/uc-intg-emby/internal/config"
	"github.com/mase1981/uc-intg-emby/internal/daemon"
	"github.com/mase1981/uc-intg-emby/internal/emby"
	"github.com/mase1981/uc-intg-emby/internal/health"
	"github.com/mase1981/uc-intg-emby/internal/integration"
	"github.com/mase1981/uc-intg-emby/internal/lifecycle"
	xglog "github.com/mase1981/uc-intg-emby/internal/log"
	"github.com/mase1981/uc-intg-emby/internal/mediaplayer"
	"github.com/mase1981/uc-intg-emby/internal/reconcile"
	"github.com/mase1981/uc-intg-emby/internal/telemetry"
	"github.com/mase1981/uc-intg-emby/internal/version"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the integration daemon (default)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

// embyOptions maps the daemon config to Emby client options.
func embyOptions(cfg config.AppConfig) emby.Options {
	return emby.Options{
		Timeout:        cfg.Emby.Timeout,
		MaxRetries:     cfg.Emby.MaxRetries,
		UserAgent:      version.Name + "/" + version.Version,
		RateLimit:      rate.Limit(cfg.Emby.RateLimit),
		RateLimitBurst: cfg.Emby.RateBurst,
		VerifyTLS:      cfg.Emby.VerifyTLS,
	}
}

func clientFactory(cfg config.AppConfig) lifecycle.ClientFactory {
	opts := embyOptions(cfg)
	return func(s config.Settings) lifecycle.Client {
		return emby.NewClientWithOptions(s.ServerURL, s.APIKey, s.UserID, opts)
	}
}

func reconcileOptions(cfg config.AppConfig) reconcile.Options {
	return reconcile.Options{
		Interval: cfg.Reconcile.Interval,
		Backoff:  cfg.Reconcile.Backoff,
		Entity: mediaplayer.Options{
			RefreshInterval: cfg.Entity.RefreshInterval,
			RefreshBackoff:  cfg.Entity.RefreshBackoff,
			CommandTimeout:  cfg.Entity.CommandTimeout,
			SettleDelay:     cfg.Entity.SettleDelay,
		},
	}
}

func runServe(parent context.Context, opts *rootOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	xglog.Configure(xglog.Config{Level: "info", Service: version.Name, Version: version.Version})

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	xglog.Configure(xglog.Config{Level: cfg.LogLevel, Service: version.Name, Version: version.Version})
	logger := xglog.WithComponent("daemon")
	logger.Info().
		Str("event", "config.loaded").
		Str("data_dir", cfg.DataDir).
		Str("listen", cfg.ListenAddr).
		Msg("configuration loaded")
	logger.Debug().Msgf("effective configuration:\n%s", cfg)

	if err := health.PerformStartupChecks(cfg); err != nil {
		return fmt.Errorf("startup checks: %w", err)
	}

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    version.Name,
		ServiceVersion: version.Version,
		ExporterType:   cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	store, err := config.OpenStore(cfg.DataDir)
	if store == nil {
		return fmt.Errorf("open settings: %w", err)
	}
	if err != nil {
		logger.Warn().Err(err).Str("event", "config.settings_unreadable").Msg("stored settings unreadable, starting unconfigured")
	}

	host := integration.NewServer(integration.Info{Name: version.Name, Version: version.Version})
	ctrl := lifecycle.New(store, host, lifecycle.Options{
		NewClient:   clientFactory(cfg),
		Reconcile:   reconcileOptions(cfg),
		TestTimeout: cfg.Emby.Timeout,
	})
	host.Attach(ctrl)

	hm := health.NewManager(version.Version)
	hm.RegisterChecker(health.NewLifecycleChecker(ctrl))
	hm.RegisterChecker(health.NewEmbyChecker(ctrl, 0))

	tracingService := ""
	if cfg.Telemetry.Enabled {
		tracingService = version.Name
	}
	apiServer := api.New(api.Deps{
		Version:        version.Version,
		Controller:     ctrl,
		Host:           host,
		Health:         hm,
		TracingService: tracingService,
	})

	deps := daemon.Deps{
		Logger:     xglog.WithComponent("daemon"),
		APIHandler: apiServer.Handler(),
	}
	if cfg.MetricsAddr != "" {
		deps.MetricsHandler = promhttp.Handler()
	}
	mgr, err := daemon.NewManager(daemon.ServerConfigFrom(cfg), deps)
	if err != nil {
		return err
	}
	mgr.RegisterShutdownHook("telemetry", tp.Shutdown)
	mgr.RegisterShutdownHook("host-connections", func(context.Context) error {
		host.Close()
		return nil
	})

	app := daemon.NewApp(logger, mgr, ctrl, store)
	if err := app.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info().Str("event", "daemon.stopped").Msg("daemon stopped")
	return nil
}
