// Copyright (c) 2025 mase1981
// Licensed under the PolyForm Noncommercial License 1.0.0

package daemon

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Runtime is the integration lifecycle owned by the daemon.
type Runtime interface {
	Start(ctx context.Context)
	ConfigChanged()
	Close()
}

// SettingsStore is the persisted integration settings.
type SettingsStore interface {
	Reload() error
	Watch(ctx context.Context, onChange func()) error
}

// App owns the long-lived runtime (settings watcher, reload signal, the
// integration lifecycle) and delegates server management to Manager.
type App struct {
	logger       zerolog.Logger
	manager      Manager
	runtime      Runtime
	store        SettingsStore
	reloadSignal os.Signal
}

// NewApp creates a new App orchestrator. store may be nil.
func NewApp(logger zerolog.Logger, manager Manager, runtime Runtime, store SettingsStore) *App {
	return &App{
		logger:       logger,
		manager:      manager,
		runtime:      runtime,
		store:        store,
		reloadSignal: syscall.SIGHUP,
	}
}

// Run starts the runtime and servers and blocks until ctx is cancelled or a
// server fails. The runtime is closed after the servers stopped.
func (a *App) Run(ctx context.Context) error {
	if a.manager == nil {
		return ErrMissingManager
	}
	if a.runtime == nil {
		return ErrMissingRuntime
	}

	g, ctx := errgroup.WithContext(ctx)

	// The watcher is best-effort: startup does not fail without it.
	if a.store != nil {
		if err := a.store.Watch(ctx, a.runtime.ConfigChanged); err != nil {
			a.logger.Warn().Err(err).Str("event", "config.watcher_start_failed").Msg("failed to start settings watcher")
		}
	}

	a.runtime.Start(ctx)
	defer a.runtime.Close()

	if a.store != nil && a.reloadSignal != nil {
		g.Go(func() error {
			hupChan := make(chan os.Signal, 1)
			signal.Notify(hupChan, a.reloadSignal)
			defer signal.Stop(hupChan)

			for {
				select {
				case <-ctx.Done():
					return nil
				case <-hupChan:
					a.logger.Info().
						Str("event", "config.reload_signal").
						Str("signal", a.reloadSignal.String()).
						Msg("received reload signal, reloading settings")

					if err := a.store.Reload(); err != nil {
						a.logger.Warn().
							Err(err).
							Str("event", "config.reload_failed").
							Msg("settings reload failed")
						continue
					}
					a.runtime.ConfigChanged()
				}
			}
		})
	}

	g.Go(func() error {
		err := a.manager.Start(ctx)
		if err != nil {
			_ = a.manager.Shutdown(context.Background())
		}
		return err
	})

	return g.Wait()
}
