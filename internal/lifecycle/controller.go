// Copyright (c) 2025 mase1981
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package lifecycle drives the integration from stored settings to a running
// session reconciler and routes host callbacks to the entities.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mase1981/uc-intg-emby/internal/config"
	xglog "github.com/mase1981/uc-intg-emby/internal/log"
	"github.com/mase1981/uc-intg-emby/internal/mediaplayer"
	"github.com/mase1981/uc-intg-emby/internal/metrics"
	"github.com/mase1981/uc-intg-emby/internal/reconcile"
	"github.com/mase1981/uc-intg-emby/internal/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"
)

// DefaultTestTimeout bounds a connection test.
const DefaultTestTimeout = 10 * time.Second

// Client is the Emby transport owned by the controller.
type Client interface {
	reconcile.Client
	TestConnection(ctx context.Context) (string, error)
	Close()
}

// ClientFactory builds a client for the given settings.
type ClientFactory func(config.Settings) Client

// ConfigStore holds the persisted connection settings.
type ConfigStore interface {
	IsConfigured() bool
	Settings() config.Settings
	Update(fields map[string]string) error
	Clear() error
	Reload() error
}

// Host receives entity and device-state notifications.
type Host interface {
	mediaplayer.Host
	DeviceStateChanged(state DeviceState)
}

// Options configure a Controller.
type Options struct {
	NewClient   ClientFactory
	Reconcile   reconcile.Options
	TestTimeout time.Duration
}

type initMode int

const (
	// initIfNeeded is a no-op once READY.
	initIfNeeded initMode = iota
	// initIfChanged re-initializes a READY controller only when the stored
	// settings differ from the ones in use.
	initIfChanged
	// initForce always runs the connection test.
	initForce
)

func (m initMode) key() string {
	switch m {
	case initForce:
		return "force"
	case initIfChanged:
		return "changed"
	default:
		return "init"
	}
}

// Controller owns the lifecycle state, the active client and the reconciler.
type Controller struct {
	store      ConfigStore
	host       Host
	newClient  ClientFactory
	reconciler *reconcile.Reconciler
	opts       Options
	logger     zerolog.Logger

	// initMu is held for the whole of an initialization.
	initMu sync.Mutex
	group  singleflight.Group

	mu       sync.RWMutex
	state    State
	client   Client
	settings config.Settings

	wg sync.WaitGroup
}

// New creates a controller in the UNCONFIGURED state.
func New(store ConfigStore, host Host, opts Options) *Controller {
	if opts.TestTimeout <= 0 {
		opts.TestTimeout = DefaultTestTimeout
	}
	c := &Controller{
		store:      store,
		host:       host,
		newClient:  opts.NewClient,
		reconciler: reconcile.New(host, opts.Reconcile),
		opts:       opts,
		logger:     xglog.WithComponent("lifecycle"),
		state:      StateUnconfigured,
	}
	metrics.SetLifecycleState(string(StateUnconfigured))
	return c
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Controller) setState(next State) {
	c.mu.Lock()
	prev := c.state
	c.state = next
	c.mu.Unlock()
	if prev == next {
		return
	}

	metrics.SetLifecycleState(string(next))
	c.logger.Info().
		Str(xglog.FieldEvent, "lifecycle.transition").
		Str(xglog.FieldOldState, string(prev)).
		Str(xglog.FieldNewState, string(next)).
		Msg("lifecycle state changed")
	if c.host != nil {
		c.host.DeviceStateChanged(deviceStateFor(next))
	}
}

// DeviceState is the state reported to a host after it connects.
func (c *Controller) DeviceState() DeviceState {
	configured := c.store.IsConfigured()
	switch {
	case configured && c.State() == StateReady:
		return DeviceConnected
	case !configured:
		return DeviceDisconnected
	default:
		return DeviceError
	}
}

// Start initializes in the background when valid settings are stored, so
// entities exist before any host connects.
func (c *Controller) Start(ctx context.Context) {
	if !c.store.IsConfigured() {
		c.logger.Info().Str(xglog.FieldEvent, "lifecycle.unconfigured").Msg("integration not configured, waiting for setup")
		return
	}
	c.logger.Info().Str(xglog.FieldEvent, "lifecycle.preinit").Msg("found stored configuration, initializing")
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.Initialize(ctx); err != nil {
			c.logger.Error().Err(err).Str(xglog.FieldEvent, "lifecycle.preinit_failed").Msg("startup initialization failed")
		}
	}()
}

// Close stops the reconciler, disposes every entity and closes the client.
func (c *Controller) Close() {
	c.wg.Wait()
	c.initMu.Lock()
	defer c.initMu.Unlock()
	c.teardown()
}

// Initialize brings the controller to READY. Concurrent calls share one
// initialization; a call made once READY does nothing.
func (c *Controller) Initialize(ctx context.Context) error {
	return c.trigger(ctx, initIfNeeded)
}

// Reinitialize runs a fresh connection test with the stored settings even
// when READY.
func (c *Controller) Reinitialize(ctx context.Context) error {
	return c.trigger(ctx, initForce)
}

// ConfigChanged re-initializes when the stored settings no longer match the
// active client, and drops to UNCONFIGURED when they were removed. It is the
// settings watcher callback and does not block.
func (c *Controller) ConfigChanged() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		err := c.trigger(context.Background(), initIfChanged)
		if err != nil && !errors.Is(err, ErrNotConfigured) {
			c.logger.Warn().Err(err).Str(xglog.FieldEvent, "lifecycle.reload_failed").Msg("re-initialization after settings change failed")
		}
	}()
}

func (c *Controller) trigger(ctx context.Context, mode initMode) error {
	ch := c.group.DoChan(mode.key(), func() (any, error) {
		return nil, c.initialize(context.WithoutCancel(ctx), mode)
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		return res.Err
	}
}

func (c *Controller) initialize(ctx context.Context, mode initMode) error {
	c.initMu.Lock()
	defer c.initMu.Unlock()

	settings := c.store.Settings()
	if !settings.Valid() {
		if c.State() != StateUnconfigured {
			c.teardown()
		}
		return ErrNotConfigured
	}

	c.mu.RLock()
	state, current := c.state, c.settings
	c.mu.RUnlock()
	switch {
	case mode == initIfNeeded && state == StateReady:
		c.logger.Debug().Str(xglog.FieldEvent, "lifecycle.already_ready").Msg("entities already initialized, skipping")
		return nil
	case mode == initIfChanged && state == StateReady && current == settings:
		return nil
	case mode == initIfChanged && state != StateReady:
		// The watcher only follows a running integration.
		return nil
	}

	ctx, span := telemetry.Tracer("uc-emby.lifecycle").Start(ctx, "lifecycle.initialize")
	defer span.End()
	span.SetAttributes(attribute.String("lifecycle.mode", mode.key()))

	c.setState(StateInitializing)
	c.logger.Info().
		Str(xglog.FieldEvent, "lifecycle.initializing").
		Str(xglog.FieldServerURL, settings.ServerURL).
		Msg("initializing entities")

	client := c.newClient(settings)
	testCtx, cancel := context.WithTimeout(ctx, c.opts.TestTimeout)
	msg, err := client.TestConnection(testCtx)
	cancel()
	if err != nil {
		client.Close()
		c.reconciler.Stop()
		metrics.IncInitialization(false)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Error().
			Err(err).
			Str(xglog.FieldEvent, "lifecycle.init_failed").
			Msg("failed to connect to Emby during initialization")
		c.setState(StateError)
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c.reconciler.Stop()
	c.reconciler.Reset()

	c.mu.Lock()
	old := c.client
	c.client = client
	c.settings = settings
	c.mu.Unlock()
	if old != nil {
		old.Close()
	}

	c.reconciler.Start(client)
	metrics.IncInitialization(true)
	c.logger.Info().
		Str(xglog.FieldEvent, "lifecycle.ready").
		Str("server", msg).
		Msg("Emby connection initialized, polling sessions")
	c.setState(StateReady)
	return nil
}

// teardown returns to UNCONFIGURED. The caller holds initMu.
func (c *Controller) teardown() {
	c.reconciler.Stop()
	c.reconciler.Reset()

	c.mu.Lock()
	old := c.client
	c.client = nil
	c.settings = config.Settings{}
	c.mu.Unlock()
	if old != nil {
		old.Close()
	}
	c.setState(StateUnconfigured)
}

// OnConnect reloads the stored settings, initializes when needed and returns
// the device state to report to the connecting host.
func (c *Controller) OnConnect(ctx context.Context) DeviceState {
	log := xglog.WithContext(ctx, c.logger)
	log.Info().Str(xglog.FieldEvent, "lifecycle.host_connected").Msg("host connected, checking configuration")
	if err := c.store.Reload(); err != nil {
		log.Warn().Err(err).Str(xglog.FieldEvent, "lifecycle.reload_failed").Msg("could not reload settings")
	}

	if c.store.IsConfigured() && c.State() != StateReady {
		log.Info().Str(xglog.FieldEvent, "lifecycle.reinit").Msg("configuration found but entities missing, initializing")
		if err := c.Initialize(ctx); err != nil {
			log.Error().Err(err).Str(xglog.FieldEvent, "lifecycle.reinit_failed").Msg("failed to initialize entities")
			return DeviceError
		}
	}
	return c.DeviceState()
}

// OnSubscribe starts monitoring the named entities and returns the ids that
// exist. A subscribe before READY triggers initialization first.
func (c *Controller) OnSubscribe(ctx context.Context, entityIDs []string) []string {
	log := c.logger.With().Strs("entity_ids", entityIDs).Logger()
	log.Info().Str(xglog.FieldEvent, "lifecycle.subscribe").Msg("entity subscription requested")

	if c.State() != StateReady {
		if !c.store.IsConfigured() {
			log.Error().Str(xglog.FieldEvent, "lifecycle.subscribe_unconfigured").Msg("cannot subscribe, no configuration available")
			return nil
		}
		log.Warn().Str(xglog.FieldEvent, "lifecycle.subscribe_early").Msg("subscription before entities ready, initializing")
		if err := c.Initialize(ctx); err != nil {
			log.Error().Err(err).Str(xglog.FieldEvent, "lifecycle.subscribe_init_failed").Msg("initialization for subscription failed")
			return nil
		}
	}

	var found []string
	for _, id := range entityIDs {
		e, ok := c.reconciler.Lookup(id)
		if !ok {
			log.Warn().Str(xglog.FieldEntityID, id).Msg("subscription requested for unknown entity")
			continue
		}
		e.StartMonitoring()
		found = append(found, id)
	}
	return found
}

// OnUnsubscribe stops monitoring the named entities and returns the ids that
// exist.
func (c *Controller) OnUnsubscribe(entityIDs []string) []string {
	c.logger.Info().
		Str(xglog.FieldEvent, "lifecycle.unsubscribe").
		Strs("entity_ids", entityIDs).
		Msg("entity unsubscribe requested")

	var found []string
	for _, id := range entityIDs {
		e, ok := c.reconciler.Lookup(id)
		if !ok {
			continue
		}
		e.StopMonitoring()
		found = append(found, id)
	}
	return found
}

// HandleCommand routes a host command to an entity.
func (c *Controller) HandleCommand(ctx context.Context, entityID string, cmd mediaplayer.Command, params mediaplayer.Params) mediaplayer.Status {
	e, ok := c.reconciler.Lookup(entityID)
	if !ok {
		c.logger.Warn().
			Str(xglog.FieldEntityID, entityID).
			Str(xglog.FieldCommand, string(cmd)).
			Msg("command for unknown entity")
		metrics.IncCommand(string(cmd), fmt.Sprint(int(mediaplayer.StatusNotFound)))
		return mediaplayer.StatusNotFound
	}
	return e.HandleCommand(ctx, cmd, params)
}

// Setup validates and tests the submitted settings, persists them and
// re-initializes with them.
func (c *Controller) Setup(ctx context.Context, fields map[string]string) SetupResult {
	result := c.setup(ctx, fields)
	metrics.IncSetupResult(string(result))
	return result
}

func (c *Controller) setup(ctx context.Context, fields map[string]string) SetupResult {
	settings := config.Settings{
		ServerURL: strings.TrimSpace(fields[config.KeyServerURL]),
		APIKey:    strings.TrimSpace(fields[config.KeyAPIKey]),
		UserID:    strings.TrimSpace(fields[config.KeyUserID]),
	}
	log := c.logger.With().Str(xglog.FieldServerURL, settings.ServerURL).Logger()

	if settings.ServerURL == "" || settings.APIKey == "" {
		log.Warn().Str(xglog.FieldEvent, "setup.invalid_input").Msg("URL and API key are required")
		return SetupInvalidInput
	}
	if !config.HasHTTPScheme(settings.ServerURL) {
		log.Warn().Str(xglog.FieldEvent, "setup.invalid_input").Msg("server URL must start with http:// or https://")
		return SetupInvalidInput
	}

	client := c.newClient(settings)
	testCtx, cancel := context.WithTimeout(ctx, c.opts.TestTimeout)
	msg, err := client.TestConnection(testCtx)
	cancel()
	client.Close()
	if err != nil {
		log.Warn().Err(err).Str(xglog.FieldEvent, "setup.connection_failed").Msg("connection test failed")
		return classifySetupError(err)
	}

	if err := c.store.Update(map[string]string{
		config.KeyServerURL: settings.ServerURL,
		config.KeyAPIKey:    settings.APIKey,
		config.KeyUserID:    settings.UserID,
	}); err != nil {
		log.Error().Err(err).Str(xglog.FieldEvent, "setup.save_failed").Msg("failed to save configuration")
		return SetupOther
	}
	log.Info().Str(xglog.FieldEvent, "setup.saved").Str("server", msg).Msg("setup data accepted")

	if err := c.Reinitialize(ctx); err != nil {
		log.Error().Err(err).Str(xglog.FieldEvent, "setup.init_failed").Msg("initialization after setup failed")
		return classifySetupError(err)
	}
	return SetupComplete
}

// Clear removes the stored settings and returns to UNCONFIGURED.
func (c *Controller) Clear() error {
	c.initMu.Lock()
	defer c.initMu.Unlock()

	if err := c.store.Clear(); err != nil {
		return fmt.Errorf("clear settings: %w", err)
	}
	c.teardown()
	return nil
}

// Settings returns the settings currently stored.
func (c *Controller) Settings() config.Settings {
	return c.store.Settings()
}

// Ping tests the active client's connection.
func (c *Controller) Ping(ctx context.Context) (string, error) {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()
	if client == nil {
		return "", ErrNotConfigured
	}
	return client.TestConnection(ctx)
}

// Entities returns the registered entities ordered by id.
func (c *Controller) Entities() []*mediaplayer.Entity {
	return c.reconciler.Entities()
}

// Lookup finds an entity by id.
func (c *Controller) Lookup(entityID string) (*mediaplayer.Entity, bool) {
	return c.reconciler.Lookup(entityID)
}

// Reconciling reports whether the session poll loop is running.
func (c *Controller) Reconciling() bool {
	return c.reconciler.Running()
}
