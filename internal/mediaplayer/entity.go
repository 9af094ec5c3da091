// Copyright (c) 2025 mase1981
// Licensed under the PolyForm Noncommercial License 1.0.0

package mediaplayer

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/mase1981/uc-intg-emby/internal/emby"
	xglog "github.com/mase1981/uc-intg-emby/internal/log"
	"github.com/mase1981/uc-intg-emby/internal/metrics"
	"github.com/rs/zerolog"
)

// EntityIDPrefix prefixes the session id in entity ids.
const EntityIDPrefix = "emby_"

// DeviceClass is the host device class of every entity.
const DeviceClass = "STREAMING_BOX"

// Status is the result of a host command, using HTTP status codes as the
// host protocol does.
type Status int

const (
	StatusOK             Status = 200
	StatusBadRequest     Status = 400
	StatusNotFound       Status = 404
	StatusServerError    Status = 500
	StatusNotImplemented Status = 501
)

// Feature is a media-player capability advertised to the host.
type Feature string

const (
	FeaturePlayPause     Feature = "play_pause"
	FeatureStop          Feature = "stop"
	FeatureNext          Feature = "next"
	FeaturePrevious      Feature = "previous"
	FeatureSeek          Feature = "seek"
	FeatureMediaDuration Feature = "media_duration"
	FeatureMediaPosition Feature = "media_position"
	FeatureMediaTitle    Feature = "media_title"
	FeatureMediaArtist   Feature = "media_artist"
	FeatureMediaAlbum    Feature = "media_album"
	FeatureMediaImageURL Feature = "media_image_url"
	FeatureMediaType     Feature = "media_type"
	FeatureFastForward   Feature = "fast_forward"
	FeatureRewind        Feature = "rewind"
	FeatureVolume        Feature = "volume"
	FeatureVolumeUpDown  Feature = "volume_up_down"
	FeatureMuteToggle    Feature = "mute_toggle"
)

var baseFeatures = []Feature{
	FeaturePlayPause, FeatureStop, FeatureNext, FeaturePrevious, FeatureSeek,
	FeatureMediaDuration, FeatureMediaPosition, FeatureMediaTitle,
	FeatureMediaArtist, FeatureMediaAlbum, FeatureMediaImageURL,
	FeatureMediaType, FeatureFastForward, FeatureRewind,
}

// Host receives entity notifications. Implementations must not call back
// into the entity synchronously.
type Host interface {
	EntityAvailable(e *Entity)
	EntityRemoved(entityID string)
	EntityAttributesChanged(entityID string, attrs Attributes)
}

// SessionClient is the transport an entity needs.
type SessionClient interface {
	ImageResolver
	CommandSender
	GetSession(ctx context.Context, sessionID string) (*emby.Session, error)
}

// Options tune the refresh loop and command handling.
type Options struct {
	RefreshInterval time.Duration
	RefreshBackoff  time.Duration
	CommandTimeout  time.Duration
	SettleDelay     time.Duration
}

// DefaultOptions returns the standard cadence.
func DefaultOptions() Options {
	return Options{
		RefreshInterval: 5 * time.Second,
		RefreshBackoff:  15 * time.Second,
		CommandTimeout:  DefaultCommandTimeout,
		SettleDelay:     500 * time.Millisecond,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.RefreshInterval <= 0 {
		o.RefreshInterval = d.RefreshInterval
	}
	if o.RefreshBackoff <= 0 {
		o.RefreshBackoff = d.RefreshBackoff
	}
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = d.CommandTimeout
	}
	if o.SettleDelay < 0 {
		o.SettleDelay = d.SettleDelay
	}
	return o
}

// Entity mirrors one Emby session. It owns at most one monitoring goroutine.
// After Dispose or StopMonitoring returns, the entity's snapshot and
// attributes no longer change and no further host notification is made by
// the stopped loop.
type Entity struct {
	id        string
	name      string
	sessionID string
	features  []Feature

	client     SessionClient
	host       Host
	dispatcher *Dispatcher
	onGone     func(*Entity)
	opts       Options
	logger     zerolog.Logger

	// life is cancelled on Dispose; it bounds command follow-up refreshes.
	life       context.Context
	lifeCancel context.CancelFunc

	// wg tracks the monitoring loop and command follow-ups.
	wg sync.WaitGroup

	mu        sync.Mutex
	session   emby.Session
	attrs     Attributes
	disposed  bool
	monCancel context.CancelFunc
}

// NewEntity builds an entity from the session's first snapshot. onGone is
// called once when a refresh finds the session has ended.
func NewEntity(s emby.Session, client SessionClient, host Host, onGone func(*Entity), opts Options) *Entity {
	opts = opts.withDefaults()
	life, cancel := context.WithCancel(context.Background())

	e := &Entity{
		id:         EntityIDPrefix + s.ID,
		name:       DisplayName(s),
		sessionID:  s.ID,
		features:   FeaturesFor(s),
		client:     client,
		host:       host,
		dispatcher: NewDispatcher(client, opts.CommandTimeout),
		onGone:     onGone,
		opts:       opts,
		life:       life,
		lifeCancel: cancel,
		session:    s,
		attrs:      Derive(s, client),
	}
	e.logger = xglog.WithComponent("entity").With().
		Str(xglog.FieldEntityID, e.id).
		Str(xglog.FieldSessionID, s.ID).
		Logger()
	return e
}

// DisplayName is "Client (Device)" when the device name adds information.
func DisplayName(s emby.Session) string {
	if s.DeviceName != "" && s.DeviceName != s.Client {
		return fmt.Sprintf("%s (%s)", s.Client, s.DeviceName)
	}
	return s.Client
}

// FeaturesFor returns the feature set for a session's supported commands.
// Volume features require "VolumeUp".
func FeaturesFor(s emby.Session) []Feature {
	features := slices.Clone(baseFeatures)
	if s.Supports("VolumeUp") {
		features = append(features, FeatureVolume, FeatureVolumeUpDown, FeatureMuteToggle)
	}
	return features
}

func (e *Entity) ID() string          { return e.id }
func (e *Entity) Name() string        { return e.name }
func (e *Entity) SessionID() string   { return e.sessionID }
func (e *Entity) Features() []Feature { return slices.Clone(e.features) }

// Attributes returns the last derived attributes.
func (e *Entity) Attributes() Attributes {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.attrs
}

// Session returns the last stored snapshot.
func (e *Entity) Session() emby.Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

// SupportedCommands returns the capability tokens of the latest snapshot.
func (e *Entity) SupportedCommands() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.session.SupportedCommands)
}

// Monitoring reports whether the refresh loop is running.
func (e *Entity) Monitoring() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.monCancel != nil
}

// StartMonitoring starts the refresh loop. It is a no-op when already
// monitoring or disposed.
func (e *Entity) StartMonitoring() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed || e.monCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(e.life)
	e.monCancel = cancel

	e.logger.Info().Str(xglog.FieldEvent, "entity.monitoring_started").Msg("starting monitoring")
	e.wg.Add(1)
	go e.monitor(ctx)
}

// StopMonitoring cancels the refresh loop. It is idempotent and does not
// wait, so it is safe to call from the loop itself.
func (e *Entity) StopMonitoring() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
}

func (e *Entity) stopLocked() {
	if e.monCancel == nil {
		return
	}
	e.monCancel()
	e.monCancel = nil
	e.logger.Info().Str(xglog.FieldEvent, "entity.monitoring_stopped").Msg("stopping monitoring")
}

// Dispose stops monitoring and pending follow-ups. The entity is inert afterwards.
func (e *Entity) Dispose() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return
	}
	e.disposed = true
	e.stopLocked()
	e.lifeCancel()
}

// Disposed reports whether Dispose was called.
func (e *Entity) Disposed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.disposed
}

// Wait blocks until the entity's goroutines have exited. Call it only after
// Dispose and never from the entity's own callbacks.
func (e *Entity) Wait() {
	e.wg.Wait()
}

func (e *Entity) monitor(ctx context.Context) {
	defer e.wg.Done()

	for {
		wait := e.opts.RefreshInterval
		if err := e.safeRefresh(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			e.logger.Error().
				Err(err).
				Str(xglog.FieldEvent, "entity.refresh_failed").
				Dur("backoff", e.opts.RefreshBackoff).
				Msg("periodic refresh failed")
			wait = e.opts.RefreshBackoff
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (e *Entity) safeRefresh(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("recovered from panic in entity refresh")
			err = fmt.Errorf("refresh panic: %v", r)
		}
	}()
	return e.Refresh(ctx)
}

// Refresh fetches the session, destroying the entity when it has ended and
// notifying the host when the attributes changed. Transport errors are
// returned and leave the entity in place.
func (e *Entity) Refresh(ctx context.Context) error {
	s, err := e.client.GetSession(ctx, e.sessionID)
	if err != nil {
		metrics.IncRefreshFailure()
		return fmt.Errorf("refresh %s: %w", e.id, err)
	}
	if s == nil {
		e.gone(ctx)
		return nil
	}
	e.apply(ctx, *s)
	return nil
}

func (e *Entity) apply(ctx context.Context, s emby.Session) {
	attrs := Derive(s, e.client)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed || ctx.Err() != nil {
		return
	}
	e.session = s
	if attrs == e.attrs {
		return
	}
	e.attrs = attrs
	metrics.IncAttributeUpdate()
	if e.host != nil {
		e.host.EntityAttributesChanged(e.id, attrs)
	}
}

func (e *Entity) gone(ctx context.Context) {
	e.mu.Lock()
	if e.disposed || ctx.Err() != nil {
		e.mu.Unlock()
		return
	}
	e.stopLocked()
	e.mu.Unlock()

	e.logger.Info().Str(xglog.FieldEvent, "entity.session_ended").Msg("session appears to have ended")
	if e.onGone != nil {
		e.onGone(e)
	}
}

// HandleCommand dispatches cmd to the session. On success one extra refresh
// runs after the settle delay.
func (e *Entity) HandleCommand(ctx context.Context, cmd Command, params Params) Status {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return StatusNotFound
	}
	supported := slices.Clone(e.session.SupportedCommands)
	e.mu.Unlock()

	err := e.dispatcher.Dispatch(ctx, e.sessionID, supported, cmd, params)
	status := commandStatus(err)
	metrics.IncCommand(string(cmd), fmt.Sprint(int(status)))
	if err != nil {
		return status
	}

	e.mu.Lock()
	if !e.disposed {
		e.wg.Add(1)
		go e.followUp()
	}
	e.mu.Unlock()
	return StatusOK
}

func commandStatus(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrUnsupportedCommand):
		return StatusNotImplemented
	default:
		return StatusServerError
	}
}

func (e *Entity) followUp() {
	defer e.wg.Done()
	timer := time.NewTimer(e.opts.SettleDelay)
	defer timer.Stop()
	select {
	case <-e.life.Done():
		return
	case <-timer.C:
	}
	if err := e.safeRefresh(e.life); err != nil && e.life.Err() == nil {
		e.logger.Warn().Err(err).Str(xglog.FieldEvent, "entity.followup_failed").Msg("post-command refresh failed")
	}
}
