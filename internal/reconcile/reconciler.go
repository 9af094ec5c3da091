// Copyright (c) 2025 mase1981
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package reconcile keeps the entity registry in step with the sessions the
// Emby server reports. It only adds and removes entities; each entity keeps
// its own attributes current.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/mase1981/uc-intg-emby/internal/emby"
	xglog "github.com/mase1981/uc-intg-emby/internal/log"
	"github.com/mase1981/uc-intg-emby/internal/mediaplayer"
	"github.com/mase1981/uc-intg-emby/internal/metrics"
	"github.com/mase1981/uc-intg-emby/internal/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
)

// ErrNoClient is returned by PollOnce before the first Start.
var ErrNoClient = errors.New("reconcile: no client")

// Client is the transport the reconciler and its entities share.
type Client interface {
	mediaplayer.SessionClient
	ListSessions(ctx context.Context) ([]emby.Session, error)
}

// Options tune the poll loop and the entities it creates.
type Options struct {
	Interval time.Duration
	Backoff  time.Duration
	Entity   mediaplayer.Options
}

// DefaultOptions returns the standard cadence.
func DefaultOptions() Options {
	return Options{
		Interval: 10 * time.Second,
		Backoff:  30 * time.Second,
		Entity:   mediaplayer.DefaultOptions(),
	}
}

// Reconciler owns the registry of session id to entity.
type Reconciler struct {
	host   mediaplayer.Host
	opts   Options
	logger zerolog.Logger

	mu       sync.Mutex
	entities map[string]*mediaplayer.Entity
	client   Client

	loopMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a reconciler that announces registry changes to host.
func New(host mediaplayer.Host, opts Options) *Reconciler {
	d := DefaultOptions()
	if opts.Interval <= 0 {
		opts.Interval = d.Interval
	}
	if opts.Backoff <= 0 {
		opts.Backoff = d.Backoff
	}
	return &Reconciler{
		host:     host,
		opts:     opts,
		logger:   xglog.WithComponent("reconcile"),
		entities: make(map[string]*mediaplayer.Entity),
	}
}

// Start runs the poll loop with client, replacing any running loop. The
// previous loop has exited and the first cycle has completed when Start
// returns, so the registry reflects the server's sessions.
func (r *Reconciler) Start(client Client) {
	r.loopMu.Lock()
	defer r.loopMu.Unlock()
	r.stopLocked()

	r.mu.Lock()
	r.client = client
	r.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r.cancel = cancel
	r.done = done

	r.logger.Info().
		Str(xglog.FieldEvent, "reconcile.started").
		Dur("interval", r.opts.Interval).
		Msg("session polling started")
	wait := r.pass(ctx, client)
	go r.run(ctx, client, done, wait)
}

// Stop cancels the poll loop and waits for it to exit. It is idempotent.
func (r *Reconciler) Stop() {
	r.loopMu.Lock()
	defer r.loopMu.Unlock()
	r.stopLocked()
}

func (r *Reconciler) stopLocked() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
	r.cancel = nil
	r.done = nil
	r.logger.Info().Str(xglog.FieldEvent, "reconcile.stopped").Msg("session polling stopped")
}

// Running reports whether a poll loop is active.
func (r *Reconciler) Running() bool {
	r.loopMu.Lock()
	defer r.loopMu.Unlock()
	return r.cancel != nil
}

func (r *Reconciler) run(ctx context.Context, client Client, done chan struct{}, wait time.Duration) {
	defer close(done)

	for {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		wait = r.pass(ctx, client)
	}
}

// pass runs one loop cycle and returns the delay before the next one.
func (r *Reconciler) pass(ctx context.Context, client Client) time.Duration {
	err := r.safeCycle(ctx, client)
	if err == nil || ctx.Err() != nil {
		return r.opts.Interval
	}
	r.logger.Error().
		Err(err).
		Str(xglog.FieldEvent, "reconcile.cycle_failed").
		Dur("backoff", r.opts.Backoff).
		Msg("session polling cycle failed")
	return r.opts.Backoff
}

func (r *Reconciler) safeCycle(ctx context.Context, client Client) (err error) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("recovered from panic in reconcile cycle")
			err = fmt.Errorf("reconcile panic: %v", rec)
			metrics.RecordReconcileCycle("panic", time.Since(start).Seconds())
		}
	}()
	return r.cycle(ctx, client)
}

// PollOnce runs one reconciliation cycle with the client of the last Start.
func (r *Reconciler) PollOnce(ctx context.Context) error {
	r.mu.Lock()
	client := r.client
	r.mu.Unlock()
	if client == nil {
		return ErrNoClient
	}
	return r.safeCycle(ctx, client)
}

// cycle computes additions and removals from one fetched session list.
func (r *Reconciler) cycle(ctx context.Context, client Client) error {
	start := time.Now()
	ctx, span := telemetry.Tracer("uc-emby.reconcile").Start(ctx, "reconcile.cycle")
	defer span.End()

	outcome := "success"
	sessions, err := client.ListSessions(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// An unreachable server reports no sessions.
		r.logger.Warn().
			Err(err).
			Str(xglog.FieldEvent, "reconcile.list_failed").
			Msg("session list unavailable, treating as empty")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		outcome = "list_error"
		sessions = nil
	}

	present := make(map[string]emby.Session, len(sessions))
	for _, s := range sessions {
		if s.ID != "" {
			present[s.ID] = s
		}
	}

	var added, removed []*mediaplayer.Entity
	r.mu.Lock()
	if ctx.Err() != nil {
		r.mu.Unlock()
		return ctx.Err()
	}
	for id, s := range present {
		if _, ok := r.entities[id]; ok {
			continue
		}
		e := mediaplayer.NewEntity(s, client, r.host, r.entityGone, r.opts.Entity)
		r.entities[id] = e
		added = append(added, e)
	}
	for id, e := range r.entities {
		if _, ok := present[id]; !ok {
			delete(r.entities, id)
			removed = append(removed, e)
		}
	}
	total := len(r.entities)
	r.mu.Unlock()

	sortByID(added)
	sortByID(removed)
	for _, e := range removed {
		r.logger.Info().
			Str(xglog.FieldEvent, "reconcile.session_removed").
			Str(xglog.FieldEntityID, e.ID()).
			Str(xglog.FieldDevice, e.Name()).
			Msg("session ended")
		e.Dispose()
		metrics.IncEntityChange("removed")
		if r.host != nil {
			r.host.EntityRemoved(e.ID())
		}
	}
	for _, e := range added {
		s := e.Session()
		r.logger.Info().
			Str(xglog.FieldEvent, "reconcile.session_added").
			Str(xglog.FieldEntityID, e.ID()).
			Str(xglog.FieldDevice, s.DeviceName).
			Str(xglog.FieldClient, s.Client).
			Msg("found new session")
		metrics.IncEntityChange("added")
		if r.host != nil {
			r.host.EntityAvailable(e)
		}
	}

	metrics.SetEntitiesActive(total)
	metrics.RecordReconcileCycle(outcome, time.Since(start).Seconds())
	span.SetAttributes(telemetry.ReconcileAttributes(len(added), len(removed), total)...)
	return nil
}

// entityGone removes an entity whose refresh found its session ended.
func (r *Reconciler) entityGone(e *mediaplayer.Entity) {
	r.mu.Lock()
	cur, ok := r.entities[e.SessionID()]
	if ok && cur == e {
		delete(r.entities, e.SessionID())
	}
	total := len(r.entities)
	r.mu.Unlock()

	e.Dispose()
	if !ok || cur != e {
		return
	}
	metrics.IncEntityChange("gone")
	metrics.SetEntitiesActive(total)
	if r.host != nil {
		r.host.EntityRemoved(e.ID())
	}
}

// Reset disposes every entity and empties the registry. Removals are
// announced to the host.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	old := r.entities
	r.entities = make(map[string]*mediaplayer.Entity)
	r.mu.Unlock()

	list := make([]*mediaplayer.Entity, 0, len(old))
	for _, e := range old {
		list = append(list, e)
	}
	sortByID(list)
	for _, e := range list {
		e.Dispose()
		if r.host != nil {
			r.host.EntityRemoved(e.ID())
		}
	}
	for _, e := range list {
		e.Wait()
	}
	metrics.SetEntitiesActive(0)
	r.logger.Info().
		Str(xglog.FieldEvent, "reconcile.reset").
		Int("disposed", len(list)).
		Msg("entity registry cleared")
}

// Lookup finds an entity by entity id.
func (r *Reconciler) Lookup(entityID string) (*mediaplayer.Entity, bool) {
	if len(entityID) <= len(mediaplayer.EntityIDPrefix) || entityID[:len(mediaplayer.EntityIDPrefix)] != mediaplayer.EntityIDPrefix {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entities[entityID[len(mediaplayer.EntityIDPrefix):]]
	return e, ok
}

// Entities returns the registered entities ordered by id.
func (r *Reconciler) Entities() []*mediaplayer.Entity {
	r.mu.Lock()
	list := make([]*mediaplayer.Entity, 0, len(r.entities))
	for _, e := range r.entities {
		list = append(list, e)
	}
	r.mu.Unlock()
	sortByID(list)
	return list
}

// SessionIDs returns the registry keys, sorted.
func (r *Reconciler) SessionIDs() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.entities))
	for id := range r.entities {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)
	return ids
}

func sortByID(list []*mediaplayer.Entity) {
	sort.Slice(list, func(i, j int) bool { return list[i].ID() < list[j].ID() })
}
