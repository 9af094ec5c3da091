// Copyright (c) 2025 mase1981
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package integration serves the remote-control host protocol: a WebSocket
// JSON protocol of requests, responses and events. It forwards host
// callbacks to the lifecycle controller and pushes entity changes back.
package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mase1981/uc-intg-emby/internal/config"
	"github.com/mase1981/uc-intg-emby/internal/lifecycle"
	xglog "github.com/mase1981/uc-intg-emby/internal/log"
	"github.com/mase1981/uc-intg-emby/internal/mediaplayer"
	"github.com/mase1981/uc-intg-emby/internal/metrics"
	"github.com/rs/zerolog"
)

// APIVersion is the host protocol version implemented.
const APIVersion = "0.12.1"

// Driver handles host callbacks. lifecycle.Controller implements it.
type Driver interface {
	OnConnect(ctx context.Context) lifecycle.DeviceState
	OnSubscribe(ctx context.Context, entityIDs []string) []string
	OnUnsubscribe(entityIDs []string) []string
	HandleCommand(ctx context.Context, entityID string, cmd mediaplayer.Command, params mediaplayer.Params) mediaplayer.Status
	Setup(ctx context.Context, fields map[string]string) lifecycle.SetupResult
	DeviceState() lifecycle.DeviceState
	Settings() config.Settings
	Entities() []*mediaplayer.Entity
	Lookup(entityID string) (*mediaplayer.Entity, bool)
}

// Info identifies the driver to hosts.
type Info struct {
	Name    string
	Version string
}

// Server accepts host connections. It implements lifecycle.Host; pushes
// never block the caller.
type Server struct {
	info     Info
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	mu         sync.Mutex
	driver     Driver
	conns      map[string]*conn
	subscribed map[string]struct{}
	closed     bool

	wg sync.WaitGroup
}

var _ lifecycle.Host = (*Server)(nil)

// NewServer creates a server. Attach must be called before it serves.
func NewServer(info Info) *Server {
	return &Server{
		info: info,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:     xglog.WithComponent("integration"),
		conns:      make(map[string]*conn),
		subscribed: make(map[string]struct{}),
	}
}

// Attach sets the driver receiving host callbacks.
func (s *Server) Attach(d Driver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.driver = d
}

func (s *Server) getDriver() Driver {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.driver
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.closed || s.driver == nil {
		s.mu.Unlock()
		http.Error(w, "integration not ready", http.StatusServiceUnavailable)
		return
	}
	s.mu.Unlock()

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Str(xglog.FieldEvent, "host.upgrade_failed").Msg("websocket upgrade failed")
		return
	}

	c := newConn(uuid.NewString(), ws, s.logger)
	if !s.register(c) {
		c.close()
		return
	}
	defer s.unregister(c)

	go func() {
		defer s.wg.Done()
		c.writePump()
	}()

	c.logger.Info().
		Str(xglog.FieldEvent, "host.connected").
		Str("remote", r.RemoteAddr).
		Msg("host connected")
	c.respond(0, http.StatusOK, msgAuthentication, map[string]any{})

	ctx, cancel := context.WithCancel(xglog.ContextWithConnID(r.Context(), c.id))
	defer cancel()
	s.readLoop(ctx, c)
}

func (s *Server) register(c *conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c.id] = c
	s.wg.Add(1)
	metrics.HostConnected()
	return true
}

func (s *Server) unregister(c *conn) {
	c.close()
	s.mu.Lock()
	if _, ok := s.conns[c.id]; ok {
		delete(s.conns, c.id)
		metrics.HostDisconnected()
	}
	s.mu.Unlock()
	c.logger.Info().Str(xglog.FieldEvent, "host.disconnected").Msg("host disconnected")
}

func (s *Server) readLoop(ctx context.Context, c *conn) {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn().Err(err).Msg("connection closed unexpectedly")
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn().Err(err).Str(xglog.FieldEvent, "host.bad_message").Msg("could not decode message")
			continue
		}
		metrics.IncHostMessage("in", msg.Msg)

		switch msg.Kind {
		case kindRequest:
			s.handleRequest(ctx, c, msg)
		case kindEvent:
			s.handleEvent(ctx, c, msg)
		default:
			c.logger.Debug().Str("kind", msg.Kind).Str("msg", msg.Msg).Msg("ignoring message")
		}
	}
}

func (s *Server) handleEvent(ctx context.Context, c *conn, msg inbound) {
	switch msg.Msg {
	case evConnect:
		state := s.getDriver().OnConnect(ctx)
		c.event(evDeviceState, catDevice, deviceStateData{State: string(state)})
	case evDisconnect, evEnterStandby, evExitStandby:
		c.logger.Info().Str(xglog.FieldEvent, "host."+msg.Msg).Msg("host event")
	default:
		c.logger.Debug().Str("msg", msg.Msg).Msg("unhandled host event")
	}
}

func (s *Server) handleRequest(ctx context.Context, c *conn, msg inbound) {
	d := s.getDriver()
	log := c.logger.With().Int64(xglog.FieldRequestID, msg.ID).Str("msg", msg.Msg).Logger()

	switch msg.Msg {
	case msgGetDriverVersion:
		c.respond(msg.ID, http.StatusOK, msgDriverVersion, driverVersion{
			Name:    s.info.Name,
			Version: driverVersionInfo{API: APIVersion, Driver: s.info.Version},
		})

	case msgGetDeviceState:
		c.event(evDeviceState, catDevice, deviceStateData{State: string(d.DeviceState())})

	case msgGetAvailableEntities:
		entities := d.Entities()
		payload := availableEntities{AvailableEntities: make([]entityPayload, 0, len(entities))}
		for _, e := range entities {
			payload.AvailableEntities = append(payload.AvailableEntities, describe(e))
		}
		c.respond(msg.ID, http.StatusOK, msgAvailableEntities, payload)

	case msgGetEntityStates:
		states := make([]entityPayload, 0)
		for _, id := range s.Subscribed() {
			e, ok := d.Lookup(id)
			if !ok {
				continue
			}
			states = append(states, entityPayload{
				EntityID:   e.ID(),
				EntityType: EntityType,
				Attributes: e.Attributes().Fields(),
			})
		}
		c.respond(msg.ID, http.StatusOK, msgEntityStates, states)

	case msgSubscribeEvents:
		var req entityIDs
		if err := decode(msg.MsgData, &req); err != nil {
			log.Warn().Err(err).Msg("invalid subscribe request")
			c.result(msg.ID, http.StatusBadRequest)
			return
		}
		// Record the ids first so the first refresh push is not dropped.
		s.subscribe(req.EntityIDs)
		found := d.OnSubscribe(ctx, req.EntityIDs)
		s.unsubscribe(missing(req.EntityIDs, found))
		c.result(msg.ID, http.StatusOK)

	case msgUnsubscribeEvents:
		var req entityIDs
		if err := decode(msg.MsgData, &req); err != nil {
			log.Warn().Err(err).Msg("invalid unsubscribe request")
			c.result(msg.ID, http.StatusBadRequest)
			return
		}
		d.OnUnsubscribe(req.EntityIDs)
		s.unsubscribe(req.EntityIDs)
		c.result(msg.ID, http.StatusOK)

	case msgEntityCommand:
		var req entityCommand
		if err := decode(msg.MsgData, &req); err != nil || req.EntityID == "" || req.CmdID == "" {
			log.Warn().Err(err).Msg("invalid entity command")
			c.result(msg.ID, http.StatusBadRequest)
			return
		}
		if req.EntityType != "" && req.EntityType != EntityType {
			c.result(msg.ID, http.StatusBadRequest)
			return
		}
		status := d.HandleCommand(ctx, req.EntityID, mediaplayer.Command(req.CmdID), req.Params)
		log.Info().
			Str(xglog.FieldEntityID, req.EntityID).
			Str(xglog.FieldCommand, req.CmdID).
			Int("status", int(status)).
			Msg("entity command handled")
		c.result(msg.ID, int(status))

	case msgSetupDriver:
		var req setupDriver
		if err := decode(msg.MsgData, &req); err != nil {
			c.result(msg.ID, http.StatusBadRequest)
			return
		}
		c.result(msg.ID, http.StatusOK)
		if len(req.SetupData) > 0 {
			log.Info().Str(xglog.FieldEvent, "setup.direct").Msg("processing setup data provided by host")
			s.runSetup(ctx, c, d, req.SetupData)
			return
		}
		log.Info().Str(xglog.FieldEvent, "setup.requested").Bool("reconfigure", req.Reconfigure).Msg("sending configuration form")
		c.event(evDriverSetupChange, catSetup, setupChange{
			EventType:         setupEventSetup,
			State:             setupStateWaitAction,
			RequireUserAction: &userAction{Input: setupForm(d.Settings())},
		})

	case msgSetDriverUserData:
		var req userData
		if err := decode(msg.MsgData, &req); err != nil {
			c.result(msg.ID, http.StatusBadRequest)
			return
		}
		c.result(msg.ID, http.StatusOK)
		s.runSetup(ctx, c, d, req.InputValues)

	case msgAbortDriverSetup:
		var req abortSetup
		_ = decode(msg.MsgData, &req)
		if req.Error == "" {
			req.Error = string(lifecycle.SetupOther)
		}
		log.Warn().Str(xglog.FieldEvent, "setup.aborted").Str("error", req.Error).Msg("setup aborted by host")
		c.result(msg.ID, http.StatusOK)
		c.event(evDriverSetupChange, catSetup, setupChange{
			EventType: setupEventStop,
			State:     setupStateError,
			Error:     req.Error,
		})

	default:
		log.Debug().Msg("unsupported request")
		c.result(msg.ID, http.StatusNotImplemented)
	}
}

func (s *Server) runSetup(ctx context.Context, c *conn, d Driver, fields map[string]string) {
	c.event(evDriverSetupChange, catSetup, setupChange{EventType: setupEventSetup, State: setupStateSetup})

	result := d.Setup(ctx, fields)
	if result == lifecycle.SetupComplete {
		c.event(evDriverSetupChange, catSetup, setupChange{EventType: setupEventStop, State: setupStateOK})
		return
	}
	c.event(evDriverSetupChange, catSetup, setupChange{
		EventType: setupEventStop,
		State:     setupStateError,
		Error:     string(result),
	})
}

func missing(requested, found []string) []string {
	var out []string
	for _, id := range requested {
		if !slices.Contains(found, id) {
			out = append(out, id)
		}
	}
	return out
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func describe(e *mediaplayer.Entity) entityPayload {
	return entityPayload{
		EntityID:    e.ID(),
		EntityType:  EntityType,
		DeviceClass: mediaplayer.DeviceClass,
		Name:        localized(e.Name()),
		Features:    e.Features(),
		Attributes:  e.Attributes().Fields(),
	}
}

func (s *Server) subscribe(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.subscribed[id] = struct{}{}
	}
}

func (s *Server) unsubscribe(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.subscribed, id)
	}
}

// Subscribed returns the entity ids hosts subscribed to, sorted.
func (s *Server) Subscribed() []string {
	s.mu.Lock()
	ids := make([]string, 0, len(s.subscribed))
	for id := range s.subscribed {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Strings(ids)
	return ids
}

func (s *Server) isSubscribed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.subscribed[id]
	return ok
}

// Connections returns the number of open host connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) broadcast(msg, cat string, data any) {
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.event(msg, cat, data)
	}
}

// EntityAvailable announces a new entity to every host.
func (s *Server) EntityAvailable(e *mediaplayer.Entity) {
	s.broadcast(evEntityAvailable, catEntity, describe(e))
}

// EntityRemoved announces an entity removal to every host.
func (s *Server) EntityRemoved(entityID string) {
	s.broadcast(evEntityRemoved, catEntity, entityPayload{EntityID: entityID, EntityType: EntityType})
}

// EntityAttributesChanged pushes new attributes of a subscribed entity.
func (s *Server) EntityAttributesChanged(entityID string, attrs mediaplayer.Attributes) {
	if !s.isSubscribed(entityID) {
		return
	}
	s.broadcast(evEntityChange, catEntity, entityPayload{
		EntityID:   entityID,
		EntityType: EntityType,
		Attributes: attrs.Fields(),
	})
}

// DeviceStateChanged pushes the integration state to every host.
func (s *Server) DeviceStateChanged(state lifecycle.DeviceState) {
	s.broadcast(evDeviceState, catDevice, deviceStateData{State: string(state)})
}

// Close disconnects every host and waits for the writers to exit.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	conns := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
	s.wg.Wait()
}
