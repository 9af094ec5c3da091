// Copyright (c) 2025 mase1981
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/mase1981/uc-intg-emby/internal/config"
	"github.com/mase1981/uc-intg-emby/internal/log"
	"github.com/mase1981/uc-intg-emby/internal/mediaplayer"
)

const maxCommandBody = 64 << 10

// StatusResponse summarizes the integration.
type StatusResponse struct {
	Version         string   `json:"version"`
	State           string   `json:"state"`
	DeviceState     string   `json:"deviceState"`
	Configured      bool     `json:"configured"`
	ServerURL       string   `json:"serverUrl,omitempty"`
	APIKey          string   `json:"apiKey,omitempty"`
	UserID          string   `json:"userId,omitempty"`
	Reconciling     bool     `json:"reconciling"`
	Entities        int      `json:"entities"`
	HostConnections int      `json:"hostConnections"`
	Subscribed      []string `json:"subscribed"`
}

// EntityResponse is one registered media-player entity.
type EntityResponse struct {
	ID         string                `json:"id"`
	Name       string                `json:"name"`
	SessionID  string                `json:"sessionId"`
	Monitoring bool                  `json:"monitoring"`
	Features   []mediaplayer.Feature `json:"features"`
	Attributes map[string]any        `json:"attributes"`
}

// CommandRequest is the body of a command call. Field names follow the host
// protocol's entity_command message.
type CommandRequest struct {
	CmdID  string             `json:"cmd_id"`
	Params mediaplayer.Params `json:"params,omitempty"`
}

// CommandResponse echoes the host status code of a command.
type CommandResponse struct {
	EntityID string `json:"entityId"`
	CmdID    string `json:"cmdId"`
	Code     int    `json:"code"`
}

func entityResponse(e *mediaplayer.Entity) EntityResponse {
	return EntityResponse{
		ID:         e.ID(),
		Name:       e.Name(),
		SessionID:  e.SessionID(),
		Monitoring: e.Monitoring(),
		Features:   e.Features(),
		Attributes: e.Attributes().Fields(),
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctrl := s.deps.Controller
	settings := ctrl.Settings()

	resp := StatusResponse{
		Version:     s.deps.Version,
		State:       string(ctrl.State()),
		DeviceState: string(ctrl.DeviceState()),
		Configured:  settings.Valid(),
		ServerURL:   settings.ServerURL,
		UserID:      settings.UserID,
		Reconciling: ctrl.Reconciling(),
		Entities:    len(ctrl.Entities()),
		Subscribed:  []string{},
	}
	if settings.APIKey != "" {
		resp.APIKey = config.MaskKey(settings.APIKey)
	}
	if s.deps.Host != nil {
		resp.HostConnections = s.deps.Host.Connections()
		if ids := s.deps.Host.Subscribed(); ids != nil {
			resp.Subscribed = ids
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	entities := s.deps.Controller.Entities()
	out := make([]EntityResponse, 0, len(entities))
	for _, e := range entities {
		out = append(out, entityResponse(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	e, ok := s.deps.Controller.Lookup(chi.URLParam(r, "id"))
	if !ok {
		writeNotFound(w)
		return
	}
	writeJSON(w, http.StatusOK, entityResponse(e))
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	entityID := chi.URLParam(r, "id")

	var req CommandRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxCommandBody))
	if err := dec.Decode(&req); err != nil {
		writeError(w, errors.New("invalid command body"))
		return
	}
	if req.CmdID == "" {
		writeError(w, errors.New("cmd_id is required"))
		return
	}

	status := s.deps.Controller.HandleCommand(r.Context(), entityID, mediaplayer.Command(req.CmdID), req.Params)
	logger := log.WithComponentFromContext(r.Context(), "api")
	logger.Info().
		Str(log.FieldEvent, "api.command").
		Str(log.FieldEntityID, entityID).
		Str(log.FieldCommand, req.CmdID).
		Int("code", int(status)).
		Msg("operator command handled")

	writeJSON(w, int(status), CommandResponse{EntityID: entityID, CmdID: req.CmdID, Code: int(status)})
}
