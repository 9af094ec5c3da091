// Copyright (c) 2025 mase1981
// Licensed under the PolyForm Noncommercial License 1.0.0

package emby

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
)

// MockCommand is one command received by the MockServer.
type MockCommand struct {
	SessionID string
	Name      string
	Arguments map[string]any
}

// MockServer provides a configurable Emby mock server for testing.
type MockServer struct {
	*httptest.Server
	mu           sync.RWMutex
	apiKey       string
	serverName   string
	version      string
	sessions     []Session
	commands     []MockCommand
	failures     map[string]int // Number of 500 responses before success per endpoint
	requests     map[string]int
	queries      map[string]url.Values
	commandReply int
}

// NewMockServer creates a new Emby mock server that accepts the given API key.
func NewMockServer(apiKey string) *MockServer {
	mock := &MockServer{
		apiKey:       apiKey,
		serverName:   "Mock Emby",
		version:      "4.8.0.0",
		failures:     make(map[string]int),
		requests:     make(map[string]int),
		queries:      make(map[string]url.Values),
		commandReply: http.StatusNoContent,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/System/Info", mock.handleSystemInfo)
	mux.HandleFunc("/Sessions", mock.handleSessions)
	mux.HandleFunc("/Sessions/", mock.handleCommand)

	mock.Server = httptest.NewServer(mux)
	return mock
}

// SetSessions replaces the session list returned by /Sessions.
func (m *MockServer) SetSessions(sessions ...Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = append([]Session(nil), sessions...)
}

// SetFailures makes the next n requests to endpoint answer 500.
func (m *MockServer) SetFailures(endpoint string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[endpoint] = n
}

// SetCommandStatus sets the HTTP status returned for commands.
func (m *MockServer) SetCommandStatus(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commandReply = status
}

// Commands returns the commands received so far.
func (m *MockServer) Commands() []MockCommand {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]MockCommand(nil), m.commands...)
}

// Requests returns how many requests reached the endpoint.
func (m *MockServer) Requests(endpoint string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requests[endpoint]
}

// LastQuery returns the query of the latest request to the endpoint.
func (m *MockServer) LastQuery(endpoint string) url.Values {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.queries[endpoint]
}

func (m *MockServer) authorize(w http.ResponseWriter, r *http.Request, endpoint string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[endpoint]++
	m.queries[endpoint] = r.URL.Query()

	key := r.URL.Query().Get("api_key")
	if key == "" {
		key = r.Header.Get("X-Emby-Token")
	}
	if key != m.apiKey {
		http.Error(w, "Access token is invalid or expired.", http.StatusUnauthorized)
		return false
	}
	if m.failures[endpoint] > 0 {
		m.failures[endpoint]--
		http.Error(w, "internal error", http.StatusInternalServerError)
		return false
	}
	return true
}

func (m *MockServer) handleSystemInfo(w http.ResponseWriter, r *http.Request) {
	if !m.authorize(w, r, "/System/Info") {
		return
	}
	m.mu.RLock()
	info := SystemInfo{ID: "mock", ServerName: m.serverName, Version: m.version}
	m.mu.RUnlock()
	writeJSON(w, info)
}

func (m *MockServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	if !m.authorize(w, r, "/Sessions") {
		return
	}
	m.mu.RLock()
	sessions := append([]Session{}, m.sessions...)
	m.mu.RUnlock()
	writeJSON(w, sessions)
}

func (m *MockServer) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !m.authorize(w, r, "/Sessions/{id}/Command") {
		return
	}

	// /Sessions/{id}/Command[/{name}]
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 3 || parts[2] != "Command" {
		http.NotFound(w, r)
		return
	}
	cmd := MockCommand{SessionID: parts[1]}
	if len(parts) == 4 {
		cmd.Name = parts[3]
	} else {
		var payload struct {
			Name      string         `json:"Name"`
			Arguments map[string]any `json:"Arguments"`
		}
		data, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(data, &payload); err != nil {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		cmd.Name = payload.Name
		cmd.Arguments = payload.Arguments
	}

	m.mu.Lock()
	m.commands = append(m.commands, cmd)
	status := m.commandReply
	m.mu.Unlock()
	w.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
