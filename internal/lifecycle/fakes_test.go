// Copyright (c) 2025 mase1981
// Licensed under the PolyForm Noncommercial License 1.0.0

package lifecycle

import (
	"context"
	"errors"
	"sync"

	"github.com/mase1981/uc-intg-emby/internal/config"
	"github.com/mase1981/uc-intg-emby/internal/emby"
	"github.com/mase1981/uc-intg-emby/internal/mediaplayer"
)

// fakeServer is the state shared by every client the factory hands out.
type fakeServer struct {
	mu       sync.Mutex
	sessions []emby.Session
	testErr  error
	gate     chan struct{}
	tests    int
	created  []config.Settings
	closed   int
}

func (s *fakeServer) factory(settings config.Settings) Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, settings)
	return &fakeClient{srv: s, settings: settings}
}

func (s *fakeServer) setSessions(sessions ...emby.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = sessions
}

func (s *fakeServer) setTestErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.testErr = err
}

func (s *fakeServer) testCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tests
}

func (s *fakeServer) clientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.created)
}

type fakeClient struct {
	srv      *fakeServer
	settings config.Settings
}

func (c *fakeClient) TestConnection(ctx context.Context) (string, error) {
	c.srv.mu.Lock()
	c.srv.tests++
	gate := c.srv.gate
	c.srv.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	if c.srv.testErr != nil {
		return "", c.srv.testErr
	}
	return "Connected to Fake v1", nil
}

func (c *fakeClient) ListSessions(context.Context) ([]emby.Session, error) {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	return append([]emby.Session(nil), c.srv.sessions...), nil
}

func (c *fakeClient) GetSession(_ context.Context, id string) (*emby.Session, error) {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	for i := range c.srv.sessions {
		if c.srv.sessions[i].ID == id {
			s := c.srv.sessions[i]
			return &s, nil
		}
	}
	return nil, nil
}

func (c *fakeClient) SendCommand(context.Context, string, string, map[string]any) error { return nil }
func (c *fakeClient) PrimaryImageURL(itemID, tag string) string                         { return itemID + tag }

func (c *fakeClient) Close() {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	c.srv.closed++
}

type memStore struct {
	mu        sync.Mutex
	values    map[string]string
	updateErr error
	reloads   int
}

func newMemStore(values map[string]string) *memStore {
	if values == nil {
		values = map[string]string{}
	}
	return &memStore{values: values}
}

func configured() map[string]string {
	return map[string]string{
		config.KeyServerURL: "http://emby:8096",
		config.KeyAPIKey:    "key",
	}
}

func (m *memStore) IsConfigured() bool { return m.Settings().Valid() }

func (m *memStore) Settings() config.Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return config.Settings{
		ServerURL: m.values[config.KeyServerURL],
		APIKey:    m.values[config.KeyAPIKey],
		UserID:    m.values[config.KeyUserID],
	}
}

func (m *memStore) Update(fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	for k, v := range fields {
		m.values[k] = v
	}
	return nil
}

func (m *memStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values = map[string]string{}
	return nil
}

func (m *memStore) Reload() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reloads++
	return nil
}

type fakeHost struct {
	mu      sync.Mutex
	states  []DeviceState
	removed []string
	added   []string
}

func (h *fakeHost) EntityAvailable(e *mediaplayer.Entity) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.added = append(h.added, e.ID())
}

func (h *fakeHost) EntityRemoved(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removed = append(h.removed, id)
}

func (h *fakeHost) EntityAttributesChanged(string, mediaplayer.Attributes) {}

func (h *fakeHost) DeviceStateChanged(state DeviceState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.states = append(h.states, state)
}

func (h *fakeHost) deviceStates() []DeviceState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]DeviceState(nil), h.states...)
}

func (h *fakeHost) removedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.removed)
}

var errRefused = &emby.Error{Sentinel: emby.ErrUnavailable, Operation: "test_connection", Err: errors.New("connection refused")}
