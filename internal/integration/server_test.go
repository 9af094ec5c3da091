// Copyright (c) 2025 mase1981
// Licensed under the PolyForm Noncommercial License 1.0.0

package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mase1981/uc-intg-emby/internal/config"
	"github.com/mase1981/uc-intg-emby/internal/emby"
	"github.com/mase1981/uc-intg-emby/internal/lifecycle"
	"github.com/mase1981/uc-intg-emby/internal/mediaplayer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type nopClient struct{}

func (nopClient) GetSession(context.Context, string) (*emby.Session, error) { return nil, nil }
func (nopClient) SendCommand(context.Context, string, string, map[string]any) error {
	return nil
}
func (nopClient) PrimaryImageURL(itemID, tag string) string { return itemID + "/" + tag }

type fakeDriver struct {
	mu          sync.Mutex
	entities    []*mediaplayer.Entity
	state       lifecycle.DeviceState
	setupResult lifecycle.SetupResult
	settings    config.Settings
	connects    int
	subscribed  [][]string
	commands    []entityCommand
	setups      []map[string]string
	status      mediaplayer.Status
}

func (d *fakeDriver) OnConnect(context.Context) lifecycle.DeviceState {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connects++
	return d.state
}

func (d *fakeDriver) OnSubscribe(_ context.Context, ids []string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscribed = append(d.subscribed, ids)
	var found []string
	for _, id := range ids {
		for _, e := range d.entities {
			if e.ID() == id {
				found = append(found, id)
			}
		}
	}
	return found
}

func (d *fakeDriver) connectCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connects
}

func (d *fakeDriver) setStatus(st mediaplayer.Status) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status = st
}

func (d *fakeDriver) setSetupResult(r lifecycle.SetupResult) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.setupResult = r
}

func (d *fakeDriver) lastSetup() map[string]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.setups) == 0 {
		return nil
	}
	return d.setups[len(d.setups)-1]
}

func (d *fakeDriver) OnUnsubscribe(ids []string) []string { return ids }

func (d *fakeDriver) HandleCommand(_ context.Context, id string, cmd mediaplayer.Command, params mediaplayer.Params) mediaplayer.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commands = append(d.commands, entityCommand{EntityID: id, CmdID: string(cmd), Params: params})
	return d.status
}

func (d *fakeDriver) Setup(_ context.Context, fields map[string]string) lifecycle.SetupResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.setups = append(d.setups, fields)
	return d.setupResult
}

func (d *fakeDriver) DeviceState() lifecycle.DeviceState { return d.state }
func (d *fakeDriver) Settings() config.Settings          { return d.settings }

func (d *fakeDriver) Entities() []*mediaplayer.Entity {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*mediaplayer.Entity(nil), d.entities...)
}

func (d *fakeDriver) Lookup(id string) (*mediaplayer.Entity, bool) {
	for _, e := range d.Entities() {
		if e.ID() == id {
			return e, true
		}
	}
	return nil, false
}

func newEntity(t *testing.T, id, client, device string) *mediaplayer.Entity {
	t.Helper()
	s := emby.Session{ID: id, Client: client, DeviceName: device, SupportedCommands: []string{"VolumeUp"}}
	e := mediaplayer.NewEntity(s, nopClient{}, nil, nil, mediaplayer.Options{})
	t.Cleanup(e.Dispose)
	return e
}

type harness struct {
	srv    *Server
	driver *fakeDriver
	ws     *websocket.Conn
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	driver := &fakeDriver{
		state:       lifecycle.DeviceConnected,
		setupResult: lifecycle.SetupComplete,
		status:      mediaplayer.StatusOK,
		entities:    []*mediaplayer.Entity{newEntity(t, "s1", "Emby Web", "Chrome")},
	}
	srv := NewServer(Info{Name: "Emby Integration", Version: "1.2.3"})
	srv.Attach(driver)
	ts := httptest.NewServer(srv)

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = ws.Close()
		srv.Close()
		ts.Close()
	})

	h := &harness{srv: srv, driver: driver, ws: ws}
	auth := h.read(t)
	require.Equal(t, "authentication", auth["msg"])
	return h
}

func (h *harness) send(t *testing.T, v any) {
	t.Helper()
	require.NoError(t, h.ws.WriteJSON(v))
}

func (h *harness) read(t *testing.T) map[string]any {
	t.Helper()
	require.NoError(t, h.ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := h.ws.ReadMessage()
	require.NoError(t, err)
	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func (h *harness) request(t *testing.T, id int, msg string, data any) map[string]any {
	t.Helper()
	h.send(t, map[string]any{"kind": "req", "id": id, "msg": msg, "msg_data": data})
	return h.read(t)
}

func TestDriverVersion(t *testing.T) {
	h := newHarness(t)
	resp := h.request(t, 1, "get_driver_version", nil)

	assert.Equal(t, "resp", resp["kind"])
	assert.EqualValues(t, 1, resp["req_id"])
	assert.EqualValues(t, 200, resp["code"])
	data := resp["msg_data"].(map[string]any)
	assert.Equal(t, "Emby Integration", data["name"])
	assert.Equal(t, "1.2.3", data["version"].(map[string]any)["driver"])
}

func TestConnectEventReportsDeviceState(t *testing.T) {
	h := newHarness(t)
	h.send(t, map[string]any{"kind": "event", "msg": "connect"})

	ev := h.read(t)
	assert.Equal(t, "device_state", ev["msg"])
	assert.Equal(t, "DEVICE", ev["cat"])
	assert.Equal(t, "CONNECTED", ev["msg_data"].(map[string]any)["state"])
	assert.Equal(t, 1, h.driver.connectCount())
}

func TestAvailableEntities(t *testing.T) {
	h := newHarness(t)
	resp := h.request(t, 2, "get_available_entities", nil)

	list := resp["msg_data"].(map[string]any)["available_entities"].([]any)
	require.Len(t, list, 1)
	ent := list[0].(map[string]any)
	assert.Equal(t, "emby_s1", ent["entity_id"])
	assert.Equal(t, "media_player", ent["entity_type"])
	assert.Equal(t, "STREAMING_BOX", ent["device_class"])
	assert.Equal(t, map[string]any{"en": "Emby Web (Chrome)"}, ent["name"])
	assert.Contains(t, ent["features"], "volume")
}

func TestSubscribeFiltersPushes(t *testing.T) {
	h := newHarness(t)
	resp := h.request(t, 3, "subscribe_events", map[string]any{"entity_ids": []string{"emby_s1", "emby_gone"}})
	assert.EqualValues(t, 200, resp["code"])
	assert.Equal(t, []string{"emby_s1"}, h.srv.Subscribed())

	attrs := mediaplayer.Attributes{State: mediaplayer.StatePlaying, Title: "Heat"}
	h.srv.EntityAttributesChanged("emby_other", attrs)
	h.srv.EntityAttributesChanged("emby_s1", attrs)

	ev := h.read(t)
	assert.Equal(t, "entity_change", ev["msg"])
	data := ev["msg_data"].(map[string]any)
	assert.Equal(t, "emby_s1", data["entity_id"])
	assert.Equal(t, "Heat", data["attributes"].(map[string]any)["media_title"])

	states := h.request(t, 4, "get_entity_states", nil)
	require.Len(t, states["msg_data"].([]any), 1)

	resp = h.request(t, 5, "unsubscribe_events", map[string]any{"entity_ids": []string{"emby_s1"}})
	assert.EqualValues(t, 200, resp["code"])
	assert.Empty(t, h.srv.Subscribed())
}

func TestEntityCommand(t *testing.T) {
	h := newHarness(t)
	h.driver.setStatus(mediaplayer.StatusNotImplemented)

	resp := h.request(t, 6, "entity_command", map[string]any{
		"entity_type": "media_player",
		"entity_id":   "emby_s1",
		"cmd_id":      "seek",
		"params":      map[string]any{"media_position": 90},
	})
	assert.Equal(t, "result", resp["msg"])
	assert.EqualValues(t, 501, resp["code"])

	h.driver.mu.Lock()
	defer h.driver.mu.Unlock()
	require.Len(t, h.driver.commands, 1)
	assert.Equal(t, "seek", h.driver.commands[0].CmdID)
	assert.EqualValues(t, 90, h.driver.commands[0].Params["media_position"])
}

func TestEntityCommand_BadRequest(t *testing.T) {
	h := newHarness(t)
	resp := h.request(t, 7, "entity_command", map[string]any{"entity_id": "emby_s1"})
	assert.EqualValues(t, 400, resp["code"])

	resp = h.request(t, 8, "entity_command", map[string]any{"entity_type": "light", "entity_id": "emby_s1", "cmd_id": "on"})
	assert.EqualValues(t, 400, resp["code"])
}

func TestSetupDriver_RequestsInput(t *testing.T) {
	h := newHarness(t)
	resp := h.request(t, 9, "setup_driver", map[string]any{"reconfigure": false})
	assert.EqualValues(t, 200, resp["code"])

	ev := h.read(t)
	assert.Equal(t, "driver_setup_change", ev["msg"])
	data := ev["msg_data"].(map[string]any)
	assert.Equal(t, "WAIT_USER_ACTION", data["state"])
	input := data["require_user_action"].(map[string]any)["input"].(map[string]any)
	assert.Equal(t, map[string]any{"en": "Emby Server Configuration"}, input["title"])
	settings := input["settings"].([]any)
	require.Len(t, settings, 3)
	url := settings[0].(map[string]any)
	assert.Equal(t, "server_url", url["id"])
	assert.Equal(t, "http://", url["field"].(map[string]any)["text"].(map[string]any)["value"])
}

func TestSetupDriver_WithData(t *testing.T) {
	h := newHarness(t)
	resp := h.request(t, 10, "setup_driver", map[string]any{
		"setup_data": map[string]string{"server_url": "http://emby", "api_key": "k"},
	})
	assert.EqualValues(t, 200, resp["code"])

	assert.Equal(t, "SETUP", h.read(t)["msg_data"].(map[string]any)["state"])
	done := h.read(t)["msg_data"].(map[string]any)
	assert.Equal(t, "STOP", done["event_type"])
	assert.Equal(t, "OK", done["state"])
	assert.Equal(t, "k", h.driver.lastSetup()["api_key"])
}

func TestSetDriverUserData_Failure(t *testing.T) {
	h := newHarness(t)
	h.driver.setSetupResult(lifecycle.SetupConnectionRefused)

	resp := h.request(t, 11, "set_driver_user_data", map[string]any{
		"input_values": map[string]string{"server_url": "http://emby", "api_key": "k"},
	})
	assert.EqualValues(t, 200, resp["code"])

	h.read(t)
	done := h.read(t)["msg_data"].(map[string]any)
	assert.Equal(t, "ERROR", done["state"])
	assert.Equal(t, "CONNECTION_REFUSED", done["error"])
}

func TestAbortDriverSetup(t *testing.T) {
	h := newHarness(t)
	h.request(t, 12, "abort_driver_setup", map[string]any{"error": "USER_ABORT"})

	done := h.read(t)["msg_data"].(map[string]any)
	assert.Equal(t, "STOP", done["event_type"])
	assert.Equal(t, "USER_ABORT", done["error"])
}

func TestBroadcastsToHosts(t *testing.T) {
	h := newHarness(t)
	require.Eventually(t, func() bool { return h.srv.Connections() == 1 }, time.Second, 5*time.Millisecond)

	h.srv.DeviceStateChanged(lifecycle.DeviceConnecting)
	assert.Equal(t, "CONNECTING", h.read(t)["msg_data"].(map[string]any)["state"])

	h.srv.EntityAvailable(h.driver.entities[0])
	assert.Equal(t, "entity_available", h.read(t)["msg"])

	h.srv.EntityRemoved("emby_s1")
	ev := h.read(t)
	assert.Equal(t, "entity_removed", ev["msg"])
	assert.Equal(t, "emby_s1", ev["msg_data"].(map[string]any)["entity_id"])
}

func TestCloseDisconnectsHosts(t *testing.T) {
	h := newHarness(t)
	h.srv.Close()

	require.NoError(t, h.ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := h.ws.ReadMessage()
	assert.Error(t, err)
}

func TestServeWithoutDriver(t *testing.T) {
	srv := NewServer(Info{Name: "x"})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
