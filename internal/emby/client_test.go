// Copyright (c) 2025 mase1981
// Licensed under the PolyForm Noncommercial License 1.0.0

package emby

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0123456789abcdef0123456789abcdef"

func newTestClient(t *testing.T, mock *MockServer, userID string) *Client {
	t.Helper()
	c := NewClientWithOptions(mock.URL, testKey, userID, Options{
		Timeout:    2 * time.Second,
		MaxRetries: 2,
		Backoff:    time.Millisecond,
		MaxBackoff: 5 * time.Millisecond,
	})
	t.Cleanup(c.Close)
	return c
}

func TestClient_TestConnection(t *testing.T) {
	mock := NewMockServer(testKey)
	defer mock.Close()

	msg, err := newTestClient(t, mock, "").TestConnection(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Connected to Mock Emby v4.8.0.0", msg)
}

func TestClient_TestConnection_Unauthorized(t *testing.T) {
	mock := NewMockServer(testKey)
	defer mock.Close()

	c := NewClientWithOptions(mock.URL, "wrong", "", Options{Timeout: time.Second})
	defer c.Close()

	_, err := c.TestConnection(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)

	var embyErr *Error
	require.True(t, errors.As(err, &embyErr))
	assert.Equal(t, http.StatusUnauthorized, embyErr.Status)
	assert.Equal(t, "test_connection", embyErr.Operation)
}

func TestClient_TestConnection_Unreachable(t *testing.T) {
	mock := NewMockServer(testKey)
	url := mock.URL
	mock.Close()

	c := NewClientWithOptions(url, testKey, "", Options{Timeout: time.Second, MaxRetries: -1})
	defer c.Close()

	_, err := c.TestConnection(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestClient_ListSessions_RetriesServerErrors(t *testing.T) {
	mock := NewMockServer(testKey)
	defer mock.Close()
	mock.SetSessions(Session{ID: "s1", Client: "Emby Web", DeviceName: "Chrome"})
	mock.SetFailures("/Sessions", 2)

	sessions, err := newTestClient(t, mock, "").ListSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "s1", sessions[0].ID)
	assert.Equal(t, 3, mock.Requests("/Sessions"))
}

func TestClient_ListSessions_GivesUpAfterRetries(t *testing.T) {
	mock := NewMockServer(testKey)
	defer mock.Close()
	mock.SetFailures("/Sessions", 10)

	_, err := newTestClient(t, mock, "").ListSessions(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestClient_ListSessions_ScopedByUser(t *testing.T) {
	mock := NewMockServer(testKey)
	defer mock.Close()

	_, err := newTestClient(t, mock, "user-7").ListSessions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "user-7", mock.LastQuery("/Sessions").Get("ControllableByUserId"))
	assert.Equal(t, testKey, mock.LastQuery("/Sessions").Get("api_key"))
}

func TestClient_GetSession(t *testing.T) {
	mock := NewMockServer(testKey)
	defer mock.Close()
	mock.SetSessions(Session{ID: "a"}, Session{ID: "b", DeviceName: "TV"})
	c := newTestClient(t, mock, "")

	s, err := c.GetSession(context.Background(), "b")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "TV", s.DeviceName)

	missing, err := c.GetSession(context.Background(), "zzz")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestClient_SendCommand(t *testing.T) {
	mock := NewMockServer(testKey)
	defer mock.Close()
	c := newTestClient(t, mock, "")

	require.NoError(t, c.SendCommand(context.Background(), "s1", "PlayPause", nil))
	require.NoError(t, c.SendCommand(context.Background(), "s1", "Seek", map[string]any{"SeekPositionTicks": 600000000}))

	cmds := mock.Commands()
	require.Len(t, cmds, 2)
	assert.Equal(t, MockCommand{SessionID: "s1", Name: "PlayPause"}, cmds[0])
	assert.Equal(t, "Seek", cmds[1].Name)
	assert.EqualValues(t, 600000000, cmds[1].Arguments["SeekPositionTicks"])
}

func TestClient_SendCommand_NotRetried(t *testing.T) {
	mock := NewMockServer(testKey)
	defer mock.Close()
	mock.SetFailures("/Sessions/{id}/Command", 1)

	err := newTestClient(t, mock, "").SendCommand(context.Background(), "s1", "Stop", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstream)
	assert.Equal(t, 1, mock.Requests("/Sessions/{id}/Command"))
}

func TestClient_SendCommand_Rejected(t *testing.T) {
	mock := NewMockServer(testKey)
	defer mock.Close()
	mock.SetCommandStatus(http.StatusBadRequest)

	err := newTestClient(t, mock, "").SendCommand(context.Background(), "s1", "Stop", nil)
	assert.ErrorIs(t, err, ErrRejected)
}

func TestClient_PrimaryImageURL(t *testing.T) {
	c := NewClient("http://emby.local:8096/", testKey, "")
	defer c.Close()

	got := c.PrimaryImageURL("item42", "abc")
	assert.True(t, strings.HasPrefix(got, "http://emby.local:8096/Items/item42/Images/Primary?"), got)
	assert.Contains(t, got, "tag=abc")
	assert.Contains(t, got, "api_key="+testKey)
	assert.Equal(t, "http://emby.local:8096", c.ServerURL())
}

func TestClient_CircuitOpensOnRepeatedFailures(t *testing.T) {
	mock := NewMockServer(testKey)
	url := mock.URL
	mock.Close()

	c := NewClientWithOptions(url, testKey, "", Options{
		Timeout:          200 * time.Millisecond,
		MaxRetries:       -1,
		BreakerThreshold: 2,
		BreakerReset:     time.Hour,
	})
	defer c.Close()

	for i := 0; i < 2; i++ {
		_, err := c.ListSessions(context.Background())
		require.ErrorIs(t, err, ErrUnavailable)
	}
	assert.Equal(t, StateOpen, c.BreakerState())

	_, err := c.ListSessions(context.Background())
	assert.ErrorIs(t, err, ErrCircuitOpen)
}
