// Copyright (c) 2025 mase1981
// Licensed under the PolyForm Noncommercial License 1.0.0

package mediaplayer

import (
	"context"
	"errors"
	"sync"

	"github.com/mase1981/uc-intg-emby/internal/emby"
)

type sentCommand struct {
	SessionID string
	Name      string
	Args      map[string]any
}

type fakeClient struct {
	mu       sync.Mutex
	session  *emby.Session
	getErr   error
	sendErr  error
	gets     int
	sent     []sentCommand
	blockGet chan struct{}
	panicGet bool
}

func (f *fakeClient) GetSession(ctx context.Context, id string) (*emby.Session, error) {
	f.mu.Lock()
	f.gets++
	block := f.blockGet
	shouldPanic := f.panicGet
	f.mu.Unlock()

	if shouldPanic {
		panic("boom")
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.session == nil || f.session.ID != id {
		return nil, nil
	}
	s := *f.session
	return &s, nil
}

func (f *fakeClient) SendCommand(_ context.Context, sessionID, name string, args map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentCommand{SessionID: sessionID, Name: name, Args: args})
	return f.sendErr
}

func (f *fakeClient) PrimaryImageURL(itemID, tag string) string {
	return "http://emby/Items/" + itemID + "/Images/Primary?tag=" + tag
}

func (f *fakeClient) setSession(s *emby.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.session = s
}

func (f *fakeClient) setGetErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getErr = err
}

func (f *fakeClient) getCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets
}

func (f *fakeClient) sentCommands() []sentCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentCommand(nil), f.sent...)
}

type attrChange struct {
	ID    string
	Attrs Attributes
}

type fakeHost struct {
	mu        sync.Mutex
	available []string
	removed   []string
	changes   []attrChange
}

func (h *fakeHost) EntityAvailable(e *Entity) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.available = append(h.available, e.ID())
}

func (h *fakeHost) EntityRemoved(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removed = append(h.removed, id)
}

func (h *fakeHost) EntityAttributesChanged(id string, attrs Attributes) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.changes = append(h.changes, attrChange{ID: id, Attrs: attrs})
}

func (h *fakeHost) changeCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.changes)
}

func (h *fakeHost) lastChange() attrChange {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.changes[len(h.changes)-1]
}

var errTransport = errors.New("transport down")

func intPtr(v int) *int { return &v }
