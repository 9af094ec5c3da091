// Copyright (c) 2025 mase1981
// Licensed under the PolyForm Noncommercial License 1.0.0

package integration

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	xglog "github.com/mase1981/uc-intg-emby/internal/log"
	"github.com/mase1981/uc-intg-emby/internal/metrics"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	sendBuffer     = 64
)

// conn is one host connection. Messages are queued to a single writer
// goroutine; a connection that cannot keep up is closed.
type conn struct {
	id     string
	ws     *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	logger zerolog.Logger
}

func newConn(id string, ws *websocket.Conn, logger zerolog.Logger) *conn {
	return &conn{
		id:     id,
		ws:     ws,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		logger: logger.With().Str(xglog.FieldConnID, id).Logger(),
	}
}

// close stops the writer and closes the socket. It is idempotent.
func (c *conn) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// enqueue queues an encoded message without blocking.
func (c *conn) enqueue(msg string, v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error().Err(err).Str("msg", msg).Msg("failed to encode message")
		return false
	}
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		metrics.IncHostMessage("out", msg)
		return true
	default:
		c.logger.Warn().Str(xglog.FieldEvent, "host.slow_consumer").Str("msg", msg).Msg("send queue full, closing connection")
		c.close()
		return false
	}
}

func (c *conn) respond(reqID int64, code int, msg string, data any) {
	c.enqueue(msg, response{Kind: kindResponse, ReqID: reqID, Code: code, Msg: msg, MsgData: data})
}

func (c *conn) result(reqID int64, code int) {
	c.respond(reqID, code, msgResult, map[string]any{})
}

func (c *conn) event(msg, cat string, data any) {
	c.enqueue(msg, event{Kind: kindEvent, Msg: msg, Cat: cat, MsgData: data})
}

// writePump drains the send queue and keeps the connection alive with pings.
func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug().Err(err).Msg("write failed")
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.logger.Debug().Err(err).Msg("ping failed")
				return
			}
		}
	}
}
