package broadcast

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"foresight/internal/censor"
)

const maxFrameBytes = 4096

// frame is an inbound client message.
type frame struct {
	Type     string `json:"type"`
	Question string `json:"question,omitempty"`
}

// conn is one live session. A single writer goroutine owns all data writes;
// only the newest pending snapshot is ever sent.
type conn struct {
	ctx     context.Context
	hub     *Hub
	ws      *websocket.Conn
	id      string
	userID  string
	limiter *rate.Limiter

	mu         sync.Mutex
	pending    []byte
	presenting string

	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newConn(ctx context.Context, h *Hub, ws *websocket.Conn, id, userID string) *conn {
	return &conn{
		ctx:     context.WithoutCancel(ctx),
		hub:     h,
		ws:      ws,
		id:      id,
		userID:  userID,
		limiter: rate.NewLimiter(rate.Limit(h.cfg.FrameRate), h.cfg.FrameBurst),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

func (c *conn) sessionState() *censor.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &censor.SessionState{ID: c.id, Presenting: c.presenting}
}

// offer replaces any unsent snapshot with payload.
func (c *conn) offer(payload []byte) {
	c.mu.Lock()
	c.pending = payload
	c.mu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *conn) take() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.pending
	c.pending = nil
	return p
}

func (c *conn) writeLoop() {
	ticker := time.NewTicker(c.hub.cfg.PingInterval)
	defer ticker.Stop()
	var last []byte
	for {
		select {
		case <-c.done:
			return
		case <-c.wake:
			payload := c.take()
			if payload == nil {
				continue
			}
			if bytes.Equal(payload, last) {
				c.hub.metrics.SnapshotSkipped()
				continue
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.hub.logger.Info("ws_write_failed", "session", c.id, "error", err)
				c.shutdown(websocket.CloseAbnormalClosure, "")
				return
			}
			last = payload
			c.hub.metrics.SnapshotPushed(len(payload))
		case <-ticker.C:
			deadline := time.Now().Add(c.hub.cfg.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.hub.logger.Info("ws_ping_failed", "session", c.id, "error", err)
				c.shutdown(websocket.CloseAbnormalClosure, "")
				return
			}
		}
	}
}

// readLoop applies client frames until the peer goes away or stops
// answering pings.
func (c *conn) readLoop() {
	defer c.shutdown(websocket.CloseNormalClosure, "")
	c.ws.SetReadLimit(maxFrameBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.hub.cfg.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.hub.cfg.ReadTimeout))
	})
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		if !c.limiter.Allow() {
			c.hub.logger.Debug("ws_frame_limited", "session", c.id)
			continue
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.hub.logger.Debug("ws_frame_invalid", "session", c.id, "error", err)
			continue
		}
		c.apply(f)
	}
}

func (c *conn) apply(f frame) {
	switch f.Type {
	case "present":
		c.mu.Lock()
		changed := c.presenting != f.Question
		c.presenting = f.Question
		c.mu.Unlock()
		if changed {
			c.hub.push(c.ctx, []*conn{c})
		}
	case "refresh":
		c.hub.push(c.ctx, []*conn{c})
	default:
		c.hub.logger.Debug("ws_frame_unknown", "session", c.id, "type", f.Type)
	}
}

func (c *conn) shutdown(code int, text string) {
	c.closeOnce.Do(func() {
		close(c.done)
		c.hub.unregister(c)
		if code != websocket.CloseAbnormalClosure {
			deadline := time.Now().Add(c.hub.cfg.WriteTimeout)
			_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
		}
		_ = c.ws.Close()
	})
}
