// Package broadcast keeps live websocket sessions in sync with the entity
// store. Every committed update group triggers a refresh that recomputes the
// censored snapshot of each session and pushes it whole.
package broadcast

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"foresight/internal/censor"
	"foresight/internal/core"
	"foresight/internal/platform/timeouts"
	"foresight/pkg/domain"
)

// Close codes sent when a handshake is refused.
const (
	CloseUnauthorized        = 3000
	CloseIncompatibleVersion = 4001
)

// SnapshotSource computes censored state. Snapshots must read one
// consistent state for all viewers.
type SnapshotSource interface {
	Viewer(ctx context.Context, userID string) domain.Viewer
	Snapshots(ctx context.Context, viewers []domain.Viewer) ([]censor.SentState, error)
}

// Authenticator resolves the user behind a handshake request. It returns an
// empty ID and no error when the request carries no credentials.
type Authenticator interface {
	Authenticate(r *http.Request) (userID string, err error)
}

// Metrics receives connection and push measurements.
type Metrics interface {
	SessionOpened()
	SessionClosed()
	HandshakeRejected(reason string)
	SnapshotPushed(bytes int)
	SnapshotSkipped()
}

type noopMetrics struct{}

func (noopMetrics) SessionOpened()           {}
func (noopMetrics) SessionClosed()           {}
func (noopMetrics) HandshakeRejected(string) {}
func (noopMetrics) SnapshotPushed(int)       {}
func (noopMetrics) SnapshotSkipped()         {}

// Config holds the handshake fingerprints and keepalive timings.
type Config struct {
	Build             string
	ConfigFingerprint string
	RequireAuth       bool
	PingInterval      time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	FrameRate         float64
	FrameBurst        int
	CheckOrigin       func(r *http.Request) bool
}

func (c Config) withDefaults() Config {
	if c.PingInterval <= 0 {
		c.PingInterval = 15 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.FrameRate <= 0 {
		c.FrameRate = 10
	}
	if c.FrameBurst <= 0 {
		c.FrameBurst = 20
	}
	return c
}

// Hub is the session registry. It implements core.CommitObserver and
// http.Handler.
type Hub struct {
	source   SnapshotSource
	auth     Authenticator
	cfg      Config
	upgrader websocket.Upgrader
	logger   *slog.Logger
	metrics  Metrics

	mu       sync.Mutex
	sessions map[string]*conn
	closed   bool

	// pushMu keeps offers in the order snapshots were computed.
	pushMu sync.Mutex
	wake   chan struct{}
}

// Option customises a Hub.
type Option func(*Hub)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m Metrics) Option {
	return func(h *Hub) {
		if m != nil {
			h.metrics = m
		}
	}
}

// WithAuthenticator sets how handshake requests are identified.
func WithAuthenticator(a Authenticator) Option {
	return func(h *Hub) { h.auth = a }
}

// NewHub constructs a hub over source.
func NewHub(source SnapshotSource, cfg Config, opts ...Option) *Hub {
	cfg = cfg.withDefaults()
	h := &Hub{
		source:   source,
		cfg:      cfg,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics:  noopMetrics{},
		sessions: make(map[string]*conn),
		wake:     make(chan struct{}, 1),
	}
	h.upgrader = websocket.Upgrader{
		HandshakeTimeout: timeouts.WSHandshake,
		CheckOrigin:      cfg.CheckOrigin,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// OnCommit schedules a refresh of every live session.
func (h *Hub) OnCommit(_ context.Context, _ core.CommitEvent) { h.Refresh() }

// Refresh asks the run loop for a new pass. Requests arriving while a pass
// is pending collapse into it; a request made during a pass causes another.
func (h *Hub) Refresh() {
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// Run recomputes and pushes snapshots until ctx ends, then closes every
// session.
func (h *Hub) Run(ctx context.Context) {
	defer h.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.wake:
			h.refreshAll(ctx)
		}
	}
}

// Sessions returns the number of live sessions.
func (h *Hub) Sessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Close ends every session with a going-away close frame.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	sessions := make([]*conn, 0, len(h.sessions))
	for _, c := range h.sessions {
		sessions = append(sessions, c)
	}
	h.mu.Unlock()
	for _, c := range sessions {
		c.shutdown(websocket.CloseGoingAway, "server shutting down")
	}
}

func (h *Hub) snapshotSessions() []*conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*conn, 0, len(h.sessions))
	for _, c := range h.sessions {
		out = append(out, c)
	}
	return out
}

func (h *Hub) refreshAll(ctx context.Context) {
	h.push(ctx, h.snapshotSessions())
}

// push computes snapshots for sessions in one queue turn and hands each to
// its writer.
func (h *Hub) push(ctx context.Context, sessions []*conn) {
	if len(sessions) == 0 {
		return
	}
	h.pushMu.Lock()
	defer h.pushMu.Unlock()
	viewers := make([]domain.Viewer, len(sessions))
	for i, c := range sessions {
		viewers[i] = h.source.Viewer(ctx, c.userID)
	}
	states, err := h.source.Snapshots(ctx, viewers)
	if err != nil {
		h.logger.Warn("ws_refresh_failed", "sessions", len(sessions), "error", err)
		return
	}
	total := 0
	for i, c := range sessions {
		state := states[i]
		state.Session = c.sessionState()
		payload, err := json.Marshal(state)
		if err != nil {
			h.logger.Error("ws_encode_failed", "session", c.id, "error", err)
			continue
		}
		total += len(payload)
		c.offer(payload)
	}
	h.logger.Debug("ws_refresh", "sessions", len(sessions), "bytes", humanize.Bytes(uint64(total)))
}

func (h *Hub) register(c *conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.sessions[c.id] = c
	h.metrics.SessionOpened()
	return true
}

func (h *Hub) unregister(c *conn) {
	h.mu.Lock()
	_, ok := h.sessions[c.id]
	delete(h.sessions, c.id)
	h.mu.Unlock()
	if ok {
		h.metrics.SessionClosed()
		h.logger.Info("ws_closed", "session", c.id, "user", c.userID)
	}
}

// ServeHTTP upgrades the request, checks the handshake and registers the
// session. Refused handshakes receive a close frame and no data.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("ws_upgrade_failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	q := r.URL.Query()
	if q.Get("build") != h.cfg.Build || q.Get("config") != h.cfg.ConfigFingerprint {
		h.reject(ws, CloseIncompatibleVersion, "incompatible version", "version")
		return
	}
	var userID string
	if h.auth != nil {
		userID, err = h.auth.Authenticate(r)
		if err != nil {
			h.reject(ws, CloseUnauthorized, "unauthorized", "unauthorized")
			return
		}
	}
	if h.cfg.RequireAuth && userID == "" {
		h.reject(ws, CloseUnauthorized, "unauthorized", "unauthorized")
		return
	}
	if userID != "" && h.source.Viewer(r.Context(), userID).Anonymous() {
		h.reject(ws, CloseUnauthorized, "unknown user", "unknown_user")
		return
	}

	c := newConn(r.Context(), h, ws, uuid.NewString(), userID)
	if !h.register(c) {
		h.reject(ws, websocket.CloseGoingAway, "server shutting down", "closed")
		return
	}
	h.logger.Info("ws_connected", "session", c.id, "user", userID, "remote", r.RemoteAddr)
	go c.writeLoop()
	h.push(r.Context(), []*conn{c})
	c.readLoop()
}

func (h *Hub) reject(ws *websocket.Conn, code int, text, reason string) {
	h.metrics.HandshakeRejected(reason)
	h.logger.Info("ws_rejected", "reason", reason, "code", code)
	deadline := time.Now().Add(h.cfg.WriteTimeout)
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
	_ = ws.Close()
}
