package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"foresight/internal/censor"
	"foresight/internal/core"
	"foresight/internal/infra/persistence/memory"
	"foresight/pkg/domain"
)

const (
	testBuild  = "build-1"
	testConfig = "cfg-1"
)

// headerAuth trusts the X-Test-User header; "bad" simulates an invalid token.
type headerAuth struct{}

func (headerAuth) Authenticate(r *http.Request) (string, error) {
	user := r.Header.Get("X-Test-User")
	if user == "bad" {
		return "", domain.Unauthorized("session token invalid")
	}
	return user, nil
}

type countingMetrics struct {
	opened, closed, rejected, pushed, skipped atomic.Int32
}

func (m *countingMetrics) SessionOpened()           { m.opened.Add(1) }
func (m *countingMetrics) SessionClosed()           { m.closed.Add(1) }
func (m *countingMetrics) HandshakeRejected(string) { m.rejected.Add(1) }
func (m *countingMetrics) SnapshotPushed(int)       { m.pushed.Add(1) }
func (m *countingMetrics) SnapshotSkipped()         { m.skipped.Add(1) }

type harness struct {
	svc     *core.Service
	hub     *Hub
	srv     *httptest.Server
	metrics *countingMetrics
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	store := memory.NewStore(core.NewDefaultRulesEngine())
	queue := core.NewQueue(16)
	queue.Start()
	svc := core.NewService(store, queue, core.WithPasswordCost(bcrypt.MinCost))

	if cfg.Build == "" {
		cfg.Build = testBuild
	}
	if cfg.ConfigFingerprint == "" {
		cfg.ConfigFingerprint = testConfig
	}
	m := &countingMetrics{}
	hub := NewHub(svc, cfg, WithAuthenticator(headerAuth{}), WithMetrics(m))
	svc.AddCommitObserver(hub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		cancel()
		<-done
		srv.Close()
		stopCtx, stop := context.WithTimeout(context.Background(), time.Second)
		defer stop()
		_ = queue.Stop(stopCtx)
	})
	return &harness{svc: svc, hub: hub, srv: srv, metrics: m}
}

func (h *harness) dial(t *testing.T, build, config, user string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws?" + url.Values{"build": {build}, "config": {config}}.Encode()
	header := http.Header{}
	if user != "" {
		header.Set("X-Test-User", user)
	}
	ws, _, err := websocket.DefaultDialer.Dial(u, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func readState(t *testing.T, ws *websocket.Conn) censor.SentState {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	var state censor.SentState
	if err := json.Unmarshal(data, &state); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	return state
}

func expectClose(t *testing.T, ws *websocket.Conn, code int) {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err == nil {
		t.Fatalf("expected close %d, got data %q", code, data)
	}
	var ce *websocket.CloseError
	if !errors.As(err, &ce) || ce.Code != code {
		t.Fatalf("expected close code %d, got %v", code, err)
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestVersionMismatchClosesWith4001(t *testing.T) {
	h := newHarness(t, Config{})
	expectClose(t, h.dial(t, "old-build", testConfig, ""), CloseIncompatibleVersion)
	expectClose(t, h.dial(t, testBuild, "old-config", ""), CloseIncompatibleVersion)
	expectClose(t, h.dial(t, "", "", ""), CloseIncompatibleVersion)
	if h.metrics.rejected.Load() != 3 || h.hub.Sessions() != 0 {
		t.Fatalf("rejected=%d sessions=%d", h.metrics.rejected.Load(), h.hub.Sessions())
	}
}

func TestUnauthorizedClosesWith3000(t *testing.T) {
	h := newHarness(t, Config{RequireAuth: true})
	expectClose(t, h.dial(t, testBuild, testConfig, ""), CloseUnauthorized)

	open := newHarness(t, Config{})
	expectClose(t, open.dial(t, testBuild, testConfig, "bad"), CloseUnauthorized)
}

func TestTokenForMissingUserClosesWith3000(t *testing.T) {
	for _, required := range []bool{true, false} {
		h := newHarness(t, Config{RequireAuth: required})
		expectClose(t, h.dial(t, testBuild, testConfig, "user-not-in-store"), CloseUnauthorized)
		if h.hub.Sessions() != 0 || h.metrics.pushed.Load() != 0 {
			t.Fatalf("require=%t: sessions=%d pushed=%d", required, h.hub.Sessions(), h.metrics.pushed.Load())
		}
	}
}

func TestSnapshotPushedAfterCommit(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	user, err := h.svc.RegisterUser(ctx, core.RegisterInput{Nickname: "ann", Email: "ann@example.com", Password: "correct horse"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	ws := h.dial(t, testBuild, testConfig, user.ID)

	first := readState(t, ws)
	if first.ViewerID != user.ID || len(first.Rooms) != 0 || first.Session == nil {
		t.Fatalf("unexpected initial snapshot %+v", first)
	}

	room, err := h.svc.CreateRoom(ctx, domain.Viewer{UserID: user.ID}, core.RoomInput{Name: "Forecasts"})
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	next := readState(t, ws)
	if len(next.Rooms) != 1 || next.Rooms[0].ID != room.ID {
		t.Fatalf("room missing from pushed snapshot: %+v", next.Rooms)
	}
	if next.Session.ID != first.Session.ID {
		t.Fatalf("session id changed between pushes")
	}
}

func TestAnonymousSessionDoesNotSeePrivateRoom(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	owner, _ := h.svc.RegisterUser(ctx, core.RegisterInput{Nickname: "own", Email: "own@example.com", Password: "correct horse"})
	if _, err := h.svc.CreateRoom(ctx, domain.Viewer{UserID: owner.ID}, core.RoomInput{Name: "Private"}); err != nil {
		t.Fatalf("create room: %v", err)
	}
	state := readState(t, h.dial(t, testBuild, testConfig, ""))
	if len(state.Rooms) != 0 || len(state.Users) != 0 {
		t.Fatalf("anonymous viewer saw %+v", state)
	}
}

func TestIdenticalSnapshotIsSkipped(t *testing.T) {
	h := newHarness(t, Config{})
	ws := h.dial(t, testBuild, testConfig, "")
	readState(t, ws)
	h.hub.Refresh()
	eventually(t, "skipped push", func() bool { return h.metrics.skipped.Load() >= 1 })
	if h.metrics.pushed.Load() != 1 {
		t.Fatalf("expected exactly one delivered snapshot, got %d", h.metrics.pushed.Load())
	}
}

func TestPresentFrameUpdatesOwnSession(t *testing.T) {
	h := newHarness(t, Config{})
	ws := h.dial(t, testBuild, testConfig, "")
	readState(t, ws)
	if err := ws.WriteJSON(frame{Type: "present", Question: "q42"}); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	state := readState(t, ws)
	if state.Session == nil || state.Session.Presenting != "q42" {
		t.Fatalf("presenter state not echoed: %+v", state.Session)
	}
}

func TestServerPingsAndEvictsSilentPeer(t *testing.T) {
	h := newHarness(t, Config{PingInterval: 20 * time.Millisecond, ReadTimeout: 150 * time.Millisecond})
	ws := h.dial(t, testBuild, testConfig, "")
	readState(t, ws)

	var pings atomic.Int32
	ws.SetPingHandler(func(data string) error {
		pings.Add(1)
		return ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		_ = ws.SetReadDeadline(time.Now().Add(400 * time.Millisecond))
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()
	<-readDone
	if pings.Load() < 2 {
		t.Fatalf("expected periodic pings, got %d", pings.Load())
	}
	if h.hub.Sessions() != 1 {
		t.Fatalf("answering peer was evicted")
	}

	// The client stops reading, so pongs stop and the read deadline lapses.
	eventually(t, "eviction", func() bool { return h.hub.Sessions() == 0 })
	if h.metrics.closed.Load() != 1 {
		t.Fatalf("expected one closed session, got %d", h.metrics.closed.Load())
	}
}
