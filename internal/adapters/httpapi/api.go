// Package httpapi exposes the forecasting service over HTTP. Every mutating
// request runs as one update group; the commit observer schedules the live
// refresh before the response is written.
package httpapi

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"foresight/internal/core"
	"foresight/internal/export"
	"foresight/internal/session"
)

// Deps are the collaborators the API routes to.
type Deps struct {
	Service      *core.Service
	Sessions     *session.Manager
	Archiver     *export.Archiver
	Sync         http.Handler
	Metrics      http.Handler
	Logger       *slog.Logger
	CookieName   string
	SecureCookie bool
}

// API holds request handlers.
type API struct {
	svc          *core.Service
	sessions     *session.Manager
	archiver     *export.Archiver
	logger       *slog.Logger
	cookieName   string
	secureCookie bool
}

// New constructs the API without routes; see Handler.
func New(deps Deps) *API {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	cookie := deps.CookieName
	if cookie == "" {
		cookie = "foresight_session"
	}
	return &API{
		svc:          deps.Service,
		sessions:     deps.Sessions,
		archiver:     deps.Archiver,
		logger:       logger,
		cookieName:   cookie,
		secureCookie: deps.SecureCookie,
	}
}

// NewHandler builds the complete router.
func NewHandler(deps Deps) (*API, http.Handler) {
	a := New(deps)
	r := mux.NewRouter()
	r.HandleFunc("/up", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}).Methods(http.MethodGet)
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics).Methods(http.MethodGet)
	}
	if deps.Sync != nil {
		r.Handle("/ws", deps.Sync).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(a.withActor)
	a.registerUsers(api)
	a.registerRooms(api)
	a.registerQuestions(api)
	a.registerComments(api)
	if a.archiver != nil {
		a.registerExports(api)
	}
	api.HandleFunc("/state", a.state).Methods(http.MethodGet)
	api.HandleFunc("/plugins", a.plugins).Methods(http.MethodGet)
	return a, r
}

// state returns the caller's censored snapshot, the same document the
// websocket pushes.
func (a *API) state(w http.ResponseWriter, r *http.Request) {
	snap, err := a.svc.Snapshot(r.Context(), actorFrom(r.Context()))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *API) plugins(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"plugins": a.svc.RegisteredPlugins()})
}
