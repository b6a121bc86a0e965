package httpapi

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
)

func (a *API) registerExports(r *mux.Router) {
	r.HandleFunc("/rooms/{room}/export.csv", a.streamExport).Methods(http.MethodGet)
	r.HandleFunc("/rooms/{room}/archives", a.createArchive).Methods(http.MethodPost)
	r.HandleFunc("/rooms/{room}/archives", a.listArchives).Methods(http.MethodGet)
	r.HandleFunc("/rooms/{room}/archives/{name}", a.downloadArchive).Methods(http.MethodGet)
	r.HandleFunc("/rooms/{room}/archives/{name}", a.deleteArchive).Methods(http.MethodDelete)
}

// streamExport checks permission before the first byte so failures still
// get a proper status.
func (a *API) streamExport(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["room"]
	actor := actorFrom(r.Context())
	if err := a.svc.AuthorizeExport(r.Context(), actor, roomID); err != nil {
		a.fail(w, r, err)
		return
	}
	filename := fmt.Sprintf("%s-%s.csv", roomID, time.Now().UTC().Format("20060102T150405Z"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if err := a.archiver.Stream(r.Context(), actor, roomID, w); err != nil {
		a.logger.Warn("export_stream_failed", "room", roomID, "error", err)
	}
}

func (a *API) createArchive(w http.ResponseWriter, r *http.Request) {
	archive, err := a.archiver.Create(r.Context(), actorFrom(r.Context()), mux.Vars(r)["room"])
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, archive)
}

func (a *API) listArchives(w http.ResponseWriter, r *http.Request) {
	archives, err := a.archiver.List(r.Context(), actorFrom(r.Context()), mux.Vars(r)["room"])
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"archives": archives})
}

func (a *API) downloadArchive(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	archive, body, err := a.archiver.Open(r.Context(), actorFrom(r.Context()), vars["room"], vars["name"])
	if err != nil {
		a.fail(w, r, err)
		return
	}
	defer body.Close()
	if archive.ContentType != "" {
		w.Header().Set("Content-Type", archive.ContentType)
	}
	if archive.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(archive.Size, 10))
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", vars["name"]))
	if _, err := io.Copy(w, body); err != nil {
		a.logger.Warn("archive_download_failed", "room", vars["room"], "name", vars["name"], "error", err)
	}
}

func (a *API) deleteArchive(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := a.archiver.Delete(r.Context(), actorFrom(r.Context()), vars["room"], vars["name"]); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
