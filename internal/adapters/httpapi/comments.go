package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"foresight/internal/core"
	"foresight/pkg/domain"
)

func (a *API) registerComments(r *mux.Router) {
	r.HandleFunc("/rooms/{id}/comments", a.addComment(domain.EntityRoom)).Methods(http.MethodPost)
	r.HandleFunc("/questions/{id}/comments", a.addComment(domain.EntityQuestion)).Methods(http.MethodPost)
	r.HandleFunc("/comments/{comment}", a.editComment).Methods(http.MethodPatch)
	r.HandleFunc("/comments/{comment}", a.deleteComment).Methods(http.MethodDelete)
}

func (a *API) addComment(kind domain.EntityType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in core.CommentInput
		if err := decode(r, &in); err != nil {
			a.fail(w, r, err)
			return
		}
		container := domain.ContainerRef{Kind: kind, ID: mux.Vars(r)["id"]}
		c, err := a.svc.AddComment(r.Context(), actorFrom(r.Context()), container, in)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, c)
	}
}

func (a *API) editComment(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Content string `json:"content"`
	}
	if err := decode(r, &in); err != nil {
		a.fail(w, r, err)
		return
	}
	c, err := a.svc.EditComment(r.Context(), actorFrom(r.Context()), mux.Vars(r)["comment"], in.Content)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) deleteComment(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.DeleteComment(r.Context(), actorFrom(r.Context()), mux.Vars(r)["comment"]); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
