package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"foresight/internal/core"
	"foresight/pkg/domain"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

func (a *API) registerUsers(r *mux.Router) {
	r.HandleFunc("/users", a.register).Methods(http.MethodPost)
	r.HandleFunc("/users/{user}/verify", a.verify).Methods(http.MethodPost)
	r.HandleFunc("/me", a.updateMe).Methods(http.MethodPatch)
	r.HandleFunc("/sessions", a.login).Methods(http.MethodPost)
	r.HandleFunc("/sessions", a.logout).Methods(http.MethodDelete)
}

func (a *API) register(w http.ResponseWriter, r *http.Request) {
	var in core.RegisterInput
	if err := decode(r, &in); err != nil {
		a.fail(w, r, err)
		return
	}
	user, err := a.svc.RegisterUser(r.Context(), in)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.startSession(w, r, http.StatusCreated, user)
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var in credentialsRequest
	if err := decode(r, &in); err != nil {
		a.fail(w, r, err)
		return
	}
	user, err := a.svc.Authenticate(r.Context(), in.Email, in.Password)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.startSession(w, r, http.StatusOK, user)
}

func (a *API) startSession(w http.ResponseWriter, r *http.Request, status int, user domain.User) {
	tok, err := a.sessions.Issue(user.ID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.setCookie(w, tok)
	writeJSON(w, status, sessionResponse{Token: tok.Value, User: user})
}

func (a *API) logout(w http.ResponseWriter, r *http.Request) {
	if tok, ok := tokenFrom(r.Context()); ok {
		a.sessions.Revoke(tok)
	}
	a.clearCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) updateMe(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Nickname string `json:"nickname"`
	}
	if err := decode(r, &in); err != nil {
		a.fail(w, r, err)
		return
	}
	user, err := a.svc.UpdateNickname(r.Context(), actorFrom(r.Context()), in.Nickname)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) verify(w http.ResponseWriter, r *http.Request) {
	user, err := a.svc.VerifyUser(r.Context(), actorFrom(r.Context()), mux.Vars(r)["user"])
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
