package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"foresight/internal/core"
	"foresight/pkg/domain"
)

func (a *API) registerRooms(r *mux.Router) {
	r.HandleFunc("/rooms", a.createRoom).Methods(http.MethodPost)
	r.HandleFunc("/rooms/{room}", a.updateRoom).Methods(http.MethodPatch)
	r.HandleFunc("/rooms/{room}", a.deleteRoom).Methods(http.MethodDelete)
	r.HandleFunc("/rooms/{room}/members/{user}", a.setMemberRole).Methods(http.MethodPut)
	r.HandleFunc("/rooms/{room}/members/{user}", a.removeMember).Methods(http.MethodDelete)
	r.HandleFunc("/rooms/{room}/invites", a.createInvite).Methods(http.MethodPost)
	r.HandleFunc("/rooms/{room}/invites/{link}", a.disableInvite).Methods(http.MethodDelete)
	r.HandleFunc("/rooms/{room}/join/{link}", a.joinRoom).Methods(http.MethodPost)
}

type roleRequest struct {
	Role domain.Role `json:"role"`
}

func (a *API) createRoom(w http.ResponseWriter, r *http.Request) {
	var in core.RoomInput
	if err := decode(r, &in); err != nil {
		a.fail(w, r, err)
		return
	}
	room, err := a.svc.CreateRoom(r.Context(), actorFrom(r.Context()), in)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, room)
}

func (a *API) updateRoom(w http.ResponseWriter, r *http.Request) {
	var patch core.RoomPatch
	if err := decode(r, &patch); err != nil {
		a.fail(w, r, err)
		return
	}
	room, err := a.svc.UpdateRoom(r.Context(), actorFrom(r.Context()), mux.Vars(r)["room"], patch)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (a *API) deleteRoom(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.DeleteRoom(r.Context(), actorFrom(r.Context()), mux.Vars(r)["room"]); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) setMemberRole(w http.ResponseWriter, r *http.Request) {
	var in roleRequest
	if err := decode(r, &in); err != nil {
		a.fail(w, r, err)
		return
	}
	vars := mux.Vars(r)
	room, err := a.svc.SetMemberRole(r.Context(), actorFrom(r.Context()), vars["room"], vars["user"], in.Role)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (a *API) removeMember(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	room, err := a.svc.RemoveMember(r.Context(), actorFrom(r.Context()), vars["room"], vars["user"])
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (a *API) createInvite(w http.ResponseWriter, r *http.Request) {
	var in roleRequest
	if err := decode(r, &in); err != nil {
		a.fail(w, r, err)
		return
	}
	link, err := a.svc.CreateInviteLink(r.Context(), actorFrom(r.Context()), mux.Vars(r)["room"], in.Role)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, link)
}

func (a *API) disableInvite(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := a.svc.DisableInviteLink(r.Context(), actorFrom(r.Context()), vars["room"], vars["link"]); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) joinRoom(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	room, err := a.svc.JoinRoom(r.Context(), actorFrom(r.Context()), vars["room"], vars["link"])
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}
