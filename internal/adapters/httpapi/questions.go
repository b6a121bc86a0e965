package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"foresight/internal/core"
	"foresight/pkg/domain"
)

func (a *API) registerQuestions(r *mux.Router) {
	r.HandleFunc("/rooms/{room}/questions", a.createQuestion).Methods(http.MethodPost)
	r.HandleFunc("/questions/{question}", a.updateQuestion).Methods(http.MethodPatch)
	r.HandleFunc("/questions/{question}", a.deleteQuestion).Methods(http.MethodDelete)
	r.HandleFunc("/questions/{question}/state", a.setQuestionState).Methods(http.MethodPut)
	r.HandleFunc("/questions/{question}/resolution", a.resolveQuestion).Methods(http.MethodPost)
	r.HandleFunc("/questions/{question}/predictions", a.submitPrediction).Methods(http.MethodPost)
	r.HandleFunc("/questions/{question}/predictions/{user}", a.predictionAt).Methods(http.MethodGet)
	r.HandleFunc("/questions/{question}/predictions/{user}/history", a.predictionHistory).Methods(http.MethodGet)
}

func (a *API) createQuestion(w http.ResponseWriter, r *http.Request) {
	var in core.QuestionInput
	if err := decode(r, &in); err != nil {
		a.fail(w, r, err)
		return
	}
	q, err := a.svc.CreateQuestion(r.Context(), actorFrom(r.Context()), mux.Vars(r)["room"], in)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, q)
}

func (a *API) updateQuestion(w http.ResponseWriter, r *http.Request) {
	var patch core.QuestionPatch
	if err := decode(r, &patch); err != nil {
		a.fail(w, r, err)
		return
	}
	q, err := a.svc.UpdateQuestion(r.Context(), actorFrom(r.Context()), mux.Vars(r)["question"], patch)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (a *API) deleteQuestion(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.DeleteQuestion(r.Context(), actorFrom(r.Context()), mux.Vars(r)["question"]); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) setQuestionState(w http.ResponseWriter, r *http.Request) {
	var in struct {
		State domain.QuestionState `json:"state"`
	}
	if err := decode(r, &in); err != nil {
		a.fail(w, r, err)
		return
	}
	q, err := a.svc.SetQuestionState(r.Context(), actorFrom(r.Context()), mux.Vars(r)["question"], in.State)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (a *API) resolveQuestion(w http.ResponseWriter, r *http.Request) {
	var in core.ResolveInput
	if err := decode(r, &in); err != nil {
		a.fail(w, r, err)
		return
	}
	q, err := a.svc.ResolveQuestion(r.Context(), actorFrom(r.Context()), mux.Vars(r)["question"], in)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (a *API) submitPrediction(w http.ResponseWriter, r *http.Request) {
	var dist domain.Distribution
	if err := decode(r, &dist); err != nil {
		a.fail(w, r, err)
		return
	}
	p, err := a.svc.SubmitPrediction(r.Context(), actorFrom(r.Context()), mux.Vars(r)["question"], dist)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// predictionAt returns the entry in effect at ?at= (RFC3339), or the latest.
func (a *API) predictionAt(w http.ResponseWriter, r *http.Request) {
	ts := time.Now().UTC()
	if raw := r.URL.Query().Get("at"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			a.fail(w, r, domain.BadRequest("at must be an RFC3339 timestamp"))
			return
		}
		ts = parsed
	}
	vars := mux.Vars(r)
	p, err := a.svc.PredictionAt(r.Context(), actorFrom(r.Context()), vars["question"], vars["user"], ts)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) predictionHistory(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	history, err := a.svc.PredictionHistory(r.Context(), actorFrom(r.Context()), vars["question"], vars["user"])
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"predictions": history})
}
