package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"foresight/pkg/domain"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

// statusFor maps an error kind to its HTTP status and the short message
// shown to the client. Unauthorized becomes 401 for anonymous callers.
func statusFor(err error, anonymous bool) (int, string) {
	switch domain.KindOf(err) {
	case domain.KindNotFound:
		return http.StatusNotFound, err.Error()
	case domain.KindUnauthorized:
		if anonymous {
			return http.StatusUnauthorized, "authentication required"
		}
		return http.StatusForbidden, err.Error()
	case domain.KindBadRequest:
		return http.StatusBadRequest, err.Error()
	case domain.KindServiceUnavailable:
		var de *domain.Error
		if errors.As(err, &de) && de.Message != "" {
			return http.StatusServiceUnavailable, de.Message
		}
		return http.StatusServiceUnavailable, "service unavailable"
	}
	return http.StatusInternalServerError, "internal error"
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	actor := actorFrom(r.Context())
	status, message := statusFor(err, actor.Anonymous())
	if status >= http.StatusInternalServerError {
		a.logger.Error("request_failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	} else {
		a.logger.Debug("request_rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeError(w, status, message)
}

// decode reads a JSON body into dst. An empty body leaves dst untouched.
func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return domain.BadRequest("invalid request payload")
	}
	return nil
}
