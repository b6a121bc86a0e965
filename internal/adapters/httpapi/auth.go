package httpapi

import (
	"context"
	"net/http"
	"time"

	"foresight/internal/session"
	"foresight/pkg/domain"
)

type actorKey struct{}

type tokenKey struct{}

func actorFrom(ctx context.Context) domain.Viewer {
	v, _ := ctx.Value(actorKey{}).(domain.Viewer)
	return v
}

func tokenFrom(ctx context.Context) (session.Token, bool) {
	t, ok := ctx.Value(tokenKey{}).(session.Token)
	return t, ok
}

// Authenticate resolves the user behind r. A request without credentials is
// anonymous; a request with bad credentials fails.
func (a *API) Authenticate(r *http.Request) (string, error) {
	raw := session.FromRequest(r, a.cookieName)
	if raw == "" {
		return "", nil
	}
	tok, err := a.sessions.Verify(raw)
	if err != nil {
		return "", err
	}
	return tok.UserID, nil
}

// withActor attaches the calling viewer to the request context.
func (a *API) withActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := session.FromRequest(r, a.cookieName)
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}
		tok, err := a.sessions.Verify(raw)
		if err != nil {
			a.clearCookie(w)
			writeError(w, http.StatusUnauthorized, "session invalid")
			return
		}
		viewer := a.svc.Viewer(r.Context(), tok.UserID)
		if viewer.Anonymous() {
			a.clearCookie(w)
			writeError(w, http.StatusUnauthorized, "session invalid")
			return
		}
		ctx := context.WithValue(r.Context(), actorKey{}, viewer)
		ctx = context.WithValue(ctx, tokenKey{}, tok)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *API) setCookie(w http.ResponseWriter, tok session.Token) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.cookieName,
		Value:    tok.Value,
		Path:     "/",
		Expires:  tok.ExpiresAt,
		HttpOnly: true,
		Secure:   a.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *API) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.cookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}
