// Package session issues and verifies signed session tokens.
package session

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"foresight/pkg/domain"
)

const issuer = "foresight"

// Token is a signed session credential.
type Token struct {
	Value     string
	ID        string
	UserID    string
	ExpiresAt time.Time
}

type claims struct {
	jwt.RegisteredClaims
}

// Manager signs HS256 tokens and tracks logouts until the token would have
// expired anyway.
type Manager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	revoked map[string]time.Time
}

// NewManager constructs a manager. secret must be non-empty.
func NewManager(secret []byte, ttl time.Duration, now func() time.Time) (*Manager, error) {
	if len(secret) == 0 {
		return nil, errors.New("session secret is required")
	}
	if ttl <= 0 {
		return nil, errors.New("session ttl must be positive")
	}
	if now == nil {
		now = time.Now
	}
	return &Manager{secret: secret, ttl: ttl, now: now, revoked: make(map[string]time.Time)}, nil
}

// Issue signs a token for userID.
func (m *Manager) Issue(userID string) (Token, error) {
	if userID == "" {
		return Token{}, domain.BadRequest("user id required")
	}
	now := m.now().UTC()
	id := uuid.NewString()
	exp := now.Add(m.ttl)
	c := claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   userID,
		ID:        id,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(m.secret)
	if err != nil {
		return Token{}, err
	}
	return Token{Value: signed, ID: id, UserID: userID, ExpiresAt: exp}, nil
}

// Verify parses value and returns the token it encodes. Any failure is
// reported as Unauthorized.
func (m *Manager) Verify(value string) (Token, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return Token{}, domain.Unauthorized("session token required")
	}
	var parsed claims
	_, err := jwt.ParseWithClaims(value, &parsed, func(*jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Token{}, domain.Unauthorized("session expired")
		}
		return Token{}, domain.Unauthorized("session token invalid")
	}
	if parsed.Subject == "" || parsed.ID == "" {
		return Token{}, domain.Unauthorized("session token invalid")
	}
	m.mu.Lock()
	_, revoked := m.revoked[parsed.ID]
	m.mu.Unlock()
	if revoked {
		return Token{}, domain.Unauthorized("session ended")
	}
	return Token{Value: value, ID: parsed.ID, UserID: parsed.Subject, ExpiresAt: parsed.ExpiresAt.Time.UTC()}, nil
}

// Revoke ends a session before it expires.
func (m *Manager) Revoke(token Token) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, exp := range m.revoked {
		if !exp.After(now) {
			delete(m.revoked, id)
		}
	}
	m.revoked[token.ID] = token.ExpiresAt
}

// FromRequest extracts a token from the Authorization bearer header or the
// named cookie. An empty string means none was sent.
func FromRequest(r *http.Request, cookieName string) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if v, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(v)
		}
	}
	if cookieName != "" {
		if c, err := r.Cookie(cookieName); err == nil {
			return c.Value
		}
	}
	return ""
}
