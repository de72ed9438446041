package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/jgirmay/slidegenie-realtime/pkg/config"
)

// ErrUnauthenticated is returned when a request carries no usable identity.
var ErrUnauthenticated = errors.New("unauthenticated")

// Identity is the authenticated caller.
type Identity struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role,omitempty"`
}

// Provider resolves the caller of an HTTP or websocket upgrade request.
type Provider interface {
	Authenticate(r *http.Request) (Identity, error)
}

// HeaderProvider trusts identity headers set by an upstream gateway. The
// user_id query parameter is accepted for browser websocket clients that
// cannot set headers.
type HeaderProvider struct{}

func (HeaderProvider) Authenticate(r *http.Request) (Identity, error) {
	id := Identity{
		UserID: r.Header.Get("X-User-ID"),
		Name:   r.Header.Get("X-User-Name"),
		Email:  r.Header.Get("X-User-Email"),
		Role:   r.Header.Get("X-User-Role"),
	}
	if id.UserID == "" {
		id.UserID = r.URL.Query().Get("user_id")
	}
	if id.UserID == "" {
		return Identity{}, ErrUnauthenticated
	}
	return id, nil
}

// JWTProvider validates a bearer token from the token query parameter or
// the Authorization header.
type JWTProvider struct {
	Tokens *TokenManager
}

func (p JWTProvider) Authenticate(r *http.Request) (Identity, error) {
	token := extractToken(r)
	if token == "" {
		return Identity{}, ErrUnauthenticated
	}
	claims, err := p.Tokens.ValidateToken(token)
	if err != nil {
		return Identity{}, errors.Join(ErrUnauthenticated, err)
	}
	return Identity{UserID: claims.UserID, Name: claims.Name, Email: claims.Email, Role: claims.Role}, nil
}

// extractToken reads the query parameter first, then a Bearer header.
func extractToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(h[len("Bearer "):])
	}
	return ""
}

// NewProvider builds the provider selected by cfg.Mode.
func NewProvider(cfg config.AuthConfig) Provider {
	if cfg.Mode == config.AuthModeJWT {
		return JWTProvider{Tokens: NewTokenManager(cfg.JWTSecret, 0, cfg.Issuer, cfg.Audience)}
	}
	return HeaderProvider{}
}

type ctxKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity stored by Middleware.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}

// Middleware rejects unauthenticated requests with 401 and stores the
// identity in the request context otherwise.
func Middleware(p Provider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := p.Authenticate(r)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized","message":"authentication required"}`))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}
