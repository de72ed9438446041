package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jgirmay/slidegenie-realtime/pkg/config"
)

func TestHeaderProvider(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws/notifications", nil)
	r.Header.Set("X-User-ID", "u1")
	r.Header.Set("X-User-Name", "Ada")
	r.Header.Set("X-User-Role", "admin")

	id, err := HeaderProvider{}.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, Identity{UserID: "u1", Name: "Ada", Role: "admin"}, id)

	r = httptest.NewRequest(http.MethodGet, "/ws/notifications?user_id=u2", nil)
	id, err = HeaderProvider{}.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, "u2", id.UserID)

	_, err = HeaderProvider{}.Authenticate(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestExtractToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?token=query-token", nil)
	r.Header.Set("Authorization", "Bearer header-token")
	assert.Equal(t, "query-token", extractToken(r))

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer header-token")
	assert.Equal(t, "header-token", extractToken(r))

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	assert.Empty(t, extractToken(r))
}

func TestJWTRoundTrip(t *testing.T) {
	tm := NewTokenManager("secret", time.Minute, "slidegenie", "realtime")
	token, err := tm.GenerateToken(Identity{UserID: "u1", Name: "Ada", Role: "admin"})
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/?token="+token, nil)
	id, err := JWTProvider{Tokens: tm}.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, "u1", id.UserID)
	assert.Equal(t, "admin", id.Role)
}

func TestJWTRejects(t *testing.T) {
	tm := NewTokenManager("secret", time.Minute, "slidegenie", "realtime")
	other := NewTokenManager("other-secret", time.Minute, "slidegenie", "realtime")
	wrongAud := NewTokenManager("secret", time.Minute, "slidegenie", "elsewhere")

	forged, err := other.GenerateToken(Identity{UserID: "u1"})
	require.NoError(t, err)
	_, err = tm.ValidateToken(forged)
	assert.Error(t, err)

	aud, err := wrongAud.GenerateToken(Identity{UserID: "u1"})
	require.NoError(t, err)
	_, err = tm.ValidateToken(aud)
	assert.Error(t, err)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		UserID: "u1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			Issuer:    "slidegenie",
			Audience:  jwt.ClaimStrings{"realtime"},
		},
	})
	s, err := expired.SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = tm.ValidateToken(s)
	assert.Error(t, err)

	_, err = JWTProvider{Tokens: tm}.Authenticate(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestMiddleware(t *testing.T) {
	var seen Identity
	h := Middleware(HeaderProvider{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-User-ID", "u1")
	h.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "u1", seen.UserID)
}

func TestNewProvider(t *testing.T) {
	assert.IsType(t, HeaderProvider{}, NewProvider(config.AuthConfig{Mode: config.AuthModeHeader}))
	assert.IsType(t, JWTProvider{}, NewProvider(config.AuthConfig{Mode: config.AuthModeJWT, JWTSecret: "s"}))
}
