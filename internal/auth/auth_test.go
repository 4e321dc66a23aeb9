package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const (
	testSecret = "unit-test-secret"
	testIssuer = "progression.identity"
)

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func TestParseValidToken(t *testing.T) {
	signed := signToken(t, jwt.MapClaims{
		"sub":    "user-1",
		"iss":    testIssuer,
		"exp":    time.Now().Add(time.Hour).Unix(),
		"scopes": []string{ScopeProgressionRead, ScopeProgressionWrite},
	})

	claims, err := Parse(signed, Config{Secret: testSecret, Issuer: testIssuer})
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject)
	require.True(t, claims.HasScope(ScopeProgressionRead))
	require.True(t, claims.HasScope(ScopeProgressionWrite))
	require.False(t, claims.HasScope("admin"))
}

func TestParseSpaceSeparatedScopes(t *testing.T) {
	signed := signToken(t, jwt.MapClaims{
		"sub":    "user-1",
		"iss":    testIssuer,
		"exp":    time.Now().Add(time.Hour).Unix(),
		"scopes": "progression:read progression:write",
	})

	claims, err := Parse(signed, Config{Secret: testSecret, Issuer: testIssuer})
	require.NoError(t, err)
	require.True(t, claims.HasScope(ScopeProgressionRead))
}

func TestParseRejectsBadInput(t *testing.T) {
	cfg := Config{Secret: testSecret, Issuer: testIssuer}

	_, err := Parse("", cfg)
	require.ErrorIs(t, err, ErrMissingToken)

	_, err = Parse("not-a-token", cfg)
	require.ErrorIs(t, err, ErrInvalidToken)

	wrongIssuer := signToken(t, jwt.MapClaims{
		"sub": "user-1",
		"iss": "someone-else",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	_, err = Parse(wrongIssuer, cfg)
	require.ErrorIs(t, err, ErrInvalidToken)

	missingSubject := signToken(t, jwt.MapClaims{
		"iss": testIssuer,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	_, err = Parse(missingSubject, cfg)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestMiddlewareSkipsHealthAndMetrics(t *testing.T) {
	mw := NewMiddleware(Config{Secret: testSecret, Issuer: testIssuer})
	handler := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for _, path := range []string{"/healthz", "/metrics"} {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rr.Code, path)
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/profile", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestMiddlewareInjectsClaims(t *testing.T) {
	mw := NewMiddleware(Config{Secret: testSecret, Issuer: testIssuer})

	var got *Claims
	handler := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	signed := signToken(t, jwt.MapClaims{
		"sub":    "user-1",
		"iss":    testIssuer,
		"exp":    time.Now().Add(time.Hour).Unix(),
		"scopes": []string{ScopeProgressionRead},
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/profile", nil)
	req.Header.Set("Authorization", "Bearer "+signed)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, got)
	require.Equal(t, "user-1", got.Subject)
}
