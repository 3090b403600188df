package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret-key-min-32-bytes-long")

func TestNewJWTAuthenticator(t *testing.T) {
	_, err := NewJWTAuthenticator([]byte("short"), "")
	require.Error(t, err)

	a, err := NewJWTAuthenticator(testSecret, "")
	require.NoError(t, err)
	require.NotNil(t, a)
}

func TestJWTAuthenticator_Verify(t *testing.T) {
	a, err := NewJWTAuthenticator(testSecret, "newsletter")
	require.NoError(t, err)
	principal := uuid.New()

	t.Run("valid token", func(t *testing.T) {
		token, err := a.IssueToken(principal, time.Hour)
		require.NoError(t, err)

		got, err := a.Verify(token)
		require.NoError(t, err)
		require.Equal(t, principal, got)
	})

	t.Run("expired token", func(t *testing.T) {
		token, err := a.IssueToken(principal, -time.Hour)
		require.NoError(t, err)

		_, err = a.Verify(token)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other, err := NewJWTAuthenticator(testSecret, "someone-else")
		require.NoError(t, err)
		token, err := other.IssueToken(principal, time.Hour)
		require.NoError(t, err)

		_, err = a.Verify(token)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other, err := NewJWTAuthenticator([]byte("another-secret-key-min-32-bytes-long"), "newsletter")
		require.NoError(t, err)
		token, err := other.IssueToken(principal, time.Hour)
		require.NoError(t, err)

		_, err = a.Verify(token)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("missing expiry", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			Subject: principal.String(),
			Issuer:  "newsletter",
		}).SignedString(testSecret)
		require.NoError(t, err)

		_, err = a.Verify(token)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("subject is not a uuid", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			Subject:   "admin",
			Issuer:    "newsletter",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}).SignedString(testSecret)
		require.NoError(t, err)

		_, err = a.Verify(token)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("none algorithm", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
			Subject:   principal.String(),
			Issuer:    "newsletter",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = a.Verify(token)
		require.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{name: "bearer", header: "Bearer abc", want: "abc"},
		{name: "lowercase scheme", header: "bearer abc", want: "abc"},
		{name: "missing", header: "", want: ""},
		{name: "basic auth", header: "Basic dXNlcjpwYXNz", want: ""},
		{name: "no token", header: "Bearer", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			require.Equal(t, tt.want, extractBearerToken(r))
		})
	}
}

func TestMiddleware(t *testing.T) {
	a, err := NewJWTAuthenticator(testSecret, "")
	require.NoError(t, err)
	principal := uuid.New()

	var seen uuid.UUID
	handler := Middleware(a)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := PrincipalFromContext(r.Context())
		require.True(t, ok)
		seen = id
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("authenticated", func(t *testing.T) {
		token, err := a.IssueToken(principal, time.Hour)
		require.NoError(t, err)

		r := httptest.NewRequest(http.MethodPost, "/admin/newsletters", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)

		require.Equal(t, http.StatusNoContent, w.Code)
		require.Equal(t, principal, seen)
	})

	t.Run("unauthenticated", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/admin/newsletters", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)

		require.Equal(t, http.StatusUnauthorized, w.Code)
		require.NotEmpty(t, w.Header().Get("WWW-Authenticate"))
	})
}

func TestPrincipalFromContextMissing(t *testing.T) {
	_, ok := PrincipalFromContext(httptest.NewRequest(http.MethodGet, "/", nil).Context())
	require.False(t, ok)
}
