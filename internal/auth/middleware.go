package auth

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type contextKey int

const (
	principalContextKey contextKey = iota
)

// WithPrincipal returns a context carrying principalID.
func WithPrincipal(ctx context.Context, principalID uuid.UUID) context.Context {
	return context.WithValue(ctx, principalContextKey, principalID)
}

// PrincipalFromContext extracts the authenticated principal from the request
// context. ok is false for unauthenticated requests.
func PrincipalFromContext(ctx context.Context) (uuid.UUID, bool) {
	principalID, ok := ctx.Value(principalContextKey).(uuid.UUID)
	return principalID, ok
}

// Middleware rejects requests the authenticator cannot identify with 401 and
// stores the principal in the context of the rest.
func Middleware(a Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principalID, err := a.Authenticate(r)
			if err != nil {
				log.Warn().Err(err).Str("path", r.URL.Path).Msg("Authentication failed")
				w.Header().Set("WWW-Authenticate", `Bearer realm="newsletter"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principalID)))
		})
	}
}
