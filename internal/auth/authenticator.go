// Package auth turns a bearer token into the opaque principal id used to
// scope idempotency keys.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	minSecretBytes = 32
	clockLeeway    = 30 * time.Second
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// Authenticator identifies the principal making a request.
type Authenticator interface {
	Authenticate(r *http.Request) (uuid.UUID, error)
}

// JWTAuthenticator verifies HS256 bearer tokens whose subject is the
// principal UUID.
type JWTAuthenticator struct {
	secret []byte
	issuer string
	now    func() time.Time
}

var _ Authenticator = (*JWTAuthenticator)(nil)

// NewJWTAuthenticator creates an authenticator. When issuer is non-empty
// tokens must carry a matching iss claim.
func NewJWTAuthenticator(secret []byte, issuer string) (*JWTAuthenticator, error) {
	if len(secret) < minSecretBytes {
		return nil, fmt.Errorf("token signing secret must be at least %d bytes", minSecretBytes)
	}

	return &JWTAuthenticator{
		secret: secret,
		issuer: issuer,
		now:    time.Now,
	}, nil
}

func (a *JWTAuthenticator) Authenticate(r *http.Request) (uuid.UUID, error) {
	tokenString := extractBearerToken(r)
	if tokenString == "" {
		return uuid.Nil, ErrMissingToken
	}
	return a.Verify(tokenString)
}

// Verify checks the signature, expiry and issuer of a token and returns its
// subject.
func (a *JWTAuthenticator) Verify(tokenString string) (uuid.UUID, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockLeeway),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	principalID, err := uuid.Parse(claims.Subject)
	if err != nil || principalID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: subject is not a principal id", ErrInvalidToken)
	}

	return principalID, nil
}

// IssueToken signs a token for principalID valid for ttl. Used by the token
// command and tests.
func (a *JWTAuthenticator) IssueToken(principalID uuid.UUID, ttl time.Duration) (string, error) {
	now := a.now()
	claims := jwt.RegisteredClaims{
		Subject:   principalID.String(),
		Issuer:    a.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.NewString(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// extractBearerToken extracts the JWT from the Authorization header.
func extractBearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
