package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/wolfeidau/newsletter/internal/auth"
)

type TokenCmd struct {
	AuthSecret string        `help:"HMAC secret used to sign the token, at least 32 bytes" env:"NEWSLETTER_AUTH_SECRET"`
	AuthIssuer string        `help:"iss claim of the token" default:"" env:"NEWSLETTER_AUTH_ISSUER"`
	Principal  string        `help:"principal UUID, a new one is generated when empty" default:""`
	TTL        time.Duration `help:"token lifetime" default:"24h"`

	out io.Writer
}

func (c *TokenCmd) Run(ctx context.Context, globals *Globals) error {
	setupLogging(globals)

	if c.AuthSecret == "" {
		return errors.New("auth secret is required (--auth-secret or NEWSLETTER_AUTH_SECRET)")
	}

	principalID := uuid.Must(uuid.NewV7())
	if c.Principal != "" {
		parsed, err := uuid.Parse(c.Principal)
		if err != nil {
			return fmt.Errorf("invalid principal: %w", err)
		}
		principalID = parsed
	}

	authenticator, err := auth.NewJWTAuthenticator([]byte(c.AuthSecret), c.AuthIssuer)
	if err != nil {
		return err
	}

	token, err := authenticator.IssueToken(principalID, c.TTL)
	if err != nil {
		return err
	}

	out := c.out
	if out == nil {
		out = os.Stdout
	}
	_, err = fmt.Fprintln(out, token)
	return err
}
