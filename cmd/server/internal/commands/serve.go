package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/newsletter/internal/auth"
	"github.com/wolfeidau/newsletter/internal/idempotency"
	"github.com/wolfeidau/newsletter/internal/newsletter"
	"github.com/wolfeidau/newsletter/internal/server"
	"golang.org/x/sync/errgroup"
)

type ServeCmd struct {
	// Server configuration
	Listen string `help:"HTTP server listen address" default:"0.0.0.0:8000" env:"NEWSLETTER_LISTEN"`
	Cert   string `help:"path to TLS cert file, serves plain HTTP when empty" default:"" env:"NEWSLETTER_TLS_CERT"`
	Key    string `help:"path to TLS key file" default:"" env:"NEWSLETTER_TLS_KEY"`

	// Request handling
	TrustProxyHeaders bool          `help:"log the client IP from X-Forwarded-For and X-Real-IP" default:"false" env:"NEWSLETTER_TRUST_PROXY_HEADERS"`
	TrustedOrigins    []string      `help:"origins allowed to submit the publish form cross-origin" env:"NEWSLETTER_TRUSTED_ORIGINS"`
	CommandTimeout    time.Duration `help:"upper bound on a single publish request" default:"10s" env:"NEWSLETTER_COMMAND_TIMEOUT"`

	// Authentication
	AuthSecret string `help:"HMAC secret used to verify bearer tokens, at least 32 bytes" env:"NEWSLETTER_AUTH_SECRET"`
	AuthIssuer string `help:"required iss claim of bearer tokens" default:"" env:"NEWSLETTER_AUTH_ISSUER"`

	// Development and operational modes
	EmbeddedWorker  bool     `help:"also run the delivery worker in this process" default:"false" env:"NEWSLETTER_EMBEDDED_WORKER"`
	SeedSubscribers []string `help:"confirmed subscribers to add at startup (development)" env:"NEWSLETTER_SEED_SUBSCRIBERS"`

	Store     StoreFlags     `embed:""`
	Email     EmailFlags     `embed:"" prefix:"email-"`
	Worker    WorkerFlags    `embed:"" prefix:"worker-"`
	Telemetry TelemetryFlags `embed:""`
}

func (c *ServeCmd) Validate() error {
	if c.AuthSecret == "" {
		return errors.New("auth secret is required (--auth-secret or NEWSLETTER_AUTH_SECRET)")
	}
	if (c.Cert == "") != (c.Key == "") {
		return errors.New("TLS certificate and key must be provided together (--cert and --key)")
	}
	return nil
}

func (c *ServeCmd) Run(ctx context.Context, globals *Globals) error {
	setupLogging(globals)

	log.Info().Str("version", globals.Version).Msg("Starting newsletter server")

	stopTelemetry, err := c.Telemetry.start(ctx, globals.Version)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer stopTelemetry()

	st, err := c.Store.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Stop(); err != nil {
			log.Error().Err(err).Msg("Failed to stop store")
		}
	}()

	if err := seedSubscribers(ctx, st, c.SeedSubscribers); err != nil {
		return err
	}

	publisher, err := newsletter.NewPublisher(idempotency.NewGate(st), st, newsletter.Config{
		CommandTimeout: c.CommandTimeout,
	})
	if err != nil {
		return err
	}

	authenticator, err := auth.NewJWTAuthenticator([]byte(c.AuthSecret), c.AuthIssuer)
	if err != nil {
		return err
	}

	handler, err := server.NewServer(publisher, authenticator, server.Config{
		TrustProxyHeaders: c.TrustProxyHeaders,
		TrustedOrigins:    c.TrustedOrigins,
		Tracing:           c.Telemetry.Tracing,
	}).Handler(log.Logger)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	if c.EmbeddedWorker {
		deliveryWorker, err := newDeliveryWorker(st, &c.Email, &c.Worker)
		if err != nil {
			return err
		}
		g.Go(func() error {
			return ignoreCanceled(deliveryWorker.Run(ctx))
		})
	}

	srv := configureHTTPServer(c.Listen, handler)

	g.Go(func() error {
		log.Info().Str("addr", c.Listen).Bool("tls", c.Cert != "").Bool("embedded_worker", c.EmbeddedWorker).Msg("Starting HTTP server")

		var err error
		if c.Cert != "" {
			err = srv.ListenAndServeTLS(c.Cert, c.Key)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()

		log.Info().Msg("Shutting down HTTP server")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// ignoreCanceled treats shutdown by signal as a clean exit.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
