package commands

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/newsletter/internal/logger"
	"github.com/wolfeidau/newsletter/internal/telemetry"
)

const serviceName = "newsletter"

type Globals struct {
	Debug   bool
	Version string
}

// setupLogging installs the process wide logger.
func setupLogging(globals *Globals) {
	log.Logger = logger.Setup(globals.Debug)
}

// TelemetryFlags control OpenTelemetry export. Exporter endpoints are read
// from the standard OTEL_* environment variables.
type TelemetryFlags struct {
	Tracing          bool    `help:"enable OpenTelemetry tracing and metrics export" default:"false" env:"NEWSLETTER_TRACING"`
	TraceSampleRatio float64 `help:"fraction of root spans sampled" default:"1" env:"NEWSLETTER_TRACE_SAMPLE_RATIO"`
}

// start initialises telemetry when enabled. The returned func is always safe
// to defer.
func (t *TelemetryFlags) start(ctx context.Context, version string) (func(), error) {
	if !t.Tracing {
		return func() {}, nil
	}

	shutdown, err := telemetry.InitTelemetry(ctx, telemetry.Config{
		ServiceName: serviceName,
		Version:     version,
		SampleRatio: t.TraceSampleRatio,
	})
	if err != nil {
		return nil, err
	}

	log.Info().Msg("OpenTelemetry initialized")

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to shutdown telemetry")
		}
	}, nil
}

func configureHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       5 * time.Minute,
		MaxHeaderBytes:    8 * 1024, // 8KiB
	}
}
