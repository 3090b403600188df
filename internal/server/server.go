// Package server exposes the publish command and a health check over HTTP.
package server

import (
	"fmt"
	"net/http"

	"filippo.io/csrf"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/newsletter/internal/auth"
	httpmiddleware "github.com/wolfeidau/newsletter/internal/http"
	"github.com/wolfeidau/newsletter/internal/logger"
	"github.com/wolfeidau/newsletter/internal/newsletter"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	maxFormBytes = 1 << 20 // 1MiB

	// retryAfterSeconds is sent with 503 responses. A retry with the same
	// idempotency key is safe.
	retryAfterSeconds = "1"
)

// Config holds settings for the HTTP surface.
type Config struct {
	// TrustProxyHeaders makes client IP logging honour X-Forwarded-For and
	// X-Real-IP. Only enable behind a proxy which sets them.
	TrustProxyHeaders bool

	// TrustedOrigins are origins allowed to POST cross-origin, in the form
	// scheme://host[:port].
	TrustedOrigins []string

	// Tracing wraps the handler with OpenTelemetry instrumentation.
	Tracing bool
}

// Server wires the publisher and authenticator into an http.Handler.
type Server struct {
	publisher     *newsletter.Publisher
	authenticator auth.Authenticator
	cfg           Config
}

func NewServer(publisher *newsletter.Publisher, authenticator auth.Authenticator, cfg Config) *Server {
	return &Server{
		publisher:     publisher,
		authenticator: authenticator,
		cfg:           cfg,
	}
}

// Handler returns the HTTP handler for the server
func (s *Server) Handler(log zerolog.Logger) (http.Handler, error) {
	mux := http.NewServeMux()

	// Health check endpoint for load balancer
	mux.HandleFunc("GET /health_check", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	mux.Handle("POST /admin/newsletters",
		auth.Middleware(s.authenticator)(http.HandlerFunc(s.publishNewsletter)))

	// Cross-origin protection for the form endpoint
	protection := csrf.New()
	for _, origin := range s.cfg.TrustedOrigins {
		if err := protection.AddTrustedOrigin(origin); err != nil {
			return nil, fmt.Errorf("invalid trusted origin %q: %w", origin, err)
		}
	}

	var handler http.Handler = protection.Handler(mux)
	handler = logger.HTTPRequests(log)(handler)
	handler = httpmiddleware.ClientIPMiddleware(s.cfg.TrustProxyHeaders)(handler)

	if s.cfg.Tracing {
		handler = otelhttp.NewHandler(handler, "newsletter")
	}

	return handler, nil
}

func (s *Server) publishNewsletter(w http.ResponseWriter, r *http.Request) {
	principalID, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		writeError(w, r, fmt.Errorf("%w: unreadable form: %w", newsletter.ErrValidation, err))
		return
	}

	content := newsletter.IssueContent{
		Title:       r.PostForm.Get("title"),
		HTMLContent: r.PostForm.Get("html_content"),
		TextContent: r.PostForm.Get("text_content"),
	}

	resp, err := s.publisher.HandlePublish(r.Context(), principalID, r.PostForm.Get("idempotency_key"), content)
	if err != nil {
		writeError(w, r, err)
		return
	}

	for _, h := range resp.Headers {
		w.Header().Add(h.Name, string(h.Value))
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(resp.Body); err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("Failed to write response body")
	}
}
