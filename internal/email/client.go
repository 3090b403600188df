package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/newsletter/internal/models"
	"github.com/wolfeidau/newsletter/internal/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"
)

const (
	serverTokenHeader = "X-Postmark-Server-Token"
	maxErrorBodyBytes = 1024
)

// Config holds settings for the HTTP email client.
type Config struct {
	// BaseURL is the provider API root; messages are posted to BaseURL/email.
	BaseURL string

	// Sender is the From address of every message.
	Sender string

	// AuthorizationToken is sent in the X-Postmark-Server-Token header.
	AuthorizationToken string

	// Timeout bounds each request.
	// Default: 10s
	Timeout time.Duration

	// RatePerSecond limits outbound sends. Zero disables limiting.
	RatePerSecond float64

	// Burst is the limiter bucket size.
	// Default: 1 when RatePerSecond is set
	Burst int
}

// ApplyDefaults applies default values to unset configuration fields.
func (c *Config) ApplyDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	if c.RatePerSecond > 0 && c.Burst == 0 {
		c.Burst = 1
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("base url must be an absolute http(s) url, got %q", c.BaseURL)
	}
	if _, err := models.ParseSubscriberEmail(c.Sender); err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}
	if c.AuthorizationToken == "" {
		return fmt.Errorf("authorization token is required")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.RatePerSecond < 0 {
		return fmt.Errorf("rate per second must not be negative")
	}
	return nil
}

// Client is a Gateway backed by a Postmark-style REST API.
type Client struct {
	cfg        Config
	endpoint   string
	sender     models.SubscriberEmail
	httpClient *http.Client
	limiter    *rate.Limiter
}

var _ Gateway = (*Client)(nil)

// NewClient creates a client. When httpClient is nil a client with an
// OpenTelemetry instrumented transport is used.
func NewClient(cfg Config, httpClient *http.Client) (*Client, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid email client config: %w", err)
	}

	endpoint, err := url.JoinPath(cfg.BaseURL, "email")
	if err != nil {
		return nil, fmt.Errorf("failed to build endpoint: %w", err)
	}

	if httpClient == nil {
		httpClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst)
	}

	return &Client{
		cfg:        cfg,
		endpoint:   endpoint,
		sender:     models.SubscriberEmail(cfg.Sender),
		httpClient: httpClient,
		limiter:    limiter,
	}, nil
}

type sendEmailRequest struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HtmlBody string `json:"HtmlBody"`
	TextBody string `json:"TextBody"`
}

// Send posts one message. Errors wrap ErrTransient or ErrFatal.
func (c *Client) Send(ctx context.Context, recipient models.SubscriberEmail, subject, htmlBody, textBody string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limiter: %w", ErrTransient, err)
	}

	payload, err := json.Marshal(sendEmailRequest{
		From:     c.sender.String(),
		To:       recipient.String(),
		Subject:  subject,
		HtmlBody: htmlBody,
		TextBody: textBody,
	})
	if err != nil {
		return fmt.Errorf("%w: failed to encode request: %w", ErrFatal, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: failed to build request: %w", ErrFatal, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(serverTokenHeader, c.cfg.AuthorizationToken)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.recordRequest(ctx, start, 0)
		return fmt.Errorf("%w: request to email provider failed: %w", ErrTransient, err)
	}
	defer resp.Body.Close()
	c.recordRequest(ctx, start, resp.StatusCode)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	statusErr := fmt.Errorf("email provider returned %d: %s", resp.StatusCode, bytes.TrimSpace(detail))

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return fmt.Errorf("%w: %w", ErrTransient, statusErr)
	}

	log.Debug().Int("status", resp.StatusCode).Str("recipient", recipient.String()).Msg("Email provider rejected message")
	return fmt.Errorf("%w: %w", ErrFatal, statusErr)
}

func (c *Client) recordRequest(ctx context.Context, start time.Time, status int) {
	telemetry.GetMetrics().GatewayRequestDuration.Record(ctx,
		float64(time.Since(start).Milliseconds()),
		metric.WithAttributes(attribute.Int("http.status_code", status)),
	)
}
