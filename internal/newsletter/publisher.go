// Package newsletter implements the publish command: admit the request
// through the idempotency gate, store the issue, fan it out to the delivery
// queue and save the response, all in one transaction.
package newsletter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/newsletter/internal/idempotency"
	"github.com/wolfeidau/newsletter/internal/models"
	"github.com/wolfeidau/newsletter/internal/store"
	"github.com/wolfeidau/newsletter/internal/telemetry"
)

// ErrValidation is returned for malformed input. It is never retried.
var ErrValidation = errors.New("validation failed")

const (
	defaultCommandTimeout   = 10 * time.Second
	defaultRedirectLocation = "/admin/newsletters"

	// IssueIDHeader carries the id of the published issue in the response.
	IssueIDHeader = "Newsletter-Issue-Id"
)

// Config holds settings for the publisher.
type Config struct {
	// CommandTimeout bounds the whole publish, including the wait on a
	// concurrent reservation and the commit.
	// Default: 10s
	CommandTimeout time.Duration

	// RedirectLocation is the Location of the 303 response.
	// Default: /admin/newsletters
	RedirectLocation string
}

// ApplyDefaults applies default values to unset configuration fields.
func (c *Config) ApplyDefaults() {
	if c.CommandTimeout == 0 {
		c.CommandTimeout = defaultCommandTimeout
	}
	if c.RedirectLocation == "" {
		c.RedirectLocation = defaultRedirectLocation
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.CommandTimeout <= 0 {
		return fmt.Errorf("command timeout must be positive")
	}
	if !strings.HasPrefix(c.RedirectLocation, "/") {
		return fmt.Errorf("redirect location must be an absolute path, got %q", c.RedirectLocation)
	}
	return nil
}

// IssueContent is the body of a publish request.
type IssueContent struct {
	Title       string
	HTMLContent string
	TextContent string
}

// Validate requires every field to be non-blank.
func (c IssueContent) Validate() error {
	var missing []string
	if strings.TrimSpace(c.Title) == "" {
		missing = append(missing, "title")
	}
	if strings.TrimSpace(c.HTMLContent) == "" {
		missing = append(missing, "html_content")
	}
	if strings.TrimSpace(c.TextContent) == "" {
		missing = append(missing, "text_content")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrValidation, strings.Join(missing, ", "))
	}
	return nil
}

// Publisher is safe for concurrent use.
type Publisher struct {
	gate   *idempotency.Gate
	issues store.IssueStore
	cfg    Config
	now    func() time.Time
}

func NewPublisher(gate *idempotency.Gate, issues store.IssueStore, cfg Config) (*Publisher, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid publisher config: %w", err)
	}

	return &Publisher{
		gate:   gate,
		issues: issues,
		cfg:    cfg,
		now:    time.Now,
	}, nil
}

// HandlePublish executes a publish at most once per (principal, key). A
// repeated key returns the saved response of the first execution unchanged.
// Errors wrap ErrValidation, store.ErrTransient (retry with the same key) or
// store.ErrInconsistentState.
func (p *Publisher) HandlePublish(ctx context.Context, principalID uuid.UUID, rawKey string, content IssueContent) (*models.SavedResponse, error) {
	key, err := models.ParseIdempotencyKey(rawKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if err := content.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.CommandTimeout)
	defer cancel()

	metrics := telemetry.GetMetrics()

	resp, err := p.publish(ctx, principalID, key, content)
	if err != nil {
		metrics.PublishErrorsTotal.Add(ctx, 1)
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, store.ErrTransient) {
			err = fmt.Errorf("%w: %w", store.ErrTransient, err)
		}
		return nil, err
	}

	return resp, nil
}

func (p *Publisher) publish(ctx context.Context, principalID uuid.UUID, key models.IdempotencyKey, content IssueContent) (*models.SavedResponse, error) {
	metrics := telemetry.GetMetrics()

	action, err := p.gate.Begin(ctx, principalID, key)
	if err != nil {
		return nil, err
	}

	var tx store.Tx
	switch a := action.(type) {
	case idempotency.ReturnSavedResponse:
		metrics.ResponsesReplayedTotal.Add(ctx, 1)
		return a.Response, nil
	case idempotency.StartProcessing:
		tx = a.Tx
	default:
		return nil, fmt.Errorf("unexpected next action %T", action)
	}

	issue := &models.NewsletterIssue{
		ID:          uuid.Must(uuid.NewV7()),
		Title:       content.Title,
		HTMLContent: content.HTMLContent,
		TextContent: content.TextContent,
		PublishedAt: p.now().UTC(),
	}

	if err := p.issues.InsertIssue(ctx, tx, issue); err != nil {
		p.gate.Abort(ctx, tx)
		return nil, fmt.Errorf("failed to store newsletter issue: %w", err)
	}

	enqueued, err := p.issues.EnqueueDeliveryTasks(ctx, tx, issue.ID)
	if err != nil {
		p.gate.Abort(ctx, tx)
		return nil, fmt.Errorf("failed to enqueue delivery tasks: %w", err)
	}

	resp, err := p.gate.SaveResponse(ctx, tx, principalID, key, p.publishedResponse(issue.ID))
	if err != nil {
		return nil, err
	}

	metrics.IssuesPublishedTotal.Add(ctx, 1)
	metrics.TasksEnqueuedTotal.Add(ctx, enqueued)

	log.Info().
		Str("issue_id", issue.ID.String()).
		Str("principal_id", principalID.String()).
		Str("idempotency_key", key.String()).
		Int64("tasks", enqueued).
		Msg("Newsletter issue published")

	return resp, nil
}

func (p *Publisher) publishedResponse(issueID uuid.UUID) *models.SavedResponse {
	return &models.SavedResponse{
		StatusCode: http.StatusSeeOther,
		Headers: []models.HeaderPair{
			{Name: "Location", Value: []byte(p.cfg.RedirectLocation)},
			{Name: "Content-Type", Value: []byte("text/plain; charset=utf-8")},
			{Name: IssueIDHeader, Value: []byte(issueID.String())},
		},
		Body: []byte("The newsletter issue has been accepted - emails will go out shortly.\n"),
	}
}
