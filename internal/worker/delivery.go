// Package worker drains the delivery queue: one task per transaction, sent
// through the email gateway and then removed.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/newsletter/internal/email"
	"github.com/wolfeidau/newsletter/internal/models"
	"github.com/wolfeidau/newsletter/internal/store"
	"github.com/wolfeidau/newsletter/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
)

const rollbackTimeout = 5 * time.Second

// ExecutionOutcome is the result of one successful worker iteration.
type ExecutionOutcome int

const (
	// TaskCompleted means a task was claimed and removed from the queue,
	// whether or not the email was accepted.
	TaskCompleted ExecutionOutcome = iota + 1
	// EmptyQueue means no unclaimed task was available.
	EmptyQueue
)

func (o ExecutionOutcome) String() string {
	switch o {
	case TaskCompleted:
		return "task_completed"
	case EmptyQueue:
		return "empty_queue"
	default:
		return "unknown"
	}
}

// Config holds settings for the delivery worker.
type Config struct {
	// IdleInterval is the pause after finding the queue empty.
	// Default: 10s
	IdleInterval time.Duration

	// ErrorInterval is the pause after an iteration failed.
	// Default: 1s
	ErrorInterval time.Duration

	// Concurrency is the number of loops run by Run.
	// Default: 1
	Concurrency int

	// MaxSendAttempts caps gateway calls per task. 1 means deliver once and
	// always delete. Larger values retry transient gateway errors in place
	// before the task is deleted.
	// Default: 1
	MaxSendAttempts int

	// RetryInitialInterval and RetryMaxInterval shape the exponential backoff
	// between send attempts.
	// Default: 500ms and 5s
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
}

// ApplyDefaults applies default values to unset configuration fields.
func (c *Config) ApplyDefaults() {
	if c.IdleInterval == 0 {
		c.IdleInterval = 10 * time.Second
	}
	if c.ErrorInterval == 0 {
		c.ErrorInterval = time.Second
	}
	if c.Concurrency == 0 {
		c.Concurrency = 1
	}
	if c.MaxSendAttempts == 0 {
		c.MaxSendAttempts = 1
	}
	if c.RetryInitialInterval == 0 {
		c.RetryInitialInterval = 500 * time.Millisecond
	}
	if c.RetryMaxInterval == 0 {
		c.RetryMaxInterval = 5 * time.Second
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.IdleInterval <= 0 || c.ErrorInterval <= 0 {
		return fmt.Errorf("idle and error intervals must be positive")
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.MaxSendAttempts < 1 {
		return fmt.Errorf("max send attempts must be at least 1, got %d", c.MaxSendAttempts)
	}
	if c.RetryInitialInterval <= 0 || c.RetryMaxInterval < c.RetryInitialInterval {
		return fmt.Errorf("retry intervals must be positive with max >= initial")
	}
	return nil
}

// DeliveryWorker holds no state between iterations; several workers, in one
// process or many, compete for tasks through the store's skip-locked claim.
type DeliveryWorker struct {
	queue   store.DeliveryQueue
	issues  store.IssueStore
	gateway email.Gateway
	cfg     Config
}

func NewDeliveryWorker(queue store.DeliveryQueue, issues store.IssueStore, gateway email.Gateway, cfg Config) (*DeliveryWorker, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid worker config: %w", err)
	}

	return &DeliveryWorker{
		queue:   queue,
		issues:  issues,
		gateway: gateway,
		cfg:     cfg,
	}, nil
}

// TryExecuteTask claims one task, delivers it and deletes it in the claiming
// transaction. Invalid recipients and gateway failures are logged and the task
// is still deleted. Any other error rolls the transaction back, leaving the
// task for a later attempt.
func (w *DeliveryWorker) TryExecuteTask(ctx context.Context) (ExecutionOutcome, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "worker.TryExecuteTask")
	defer span.End()

	claimed, err := w.queue.DequeueTask(ctx)
	if err != nil {
		span.SetStatus(codes.Error, "dequeue failed")
		return 0, fmt.Errorf("failed to dequeue delivery task: %w", err)
	}
	if claimed == nil {
		span.SetAttributes(attribute.String("outcome", EmptyQueue.String()))
		return EmptyQueue, nil
	}

	span.SetAttributes(
		attribute.String("issue_id", claimed.Task.IssueID.String()),
		attribute.String("subscriber_email", claimed.Task.SubscriberEmail),
	)

	if err := w.execute(ctx, claimed); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "task failed")

		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
		defer cancel()
		if rbErr := claimed.Tx.Rollback(rctx); rbErr != nil {
			log.Warn().Err(rbErr).Str("issue_id", claimed.Task.IssueID.String()).Msg("Failed to roll back delivery task")
		}
		return 0, err
	}

	span.SetAttributes(attribute.String("outcome", TaskCompleted.String()))
	return TaskCompleted, nil
}

func (w *DeliveryWorker) execute(ctx context.Context, claimed *store.ClaimedTask) error {
	task := claimed.Task
	metrics := telemetry.GetMetrics()

	recipient, err := models.ParseSubscriberEmail(task.SubscriberEmail)
	if err != nil {
		log.Error().
			Err(err).
			Str("issue_id", task.IssueID.String()).
			Str("subscriber_email", task.SubscriberEmail).
			Msg("A confirmed subscriber's stored contact details are invalid. Skipping.")
		metrics.RecipientsSkippedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "invalid_address")))
		return w.complete(ctx, claimed)
	}

	issue, err := w.issues.GetIssue(ctx, claimed.Tx, task.IssueID)
	if errors.Is(err, store.ErrNotFound) {
		log.Error().
			Str("issue_id", task.IssueID.String()).
			Str("subscriber_email", task.SubscriberEmail).
			Msg("Delivery task references a missing newsletter issue. Skipping.")
		metrics.RecipientsSkippedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "missing_issue")))
		return w.complete(ctx, claimed)
	}
	if err != nil {
		return fmt.Errorf("failed to load newsletter issue %s: %w", task.IssueID, err)
	}

	outcome := "delivered"
	if err := w.send(ctx, recipient, issue); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("delivery interrupted: %w", err)
		}
		outcome = "failed"
		log.Error().
			Err(err).
			Str("issue_id", task.IssueID.String()).
			Str("subscriber_email", recipient.String()).
			Msg("Failed to deliver issue to a confirmed subscriber. Skipping.")
	}
	metrics.DeliveriesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))

	return w.complete(ctx, claimed)
}

func (w *DeliveryWorker) complete(ctx context.Context, claimed *store.ClaimedTask) error {
	if err := w.queue.DeleteTask(ctx, claimed.Tx, claimed.Task); err != nil {
		return fmt.Errorf("failed to delete delivery task: %w", err)
	}
	if err := claimed.Tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit delivery task: %w", err)
	}
	return nil
}

func (w *DeliveryWorker) send(ctx context.Context, recipient models.SubscriberEmail, issue *models.NewsletterIssue) error {
	if w.cfg.MaxSendAttempts <= 1 {
		return w.gateway.Send(ctx, recipient, issue.Title, issue.HTMLContent, issue.TextContent)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.cfg.RetryInitialInterval
	b.MaxInterval = w.cfg.RetryMaxInterval

	op := func() (struct{}, error) {
		err := w.gateway.Send(ctx, recipient, issue.Title, issue.HTMLContent, issue.TextContent)
		if err != nil && !errors.Is(err, email.ErrTransient) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	notify := func(err error, next time.Duration) {
		telemetry.GetMetrics().GatewayRetriesTotal.Add(ctx, 1)
		log.Warn().
			Err(err).
			Str("issue_id", issue.ID.String()).
			Str("subscriber_email", recipient.String()).
			Dur("retry_in", next).
			Msg("Transient email gateway failure, retrying")
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(w.cfg.MaxSendAttempts)), // #nosec G115 - validated positive
		backoff.WithNotify(notify),
	)
	return err
}

// Run drives Concurrency worker loops until ctx is canceled, then returns
// ctx.Err(). A completed task is followed immediately by the next iteration.
// An empty queue pauses for IdleInterval and an error for ErrorInterval.
func (w *DeliveryWorker) Run(ctx context.Context) error {
	log.Info().
		Int("concurrency", w.cfg.Concurrency).
		Dur("idle_interval", w.cfg.IdleInterval).
		Int("max_send_attempts", w.cfg.MaxSendAttempts).
		Msg("Delivery worker starting")

	g, ctx := errgroup.WithContext(ctx)
	for i := range w.cfg.Concurrency {
		g.Go(func() error {
			return w.loop(ctx, i)
		})
	}

	err := g.Wait()
	log.Info().Err(err).Msg("Delivery worker stopped")
	return err
}

func (w *DeliveryWorker) loop(ctx context.Context, id int) error {
	metrics := telemetry.GetMetrics()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		start := time.Now()
		outcome, err := w.TryExecuteTask(ctx)

		label := outcome.String()
		if err != nil {
			label = "error"
		}
		attrs := metric.WithAttributes(attribute.String("outcome", label))
		metrics.WorkerIterationsTotal.Add(ctx, 1, attrs)
		metrics.WorkerIterationDuration.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)

		var pause time.Duration
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error().Err(err).Int("worker", id).Msg("Delivery worker iteration failed")
			pause = w.cfg.ErrorInterval
		case outcome == EmptyQueue:
			pause = w.cfg.IdleInterval
		default:
			continue
		}

		if err := sleep(ctx, pause); err != nil {
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
