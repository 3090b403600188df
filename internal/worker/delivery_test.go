package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/newsletter/internal/email"
	"github.com/wolfeidau/newsletter/internal/models"
	"github.com/wolfeidau/newsletter/internal/store"
	"github.com/wolfeidau/newsletter/internal/store/memory"
)

type sentEmail struct {
	recipient models.SubscriberEmail
	subject   string
	html      string
	text      string
}

// recordingGateway records every call. fail, when set, decides the result of
// each call given the number of prior calls for that recipient.
type recordingGateway struct {
	mu    sync.Mutex
	sent  []sentEmail
	calls map[models.SubscriberEmail]int
	fail  func(recipient models.SubscriberEmail, attempt int) error
}

func newRecordingGateway() *recordingGateway {
	return &recordingGateway{calls: map[models.SubscriberEmail]int{}}
}

func (g *recordingGateway) Send(ctx context.Context, recipient models.SubscriberEmail, subject, html, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	attempt := g.calls[recipient]
	g.calls[recipient]++
	g.sent = append(g.sent, sentEmail{recipient: recipient, subject: subject, html: html, text: text})

	if g.fail != nil {
		return g.fail(recipient, attempt)
	}
	return nil
}

func (g *recordingGateway) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sent)
}

func seedQueue(t *testing.T, s *memory.Store, emails ...string) *models.NewsletterIssue {
	t.Helper()
	ctx := context.Background()

	for _, e := range emails {
		err := s.AddSubscriber(ctx, &models.Subscriber{
			ID:           uuid.New(),
			Email:        e,
			Name:         "Reader",
			SubscribedAt: time.Now(),
			Status:       models.SubscriptionStatusConfirmed,
		})
		require.NoError(t, err)
	}

	issue := &models.NewsletterIssue{
		ID:          uuid.Must(uuid.NewV7()),
		Title:       "Issue #1",
		HTMLContent: "<p>Hello</p>",
		TextContent: "Hello",
		PublishedAt: time.Now(),
	}
	require.NoError(t, s.InsertIssue(ctx, nil, issue))
	_, err := s.EnqueueDeliveryTasks(ctx, nil, issue.ID)
	require.NoError(t, err)
	return issue
}

func readers(n int) []string {
	out := make([]string, n)
	for i := range n {
		out[i] = fmt.Sprintf("reader%d@example.com", i)
	}
	return out
}

func newWorker(t *testing.T, s *memory.Store, gw email.Gateway, cfg Config) *DeliveryWorker {
	t.Helper()
	w, err := NewDeliveryWorker(s, s, gw, cfg)
	require.NoError(t, err)
	return w
}

func drain(t *testing.T, w *DeliveryWorker) int {
	t.Helper()
	completed := 0
	for {
		outcome, err := w.TryExecuteTask(context.Background())
		require.NoError(t, err)
		if outcome == EmptyQueue {
			return completed
		}
		require.Equal(t, TaskCompleted, outcome)
		completed++
	}
}

func pending(t *testing.T, s *memory.Store) int64 {
	t.Helper()
	n, err := s.PendingTasks(context.Background())
	require.NoError(t, err)
	return n
}

func TestTryExecuteTask_EmptyQueue(t *testing.T) {
	gw := newRecordingGateway()
	w := newWorker(t, memory.NewStore(), gw, Config{})

	outcome, err := w.TryExecuteTask(context.Background())
	require.NoError(t, err)
	require.Equal(t, EmptyQueue, outcome)
	require.Zero(t, gw.count())
}

func TestTryExecuteTask_FanOutCompleteness(t *testing.T) {
	s := memory.NewStore()
	issue := seedQueue(t, s, readers(4)...)
	gw := newRecordingGateway()
	w := newWorker(t, s, gw, Config{})

	require.Equal(t, 4, drain(t, w))
	require.Zero(t, pending(t, s))
	require.Equal(t, 4, gw.count())

	for _, sent := range gw.sent {
		require.Equal(t, issue.Title, sent.subject)
		require.Equal(t, issue.HTMLContent, sent.html)
		require.Equal(t, issue.TextContent, sent.text)
	}
}

func TestTryExecuteTask_MalformedRecipientIsolation(t *testing.T) {
	s := memory.NewStore()
	seedQueue(t, s, "reader0@example.com", "not-an-email", "reader1@example.com")
	gw := newRecordingGateway()
	w := newWorker(t, s, gw, Config{})

	require.Equal(t, 3, drain(t, w))
	require.Zero(t, pending(t, s))
	require.Equal(t, 2, gw.count())
	for _, sent := range gw.sent {
		require.NotEqual(t, models.SubscriberEmail("not-an-email"), sent.recipient)
	}
}

func TestTryExecuteTask_GatewayDownStillDrains(t *testing.T) {
	s := memory.NewStore()
	seedQueue(t, s, readers(3)...)
	gw := newRecordingGateway()
	gw.fail = func(models.SubscriberEmail, int) error {
		return fmt.Errorf("%w: connection refused", email.ErrTransient)
	}
	w := newWorker(t, s, gw, Config{})

	require.Equal(t, 3, drain(t, w))
	require.Zero(t, pending(t, s))
	// One attempt per task by default.
	require.Equal(t, 3, gw.count())
}

func TestTryExecuteTask_RetriesTransientFailures(t *testing.T) {
	s := memory.NewStore()
	seedQueue(t, s, "reader0@example.com")
	gw := newRecordingGateway()
	gw.fail = func(_ models.SubscriberEmail, attempt int) error {
		if attempt < 2 {
			return fmt.Errorf("%w: 503", email.ErrTransient)
		}
		return nil
	}
	w := newWorker(t, s, gw, Config{
		MaxSendAttempts:      3,
		RetryInitialInterval: time.Millisecond,
		RetryMaxInterval:     5 * time.Millisecond,
	})

	outcome, err := w.TryExecuteTask(context.Background())
	require.NoError(t, err)
	require.Equal(t, TaskCompleted, outcome)
	require.Equal(t, 3, gw.count())
	require.Zero(t, pending(t, s))
}

func TestTryExecuteTask_DoesNotRetryFatalFailures(t *testing.T) {
	s := memory.NewStore()
	seedQueue(t, s, "reader0@example.com")
	gw := newRecordingGateway()
	gw.fail = func(models.SubscriberEmail, int) error {
		return fmt.Errorf("%w: 422", email.ErrFatal)
	}
	w := newWorker(t, s, gw, Config{
		MaxSendAttempts:      5,
		RetryInitialInterval: time.Millisecond,
		RetryMaxInterval:     time.Millisecond,
	})

	outcome, err := w.TryExecuteTask(context.Background())
	require.NoError(t, err)
	require.Equal(t, TaskCompleted, outcome)
	require.Equal(t, 1, gw.count())
	require.Zero(t, pending(t, s))
}

type brokenIssues struct {
	store.IssueStore
}

func (brokenIssues) GetIssue(context.Context, store.Tx, uuid.UUID) (*models.NewsletterIssue, error) {
	return nil, fmt.Errorf("%w: connection reset", store.ErrTransient)
}

func TestTryExecuteTask_StoreErrorLeavesTask(t *testing.T) {
	s := memory.NewStore()
	seedQueue(t, s, "reader0@example.com")
	gw := newRecordingGateway()
	w, err := NewDeliveryWorker(s, brokenIssues{IssueStore: s}, gw, Config{})
	require.NoError(t, err)

	_, err = w.TryExecuteTask(context.Background())
	require.ErrorIs(t, err, store.ErrTransient)
	require.Zero(t, gw.count())
	require.Equal(t, int64(1), pending(t, s))

	// The claim was released.
	claimed, err := s.DequeueTask(context.Background())
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.NoError(t, claimed.Tx.Rollback(context.Background()))
}

func TestTryExecuteTask_ShutdownDuringSendKeepsTask(t *testing.T) {
	s := memory.NewStore()
	seedQueue(t, s, "reader0@example.com")

	ctx, cancel := context.WithCancel(context.Background())
	gw := newRecordingGateway()
	gw.fail = func(models.SubscriberEmail, int) error {
		cancel()
		return fmt.Errorf("%w: %w", email.ErrTransient, context.Canceled)
	}
	w := newWorker(t, s, gw, Config{})

	_, err := w.TryExecuteTask(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, int64(1), pending(t, s))
}

func TestRun_ConcurrentWorkersClaimDisjointTasks(t *testing.T) {
	s := memory.NewStore()
	seedQueue(t, s, readers(25)...)
	gw := newRecordingGateway()
	w := newWorker(t, s, gw, Config{
		Concurrency:  4,
		IdleInterval: 5 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		n, err := s.PendingTasks(context.Background())
		return err == nil && n == 0
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	require.Equal(t, 25, gw.count())
	gw.mu.Lock()
	defer gw.mu.Unlock()
	for recipient, n := range gw.calls {
		require.Equal(t, 1, n, "recipient %s sent %d times", recipient, n)
	}
}

type flakyQueue struct {
	store.DeliveryQueue
	mu       sync.Mutex
	failures int
}

func (q *flakyQueue) DequeueTask(ctx context.Context) (*store.ClaimedTask, error) {
	q.mu.Lock()
	if q.failures > 0 {
		q.failures--
		q.mu.Unlock()
		return nil, errors.New("connection refused")
	}
	q.mu.Unlock()
	return q.DeliveryQueue.DequeueTask(ctx)
}

func TestRun_RecoversFromErrors(t *testing.T) {
	s := memory.NewStore()
	seedQueue(t, s, readers(2)...)
	gw := newRecordingGateway()
	w, err := NewDeliveryWorker(&flakyQueue{DeliveryQueue: s, failures: 3}, s, gw, Config{
		IdleInterval:  5 * time.Millisecond,
		ErrorInterval: time.Millisecond,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		return gw.count() == 2
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	require.Zero(t, pending(t, s))
}

func TestExecutionOutcomeString(t *testing.T) {
	require.Equal(t, "task_completed", TaskCompleted.String())
	require.Equal(t, "empty_queue", EmptyQueue.String())
	require.Equal(t, "unknown", ExecutionOutcome(0).String())
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())
	require.Equal(t, 10*time.Second, cfg.IdleInterval)
	require.Equal(t, time.Second, cfg.ErrorInterval)
	require.Equal(t, 1, cfg.MaxSendAttempts)

	cfg.Concurrency = -1
	require.Error(t, cfg.Validate())
}
