package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/wolfeidau/newsletter/internal/models"
)

// Sentinel errors for common error conditions
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	// ErrTransient marks failures which may succeed when retried: lost
	// connections, lock timeouts, serialization failures.
	ErrTransient = errors.New("transient store error")
	// ErrInconsistentState is returned when an idempotency reservation exists
	// without a saved response, or a write would break that invariant.
	ErrInconsistentState = errors.New("inconsistent idempotency state")
	// ErrForeignTx is returned when a Tx created by one store is passed to another.
	ErrForeignTx = errors.New("transaction does not belong to this store")
)

// Tx is an open store transaction. Ownership passes to whoever receives it;
// that party must call exactly one of Commit or Rollback. Rollback after
// Commit is a no-op.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// IdempotencyStore persists (principal, idempotency key) reservations and the
// responses saved against them.
type IdempotencyStore interface {
	// TryReserve inserts a reservation row inside a new transaction using an
	// atomic insert-if-absent. When the row was inserted the open transaction
	// is returned with reserved set to true. When a reservation already exists
	// the transaction is rolled back and (nil, false, nil) is returned. A
	// concurrent uncommitted reservation for the same key is waited on for at
	// most the store's lock timeout, after which an ErrTransient is returned.
	TryReserve(ctx context.Context, principalID uuid.UUID, key models.IdempotencyKey) (tx Tx, reserved bool, err error)

	// GetSavedResponse returns the committed response for a key. It returns
	// ErrNotFound when there is no reservation and ErrInconsistentState when a
	// reservation exists without a response.
	GetSavedResponse(ctx context.Context, principalID uuid.UUID, key models.IdempotencyKey) (*models.SavedResponse, error)

	// SaveResponse writes the response into the reservation held by tx. It
	// does not commit.
	SaveResponse(ctx context.Context, tx Tx, principalID uuid.UUID, key models.IdempotencyKey, resp *models.SavedResponse) error
}

// IssueStore persists newsletter issues and fans them out to the delivery queue.
type IssueStore interface {
	InsertIssue(ctx context.Context, tx Tx, issue *models.NewsletterIssue) error

	// EnqueueDeliveryTasks inserts one delivery task per confirmed subscriber,
	// using a snapshot of the subscriptions taken inside tx. It returns the
	// number of tasks created.
	EnqueueDeliveryTasks(ctx context.Context, tx Tx, issueID uuid.UUID) (int64, error)

	GetIssue(ctx context.Context, tx Tx, issueID uuid.UUID) (*models.NewsletterIssue, error)
}

// DeliveryQueue is the durable queue of pending delivery tasks.
type DeliveryQueue interface {
	// DequeueTask opens a transaction and claims one task with an exclusive
	// lock, skipping tasks claimed by other transactions. It returns nil when
	// no unclaimed task exists.
	DequeueTask(ctx context.Context) (*ClaimedTask, error)

	// DeleteTask removes a claimed task inside its transaction.
	DeleteTask(ctx context.Context, tx Tx, task models.DeliveryTask) error

	// PendingTasks counts the tasks still queued, claimed or not.
	PendingTasks(ctx context.Context) (int64, error)
}

// SubscriberStore is the narrow view of subscription management this service
// needs: seeding subscribers for development and tests.
type SubscriberStore interface {
	AddSubscriber(ctx context.Context, sub *models.Subscriber) error
}

// Store is implemented by every backend.
type Store interface {
	IdempotencyStore
	IssueStore
	DeliveryQueue
	SubscriberStore

	Start() error
	Stop() error
}

// ClaimedTask is a task locked by an open transaction. The holder owns Tx.
type ClaimedTask struct {
	Tx   Tx
	Task models.DeliveryTask
}
