package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/wolfeidau/newsletter/internal/models"
	"github.com/wolfeidau/newsletter/internal/store"
)

// DequeueTask claims one task using SELECT FOR UPDATE SKIP LOCKED. The row lock
// is held by the returned transaction until it commits or rolls back, so a
// crash before commit leaves the task in the queue for another worker.
func (s *Store) DequeueTask(ctx context.Context) (*store.ClaimedTask, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", mapPostgresError(err))
	}

	var task models.DeliveryTask
	err = tx.QueryRow(ctx, `
		SELECT newsletter_issue_id, subscriber_email
		FROM issue_delivery_queue
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`).Scan(&task.IssueID, &task.SubscriberEmail)
	if err != nil {
		rollback(ctx, tx)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to dequeue delivery task: %w", mapPostgresError(err))
	}

	return &store.ClaimedTask{Tx: &pgTx{tx: tx}, Task: task}, nil
}

func (s *Store) DeleteTask(ctx context.Context, tx store.Tx, task models.DeliveryTask) error {
	ptx, err := unwrapTx(tx)
	if err != nil {
		return err
	}

	tag, err := ptx.Exec(ctx, `
		DELETE FROM issue_delivery_queue
		WHERE newsletter_issue_id = $1 AND subscriber_email = $2
	`, task.IssueID, task.SubscriberEmail)
	if err != nil {
		return fmt.Errorf("failed to delete delivery task: %w", mapPostgresError(err))
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delivery task %s/%s: %w", task.IssueID, task.SubscriberEmail, store.ErrNotFound)
	}

	return nil
}

func (s *Store) PendingTasks(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM issue_delivery_queue`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count delivery tasks: %w", mapPostgresError(err))
	}
	return count, nil
}
