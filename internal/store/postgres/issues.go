package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/wolfeidau/newsletter/internal/models"
	"github.com/wolfeidau/newsletter/internal/store"
)

func (s *Store) InsertIssue(ctx context.Context, tx store.Tx, issue *models.NewsletterIssue) error {
	q, err := s.conn(tx)
	if err != nil {
		return err
	}

	_, err = q.Exec(ctx, `
		INSERT INTO newsletter_issues (newsletter_issue_id, title, text_content, html_content, published_at)
		VALUES ($1, $2, $3, $4, $5)
	`, issue.ID, issue.Title, issue.TextContent, issue.HTMLContent, issue.PublishedAt)
	if err != nil {
		return fmt.Errorf("failed to insert newsletter issue: %w", mapPostgresError(err))
	}

	return nil
}

// EnqueueDeliveryTasks copies every confirmed subscriber into the queue with
// a single INSERT ... SELECT, so the subscriber snapshot and the inserts see
// the same view of subscriptions.
func (s *Store) EnqueueDeliveryTasks(ctx context.Context, tx store.Tx, issueID uuid.UUID) (int64, error) {
	q, err := s.conn(tx)
	if err != nil {
		return 0, err
	}

	tag, err := q.Exec(ctx, `
		INSERT INTO issue_delivery_queue (newsletter_issue_id, subscriber_email)
		SELECT $1, email
		FROM subscriptions
		WHERE status = $2
	`, issueID, string(models.SubscriptionStatusConfirmed))
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue delivery tasks: %w", mapPostgresError(err))
	}

	return tag.RowsAffected(), nil
}

func (s *Store) GetIssue(ctx context.Context, tx store.Tx, issueID uuid.UUID) (*models.NewsletterIssue, error) {
	q, err := s.conn(tx)
	if err != nil {
		return nil, err
	}

	issue := &models.NewsletterIssue{}
	err = q.QueryRow(ctx, `
		SELECT newsletter_issue_id, title, text_content, html_content, published_at
		FROM newsletter_issues
		WHERE newsletter_issue_id = $1
	`, issueID).Scan(&issue.ID, &issue.Title, &issue.TextContent, &issue.HTMLContent, &issue.PublishedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load newsletter issue: %w", mapPostgresError(err))
	}

	return issue, nil
}
