package postgres

import (
	"context"
	"fmt"

	"github.com/wolfeidau/newsletter/internal/models"
)

// AddSubscriber inserts a subscription row. A duplicate email wraps
// store.ErrAlreadyExists.
func (s *Store) AddSubscriber(ctx context.Context, sub *models.Subscriber) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO subscriptions (id, email, name, subscribed_at, status)
		VALUES ($1, $2, $3, $4, $5)
	`, sub.ID, sub.Email, sub.Name, sub.SubscribedAt, string(sub.Status))
	if err != nil {
		return fmt.Errorf("failed to add subscriber: %w", mapPostgresError(err))
	}
	return nil
}
