// Package idempotency admits a (principal, idempotency key) pair for at most
// one execution and replays the response saved by that execution.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/newsletter/internal/models"
	"github.com/wolfeidau/newsletter/internal/store"
)

const abortTimeout = 5 * time.Second

// Gate is stateless; all coordination happens through the store.
type Gate struct {
	store store.IdempotencyStore
}

func NewGate(s store.IdempotencyStore) *Gate {
	return &Gate{store: s}
}

// Begin reserves the key or loads the response of the execution that already
// reserved it. The key must already be validated.
//
// A concurrent execution that has not committed yet is waited on for at most
// the store's lock timeout. If it is still open after that, or disappears
// between the conflict and the lookup, Begin returns an error wrapping
// store.ErrTransient and the caller should resubmit with the same key.
func (g *Gate) Begin(ctx context.Context, principalID uuid.UUID, key models.IdempotencyKey) (NextAction, error) {
	tx, reserved, err := g.store.TryReserve(ctx, principalID, key)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve idempotency key: %w", err)
	}

	if reserved {
		return StartProcessing{Tx: tx}, nil
	}

	resp, err := g.store.GetSavedResponse(ctx, principalID, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: reservation for key %q released during lookup", store.ErrTransient, key)
		}
		return nil, fmt.Errorf("failed to load saved response: %w", err)
	}

	log.Debug().
		Str("principal_id", principalID.String()).
		Str("idempotency_key", key.String()).
		Int("status_code", resp.StatusCode).
		Msg("Replaying saved response")

	return ReturnSavedResponse{Response: resp}, nil
}

// SaveResponse stores resp against the reservation held by tx and commits,
// making every write issued on tx visible together with the response. On
// failure the transaction is rolled back. The response is returned unchanged.
func (g *Gate) SaveResponse(ctx context.Context, tx store.Tx, principalID uuid.UUID, key models.IdempotencyKey, resp *models.SavedResponse) (*models.SavedResponse, error) {
	if err := g.store.SaveResponse(ctx, tx, principalID, key, resp); err != nil {
		g.Abort(ctx, tx)
		return nil, fmt.Errorf("failed to save response: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		g.Abort(ctx, tx)
		return nil, fmt.Errorf("failed to commit response: %w", err)
	}

	return resp, nil
}

// Abort rolls back a StartProcessing transaction, releasing the reservation.
// It runs even when ctx is already canceled.
func (g *Gate) Abort(ctx context.Context, tx store.Tx) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), abortTimeout)
	defer cancel()

	if err := tx.Rollback(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to roll back idempotency reservation")
	}
}
