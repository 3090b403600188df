package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/newsletter/internal/models"
	"github.com/wolfeidau/newsletter/internal/store"
	"github.com/wolfeidau/newsletter/internal/util"
)

// TryReserve inserts the reservation row with ON CONFLICT DO NOTHING. When a
// concurrent transaction holds an uncommitted row for the same key the insert
// waits on the primary key index, bounded by lock_timeout, then observes
// the conflict once that transaction commits.
func (s *Store) TryReserve(ctx context.Context, principalID uuid.UUID, key models.IdempotencyKey) (store.Tx, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", mapPostgresError(err))
	}

	_, err = tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, lockTimeoutSetting(s.cfg.ReservationLockTimeout))
	if err != nil {
		rollback(ctx, tx)
		return nil, false, fmt.Errorf("failed to set lock timeout: %w", mapPostgresError(err))
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO idempotency (user_id, idempotency_key, created_at)
		VALUES ($1, $2, now())
		ON CONFLICT DO NOTHING
	`, principalID, key.String())
	if err != nil {
		rollback(ctx, tx)
		return nil, false, fmt.Errorf("failed to insert idempotency reservation: %w", mapPostgresError(err))
	}

	if tag.RowsAffected() == 0 {
		rollback(ctx, tx)
		log.Debug().
			Str("principal_id", principalID.String()).
			Str("idempotency_key", key.String()).
			Msg("Idempotency key already reserved")
		return nil, false, nil
	}

	return &pgTx{tx: tx}, true, nil
}

// GetSavedResponse reads the committed response for a key.
func (s *Store) GetSavedResponse(ctx context.Context, principalID uuid.UUID, key models.IdempotencyKey) (*models.SavedResponse, error) {
	var (
		statusCode *int16
		headers    []byte
		body       []byte
	)

	err := s.pool.QueryRow(ctx, `
		SELECT response_status_code, response_headers, response_body
		FROM idempotency
		WHERE user_id = $1 AND idempotency_key = $2
	`, principalID, key.String()).Scan(&statusCode, &headers, &body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load saved response: %w", mapPostgresError(err))
	}

	if statusCode == nil || headers == nil || body == nil {
		return nil, fmt.Errorf("%w: reservation for key %q has no saved response", store.ErrInconsistentState, key)
	}

	resp := &models.SavedResponse{
		StatusCode: int(*statusCode),
		Body:       body,
	}
	if err := json.Unmarshal(headers, &resp.Headers); err != nil {
		return nil, fmt.Errorf("failed to decode saved response headers: %w", err)
	}

	return resp, nil
}

// SaveResponse completes the reservation held by tx. The update only matches
// a reservation which has no response yet.
func (s *Store) SaveResponse(ctx context.Context, tx store.Tx, principalID uuid.UUID, key models.IdempotencyKey, resp *models.SavedResponse) error {
	if resp == nil {
		return fmt.Errorf("%w: response is required", store.ErrInconsistentState)
	}

	ptx, err := unwrapTx(tx)
	if err != nil {
		return err
	}

	headers := resp.Headers
	if headers == nil {
		headers = []models.HeaderPair{}
	}
	headersJSON, err := json.Marshal(headers)
	if err != nil {
		return fmt.Errorf("failed to encode response headers: %w", err)
	}

	body := resp.Body
	if body == nil {
		body = []byte{}
	}

	tag, err := ptx.Exec(ctx, `
		UPDATE idempotency
		SET response_status_code = $3,
		    response_headers = $4,
		    response_body = $5
		WHERE user_id = $1
		  AND idempotency_key = $2
		  AND response_status_code IS NULL
	`, principalID, key.String(), util.AsInt16(resp.StatusCode), string(headersJSON), body)
	if err != nil {
		return fmt.Errorf("failed to save response: %w", mapPostgresError(err))
	}

	if tag.RowsAffected() != 1 {
		return fmt.Errorf("%w: no open reservation for key %q", store.ErrInconsistentState, key)
	}

	return nil
}
