package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/wolfeidau/newsletter/internal/store"
)

// querier is the subset of pgx shared by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// pgTx adapts pgx.Tx to store.Tx, mapping driver errors on the way out.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Commit(ctx context.Context) error {
	return mapPostgresError(t.tx.Commit(ctx))
}

func (t *pgTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return mapPostgresError(err)
}

func unwrapTx(tx store.Tx) (pgx.Tx, error) {
	t, ok := tx.(*pgTx)
	if !ok || t == nil {
		return nil, store.ErrForeignTx
	}
	return t.tx, nil
}

// rollback is used on error paths where the original error is what matters.
func rollback(ctx context.Context, tx pgx.Tx) {
	_ = tx.Rollback(context.WithoutCancel(ctx))
}
