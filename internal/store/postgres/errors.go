package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/wolfeidau/newsletter/internal/store"
)

// mapPostgresError maps PostgreSQL-specific errors to sentinel errors.
// Errors which may succeed on retry wrap store.ErrTransient as well as the
// original error.
func mapPostgresError(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		var connErr *pgconn.ConnectError
		if errors.As(err, &connErr) || pgconn.Timeout(err) {
			return fmt.Errorf("%w: %w", store.ErrTransient, err)
		}
		return err
	}

	switch pgErr.Code {
	case pgerrcode.UniqueViolation:
		return fmt.Errorf("%w: unique constraint violation: %s: %w", store.ErrAlreadyExists, pgErr.ConstraintName, err)

	case pgerrcode.ForeignKeyViolation:
		return fmt.Errorf("%w: %s", store.ErrNotFound, pgErr.Detail)

	case pgerrcode.CheckViolation:
		if pgErr.ConstraintName == "idempotency_response_complete" {
			return fmt.Errorf("%w: %s", store.ErrInconsistentState, pgErr.Message)
		}
		return fmt.Errorf("check constraint violation: %s: %w", pgErr.ConstraintName, err)

	case pgerrcode.LockNotAvailable:
		return fmt.Errorf("%w: lock wait timed out: %w", store.ErrTransient, err)

	case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected:
		return fmt.Errorf("%w: transaction conflict: %w", store.ErrTransient, err)

	case pgerrcode.ConnectionException,
		pgerrcode.ConnectionDoesNotExist,
		pgerrcode.ConnectionFailure,
		pgerrcode.CannotConnectNow,
		pgerrcode.SQLClientUnableToEstablishSQLConnection:
		return fmt.Errorf("%w: database connection error: %w", store.ErrTransient, err)

	case pgerrcode.AdminShutdown,
		pgerrcode.CrashShutdown:
		return fmt.Errorf("%w: database server unavailable: %w", store.ErrTransient, err)

	case pgerrcode.QueryCanceled:
		return fmt.Errorf("%w: query canceled: %w", store.ErrTransient, err)

	case pgerrcode.InsufficientResources,
		pgerrcode.DiskFull,
		pgerrcode.OutOfMemory,
		pgerrcode.TooManyConnections:
		return fmt.Errorf("%w: database resource limit: %w", store.ErrTransient, err)

	default:
		return fmt.Errorf("postgres error [%s]: %s (detail: %s, hint: %s): %w",
			pgErr.Code, pgErr.Message, pgErr.Detail, pgErr.Hint, err)
	}
}
