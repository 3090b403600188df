package postgres

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/newsletter/internal/store"
)

var _ store.Store = (*Store)(nil)

// Store implements store.Store on PostgreSQL. Every transaction it hands out
// wraps a pgx.Tx checked out of the pool; the pool connection is returned when
// the transaction is committed or rolled back.
type Store struct {
	pool *pgxpool.Pool
	cfg  *StoreConfig

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewStore creates a PostgreSQL-backed store over an existing pool. The store
// takes ownership of the pool and closes it on Stop.
func NewStore(ctx context.Context, pool *pgxpool.Pool, cfg *StoreConfig) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if cfg == nil {
		cfg = &StoreConfig{}
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.AutoMigrate {
		if err := RunMigrations(ctx, pool); err != nil {
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info().Msg("Database migrations completed")
	}

	return &Store{
		pool:   pool,
		cfg:    cfg,
		stopCh: make(chan struct{}),
	}, nil
}

// Start starts background tasks.
func (s *Store) Start() error {
	log.Info().Msg("Starting PostgreSQL store")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.monitorConnectionPool()
	}()

	return nil
}

// Stop shuts down background tasks and closes the pool.
func (s *Store) Stop() error {
	s.stopOnce.Do(func() {
		log.Info().Msg("Stopping PostgreSQL store")
		close(s.stopCh)
		s.wg.Wait()
		s.pool.Close()
		log.Info().Msg("PostgreSQL store stopped")
	})
	return nil
}

// monitorConnectionPool logs connection pool statistics periodically.
func (s *Store) monitorConnectionPool() {
	ticker := time.NewTicker(s.cfg.PoolStatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stats := s.pool.Stat()
			log.Debug().
				Int32("total_conns", stats.TotalConns()).
				Int32("idle_conns", stats.IdleConns()).
				Int32("acquired_conns", stats.AcquiredConns()).
				Int64("acquire_count", stats.AcquireCount()).
				Dur("acquire_duration", stats.AcquireDuration()).
				Msg("Connection pool stats")
		case <-s.stopCh:
			return
		}
	}
}

// conn returns the transaction when one is supplied, otherwise the pool.
func (s *Store) conn(tx store.Tx) (querier, error) {
	if tx == nil {
		return s.pool, nil
	}
	return unwrapTx(tx)
}
