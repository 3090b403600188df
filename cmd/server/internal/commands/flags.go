package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/newsletter/internal/email"
	"github.com/wolfeidau/newsletter/internal/models"
	"github.com/wolfeidau/newsletter/internal/store"
	memorystore "github.com/wolfeidau/newsletter/internal/store/memory"
	postgresstore "github.com/wolfeidau/newsletter/internal/store/postgres"
	"github.com/wolfeidau/newsletter/internal/worker"
)

type StoreFlags struct {
	StoreType string             `help:"store type (memory or postgres)" default:"memory" env:"NEWSLETTER_STORE_TYPE" enum:"memory,postgres"`
	Postgres  PostgresStoreFlags `embed:"" prefix:"postgres-"`

	ReservationLockTimeout time.Duration `help:"how long a duplicate request waits on an in-flight one with the same idempotency key" default:"5s" env:"NEWSLETTER_RESERVATION_LOCK_TIMEOUT"`
}

type PostgresStoreFlags struct {
	// Connection Configuration
	ConnString string `help:"PostgreSQL connection string" env:"POSTGRES_CONNECTION_STRING"`

	// Connection Pool Configuration
	MaxConns        int32         `help:"maximum number of connections in pool" default:"20"`
	MinConns        int32         `help:"minimum number of connections in pool" default:"2"`
	MaxConnLifetime time.Duration `help:"maximum connection lifetime" default:"1h"`
	MaxConnIdleTime time.Duration `help:"maximum connection idle time" default:"30m"`

	// Migration Configuration
	AutoMigrate bool `help:"run database migrations on startup" default:"false" env:"NEWSLETTER_POSTGRES_AUTO_MIGRATE"`
}

func (s *PostgresStoreFlags) validate() error {
	if s.ConnString == "" {
		return errors.New("PostgreSQL connection string is required (--postgres-conn-string or POSTGRES_CONNECTION_STRING)")
	}
	return nil
}

func (s *PostgresStoreFlags) poolConfig() *postgresstore.PoolConfig {
	return &postgresstore.PoolConfig{
		ConnString:      s.ConnString,
		MaxConns:        s.MaxConns,
		MinConns:        s.MinConns,
		MaxConnLifetime: s.MaxConnLifetime,
		MaxConnIdleTime: s.MaxConnIdleTime,
	}
}

// open creates and starts the selected store. The caller must Stop it.
func (s *StoreFlags) open(ctx context.Context) (store.Store, error) {
	var st store.Store

	switch s.StoreType {
	case "postgres":
		if err := s.Postgres.validate(); err != nil {
			return nil, err
		}

		pool, err := postgresstore.NewPool(ctx, s.Postgres.poolConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to create connection pool: %w", err)
		}

		pgStore, err := postgresstore.NewStore(ctx, pool, &postgresstore.StoreConfig{
			ReservationLockTimeout: s.ReservationLockTimeout,
			AutoMigrate:            s.Postgres.AutoMigrate,
		})
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to create postgres store: %w", err)
		}

		log.Info().Msg("Using PostgreSQL store")
		st = pgStore
	default:
		log.Warn().Msg("Using in-memory store, data is lost on restart")
		st = memorystore.NewStore(memorystore.WithReservationLockTimeout(s.ReservationLockTimeout))
	}

	if err := st.Start(); err != nil {
		return nil, fmt.Errorf("failed to start store: %w", err)
	}

	return st, nil
}

// seedSubscribers adds each address as a confirmed subscriber. Existing
// subscribers are left alone.
func seedSubscribers(ctx context.Context, st store.SubscriberStore, addresses []string) error {
	for _, address := range addresses {
		parsed, err := models.ParseSubscriberEmail(address)
		if err != nil {
			return fmt.Errorf("invalid seed subscriber: %w", err)
		}

		err = st.AddSubscriber(ctx, &models.Subscriber{
			ID:           uuid.Must(uuid.NewV7()),
			Email:        parsed.String(),
			Name:         parsed.String(),
			SubscribedAt: time.Now().UTC(),
			Status:       models.SubscriptionStatusConfirmed,
		})
		if errors.Is(err, store.ErrAlreadyExists) {
			log.Debug().Str("email", parsed.String()).Msg("Seed subscriber already exists")
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to seed subscriber: %w", err)
		}

		log.Info().Str("email", parsed.String()).Msg("Seeded confirmed subscriber")
	}
	return nil
}

type EmailFlags struct {
	BaseURL            string        `help:"email provider API base URL, deliveries are only logged when empty" env:"NEWSLETTER_EMAIL_BASE_URL"`
	Sender             string        `help:"From address of every message" env:"NEWSLETTER_EMAIL_SENDER"`
	AuthorizationToken string        `help:"email provider server token" env:"NEWSLETTER_EMAIL_AUTHORIZATION_TOKEN"`
	Timeout            time.Duration `help:"timeout of each provider request" default:"10s"`
	RatePerSecond      float64       `help:"maximum sends per second per process, 0 is unlimited" default:"0"`
	Burst              int           `help:"burst size of the send rate limit" default:"1"`
}

func (e *EmailFlags) gateway() (email.Gateway, error) {
	if e.BaseURL == "" {
		log.Warn().Msg("No email base URL configured, deliveries will only be logged")
		return email.LogGateway{}, nil
	}

	return email.NewClient(email.Config{
		BaseURL:            e.BaseURL,
		Sender:             e.Sender,
		AuthorizationToken: e.AuthorizationToken,
		Timeout:            e.Timeout,
		RatePerSecond:      e.RatePerSecond,
		Burst:              e.Burst,
	}, nil)
}

type WorkerFlags struct {
	Concurrency          int           `help:"number of delivery loops" default:"1" env:"NEWSLETTER_WORKER_CONCURRENCY"`
	IdleInterval         time.Duration `help:"pause after finding the queue empty" default:"10s"`
	ErrorInterval        time.Duration `help:"pause after a failed iteration" default:"1s"`
	MaxSendAttempts      int           `help:"gateway calls per task before it is dropped, 1 means deliver once" default:"1"`
	RetryInitialInterval time.Duration `help:"initial backoff between send attempts" default:"500ms"`
	RetryMaxInterval     time.Duration `help:"maximum backoff between send attempts" default:"5s"`
}

func (w *WorkerFlags) config() worker.Config {
	return worker.Config{
		IdleInterval:         w.IdleInterval,
		ErrorInterval:        w.ErrorInterval,
		Concurrency:          w.Concurrency,
		MaxSendAttempts:      w.MaxSendAttempts,
		RetryInitialInterval: w.RetryInitialInterval,
		RetryMaxInterval:     w.RetryMaxInterval,
	}
}

// newDeliveryWorker builds a worker over st using the configured gateway.
func newDeliveryWorker(st store.Store, emailFlags *EmailFlags, workerFlags *WorkerFlags) (*worker.DeliveryWorker, error) {
	gateway, err := emailFlags.gateway()
	if err != nil {
		return nil, err
	}
	return worker.NewDeliveryWorker(st, st, gateway, workerFlags.config())
}
