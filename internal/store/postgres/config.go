package postgres

import (
	"fmt"
	"time"
)

// StoreConfig holds settings for the newsletter store. Pool configuration is
// handled separately via PoolConfig.
type StoreConfig struct {
	// ReservationLockTimeout bounds how long an idempotency reservation waits
	// on a concurrent, uncommitted reservation for the same key. It is applied
	// with SET LOCAL lock_timeout on the reservation transaction.
	// Default: 5s
	ReservationLockTimeout time.Duration

	// AutoMigrate runs the embedded migrations when the store is created.
	AutoMigrate bool

	// PoolStatsInterval is how often connection pool statistics are logged.
	// Default: 30s
	PoolStatsInterval time.Duration
}

// Validate checks that the configuration is valid.
func (c *StoreConfig) Validate() error {
	if c.ReservationLockTimeout < time.Millisecond {
		return fmt.Errorf("reservation lock timeout must be at least 1ms, got %s", c.ReservationLockTimeout)
	}
	if c.PoolStatsInterval <= 0 {
		return fmt.Errorf("pool stats interval must be positive")
	}
	return nil
}

// ApplyDefaults applies default values to unset configuration fields.
func (c *StoreConfig) ApplyDefaults() {
	if c.ReservationLockTimeout == 0 {
		c.ReservationLockTimeout = 5 * time.Second
	}
	if c.PoolStatsInterval == 0 {
		c.PoolStatsInterval = 30 * time.Second
	}
}

// lockTimeoutSetting renders a duration in the form accepted by lock_timeout.
func lockTimeoutSetting(d time.Duration) string {
	return fmt.Sprintf("%dms", d.Milliseconds())
}
