package matter

import (
	"time"

	"github.com/pion/logging"

	"github.com/matterkeep/sessiond/pkg/session"
)

// ManagerConfig holds shared configuration for assembling a session
// subsystem instance: storage, logging, and MRP timing defaults.
//
// It covers storage, logging, and MRP timing, scoped down to what
// session.Manager and credentials.Issuer need.
type ManagerConfig struct {
	// Storage is the persistence interface. Required.
	Storage Storage

	// LoggerFactory creates scoped loggers for each collaborator.
	// Defaults to logging.NewDefaultLoggerFactory() when nil.
	LoggerFactory logging.LoggerFactory

	// MaxSessions bounds the secure session pool (default: 16).
	MaxSessions int

	// MRP Parameters - Optional (uses defaults if zero)
	IdleRetransTimeout   time.Duration // MRP_RETRY_INTERVAL_IDLE (default: 500ms)
	ActiveRetransTimeout time.Duration // MRP_RETRY_INTERVAL_ACTIVE (default: 300ms)
	ActiveThreshold      time.Duration // MRP_ACTIVE_THRESHOLD (default: 4s)

	// System is the clock/timer abstraction driving the session manager's
	// idle/hang sweep and MRP retransmit backoff. Defaults to
	// session.RealSystemLayer{} when nil.
	System session.SystemLayer

	// SweepInterval is how often the session manager's idle sweep checks
	// every live session for OnSessionHang (default: session.DefaultSweepInterval).
	SweepInterval time.Duration
}

// Validate checks the configuration for errors.
func (c *ManagerConfig) Validate() error {
	if c.Storage == nil {
		return ErrStorageRequired
	}
	return nil
}

// ApplyDefaults fills in default values for unset fields.
func (c *ManagerConfig) ApplyDefaults() {
	if c.LoggerFactory == nil {
		c.LoggerFactory = logging.NewDefaultLoggerFactory()
	}

	if c.MaxSessions == 0 {
		c.MaxSessions = session.DefaultMaxSessions
	}

	if c.IdleRetransTimeout == 0 {
		c.IdleRetransTimeout = 500 * time.Millisecond
	}

	if c.ActiveRetransTimeout == 0 {
		c.ActiveRetransTimeout = 300 * time.Millisecond
	}

	if c.ActiveThreshold == 0 {
		c.ActiveThreshold = 4 * time.Second
	}

	if c.System == nil {
		c.System = session.RealSystemLayer{}
	}

	if c.SweepInterval == 0 {
		c.SweepInterval = session.DefaultSweepInterval
	}
}

// SessionParams returns MRP session parameters from config.
func (c *ManagerConfig) SessionParams() session.Params {
	return session.Params{
		IdleInterval:    c.IdleRetransTimeout,
		ActiveInterval:  c.ActiveRetransTimeout,
		ActiveThreshold: c.ActiveThreshold,
	}
}
