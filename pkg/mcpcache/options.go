package mcpcache

import (
	"time"

	"go.uber.org/zap"
)

const (
	defaultMaxRetries          = 3
	defaultRebuildDelay        = 100 * time.Millisecond
	defaultHealthCheckInterval = 5 * time.Second
	defaultPendingThreshold    = 100
	defaultCloseTimeout        = 5 * time.Second
	defaultDrainTimeout        = 5 * time.Second
)

// Options tune a Manager. The zero value is usable; unset fields fall
// back to the defaults above.
type Options struct {
	// MaxRetries is how many extra attempts ExecuteWithRetry makes after
	// an attempt fails on a connection-related error.
	MaxRetries int

	// RebuildDelay is the pause between closing a dead connection and
	// dialing its replacement.
	RebuildDelay time.Duration

	// HealthCheckInterval is the fixed delay between liveness sweeps of
	// a connected server.
	HealthCheckInterval time.Duration

	// PendingThreshold is the in-flight request count above which a
	// connection counts as stuck and is recycled.
	PendingThreshold int32

	// CloseTimeout bounds the graceful phase of a connection close; a
	// close still running after it is abandoned.
	CloseTimeout time.Duration

	// DrainTimeout bounds how long Shutdown waits on each background
	// task family.
	DrainTimeout time.Duration

	// Logger receives structured diagnostics. Defaults to a no-op
	// logger.
	Logger *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = defaultMaxRetries
	}
	if o.RebuildDelay <= 0 {
		o.RebuildDelay = defaultRebuildDelay
	}
	if o.HealthCheckInterval <= 0 {
		o.HealthCheckInterval = defaultHealthCheckInterval
	}
	if o.PendingThreshold <= 0 {
		o.PendingThreshold = defaultPendingThreshold
	}
	if o.CloseTimeout <= 0 {
		o.CloseTimeout = defaultCloseTimeout
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = defaultDrainTimeout
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}
