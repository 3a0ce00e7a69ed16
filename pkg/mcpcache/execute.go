package mcpcache

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ErrUnavailable marks a server the cache could not produce a live
// connection for right now. The condition is transient: a background
// task owns or will own the slot, and callers retry at their own pace.
var ErrUnavailable = errors.New("mcpcache: connection unavailable")

// ExecuteWithRetry runs call against a live connection for the named
// server. A connection-related failure marks the connection dead,
// triggers a background rebuild, and retries immediately against
// whatever the registry yields next, up to MaxRetries extra attempts.
// Logical errors from a healthy server pass through unchanged on first
// occurrence. An attempt that finds no usable connection fails the whole
// call with ErrUnavailable; there is no waiting here.
func ExecuteWithRetry[T any](ctx context.Context, m *Manager, serverName string, call func(ctx context.Context, h Handle) (T, error)) (T, error) {
	var zero T
	var lastErr error
	maxRetries := m.opts.MaxRetries

	for attempt := 0; attempt <= maxRetries; attempt++ {
		conn := m.connectionWithRetry(serverName)
		if conn == nil || conn.currentState() != stateConnected {
			return zero, fmt.Errorf("no valid connection for server %q: %w", serverName, ErrUnavailable)
		}
		handle := conn.currentHandle()
		if handle == nil {
			return zero, fmt.Errorf("no handle for connected server %q: %w", serverName, ErrUnavailable)
		}

		res, err := func() (T, error) {
			conn.beginRequest()
			defer conn.endRequest()
			return call(ctx, handle)
		}()
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !IsConnectionError(err) {
			return zero, err
		}
		m.log.Warn("connection error during request",
			zap.String("server", serverName),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", maxRetries+1),
			zap.Error(err))
		m.HandleConnectionError(serverName)
	}
	return zero, fmt.Errorf("execute failed after %d attempts for server %q: %w", maxRetries+1, serverName, lastErr)
}
