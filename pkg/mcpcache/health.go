package mcpcache

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// scheduleHealthCheck arms the periodic liveness sweep for name,
// cancelling and replacing any sweep already running for it.
func (m *Manager) scheduleHealthCheck(name string) {
	if m.closed.Load() {
		return
	}
	ctx, cancel := context.WithCancel(m.ctx)

	m.healthMu.Lock()
	if prev, ok := m.healthStops[name]; ok {
		prev()
	}
	m.healthStops[name] = cancel
	m.healthMu.Unlock()

	if !m.healthRuns.Go(func() { m.healthLoop(ctx, name) }) {
		cancel()
		m.healthMu.Lock()
		delete(m.healthStops, name)
		m.healthMu.Unlock()
	}
}

// cancelHealthCheck stops the sweep for name, if one is running.
func (m *Manager) cancelHealthCheck(name string) {
	m.healthMu.Lock()
	cancel, ok := m.healthStops[name]
	if ok {
		delete(m.healthStops, name)
	}
	m.healthMu.Unlock()
	if ok {
		cancel()
	}
}

func (m *Manager) healthLoop(ctx context.Context, name string) {
	ticker := time.NewTicker(m.opts.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.performHealthCheck(name)
		}
	}
}

// performHealthCheck runs one sweep for name. The sweep does no I/O: it
// reads registry state and arranges background repair where needed.
func (m *Manager) performHealthCheck(name string) {
	v, ok := m.connections.Load(name)
	if !ok {
		m.cancelHealthCheck(name)
		return
	}
	conn := v.(*connection)
	switch conn.currentState() {
	case stateConnected:
		if conn.currentHandle() == nil {
			m.log.Warn("connected entry has no handle, recycling", zap.String("server", name))
			conn.transition(stateConnected, stateClosed)
			m.triggerRebuild(name)
			return
		}
		if pending := conn.pendingCount(); pending > m.opts.PendingThreshold {
			m.log.Warn("pending requests above threshold, recycling",
				zap.String("server", name),
				zap.Int32("pending", pending),
				zap.Int32("threshold", m.opts.PendingThreshold))
			conn.transition(stateConnected, stateClosed)
			m.triggerRebuild(name)
			return
		}
		m.log.Debug("connection healthy",
			zap.String("server", name),
			zap.Int32("pending", conn.pendingCount()))
	case stateClosed, stateClosing:
		m.log.Info("dead connection found by health check, rebuilding", zap.String("server", name))
		m.triggerRebuild(name)
	case stateReconnecting:
		// A creation or rebuild task owns the slot.
	}
}
