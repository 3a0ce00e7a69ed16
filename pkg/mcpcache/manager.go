package mcpcache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Settle pauses after closing a handle, giving the server a moment to
// process the shutdown before a replacement dials in.
const (
	gracefulSettleDelay = 200 * time.Millisecond
	forcedSettleDelay   = 100 * time.Millisecond
)

// Manager caches at most one live connection per enabled server and
// keeps each alive through background creation, rebuild, and periodic
// health sweeps. Reads never block: a caller asking for a connection
// that is not immediately usable gets a negative answer while repair
// work is arranged on dedicated goroutines.
type Manager struct {
	opts Options
	log  *zap.Logger

	factory Factory
	repo    ConfigRepository

	// connections maps server name -> *connection; configs holds the
	// last loaded *mcpconn.ServerConfig per name and gates creation
	// dispatch. Both want lock-free reads with atomic inserts.
	connections sync.Map
	configs     sync.Map

	creations  *taskGroup
	rebuilds   *taskGroup
	healthRuns *taskGroup

	healthMu    sync.Mutex
	healthStops map[string]context.CancelFunc

	// ctx is canceled by Shutdown; rebuild pauses and health tickers
	// watch it so in-flight background work unwinds promptly.
	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
}

// NewManager wires a manager around the given connection factory and
// config repository. Call Initialize to load the config snapshot and
// Shutdown to release everything.
func NewManager(factory Factory, repo ConfigRepository, opts Options) (*Manager, error) {
	if factory == nil {
		return nil, fmt.Errorf("mcpcache: factory is required")
	}
	if repo == nil {
		return nil, fmt.Errorf("mcpcache: config repository is required")
	}
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		opts:        opts,
		log:         opts.Logger,
		factory:     factory,
		repo:        repo,
		creations:   newTaskGroup("mcp-connection"),
		rebuilds:    newTaskGroup("mcp-rebuild"),
		healthRuns:  newTaskGroup("mcp-healthcheck"),
		healthStops: make(map[string]context.CancelFunc),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Initialize loads the enabled server configs into the cache. It fails
// soft: a repository error is logged and leaves the manager usable with
// whatever was cached before. Connections are dialed lazily on first
// access, not here.
func (m *Manager) Initialize(ctx context.Context) {
	configs, err := m.repo.Enabled(ctx)
	if err != nil {
		m.log.Error("loading enabled server configs failed", zap.Error(err))
		return
	}
	for _, cfg := range configs {
		m.configs.Store(cfg.Name, cfg)
	}
	m.log.Info("server config cache initialized", zap.Int("servers", len(configs)))
}

// getConnection is the fail-fast read path: it returns the entry for
// name only when immediately usable, arranging background work and
// returning nil otherwise. It never blocks on I/O or locks.
func (m *Manager) getConnection(name string) *connection {
	if v, ok := m.connections.Load(name); ok {
		conn := v.(*connection)
		switch conn.currentState() {
		case stateConnected:
			return conn
		case stateClosed, stateClosing:
			m.log.Info("connection closed, triggering rebuild", zap.String("server", name))
			m.triggerRebuild(name)
			return nil
		default:
			m.log.Debug("connection rebuild in progress", zap.String("server", name))
			return nil
		}
	}

	if _, ok := m.configs.Load(name); !ok {
		m.log.Warn("no config for server", zap.String("server", name))
		return nil
	}
	m.triggerCreation(name)
	return nil
}

// connectionWithRetry performs one acquisition pass: an immediately
// usable connection is returned, anything else arranges background
// repair and yields nil.
func (m *Manager) connectionWithRetry(name string) *connection {
	conn := m.getConnection(name)
	if conn != nil && conn.currentState() == stateConnected {
		return conn
	}
	if conn == nil {
		m.triggerCreation(name)
	} else {
		m.triggerRebuild(name)
	}
	return nil
}

// triggerCreation claims the server's slot with a reconnecting
// placeholder and dials in the background. The placeholder insertion is
// the claim: exactly one task is dispatched per vacant slot, and the
// claim only happens for servers present in the config cache.
func (m *Manager) triggerCreation(name string) {
	if m.closed.Load() {
		return
	}
	if _, ok := m.configs.Load(name); !ok {
		return
	}
	placeholder := newConnection(name, nil)
	if existing, loaded := m.connections.LoadOrStore(name, placeholder); loaded {
		if existing.(*connection).currentState() == stateReconnecting {
			m.log.Debug("connection creation already in progress", zap.String("server", name))
		}
		return
	}
	m.log.Info("starting background connection creation", zap.String("server", name))
	if !m.creations.Go(func() { m.runCreation(placeholder) }) {
		m.connections.CompareAndDelete(name, placeholder)
	}
}

func (m *Manager) runCreation(conn *connection) {
	name := conn.name
	cfg, found, err := m.repo.Lookup(m.ctx, name)
	if err != nil {
		m.log.Error("config lookup failed during creation", zap.String("server", name), zap.Error(err))
		conn.transition(stateReconnecting, stateClosed)
		return
	}
	if !found {
		m.log.Warn("config disappeared before connection creation", zap.String("server", name))
		m.connections.CompareAndDelete(name, conn)
		return
	}

	handle, err := m.factory.Connect(m.ctx, cfg)
	if err != nil {
		m.log.Error("background connection creation failed", zap.String("server", name), zap.Error(err))
		conn.transition(stateReconnecting, stateClosed)
		return
	}
	conn.setHandle(handle)
	if conn.transition(stateReconnecting, stateConnected) {
		m.log.Info("background connection creation succeeded", zap.String("server", name))
		m.scheduleHealthCheck(name)
		return
	}
	// The slot changed owners while we dialed; close the fresh handle
	// rather than leak it.
	conn.setHandle(nil)
	m.closeHandleSafely(handle, name)
}

// triggerRebuild claims a closed slot for rebuild. The CLOSED ->
// RECONNECTING swap happens on the caller's goroutine, before dispatch,
// so concurrent triggers cannot dispatch twice.
func (m *Manager) triggerRebuild(name string) {
	if m.closed.Load() {
		return
	}
	v, ok := m.connections.Load(name)
	if !ok {
		m.triggerCreation(name)
		return
	}
	conn := v.(*connection)
	if conn.currentState() == stateReconnecting {
		m.log.Debug("connection rebuild already in progress", zap.String("server", name))
		return
	}
	if !conn.transition(stateClosed, stateReconnecting) {
		return
	}
	if !m.rebuilds.Go(func() { m.runRebuild(conn) }) {
		// Shutdown raced the claim; put the slot back.
		conn.transition(stateReconnecting, stateClosed)
	}
}

// runRebuild replaces a dead connection under the slot's rebuild lock:
// close the old handle, pause, re-fetch config, dial fresh.
func (m *Manager) runRebuild(conn *connection) {
	name := conn.name
	if !conn.rebuildMu.TryLock() {
		m.log.Debug("rebuild already running", zap.String("server", name))
		return
	}
	defer conn.rebuildMu.Unlock()

	if conn.currentState() == stateConnected {
		m.log.Debug("connection already rebuilt", zap.String("server", name))
		return
	}
	conn.transition(stateClosed, stateReconnecting)

	if old := conn.currentHandle(); old != nil {
		m.closeHandleSafely(old, name)
		conn.setHandle(nil)
	}

	select {
	case <-time.After(m.opts.RebuildDelay):
	case <-m.ctx.Done():
		conn.transition(stateReconnecting, stateClosed)
		return
	}

	cfg, found, err := m.repo.Lookup(m.ctx, name)
	if err != nil || !found {
		if err != nil {
			m.log.Error("config lookup failed during rebuild", zap.String("server", name), zap.Error(err))
		} else {
			m.log.Error("config missing during rebuild", zap.String("server", name))
		}
		conn.transition(stateReconnecting, stateClosed)
		return
	}

	handle, err := m.factory.Connect(m.ctx, cfg)
	if err != nil {
		m.log.Error("connection rebuild failed", zap.String("server", name), zap.Error(err))
		conn.transition(stateReconnecting, stateClosed)
		return
	}
	conn.setHandle(handle)
	if conn.transition(stateReconnecting, stateConnected) {
		m.log.Info("connection rebuilt", zap.String("server", name))
		m.scheduleHealthCheck(name)
		return
	}
	conn.setHandle(nil)
	m.closeHandleSafely(handle, name)
}

// closeHandleSafely closes a handle with a bounded graceful phase. A
// close that errors or outlives CloseTimeout is abandoned to finish in
// the background, and a short settle pause follows either way. It
// reports whether a close was performed.
func (m *Manager) closeHandleSafely(h Handle, name string) bool {
	if h == nil {
		return false
	}
	closeCtx, cancel := context.WithTimeout(context.Background(), m.opts.CloseTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- h.Close(closeCtx) }()

	select {
	case err := <-done:
		if err == nil {
			time.Sleep(gracefulSettleDelay)
			return true
		}
		m.log.Warn("graceful close failed, forcing close", zap.String("server", name), zap.Error(err))
	case <-closeCtx.Done():
		m.log.Warn("graceful close timed out, forcing close", zap.String("server", name))
	}
	time.Sleep(forcedSettleDelay)
	return true
}

// HandleConnectionError is the out-of-band signal that a caller hit a
// transport fault on the named server. A connected entry is marked dead
// and rebuilt in the background; an unknown server gets a fresh creation
// attempt.
func (m *Manager) HandleConnectionError(name string) {
	if m.closed.Load() {
		return
	}
	v, ok := m.connections.Load(name)
	if !ok {
		m.triggerCreation(name)
		return
	}
	conn := v.(*connection)
	if conn.currentState() == stateConnected {
		m.log.Warn("connection error reported, recycling", zap.String("server", name))
		conn.transition(stateConnected, stateClosed)
		m.triggerRebuild(name)
	}
}

// Services returns a handle per currently connected server, keyed by
// name. Servers without a live connection are absent from the result;
// asking for them here triggers the background work that will connect
// them for a later call.
func (m *Manager) Services() map[string]Handle {
	out := make(map[string]Handle)
	m.configs.Range(func(key, _ any) bool {
		name := key.(string)
		conn := m.connectionWithRetry(name)
		if conn == nil {
			return true
		}
		if h := conn.currentHandle(); h != nil {
			out[name] = h
		}
		return true
	})
	return out
}

// InvalidateCache marks every registered connection dead and triggers
// rebuilds. Callers keep using old handles until the swap.
func (m *Manager) InvalidateCache() {
	count := 0
	m.connections.Range(func(key, value any) bool {
		value.(*connection).transition(stateConnected, stateClosed)
		m.triggerRebuild(key.(string))
		count++
		return true
	})
	m.log.Info("connection cache invalidated", zap.Int("connections", count))
}

// InvalidateAllCache reloads the config snapshot from the repository,
// then marks every connection for rebuild. A failed reload keeps the
// previous snapshot and still recycles the connections.
func (m *Manager) InvalidateAllCache(ctx context.Context) {
	configs, err := m.repo.Enabled(ctx)
	if err != nil {
		m.log.Error("config reload failed", zap.Error(err))
	} else {
		m.configs.Range(func(key, _ any) bool {
			m.configs.Delete(key)
			return true
		})
		for _, cfg := range configs {
			m.configs.Store(cfg.Name, cfg)
		}
		m.log.Info("server config cache reloaded", zap.Int("servers", len(configs)))
	}
	m.InvalidateCache()
}

// TriggerCacheReload reloads configs and recycles all connections. It is
// the hook config watchers call when the underlying store changes.
func (m *Manager) TriggerCacheReload(ctx context.Context) {
	m.log.Info("cache reload triggered")
	m.InvalidateAllCache(ctx)
}

// CheckConnectionHealth reports whether name has a usable connection
// right now: registered, connected, handle attached, and below the
// pending-request threshold. It inspects cached state only and performs
// no I/O.
func (m *Manager) CheckConnectionHealth(name string) bool {
	v, ok := m.connections.Load(name)
	if !ok {
		return false
	}
	conn := v.(*connection)
	if conn.currentState() != stateConnected {
		return false
	}
	if conn.currentHandle() == nil {
		return false
	}
	if pending := conn.pendingCount(); pending > m.opts.PendingThreshold {
		m.log.Warn("connection saturated",
			zap.String("server", name),
			zap.Int32("pending", pending),
			zap.Int32("threshold", m.opts.PendingThreshold))
		return false
	}
	return true
}

// ConnectionStats is a point-in-time snapshot of one cache entry.
type ConnectionStats struct {
	State           string `json:"state"`
	PendingRequests int32  `json:"pendingRequests"`
	HasHandle       bool   `json:"hasHandle"`
}

// Stats snapshots every cache entry, keyed by server name.
func (m *Manager) Stats() map[string]ConnectionStats {
	out := make(map[string]ConnectionStats)
	m.connections.Range(func(key, value any) bool {
		conn := value.(*connection)
		out[key.(string)] = ConnectionStats{
			State:           conn.currentState().String(),
			PendingRequests: conn.pendingCount(),
			HasHandle:       conn.currentHandle() != nil,
		}
		return true
	})
	return out
}

// Shutdown closes every live handle with the graceful-then-forced
// policy, clears the registry and config cache, cancels the health
// sweeps, and drains the background task families. Bounds come from
// Options; Shutdown is idempotent.
func (m *Manager) Shutdown() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	m.log.Info("shutting down connection cache")
	m.cancel()

	closedCount := 0
	m.connections.Range(func(_, value any) bool {
		conn := value.(*connection)
		if m.closeHandleSafely(conn.currentHandle(), conn.name) {
			closedCount++
		}
		conn.setHandle(nil)
		return true
	})
	m.connections.Range(func(key, _ any) bool {
		m.connections.Delete(key)
		return true
	})
	m.configs.Range(func(key, _ any) bool {
		m.configs.Delete(key)
		return true
	})

	m.healthMu.Lock()
	for name, cancel := range m.healthStops {
		cancel()
		delete(m.healthStops, name)
	}
	m.healthMu.Unlock()

	var undrained []string
	for _, g := range []*taskGroup{m.creations, m.rebuilds, m.healthRuns} {
		if !g.CloseAndWait(m.opts.DrainTimeout) {
			m.log.Warn("task group did not drain in time", zap.String("group", g.name))
			undrained = append(undrained, g.name)
		}
	}
	m.log.Info("connection cache shut down", zap.Int("closed_connections", closedCount))
	if len(undrained) > 0 {
		return fmt.Errorf("mcpcache: task groups %s did not drain within %s", strings.Join(undrained, ", "), m.opts.DrainTimeout)
	}
	return nil
}
