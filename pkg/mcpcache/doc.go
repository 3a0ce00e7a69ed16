// Package mcpcache keeps a self-healing cache of Model Context Protocol
// (MCP) server connections. It layers per-server state machines,
// background creation and rebuild, periodic health sweeps, and
// retry-with-classification request execution on top of a pluggable
// connection factory, so callers can invoke remote tools without ever
// blocking on connection management.
//
// # Core entry points
//
//   - Manager is the long-lived orchestration type. Construct it with
//     NewManager around a Factory and a ConfigRepository, call
//     Initialize to load the enabled server configs, and Shutdown to
//     release every connection and background task.
//   - ExecuteWithRetry wraps a remote call with pending-request
//     accounting and connection-error-driven retry.
//   - Handle is the capability a cached connection exposes;
//     mcpconn.Service is the production implementation.
//
// The design is fail-fast: a caller asking for a server that has no
// usable connection gets a negative answer immediately while dedicated
// goroutines create or rebuild the connection behind the scenes. Callers
// are expected to retry at their own pace; nothing in this package ever
// blocks a request goroutine on network I/O, a lock, or a sleep.
//
// Each cache entry moves through CONNECTED, CLOSED, and RECONNECTING
// under compare-and-swap discipline (CLOSING is reserved and currently
// never assigned). Health sweeps demote connected entries whose handle
// vanished or whose in-flight request count exceeds the configured
// threshold, and re-arm the rebuild path for entries that died without a
// caller noticing.
package mcpcache
