package mcpcache

// connState tracks a cache entry through its connection lifecycle.
// Transitions use compare-and-swap: a move only applies when the entry
// is still in the expected source state, otherwise it is a no-op and the
// caller re-reads.
type connState int32

const (
	// stateConnected marks a live, usable connection.
	stateConnected connState = iota
	// stateClosing is a reserved drain phase ahead of closed. No
	// transition assigns it today; readers treat it like closed so a
	// future drain step can slot in without breaking consumers.
	stateClosing
	// stateClosed marks a dead connection awaiting rebuild.
	stateClosed
	// stateReconnecting marks an entry owned by a background creation or
	// rebuild task. Requests must not be issued against it.
	stateReconnecting
)

func (s connState) String() string {
	switch s {
	case stateConnected:
		return "CONNECTED"
	case stateClosing:
		return "CLOSING"
	case stateClosed:
		return "CLOSED"
	case stateReconnecting:
		return "RECONNECTING"
	default:
		return "UNKNOWN"
	}
}
