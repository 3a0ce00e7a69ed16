package mcpcache

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestStatsCollector(t *testing.T) {
	t.Parallel()

	factory := &fakeFactory{}
	m := newTestManager(t, factory, newFakeRepo("alpha"), Options{})
	m.creations.inline = true
	m.Initialize(context.Background())
	conn := mustConnect(t, m, "alpha")
	conn.pending.Store(2)

	expected := `
# HELP lynxe_mcp_connection_state Connection lifecycle state; the active state's series is 1.
# TYPE lynxe_mcp_connection_state gauge
lynxe_mcp_connection_state{server="alpha",state="CLOSED"} 0
lynxe_mcp_connection_state{server="alpha",state="CLOSING"} 0
lynxe_mcp_connection_state{server="alpha",state="CONNECTED"} 1
lynxe_mcp_connection_state{server="alpha",state="RECONNECTING"} 0
# HELP lynxe_mcp_connection_up Whether the server currently has a usable connection.
# TYPE lynxe_mcp_connection_up gauge
lynxe_mcp_connection_up{server="alpha"} 1
# HELP lynxe_mcp_pending_requests Requests currently in flight against the server.
# TYPE lynxe_mcp_pending_requests gauge
lynxe_mcp_pending_requests{server="alpha"} 2
`
	if err := testutil.CollectAndCompare(NewStatsCollector(m), strings.NewReader(expected)); err != nil {
		t.Fatalf("unexpected metrics: %v", err)
	}
	conn.pending.Store(0)
}
