package mcpcache

import "github.com/prometheus/client_golang/prometheus"

// StatsCollector exposes a Manager's per-server connection gauges as a
// prometheus.Collector. Every scrape reads a fresh Stats snapshot, so
// there is nothing to update between scrapes.
type StatsCollector struct {
	manager *Manager

	up      *prometheus.Desc
	pending *prometheus.Desc
	state   *prometheus.Desc
}

// NewStatsCollector returns a collector over m. Register it with a
// prometheus.Registerer to expose the gauges.
func NewStatsCollector(m *Manager) *StatsCollector {
	return &StatsCollector{
		manager: m,
		up: prometheus.NewDesc(
			"lynxe_mcp_connection_up",
			"Whether the server currently has a usable connection.",
			[]string{"server"}, nil,
		),
		pending: prometheus.NewDesc(
			"lynxe_mcp_pending_requests",
			"Requests currently in flight against the server.",
			[]string{"server"}, nil,
		),
		state: prometheus.NewDesc(
			"lynxe_mcp_connection_state",
			"Connection lifecycle state; the active state's series is 1.",
			[]string{"server", "state"}, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.up
	ch <- c.pending
	ch <- c.state
}

// Collect implements prometheus.Collector.
func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	states := []connState{stateConnected, stateClosing, stateClosed, stateReconnecting}
	for name, stats := range c.manager.Stats() {
		up := 0.0
		if stats.State == stateConnected.String() && stats.HasHandle {
			up = 1
		}
		ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, up, name)
		ch <- prometheus.MustNewConstMetric(c.pending, prometheus.GaugeValue, float64(stats.PendingRequests), name)
		for _, s := range states {
			active := 0.0
			if stats.State == s.String() {
				active = 1
			}
			ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, active, name, s.String())
		}
	}
}
