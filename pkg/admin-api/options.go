package adminapi

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Options configure the admin Server.
type Options struct {
	// Addr is the listen address used by ListenAndServe. Defaults to
	// ":8700".
	Addr string
	// AllowedOrigins feeds the CORS policy. Defaults to allowing every
	// origin, so browser-based admin frontends work out of the box.
	AllowedOrigins []string
	// ShutdownTimeout bounds the graceful drain when ListenAndServe
	// unwinds. Defaults to 10s.
	ShutdownTimeout time.Duration
	// Registry backs the /metrics endpoint. Defaults to a fresh empty
	// registry; callers register their collectors on it.
	Registry *prometheus.Registry
	// Logger receives structured diagnostics.
	Logger *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.Addr == "" {
		o.Addr = ":8700"
	}
	if len(o.AllowedOrigins) == 0 {
		o.AllowedOrigins = []string{"*"}
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = 10 * time.Second
	}
	if o.Registry == nil {
		o.Registry = prometheus.NewRegistry()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}
