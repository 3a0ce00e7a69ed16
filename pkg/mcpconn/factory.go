package mcpconn

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

const (
	defaultClientName    = "lynxe-mcp-client"
	defaultClientVersion = "1.0.0"
	defaultUserAgent     = "MCP-Client/1.0.0"

	defaultInitTimeout    = 120 * time.Second
	defaultRequestTimeout = 60 * time.Second
	defaultPingTimeout    = 2 * time.Second

	defaultSSEPathSuffix = "/sse"
)

// FactoryOptions tune how the factory dials servers. The zero value is
// usable; unset fields fall back to package defaults.
type FactoryOptions struct {
	// ClientName and ClientVersion identify this client during the MCP
	// initialize handshake.
	ClientName    string
	ClientVersion string

	// UserAgent is sent with every HTTP request.
	UserAgent string

	// InitTimeout bounds connection establishment, including the
	// initialize round trip.
	InitTimeout time.Duration
	// RequestTimeout bounds individual requests issued through a Service
	// unless the server config overrides it.
	RequestTimeout time.Duration
	// PingTimeout bounds liveness probes.
	PingTimeout time.Duration

	// SSEPathSuffix marks endpoints that default to the SSE transport
	// when the config does not pin one.
	SSEPathSuffix string

	// StreamableMaxRetries is handed to the streamable transport for its
	// internal reconnect attempts. Zero keeps the SDK default.
	StreamableMaxRetries int

	// HTTPClient is the base client for HTTP transports. Defaults to
	// http.DefaultClient.
	HTTPClient *http.Client

	// Logger receives structured diagnostics. Defaults to a no-op logger.
	Logger *zap.Logger

	// OnSessionExit, when set, is invoked from a background goroutine
	// after a session's receive loop terminates. The error is the exit
	// cause, nil for a clean shutdown.
	OnSessionExit func(serverName string, err error)
}

func (o FactoryOptions) withDefaults() FactoryOptions {
	if o.ClientName == "" {
		o.ClientName = defaultClientName
	}
	if o.ClientVersion == "" {
		o.ClientVersion = defaultClientVersion
	}
	if o.UserAgent == "" {
		o.UserAgent = defaultUserAgent
	}
	if o.InitTimeout <= 0 {
		o.InitTimeout = defaultInitTimeout
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = defaultRequestTimeout
	}
	if o.PingTimeout <= 0 {
		o.PingTimeout = defaultPingTimeout
	}
	if o.SSEPathSuffix == "" {
		o.SSEPathSuffix = defaultSSEPathSuffix
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Factory dials MCP servers and wraps the resulting sessions as Services.
// A single factory is safe for concurrent use.
type Factory struct {
	opts FactoryOptions
	log  *zap.Logger
}

// NewFactory returns a factory with opts applied over the package
// defaults.
func NewFactory(opts FactoryOptions) *Factory {
	opts = opts.withDefaults()
	return &Factory{opts: opts, log: opts.Logger}
}

// Connect establishes a session with the configured server and returns a
// Service bound to it. The attempt is bounded by the factory init timeout
// in addition to any deadline already on ctx.
func (f *Factory) Connect(ctx context.Context, config *ServerConfig) (*Service, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := withTimeout(ctx, f.opts.InitTimeout)
	defer cancel()

	client := mcp.NewClient(&mcp.Implementation{
		Name:    f.opts.ClientName,
		Version: f.opts.ClientVersion,
	}, nil)

	session, kind, err := f.establishSession(ctx, client, config)
	if err != nil {
		return nil, fmt.Errorf("mcpconn: connect %q: %w", config.Name, err)
	}

	requestTimeout := f.opts.RequestTimeout
	if config.TimeoutSeconds > 0 {
		requestTimeout = time.Duration(config.TimeoutSeconds) * time.Second
	}
	svc := &Service{
		name:           config.Name,
		session:        session,
		requestTimeout: requestTimeout,
		pingTimeout:    f.opts.PingTimeout,
		log:            f.log.With(zap.String("server", config.Name)),
	}
	if f.opts.OnSessionExit != nil {
		go f.monitorSession(config.Name, session)
	}
	f.log.Info("mcp session established",
		zap.String("server", config.Name),
		zap.String("transport", string(kind)),
		zap.String("session_id", session.ID()))
	return svc, nil
}

func (f *Factory) establishSession(ctx context.Context, client *mcp.Client, config *ServerConfig) (*mcp.ClientSession, TransportKind, error) {
	kind := config.resolveTransport(f.opts.SSEPathSuffix)
	if kind == TransportStdio {
		transport, err := buildStdioTransport(config)
		if err != nil {
			return nil, kind, err
		}
		session, err := client.Connect(ctx, transport, nil)
		return session, kind, err
	}

	httpClient := f.decorateHTTPClient(config)
	sseTransport := &mcp.SSEClientTransport{Endpoint: config.URL, HTTPClient: httpClient}
	streamableTransport := &mcp.StreamableClientTransport{
		Endpoint:   config.URL,
		HTTPClient: httpClient,
		MaxRetries: f.opts.StreamableMaxRetries,
	}

	// A pinned transport gets exactly one attempt. Only an inferred
	// streamable endpoint falls back to SSE when the first dial fails.
	var streamErr error
	if kind == TransportStreamable {
		session, err := client.Connect(ctx, streamableTransport, nil)
		if err == nil {
			return session, TransportStreamable, nil
		}
		if config.Transport == TransportStreamable {
			return nil, kind, err
		}
		streamErr = err
	}
	session, err := client.Connect(ctx, sseTransport, nil)
	if err != nil {
		if streamErr != nil {
			return nil, kind, fmt.Errorf("streamable error: %v; sse error: %w", streamErr, err)
		}
		return nil, kind, err
	}
	return session, TransportSSE, nil
}

func (f *Factory) monitorSession(name string, session *mcp.ClientSession) {
	err := session.Wait()
	if err != nil {
		f.log.Warn("mcp session terminated", zap.String("server", name), zap.Error(err))
	} else {
		f.log.Debug("mcp session closed", zap.String("server", name))
	}
	f.opts.OnSessionExit(name, err)
}

func buildStdioTransport(config *ServerConfig) (mcp.Transport, error) {
	if config.Command == "" {
		return nil, fmt.Errorf("stdio transport requires a command")
	}
	cmd := exec.Command(config.Command, config.Args...)
	if len(config.Env) > 0 {
		env := os.Environ()
		for k, v := range config.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		cmd.Env = env
	}
	return &mcp.CommandTransport{Command: cmd}, nil
}

func (f *Factory) decorateHTTPClient(config *ServerConfig) *http.Client {
	base := f.opts.HTTPClient
	if base == nil {
		base = http.DefaultClient
	}
	headers := make(http.Header)
	if f.opts.UserAgent != "" {
		headers.Set("User-Agent", f.opts.UserAgent)
	}
	for k, v := range config.Headers {
		headers.Set(k, v)
	}
	clone := *base
	clone.Transport = &headerDecorator{
		next:    defaultRoundTripper(base.Transport),
		headers: headers,
	}
	return &clone
}

type headerDecorator struct {
	next    http.RoundTripper
	headers http.Header
}

func (d *headerDecorator) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	for k, values := range d.headers {
		req.Header.Del(k)
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	return d.next.RoundTrip(req)
}

func defaultRoundTripper(next http.RoundTripper) http.RoundTripper {
	if next != nil {
		return next
	}
	return http.DefaultTransport
}
