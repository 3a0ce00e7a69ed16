package mcpconn

import (
	"fmt"
	"strings"
)

// TransportKind selects how a server connection is established.
type TransportKind string

const (
	// TransportStdio launches the server as a child process and speaks
	// JSON-RPC over its stdin/stdout pipes.
	TransportStdio TransportKind = "stdio"
	// TransportSSE connects to an HTTP endpoint using the legacy
	// server-sent-events transport.
	TransportSSE TransportKind = "sse"
	// TransportStreamable connects to an HTTP endpoint using the
	// streamable HTTP transport.
	TransportStreamable TransportKind = "streamable"
)

// ServerConfig describes a single MCP server: either a local command to
// spawn or a remote HTTP endpoint to dial. A valid config carries exactly
// one of Command or URL.
type ServerConfig struct {
	// Name identifies the server. It is assigned from the surrounding
	// configuration key rather than serialized inline.
	Name string `json:"-"`

	// Command is the executable to launch for stdio servers.
	Command string `json:"command,omitempty"`
	// Args are passed to Command verbatim.
	Args []string `json:"args,omitempty"`
	// Env entries are appended to the inherited process environment.
	Env map[string]string `json:"env,omitempty"`

	// URL is the endpoint for HTTP servers.
	URL string `json:"url,omitempty"`
	// Headers are attached to every HTTP request sent to URL.
	Headers map[string]string `json:"headers,omitempty"`

	// Transport pins the connection style. When empty it is inferred:
	// Command implies stdio, a URL ending in the SSE path suffix implies
	// sse, and any other URL implies streamable.
	Transport TransportKind `json:"transport,omitempty"`

	// TimeoutSeconds overrides the factory request timeout for calls to
	// this server. Zero keeps the factory default.
	TimeoutSeconds int `json:"timeoutSeconds,omitempty"`

	// Disabled excludes the server from connection management without
	// removing its definition.
	Disabled bool `json:"disabled,omitempty"`
}

// Validate reports whether the config is internally consistent.
func (c *ServerConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("mcpconn: nil server config")
	}
	if c.Command == "" && c.URL == "" {
		return fmt.Errorf("mcpconn: server %q: either command or url is required", c.Name)
	}
	if c.Command != "" && c.URL != "" {
		return fmt.Errorf("mcpconn: server %q: command and url are mutually exclusive", c.Name)
	}
	switch c.Transport {
	case "", TransportStdio, TransportSSE, TransportStreamable:
	default:
		return fmt.Errorf("mcpconn: server %q: unknown transport %q", c.Name, c.Transport)
	}
	if c.Transport == TransportStdio && c.Command == "" {
		return fmt.Errorf("mcpconn: server %q: stdio transport requires a command", c.Name)
	}
	if (c.Transport == TransportSSE || c.Transport == TransportStreamable) && c.URL == "" {
		return fmt.Errorf("mcpconn: server %q: %s transport requires a url", c.Name, c.Transport)
	}
	return nil
}

// resolveTransport returns the pinned transport kind, or infers one from
// the populated fields when the config leaves the choice open.
func (c *ServerConfig) resolveTransport(ssePathSuffix string) TransportKind {
	if c.Transport != "" {
		return c.Transport
	}
	if c.Command != "" {
		return TransportStdio
	}
	trimmed := strings.TrimSuffix(c.URL, "/")
	if ssePathSuffix != "" && strings.HasSuffix(trimmed, ssePathSuffix) {
		return TransportSSE
	}
	return TransportStreamable
}

// Clone returns a deep copy so callers can mutate the result without
// affecting shared configuration.
func (c *ServerConfig) Clone() *ServerConfig {
	if c == nil {
		return nil
	}
	out := *c
	if c.Args != nil {
		out.Args = append([]string(nil), c.Args...)
	}
	if c.Env != nil {
		out.Env = make(map[string]string, len(c.Env))
		for k, v := range c.Env {
			out.Env[k] = v
		}
	}
	if c.Headers != nil {
		out.Headers = make(map[string]string, len(c.Headers))
		for k, v := range c.Headers {
			out.Headers[k] = v
		}
	}
	return &out
}
