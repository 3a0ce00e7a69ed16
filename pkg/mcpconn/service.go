package mcpconn

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

// Service is a live connection to a single MCP server. Methods are safe
// for concurrent use.
type Service struct {
	name           string
	session        *mcp.ClientSession
	requestTimeout time.Duration
	pingTimeout    time.Duration
	log            *zap.Logger
}

// Name returns the server name the service was dialed for.
func (s *Service) Name() string { return s.name }

// SessionID exposes the MCP session identifier, when the transport
// assigned one.
func (s *Service) SessionID() string { return s.session.ID() }

// Session returns the underlying SDK session for callers that need
// operations beyond the Service surface.
func (s *Service) Session() *mcp.ClientSession { return s.session }

// Ping probes server liveness with a bounded round trip.
func (s *Service) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := withTimeout(ctx, s.pingTimeout)
	defer cancel()
	if err := s.session.Ping(ctx, nil); err != nil {
		return fmt.Errorf("mcpconn: ping %q: %w", s.name, err)
	}
	return nil
}

// ListTools fetches the server's full tool catalog, following list
// pagination. Servers that do not implement tools/list yield an empty
// catalog rather than an error.
func (s *Service) ListTools(ctx context.Context) ([]*mcp.Tool, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := withTimeout(ctx, s.requestTimeout)
	defer cancel()

	var tools []*mcp.Tool
	var cursor string
	for {
		res, err := s.session.ListTools(ctx, &mcp.ListToolsParams{Cursor: cursor})
		if err != nil {
			if isMethodUnavailableError(err) {
				s.log.Debug("server does not expose tools", zap.Error(err))
				return nil, nil
			}
			return nil, fmt.Errorf("mcpconn: list tools on %q: %w", s.name, err)
		}
		tools = append(tools, res.Tools...)
		if res.NextCursor == "" {
			return tools, nil
		}
		cursor = res.NextCursor
	}
}

// CallTool invokes a named tool with the given arguments.
func (s *Service) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := withTimeout(ctx, s.requestTimeout)
	defer cancel()

	res, err := s.session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("mcpconn: call tool %q on %q: %w", name, s.name, err)
	}
	return res, nil
}

// Close terminates the session. It returns the context error if ctx
// expires before the transport finishes shutting down; the close keeps
// running in the background in that case.
func (s *Service) Close(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	done := make(chan error, 1)
	go func() { done <- s.session.Close() }()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("mcpconn: close %q: %w", s.name, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// withTimeout derives a bounded context when timeout is positive, or
// returns ctx unchanged with a no-op cancel.
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

// isMethodUnavailableError matches the error shapes servers use to refuse
// an MCP method they do not implement.
func isMethodUnavailableError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"method not found",
		"not implemented",
		"unsupported",
		"does not support",
		"unimplemented",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
