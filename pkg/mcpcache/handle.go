package mcpcache

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/lynxe/lynxe-go/pkg/mcpconn"
)

// Handle is the usable surface of one live server connection.
// mcpconn.Service satisfies it; tests substitute in-process fakes.
type Handle interface {
	Ping(ctx context.Context) error
	ListTools(ctx context.Context) ([]*mcp.Tool, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
	Close(ctx context.Context) error
}

// Factory dials the server described by config and returns a live
// handle. Connect may block; the manager only calls it from background
// workers.
type Factory interface {
	Connect(ctx context.Context, config *mcpconn.ServerConfig) (Handle, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(ctx context.Context, config *mcpconn.ServerConfig) (Handle, error)

// Connect calls f.
func (f FactoryFunc) Connect(ctx context.Context, config *mcpconn.ServerConfig) (Handle, error) {
	return f(ctx, config)
}

// ConfigRepository supplies enabled server configs. Implementations must
// be safe for concurrent use; the manager calls Lookup from background
// workers while Enabled may run on a caller's goroutine.
type ConfigRepository interface {
	// Enabled returns every config eligible for connection management.
	Enabled(ctx context.Context) ([]*mcpconn.ServerConfig, error)
	// Lookup returns the config for name. found is false when the server
	// is unknown or disabled.
	Lookup(ctx context.Context, name string) (config *mcpconn.ServerConfig, found bool, err error)
}
