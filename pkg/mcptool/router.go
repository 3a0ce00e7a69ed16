// Package mcptool routes namespaced tool calls to the servers behind
// the connection cache. Every upstream tool is published under a
// qualified name, server and native name joined by a separator, so one
// flat tool listing can span many servers without collisions.
package mcptool

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lynxe/lynxe-go/pkg/mcpcache"
)

const (
	metaKeyServer     = "mcptool.server"
	metaKeyNativeName = "mcptool.native_name"

	defaultSeparator = "__"

	// refreshConcurrency caps parallel tool listings during a full sweep.
	refreshConcurrency = 4
)

// ErrUnknownTool reports a name that is neither indexed nor splittable
// into server and tool parts.
var ErrUnknownTool = errors.New("mcptool: unknown tool")

// Options configures a Router.
type Options struct {
	// Separator joins server and tool name in qualified names. Server
	// names must not contain it. Defaults to "__".
	Separator string
	Logger    *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.Separator == "" {
		o.Separator = defaultSeparator
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

type target struct {
	server string
	native string
}

// Router maintains a qualified-name index over the tools of every
// refreshed server and dispatches calls through the connection cache, so
// routed calls inherit its retry and recycle behavior.
type Router struct {
	manager *mcpcache.Manager
	log     *zap.Logger
	sep     string

	mu          sync.RWMutex
	targets     map[string]target
	defs        map[string]*mcp.Tool
	serverTools map[string][]string
}

// NewRouter wires a router over manager.
func NewRouter(manager *mcpcache.Manager, opts Options) (*Router, error) {
	if manager == nil {
		return nil, fmt.Errorf("mcptool: manager is required")
	}
	opts = opts.withDefaults()
	return &Router{
		manager:     manager,
		log:         opts.Logger,
		sep:         opts.Separator,
		targets:     make(map[string]target),
		defs:        make(map[string]*mcp.Tool),
		serverTools: make(map[string][]string),
	}, nil
}

// RefreshServer relists the named server's tools and replaces its slice
// of the index. On error the previous entries stay in place.
func (r *Router) RefreshServer(ctx context.Context, server string) error {
	tools, err := mcpcache.ExecuteWithRetry(ctx, r.manager, server,
		func(ctx context.Context, h mcpcache.Handle) ([]*mcp.Tool, error) {
			return h.ListTools(ctx)
		})
	if err != nil {
		return fmt.Errorf("mcptool: listing tools for %q: %w", server, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeServerLocked(server)
	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		if tool == nil {
			continue
		}
		qualified := server + r.sep + tool.Name
		r.targets[qualified] = target{server: server, native: tool.Name}
		r.defs[qualified] = qualifyTool(tool, qualified, server)
		names = append(names, qualified)
	}
	r.serverTools[server] = names
	r.log.Debug("tool index refreshed",
		zap.String("server", server), zap.Int("tools", len(names)))
	return nil
}

// RefreshAll refreshes every currently connected server, a few at a
// time. Servers without a live connection are skipped; the cache is
// already working on them, and a later refresh picks them up.
// Per-server failures are combined rather than aborting the sweep.
func (r *Router) RefreshAll(ctx context.Context) error {
	var (
		errMu sync.Mutex
		errs  error
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(refreshConcurrency)
	for server := range r.manager.Services() {
		g.Go(func() error {
			if err := r.RefreshServer(ctx, server); err != nil {
				errMu.Lock()
				errs = multierr.Append(errs, err)
				errMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

// RemoveServer drops the named server's tools from the index.
func (r *Router) RemoveServer(server string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeServerLocked(server)
	delete(r.serverTools, server)
}

func (r *Router) removeServerLocked(server string) {
	for _, name := range r.serverTools[server] {
		delete(r.targets, name)
		delete(r.defs, name)
	}
	r.serverTools[server] = nil
}

// Tools returns the indexed tool definitions under their qualified
// names, sorted for stable listings.
func (r *Router) Tools() []*mcp.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*mcp.Tool, 0, len(r.defs))
	for _, tool := range r.defs {
		clone := *tool
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CallTool dispatches a qualified tool call through the cache. Names not
// in the index fall back to splitting on the separator, so calls can
// route before the first refresh.
func (r *Router) CallTool(ctx context.Context, qualified string, args map[string]any) (*mcp.CallToolResult, error) {
	r.mu.RLock()
	tgt, ok := r.targets[qualified]
	r.mu.RUnlock()
	if !ok {
		server, native, found := strings.Cut(qualified, r.sep)
		if !found || server == "" || native == "" {
			return nil, fmt.Errorf("%w: %q", ErrUnknownTool, qualified)
		}
		tgt = target{server: server, native: native}
	}

	return mcpcache.ExecuteWithRetry(ctx, r.manager, tgt.server,
		func(ctx context.Context, h mcpcache.Handle) (*mcp.CallToolResult, error) {
			return h.CallTool(ctx, tgt.native, args)
		})
}

// qualifyTool clones tool under its qualified name, recording the origin
// in Meta.
func qualifyTool(tool *mcp.Tool, qualified, server string) *mcp.Tool {
	clone := *tool
	clone.Name = qualified
	meta := maps.Clone(tool.Meta)
	if meta == nil {
		meta = make(map[string]any)
	}
	meta[metaKeyServer] = server
	meta[metaKeyNativeName] = tool.Name
	clone.Meta = meta
	return &clone
}
