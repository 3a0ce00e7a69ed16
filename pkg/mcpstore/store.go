// Package mcpstore persists MCP server configs in a JSON file using the
// conventional mcpServers document shape and serves them to the
// connection cache as its config repository. Mutations rewrite the file
// atomically, and a filesystem watcher can fold external edits back into
// the running process.
package mcpstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/lynxe/lynxe-go/pkg/mcpcache"
	"github.com/lynxe/lynxe-go/pkg/mcpconn"
)

// ErrNotFound reports a mutation against a server name the store does
// not hold.
var ErrNotFound = errors.New("mcpstore: server not found")

// document is the on-disk shape: {"mcpServers": {"<name>": {...}}}.
type document struct {
	Servers map[string]*mcpconn.ServerConfig `json:"mcpServers"`
}

// Options configures a Store.
type Options struct {
	Logger *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Store is a file-backed server config repository. All reads serve from
// an in-memory snapshot; Reload and the mutating calls keep the snapshot
// and the file in sync.
type Store struct {
	path string
	log  *zap.Logger

	mu      sync.RWMutex
	servers map[string]*mcpconn.ServerConfig
}

var _ mcpcache.ConfigRepository = (*Store)(nil)

// Open loads the config file at path. A missing file is not an error:
// the store starts empty and creates the file on the first mutation. A
// present but unreadable or malformed file is an error.
func Open(path string, opts Options) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("mcpstore: path is required")
	}
	opts = opts.withDefaults()
	s := &Store{
		path:    path,
		log:     opts.Logger,
		servers: make(map[string]*mcpconn.ServerConfig),
	}
	if err := s.Reload(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		s.log.Info("config file not found, starting empty", zap.String("path", path))
	}
	return s, nil
}

// Path returns the config file location.
func (s *Store) Path() string { return s.path }

// Reload replaces the in-memory snapshot with the file's current
// contents. On error the previous snapshot stays in place.
func (s *Store) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("mcpstore: read %s: %w", s.path, err)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("mcpstore: parse %s: %w", s.path, err)
	}
	servers := make(map[string]*mcpconn.ServerConfig, len(doc.Servers))
	for name, cfg := range doc.Servers {
		if cfg == nil {
			continue
		}
		cfg.Name = name
		servers[name] = cfg
	}

	s.mu.Lock()
	s.servers = servers
	s.mu.Unlock()
	s.log.Debug("config snapshot reloaded", zap.Int("servers", len(servers)))
	return nil
}

// Enabled returns a clone of every server config not marked disabled.
func (s *Store) Enabled(ctx context.Context) ([]*mcpconn.ServerConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*mcpconn.ServerConfig, 0, len(s.servers))
	for _, cfg := range s.servers {
		if cfg.Disabled {
			continue
		}
		out = append(out, cfg.Clone())
	}
	return out, nil
}

// Lookup returns the named config. Unknown and disabled servers both
// report found=false: a disabled server must look absent to the
// connection cache so in-flight creations and rebuilds abort.
func (s *Store) Lookup(ctx context.Context, name string) (*mcpconn.ServerConfig, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.servers[name]
	if !ok || cfg.Disabled {
		return nil, false, nil
	}
	return cfg.Clone(), true, nil
}

// All returns a clone of every server config, disabled ones included.
func (s *Store) All() map[string]*mcpconn.ServerConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*mcpconn.ServerConfig, len(s.servers))
	for name, cfg := range s.servers {
		out[name] = cfg.Clone()
	}
	return out
}

// Upsert validates cfg, stores it under cfg.Name, and persists the file.
func (s *Store) Upsert(cfg *mcpconn.ServerConfig) error {
	if cfg == nil || cfg.Name == "" {
		return fmt.Errorf("mcpstore: server name is required")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.servers[cfg.Name] = cfg.Clone()
	if err := s.persistLocked(); err != nil {
		return err
	}
	s.log.Info("server config saved", zap.String("server", cfg.Name))
	return nil
}

// Remove deletes the named config and persists the file.
func (s *Store) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.servers[name]; !ok {
		return fmt.Errorf("mcpstore: remove %q: %w", name, ErrNotFound)
	}
	delete(s.servers, name)
	if err := s.persistLocked(); err != nil {
		return err
	}
	s.log.Info("server config removed", zap.String("server", name))
	return nil
}

// SetDisabled flips the named config's disabled flag and persists the
// file.
func (s *Store) SetDisabled(name string, disabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.servers[name]
	if !ok {
		return fmt.Errorf("mcpstore: update %q: %w", name, ErrNotFound)
	}
	cfg.Disabled = disabled
	if err := s.persistLocked(); err != nil {
		return err
	}
	s.log.Info("server config updated",
		zap.String("server", name), zap.Bool("disabled", disabled))
	return nil
}

// persistLocked writes the snapshot to the config file via a temp file
// and rename, so readers never observe a partial document. Caller holds
// s.mu.
func (s *Store) persistLocked() error {
	doc := document{Servers: s.servers}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("mcpstore: encode config: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mcpstore: prepare config dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("mcpstore: create temp config: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("mcpstore: write temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("mcpstore: close temp config: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("mcpstore: replace config: %w", err)
	}
	return nil
}
