// Package adminapi serves the administrative HTTP surface: connection
// stats and lifecycle operations, server config CRUD, tool listing and
// dispatch, version info, and Prometheus metrics.
package adminapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/lynxe/lynxe-go/pkg/mcpcache"
	"github.com/lynxe/lynxe-go/pkg/mcpstore"
	"github.com/lynxe/lynxe-go/pkg/mcptool"
)

// Server composes the admin endpoints over the connection cache, the
// config store, and the tool router.
type Server struct {
	opts    Options
	log     *zap.Logger
	manager *mcpcache.Manager
	store   *mcpstore.Store
	router  *mcptool.Router
	handler http.Handler

	mu         sync.Mutex
	httpServer *http.Server
}

// NewServer wires the admin surface. All three collaborators are
// required.
func NewServer(manager *mcpcache.Manager, store *mcpstore.Store, router *mcptool.Router, opts Options) (*Server, error) {
	if manager == nil {
		return nil, fmt.Errorf("adminapi: manager is required")
	}
	if store == nil {
		return nil, fmt.Errorf("adminapi: store is required")
	}
	if router == nil {
		return nil, fmt.Errorf("adminapi: router is required")
	}
	s := &Server{
		opts:    opts.withDefaults(),
		manager: manager,
		store:   store,
		router:  router,
	}
	s.log = s.opts.Logger
	s.handler = s.buildHandler()
	return s, nil
}

// Handler returns the composed HTTP handler: CORS around request-ID
// tagging around logging around the route mux.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) buildHandler() http.Handler {
	var handler http.Handler = s.routes()
	handler = s.withLogging(handler)
	handler = s.withRequestID(handler)
	c := cors.New(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(handler)
}

// ListenAndServe runs the admin server until ctx is cancelled or the
// listener fails. Cancellation drains in-flight requests for up to
// ShutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.mu.Lock()
	if s.httpServer != nil {
		addr := s.httpServer.Addr
		s.mu.Unlock()
		return fmt.Errorf("adminapi: server already running on %s", addr)
	}
	srv := &http.Server{Addr: s.opts.Addr, Handler: s.handler}
	s.httpServer = srv
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.httpServer == srv {
			s.httpServer = nil
		}
		s.mu.Unlock()
	}()

	s.log.Info("admin api listening", zap.String("addr", s.opts.Addr))
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown stops the embedded HTTP server if it is running.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.httpServer = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return srv.Shutdown(ctx)
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("request handled",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("encoding response failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
