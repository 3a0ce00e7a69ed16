package adminapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lynxe/lynxe-go/pkg/mcpcache"
	"github.com/lynxe/lynxe-go/pkg/mcpconn"
	"github.com/lynxe/lynxe-go/pkg/mcpstore"
	"github.com/lynxe/lynxe-go/pkg/mcptool"
	"github.com/lynxe/lynxe-go/pkg/version"
)

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/version", s.handleVersion)
	mux.HandleFunc("GET /api/mcp/stats", s.handleStats)
	mux.HandleFunc("GET /api/mcp/health/{name}", s.handleHealth)
	mux.HandleFunc("POST /api/mcp/invalidate", s.handleInvalidate)
	mux.HandleFunc("POST /api/mcp/reload", s.handleReload)
	mux.HandleFunc("GET /api/mcp/servers", s.handleListServers)
	mux.HandleFunc("POST /api/mcp/servers", s.handleUpsertServer)
	mux.HandleFunc("DELETE /api/mcp/servers/{name}", s.handleRemoveServer)
	mux.HandleFunc("POST /api/mcp/servers/{name}/enable", s.handleEnableServer)
	mux.HandleFunc("POST /api/mcp/servers/{name}/disable", s.handleDisableServer)
	mux.HandleFunc("GET /api/mcp/tools", s.handleListTools)
	mux.HandleFunc("POST /api/mcp/tools/{name}/call", s.handleCallTool)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.opts.Registry, promhttp.HandlerOpts{}))
	return mux
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, version.Current())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.manager.Stats())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	s.writeJSON(w, http.StatusOK, map[string]any{
		"server":  name,
		"healthy": s.manager.CheckConnectionHealth(name),
	})
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	s.manager.InvalidateCache()
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "cache invalidation started"})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	s.manager.TriggerCacheReload(r.Context())
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "cache reload started"})
}

func (s *Server) handleListServers(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.store.All())
}

// upsertRequest carries the server name alongside the flattened config
// fields, since the config struct keeps its name out of JSON.
type upsertRequest struct {
	Name string `json:"name"`
	mcpconn.ServerConfig
}

func (s *Server) handleUpsertServer(w http.ResponseWriter, r *http.Request) {
	var req upsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	cfg := req.ServerConfig
	cfg.Name = req.Name
	if err := s.store.Upsert(&cfg); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.manager.TriggerCacheReload(r.Context())
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "saved", "server": cfg.Name})
}

func (s *Server) handleRemoveServer(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.store.Remove(name); err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.router.RemoveServer(name)
	s.manager.TriggerCacheReload(r.Context())
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "removed", "server": name})
}

func (s *Server) handleEnableServer(w http.ResponseWriter, r *http.Request) {
	s.setServerDisabled(w, r, false)
}

func (s *Server) handleDisableServer(w http.ResponseWriter, r *http.Request) {
	s.setServerDisabled(w, r, true)
}

func (s *Server) setServerDisabled(w http.ResponseWriter, r *http.Request, disabled bool) {
	name := r.PathValue("name")
	if err := s.store.SetDisabled(name, disabled); err != nil {
		s.writeStoreError(w, err)
		return
	}
	if disabled {
		s.router.RemoveServer(name)
	}
	s.manager.TriggerCacheReload(r.Context())
	status := "enabled"
	if disabled {
		status = "disabled"
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": status, "server": name})
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, mcpstore.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	s.writeError(w, http.StatusInternalServerError, err)
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("refresh") != "" {
		if err := s.router.RefreshAll(r.Context()); err != nil {
			s.writeError(w, http.StatusBadGateway, err)
			return
		}
	}
	s.writeJSON(w, http.StatusOK, s.router.Tools())
}

func (s *Server) handleCallTool(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var args map[string]any
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &args); err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	res, err := s.router.CallTool(r.Context(), name, args)
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, res)
	case errors.Is(err, mcptool.ErrUnknownTool):
		s.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, mcpcache.ErrUnavailable):
		s.writeError(w, http.StatusServiceUnavailable, err)
	default:
		s.writeError(w, http.StatusBadGateway, err)
	}
}
