package adminapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lynxe/lynxe-go/pkg/mcpcache"
	"github.com/lynxe/lynxe-go/pkg/mcpconn"
	"github.com/lynxe/lynxe-go/pkg/mcpstore"
	"github.com/lynxe/lynxe-go/pkg/mcptool"
)

type fakeHandle struct {
	mu       sync.Mutex
	tools    []*mcp.Tool
	lastTool string
}

func (f *fakeHandle) Ping(ctx context.Context) error { return nil }

func (f *fakeHandle) ListTools(ctx context.Context) ([]*mcp.Tool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*mcp.Tool(nil), f.tools...), nil
}

func (f *fakeHandle) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastTool = name
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: "ok:" + name}},
	}, nil
}

func (f *fakeHandle) Close(ctx context.Context) error { return nil }

type fakeFactory struct {
	mu      sync.Mutex
	handles map[string]*fakeHandle
}

func (f *fakeFactory) Connect(ctx context.Context, cfg *mcpconn.ServerConfig) (mcpcache.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.handles[cfg.Name]
	if !ok {
		return nil, fmt.Errorf("no fake handle for %s", cfg.Name)
	}
	return h, nil
}

type fixture struct {
	srv     *Server
	manager *mcpcache.Manager
	store   *mcpstore.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := mcpstore.Open(filepath.Join(t.TempDir(), "servers.json"), mcpstore.Options{})
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	err = store.Upsert(&mcpconn.ServerConfig{Name: "alpha", URL: "https://alpha.example.com/mcp"})
	if err != nil {
		t.Fatalf("seeding store: %v", err)
	}

	factory := &fakeFactory{handles: map[string]*fakeHandle{
		"alpha": {tools: []*mcp.Tool{{Name: "echo", Description: "echo tool"}}},
	}}
	manager, err := mcpcache.NewManager(factory, store, mcpcache.Options{
		RebuildDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() { _ = manager.Shutdown() })
	manager.Initialize(context.Background())

	router, err := mcptool.NewRouter(manager, mcptool.Options{})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(mcpcache.NewStatsCollector(manager))

	srv, err := NewServer(manager, store, router, Options{
		Addr:     "127.0.0.1:0",
		Registry: registry,
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return &fixture{srv: srv, manager: manager, store: store}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

// waitConnected polls Services until the named server shows up with a
// live handle. The first pass dispatches the creation task, later
// passes observe the swap.
func (f *fixture) waitConnected(t *testing.T, name string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := f.manager.Services()[name]; ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server %s never connected", name)
}

func TestNewServerRequiresCollaborators(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	router, _ := mcptool.NewRouter(f.manager, mcptool.Options{})

	if _, err := NewServer(nil, f.store, router, Options{}); err == nil {
		t.Fatalf("expected error for nil manager")
	}
	if _, err := NewServer(f.manager, nil, router, Options{}); err == nil {
		t.Fatalf("expected error for nil store")
	}
	if _, err := NewServer(f.manager, f.store, nil, Options{}); err == nil {
		t.Fatalf("expected error for nil router")
	}
}

func TestVersionEndpoint(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/version", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, expected 200", rec.Code)
	}
	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decoding version payload: %v", err)
	}
	if payload["version"] == "" {
		t.Fatalf("version missing from payload %v", payload)
	}
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/mcp/health/ghost", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, expected 200", rec.Code)
	}
	var payload struct {
		Server  string `json:"server"`
		Healthy bool   `json:"healthy"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decoding health payload: %v", err)
	}
	if payload.Server != "ghost" || payload.Healthy {
		t.Fatalf("payload = %+v, expected unhealthy ghost", payload)
	}
}

func TestStatsEndpoint(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.waitConnected(t, "alpha")

	rec := f.do(t, http.MethodGet, "/api/mcp/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, expected 200", rec.Code)
	}
	var stats map[string]mcpcache.ConnectionStats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decoding stats: %v", err)
	}
	got, ok := stats["alpha"]
	if !ok || got.State != "CONNECTED" || !got.HasHandle {
		t.Fatalf("stats = %+v, expected connected alpha", stats)
	}
}

func TestInvalidateAndReloadEndpoints(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if rec := f.do(t, http.MethodPost, "/api/mcp/invalidate", ""); rec.Code != http.StatusAccepted {
		t.Fatalf("invalidate status = %d, expected 202", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/api/mcp/reload", ""); rec.Code != http.StatusAccepted {
		t.Fatalf("reload status = %d, expected 202", rec.Code)
	}
}

func TestServerConfigCRUD(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/mcp/servers",
		`{"name": "beta", "url": "https://beta.example.com/mcp"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("upsert status = %d: %s", rec.Code, rec.Body)
	}

	rec = f.do(t, http.MethodGet, "/api/mcp/servers", "")
	var listed map[string]*mcpconn.ServerConfig
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decoding server list: %v", err)
	}
	if _, ok := listed["beta"]; !ok {
		t.Fatalf("upserted server missing from listing: %v", listed)
	}

	if rec := f.do(t, http.MethodPost, "/api/mcp/servers/beta/disable", ""); rec.Code != http.StatusOK {
		t.Fatalf("disable status = %d", rec.Code)
	}
	if _, found, _ := f.store.Lookup(context.Background(), "beta"); found {
		t.Fatalf("disabled server still visible to lookup")
	}

	if rec := f.do(t, http.MethodPost, "/api/mcp/servers/beta/enable", ""); rec.Code != http.StatusOK {
		t.Fatalf("enable status = %d", rec.Code)
	}
	if _, found, _ := f.store.Lookup(context.Background(), "beta"); !found {
		t.Fatalf("re-enabled server not visible to lookup")
	}

	if rec := f.do(t, http.MethodDelete, "/api/mcp/servers/beta", ""); rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodDelete, "/api/mcp/servers/beta", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d, expected 404", rec.Code)
	}
}

func TestUpsertServerRejectsBadInput(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if rec := f.do(t, http.MethodPost, "/api/mcp/servers", `{not json`); rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed body status = %d, expected 400", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/api/mcp/servers", `{"name": "bad"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid config status = %d, expected 400", rec.Code)
	}
}

func TestToolEndpoints(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.waitConnected(t, "alpha")

	rec := f.do(t, http.MethodGet, "/api/mcp/tools?refresh=1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("tools status = %d: %s", rec.Code, rec.Body)
	}
	var tools []*mcp.Tool
	if err := json.Unmarshal(rec.Body.Bytes(), &tools); err != nil {
		t.Fatalf("decoding tools: %v", err)
	}
	if len(tools) != 1 || tools[0].Name != "alpha__echo" {
		t.Fatalf("tools = %+v, expected alpha__echo", tools)
	}

	rec = f.do(t, http.MethodPost, "/api/mcp/tools/alpha__echo/call", `{"x": 1}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("call status = %d: %s", rec.Code, rec.Body)
	}
	if !strings.Contains(rec.Body.String(), "ok:echo") {
		t.Fatalf("call response missing tool output: %s", rec.Body)
	}

	if rec := f.do(t, http.MethodPost, "/api/mcp/tools/nodelimiter/call", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown tool status = %d, expected 404", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/api/mcp/tools/ghost__t/call", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("unconfigured server status = %d, expected 503", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.waitConnected(t, "alpha")

	rec := f.do(t, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "lynxe_mcp_connection_up") {
		t.Fatalf("metrics body missing connection gauge:\n%s", rec.Body)
	}
}

func TestRequestIDHeader(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/version", "")
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatalf("response missing generated X-Request-Id")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/version", nil)
	req.Header.Set("X-Request-Id", "caller-id")
	echo := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(echo, req)
	if got := echo.Header().Get("X-Request-Id"); got != "caller-id" {
		t.Fatalf("X-Request-Id = %q, expected caller-id echoed", got)
	}
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/mcp/stats", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("Access-Control-Allow-Origin = %q, expected *", got)
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d, expected 204", rec.Code)
	}
}

func TestListenAndServeStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- f.srv.ListenAndServe(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Fatalf("ListenAndServe = %v, expected context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("ListenAndServe did not stop on cancel")
	}
}
