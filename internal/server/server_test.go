package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lanops/lanagent/internal/dispatch"
	"github.com/lanops/lanagent/internal/executor"
	"github.com/lanops/lanagent/internal/handlers"
	"github.com/lanops/lanagent/internal/registry"
	"github.com/lanops/lanagent/internal/session"
	"github.com/lanops/lanagent/internal/sysinfo"
	"github.com/lanops/lanagent/pkg/config"
)

type apiReply struct {
	Status  string         `json:"status"`
	Message string         `json:"message"`
	Code    string         `json:"code"`
	Data    map[string]any `json:"data"`
}

// newTestServer stands up the whole stack against a temp endpoint root seeded
// with the default manifests plus an alias for connectivity checks.
func newTestServer(t *testing.T) http.Handler {
	t.Helper()

	dir := t.TempDir()
	epDir := filepath.Join(dir, "endpoints")

	seed := handlers.DefaultSeed()
	seed = append(seed, registry.SeedEntry{
		Name: "restart_service",
		Manifest: registry.Manifest{
			Handler:     "test_command",
			Description: "Restart a host service",
			Args: []registry.Param{
				{Name: "message", Type: registry.ParamString},
			},
		},
	})
	require.NoError(t, registry.Seed(epDir, seed))

	exec := executor.New(filepath.Join(dir, "procs"), nil)
	sys := sysinfo.NewProvider("test-agent")
	sessions := session.NewManager("admin", "hunter2", time.Minute)

	deps := handlers.Deps{Exec: exec, Sys: sys}
	reg, err := registry.Discover(epDir, handlers.Table(deps))
	require.NoError(t, err)

	d := dispatch.New(reg, sessions, nil)
	cfg := &config.Config{Name: "test-agent", Port: 5000}
	cfg.ApplyDefaults()

	return New(cfg, reg, d, sessions, sys).Router()
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, headers map[string]string) (*httptest.ResponseRecorder, apiReply) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var reply apiReply
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reply), "body: %s", w.Body.String())
	}
	return w, reply
}

func TestTestEndpoint(t *testing.T) {
	h := newTestServer(t)

	w, reply := doJSON(t, h, http.MethodGet, "/api/test", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "success", reply.Status)
	require.Equal(t, "test-agent", reply.Data["name"])
	require.EqualValues(t, 5000, reply.Data["port"])
	require.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestPreflight(t *testing.T) {
	h := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/test", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCommandDispatch(t *testing.T) {
	h := newTestServer(t)

	w, reply := doJSON(t, h, http.MethodPost, "/api/command",
		map[string]any{"command": "restart_service", "message": "go"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "success", reply.Status)
	require.Equal(t, "Command executed", reply.Message)
}

func TestCommandMissingName(t *testing.T) {
	h := newTestServer(t)

	w, reply := doJSON(t, h, http.MethodPost, "/api/command",
		map[string]any{"message": "go"}, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "error", reply.Status)
	require.Equal(t, "validation_error", reply.Code)
}

func TestCommandUnknownEndpoint(t *testing.T) {
	h := newTestServer(t)

	w, reply := doJSON(t, h, http.MethodPost, "/api/command",
		map[string]any{"command": "no_such_thing"}, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, "not_found", reply.Code)
}

func TestCommandMalformedBody(t *testing.T) {
	h := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/command", bytes.NewBufferString("{nope"))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealth(t *testing.T) {
	h := newTestServer(t)

	w, reply := doJSON(t, h, http.MethodGet, "/api/health", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "Health check successful", reply.Message)
	require.Equal(t, "test-agent", reply.Data["name"])
	require.Equal(t, "healthy", reply.Data["status"])
	require.NotEmpty(t, reply.Data["last_health_check"])
}

func TestTree(t *testing.T) {
	h := newTestServer(t)

	w, reply := doJSON(t, h, http.MethodGet, "/api/tree", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	eps, ok := reply.Data["endpoints"].([]any)
	require.True(t, ok, "endpoints missing from %v", reply.Data)
	names := map[string]bool{}
	for _, e := range eps {
		m := e.(map[string]any)
		names[m["name"].(string)] = true
	}
	for _, want := range []string{"execute", "kill", "processes", "popup", "restart_service"} {
		require.True(t, names[want], "tree missing %s", want)
	}
}

func TestLoginLogoutFlow(t *testing.T) {
	h := newTestServer(t)

	w, reply := doJSON(t, h, http.MethodPost, "/api/login",
		map[string]any{"username": "admin", "password": "wrong"}, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "auth_error", reply.Code)

	w, reply = doJSON(t, h, http.MethodPost, "/api/login",
		map[string]any{"username": "admin", "password": "hunter2"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	token, _ := reply.Data["token"].(string)
	require.Len(t, token, 64)

	// Authenticated dispatch through the dynamic surface.
	w, reply = doJSON(t, h, http.MethodGet, "/api/ep/processes", nil,
		map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "success", reply.Status)

	w, _ = doJSON(t, h, http.MethodPost, "/api/logout",
		map[string]any{"token": token}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Token is dead after logout.
	w, reply = doJSON(t, h, http.MethodGet, "/api/ep/processes", nil,
		map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "auth_error", reply.Code)

	w, reply = doJSON(t, h, http.MethodPost, "/api/logout",
		map[string]any{"token": token}, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, "not_found", reply.Code)
}

func TestLoginThrottle(t *testing.T) {
	h := newTestServer(t)

	// Default budget is 10 attempts per minute per client address.
	for i := 0; i < 10; i++ {
		w, _ := doJSON(t, h, http.MethodPost, "/api/login",
			map[string]any{"username": "admin", "password": "wrong"}, nil)
		require.Equal(t, http.StatusUnauthorized, w.Code)
	}
	w, reply := doJSON(t, h, http.MethodPost, "/api/login",
		map[string]any{"username": "admin", "password": "hunter2"}, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Contains(t, reply.Message, "Too many login attempts")
}

func TestAuthGateWithoutToken(t *testing.T) {
	h := newTestServer(t)

	w, reply := doJSON(t, h, http.MethodPost, "/api/command",
		map[string]any{"command": "kill", "pid": 1234}, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "auth_error", reply.Code)
}

func TestEndpointValidation(t *testing.T) {
	h := newTestServer(t)

	// popup requires a message.
	w, reply := doJSON(t, h, http.MethodPost, "/api/ep/popup", map[string]any{}, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, reply.Message, "message")

	w, reply = doJSON(t, h, http.MethodPost, "/api/ep/popup",
		map[string]any{"message": "hello"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "Command executed", reply.Message)
}

func TestEndpointGetQueryPayload(t *testing.T) {
	h := newTestServer(t)

	w, reply := doJSON(t, h, http.MethodGet, "/api/ep/test_command?message=ping", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "ping", reply.Data["echo"])
}
