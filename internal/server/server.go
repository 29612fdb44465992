// Package server exposes the dispatch pipeline over HTTP with JSON bodies.
// It owns the fixed API surface plus a dynamic route dispatching any
// discovered endpoint by name. All responses flow through the taxonomy; the
// status code always comes from the variant.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lanops/lanagent/internal/dispatch"
	"github.com/lanops/lanagent/internal/registry"
	"github.com/lanops/lanagent/internal/response"
	"github.com/lanops/lanagent/internal/session"
	"github.com/lanops/lanagent/internal/sysinfo"
	"github.com/lanops/lanagent/pkg/config"
	"github.com/lanops/lanagent/pkg/logger"
	"github.com/lanops/lanagent/pkg/ratelimit"
)

// Server wires the transport to the dispatcher and its collaborators.
type Server struct {
	cfg        *config.Config
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	sessions   *session.Manager
	sys        *sysinfo.Provider
	loginLimit *ratelimit.SlidingWindow
}

// New builds the HTTP layer. All dependencies are constructed at boot and
// injected here; the server holds no other mutable state.
func New(cfg *config.Config, reg *registry.Registry, d *dispatch.Dispatcher, sessions *session.Manager, sys *sysinfo.Provider) *Server {
	return &Server{
		cfg:        cfg,
		registry:   reg,
		dispatcher: d,
		sessions:   sessions,
		sys:        sys,
		loginLimit: ratelimit.NewSlidingWindow(cfg.LoginRateLimit, time.Minute),
	}
}

// Router builds the gin handler tree.
func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestID(), requestLog(), cors())

	api := r.Group("/api")
	api.GET("/test", s.handleTest)
	api.POST("/command", s.handleCommand)
	api.GET("/health", s.handleHealth)
	api.GET("/tree", s.handleTree)
	api.POST("/login", s.handleLogin)
	api.POST("/logout", s.handleLogout)
	api.GET("/logs", s.handleLogs)
	api.GET("/logs/stream", s.handleLogsStream)

	// Dynamic surface: every discovered endpoint is reachable by name.
	ep := api.Group("/ep")
	ep.GET("/:name", s.handleEndpoint)
	ep.POST("/:name", s.handleEndpoint)

	return r
}

// writeResponse serializes a taxonomy response with its variant's status code.
func writeResponse(c *gin.Context, resp *response.Response) {
	c.JSON(resp.HTTPStatus(), resp)
}

// authToken pulls the session token from the Authorization header (Bearer),
// the X-Auth-Token header, or the token payload field, in that order.
func authToken(c *gin.Context, payload map[string]any) string {
	if h := c.GetHeader("Authorization"); len(h) > 7 && h[:7] == "Bearer " {
		return h[7:]
	}
	if h := c.GetHeader("X-Auth-Token"); h != "" {
		return h
	}
	if payload != nil {
		if t, ok := payload["token"].(string); ok {
			return t
		}
	}
	return ""
}

// jsonBody decodes the request body into a payload map. A missing or empty
// body yields an empty map; malformed JSON yields false.
func jsonBody(c *gin.Context) (map[string]any, bool) {
	payload := map[string]any{}
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return payload, true
	}
	if err := json.NewDecoder(c.Request.Body).Decode(&payload); err != nil {
		return nil, false
	}
	return payload, true
}

func (s *Server) handleTest(c *gin.Context) {
	writeResponse(c, response.Success("APIRest is running", map[string]any{
		"name": s.agentName(),
		"port": s.cfg.Port,
	}))
}

// handleCommand is the published command surface: {command, ...payload}.
// The command value names the endpoint to dispatch.
func (s *Server) handleCommand(c *gin.Context) {
	payload, ok := jsonBody(c)
	if !ok {
		writeResponse(c, response.ValidationError("body"))
		return
	}
	name, _ := payload["command"].(string)
	if name == "" {
		writeResponse(c, response.ValidationError("command"))
		return
	}
	delete(payload, "command")

	resp := s.dispatcher.Dispatch(c.Request.Context(), dispatch.Request{
		Endpoint:  name,
		Method:    http.MethodPost,
		Payload:   payload,
		AuthToken: authToken(c, payload),
	})
	writeResponse(c, resp)
}

func (s *Server) handleHealth(c *gin.Context) {
	writeResponse(c, response.SystemInfo("Health check successful", s.sys.Snapshot()))
}

func (s *Server) handleTree(c *gin.Context) {
	writeResponse(c, response.Success("API structure retrieved", map[string]any{
		"endpoints": s.registry.Tree(),
	}))
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(c *gin.Context) {
	if !s.loginLimit.Allow(c.ClientIP()) {
		logger.WithField("remote", c.ClientIP()).Warn("login throttled")
		writeResponse(c, response.AuthError("Too many login attempts"))
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Username == "" || req.Password == "" {
		writeResponse(c, response.ValidationError("username", "password"))
		return
	}
	sess, err := s.sessions.Login(req.Username, req.Password)
	if err != nil {
		logger.WithField("user", req.Username).Warnf("login rejected: %v", err)
		writeResponse(c, response.AuthError("Invalid credentials"))
		return
	}
	data := map[string]any{"token": sess.Token}
	if !sess.ExpiresAt.IsZero() {
		data["expires_at"] = sess.ExpiresAt
	}
	writeResponse(c, response.Success("Login successful", data))
}

func (s *Server) handleLogout(c *gin.Context) {
	payload, ok := jsonBody(c)
	if !ok {
		writeResponse(c, response.ValidationError("body"))
		return
	}
	token := authToken(c, payload)
	if token == "" {
		writeResponse(c, response.ValidationError("token"))
		return
	}
	if err := s.sessions.Logout(token); err != nil {
		writeResponse(c, response.NotFound("session"))
		return
	}
	writeResponse(c, response.Success("Logged out", nil))
}

// handleLogs serves the agent log tail through the read_logs endpoint, so the
// auth gate and taxonomy apply exactly as for any other dispatch.
func (s *Server) handleLogs(c *gin.Context) {
	payload := map[string]any{}
	if v := c.Query("tail"); v != "" {
		payload["tail"] = jsonNumber(v)
	}
	resp := s.dispatcher.Dispatch(c.Request.Context(), dispatch.Request{
		Endpoint:  "read_logs",
		Method:    http.MethodGet,
		Payload:   payload,
		AuthToken: authToken(c, nil),
	})
	writeResponse(c, resp)
}

// handleEndpoint dispatches any discovered endpoint by name. GET requests
// carry their payload as query parameters, POST as a JSON body.
func (s *Server) handleEndpoint(c *gin.Context) {
	payload := map[string]any{}
	switch c.Request.Method {
	case http.MethodGet:
		for k, vs := range c.Request.URL.Query() {
			if len(vs) > 0 {
				payload[k] = jsonNumber(vs[0])
			}
		}
	default:
		body, ok := jsonBody(c)
		if !ok {
			writeResponse(c, response.ValidationError("body"))
			return
		}
		payload = body
	}

	resp := s.dispatcher.Dispatch(c.Request.Context(), dispatch.Request{
		Endpoint:  c.Param("name"),
		Method:    c.Request.Method,
		Payload:   payload,
		AuthToken: authToken(c, payload),
	})
	writeResponse(c, resp)
}

func (s *Server) agentName() string {
	if s.cfg.Name != "" {
		return s.cfg.Name
	}
	return s.sys.Snapshot().Name
}
