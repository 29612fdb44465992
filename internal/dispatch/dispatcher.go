// Package dispatch implements the validate→authenticate→route→invoke→normalize
// pipeline. The dispatcher alone turns taxonomy responses into wire status
// codes; handlers never see transport concerns.
package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/lanops/lanagent/internal/history"
	"github.com/lanops/lanagent/internal/registry"
	"github.com/lanops/lanagent/internal/response"
	"github.com/lanops/lanagent/pkg/logger"
)

// Request is one inbound call, constructed per request and discarded after
// dispatch completes.
type Request struct {
	Endpoint  string
	Method    string
	Payload   map[string]any
	AuthToken string
}

// TokenVerifier is the auth gate consulted before invoking protected handlers.
type TokenVerifier interface {
	Verify(token string) bool
}

// Recorder receives dispatch outcomes for the audit log.
type Recorder interface {
	Record(ctx context.Context, e history.Entry) error
}

// Dispatcher routes requests through the registry behind the auth gate.
type Dispatcher struct {
	registry *registry.Registry
	sessions TokenVerifier
	recorder Recorder // optional
}

// New wires the dispatcher. recorder may be nil to disable the audit log.
func New(reg *registry.Registry, sessions TokenVerifier, recorder Recorder) *Dispatcher {
	return &Dispatcher{registry: reg, sessions: sessions, recorder: recorder}
}

var nameRe = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

func validMethod(m string) bool {
	switch m {
	case http.MethodGet, http.MethodPost, http.MethodOptions:
		return true
	}
	return false
}

// Dispatch runs the full pipeline for one request. Each gate short-circuits:
// the first failure is the response. Requests are handled at most once; there
// is no retry policy here.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) *response.Response {
	resp := d.run(ctx, req)
	d.record(ctx, req, resp)
	return resp
}

func (d *Dispatcher) run(ctx context.Context, req Request) *response.Response {
	// Gate 1: well-formed endpoint name and method.
	var bad []string
	if req.Endpoint == "" || !nameRe.MatchString(req.Endpoint) {
		bad = append(bad, "endpoint")
	}
	if !validMethod(req.Method) {
		bad = append(bad, "method")
	}
	if len(bad) > 0 {
		return response.ValidationError(bad...)
	}

	// Gate 2: resolve.
	desc, ok := d.registry.Resolve(req.Endpoint)
	if !ok {
		return response.NotFound(fmt.Sprintf("endpoint %q", req.Endpoint))
	}

	// Gate 3: auth. Invalid, expired and missing tokens all fail the same way.
	if desc.RequiresAuth && (d.sessions == nil || !d.sessions.Verify(req.AuthToken)) {
		return response.AuthError("missing, invalid or expired session token")
	}

	// Gate 4: payload shape.
	payload := req.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	if fields := desc.CheckArgs(payload); len(fields) > 0 {
		return response.ValidationError(fields...)
	}

	// Gates 5–6: invoke and normalize.
	return d.invoke(ctx, desc, payload)
}

// invoke calls the handler with panic recovery. Any failure becomes an
// internal error with a sanitized message; the detail goes to the log only.
func (d *Dispatcher) invoke(ctx context.Context, desc registry.Descriptor, payload map[string]any) (resp *response.Response) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithField("endpoint", desc.Name).Errorf("handler panic: %v", r)
			resp = response.InternalError(fmt.Sprintf("handler %q failed", desc.Name))
		}
	}()

	out, err := desc.Handler(ctx, payload)
	if err != nil {
		logger.WithField("endpoint", desc.Name).Errorf("handler error: %v", err)
		return response.InternalError(fmt.Sprintf("handler %q failed", desc.Name))
	}
	if out == nil {
		logger.WithField("endpoint", desc.Name).Error("handler returned no response")
		return response.InternalError(fmt.Sprintf("handler %q returned no response", desc.Name))
	}
	return out
}

// record appends the outcome to the audit log, best-effort.
func (d *Dispatcher) record(ctx context.Context, req Request, resp *response.Response) {
	if d.recorder == nil {
		return
	}
	err := d.recorder.Record(ctx, history.Entry{
		Endpoint: req.Endpoint,
		Method:   req.Method,
		Status:   string(resp.Status()),
		Code:     resp.Code(),
		Message:  resp.Message(),
		At:       time.Now(),
	})
	if err != nil {
		logger.Warnf("history record failed: %v", err)
	}
}
