package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/lanops/lanagent/internal/history"
	"github.com/lanops/lanagent/internal/registry"
	"github.com/lanops/lanagent/internal/response"
)

type stubVerifier struct{ valid string }

func (v stubVerifier) Verify(token string) bool { return token != "" && token == v.valid }

type memRecorder struct {
	mu      sync.Mutex
	entries []history.Entry
	fail    bool
}

func (r *memRecorder) Record(ctx context.Context, e history.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return fmt.Errorf("recorder down")
	}
	r.entries = append(r.entries, e)
	return nil
}

// buildRegistry discovers a temp manifest tree bound to the given table.
func buildRegistry(t *testing.T, table map[string]registry.HandlerFunc, manifests map[string]string) *registry.Registry {
	t.Helper()
	root := t.TempDir()
	for name, body := range manifests {
		path := filepath.Join(root, name+".endpoint.json")
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("write manifest: %v", err)
		}
	}
	reg, err := registry.Discover(root, table)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	return reg
}

func TestUnknownEndpointIsNotFoundNeverInternal(t *testing.T) {
	reg := buildRegistry(t, map[string]registry.HandlerFunc{
		"ok": func(ctx context.Context, args map[string]any) (*response.Response, error) {
			return response.Success("ok", nil), nil
		},
	}, map[string]string{"known": `{"handler":"ok"}`})
	d := New(reg, stubVerifier{}, nil)

	resp := d.Dispatch(context.Background(), Request{Endpoint: "nope", Method: http.MethodPost})
	if resp.Kind() != response.KindNotFound {
		t.Fatalf("kind = %s, want not_found", resp.Kind())
	}
	if resp.HTTPStatus() != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.HTTPStatus())
	}
}

func TestMalformedRequestGate(t *testing.T) {
	reg := buildRegistry(t, map[string]registry.HandlerFunc{}, nil)
	d := New(reg, stubVerifier{}, nil)

	cases := []Request{
		{Endpoint: "", Method: http.MethodPost},
		{Endpoint: "has space", Method: http.MethodPost},
		{Endpoint: "fine", Method: "DELETE"},
		{Endpoint: "fine", Method: ""},
	}
	for _, req := range cases {
		resp := d.Dispatch(context.Background(), req)
		if resp.Kind() != response.KindValidation {
			t.Errorf("%+v: kind = %s, want validation_error", req, resp.Kind())
		}
	}
}

func TestAuthGateIsTotal(t *testing.T) {
	invoked := false
	reg := buildRegistry(t, map[string]registry.HandlerFunc{
		"guarded": func(ctx context.Context, args map[string]any) (*response.Response, error) {
			invoked = true
			return response.Success("ok", nil), nil
		},
	}, map[string]string{"secret": `{"handler":"guarded","requires_auth":true}`})
	d := New(reg, stubVerifier{valid: "good-token"}, nil)

	for _, token := range []string{"", "bad-token"} {
		resp := d.Dispatch(context.Background(), Request{Endpoint: "secret", Method: http.MethodPost, AuthToken: token})
		if resp.Kind() != response.KindAuth {
			t.Fatalf("token %q: kind = %s, want auth_error", token, resp.Kind())
		}
		if invoked {
			t.Fatal("handler ran despite failed auth gate")
		}
	}

	resp := d.Dispatch(context.Background(), Request{Endpoint: "secret", Method: http.MethodPost, AuthToken: "good-token"})
	if resp.IsError() || !invoked {
		t.Fatalf("valid token rejected: %s %s", resp.Kind(), resp.Message())
	}
}

func TestPayloadValidationEnumeratesFields(t *testing.T) {
	reg := buildRegistry(t, map[string]registry.HandlerFunc{
		"run": func(ctx context.Context, args map[string]any) (*response.Response, error) {
			return response.Success("ok", nil), nil
		},
	}, map[string]string{
		"run": `{"handler":"run","args":[
			{"name":"command","type":"string","required":true},
			{"name":"pid","type":"number","required":true}
		]}`,
	})
	d := New(reg, stubVerifier{}, nil)

	resp := d.Dispatch(context.Background(), Request{
		Endpoint: "run",
		Method:   http.MethodPost,
		Payload:  map[string]any{"pid": "not-a-number"},
	})
	if resp.Kind() != response.KindValidation {
		t.Fatalf("kind = %s, want validation_error", resp.Kind())
	}
	msg := resp.Message()
	for _, field := range []string{"command", "pid"} {
		if !strings.Contains(msg, field) {
			t.Fatalf("message %q does not name field %q", msg, field)
		}
	}
}

func TestHandlerErrorBecomesSanitizedInternal(t *testing.T) {
	reg := buildRegistry(t, map[string]registry.HandlerFunc{
		"boom": func(ctx context.Context, args map[string]any) (*response.Response, error) {
			return nil, fmt.Errorf("secret path /etc/shadow exploded")
		},
	}, map[string]string{"boom": `{"handler":"boom"}`})
	d := New(reg, stubVerifier{}, nil)

	resp := d.Dispatch(context.Background(), Request{Endpoint: "boom", Method: http.MethodPost})
	if resp.Kind() != response.KindInternal {
		t.Fatalf("kind = %s, want internal_error", resp.Kind())
	}
	if strings.Contains(resp.Message(), "shadow") {
		t.Fatalf("internal detail leaked to response: %q", resp.Message())
	}
}

func TestHandlerPanicRecovered(t *testing.T) {
	reg := buildRegistry(t, map[string]registry.HandlerFunc{
		"panics": func(ctx context.Context, args map[string]any) (*response.Response, error) {
			panic("kaboom")
		},
	}, map[string]string{"panics": `{"handler":"panics"}`})
	d := New(reg, stubVerifier{}, nil)

	resp := d.Dispatch(context.Background(), Request{Endpoint: "panics", Method: http.MethodPost})
	if resp.Kind() != response.KindInternal {
		t.Fatalf("kind = %s, want internal_error", resp.Kind())
	}
}

func TestNilHandlerResponseIsInternal(t *testing.T) {
	reg := buildRegistry(t, map[string]registry.HandlerFunc{
		"empty": func(ctx context.Context, args map[string]any) (*response.Response, error) {
			return nil, nil
		},
	}, map[string]string{"empty": `{"handler":"empty"}`})
	d := New(reg, stubVerifier{}, nil)

	resp := d.Dispatch(context.Background(), Request{Endpoint: "empty", Method: http.MethodPost})
	if resp.Kind() != response.KindInternal {
		t.Fatalf("kind = %s, want internal_error", resp.Kind())
	}
}

func TestOutcomesRecorded(t *testing.T) {
	reg := buildRegistry(t, map[string]registry.HandlerFunc{
		"ok": func(ctx context.Context, args map[string]any) (*response.Response, error) {
			return response.Success("done", nil), nil
		},
	}, map[string]string{"ok": `{"handler":"ok"}`})
	rec := &memRecorder{}
	d := New(reg, stubVerifier{}, rec)

	d.Dispatch(context.Background(), Request{Endpoint: "ok", Method: http.MethodPost})
	d.Dispatch(context.Background(), Request{Endpoint: "missing", Method: http.MethodPost})

	if len(rec.entries) != 2 {
		t.Fatalf("recorded %d entries, want 2", len(rec.entries))
	}
	if rec.entries[0].Status != "success" || rec.entries[1].Status != "error" {
		t.Fatalf("unexpected statuses: %+v", rec.entries)
	}
	if rec.entries[1].Code != "not_found" {
		t.Fatalf("error entry code = %q, want not_found", rec.entries[1].Code)
	}
}

func TestRecorderFailureNeverFailsDispatch(t *testing.T) {
	reg := buildRegistry(t, map[string]registry.HandlerFunc{
		"ok": func(ctx context.Context, args map[string]any) (*response.Response, error) {
			return response.Success("done", nil), nil
		},
	}, map[string]string{"ok": `{"handler":"ok"}`})
	d := New(reg, stubVerifier{}, &memRecorder{fail: true})

	resp := d.Dispatch(context.Background(), Request{Endpoint: "ok", Method: http.MethodPost})
	if resp.IsError() {
		t.Fatalf("dispatch failed because of the recorder: %s", resp.Message())
	}
}
