// Package client is a typed HTTP client for the agent API, used by the peer
// that issues commands. Command dispatch is at-most-once: only idempotent
// GETs are ever retried; a failed command must be re-issued by the caller.
package client

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

// APIResult mirrors the agent's wire shape.
type APIResult struct {
	Status  string         `json:"status"`
	Message string         `json:"message"`
	Code    string         `json:"code,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// OK reports the success branch.
func (r *APIResult) OK() bool { return r.Status == "success" }

// Client talks to one agent.
type Client struct {
	http  *resty.Client
	token string
}

// New creates a client for the agent at baseURL.
func New(baseURL string) *Client {
	baseURL = strings.TrimSuffix(baseURL, "/")
	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			// Never retry writes: dispatch is at-most-once.
			if resp != nil && resp.Request != nil && resp.Request.Method != http.MethodGet {
				return false
			}
			return err != nil || (resp != nil && resp.StatusCode() >= 500)
		})
	return &Client{http: rc}
}

// Token returns the active session token, empty before login.
func (c *Client) Token() string { return c.token }

func (c *Client) request(ctx context.Context) *resty.Request {
	r := c.http.R().SetContext(ctx).SetHeader("Content-Type", "application/json")
	if c.token != "" {
		r.SetHeader("Authorization", "Bearer "+c.token)
	}
	return r
}

func (c *Client) do(req *resty.Request, method, path string) (*APIResult, error) {
	var out APIResult
	req.SetResult(&out).SetError(&out)

	var (
		resp *resty.Response
		err  error
	)
	switch method {
	case http.MethodGet:
		resp, err = req.Get(path)
	case http.MethodPost:
		resp, err = req.Post(path)
	default:
		return nil, errors.Errorf("unsupported method %s", method)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, path)
	}
	if out.Status == "" {
		return nil, errors.Errorf("%s %s: unexpected response (http %d)", method, path, resp.StatusCode())
	}
	return &out, nil
}

// Login authenticates and stores the issued token for subsequent calls.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	req := c.request(ctx).SetBody(map[string]string{"username": username, "password": password})
	res, err := c.do(req, http.MethodPost, "/api/login")
	if err != nil {
		return "", err
	}
	if !res.OK() {
		return "", errors.Errorf("login failed: %s", res.Message)
	}
	token, _ := res.Data["token"].(string)
	if token == "" {
		return "", errors.New("login response carried no token")
	}
	c.token = token
	return token, nil
}

// Logout invalidates the active session and clears the stored token.
func (c *Client) Logout(ctx context.Context) error {
	if c.token == "" {
		return errors.New("no active session")
	}
	res, err := c.do(c.request(ctx), http.MethodPost, "/api/logout")
	if err != nil {
		return err
	}
	c.token = ""
	if !res.OK() {
		return errors.Errorf("logout failed: %s", res.Message)
	}
	return nil
}

// Command dispatches a named command with an optional payload.
func (c *Client) Command(ctx context.Context, name string, payload map[string]any) (*APIResult, error) {
	body := map[string]any{"command": name}
	for k, v := range payload {
		body[k] = v
	}
	return c.do(c.request(ctx).SetBody(body), http.MethodPost, "/api/command")
}

// Endpoint calls a discovered endpoint through the dynamic surface.
func (c *Client) Endpoint(ctx context.Context, method, name string, payload map[string]any) (*APIResult, error) {
	req := c.request(ctx)
	if method == http.MethodPost && payload != nil {
		req.SetBody(payload)
	}
	return c.do(req, method, fmt.Sprintf("/api/ep/%s", name))
}

// Test checks agent reachability.
func (c *Client) Test(ctx context.Context) (*APIResult, error) {
	return c.do(c.request(ctx), http.MethodGet, "/api/test")
}

// Health fetches the host health snapshot.
func (c *Client) Health(ctx context.Context) (*APIResult, error) {
	return c.do(c.request(ctx), http.MethodGet, "/api/health")
}

// Tree enumerates the agent's registered endpoints.
func (c *Client) Tree(ctx context.Context) (*APIResult, error) {
	return c.do(c.request(ctx), http.MethodGet, "/api/tree")
}
