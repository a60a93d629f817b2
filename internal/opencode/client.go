// Package opencode provides a thin typed client for the opencode server's
// session API. It performs single requests with a caller-supplied timeout
// and no retry logic; retry policy belongs to the engine.
package opencode

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultTimeout = 120 * time.Second

// Credentials holds the Basic authentication pair sent with every request.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("server returned %s", e.Status)
	}
	return fmt.Sprintf("server returned %s: %s", e.Status, body)
}

// Is enables errors.Is checks against any *APIError.
func (e *APIError) Is(target error) bool {
	_, ok := target.(*APIError)
	return ok
}

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig configures client construction.
type ClientConfig struct {
	BaseURL     string
	Credentials Credentials
	Timeout     time.Duration
}

// Client issues typed requests against one opencode server.
type Client struct {
	baseURL     string
	credentials Credentials
	timeout     time.Duration
	doer        httpDoer
}

// NewClient validates the configuration and builds a session client.
func NewClient(cfg ClientConfig) (*Client, error) {
	return newClient(cfg, nil)
}

// NewClientWithDoer builds a session client with an injectable HTTP doer.
func NewClientWithDoer(cfg ClientConfig, doer httpDoer) (*Client, error) {
	if doer == nil {
		return nil, errors.New("http doer must not be nil")
	}
	return newClient(cfg, doer)
}

func newClient(cfg ClientConfig, doer httpDoer) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("server base URL must not be empty")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parse server base URL %q: %w", baseURL, err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if doer == nil {
		doer = &http.Client{}
	}

	return &Client{
		baseURL:     baseURL,
		credentials: cfg.Credentials,
		timeout:     timeout,
		doer:        doer,
	}, nil
}

type createSessionRequest struct {
	Title     string `json:"title,omitempty"`
	Directory string `json:"directory,omitempty"`
}

// CreateSessionOpts carries the optional attributes of a new session.
type CreateSessionOpts struct {
	Title     string
	Directory string
}

// CreateSession opens a new remote session.
func (c *Client) CreateSession(ctx context.Context, opts CreateSessionOpts) (*Session, error) {
	var session Session
	payload := createSessionRequest{
		Title:     strings.TrimSpace(opts.Title),
		Directory: strings.TrimSpace(opts.Directory),
	}
	if err := c.do(ctx, http.MethodPost, "/session", payload, &session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if strings.TrimSpace(session.ID) == "" {
		return nil, errors.New("create session: response missing id")
	}
	return &session, nil
}

// GetSession fetches the current session state, including a fresh summary.
func (c *Client) GetSession(ctx context.Context, id string) (*Session, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("session id must not be empty")
	}

	var session Session
	if err := c.do(ctx, http.MethodGet, "/session/"+url.PathEscape(id), nil, &session); err != nil {
		return nil, fmt.Errorf("get session %q: %w", id, err)
	}
	return &session, nil
}

// GetSessionDiff fetches the ordered per-file diff of a session.
func (c *Client) GetSessionDiff(ctx context.Context, id string) ([]FileDiff, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("session id must not be empty")
	}

	var diffs []FileDiff
	if err := c.do(ctx, http.MethodGet, "/session/"+url.PathEscape(id)+"/diff", nil, &diffs); err != nil {
		return nil, fmt.Errorf("get session diff %q: %w", id, err)
	}
	return diffs, nil
}

type sendMessageRequest struct {
	Parts []messagePartRequest `json:"parts"`
}

type messagePartRequest struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// SendMessage submits one text prompt and returns the agent's full reply.
func (c *Client) SendMessage(ctx context.Context, id, text string) (*MessageResponse, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("session id must not be empty")
	}
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("message text must not be empty")
	}

	payload := sendMessageRequest{
		Parts: []messagePartRequest{{Type: PartTypeText, Text: text}},
	}

	var response MessageResponse
	if err := c.do(ctx, http.MethodPost, "/session/"+url.PathEscape(id)+"/message", payload, &response); err != nil {
		return nil, fmt.Errorf("send message to session %q: %w", id, err)
	}
	return &response, nil
}

type abortResponse struct {
	Success bool `json:"success"`
}

// AbortSession requests best-effort cancellation of a session. Failures are
// swallowed because abort is cleanup, not part of the critical path.
func (c *Client) AbortSession(ctx context.Context, id string) bool {
	if strings.TrimSpace(id) == "" {
		return false
	}

	var response abortResponse
	if err := c.do(ctx, http.MethodPost, "/session/"+url.PathEscape(id)+"/abort", struct{}{}, &response); err != nil {
		return false
	}
	return response.Success
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(c.credentials.Username, c.credentials.Password)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.doer.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(raw),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response body: %w", err)
	}
	return nil
}
