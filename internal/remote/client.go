// Package remote is the client side of the remote store: authentication,
// the poem relations, the realtime feed and object storage, over HTTP.
//
// Every error it returns is an *apperror.AppError. Transport failures and
// 5xx responses map to apperror.ErrNetwork, so the resilience wrapper
// retries them; 4xx responses map to the permanent kinds.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/sakif/captured-thinkings/internal/apperror"
	"github.com/sakif/captured-thinkings/internal/model"
)

// APIKeyHeader carries the public anon key on every request.
const APIKeyHeader = "apikey"

var timeNow = time.Now

// Client calls the remote store over HTTP.
//
// It holds at most one Session. While it does, requests are authorized
// with the session's access token through an oauth2.Transport; otherwise
// they go out with the anon key only.
type Client struct {
	baseURL string
	anonKey string
	logger  *slog.Logger

	anon   *http.Client
	authed *http.Client

	mu      sync.RWMutex
	session *model.Session
}

// Options configure a Client.
type Options struct {
	BaseURL string
	AnonKey string
	Timeout time.Duration
	// Transport is the base round tripper; nil means http.DefaultTransport.
	Transport http.RoundTripper
	Logger    *slog.Logger
}

func New(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		anonKey: opts.AnonKey,
		logger:  logger,
	}

	base := &apiKeyTransport{key: opts.AnonKey, base: opts.Transport}
	c.anon = &http.Client{Transport: base, Timeout: timeout}
	c.authed = &http.Client{
		Transport: &oauth2.Transport{Source: sessionTokenSource{c}, Base: base},
		Timeout:   timeout,
	}
	return c
}

// apiKeyTransport adds the anon key header to every request.
type apiKeyTransport struct {
	key  string
	base http.RoundTripper
}

func (t *apiKeyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	// RoundTrippers must not modify the caller's request.
	r := req.Clone(req.Context())
	r.Header.Set(APIKeyHeader, t.key)
	return base.RoundTrip(r)
}

// sessionTokenSource hands the current session to oauth2.Transport.
type sessionTokenSource struct{ c *Client }

func (s sessionTokenSource) Token() (*oauth2.Token, error) {
	sess := s.c.Session()
	if sess == nil {
		return nil, errors.New("no session")
	}
	return sess.OAuth2Token(), nil
}

// Session returns a copy of the current session, or nil.
func (c *Client) Session() *model.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return nil
	}
	s := *c.session
	return &s
}

// SetSession installs a session restored from elsewhere, e.g. the local
// mirror. nil clears it.
func (c *Client) SetSession(s *model.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s == nil {
		c.session = nil
		return
	}
	cp := *s
	c.session = &cp
}

// ViewerID is the user behind the current session, or "" when anonymous.
func (c *Client) ViewerID() string {
	if s := c.Session(); s != nil {
		return s.User.ID
	}
	return ""
}

func (c *Client) httpClient() *http.Client {
	if c.Session() != nil {
		return c.authed
	}
	return c.anon
}

// errorBody mirrors the server's error response.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field"`
	Code    string `json:"code"`
}

// APIError is an error response from the remote store. It is always
// returned wrapped in an *apperror.AppError; use errors.As to reach it.
type APIError struct {
	Status  int
	Type    string
	Message string
	Code    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("remote store returned %d %s: %s", e.Status, e.Type, e.Message)
}

// mapStatus converts an error response to the apperror taxonomy.
//
// WHY ARE 5xx RESPONSES NETWORK ERRORS?
// The resilience wrapper only retries network errors. A 5xx, 408 or 429
// says nothing about the request itself, so the same call may succeed a
// second later. Every 4xx is the server judging the request, and repeating
// it would get the same answer.
func mapStatus(op string, status int, body errorBody) error {
	apiErr := &APIError{Status: status, Type: body.Error, Message: body.Message, Code: body.Code}
	msg := body.Message
	if msg == "" {
		msg = http.StatusText(status)
	}

	var kind error
	switch {
	case status >= 500 || status == http.StatusTooManyRequests || status == http.StatusRequestTimeout:
		return apperror.Network(op, apiErr)
	case body.Code == apperror.CodeFeatureLimit:
		kind = apperror.ErrValidation
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		kind = apperror.ErrValidation
	case status == http.StatusUnauthorized:
		kind = apperror.ErrAuth
	case status == http.StatusForbidden:
		kind = apperror.ErrForbidden
	case status == http.StatusNotFound:
		kind = apperror.ErrNotFound
	case status == http.StatusConflict:
		kind = apperror.ErrConflict
	default:
		kind = apperror.ErrValidation
	}
	return &apperror.AppError{
		Err:     errors.Join(kind, apiErr),
		Message: msg,
		Field:   body.Field,
		Code:    body.Code,
	}
}

// doJSON sends payload (if any) as JSON and decodes a 2xx body into out
// (if non-nil).
func (c *Client) doJSON(ctx context.Context, op, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("remote: encoding %s request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("remote: building %s request: %w", op, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	return c.do(op, req, out)
}

func (c *Client) do(op string, req *http.Request, out any) error {
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return apperror.Network(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var eb errorBody
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		return mapStatus(op, resp.StatusCode, eb)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		// A truncated body is a transport problem, not a permanent one.
		return apperror.Network(op, fmt.Errorf("decoding response: %w", err))
	}
	return nil
}
