// Package client is the HTTP implementation of the proctored session's Test API.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
)

// ErrUnauthorized is returned when the server rejects the bearer token.
var ErrUnauthorized = errors.New("unauthorized")

// APIError is a non-2xx response carrying the server's error envelope.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api error: status %d", e.Status)
	}
	return fmt.Sprintf("api error %s (%d): %s", e.Code, e.Status, e.Message)
}

// TokenStore holds the bearer token between calls.
type TokenStore interface {
	Token() string
	SetToken(token string)
	Clear()
}

// MemoryTokenStore keeps the token in process memory.
type MemoryTokenStore struct {
	mu    sync.RWMutex
	token string
}

func (s *MemoryTokenStore) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *MemoryTokenStore) SetToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

func (s *MemoryTokenStore) Clear() { s.SetToken("") }

// Options configure a Client.
type Options struct {
	BaseURL string
	Timeout time.Duration
	Tokens  TokenStore
	// OnUnauthorized runs after a 401 cleared the token.
	OnUnauthorized func()
	Log            zerolog.Logger
}

// Client talks to the REST API under /api/v1.
type Client struct {
	http           *resty.Client
	tokens         TokenStore
	onUnauthorized func()
	log            zerolog.Logger
}

var _ proctor.TestAPI = (*Client)(nil)

type envelope struct {
	Data  any       `json:"data"`
	Error *APIError `json:"error"`
}

// New creates a Client. A nil token store defaults to an in-memory one.
func New(opts Options) *Client {
	if opts.Tokens == nil {
		opts.Tokens = &MemoryTokenStore{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}

	c := &Client{
		tokens:         opts.Tokens,
		onUnauthorized: opts.OnUnauthorized,
		log:            opts.Log.With().Str("component", "api_client").Logger(),
	}

	c.http = resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(opts.Timeout).
		SetHeader("Accept", "application/json").
		OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
			if tok := c.tokens.Token(); tok != "" {
				r.SetAuthToken(tok)
			}
			return nil
		}).
		OnAfterResponse(func(_ *resty.Client, r *resty.Response) error {
			if r.StatusCode() != http.StatusUnauthorized {
				return nil
			}
			c.tokens.Clear()
			c.log.Warn().Str("url", r.Request.URL).Msg("Token rejected, cleared")
			if c.onUnauthorized != nil {
				c.onUnauthorized()
			}
			return ErrUnauthorized
		})
	return c
}

// Tokens returns the token store.
func (c *Client) Tokens() TokenStore { return c.tokens }

// ─── Calls ──────────────────────────────────────────────────────────

// Login exchanges credentials for a token and stores it.
func (c *Client) Login(ctx context.Context, email, password string) (*model.LoginResponse, error) {
	var out model.LoginResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", model.LoginRequest{Email: email, Password: password}, &out); err != nil {
		return nil, err
	}
	c.tokens.SetToken(out.Token)
	return &out, nil
}

// Logout ends the device session and forgets the token.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, "/auth/logout", nil, nil); err != nil {
		return err
	}
	c.tokens.Clear()
	return nil
}

func (c *Client) GetTest(ctx context.Context, testID string) (proctor.TestPaper, error) {
	var paper model.TestPaper
	if err := c.do(ctx, http.MethodGet, "/tests/"+testID, nil, &paper); err != nil {
		return proctor.TestPaper{}, err
	}
	return paper.ForSession(), nil
}

func (c *Client) StartTest(ctx context.Context, testID string) (string, error) {
	var out model.StartResponse
	if err := c.do(ctx, http.MethodPost, "/tests/"+testID+"/start", nil, &out); err != nil {
		return "", err
	}
	return out.AttemptID.String(), nil
}

func (c *Client) SaveProgress(ctx context.Context, testID string, p proctor.ProgressPayload) error {
	return c.do(ctx, http.MethodPut, "/tests/"+testID+"/progress", p, nil)
}

func (c *Client) SubmitTest(ctx context.Context, testID string, p proctor.SubmitPayload) error {
	return c.do(ctx, http.MethodPost, "/tests/"+testID+"/submit", p, nil)
}

func (c *Client) LogActivity(ctx context.Context, attemptID string, l proctor.ActivityLog) error {
	return c.do(ctx, http.MethodPost, "/proctoring/"+attemptID+"/log", l, nil)
}

// Result fetches the results view data of a finished attempt.
func (c *Client) Result(ctx context.Context, attemptID string) (*model.AttemptResult, error) {
	var out model.AttemptResult
	if err := c.do(ctx, http.MethodGet, "/attempts/"+attemptID+"/result", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req := c.http.R().
		SetContext(ctx).
		SetResult(&envelope{Data: out}).
		SetError(&envelope{})
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) || (resp != nil && resp.StatusCode() == http.StatusUnauthorized) {
			return ErrUnauthorized
		}
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		apiErr := &APIError{Status: resp.StatusCode()}
		if env, ok := resp.Error().(*envelope); ok && env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	return nil
}
