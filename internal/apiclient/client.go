// Package apiclient is the REST client used by the session layer. It attaches the persisted
// bearer token to every request and, on a 401, refreshes the token once and retries.
package apiclient

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
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// RefreshPath is the endpoint used to exchange a refresh token for a new access token.
const RefreshPath = "/auth/refresh"

// ErrNoRefreshToken is returned by the refresh step when no refresh token is persisted.
var ErrNoRefreshToken = errors.New("no refresh token")

// TokenStore is the persisted credential surface the client reads and updates.
type TokenStore interface {
	Token(ctx context.Context) (*oauth2.Token, error)
	RefreshToken(ctx context.Context) (string, error)
	SetTokens(ctx context.Context, access, refresh string) error
	SetAccessToken(ctx context.Context, access string) error
	Clear(ctx context.Context) error
}

// Envelope is the success body of every API response.
type Envelope[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

type refreshData struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenStore
	log        *slog.Logger
	refreshes  singleflight.Group
}

type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.log = l
	}
}

func New(baseURL string, tokens TokenStore, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		tokens:     tokens,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("component", "apiclient")
	return c
}

// Do sends a JSON request and decodes a 2xx body into out (if non-nil).
// Every failure is returned as *Error.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return &Error{Message: fmt.Sprintf("encode request: %v", err), Status: http.StatusInternalServerError, Err: err}
		}
	}

	token, refreshed, refreshErr := c.currentToken(ctx)
	respBody, err := c.send(ctx, method, path, payload, token)
	if err == nil {
		return decode(respBody, out)
	}
	apiErr, ok := AsError(err)
	if !ok || apiErr.Err != nil || apiErr.Status != http.StatusUnauthorized {
		return err
	}
	if refreshed && refreshErr == nil {
		// a freshly refreshed token was rejected; refreshing again would not help
		return err
	}

	// One refresh per original request; the retried call never refreshes again.
	if !refreshed {
		token, refreshErr = c.refresh(ctx)
	}
	if refreshErr != nil {
		c.log.Warn("token refresh failed; clearing auth data", "path", path, "err", refreshErr)
		if clearErr := c.tokens.Clear(ctx); clearErr != nil {
			c.log.Warn("failed to clear auth data", "err", clearErr)
		}
		return err
	}
	respBody, err = c.send(ctx, method, path, payload, token)
	if err != nil {
		return err
	}
	return decode(respBody, out)
}

// currentToken reads the persisted credentials. An access token already past its exp claim
// is refreshed before use when a refresh token is stored; refreshed reports that attempt.
func (c *Client) currentToken(ctx context.Context) (token *oauth2.Token, refreshed bool, err error) {
	token, err = c.tokens.Token(ctx)
	if err != nil {
		// a missing token is not an error; an unreadable store only costs the header
		c.log.Warn("failed to read token from storage", "err", err)
		return &oauth2.Token{}, false, nil
	}
	if token == nil || token.Valid() || token.RefreshToken == "" {
		return token, false, nil
	}
	fresh, err := c.refresh(ctx)
	if err != nil {
		c.log.Info("expired access token could not be refreshed", "err", err)
		return token, true, err
	}
	return fresh, true, nil
}

// Call performs a request and decodes the success envelope.
func Call[T any](ctx context.Context, c *Client, method, path string, body any) (*Envelope[T], error) {
	var env Envelope[T]
	if err := c.Do(ctx, method, path, body, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

func Get[T any](ctx context.Context, c *Client, path string) (*Envelope[T], error) {
	return Call[T](ctx, c, http.MethodGet, path, nil)
}

func Post[T any](ctx context.Context, c *Client, path string, body any) (*Envelope[T], error) {
	return Call[T](ctx, c, http.MethodPost, path, body)
}

func Patch[T any](ctx context.Context, c *Client, path string, body any) (*Envelope[T], error) {
	return Call[T](ctx, c, http.MethodPatch, path, body)
}

// send performs one round trip, authorized with token when it carries an access token.
func (c *Client) send(ctx context.Context, method, path string, payload []byte, token *oauth2.Token) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, &Error{Message: err.Error(), Status: http.StatusInternalServerError, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if token != nil && token.AccessToken != "" {
		token.SetAuthHeader(req)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		msg := err.Error()
		if msg == "" {
			msg = defaultMessage
		}
		return nil, &Error{Message: msg, Status: http.StatusInternalServerError, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Message: err.Error(), Status: http.StatusInternalServerError, Err: err}
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return data, nil
	}
	return nil, responseError(resp.StatusCode, data)
}

// refresh exchanges the persisted refresh token for a new access token. Concurrent 401s
// share a single refresh call.
func (c *Client) refresh(ctx context.Context) (*oauth2.Token, error) {
	v, err, _ := c.refreshes.Do("refresh", func() (any, error) {
		refreshToken, err := c.tokens.RefreshToken(ctx)
		if err != nil {
			return nil, err
		}
		if refreshToken == "" {
			return nil, ErrNoRefreshToken
		}

		payload, err := json.Marshal(map[string]string{"refreshToken": refreshToken})
		if err != nil {
			return nil, err
		}
		// The refresh call carries no bearer and is never itself retried.
		body, err := c.send(ctx, http.MethodPost, RefreshPath, payload, &oauth2.Token{})
		if err != nil {
			return nil, err
		}
		var env Envelope[refreshData]
		if err := decode(body, &env); err != nil {
			return nil, err
		}
		if env.Data.AccessToken == "" {
			return nil, &Error{Message: "refresh response carried no access token", Status: http.StatusUnauthorized}
		}
		if env.Data.RefreshToken != "" {
			err = c.tokens.SetTokens(ctx, env.Data.AccessToken, env.Data.RefreshToken)
		} else {
			err = c.tokens.SetAccessToken(ctx, env.Data.AccessToken)
		}
		if err != nil {
			return nil, err
		}
		c.log.Debug("access token refreshed")
		return &oauth2.Token{AccessToken: env.Data.AccessToken, TokenType: "Bearer"}, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*oauth2.Token), nil
}

func decode(data []byte, out any) error {
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &Error{Message: fmt.Sprintf("decode response: %v", err), Status: http.StatusInternalServerError}
	}
	return nil
}

func responseError(status int, data []byte) *Error {
	var body errorBody
	_ = json.Unmarshal(data, &body)
	msg := body.Message
	if msg == "" {
		msg = body.Error
	}
	if msg == "" {
		msg = defaultMessage
	}
	return &Error{Message: msg, Status: status, Code: body.Code}
}
