package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	apperrors "github.com/NikhilSetiya/statsbridge/pkg/errors"
	"github.com/NikhilSetiya/statsbridge/pkg/logging"
)

// Credentials identify a client of the upstream analytics API
type Credentials struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// Session is the upstream session material returned by authentication
type Session struct {
	SessionID    string    `json:"session_id"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// ClientConfig holds upstream API client configuration
type ClientConfig struct {
	BaseURL        string
	APIKey         string
	RequestTimeout time.Duration
}

// Client talks to the upstream analytics API. It performs no retries and
// no locking; the resilience layer wraps it.
type Client struct {
	config ClientConfig
	http   *http.Client
	logger *logging.Logger
}

// NewClient creates an upstream analytics API client
func NewClient(config ClientConfig, httpClient *http.Client) *Client {
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 10 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.RequestTimeout}
	}

	return &Client{
		config: config,
		http:   httpClient,
		logger: logging.GetLogger(),
	}
}

// Authenticate exchanges credentials for a session
func (c *Client) Authenticate(ctx context.Context, creds Credentials) (*Session, error) {
	if creds.ClientID == "" || creds.ClientSecret == "" {
		return nil, apperrors.NewValidationError("client id and secret are required")
	}

	var session Session
	if err := c.post(ctx, "/v1/auth/token", creds, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// Refresh exchanges a refresh token for a fresh session
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	if refreshToken == "" {
		return nil, apperrors.NewValidationError("refresh token is required")
	}

	body := map[string]string{"refresh_token": refreshToken}
	var session Session
	if err := c.post(ctx, "/v1/auth/refresh", body, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// Logout invalidates a session upstream
func (c *Client) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return apperrors.NewValidationError("session id is required")
	}

	body := map[string]string{"session_id": sessionID}
	return c.post(ctx, "/v1/auth/logout", body, nil)
}

// Validate checks a session upstream and reports whether it is active
func (c *Client) Validate(ctx context.Context, sessionID string) (bool, error) {
	if sessionID == "" {
		return false, apperrors.NewValidationError("session id is required")
	}

	body := map[string]string{"session_id": sessionID}
	var result struct {
		Active bool `json:"active"`
	}
	if err := c.post(ctx, "/v1/auth/validate", body, &result); err != nil {
		return false, err
	}
	return result.Active, nil
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return apperrors.NewInternalError("failed to encode request body").WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return apperrors.NewInternalError("failed to build request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("X-API-Key", c.config.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return apperrors.NewTimeoutError(path)
		}
		return apperrors.NewExternalError("analytics", "request failed").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.statusError(path, resp)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.NewExternalError("analytics", "malformed response body").WithCause(err)
	}
	return nil
}

// statusError maps upstream HTTP failures onto the error taxonomy the
// retry classifier understands
func (c *Client) statusError(path string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return apperrors.NewAuthenticationError("upstream rejected credentials").
			WithDetail("path", path).
			WithDetail("status", fmt.Sprintf("%d", resp.StatusCode))
	case resp.StatusCode == http.StatusNotFound:
		return apperrors.NewNotFoundError(path)
	case resp.StatusCode == http.StatusTooManyRequests:
		return apperrors.NewRateLimitError("upstream rate limit").
			WithDetail("retry_after", resp.Header.Get("Retry-After"))
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		return apperrors.NewTimeoutError(path)
	case resp.StatusCode >= 500:
		return apperrors.NewExternalError("analytics",
			fmt.Sprintf("upstream returned %d", resp.StatusCode)).
			WithDetail("body", string(snippet))
	default:
		return apperrors.NewValidationError(
			fmt.Sprintf("upstream rejected request with %d", resp.StatusCode)).
			WithDetail("body", string(snippet))
	}
}

func isTimeout(err error) bool {
	var timeout interface{ Timeout() bool }
	return errors.As(err, &timeout) && timeout.Timeout()
}
