// Package backend talks to an upstream service that owns roles, permissions and
// workflow definitions. The upstream exposes the same JSON surface as this service.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/frahmantamala/approval-workflow/internal"
	"github.com/frahmantamala/approval-workflow/internal/permission"
	"github.com/frahmantamala/approval-workflow/internal/policy"
	"github.com/frahmantamala/approval-workflow/internal/workflow"
)

const apiKeyHeader = "X-API-Key"

type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration
	logger     *slog.Logger
}

var _ policy.Source = (*Client)(nil)

func NewClient(config Config, logger *slog.Logger) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	retries := config.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	delay := config.RetryDelay
	if delay <= 0 {
		delay = 200 * time.Millisecond
	}
	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		apiKey:     config.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: retries,
		retryDelay: delay,
		logger:     logger,
	}
}

// Session is the upstream view of the caller.
type Session struct {
	IsAuthenticated bool         `json:"is_authenticated"`
	User            *SessionUser `json:"user"`
	Stale           bool         `json:"stale"`
}

type SessionUser struct {
	ID          int64    `json:"id"`
	Email       string   `json:"email"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

// Principal turns the session into resolver input. A session that carried no list
// falls back to the role table.
func (s *Session) Principal() permission.Principal {
	if s == nil || s.User == nil {
		return permission.Principal{Permissions: []string{}}
	}
	return permission.Principal{Role: s.User.Role, Permissions: s.User.Permissions}
}

// CurrentSession forwards the caller's bearer token. An unauthenticated answer is not an error.
func (c *Client) CurrentSession(ctx context.Context, token string) (*Session, error) {
	headers := http.Header{}
	if token != "" {
		headers.Set("Authorization", "Bearer "+token)
	}
	var session Session
	if err := c.do(ctx, http.MethodGet, "/current-session", headers, nil, &session); err != nil {
		if internal.IsType(err, internal.ErrorTypeUnauthorized) {
			return &Session{}, nil
		}
		return nil, err
	}
	return &session, nil
}

func (c *Client) ListPermissions(ctx context.Context) ([]string, error) {
	var body struct {
		Permissions []struct {
			Name string `json:"name"`
		} `json:"permissions"`
	}
	if err := c.do(ctx, http.MethodGet, "/permissions", nil, nil, &body); err != nil {
		return nil, err
	}
	names := make([]string, len(body.Permissions))
	for i, p := range body.Permissions {
		names[i] = p.Name
	}
	return names, nil
}

func (c *Client) ListRoles(ctx context.Context) ([]policy.RoleDefinition, error) {
	var body struct {
		Roles []policy.RoleDefinition `json:"roles"`
	}
	if err := c.do(ctx, http.MethodGet, "/roles", nil, nil, &body); err != nil {
		return nil, err
	}
	return body.Roles, nil
}

func (c *Client) ListWorkflows(ctx context.Context, module string) ([]*workflow.Definition, error) {
	path := "/approval-workflows"
	if module != "" {
		path += "?module=" + url.QueryEscape(module)
	}
	var defs []*workflow.Definition
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &defs); err != nil {
		return nil, err
	}
	return defs, nil
}

// SetRolePermissions is not retried; the upstream bumps the role version on every call.
func (c *Client) SetRolePermissions(ctx context.Context, roleID int64, perms []string) (*policy.RoleDefinition, error) {
	payload := map[string][]string{"permissions": perms}
	var def policy.RoleDefinition
	path := fmt.Sprintf("/roles/%d/permissions", roleID)
	if err := c.do(ctx, http.MethodPost, path, nil, payload, &def); err != nil {
		return nil, err
	}
	return &def, nil
}

func (c *Client) do(ctx context.Context, method, path string, headers http.Header, payload, dst interface{}) error {
	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return internal.NewInternalError("failed to encode backend request", err)
		}
	}

	attempts := 1
	if method == http.MethodGet {
		attempts = c.maxRetries
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		retry, err := c.once(ctx, method, path, headers, body, dst)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry || attempt == attempts {
			break
		}

		c.logger.Warn("backend request failed, retrying",
			"method", method,
			"path", path,
			"attempt", attempt,
			"error", err)

		select {
		case <-time.After(c.retryDelay * time.Duration(attempt)):
		case <-ctx.Done():
			return internal.NewExternalError("backend request cancelled", ctx.Err())
		}
	}
	return lastErr
}

// once performs a single round trip and reports whether a failure is worth retrying.
func (c *Client) once(ctx context.Context, method, path string, headers http.Header, body []byte, dst interface{}) (bool, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return false, internal.NewInternalError("failed to build backend request", err)
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return false, internal.NewExternalError("backend request cancelled", err)
		}
		return true, internal.NewExternalError(fmt.Sprintf("%s %s failed", method, path), err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return false, internal.NewUnauthorizedError("backend rejected the session", internal.ErrCodeInvalidToken)
	case resp.StatusCode == http.StatusForbidden:
		return false, internal.NewForbiddenError("backend denied the request", internal.ErrCodeInsufficientPerms)
	case resp.StatusCode == http.StatusNotFound:
		return false, internal.NewNotFoundError(fmt.Sprintf("%s not found on backend", path), internal.ErrCodeBackendUnavailable)
	case resp.StatusCode >= 500:
		return true, internal.NewExternalError(fmt.Sprintf("%s %s returned status %d", method, path, resp.StatusCode), nil)
	case resp.StatusCode >= 300:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, internal.NewExternalError(
			fmt.Sprintf("%s %s returned status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg))), nil)
	}

	if dst == nil {
		return false, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return false, internal.NewExternalError("failed to decode backend response", err)
	}
	return false, nil
}
