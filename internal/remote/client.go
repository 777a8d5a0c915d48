package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/jwalitptl/account-api/internal/model"
	"github.com/jwalitptl/account-api/pkg/circuitbreaker"
	apperrors "github.com/jwalitptl/account-api/pkg/errors"
)

const defaultVerifyTTL = 30 * time.Second

// Client talks to the remote authority: the source of truth for login,
// token verification and admin provisioning. Network failures and 5xx
// answers surface as ErrRemoteUnavailable; a definitive 404 stays a 404.
type Client struct {
	baseURL     string
	http        *http.Client
	cb          *circuitbreaker.CircuitBreaker
	verifyCache *gocache.Cache
}

type Config struct {
	BaseURL   string
	Timeout   time.Duration
	VerifyTTL time.Duration
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.VerifyTTL == 0 {
		cfg.VerifyTTL = defaultVerifyTTL
	}

	return &Client{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: cfg.Timeout},
		cb: circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:        "remote-authority",
			MaxRequests: 5,
			Interval:    30 * time.Second,
			Timeout:     15 * time.Second,
		}),
		verifyCache: gocache.New(cfg.VerifyTTL, 2*cfg.VerifyTTL),
	}
}

// Login exchanges credentials for a token and the authoritative account.
func (c *Client) Login(ctx context.Context, username, password string) (*model.LoginResponse, error) {
	body := map[string]string{"username": username, "password": password}

	var resp model.LoginResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", "", body, &resp); err != nil {
		return nil, err
	}
	if resp.Token == "" || resp.User == nil {
		return nil, apperrors.Authentication("login response missing token or user", nil)
	}
	return &resp, nil
}

// Logout invalidates the token remotely. Callers treat failure as
// non-fatal; local cleanup proceeds regardless.
func (c *Client) Logout(ctx context.Context, token string) error {
	c.verifyCache.Delete(token)
	return c.do(ctx, http.MethodPost, "/auth/logout", token, nil, nil)
}

// Verify checks the token against the authority and returns the current
// account state. Successful answers are memoized for a short TTL.
func (c *Client) Verify(ctx context.Context, token string) (*model.Account, error) {
	if cached, ok := c.verifyCache.Get(token); ok {
		account := cached.(model.Account)
		return &account, nil
	}

	var account model.Account
	if err := c.do(ctx, http.MethodGet, "/auth/verify", token, nil, &account); err != nil {
		return nil, err
	}

	c.verifyCache.SetDefault(token, account)
	return &account, nil
}

// CreateAdmin provisions an admin account, its business record and the
// initial subscription in one remote call.
func (c *Client) CreateAdmin(ctx context.Context, token string, req *model.NewAdminRequest) (*model.CreateAdminResponse, error) {
	var resp model.CreateAdminResponse
	if err := c.do(ctx, http.MethodPost, "/users/create-admin", token, req, &resp); err != nil {
		return nil, err
	}
	if resp.User == nil {
		return nil, apperrors.RemoteUnavailable(fmt.Errorf("create-admin response missing user"))
	}
	return &resp, nil
}

// ListAccounts fetches every account the authority knows about.
func (c *Client) ListAccounts(ctx context.Context, token string) ([]*model.Account, error) {
	var accounts []*model.Account
	if err := c.do(ctx, http.MethodGet, "/users", token, nil, &accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

// UpdateStatus pushes a status transition to the authority.
func (c *Client) UpdateStatus(ctx context.Context, token, username, status, reason string) error {
	body := map[string]string{"status": status, "reason": reason}
	return c.do(ctx, http.MethodPatch, "/users/"+username+"/status", token, body, nil)
}

// DeleteAccount removes an account remotely. A 404 comes back as
// ErrNotFound so the caller can fall back to local-only removal.
func (c *Client) DeleteAccount(ctx context.Context, token, username string) error {
	return c.do(ctx, http.MethodDelete, "/users/"+username, token, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path, token string, body, out interface{}) error {
	var payload io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return apperrors.Internal(fmt.Errorf("failed to encode request body: %w", err))
		}
		payload = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return apperrors.Internal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	var resp *http.Response
	err = c.cb.Execute(func() error {
		var httpErr error
		resp, httpErr = c.http.Do(req)
		return httpErr
	})
	if err != nil {
		return apperrors.RemoteUnavailable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return apperrors.RemoteUnavailable(fmt.Errorf("failed to decode response: %w", err))
		}
		return nil
	}

	msg := readErrorMessage(resp.Body)
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return apperrors.NotFound("remote resource", fmt.Errorf("%s %s: %s", method, path, msg))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return apperrors.Authentication(msg, nil)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return apperrors.Validation(msg, nil)
	default:
		return apperrors.RemoteUnavailable(fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, msg))
	}
}

func readErrorMessage(r io.Reader) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r).Decode(&body); err == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Message != "" {
			return body.Message
		}
	}
	return "remote request failed"
}
