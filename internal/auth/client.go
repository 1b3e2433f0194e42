// Package auth is a client for the account service.
//
// Every call returns an *Error on a non-2xx response, carrying the service's
// error code. Transport failures are reported as an *Error with code
// NETWORK_ERROR so callers can show a single message for both.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/roach88/treesync/internal/identity"
	"github.com/roach88/treesync/internal/remote"
)

// Error codes returned by the service or synthesized by the client.
const (
	CodeNetwork            = "NETWORK_ERROR"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeInvalidInput       = "INVALID_INPUT"
	CodeEmailTaken         = "EMAIL_TAKEN"
	CodeUsernameTaken      = "USERNAME_TAKEN"
	CodeNotFound           = "NOT_FOUND"
	CodeInvalidCode        = "INVALID_CODE"
	CodeCodeExpired        = "CODE_EXPIRED"
	CodePasswordTooShort   = "PASSWORD_TOO_SHORT"
)

// Error is a failed auth call.
type Error struct {
	Status int
	Code   string
	Op     string
}

func (e *Error) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %s (%d)", e.Op, e.Code, e.Status)
}

// IsIdentityConflict reports whether err is a credential failure: the
// account could not be resolved from what the user supplied.
func IsIdentityConflict(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == CodeInvalidCredentials || e.Status == http.StatusUnauthorized
}

// Code returns the service error code carried by err, or "" if none.
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Client calls the account endpoints under /api/auth.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs an auth client. timeout <= 0 selects remote.DefaultTimeout.
func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	normalized, err := remote.NormalizeBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = remote.DefaultTimeout
	}
	return &Client{
		baseURL:    normalized,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// RegisterInit starts an email-verified registration; the service mails a code.
func (c *Client) RegisterInit(ctx context.Context, username, email, password string) error {
	req := map[string]string{"username": username, "email": email, "password": password}
	return c.post(ctx, "register-init", "REGISTER_INIT_FAILED", req, nil)
}

// VerifyRegistration completes a registration started by RegisterInit.
func (c *Client) VerifyRegistration(ctx context.Context, email, code string) error {
	req := map[string]string{"email": email, "code": code}
	return c.post(ctx, "register-verify", "REGISTER_VERIFY_FAILED", req, nil)
}

// Register creates an account directly, without email verification.
func (c *Client) Register(ctx context.Context, username, email, password string) error {
	req := map[string]string{"username": username, "email": email, "password": password}
	return c.post(ctx, "register", "REGISTER_FAILED", req, nil)
}

// Login authenticates and returns a bare token.
func (c *Client) Login(ctx context.Context, usernameOrEmail, password string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	req := map[string]string{"usernameOrEmail": usernameOrEmail, "password": password}
	if err := c.post(ctx, "login", "LOGIN_FAILED", req, &resp); err != nil {
		return "", err
	}
	return resp.Token, nil
}

// LinkGuest authenticates and attaches guestID's progress to the account.
// The service keeps the account's existing progress if it has any.
func (c *Client) LinkGuest(ctx context.Context, usernameOrEmail, password, guestID string) (identity.Session, error) {
	var s identity.Session
	req := map[string]string{"usernameOrEmail": usernameOrEmail, "password": password, "guestId": guestID}
	if err := c.post(ctx, "link-guest", "LINK_FAILED", req, &s); err != nil {
		return identity.Session{}, err
	}
	if !s.Valid() {
		return identity.Session{}, &Error{Op: "link-guest", Code: "LINK_FAILED", Status: http.StatusOK}
	}
	return s, nil
}

// ResetInit starts a password reset and returns the email the code went to.
func (c *Client) ResetInit(ctx context.Context, usernameOrEmail string) (string, error) {
	var resp struct {
		Email string `json:"email"`
	}
	req := map[string]string{"usernameOrEmail": usernameOrEmail}
	if err := c.post(ctx, "reset-init", "RESET_INIT_FAILED", req, &resp); err != nil {
		return "", err
	}
	return resp.Email, nil
}

// ResetConfirm applies a reset code. Empty newPassword or newUsername leave
// that field unchanged. A fresh session is returned.
func (c *Client) ResetConfirm(ctx context.Context, email, code, newPassword, newUsername string) (identity.Session, error) {
	req := map[string]string{"email": email, "code": code}
	if newPassword != "" {
		req["newPassword"] = newPassword
	}
	if newUsername != "" {
		req["newUsername"] = newUsername
	}
	var s identity.Session
	if err := c.post(ctx, "reset-confirm", "RESET_CONFIRM_FAILED", req, &s); err != nil {
		return identity.Session{}, err
	}
	return s, nil
}

func (c *Client) post(ctx context.Context, op, fallbackCode string, reqBody, respBody any) error {
	data, err := json.Marshal(reqBody)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/auth/"+op, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Op: op, Code: CodeNetwork}
	}
	defer resp.Body.Close()

	respData, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &Error{Op: op, Code: CodeNetwork}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &Error{Op: op, Status: resp.StatusCode, Code: fallbackCode}
		var payload struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(respData, &payload); err == nil && strings.TrimSpace(payload.Error) != "" {
			apiErr.Code = payload.Error
		}
		return apiErr
	}

	if respBody == nil || len(respData) == 0 {
		return nil
	}
	if err := json.Unmarshal(respData, respBody); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}
