// Package remote talks to the progress server.
//
// Every failure mode is folded into a Status: callers never see transport
// errors, so a sync cycle can always proceed from the local copy.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/roach88/treesync/internal/identity"
	"github.com/roach88/treesync/internal/progress"
)

// DefaultTimeout bounds every remote call.
const DefaultTimeout = 5 * time.Second

// maxBody caps how much of a response is read.
const maxBody = 4 << 20

// Status is the outcome of a remote call.
type Status int

const (
	Found       Status = iota // fetch returned a document
	Absent                    // server has no usable document
	Unreachable               // transport failure or timeout
	Acked                     // replace accepted
)

func (s Status) String() string {
	switch s {
	case Found:
		return "found"
	case Absent:
		return "absent"
	case Unreachable:
		return "unreachable"
	case Acked:
		return "acked"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Client fetches and replaces progress documents by owner.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a client. timeout <= 0 selects DefaultTimeout.
func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	normalized, err := NormalizeBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    normalized,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// NormalizeBaseURL trims a server URL and ensures it has a scheme.
func NormalizeBaseURL(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", fmt.Errorf("server url cannot be empty")
	}
	parsed, err := url.Parse(value)
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("server url must include scheme and host (https://...)")
	}
	return strings.TrimRight(value, "/"), nil
}

// Fetch reads the owner's document.
//
// Non-200 responses and unparseable bodies are Absent. Transport errors and
// timeouts are Unreachable. The token is only sent for account owners.
func (c *Client) Fetch(ctx context.Context, owner identity.Owner, token string) (*progress.Document, Status) {
	req, err := c.newRequest(ctx, http.MethodGet, owner, token, nil)
	if err != nil {
		slog.Warn("remote fetch: bad request", "owner", owner, "error", err)
		return nil, Unreachable
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Warn("remote fetch failed", "owner", owner, "error", err)
		return nil, Unreachable
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		slog.Warn("remote fetch: reading body failed", "owner", owner, "error", err)
		return nil, Unreachable
	}
	if resp.StatusCode != http.StatusOK {
		slog.Debug("remote has no document", "owner", owner, "status", resp.StatusCode)
		return nil, Absent
	}

	doc, err := progress.Decode(data)
	if err != nil {
		slog.Warn("ignoring malformed remote document", "owner", owner, "error", err)
		return nil, Absent
	}
	return &doc, Found
}

// Replace stores doc as the owner's document. Any 2xx is Acked; everything
// else is Unreachable.
func (c *Client) Replace(ctx context.Context, owner identity.Owner, token string, doc progress.Document) Status {
	data, err := progress.Encode(doc)
	if err != nil {
		slog.Warn("remote replace: encode failed", "owner", owner, "error", err)
		return Unreachable
	}
	req, err := c.newRequest(ctx, http.MethodPut, owner, token, data)
	if err != nil {
		slog.Warn("remote replace: bad request", "owner", owner, "error", err)
		return Unreachable
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Warn("remote replace failed", "owner", owner, "error", err)
		return Unreachable
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Warn("remote replace rejected", "owner", owner, "status", resp.StatusCode)
		return Unreachable
	}
	return Acked
}

func (c *Client) newRequest(ctx context.Context, method string, owner identity.Owner, token string, body []byte) (*http.Request, error) {
	endpoint := c.baseURL + "/api/userdata/" + url.PathEscape(owner.ID)

	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if owner.IsAccount() && token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}
