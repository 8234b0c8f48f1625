// Package upstream talks to the n8n automation webhooks: image matching,
// support requests, and review notifications.
package upstream

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/theboatscanner/boatscanner/internal/ledger"
)

// maxResponseBytes bounds how much of an upstream body is read.
const maxResponseBytes = 4 << 20

// ErrNotConfigured is returned when a webhook URL is missing.
var ErrNotConfigured = errors.New("webhook url not configured")

// StatusError is a non-2xx upstream response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Body)
}

// matchRequest is the body the matching workflow expects.
type matchRequest struct {
	Photo    string `json:"photo"`
	Filename string `json:"filename"`
	MimeType string `json:"mimetype"`
	Size     int    `json:"size"`
}

// Client sends images to the matching webhook. It implements ledger.Matcher.
type Client struct {
	url    string
	token  string
	client *http.Client
}

// NewClient creates a Client. timeout bounds each request; there is no retry.
func NewClient(url, token string, timeout time.Duration) *Client {
	return &Client{
		url:   url,
		token: token,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Match posts img and returns the decoded JSON response.
// Transport errors, non-2xx statuses and undecodable bodies are all errors.
func (c *Client) Match(ctx context.Context, img ledger.Image) (any, error) {
	if c.url == "" {
		return nil, ErrNotConfigured
	}

	body, err := json.Marshal(matchRequest{
		Photo:    base64.StdEncoding.EncodeToString(img.Data),
		Filename: img.Filename,
		MimeType: img.MimeType,
		Size:     len(img.Data),
	})
	if err != nil {
		return nil, err
	}

	data, err := post(ctx, c.client, c.url, body, func(h http.Header) {
		if c.token != "" {
			h.Set("Authorization", "Bearer "+c.token)
		}
	})
	if err != nil {
		return nil, err
	}

	var payload any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decode upstream response: %w", err)
	}
	return payload, nil
}

// AuthScheme selects how a Notifier presents its secret.
type AuthScheme int

const (
	// AuthBearer sends "Authorization: Bearer <token>".
	AuthBearer AuthScheme = iota
	// AuthSecretHeader sends "x-secret-token: <token>".
	AuthSecretHeader
)

// Notifier posts JSON events to a webhook.
type Notifier struct {
	url    string
	token  string
	scheme AuthScheme
	client *http.Client
}

// NewNotifier creates a Notifier.
func NewNotifier(url, token string, scheme AuthScheme, timeout time.Duration) *Notifier {
	return &Notifier{
		url:    url,
		token:  token,
		scheme: scheme,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Configured reports whether the notifier has a destination.
func (n *Notifier) Configured() bool {
	return n != nil && n.url != ""
}

// Notify posts v as JSON and discards the response body.
func (n *Notifier) Notify(ctx context.Context, v any) error {
	if !n.Configured() {
		return ErrNotConfigured
	}
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = post(ctx, n.client, n.url, body, func(h http.Header) {
		if n.token == "" {
			return
		}
		switch n.scheme {
		case AuthSecretHeader:
			h.Set("x-secret-token", n.token)
		default:
			h.Set("Authorization", "Bearer "+n.token)
		}
	})
	return err
}

func post(ctx context.Context, client *http.Client, url string, body []byte, auth func(http.Header)) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	auth(req.Header)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	_ = resp.Body.Close()
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: excerpt(data)}
	}
	return data, nil
}

// excerpt trims a response body for error messages.
func excerpt(data []byte) string {
	s := strings.TrimSpace(string(data))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
