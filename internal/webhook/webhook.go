// Package webhook is a minimal Discord webhook client that can create a
// message and later edit it by ID.
package webhook

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
	"unicode/utf8"

	"golang.org/x/time/rate"

	"speedhook/internal/report"
)

// Unconfigured is the placeholder URL value meaning "not set yet".
const Unconfigured = "unconfigured"

// placeholder left in place by people copying the sample config.
const legacyPlaceholder = "YOUR_WEBHOOK_URL_HERE"

// ErrNotFound is returned by Edit when the message no longer exists.
var ErrNotFound = errors.New("webhook message not found")

// ErrNoMessageID is returned by Create when the server accepted the message
// but the response carried no usable ID. The message exists remotely.
var ErrNoMessageID = errors.New("webhook create: message created but id unreadable")

// StatusError is a non-2xx response other than a not-found edit.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("webhook %s: unexpected status %d", e.Op, e.Code)
	}
	return fmt.Sprintf("webhook %s: unexpected status %d: %s", e.Op, e.Code, e.Body)
}

// Message is the JSON payload for create and edit requests.
type Message struct {
	Username  string        `json:"username,omitempty"`
	AvatarURL string        `json:"avatar_url,omitempty"`
	Embeds    []report.Body `json:"embeds"`
}

type Config struct {
	// Timeout bounds a single request. 0 => 15s.
	Timeout time.Duration
	// RatePerSec paces outgoing requests. 0 => 1.
	RatePerSec float64
	UserAgent  string
}

// Client talks to one or more webhook URLs.
type Client struct {
	hc      *http.Client
	limiter *rate.Limiter
	ua      string
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client (tests).
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.hc = hc } }

func New(cfg Config, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if strings.TrimSpace(cfg.UserAgent) == "" {
		cfg.UserAgent = "speedhook"
	}
	c := &Client{
		hc:      &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
		ua:      cfg.UserAgent,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Configured reports whether raw looks like a usable webhook URL rather than
// an empty value or a placeholder.
func Configured(raw string) bool {
	s := strings.TrimSpace(raw)
	if s == "" || strings.EqualFold(s, Unconfigured) || strings.Contains(s, legacyPlaceholder) {
		return false
	}
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "https" || u.Scheme == "http") && u.Host != ""
}

// Create posts msg and returns the ID the server assigned to it.
func (c *Client) Create(ctx context.Context, webhookURL string, msg Message) (string, error) {
	u, err := createURL(webhookURL)
	if err != nil {
		return "", err
	}
	status, body, err := c.do(ctx, http.MethodPost, u, msg)
	if err != nil {
		return "", fmt.Errorf("webhook create: %w", err)
	}
	if status < 200 || status > 299 {
		return "", &StatusError{Op: "create", Code: status, Body: truncate(string(body), 500)}
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoMessageID, err)
	}
	if strings.TrimSpace(out.ID) == "" {
		return "", ErrNoMessageID
	}
	return out.ID, nil
}

// Edit replaces the content of message id. It returns ErrNotFound when the
// message was deleted.
func (c *Client) Edit(ctx context.Context, webhookURL, id string, msg Message) error {
	u, err := editURL(webhookURL, id)
	if err != nil {
		return err
	}
	status, body, err := c.do(ctx, http.MethodPatch, u, msg)
	if err != nil {
		return fmt.Errorf("webhook edit: %w", err)
	}
	if status == http.StatusNotFound {
		return ErrNotFound
	}
	if status < 200 || status > 299 {
		return &StatusError{Op: "edit", Code: status, Body: truncate(string(body), 500)}
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, u string, msg Message) (int, []byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return 0, nil, fmt.Errorf("marshal message: %w", err)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, redact(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.ua)

	resp, err := c.hc.Do(req)
	if err != nil {
		return 0, nil, redact(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

// createURL adds wait=true so the server answers with the created message.
func createURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("webhook url: %w", redact(err))
	}
	q := u.Query()
	q.Set("wait", "true")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func editURL(raw, id string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("webhook url: %w", redact(err))
	}
	if strings.TrimSpace(id) == "" {
		return "", errors.New("webhook edit: empty message id")
	}
	u = u.JoinPath("messages", id)
	q := u.Query()
	q.Del("wait")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// redact replaces the URL inside net/url and net/http errors with its
// scheme and host. The path carries the webhook token.
func redact(err error) error {
	var ue *url.Error
	if !errors.As(err, &ue) {
		return err
	}
	return &url.Error{Op: ue.Op, URL: hostOnly(ue.URL), Err: ue.Err}
}

func hostOnly(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "<redacted>"
	}
	return u.Scheme + "://" + u.Host + "/<redacted>"
}

// truncate shortens s to at most maxN bytes without splitting a rune.
func truncate(s string, maxN int) string {
	s = strings.TrimSpace(s)
	if maxN <= 3 || len(s) <= maxN {
		return s
	}
	cut := maxN - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
