// Package push sends push notifications through a OneSignal-compatible REST API.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"siraj/internal/gateway"
	"siraj/pkg/platform/circuit"
	pstrings "siraj/pkg/platform/strings"
)

const (
	name            = "push"
	defaultTimeout  = 5 * time.Second
	maxLoggedBody   = 2048
	broadcastTarget = "All"
)

// Message is one push send. Broadcast ignores TargetUserIDs.
type Message struct {
	Title         string
	Body          string
	TargetUserIDs []string
	Broadcast     bool
	Data          map[string]string
}

// Config is built once at startup.
type Config struct {
	Endpoint string
	AppID    string
	APIKey   string
	Timeout  time.Duration
}

// Client is fire-and-forget: the provider's response body is only logged.
type Client struct {
	cfg     Config
	http    *http.Client
	breaker *circuit.Breaker
	logger  *slog.Logger
}

type Option func(*Client)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(c *Client) {
		c.breaker = b
	}
}

func New(cfg Config, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	c := &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: circuit.New(name),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enabled reports whether credentials are configured.
func (c *Client) Enabled() bool {
	return c.cfg.AppID != "" && c.cfg.APIKey != "" && c.cfg.Endpoint != ""
}

type payload struct {
	AppID                 string            `json:"app_id"`
	Headings              map[string]string `json:"headings"`
	Contents              map[string]string `json:"contents"`
	IncludeExternalUserID []string          `json:"include_external_user_ids,omitempty"`
	IncludedSegments      []string          `json:"included_segments,omitempty"`
	Data                  map[string]string `json:"data,omitempty"`
}

// Send posts msg to the provider. Failures are returned as gateway errors for
// the caller to record; they are never retried here. Without credentials Send
// is a no-op; the process reports the disabled channel once at startup.
func (c *Client) Send(ctx context.Context, msg Message) error {
	if !c.Enabled() {
		return nil
	}

	p := payload{
		AppID:    c.cfg.AppID,
		Headings: map[string]string{"en": msg.Title},
		Contents: map[string]string{"en": msg.Body},
		Data:     msg.Data,
	}
	if msg.Broadcast {
		p.IncludedSegments = []string{broadcastTarget}
	} else {
		p.IncludeExternalUserID = pstrings.DedupeAndTrim(msg.TargetUserIDs)
		if len(p.IncludeExternalUserID) == 0 {
			return gateway.Rejected(name, 0, "no target users")
		}
	}

	change, err := gateway.Guard(c.breaker, func() error {
		return c.post(ctx, p)
	})
	if change.Opened {
		c.logger.WarnContext(ctx, "push circuit opened", "error", err)
	}
	if change.Closed {
		c.logger.InfoContext(ctx, "push circuit closed")
	}
	return err
}

func (c *Client) post(ctx context.Context, p payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("%s: encode payload: %w", name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: build request: %w", name, err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Basic "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return gateway.Unreachable(name, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxLoggedBody))
	c.logger.DebugContext(ctx, "push provider response",
		"status", resp.StatusCode,
		"body", strings.TrimSpace(string(respBody)),
	)

	switch {
	case resp.StatusCode >= 500:
		return gateway.Unreachable(name, fmt.Errorf("provider status %d", resp.StatusCode))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return gateway.Rejected(name, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return nil
}
