// Package mail sends HTML email over SMTP submission.
package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"time"

	gomail "github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"siraj/internal/gateway"
	"siraj/pkg/email"
	"siraj/pkg/platform/circuit"
)

const (
	name            = "mail"
	defaultTimeout  = 10 * time.Second
	implicitTLSPort = 465
	submissionPort  = 587
)

// Security selects how the SMTP session is protected.
type Security string

const (
	// SecurityStartTLS upgrades a plain connection and fails when the server
	// does not offer STARTTLS.
	SecurityStartTLS Security = "starttls"
	// SecurityTLS dials TLS directly (SMTPS).
	SecurityTLS Security = "tls"
	// SecurityNone talks plain SMTP, e.g. to a local relay.
	SecurityNone Security = "none"
)

// DefaultSecurity maps the well-known submission ports to their security
// mode; any other port talks plain SMTP.
func DefaultSecurity(port int) Security {
	switch port {
	case implicitTLSPort:
		return SecurityTLS
	case submissionPort:
		return SecurityStartTLS
	default:
		return SecurityNone
	}
}

// Config holds SMTP submission settings, built once at startup.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
	// Security defaults to DefaultSecurity(Port).
	Security Security
	// TLSConfig overrides the STARTTLS/implicit TLS settings. Tests use it to
	// trust a local server.
	TLSConfig *tls.Config
}

type Client struct {
	cfg     Config
	breaker *circuit.Breaker
	logger  *slog.Logger
	now     func() time.Time
}

type Option func(*Client)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
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
	if cfg.Port == 0 {
		cfg.Port = submissionPort
	}
	if cfg.Security == "" {
		cfg.Security = DefaultSecurity(cfg.Port)
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	c := &Client{
		cfg:     cfg,
		breaker: circuit.New(name),
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enabled reports whether SMTP credentials are configured.
func (c *Client) Enabled() bool {
	return c.cfg.Host != "" && c.cfg.Username != "" && c.cfg.Password != ""
}

// Send delivers one HTML message. Without credentials it is a no-op.
func (c *Client) Send(ctx context.Context, to, subject, htmlBody string) error {
	if !c.Enabled() {
		return nil
	}

	rcpt, err := email.Normalize(to)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", name, gateway.ErrRejected, err)
	}
	msg, err := c.compose(rcpt, subject, htmlBody)
	if err != nil {
		return err
	}

	change, err := gateway.Guard(c.breaker, func() error {
		return c.deliver(ctx, rcpt, msg)
	})
	if change.Opened {
		c.logger.WarnContext(ctx, "mail circuit opened", "error", err)
	}
	if change.Closed {
		c.logger.InfoContext(ctx, "mail circuit closed")
	}
	return err
}

// compose renders a single-part text/html message.
func (c *Client) compose(to, subject, htmlBody string) ([]byte, error) {
	var h gomail.Header
	h.SetDate(c.now())
	h.SetAddressList("From", []*gomail.Address{{Address: c.cfg.From}})
	h.SetAddressList("To", []*gomail.Address{{Name: email.GreetingName(to), Address: to}})
	h.SetSubject(subject)
	h.SetContentType("text/html", map[string]string{"charset": "utf-8"})
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("%s: generate message id: %w", name, err)
	}

	var buf bytes.Buffer
	w, err := gomail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("%s: create message: %w", name, err)
	}
	if _, err := io.WriteString(w, htmlBody); err != nil {
		return nil, fmt.Errorf("%s: write body: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%s: close message: %w", name, err)
	}
	return buf.Bytes(), nil
}

func (c *Client) deliver(ctx context.Context, to string, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	tlsConfig := c.cfg.TLSConfig
	if tlsConfig == nil {
		tlsConfig = &tls.Config{ServerName: c.cfg.Host, MinVersion: tls.VersionTLS12}
	}

	var conn net.Conn
	var err error
	if c.cfg.Security == SecurityTLS {
		conn, err = (&tls.Dialer{Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = (&net.Dialer{}).DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return gateway.Unreachable(name, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	var client *smtp.Client
	if c.cfg.Security == SecurityStartTLS {
		// Closes conn on failure, including a server without STARTTLS.
		client, err = smtp.NewClientStartTLS(conn, tlsConfig)
		if err != nil {
			return classify(err)
		}
	} else {
		client = smtp.NewClient(conn)
	}
	defer client.Close()

	if err := client.Auth(sasl.NewPlainClient("", c.cfg.Username, c.cfg.Password)); err != nil {
		return classify(err)
	}
	if err := client.SendMail(c.cfg.From, []string{to}, bytes.NewReader(msg)); err != nil {
		return classify(err)
	}
	if err := client.Quit(); err != nil {
		c.logger.DebugContext(ctx, "smtp quit failed", "error", err)
	}
	return nil
}

// classify maps permanent (5xx) SMTP replies to rejections and everything
// else, including transient 4xx replies, to unreachable.
func classify(err error) error {
	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) && smtpErr.Code >= 500 {
		return gateway.Rejected(name, smtpErr.Code, smtpErr.Message)
	}
	return gateway.Unreachable(name, err)
}
