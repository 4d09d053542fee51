package providers

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// ErrSMTPAuth is returned when the server rejects the partner's credentials
var ErrSMTPAuth = errors.New("smtp authentication failed")

// SMTPSettings are a partner's decrypted SMTP credentials
type SMTPSettings struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
}

// SMTPProvider sends through a partner's own mail server. Port 465 uses
// implicit TLS; other ports upgrade with STARTTLS when offered.
type SMTPProvider struct {
	settings SMTPSettings
	timeout  time.Duration
}

// NewSMTPProvider creates a new SMTP email provider
func NewSMTPProvider(settings SMTPSettings) *SMTPProvider {
	if settings.Port == 0 {
		settings.Port = 587
	}
	return &SMTPProvider{settings: settings, timeout: 15 * time.Second}
}

func (p *SMTPProvider) addr() string {
	return net.JoinHostPort(p.settings.Host, strconv.Itoa(p.settings.Port))
}

// connect dials, negotiates TLS and authenticates
func (p *SMTPProvider) connect(ctx context.Context) (*smtp.Client, error) {
	dialer := &net.Dialer{Timeout: p.timeout}
	tlsConfig := &tls.Config{ServerName: p.settings.Host, MinVersion: tls.VersionTLS12}

	var conn net.Conn
	var err error
	if p.settings.Port == 465 {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", p.addr())
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", p.addr())
	}
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", p.addr(), err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(p.timeout))
	}

	client, err := smtp.NewClient(conn, p.settings.Host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("smtp handshake: %w", err)
	}

	if p.settings.Port != 465 {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				client.Close()
				return nil, fmt.Errorf("starttls: %w", err)
			}
		}
	}

	if p.settings.Username != "" {
		auth := smtp.PlainAuth("", p.settings.Username, p.settings.Password, p.settings.Host)
		if err := client.Auth(auth); err != nil {
			client.Close()
			return nil, fmt.Errorf("%w: %v", ErrSMTPAuth, err)
		}
	}

	return client, nil
}

// TestConnection authenticates and issues NOOP without sending anything
func (p *SMTPProvider) TestConnection(ctx context.Context) error {
	client, err := p.connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Noop(); err != nil {
		return fmt.Errorf("smtp noop: %w", err)
	}
	return client.Quit()
}

// Send sends an email via SMTP
func (p *SMTPProvider) Send(ctx context.Context, message *Message) (*SendResult, error) {
	from := p.settings.From
	fromName := p.settings.FromName
	if message.From != "" {
		from = message.From
		fromName = message.FromName
	}

	client, err := p.connect(ctx)
	if err != nil {
		return failed(p.GetName(), err)
	}
	defer client.Close()

	if err := client.Mail(from); err != nil {
		return failed(p.GetName(), err)
	}
	if err := client.Rcpt(message.To); err != nil {
		return failed(p.GetName(), err)
	}

	w, err := client.Data()
	if err != nil {
		return failed(p.GetName(), err)
	}
	if _, err := w.Write(buildMIME(formatAddress(fromName, from), message)); err != nil {
		return failed(p.GetName(), err)
	}
	if err := w.Close(); err != nil {
		return failed(p.GetName(), err)
	}
	_ = client.Quit()

	return &SendResult{
		ProviderName: p.GetName(),
		Success:      true,
		ProviderData: map[string]interface{}{
			"to":      message.To,
			"subject": message.Subject,
			"host":    p.settings.Host,
		},
	}, nil
}

// GetName returns the provider name
func (p *SMTPProvider) GetName() string {
	return "SMTP"
}

const mimeBoundary = "quote-funnel-alt"

func buildMIME(from string, message *Message) []byte {
	var b strings.Builder
	headers := [][2]string{
		{"From", from},
		{"To", message.To},
		{"Subject", message.Subject},
		{"Date", time.Now().Format(time.RFC1123Z)},
		{"MIME-Version", "1.0"},
	}
	if message.ReplyTo != "" {
		headers = append(headers, [2]string{"Reply-To", message.ReplyTo})
	}
	for k, v := range message.Headers {
		headers = append(headers, [2]string{k, v})
	}
	for _, h := range headers {
		fmt.Fprintf(&b, "%s: %s\r\n", h[0], h[1])
	}

	switch {
	case message.BodyHTML != "" && message.Body != "":
		fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", mimeBoundary)
		fmt.Fprintf(&b, "--%s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n", mimeBoundary, message.Body)
		fmt.Fprintf(&b, "--%s\r\nContent-Type: text/html; charset=utf-8\r\n\r\n%s\r\n", mimeBoundary, message.BodyHTML)
		fmt.Fprintf(&b, "--%s--\r\n", mimeBoundary)
	case message.BodyHTML != "":
		b.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n")
		b.WriteString(message.BodyHTML)
	default:
		b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
		b.WriteString(message.Body)
	}
	return []byte(b.String())
}
