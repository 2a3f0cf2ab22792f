package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"html/template"
	"net"
	"net/smtp"
	"strings"
)

// SMTPConfig holds all configuration for SMTPMailer.
type SMTPConfig struct {
	Host        string
	Port        string
	Username    string
	Password    string
	FromAddress string
}

// SMTPMailer sends mail over SMTP with mandatory STARTTLS.
type SMTPMailer struct {
	cfg SMTPConfig
}

var _ Mailer = (*SMTPMailer)(nil)

func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

var resetTemplate = template.Must(template.New("reset").Parse(`<p>Hello {{.Name}},</p>
<p>You requested a password reset. Click the link below to choose a new password:</p>
<p><a href="{{.Link}}">Reset password</a></p>
<p>This link expires in {{.ExpiresIn}}. If you did not request a reset, ignore this email.</p>
`))

// buildResetMessage renders the full RFC 5322 message for msg.
func buildResetMessage(from string, msg PasswordReset) (string, error) {
	var body bytes.Buffer
	err := resetTemplate.Execute(&body, struct {
		Name, Link, ExpiresIn string
	}{
		Name:      msg.Name,
		Link:      msg.Link,
		ExpiresIn: formatDuration(msg.ExpiresIn),
	})
	if err != nil {
		return "", fmt.Errorf("rendering reset email: %w", err)
	}

	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + msg.To + "\r\n")
	b.WriteString("Subject: Reset your password\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body.String())
	return b.String(), nil
}

// SendPasswordReset emails the reset link in msg.
func (m *SMTPMailer) SendPasswordReset(ctx context.Context, msg PasswordReset) error {
	if strings.ContainsAny(msg.To, "\r\n") {
		return fmt.Errorf("sending password reset email: invalid recipient")
	}
	raw, err := buildResetMessage(m.cfg.FromAddress, msg)
	if err != nil {
		return err
	}
	if err := m.sendMail(ctx, msg.To, raw); err != nil {
		return fmt.Errorf("sending password reset email: %w", err)
	}
	return nil
}

// sendMail dials the SMTP server, enforces STARTTLS (rejects plaintext sessions),
// authenticates, and delivers msg. The connection respects ctx cancellation.
func (m *SMTPMailer) sendMail(ctx context.Context, to, msg string) error {
	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", net.JoinHostPort(m.cfg.Host, m.cfg.Port))
	if err != nil {
		return fmt.Errorf("smtp dial: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp client: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); !ok {
		return fmt.Errorf("smtp server does not advertise STARTTLS: refusing plaintext session")
	}
	if err := c.StartTLS(&tls.Config{ServerName: m.cfg.Host}); err != nil {
		return fmt.Errorf("smtp starttls: %w", err)
	}

	if m.cfg.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := c.Mail(m.cfg.FromAddress); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	if err := c.Rcpt(to); err != nil {
		return fmt.Errorf("smtp RCPT TO: %w", err)
	}

	wc, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := fmt.Fprint(wc, msg); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("smtp data close: %w", err)
	}

	return c.Quit()
}
