// Package mail delivers transactional email. Mailer is the only type the
// rest of the application depends on; SMTPMailer sends, NopMailer discards,
// and Dispatcher wraps either one to send in the background.
package mail

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// PasswordReset is a reset-link email.
type PasswordReset struct {
	To        string
	Name      string
	Link      string
	ExpiresIn time.Duration
}

// Mailer sends transactional emails.
type Mailer interface {
	SendPasswordReset(ctx context.Context, msg PasswordReset) error
}

// NopMailer discards all outbound email. Used when SMTP is not configured.
type NopMailer struct {
	Logger *slog.Logger
}

func (n *NopMailer) SendPasswordReset(_ context.Context, msg PasswordReset) error {
	if n.Logger != nil {
		n.Logger.Debug("mail disabled, dropping password reset email", slog.String("to", msg.To))
	}
	return nil
}

// formatDuration renders a duration as a human-readable expiry string.
// e.g. time.Hour → "1 hour", 48*time.Hour → "2 days", 15*time.Minute → "15 minutes".
func formatDuration(d time.Duration) string {
	switch {
	case d >= 24*time.Hour:
		return plural(int(d.Hours()/24), "day")
	case d >= time.Hour:
		return plural(int(d.Hours()), "hour")
	default:
		return plural(int(d.Minutes()), "minute")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
