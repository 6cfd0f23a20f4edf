// Package email delivers import notifications through Resend.
package email

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"github.com/resend/resend-go/v2"
)

// NotifierName is the registry name of the email notifier.
const NotifierName = "email"

type sender interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// Notifier sends plain notification emails to one recipient
type Notifier struct {
	emails sender
	from   string
	to     string
	logger *slog.Logger
}

// NewNotifier creates a Resend-backed notifier
func NewNotifier(apiKey, from, to string, logger *slog.Logger) (*Notifier, error) {
	if apiKey == "" || from == "" || to == "" {
		return nil, errors.New("resend api key, sender and recipient are required")
	}
	return &Notifier{
		emails: resend.NewClient(apiKey).Emails,
		from:   from,
		to:     to,
		logger: logger,
	}, nil
}

func (n *Notifier) Name() string { return NotifierName }

// Notify sends subject and body as one email.
func (n *Notifier) Notify(ctx context.Context, subject, body string) error {
	resp, err := n.emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    n.from,
		To:      []string{n.to},
		Subject: subject,
		Text:    body,
		Html:    render(subject, body),
	})
	if err != nil {
		return fmt.Errorf("failed to send notification email: %w", err)
	}
	n.logger.Debug("notification email sent", slog.String("id", resp.Id))
	return nil
}

func render(subject, body string) string {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html><html><body style=\"font-family: sans-serif\">")
	fmt.Fprintf(&b, "<h2>%s</h2>", html.EscapeString(subject))
	for _, line := range strings.Split(body, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			fmt.Fprintf(&b, "<p>%s</p>", html.EscapeString(line))
		}
	}
	b.WriteString("</body></html>")
	return b.String()
}
