// Package push sends import notifications through Expo Push.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	// ExpoPushURL is the Expo Push API endpoint
	ExpoPushURL = "https://exp.host/--/api/v2/push/send"

	// RequestTimeout for push requests
	RequestTimeout = 10 * time.Second

	// NotifierName is the registry name of the push notifier.
	NotifierName = "push"
)

// Message represents an Expo push notification message
type Message struct {
	To       string         `json:"to"`
	Title    string         `json:"title,omitempty"`
	Body     string         `json:"body"`
	Data     map[string]any `json:"data,omitempty"`
	Sound    string         `json:"sound,omitempty"`    // "default" or custom
	Priority string         `json:"priority,omitempty"` // "default", "normal", "high"
}

// Response represents the Expo Push API response
type Response struct {
	Data []TicketResponse `json:"data"`
}

// TicketResponse represents a single push ticket
type TicketResponse struct {
	Status  string `json:"status"` // "ok" or "error"
	ID      string `json:"id,omitempty"`
	Message string `json:"message,omitempty"`
	Details struct {
		Error string `json:"error,omitempty"`
	} `json:"details,omitempty"`
}

// Service delivers notifications to a fixed set of Expo tokens
type Service struct {
	client *http.Client
	url    string
	tokens []string
	logger *slog.Logger
}

// NewService creates a push notifier. Invalid tokens are dropped.
func NewService(tokens []string, logger *slog.Logger) *Service {
	valid := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if isValidExpoPushToken(t) {
			valid = append(valid, t)
		} else {
			logger.Warn("ignoring invalid Expo push token", slog.String("token", redact(t)))
		}
	}
	return &Service{
		client: &http.Client{Timeout: RequestTimeout},
		url:    ExpoPushURL,
		tokens: valid,
		logger: logger,
	}
}

// WithURL points the service at another push endpoint
func (s *Service) WithURL(url string) *Service {
	s.url = url
	return s
}

func (s *Service) Name() string { return NotifierName }

// Enabled reports whether any token is configured.
func (s *Service) Enabled() bool {
	return len(s.tokens) > 0
}

// Notify sends subject and body to every configured token.
func (s *Service) Notify(ctx context.Context, subject, body string) error {
	messages := make([]*Message, len(s.tokens))
	for i, token := range s.tokens {
		messages[i] = &Message{To: token, Title: subject, Body: firstLine(body)}
	}
	return s.SendBatch(ctx, messages)
}

// SendBatch sends push notifications to multiple tokens
func (s *Service) SendBatch(ctx context.Context, messages []*Message) error {
	if len(messages) == 0 {
		return nil
	}
	for _, msg := range messages {
		if msg.Sound == "" {
			msg.Sound = "default"
		}
	}

	payload, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("failed to marshal push messages: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send push notifications: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read push response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		s.logger.Error("push batch failed", slog.Int("status", resp.StatusCode), slog.String("body", string(respBody)))
		return fmt.Errorf("push batch failed with status: %d", resp.StatusCode)
	}

	var pushResp Response
	if err := json.Unmarshal(respBody, &pushResp); err != nil {
		return fmt.Errorf("failed to parse push response: %w", err)
	}

	var errs []error
	for i, ticket := range pushResp.Data {
		if ticket.Status != "error" {
			continue
		}
		msg := ticket.Message
		if ticket.Details.Error != "" {
			msg = ticket.Details.Error
		}
		token := ""
		if i < len(messages) {
			token = redact(messages[i].To)
		}
		errs = append(errs, fmt.Errorf("push to %s failed: %s", token, msg))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	s.logger.Info("push batch sent", slog.Int("count", len(messages)))
	return nil
}

// isValidExpoPushToken checks if a token is a valid Expo push token
func isValidExpoPushToken(token string) bool {
	return len(token) > 20 && (strings.HasPrefix(token, "ExponentPushToken[") || strings.HasPrefix(token, "ExpoPushToken["))
}

func redact(token string) string {
	if len(token) > 20 {
		return token[:20] + "..."
	}
	return token
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
