// Package channels holds the outbound senders the dispatcher talks to.
package channels

import (
	"context"
	"fmt"
	"strings"
	"time"

	appErrors "github.com/magictalent/ai-agent-backend/internal/errors"
)

// EmailSender delivers one email.
type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// TextSender delivers a plain text message to a phone number (SMS, WhatsApp).
type TextSender interface {
	Send(ctx context.Context, to, body string) error
}

// Calendar books events on a client's calendar.
type Calendar interface {
	CreateEvent(ctx context.Context, clientID string, ev Event) (string, error)
}

// Event describes a meeting offered to a lead.
type Event struct {
	Summary     string
	Description string
	StartTime   time.Time
	Duration    time.Duration
	Attendees   []string
}

// Unconfigured stands in for a text sender or calendar whose credentials are missing.
type Unconfigured struct {
	Name string
}

func (u Unconfigured) Send(ctx context.Context, to, body string) error {
	return fmt.Errorf("%s: %w", u.Name, appErrors.ErrNotConfigured)
}

func (u Unconfigured) CreateEvent(ctx context.Context, clientID string, ev Event) (string, error) {
	return "", fmt.Errorf("%s: %w", u.Name, appErrors.ErrNotConfigured)
}

// UnconfiguredEmail is the EmailSender counterpart of Unconfigured.
type UnconfiguredEmail struct {
	Name string
}

func (u UnconfiguredEmail) Send(ctx context.Context, to, subject, body string) error {
	return fmt.Errorf("%s: %w", u.Name, appErrors.ErrNotConfigured)
}

// NormalizePhone strips formatting characters and keeps a leading '+'.
func NormalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	var b strings.Builder
	for i, r := range phone {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}
