package channels

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// LimitedText throttles a TextSender to the provider's allowed send rate.
type LimitedText struct {
	Next    TextSender
	Limiter *rate.Limiter
}

func NewLimitedText(next TextSender, perSecond float64, burst int) *LimitedText {
	return &LimitedText{Next: next, Limiter: newLimiter(perSecond, burst)}
}

func (l *LimitedText) Send(ctx context.Context, to, body string) error {
	if err := l.Limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return l.Next.Send(ctx, to, body)
}

// LimitedEmail throttles an EmailSender.
type LimitedEmail struct {
	Next    EmailSender
	Limiter *rate.Limiter
}

func NewLimitedEmail(next EmailSender, perSecond float64, burst int) *LimitedEmail {
	return &LimitedEmail{Next: next, Limiter: newLimiter(perSecond, burst)}
}

func (l *LimitedEmail) Send(ctx context.Context, to, subject, body string) error {
	if err := l.Limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return l.Next.Send(ctx, to, subject, body)
}

func newLimiter(perSecond float64, burst int) *rate.Limiter {
	if burst < 1 {
		burst = 1
	}
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, burst)
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}
