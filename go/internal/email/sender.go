// Package email delivers rendered newsletter issues to a single recipient.
package email

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Sender sends one email. Any error is treated as transient by callers.
type Sender interface {
	Send(ctx context.Context, recipient, subject, htmlBody, textBody string) error
}

// LogSender only logs; used for local development.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, recipient, subject, htmlBody, textBody string) error {
	log.Info().
		Str("subscriber_email", recipient).
		Str("subject", subject).
		Int("html_size", len(htmlBody)).
		Int("text_size", len(textBody)).
		Msg("would send email")
	return nil
}

type messageIDKey struct{}

// WithMessageID attaches the id of the delivery being sent. Transports that dedupe
// use it so that a repeated hand-off of the same delivery is dropped and nothing else is.
func WithMessageID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, messageIDKey{}, id)
}

// MessageID returns the id attached with WithMessageID, or a fresh one.
func MessageID(ctx context.Context) string {
	if id, ok := ctx.Value(messageIDKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}
