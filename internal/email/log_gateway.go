package email

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/newsletter/internal/models"
)

// LogGateway logs messages instead of sending them. Used with the memory store
// for local development.
type LogGateway struct{}

var _ Gateway = LogGateway{}

func (LogGateway) Send(ctx context.Context, recipient models.SubscriberEmail, subject, htmlBody, textBody string) error {
	log.Info().
		Str("subscriber_email", recipient.String()).
		Str("subject", subject).
		Int("html_bytes", len(htmlBody)).
		Int("text_bytes", len(textBody)).
		Msg("Email send skipped, log gateway in use")
	return nil
}
