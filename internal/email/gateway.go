// Package email delivers newsletter issues through an HTTP email provider.
package email

import (
	"context"
	"errors"

	"github.com/wolfeidau/newsletter/internal/models"
)

var (
	// ErrTransient marks send failures which may succeed later: network
	// errors, timeouts, throttling and provider 5xx responses.
	ErrTransient = errors.New("transient email gateway error")
	// ErrFatal marks requests the provider rejected and will keep rejecting.
	ErrFatal = errors.New("fatal email gateway error")
)

// Gateway sends one email. A nil error means the provider accepted the
// message; no delivery receipt is awaited.
type Gateway interface {
	Send(ctx context.Context, recipient models.SubscriberEmail, subject, htmlBody, textBody string) error
}
