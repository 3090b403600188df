package models

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidSubscriberEmail is returned when a stored or supplied address is not a bare email address.
var ErrInvalidSubscriberEmail = errors.New("invalid subscriber email")

// SubscriptionStatus tracks where a subscriber is in the opt-in flow.
type SubscriptionStatus string

const (
	SubscriptionStatusPendingConfirmation SubscriptionStatus = "pending_confirmation"
	SubscriptionStatusConfirmed           SubscriptionStatus = "confirmed"
)

// Subscriber is a row of the subscriptions table. Email is kept as the raw
// stored string because rows written by older code paths may not parse.
type Subscriber struct {
	ID           uuid.UUID
	Email        string
	Name         string
	SubscribedAt time.Time
	Status       SubscriptionStatus
}

// SubscriberEmail is an address which passed ParseSubscriberEmail.
type SubscriberEmail string

// ParseSubscriberEmail accepts a bare addr-spec such as "ursula@example.com".
// Display names, angle brackets and surrounding whitespace are rejected.
func ParseSubscriberEmail(s string) (SubscriberEmail, error) {
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("%w: address cannot be empty", ErrInvalidSubscriberEmail)
	}

	addr, err := mail.ParseAddress(s)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidSubscriberEmail, s, err)
	}

	if addr.Name != "" || addr.Address != s {
		return "", fmt.Errorf("%w: %q is not a bare address", ErrInvalidSubscriberEmail, s)
	}

	_, domain, _ := strings.Cut(addr.Address, "@")
	if domain == "" || strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return "", fmt.Errorf("%w: %q has an invalid domain", ErrInvalidSubscriberEmail, s)
	}

	return SubscriberEmail(addr.Address), nil
}

func (e SubscriberEmail) String() string {
	return string(e)
}
