package models

import (
	"time"

	"github.com/google/uuid"
)

// NewsletterIssue is immutable once inserted.
type NewsletterIssue struct {
	ID          uuid.UUID // UUIDv7
	Title       string
	HTMLContent string
	TextContent string
	PublishedAt time.Time
}

// DeliveryTask is a pending delivery of one issue to one recipient. The row
// existing is the pending state; it carries no other mutable fields.
type DeliveryTask struct {
	IssueID         uuid.UUID
	SubscriberEmail string // Raw stored value, validated by the worker
}
