package models

import (
	"time"

	"github.com/google/uuid"
)

// DeadLetter is a delivery task that exhausted its attempts.
type DeadLetter struct {
	IssueID         uuid.UUID `json:"newsletter_issue_id"`
	SubscriberEmail string    `json:"subscriber_email"`
	NRetries        int       `json:"n_retries"`
	LastError       string    `json:"last_error"`
	FailedAt        time.Time `json:"failed_at"`
}
