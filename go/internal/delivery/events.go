package delivery

import (
	"time"

	"github.com/google/uuid"
)

type EventStatus string

const (
	EventDelivered    EventStatus = "delivered"
	EventFailed       EventStatus = "failed"
	EventDeadLettered EventStatus = "dead_lettered"
)

// Event reports the outcome of one delivery attempt.
type Event struct {
	IssueID         uuid.UUID   `json:"newsletter_issue_id"`
	SubscriberEmail string      `json:"subscriber_email"`
	Status          EventStatus `json:"status"`
	Attempt         int         `json:"attempt"`
	Error           string      `json:"error,omitempty"`
	At              time.Time   `json:"at"`
}

// EventSink receives delivery events. Implementations must not block.
type EventSink interface {
	Publish(event Event)
}

type nopSink struct{}

func (nopSink) Publish(Event) {}
