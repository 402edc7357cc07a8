package models

import (
	"time"

	"github.com/google/uuid"
)

type SubscriptionStatus string

const (
	SubscriptionPending   SubscriptionStatus = "pending_confirmation"
	SubscriptionConfirmed SubscriptionStatus = "confirmed"
)

// Subscriber represents a row in the subscriptions table
type Subscriber struct {
	ID           uuid.UUID          `json:"id"`
	Email        string             `json:"email"`
	Name         string             `json:"name"`
	SubscribedAt time.Time          `json:"subscribed_at"`
	Status       SubscriptionStatus `json:"status"`
}
