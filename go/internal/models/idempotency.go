package models

import (
	"time"

	"github.com/google/uuid"
)

// IdempotencyRecord is the stored state of one idempotency key. A nil
// ResponseStatusCode marks a placeholder whose owner has not finished yet.
type IdempotencyRecord struct {
	UserID             uuid.UUID `json:"user_id"`
	IdempotencyKey     string    `json:"idempotency_key"`
	ResponseStatusCode *int      `json:"response_status_code,omitempty"`
	ResponseHeaders    []byte    `json:"response_headers,omitempty"`
	ResponseBody       []byte    `json:"response_body,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// Completed reports whether the record holds a saved response.
func (r *IdempotencyRecord) Completed() bool {
	return r != nil && r.ResponseStatusCode != nil
}
