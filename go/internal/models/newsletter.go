package models

import (
	"time"

	"github.com/google/uuid"
)

// NewsletterIssue represents a published newsletter issue
type NewsletterIssue struct {
	ID          uuid.UUID `json:"newsletter_issue_id"`
	Title       string    `json:"title"`
	TextContent string    `json:"text_content"`
	HTMLContent string    `json:"html_content"`
	PublishedAt time.Time `json:"published_at"`
}
