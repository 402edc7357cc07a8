package newsletter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/mcdev12/newsletter/go/internal/models"
	"github.com/mcdev12/newsletter/go/internal/sqlutil"
)

// ErrIssueNotFound is returned by GetIssue for an unknown id.
var ErrIssueNotFound = errors.New("newsletter issue not found")

const (
	insertIssueQuery = `
INSERT INTO newsletter_issues (newsletter_issue_id, title, text_content, html_content, published_at)
VALUES ($1, $2, $3, $4, $5)`

	getIssueQuery = `
SELECT newsletter_issue_id, title, text_content, html_content, published_at
FROM newsletter_issues
WHERE newsletter_issue_id = $1`

	listIssuesQuery = `
SELECT newsletter_issue_id, title, text_content, html_content, published_at
FROM newsletter_issues
ORDER BY published_at DESC
LIMIT $1`

	confirmedSubscribersQuery = `
SELECT email
FROM subscriptions
WHERE status = $1`
)

// Repository implements newsletter data access operations
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new newsletter repository
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// InsertIssue stores the issue inside the publishing transaction.
func (r *Repository) InsertIssue(ctx context.Context, tx sqlutil.Tx, issue *models.NewsletterIssue) error {
	_, err := tx.ExecContext(ctx, insertIssueQuery,
		issue.ID,
		issue.Title,
		issue.TextContent,
		issue.HTMLContent,
		issue.PublishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert newsletter issue: %w", err)
	}
	return nil
}

// ConfirmedSubscriberEmails reads recipients inside the publishing transaction, so the
// enqueued set matches the snapshot the issue was published against.
func (r *Repository) ConfirmedSubscriberEmails(ctx context.Context, tx sqlutil.Tx) ([]string, error) {
	rows, err := tx.QueryContext(ctx, confirmedSubscribersQuery, models.SubscriptionConfirmed)
	if err != nil {
		return nil, fmt.Errorf("failed to query confirmed subscribers: %w", err)
	}
	defer rows.Close()

	var emails []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("failed to scan subscriber email: %w", err)
		}
		emails = append(emails, email)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate confirmed subscribers: %w", err)
	}
	return emails, nil
}

// GetIssue retrieves an issue by ID
func (r *Repository) GetIssue(ctx context.Context, id uuid.UUID) (*models.NewsletterIssue, error) {
	var issue models.NewsletterIssue
	err := r.db.QueryRowContext(ctx, getIssueQuery, id).Scan(
		&issue.ID,
		&issue.Title,
		&issue.TextContent,
		&issue.HTMLContent,
		&issue.PublishedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrIssueNotFound, id)
		}
		return nil, fmt.Errorf("failed to get newsletter issue: %w", err)
	}
	return &issue, nil
}

// ListIssues returns the most recently published issues first.
func (r *Repository) ListIssues(ctx context.Context, limit int) ([]models.NewsletterIssue, error) {
	rows, err := r.db.QueryContext(ctx, listIssuesQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list newsletter issues: %w", err)
	}
	defer rows.Close()

	issues := []models.NewsletterIssue{}
	for rows.Next() {
		var issue models.NewsletterIssue
		if err := rows.Scan(&issue.ID, &issue.Title, &issue.TextContent, &issue.HTMLContent, &issue.PublishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan newsletter issue: %w", err)
		}
		issues = append(issues, issue)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate newsletter issues: %w", err)
	}
	return issues, nil
}
