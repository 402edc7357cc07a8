package newsletter

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/mcdev12/newsletter/go/internal/apperr"
	"github.com/mcdev12/newsletter/go/internal/idempotency"
	"github.com/mcdev12/newsletter/go/internal/models"
	"github.com/mcdev12/newsletter/go/internal/reqctx"
	"github.com/mcdev12/newsletter/go/internal/sqlutil"
)

// IssuesLocation is where a successful publish redirects.
const IssuesLocation = "/admin/newsletters"

// Guard defines what the app needs from the idempotency guard
type Guard interface {
	TryProcessing(ctx context.Context, userID uuid.UUID, key idempotency.Key) (idempotency.NextAction, error)
	SaveResponse(ctx context.Context, tx sqlutil.Tx, userID uuid.UUID, key idempotency.Key, resp *idempotency.SavedResponse) (*idempotency.SavedResponse, error)
}

// IssueRepository defines what the app needs from the newsletter repository
type IssueRepository interface {
	InsertIssue(ctx context.Context, tx sqlutil.Tx, issue *models.NewsletterIssue) error
	ConfirmedSubscriberEmails(ctx context.Context, tx sqlutil.Tx) ([]string, error)
	ListIssues(ctx context.Context, limit int) ([]models.NewsletterIssue, error)
}

// DeliveryQueue enqueues one delivery task per recipient
type DeliveryQueue interface {
	EnqueueMany(ctx context.Context, tx sqlutil.Tx, issueID uuid.UUID, recipients []string) error
}

// App handles newsletter publishing
type App struct {
	guard    Guard
	issues   IssueRepository
	queue    DeliveryQueue
	validate *validator.Validate
	now      func() time.Time
}

// NewApp creates a new newsletter App
func NewApp(guard Guard, issues IssueRepository, queue DeliveryQueue) *App {
	return &App{
		guard:    guard,
		issues:   issues,
		queue:    queue,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      time.Now,
	}
}

// Publish stores the issue and enqueues a delivery per confirmed subscriber, at most
// once per (user, idempotency key). Retries with the same key get the first
// response back unchanged.
func (a *App) Publish(ctx context.Context, userID uuid.UUID, req PublishRequest) (*idempotency.SavedResponse, error) {
	const op = "publish newsletter"

	key, err := idempotency.ParseKey(req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if err := a.validate.Struct(req); err != nil {
		return nil, apperr.Validation(op, err)
	}

	ctx = reqctx.WithIdempotencyKey(ctx, key.String())

	action, err := a.guard.TryProcessing(ctx, userID, key)
	if err != nil {
		return nil, err
	}

	switch next := action.(type) {
	case idempotency.ReturnSaved:
		return next.Response, nil
	case idempotency.StartProcessing:
		if err := a.insertAndEnqueue(ctx, next.Tx, req); err != nil {
			_ = sqlutil.Rollback(next.Tx)
			return nil, apperr.Storage(op, err)
		}
		return a.guard.SaveResponse(ctx, next.Tx, userID, key, idempotency.SeeOther(IssuesLocation))
	default:
		return nil, apperr.Storage(op, fmt.Errorf("unexpected next action %T", action))
	}
}

func (a *App) insertAndEnqueue(ctx context.Context, tx sqlutil.Tx, req PublishRequest) error {
	logger := reqctx.Logger(ctx)

	issue := &models.NewsletterIssue{
		ID:          uuid.New(),
		Title:       req.Title,
		TextContent: req.TextContent,
		HTMLContent: req.HTMLContent,
		PublishedAt: a.now().UTC(),
	}
	if err := a.issues.InsertIssue(ctx, tx, issue); err != nil {
		return err
	}

	emails, err := a.issues.ConfirmedSubscriberEmails(ctx, tx)
	if err != nil {
		return err
	}

	recipients := make([]string, 0, len(emails))
	for _, email := range emails {
		if err := a.validate.Var(email, "required,email"); err != nil {
			logger.Warn().
				Str("subscriber_email", email).
				Msg("skipping a confirmed subscriber, their stored contact details are invalid")
			continue
		}
		recipients = append(recipients, email)
	}

	if err := a.queue.EnqueueMany(ctx, tx, issue.ID, recipients); err != nil {
		return err
	}

	logger.Info().
		Str("newsletter_issue_id", issue.ID.String()).
		Int("recipients", len(recipients)).
		Msg("newsletter issue published")
	return nil
}

// ListIssues returns recently published issues.
func (a *App) ListIssues(ctx context.Context, limit int) ([]models.NewsletterIssue, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	issues, err := a.issues.ListIssues(ctx, limit)
	if err != nil {
		return nil, apperr.Storage("list newsletter issues", err)
	}
	return issues, nil
}
