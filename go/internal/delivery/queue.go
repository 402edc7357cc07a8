package delivery

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/mcdev12/newsletter/go/internal/models"
	"github.com/mcdev12/newsletter/go/internal/sqlutil"
)

// NotifyChannel is the Postgres channel notified when tasks are enqueued.
const NotifyChannel = "issue_delivery_queue"

const (
	enqueueQuery = `
INSERT INTO issue_delivery_queue (newsletter_issue_id, subscriber_email)
SELECT $1, unnest($2::text[])`

	notifyQuery = `SELECT pg_notify($1, $2)`

	// ctid addresses the exact locked row; duplicates of (issue, email) are legal.
	dequeueQuery = `
SELECT ctid::text, delivery_id, newsletter_issue_id, subscriber_email, n_retries
FROM issue_delivery_queue
WHERE execute_after <= now()
FOR UPDATE SKIP LOCKED
LIMIT 1`

	deleteQuery = `DELETE FROM issue_delivery_queue WHERE ctid = $1::tid`

	rescheduleQuery = `
UPDATE issue_delivery_queue
SET n_retries = n_retries + 1,
    execute_after = now() + make_interval(secs => $2)
WHERE ctid = $1::tid`

	deadLetterQuery = `
INSERT INTO issue_delivery_dead_letters (newsletter_issue_id, subscriber_email, n_retries, last_error)
VALUES ($1, $2, $3, $4)`

	pendingCountQuery = `SELECT COUNT(*) FROM issue_delivery_queue`

	listDeadLettersQuery = `
SELECT newsletter_issue_id, subscriber_email, n_retries, last_error, failed_at
FROM issue_delivery_dead_letters
ORDER BY failed_at DESC
LIMIT $1`

	requeueDeadLettersQuery = `
WITH moved AS (
    DELETE FROM issue_delivery_dead_letters
    WHERE newsletter_issue_id = $1
    RETURNING newsletter_issue_id, subscriber_email
)
INSERT INTO issue_delivery_queue (newsletter_issue_id, subscriber_email)
SELECT newsletter_issue_id, subscriber_email FROM moved`
)

// Task is a dequeued delivery task. It holds the transaction that owns the row lock
// until DeleteAndCommit, Release, Reschedule or DeadLetter finishes it.
type Task struct {
	// DeliveryID survives reschedules; a requeued dead letter gets a new one.
	DeliveryID      uuid.UUID
	IssueID         uuid.UUID
	SubscriberEmail string
	NRetries        int

	tx    sqlutil.Tx
	rowID string
}

// Queue is the issue delivery outbox stored in Postgres.
type Queue struct {
	db *sql.DB
}

// NewQueue creates a new delivery queue
func NewQueue(db *sql.DB) *Queue {
	return &Queue{db: db}
}

// EnqueueMany inserts one task per recipient inside the caller's transaction and
// notifies idle workers once that transaction commits.
func (q *Queue) EnqueueMany(ctx context.Context, tx sqlutil.Tx, issueID uuid.UUID, recipients []string) error {
	if len(recipients) == 0 {
		return nil
	}

	if _, err := tx.ExecContext(ctx, enqueueQuery, issueID, pq.Array(recipients)); err != nil {
		return fmt.Errorf("failed to enqueue delivery tasks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, notifyQuery, NotifyChannel, issueID.String()); err != nil {
		return fmt.Errorf("failed to notify delivery workers: %w", err)
	}
	return nil
}

// DequeueOne locks one due task, skipping rows locked by other workers. It returns
// nil, nil when nothing is available.
func (q *Queue) DequeueOne(ctx context.Context) (*Task, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	task := &Task{tx: tx}
	err = tx.QueryRowContext(ctx, dequeueQuery).Scan(&task.rowID, &task.DeliveryID, &task.IssueID, &task.SubscriberEmail, &task.NRetries)
	if err != nil {
		_ = tx.Rollback()
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to dequeue delivery task: %w", err)
	}
	return task, nil
}

// DeleteAndCommit removes the task's row and commits. It is the only way a task
// leaves the queue after a successful delivery.
func (q *Queue) DeleteAndCommit(ctx context.Context, task *Task) error {
	return finish(task, func() error {
		if _, err := task.tx.ExecContext(ctx, deleteQuery, task.rowID); err != nil {
			return fmt.Errorf("failed to delete delivery task: %w", err)
		}
		return nil
	})
}

// Release rolls back the task's transaction so the row becomes visible again.
func (q *Queue) Release(task *Task) error {
	if err := sqlutil.Rollback(task.tx); err != nil {
		return fmt.Errorf("failed to release delivery task: %w", err)
	}
	return nil
}

// Reschedule records a failed attempt and hides the row for delay.
func (q *Queue) Reschedule(ctx context.Context, task *Task, delay time.Duration) error {
	return finish(task, func() error {
		if _, err := task.tx.ExecContext(ctx, rescheduleQuery, task.rowID, delay.Seconds()); err != nil {
			return fmt.Errorf("failed to reschedule delivery task: %w", err)
		}
		return nil
	})
}

// DeadLetter moves the task to the dead letter table.
func (q *Queue) DeadLetter(ctx context.Context, task *Task, reason string) error {
	return finish(task, func() error {
		if _, err := task.tx.ExecContext(ctx, deadLetterQuery, task.IssueID, task.SubscriberEmail, task.NRetries+1, reason); err != nil {
			return fmt.Errorf("failed to insert dead letter: %w", err)
		}
		if _, err := task.tx.ExecContext(ctx, deleteQuery, task.rowID); err != nil {
			return fmt.Errorf("failed to delete delivery task: %w", err)
		}
		return nil
	})
}

// PendingCount returns the number of queued tasks, locked or not.
func (q *Queue) PendingCount(ctx context.Context) (int, error) {
	var count int
	if err := q.db.QueryRowContext(ctx, pendingCountQuery).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count pending delivery tasks: %w", err)
	}
	return count, nil
}

// ListDeadLetters returns the most recent dead letters first.
func (q *Queue) ListDeadLetters(ctx context.Context, limit int) ([]models.DeadLetter, error) {
	rows, err := q.db.QueryContext(ctx, listDeadLettersQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	defer rows.Close()

	letters := []models.DeadLetter{}
	for rows.Next() {
		var dl models.DeadLetter
		if err := rows.Scan(&dl.IssueID, &dl.SubscriberEmail, &dl.NRetries, &dl.LastError, &dl.FailedAt); err != nil {
			return nil, fmt.Errorf("failed to scan dead letter: %w", err)
		}
		letters = append(letters, dl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate dead letters: %w", err)
	}
	return letters, nil
}

// RequeueDeadLetters moves an issue's dead letters back into the queue with a fresh
// attempt count.
func (q *Queue) RequeueDeadLetters(ctx context.Context, issueID uuid.UUID) (int, error) {
	var moved int64
	err := sqlutil.Run(ctx, q.db, func(tx sqlutil.Tx) error {
		res, err := tx.ExecContext(ctx, requeueDeadLettersQuery, issueID)
		if err != nil {
			return fmt.Errorf("failed to requeue dead letters: %w", err)
		}
		if moved, err = res.RowsAffected(); err != nil {
			return fmt.Errorf("failed to read affected rows: %w", err)
		}
		if moved == 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx, notifyQuery, NotifyChannel, issueID.String()); err != nil {
			return fmt.Errorf("failed to notify delivery workers: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(moved), nil
}

func finish(task *Task, fn func() error) error {
	if err := fn(); err != nil {
		_ = sqlutil.Rollback(task.tx)
		return err
	}
	if err := task.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
