package idempotency

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"

	"github.com/mcdev12/newsletter/go/internal/models"
	"github.com/mcdev12/newsletter/go/internal/sqlutil"
)

const (
	getRecordQuery = `
SELECT user_id, idempotency_key, response_status_code, response_headers, response_body, created_at
FROM idempotency
WHERE user_id = $1 AND idempotency_key = $2`

	insertPlaceholderQuery = `
INSERT INTO idempotency (user_id, idempotency_key, created_at)
VALUES ($1, $2, now())
ON CONFLICT DO NOTHING`

	saveResponseQuery = `
UPDATE idempotency
SET response_status_code = $3,
    response_headers = $4,
    response_body = $5
WHERE user_id = $1 AND idempotency_key = $2 AND response_status_code IS NULL`
)

// Repository persists idempotency records in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new idempotency repository
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// GetRecord reads a record outside any transaction. It returns nil, nil when the key
// has never been used.
func (r *Repository) GetRecord(ctx context.Context, userID uuid.UUID, key Key) (*models.IdempotencyRecord, error) {
	var (
		rec     models.IdempotencyRecord
		status  sql.NullInt16
		headers pqtype.NullRawMessage
	)
	err := r.db.QueryRowContext(ctx, getRecordQuery, userID, key.String()).Scan(
		&rec.UserID,
		&rec.IdempotencyKey,
		&status,
		&headers,
		&rec.ResponseBody,
		&rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get idempotency record: %w", err)
	}

	rec.ResponseStatusCode = sqlutil.FromSqlInt16Ptr(status)
	if headers.Valid {
		rec.ResponseHeaders = headers.RawMessage
	}
	return &rec, nil
}

// BeginTx opens the transaction a processing winner writes through.
func (r *Repository) BeginTx(ctx context.Context) (sqlutil.Tx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return tx, nil
}

// InsertPlaceholder tries to claim (userID, key). It reports false when another
// request already owns the key.
func (r *Repository) InsertPlaceholder(ctx context.Context, tx sqlutil.Tx, userID uuid.UUID, key Key) (bool, error) {
	res, err := tx.ExecContext(ctx, insertPlaceholderQuery, userID, key.String())
	if err != nil {
		return false, fmt.Errorf("failed to insert idempotency placeholder: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

// SaveResponse fills in the placeholder owned by tx. It does not commit.
func (r *Repository) SaveResponse(ctx context.Context, tx sqlutil.Tx, userID uuid.UUID, key Key, resp *SavedResponse) error {
	headers, err := encodeHeaders(resp.Headers)
	if err != nil {
		return err
	}
	body := resp.Body
	if body == nil {
		body = []byte{}
	}

	res, err := tx.ExecContext(ctx, saveResponseQuery,
		userID,
		key.String(),
		sqlutil.ToSqlInt16(resp.StatusCode),
		pqtype.NullRawMessage{RawMessage: headers, Valid: true},
		body,
	)
	if err != nil {
		return fmt.Errorf("failed to save idempotent response: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("expected to update 1 idempotency placeholder, updated %d", n)
	}
	return nil
}
