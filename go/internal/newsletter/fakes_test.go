package newsletter

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/newsletter/go/internal/idempotency"
	"github.com/mcdev12/newsletter/go/internal/models"
	"github.com/mcdev12/newsletter/go/internal/sqlutil"
)

type recordKey struct {
	user uuid.UUID
	key  idempotency.Key
}

type queuedTask struct {
	issueID uuid.UUID
	email   string
}

// memDB is an in-memory stand-in for the publishing tables. Writes made through a
// memTx only become visible when it commits; the idempotency placeholder is visible
// immediately, like a row behind a primary key.
type memDB struct {
	mu          sync.Mutex
	records     map[recordKey]*models.IdempotencyRecord
	issues      []models.NewsletterIssue
	queue       []queuedTask
	subscribers []string

	storageCalls int
	enqueueErr   error
}

func newMemDB(subscribers ...string) *memDB {
	return &memDB{records: map[recordKey]*models.IdempotencyRecord{}, subscribers: subscribers}
}

func (db *memDB) counts() (issues, tasks int) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.issues), len(db.queue)
}

func (db *memDB) touch() {
	db.mu.Lock()
	db.storageCalls++
	db.mu.Unlock()
}

type memTx struct {
	db          *memDB
	mu          sync.Mutex
	ops         []func()
	placeholder *recordKey
	done        bool
}

var _ sqlutil.Tx = (*memTx)(nil)

func (tx *memTx) ExecContext(context.Context, string, ...any) (sql.Result, error) {
	return nil, errors.New("not supported")
}

func (tx *memTx) QueryContext(context.Context, string, ...any) (*sql.Rows, error) {
	return nil, errors.New("not supported")
}

func (tx *memTx) QueryRowContext(context.Context, string, ...any) *sql.Row {
	return nil
}

func (tx *memTx) onCommit(op func()) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.ops = append(tx.ops, op)
}

func (tx *memTx) Commit() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return sql.ErrTxDone
	}
	tx.done = true

	tx.db.mu.Lock()
	defer tx.db.mu.Unlock()
	for _, op := range tx.ops {
		op()
	}
	return nil
}

func (tx *memTx) Rollback() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return sql.ErrTxDone
	}
	tx.done = true

	if tx.placeholder != nil {
		tx.db.mu.Lock()
		delete(tx.db.records, *tx.placeholder)
		tx.db.mu.Unlock()
	}
	return nil
}

// idempotency.Store

func (db *memDB) GetRecord(_ context.Context, userID uuid.UUID, key idempotency.Key) (*models.IdempotencyRecord, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.storageCalls++
	rec, ok := db.records[recordKey{userID, key}]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (db *memDB) BeginTx(context.Context) (sqlutil.Tx, error) {
	db.touch()
	return &memTx{db: db}, nil
}

func (db *memDB) InsertPlaceholder(_ context.Context, tx sqlutil.Tx, userID uuid.UUID, key idempotency.Key) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.storageCalls++
	k := recordKey{userID, key}
	if _, exists := db.records[k]; exists {
		return false, nil
	}
	db.records[k] = &models.IdempotencyRecord{UserID: userID, IdempotencyKey: string(key), CreatedAt: time.Now()}
	tx.(*memTx).placeholder = &k
	return true, nil
}

func (db *memDB) SaveResponse(_ context.Context, tx sqlutil.Tx, userID uuid.UUID, key idempotency.Key, resp *idempotency.SavedResponse) error {
	db.touch()
	status := resp.StatusCode
	k := recordKey{userID, key}
	tx.(*memTx).onCommit(func() {
		rec := db.records[k]
		rec.ResponseStatusCode = &status
		rec.ResponseHeaders, _ = json.Marshal(resp.Headers)
		rec.ResponseBody = resp.Body
	})
	return nil
}

// IssueRepository

func (db *memDB) InsertIssue(_ context.Context, tx sqlutil.Tx, issue *models.NewsletterIssue) error {
	db.touch()
	cp := *issue
	tx.(*memTx).onCommit(func() { db.issues = append(db.issues, cp) })
	return nil
}

func (db *memDB) ConfirmedSubscriberEmails(context.Context, sqlutil.Tx) ([]string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.storageCalls++
	return append([]string(nil), db.subscribers...), nil
}

func (db *memDB) ListIssues(_ context.Context, limit int) ([]models.NewsletterIssue, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.storageCalls++
	if limit > len(db.issues) {
		limit = len(db.issues)
	}
	return append([]models.NewsletterIssue(nil), db.issues[:limit]...), nil
}

// DeliveryQueue

func (db *memDB) EnqueueMany(_ context.Context, tx sqlutil.Tx, issueID uuid.UUID, recipients []string) error {
	db.touch()
	if db.enqueueErr != nil {
		return db.enqueueErr
	}
	tx.(*memTx).onCommit(func() {
		for _, r := range recipients {
			db.queue = append(db.queue, queuedTask{issueID: issueID, email: r})
		}
	})
	return nil
}
