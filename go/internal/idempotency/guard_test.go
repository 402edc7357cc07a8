package idempotency

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/newsletter/go/internal/apperr"
	"github.com/mcdev12/newsletter/go/internal/models"
	"github.com/mcdev12/newsletter/go/internal/sqlutil"
)

type recordKey struct {
	userID uuid.UUID
	key    Key
}

// memStore mimics the primary key on (user_id, idempotency_key): the first insert
// wins and later inserts report zero affected rows.
type memStore struct {
	mu      sync.Mutex
	records map[recordKey]*models.IdempotencyRecord

	getErr    error
	beginErr  error
	insertErr error
	saveErr   error
	getCalls  int
}

func newMemStore() *memStore {
	return &memStore{records: map[recordKey]*models.IdempotencyRecord{}}
}

func (s *memStore) GetRecord(_ context.Context, userID uuid.UUID, key Key) (*models.IdempotencyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls++
	if s.getErr != nil {
		return nil, s.getErr
	}
	rec, ok := s.records[recordKey{userID, key}]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (s *memStore) BeginTx(context.Context) (sqlutil.Tx, error) {
	if s.beginErr != nil {
		return nil, s.beginErr
	}
	return &memTx{}, nil
}

func (s *memStore) InsertPlaceholder(_ context.Context, tx sqlutil.Tx, userID uuid.UUID, key Key) (bool, error) {
	if s.insertErr != nil {
		return false, s.insertErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rk := recordKey{userID, key}
	if _, ok := s.records[rk]; ok {
		return false, nil
	}
	s.records[rk] = &models.IdempotencyRecord{UserID: userID, IdempotencyKey: key.String()}
	tx.(*memTx).onRollback = func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.records, rk)
	}
	return true, nil
}

func (s *memStore) SaveResponse(_ context.Context, _ sqlutil.Tx, userID uuid.UUID, key Key, resp *SavedResponse) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	headers, err := encodeHeaders(resp.Headers)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[recordKey{userID, key}]
	if !ok {
		return errors.New("expected to update 1 idempotency placeholder, updated 0")
	}
	status := resp.StatusCode
	rec.ResponseStatusCode = &status
	rec.ResponseHeaders = headers
	rec.ResponseBody = resp.Body
	return nil
}

type memTx struct {
	sqlutil.Tx
	committed  bool
	rolledBack bool
	commitErr  error
	onRollback func()
}

func (t *memTx) Commit() error {
	if t.committed || t.rolledBack {
		return sql.ErrTxDone
	}
	if t.commitErr != nil {
		return t.commitErr
	}
	t.committed = true
	return nil
}

func (t *memTx) Rollback() error {
	if t.committed || t.rolledBack {
		return sql.ErrTxDone
	}
	t.rolledBack = true
	if t.onRollback != nil {
		t.onRollback()
	}
	return nil
}

func TestTryProcessingFirstCallStarts(t *testing.T) {
	store := newMemStore()
	guard := NewGuard(store)
	ctx := context.Background()
	userID := uuid.New()

	next, err := guard.TryProcessing(ctx, userID, "abc-123")
	require.NoError(t, err)

	start, ok := next.(StartProcessing)
	require.True(t, ok, "expected StartProcessing, got %T", next)
	require.NotNil(t, start.Tx)
}

func TestSequentialReplayReturnsSameResponse(t *testing.T) {
	store := newMemStore()
	guard := NewGuard(store)
	ctx := context.Background()
	userID := uuid.New()

	next, err := guard.TryProcessing(ctx, userID, "abc-123")
	require.NoError(t, err)
	start := next.(StartProcessing)

	h := http.Header{}
	h.Set("Location", "/admin/newsletters")
	h.Set("X-Trace", "\x01raw")
	original := NewSavedResponse(http.StatusSeeOther, h, []byte("body bytes"))

	saved, err := guard.SaveResponse(ctx, start.Tx, userID, "abc-123", original)
	require.NoError(t, err)
	assert.Same(t, original, saved)
	assert.True(t, start.Tx.(*memTx).committed)

	next, err = guard.TryProcessing(ctx, userID, "abc-123")
	require.NoError(t, err)
	replay, ok := next.(ReturnSaved)
	require.True(t, ok, "expected ReturnSaved, got %T", next)
	assert.Equal(t, original.StatusCode, replay.Response.StatusCode)
	assert.Equal(t, original.Headers, replay.Response.Headers)
	assert.Equal(t, original.Body, replay.Response.Body)
}

func TestKeysAreScopedPerUser(t *testing.T) {
	store := newMemStore()
	guard := NewGuard(store)
	ctx := context.Background()

	next, err := guard.TryProcessing(ctx, uuid.New(), "shared-key")
	require.NoError(t, err)
	assert.IsType(t, StartProcessing{}, next)

	next, err = guard.TryProcessing(ctx, uuid.New(), "shared-key")
	require.NoError(t, err)
	assert.IsType(t, StartProcessing{}, next)
}

func TestDuplicateWhileInFlightIsConflict(t *testing.T) {
	store := newMemStore()
	guard := NewGuard(store)
	ctx := context.Background()
	userID := uuid.New()

	_, err := guard.TryProcessing(ctx, userID, "abc-123")
	require.NoError(t, err)

	next, err := guard.TryProcessing(ctx, userID, "abc-123")
	require.Error(t, err)
	assert.Nil(t, next)
	assert.ErrorIs(t, err, ErrRequestInFlight)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestRolledBackWinnerReleasesKey(t *testing.T) {
	store := newMemStore()
	guard := NewGuard(store)
	ctx := context.Background()
	userID := uuid.New()

	next, err := guard.TryProcessing(ctx, userID, "abc-123")
	require.NoError(t, err)
	require.NoError(t, next.(StartProcessing).Tx.Rollback())

	next, err = guard.TryProcessing(ctx, userID, "abc-123")
	require.NoError(t, err)
	assert.IsType(t, StartProcessing{}, next)
}

func TestConcurrentDuplicatesHaveOneWinner(t *testing.T) {
	store := newMemStore()
	guard := NewGuard(store)
	ctx := context.Background()
	userID := uuid.New()

	const n = 32
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   int
		conflicts int
		replays   int
	)
	startGate := make(chan struct{})

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-startGate
			next, err := guard.TryProcessing(ctx, userID, "same-key")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case apperr.Is(err, apperr.KindConflict):
				conflicts++
			case err != nil:
				t.Errorf("unexpected error: %v", err)
			default:
				switch next.(type) {
				case StartProcessing:
					winners++
				case ReturnSaved:
					replays++
				}
			}
		}()
	}
	close(startGate)
	wg.Wait()

	assert.Equal(t, 1, winners)
	assert.Equal(t, n-1, conflicts+replays)
}

func TestTryProcessingStorageErrors(t *testing.T) {
	boom := errors.New("connection reset")
	ctx := context.Background()

	tests := []struct {
		name  string
		setup func(*memStore)
	}{
		{"read", func(s *memStore) { s.getErr = boom }},
		{"begin", func(s *memStore) { s.beginErr = boom }},
		{"insert", func(s *memStore) { s.insertErr = boom }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			tt.setup(store)

			_, err := NewGuard(store).TryProcessing(ctx, uuid.New(), "abc-123")
			require.ErrorIs(t, err, boom)
			assert.Equal(t, apperr.KindStorage, apperr.KindOf(err))
		})
	}
}

func TestSaveResponseFailureRollsBack(t *testing.T) {
	store := newMemStore()
	guard := NewGuard(store)
	ctx := context.Background()
	userID := uuid.New()

	next, err := guard.TryProcessing(ctx, userID, "abc-123")
	require.NoError(t, err)
	tx := next.(StartProcessing).Tx.(*memTx)

	store.saveErr = errors.New("disk full")
	_, err = guard.SaveResponse(ctx, tx, userID, "abc-123", SeeOther("/admin/newsletters"))
	require.Error(t, err)
	assert.Equal(t, apperr.KindStorage, apperr.KindOf(err))
	assert.True(t, tx.rolledBack)
}

func TestSaveResponseCommitFailureIsStorageError(t *testing.T) {
	store := newMemStore()
	guard := NewGuard(store)
	ctx := context.Background()
	userID := uuid.New()

	next, err := guard.TryProcessing(ctx, userID, "abc-123")
	require.NoError(t, err)
	tx := next.(StartProcessing).Tx.(*memTx)
	tx.commitErr = sql.ErrConnDone

	_, err = guard.SaveResponse(ctx, tx, userID, "abc-123", SeeOther("/admin/newsletters"))
	require.ErrorIs(t, err, sql.ErrConnDone)
	assert.Equal(t, apperr.KindStorage, apperr.KindOf(err))
}
