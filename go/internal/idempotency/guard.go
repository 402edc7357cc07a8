package idempotency

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/mcdev12/newsletter/go/internal/apperr"
	"github.com/mcdev12/newsletter/go/internal/models"
	"github.com/mcdev12/newsletter/go/internal/reqctx"
	"github.com/mcdev12/newsletter/go/internal/sqlutil"
)

// ErrRequestInFlight is returned when another request holds the placeholder for the
// same key and has not saved its response yet.
var ErrRequestInFlight = errors.New("a request with this idempotency key is still being processed")

// Store defines what the guard needs from the key store
type Store interface {
	GetRecord(ctx context.Context, userID uuid.UUID, key Key) (*models.IdempotencyRecord, error)
	BeginTx(ctx context.Context) (sqlutil.Tx, error)
	InsertPlaceholder(ctx context.Context, tx sqlutil.Tx, userID uuid.UUID, key Key) (bool, error)
	SaveResponse(ctx context.Context, tx sqlutil.Tx, userID uuid.UUID, key Key, resp *SavedResponse) error
}

// NextAction tells the caller of TryProcessing what to do next. It is either
// ReturnSaved or StartProcessing.
type NextAction interface {
	nextAction()
}

// ReturnSaved means the key already completed; Response must be sent back unchanged.
type ReturnSaved struct {
	Response *SavedResponse
}

// StartProcessing means the caller won the key. All of its writes go through Tx,
// which must be handed to SaveResponse.
type StartProcessing struct {
	Tx sqlutil.Tx
}

func (ReturnSaved) nextAction()     {}
func (StartProcessing) nextAction() {}

// Guard decides, per (user, key), whether a caller executes the action or replays a
// saved response. Exclusivity comes from the primary key on the idempotency table.
type Guard struct {
	store Store
}

// NewGuard creates a new Guard
func NewGuard(store Store) *Guard {
	return &Guard{store: store}
}

// TryProcessing returns ReturnSaved, StartProcessing, or an error of kind
// apperr.KindConflict. While the winner's transaction is open a duplicate's placeholder
// insert waits on it, then replays the saved response or, after a rollback, takes the
// key. The conflict is only seen for a committed placeholder with no response.
func (g *Guard) TryProcessing(ctx context.Context, userID uuid.UUID, key Key) (NextAction, error) {
	const op = "try processing"
	logger := reqctx.Logger(ctx)

	if saved, err := g.savedResponse(ctx, userID, key); err != nil {
		return nil, apperr.Storage(op, err)
	} else if saved != nil {
		logger.Debug().Msg("replaying saved response")
		return ReturnSaved{Response: saved}, nil
	}

	tx, err := g.store.BeginTx(ctx)
	if err != nil {
		return nil, apperr.Storage(op, err)
	}

	inserted, err := g.store.InsertPlaceholder(ctx, tx, userID, key)
	if err != nil {
		_ = sqlutil.Rollback(tx)
		return nil, apperr.Storage(op, err)
	}
	if inserted {
		logger.Debug().Msg("acquired idempotency key")
		return StartProcessing{Tx: tx}, nil
	}

	if err := sqlutil.Rollback(tx); err != nil {
		return nil, apperr.Storage(op, fmt.Errorf("failed to roll back: %w", err))
	}

	saved, err := g.savedResponse(ctx, userID, key)
	if err != nil {
		return nil, apperr.Storage(op, err)
	}
	if saved != nil {
		logger.Debug().Msg("replaying response saved by concurrent request")
		return ReturnSaved{Response: saved}, nil
	}

	logger.Info().Msg("duplicate request while original is in flight")
	return nil, apperr.Conflict(op, ErrRequestInFlight)
}

// SaveResponse stores resp in the placeholder owned by tx and commits. A failed
// commit leaves the placeholder unresolved.
func (g *Guard) SaveResponse(ctx context.Context, tx sqlutil.Tx, userID uuid.UUID, key Key, resp *SavedResponse) (*SavedResponse, error) {
	const op = "save response"

	if err := g.store.SaveResponse(ctx, tx, userID, key, resp); err != nil {
		_ = sqlutil.Rollback(tx)
		return nil, apperr.Storage(op, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, apperr.Storage(op, fmt.Errorf("failed to commit transaction: %w", err))
	}

	reqctx.Logger(ctx).Debug().Int("status", resp.StatusCode).Msg("saved idempotent response")
	return resp, nil
}

func (g *Guard) savedResponse(ctx context.Context, userID uuid.UUID, key Key) (*SavedResponse, error) {
	rec, err := g.store.GetRecord(ctx, userID, key)
	if err != nil {
		return nil, err
	}
	if !rec.Completed() {
		return nil, nil
	}

	headers, err := decodeHeaders(rec.ResponseHeaders)
	if err != nil {
		return nil, err
	}
	return &SavedResponse{
		StatusCode: *rec.ResponseStatusCode,
		Headers:    headers,
		Body:       rec.ResponseBody,
	}, nil
}
