package delivery

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/mcdev12/newsletter/go/internal/models"
	"github.com/mcdev12/newsletter/go/internal/reqctx"
)

type deadLetterStore interface {
	ListDeadLetters(ctx context.Context, limit int) ([]models.DeadLetter, error)
	RequeueDeadLetters(ctx context.Context, issueID uuid.UUID) (int, error)
}

// AdminHandler exposes dead letters for inspection and replay.
type AdminHandler struct {
	store deadLetterStore
}

func NewAdminHandler(store deadLetterStore) *AdminHandler {
	return &AdminHandler{store: store}
}

func (h *AdminHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /admin/deliveries/dead-letters", h.ListDeadLetters)
	mux.HandleFunc("POST /admin/deliveries/dead-letters/{issue_id}/retry", h.RetryDeadLetters)
}

func (h *AdminHandler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 || limit > 500 {
		limit = 100
	}

	letters, err := h.store.ListDeadLetters(r.Context(), limit)
	if err != nil {
		reqctx.Logger(r.Context()).Error().Err(err).Msg("failed to list dead letters")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dead_letters": letters})
}

func (h *AdminHandler) RetryDeadLetters(w http.ResponseWriter, r *http.Request) {
	issueID, err := uuid.Parse(r.PathValue("issue_id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid issue_id format"})
		return
	}

	moved, err := h.store.RequeueDeadLetters(r.Context(), issueID)
	if err != nil {
		reqctx.Logger(r.Context()).Error().Err(err).Msg("failed to requeue dead letters")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	reqctx.Logger(r.Context()).Info().
		Str("newsletter_issue_id", issueID.String()).
		Int("requeued", moved).
		Msg("requeued dead letters")
	writeJSON(w, http.StatusOK, map[string]int{"requeued": moved})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
