package newsletter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/mcdev12/newsletter/go/internal/apperr"
	"github.com/mcdev12/newsletter/go/internal/idempotency"
	"github.com/mcdev12/newsletter/go/internal/models"
	"github.com/mcdev12/newsletter/go/internal/reqctx"
)

const maxPublishBody = 1 << 20

// NewsletterApp defines what the service layer needs from the newsletter application
type NewsletterApp interface {
	Publish(ctx context.Context, userID uuid.UUID, req PublishRequest) (*idempotency.SavedResponse, error)
	ListIssues(ctx context.Context, limit int) ([]models.NewsletterIssue, error)
}

// Service is the HTTP boundary for the admin newsletter endpoints. It is the only
// place error kinds become status codes.
type Service struct {
	app NewsletterApp
}

// NewService creates a new newsletter HTTP service
func NewService(app NewsletterApp) *Service {
	return &Service{app: app}
}

// RegisterRoutes mounts the service on mux.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST "+IssuesLocation, s.PublishNewsletter)
	mux.HandleFunc("GET "+IssuesLocation, s.ListIssues)
}

// PublishNewsletter accepts the issue as JSON or as a urlencoded form.
func (s *Service) PublishNewsletter(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	md, _ := reqctx.FromContext(ctx)
	if md.UserID == uuid.Nil {
		writeJSONError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	req, err := decodePublishRequest(w, r)
	if err != nil {
		s.writeError(ctx, w, apperr.Validation("decode publish request", err))
		return
	}

	resp, err := s.app.Publish(ctx, md.UserID, req)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}

	if err := resp.Write(w); err != nil {
		reqctx.Logger(ctx).Error().Err(err).Msg("failed to write publish response")
	}
}

// ListIssues returns recent issues as JSON.
func (s *Service) ListIssues(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	issues, err := s.app.ListIssues(r.Context(), limit)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"issues": issues}); err != nil {
		reqctx.Logger(r.Context()).Error().Err(err).Msg("failed to write issues response")
	}
}

func decodePublishRequest(w http.ResponseWriter, r *http.Request) (PublishRequest, error) {
	var req PublishRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxPublishBody)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return req, fmt.Errorf("invalid JSON body: %w", err)
		}
		return req, nil
	}

	if err := r.ParseForm(); err != nil {
		return req, fmt.Errorf("invalid form body: %w", err)
	}
	req.Title = r.PostForm.Get("title")
	req.TextContent = r.PostForm.Get("text_content")
	req.HTMLContent = r.PostForm.Get("html_content")
	req.IdempotencyKey = r.PostForm.Get("idempotency_key")
	return req, nil
}

func (s *Service) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	logger := reqctx.Logger(ctx)

	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		logger.Info().Err(err).Msg("rejected invalid request")
		writeJSONError(w, http.StatusBadRequest, validationMessage(err))
	case apperr.KindConflict:
		w.Header().Set("Retry-After", "1")
		writeJSONError(w, http.StatusConflict, idempotency.ErrRequestInFlight.Error())
	default:
		logger.Error().Err(err).Msg("request failed")
		writeJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

func validationMessage(err error) string {
	var appErr *apperr.Error
	if errors.As(err, &appErr) && appErr.Err != nil {
		return appErr.Err.Error()
	}
	return err.Error()
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
