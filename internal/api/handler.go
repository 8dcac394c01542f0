// Package api exposes the dispatcher over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/channel"
	"github.com/lalithlochan/beacon/internal/db"
	"github.com/lalithlochan/beacon/internal/dispatch"
	"github.com/lalithlochan/beacon/internal/queue"
	"github.com/lalithlochan/beacon/internal/redis"
	"github.com/lalithlochan/beacon/internal/sender"
)

// Repository defines the database operations behind the CRUD endpoints.
type Repository interface {
	CreateChannel(ctx context.Context, ch *db.Channel) error
	GetChannel(ctx context.Context, id uuid.UUID) (*db.Channel, error)
	ListChannels(ctx context.Context, kind db.ChannelKind, enabled *bool, limit, offset int) ([]*db.Channel, error)
	UpdateChannel(ctx context.Context, ch *db.Channel) error
	DeleteChannel(ctx context.Context, id uuid.UUID) error

	CreateTarget(ctx context.Context, t *db.Target) error
	GetTarget(ctx context.Context, id uuid.UUID) (*db.Target, error)
	ListTargets(ctx context.Context, t db.TargetType, limit, offset int) ([]*db.Target, error)
	UpdateTargetAlias(ctx context.Context, id uuid.UUID, alias string) (*db.Target, error)
	DeleteTarget(ctx context.Context, id uuid.UUID) error

	CreateTemplate(ctx context.Context, t *db.Template) error
	GetTemplate(ctx context.Context, id uuid.UUID) (*db.Template, error)
	ListTemplates(ctx context.Context, channelID *uuid.UUID, limit, offset int) ([]*db.Template, error)
	UpdateTemplate(ctx context.Context, t *db.Template) error
	DeleteTemplate(ctx context.Context, id uuid.UUID) error

	GetRecord(ctx context.Context, id uuid.UUID) (*db.Record, error)
	ListRecords(ctx context.Context, f db.RecordFilter) ([]*db.Record, error)
}

// Sender runs sends.
type Sender interface {
	SendTemplate(ctx context.Context, req sender.TemplateRequest) (*db.Record, error)
	QuickSend(ctx context.Context, req sender.QuickRequest) (*sender.QuickResult, error)
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string              `json:"type"`
	Title  string              `json:"title"`
	Status int                 `json:"status"`
	Detail string              `json:"detail,omitempty"`
	Fields map[string][]string `json:"fields,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger      *zap.Logger
	repo        Repository
	sender      Sender
	idempotency *redis.IdempotencyService // nil if Redis not configured
	rateLimiter *redis.RateLimiter        // nil if Redis not configured
	validate    *validator.Validate
}

// Option configures a Handler.
type Option func(*Handler)

// WithIdempotency enables Idempotency-Key handling on the send endpoints.
func WithIdempotency(svc *redis.IdempotencyService) Option {
	return func(h *Handler) { h.idempotency = svc }
}

// WithRateLimiter limits /v1 requests per client IP.
func WithRateLimiter(rl *redis.RateLimiter) Option {
	return func(h *Handler) { h.rateLimiter = rl }
}

// NewHandler creates a new API handler
func NewHandler(logger *zap.Logger, repo Repository, s Sender, opts ...Option) *Handler {
	h := &Handler{
		logger:   logger,
		repo:     repo,
		sender:   s,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes mounts the /v1 API on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Use(RateLimitMiddleware(h.rateLimiter, h.logger, IPKeyFunc))

		r.With(IdempotencyMiddleware(h.idempotency, h.logger, "send")).Post("/send", h.Send)
		r.With(IdempotencyMiddleware(h.idempotency, h.logger, "quick-send")).Post("/quick-send", h.QuickSend)

		r.Route("/channels", func(r chi.Router) {
			r.Get("/", h.ListChannels)
			r.Post("/", h.CreateChannel)
			r.Get("/{id}", h.GetChannel)
			r.Put("/{id}", h.UpdateChannel)
			r.Delete("/{id}", h.DeleteChannel)
		})

		r.Route("/targets", func(r chi.Router) {
			r.Get("/", h.ListTargets)
			r.Post("/", h.CreateTarget)
			r.Get("/{id}", h.GetTarget)
			r.Patch("/{id}", h.UpdateTarget)
			r.Delete("/{id}", h.DeleteTarget)
		})

		r.Route("/templates", func(r chi.Router) {
			r.Get("/", h.ListTemplates)
			r.Post("/", h.CreateTemplate)
			r.Get("/{id}", h.GetTemplate)
			r.Put("/{id}", h.UpdateTemplate)
			r.Delete("/{id}", h.DeleteTemplate)
		})

		r.Get("/records", h.ListRecords)
		r.Get("/records/{id}", h.GetRecord)
	})
}

// decode reads a JSON body into dst and validates it. On failure it writes
// the error response and returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request", err.Error())
			return false
		}
		fields := map[string][]string{}
		for _, fe := range verrs {
			fields[fe.Field()] = append(fields[fe.Field()], fe.Tag())
		}
		h.writeProblem(w, ErrorResponse{
			Type:   "validation_failed",
			Title:  "Request validation failed",
			Status: http.StatusBadRequest,
			Fields: fields,
		})
		return false
	}
	return true
}

// pathID parses the {id} URL parameter.
func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid "+what+" ID", "ID must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// pagination reads limit and offset with defaults 20 and 0; limit is capped at 100.
func pagination(r *http.Request) (limit, offset int) {
	limit = 20
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= 100 {
		limit = l
	}
	if o, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && o >= 0 {
		offset = o
	}
	return limit, offset
}

// writeServiceError maps domain errors onto HTTP statuses.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error, what string) {
	var cfgErr *channel.ConfigError
	switch {
	case errors.Is(err, db.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", what+" not found", err.Error())
	case errors.Is(err, db.ErrDuplicate):
		h.writeError(w, http.StatusConflict, "conflict", what+" already exists", err.Error())
	case errors.Is(err, dispatch.ErrChannelDisabled):
		h.writeError(w, http.StatusBadRequest, "channel_disabled", "Channel is disabled", err.Error())
	case errors.Is(err, channel.ErrUnsupportedKind):
		h.writeError(w, http.StatusBadRequest, "unsupported_channel", "Unsupported channel kind", err.Error())
	case errors.As(err, &cfgErr):
		h.writeError(w, http.StatusBadRequest, "invalid_config", "Invalid channel configuration", err.Error())
	case errors.Is(err, sender.ErrAsyncUnavailable):
		h.writeError(w, http.StatusServiceUnavailable, "async_unavailable", "Async sending is not configured", "")
	case errors.Is(err, queue.ErrQueueFull):
		h.writeError(w, http.StatusServiceUnavailable, "queue_full", "Send queue is full", "")
	default:
		h.logger.Error("request failed", zap.String("resource", what), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to process request", "")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("failed to encode response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	h.writeProblem(w, ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

func (h *Handler) writeProblem(w http.ResponseWriter, p ErrorResponse) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// listResponse is the envelope for collection endpoints.
func listResponse[T any](items []T, limit, offset int) map[string]any {
	if items == nil {
		items = []T{}
	}
	return map[string]any{
		"data":   items,
		"limit":  limit,
		"offset": offset,
		"count":  len(items),
	}
}
