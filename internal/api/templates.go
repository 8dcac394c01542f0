package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/lalithlochan/beacon/internal/db"
)

// TemplateRequest is the body of template create and update.
type TemplateRequest struct {
	Name      string `json:"name" validate:"required,max=100"`
	Title     string `json:"title" validate:"required,max=255"`
	Content   string `json:"content" validate:"required"`
	ChannelID string `json:"channel_id" validate:"required,uuid"`
}

func (req TemplateRequest) toTemplate() *db.Template {
	return &db.Template{
		Name:      req.Name,
		Title:     req.Title,
		Content:   req.Content,
		ChannelID: uuid.MustParse(req.ChannelID),
	}
}

// CreateTemplate handles POST /v1/templates
func (h *Handler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req TemplateRequest
	if !h.decode(w, r, &req) {
		return
	}

	t := req.toTemplate()
	if err := h.repo.CreateTemplate(r.Context(), t); err != nil {
		h.writeServiceError(w, err, "Template or channel")
		return
	}
	h.writeJSON(w, http.StatusCreated, t)
}

// GetTemplate handles GET /v1/templates/{id}
func (h *Handler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "template")
	if !ok {
		return
	}
	t, err := h.repo.GetTemplate(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "Template")
		return
	}
	h.writeJSON(w, http.StatusOK, t)
}

// ListTemplates handles GET /v1/templates?channel_id=...
func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)

	var channelID *uuid.UUID
	if raw := r.URL.Query().Get("channel_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid channel_id", "channel_id must be a valid UUID")
			return
		}
		channelID = &id
	}

	templates, err := h.repo.ListTemplates(r.Context(), channelID, limit, offset)
	if err != nil {
		h.writeServiceError(w, err, "Template")
		return
	}
	h.writeJSON(w, http.StatusOK, listResponse(templates, limit, offset))
}

// UpdateTemplate handles PUT /v1/templates/{id}
func (h *Handler) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "template")
	if !ok {
		return
	}
	var req TemplateRequest
	if !h.decode(w, r, &req) {
		return
	}

	t := req.toTemplate()
	t.ID = id
	if err := h.repo.UpdateTemplate(r.Context(), t); err != nil {
		h.writeServiceError(w, err, "Template or channel")
		return
	}
	h.writeJSON(w, http.StatusOK, t)
}

// DeleteTemplate handles DELETE /v1/templates/{id}
func (h *Handler) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "template")
	if !ok {
		return
	}
	if err := h.repo.DeleteTemplate(r.Context(), id); err != nil {
		h.writeServiceError(w, err, "Template")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
