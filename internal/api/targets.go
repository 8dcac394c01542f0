package api

import (
	"net/http"

	"github.com/lalithlochan/beacon/internal/db"
)

// TargetRequest is the body of POST /v1/targets.
type TargetRequest struct {
	Alias string `json:"alias" validate:"required,max=100"`
	Type  string `json:"target_type" validate:"required,oneof=bark_token ntfy_topic email feishu_webhook"`
	Value string `json:"target_value" validate:"required,max=500"`
}

// TargetAliasRequest is the body of PATCH /v1/targets/{id}. Only the alias
// of a target can change.
type TargetAliasRequest struct {
	Alias string `json:"alias" validate:"required,max=100"`
}

// CreateTarget handles POST /v1/targets
func (h *Handler) CreateTarget(w http.ResponseWriter, r *http.Request) {
	var req TargetRequest
	if !h.decode(w, r, &req) {
		return
	}

	t := &db.Target{Alias: req.Alias, Type: db.TargetType(req.Type), Value: req.Value}
	if err := h.repo.CreateTarget(r.Context(), t); err != nil {
		h.writeServiceError(w, err, "Target")
		return
	}
	h.writeJSON(w, http.StatusCreated, t)
}

// GetTarget handles GET /v1/targets/{id}
func (h *Handler) GetTarget(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "target")
	if !ok {
		return
	}
	t, err := h.repo.GetTarget(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "Target")
		return
	}
	h.writeJSON(w, http.StatusOK, t)
}

// ListTargets handles GET /v1/targets?target_type=email
func (h *Handler) ListTargets(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	tt := db.TargetType(r.URL.Query().Get("target_type"))
	if tt != "" && !db.ValidTargetType(tt) {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid target_type",
			"target_type must be bark_token, ntfy_topic, email or feishu_webhook")
		return
	}

	targets, err := h.repo.ListTargets(r.Context(), tt, limit, offset)
	if err != nil {
		h.writeServiceError(w, err, "Target")
		return
	}
	h.writeJSON(w, http.StatusOK, listResponse(targets, limit, offset))
}

// UpdateTarget handles PATCH /v1/targets/{id}
func (h *Handler) UpdateTarget(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "target")
	if !ok {
		return
	}
	var req TargetAliasRequest
	if !h.decode(w, r, &req) {
		return
	}

	t, err := h.repo.UpdateTargetAlias(r.Context(), id, req.Alias)
	if err != nil {
		h.writeServiceError(w, err, "Target")
		return
	}
	h.writeJSON(w, http.StatusOK, t)
}

// DeleteTarget handles DELETE /v1/targets/{id}
func (h *Handler) DeleteTarget(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "target")
	if !ok {
		return
	}
	if err := h.repo.DeleteTarget(r.Context(), id); err != nil {
		h.writeServiceError(w, err, "Target")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
