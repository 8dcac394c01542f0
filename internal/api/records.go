package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/lalithlochan/beacon/internal/db"
)

// GetRecord handles GET /v1/records/{id}
func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "record")
	if !ok {
		return
	}
	rec, err := h.repo.GetRecord(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "Record")
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

// ListRecords handles GET /v1/records?status=failed&channel_id=...
func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset := pagination(r)
	f := db.RecordFilter{Status: q.Get("status"), Limit: limit, Offset: offset}

	switch f.Status {
	case "", db.StatusPending, db.StatusSuccess, db.StatusFailed, db.StatusRetry:
	default:
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid status",
			"status must be one of: pending, success, failed, retry")
		return
	}

	for param, dst := range map[string]**uuid.UUID{
		"channel_id":  &f.ChannelID,
		"template_id": &f.TemplateID,
		"target_id":   &f.TargetID,
	} {
		raw := q.Get(param)
		if raw == "" {
			continue
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid "+param, param+" must be a valid UUID")
			return
		}
		*dst = &id
	}

	records, err := h.repo.ListRecords(r.Context(), f)
	if err != nil {
		h.writeServiceError(w, err, "Record")
		return
	}
	h.writeJSON(w, http.StatusOK, listResponse(records, limit, offset))
}
