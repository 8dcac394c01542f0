package api

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/channel"
	"github.com/lalithlochan/beacon/internal/db"
)

// ChannelRequest is the body of channel create and update.
type ChannelRequest struct {
	Name    string         `json:"name" validate:"required,max=100"`
	Kind    string         `json:"kind" validate:"required"`
	Config  map[string]any `json:"config"`
	Enabled *bool          `json:"enabled"`
}

// toChannel validates the kind and config and builds the channel.
// Channels are enabled unless the request says otherwise.
func (req ChannelRequest) toChannel() (*db.Channel, error) {
	kind := db.ChannelKind(req.Kind)
	if err := channel.ValidateConfig(kind, req.Config); err != nil {
		return nil, err
	}
	ch := &db.Channel{Name: req.Name, Kind: kind, Config: req.Config, Enabled: true}
	if req.Enabled != nil {
		ch.Enabled = *req.Enabled
	}
	return ch, nil
}

// CreateChannel handles POST /v1/channels
func (h *Handler) CreateChannel(w http.ResponseWriter, r *http.Request) {
	var req ChannelRequest
	if !h.decode(w, r, &req) {
		return
	}
	ch, err := req.toChannel()
	if err != nil {
		h.writeServiceError(w, err, "Channel")
		return
	}

	if err := h.repo.CreateChannel(r.Context(), ch); err != nil {
		h.writeServiceError(w, err, "Channel")
		return
	}
	h.writeJSON(w, http.StatusCreated, ch)
}

// GetChannel handles GET /v1/channels/{id}
func (h *Handler) GetChannel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "channel")
	if !ok {
		return
	}
	ch, err := h.repo.GetChannel(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "Channel")
		return
	}
	h.writeJSON(w, http.StatusOK, ch)
}

// ListChannels handles GET /v1/channels?kind=bark&enabled=true
func (h *Handler) ListChannels(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	kind := db.ChannelKind(r.URL.Query().Get("kind"))
	if kind != "" && !db.ValidKind(kind) {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid kind", "kind must be bark, ntfy, email or feishu")
		return
	}

	var enabled *bool
	if raw := r.URL.Query().Get("enabled"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid enabled", "enabled must be true or false")
			return
		}
		enabled = &v
	}

	channels, err := h.repo.ListChannels(r.Context(), kind, enabled, limit, offset)
	if err != nil {
		h.writeServiceError(w, err, "Channel")
		return
	}
	h.writeJSON(w, http.StatusOK, listResponse(channels, limit, offset))
}

// UpdateChannel handles PUT /v1/channels/{id}
func (h *Handler) UpdateChannel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "channel")
	if !ok {
		return
	}
	var req ChannelRequest
	if !h.decode(w, r, &req) {
		return
	}
	ch, err := req.toChannel()
	if err != nil {
		h.writeServiceError(w, err, "Channel")
		return
	}
	ch.ID = id

	if err := h.repo.UpdateChannel(r.Context(), ch); err != nil {
		h.writeServiceError(w, err, "Channel")
		return
	}

	h.logger.Info("channel updated",
		zap.String("channel_id", id.String()),
		zap.Bool("enabled", ch.Enabled),
	)
	h.writeJSON(w, http.StatusOK, ch)
}

// DeleteChannel handles DELETE /v1/channels/{id}
func (h *Handler) DeleteChannel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "channel")
	if !ok {
		return
	}
	if err := h.repo.DeleteChannel(r.Context(), id); err != nil {
		h.writeServiceError(w, err, "Channel")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
