package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/channel"
	"github.com/lalithlochan/beacon/internal/db"
	"github.com/lalithlochan/beacon/internal/dispatch"
	"github.com/lalithlochan/beacon/internal/sender"
)

// SendRequest is the body of POST /v1/send.
type SendRequest struct {
	TemplateID string         `json:"template_id" validate:"required,uuid"`
	TargetID   string         `json:"target_id" validate:"required,uuid"`
	Context    map[string]any `json:"context"`
	Async      bool           `json:"async_send"`
}

// SendResponse summarises one record.
type SendResponse struct {
	Message  string          `json:"message"`
	RecordID uuid.UUID       `json:"record_id"`
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response,omitempty"`
	Error    string          `json:"error,omitempty"`
	SendTime *time.Time      `json:"send_time,omitempty"`
}

// Send handles POST /v1/send
func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if !h.decode(w, r, &req) {
		return
	}

	rec, err := h.sender.SendTemplate(r.Context(), sender.TemplateRequest{
		TemplateID: uuid.MustParse(req.TemplateID),
		TargetID:   uuid.MustParse(req.TargetID),
		Context:    req.Context,
		Async:      req.Async,
	})
	if err != nil {
		h.writeServiceError(w, err, "Template or target")
		return
	}

	resp := SendResponse{RecordID: rec.ID, Status: rec.Status, SendTime: rec.SendTime}
	switch rec.Status {
	case db.StatusPending:
		resp.Message = "notification queued"
		h.writeJSON(w, http.StatusAccepted, resp)
	case db.StatusSuccess:
		resp.Message = "notification sent"
		resp.Response = rec.Response
		h.writeJSON(w, http.StatusOK, resp)
	default:
		resp.Message = "notification failed"
		resp.Error = rec.ErrorMessage
		h.writeJSON(w, http.StatusBadGateway, resp)
	}
}

// optionKeys are the presentation hints accepted at the top level of a
// quick-send body.
var optionKeys = []string{
	"subtitle", "level", "badge", "sound", "icon", "group", "url",
	"copy", "auto_copy", "call", "is_archive",
}

// QuickSendRequest is the body of POST /v1/quick-send. Options may be given
// in an "options" object or as top-level keys; top-level keys win.
type QuickSendRequest struct {
	ChannelID string          `json:"channel_id" validate:"required,uuid"`
	TargetIDs TargetSelector  `json:"target_ids"`
	Title     string          `json:"title" validate:"required,max=255"`
	Content   string          `json:"content" validate:"required"`
	Options   channel.Options `json:"options"`
	Async     bool            `json:"async_send"`
}

// UnmarshalJSON lifts top-level option keys into Options.
func (q *QuickSendRequest) UnmarshalJSON(data []byte) error {
	type plain QuickSendRequest
	if err := json.Unmarshal(data, (*plain)(q)); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	lifted := make(map[string]json.RawMessage)
	for _, key := range optionKeys {
		if v, ok := raw[key]; ok {
			lifted[key] = v
		}
	}
	if len(lifted) == 0 {
		return nil
	}

	merged := q.Options.Map()
	for k, v := range lifted {
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return fmt.Errorf("option %s: %w", k, err)
		}
		merged[k] = val
	}
	buf, err := json.Marshal(merged)
	if err != nil {
		return err
	}
	return json.Unmarshal(buf, &q.Options)
}

// TargetSelector is either the string "all" or a list of target ids.
// Absent or null also means all. An explicit list, even empty, leaves IDs
// non-nil so it never widens to all.
type TargetSelector struct {
	All bool
	IDs []uuid.UUID
}

// UnmarshalJSON accepts "all", null or an array of UUID strings.
func (s *TargetSelector) UnmarshalJSON(data []byte) error {
	*s = TargetSelector{}
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		s.All = true
		return nil
	}

	var word string
	if err := json.Unmarshal(data, &word); err == nil {
		if word != "all" {
			return fmt.Errorf("target_ids: expected \"all\" or a list, got %q", word)
		}
		s.All = true
		return nil
	}

	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return errors.New("target_ids: expected \"all\" or a list of ids")
	}
	s.IDs = make([]uuid.UUID, 0, len(ids))
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			return fmt.Errorf("target_ids: invalid id %q", raw)
		}
		s.IDs = append(s.IDs, id)
	}
	return nil
}

// QuickSendResult is one target's entry in a quick-send response.
type QuickSendResult struct {
	TargetID    uuid.UUID        `json:"target_id"`
	TargetAlias string           `json:"target_alias"`
	RecordID    uuid.UUID        `json:"record_id"`
	Status      string           `json:"status"`
	Response    channel.Response `json:"response,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// QuickSendResponse is the body returned by POST /v1/quick-send.
type QuickSendResponse struct {
	Message string            `json:"message"`
	Total   int               `json:"total"`
	Overall string            `json:"overall"`
	Results []QuickSendResult `json:"results"`
}

// QuickSend handles POST /v1/quick-send
func (h *Handler) QuickSend(w http.ResponseWriter, r *http.Request) {
	var req QuickSendRequest
	req.TargetIDs.All = true
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.sender.QuickSend(r.Context(), sender.QuickRequest{
		ChannelID: uuid.MustParse(req.ChannelID),
		TargetIDs: req.TargetIDs.IDs,
		All:       req.TargetIDs.All,
		Title:     req.Title,
		Content:   req.Content,
		Options:   req.Options,
		Async:     req.Async,
	})
	if err != nil {
		h.writeServiceError(w, err, "Channel or targets")
		return
	}

	if res.Aggregate == nil {
		h.writeQueued(w, res)
		return
	}

	agg := res.Aggregate
	resp := QuickSendResponse{
		Message: fmt.Sprintf("sent to %d targets, %d succeeded", agg.Total(), agg.Succeeded()),
		Total:   agg.Total(),
		Overall: string(agg.Overall()),
		Results: make([]QuickSendResult, 0, agg.Total()),
	}
	for _, rr := range agg.Results {
		item := QuickSendResult{
			TargetID:    rr.Target.ID,
			TargetAlias: rr.Target.Alias,
			RecordID:    rr.RecordID,
			Status:      db.StatusSuccess,
			Response:    rr.Outcome.Response,
		}
		if !rr.Outcome.Success {
			item.Status = db.StatusFailed
			item.Error = rr.Outcome.ErrorText()
		}
		resp.Results = append(resp.Results, item)
	}

	status := http.StatusOK
	switch agg.Overall() {
	case dispatch.OverallPartial:
		status = http.StatusMultiStatus
	case dispatch.OverallFailed:
		status = http.StatusBadGateway
	}
	h.writeJSON(w, status, resp)
}

func (h *Handler) writeQueued(w http.ResponseWriter, res *sender.QuickResult) {
	resp := QuickSendResponse{
		Total:   len(res.Queued) + len(res.Failed),
		Overall: "queued",
		Results: make([]QuickSendResult, 0, len(res.Queued)+len(res.Failed)),
	}
	for _, rec := range res.Queued {
		resp.Results = append(resp.Results, queuedResult(rec, "queued"))
	}
	for _, rec := range res.Failed {
		item := queuedResult(rec, db.StatusFailed)
		item.Error = rec.ErrorMessage
		resp.Results = append(resp.Results, item)
	}
	resp.Message = fmt.Sprintf("queued %d of %d targets", len(res.Queued), resp.Total)

	status := http.StatusAccepted
	if len(res.Queued) == 0 && len(res.Failed) > 0 {
		status = http.StatusServiceUnavailable
		resp.Overall = string(dispatch.OverallFailed)
	}

	h.logger.Debug("quick send accepted", zap.Int("queued", len(res.Queued)))
	h.writeJSON(w, status, resp)
}

func queuedResult(rec *db.Record, status string) QuickSendResult {
	item := QuickSendResult{RecordID: rec.ID, Status: status}
	if rec.TargetID != nil {
		item.TargetID = *rec.TargetID
	}
	return item
}
