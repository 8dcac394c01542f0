// Package record owns the send record lifecycle: a record is created
// pending before the outbound call and moved to exactly one terminal
// status after it.
package record

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/db"
	"github.com/lalithlochan/beacon/internal/dispatch"
	"github.com/lalithlochan/beacon/internal/metrics"
)

// ErrAlreadyCompleted is returned when Complete is called on a record that
// already has a terminal status, either in memory or in the store.
var ErrAlreadyCompleted = errors.New("record already completed")

// persistTimeout bounds record writes, which run detached from the caller's
// cancellation so a send that happened is always recorded.
const persistTimeout = 5 * time.Second

// Store is the persistence the manager needs.
type Store interface {
	CreateRecord(ctx context.Context, rec *db.Record) error
	GetRecord(ctx context.Context, id uuid.UUID) (*db.Record, error)
	UpdateRecord(ctx context.Context, id uuid.UUID, upd db.RecordUpdate) error
}

// Event describes a record reaching a terminal status.
type Event struct {
	RecordID   uuid.UUID  `json:"record_id"`
	ChannelID  *uuid.UUID `json:"channel_id,omitempty"`
	TemplateID *uuid.UUID `json:"template_id,omitempty"`
	TargetID   *uuid.UUID `json:"target_id,omitempty"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	SendTime   time.Time  `json:"send_time"`
}

// EventPublisher receives terminal record events. Publish failures are
// logged and never fail the completion.
type EventPublisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Manager creates and completes records.
type Manager struct {
	store  Store
	events EventPublisher
	logger *zap.Logger
	now    func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithEvents publishes every terminal transition to pub.
func WithEvents(pub EventPublisher) Option {
	return func(m *Manager) { m.events = pub }
}

// NewManager creates a record manager
func NewManager(store Store, logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{store: store, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Begin creates a pending record for one attempt. tmpl may be nil.
func (m *Manager) Begin(ctx context.Context, ch *db.Channel, target *db.Target, tmpl *db.Template) (*db.Record, error) {
	rec := &db.Record{
		ID:       uuid.New(),
		Status:   db.StatusPending,
		Response: json.RawMessage(`{}`),
	}
	if ch != nil {
		id := ch.ID
		rec.ChannelID = &id
	}
	if target != nil {
		id := target.ID
		rec.TargetID = &id
	}
	if tmpl != nil {
		id := tmpl.ID
		rec.TemplateID = &id
	}

	pctx, cancel := m.persistCtx(ctx)
	defer cancel()

	if err := m.store.CreateRecord(pctx, rec); err != nil {
		return nil, fmt.Errorf("create pending record: %w", err)
	}
	return rec, nil
}

// Complete moves rec to success or failed according to out and stamps the
// send time. rec is updated in place. A record already terminal is left
// untouched and ErrAlreadyCompleted is returned; when another writer got
// there first rec is refreshed with the stored state.
func (m *Manager) Complete(ctx context.Context, rec *db.Record, out dispatch.Outcome) error {
	if db.IsTerminal(rec.Status) {
		return fmt.Errorf("record %s is %s: %w", rec.ID, rec.Status, ErrAlreadyCompleted)
	}

	sent := m.now().UTC()
	upd := db.RecordUpdate{SendTime: &sent, Response: json.RawMessage(`{}`)}
	if out.Success {
		upd.Status = db.StatusSuccess
		if out.Response != nil {
			raw, err := json.Marshal(out.Response)
			if err != nil {
				m.logger.Warn("response not serialisable, storing empty object",
					zap.String("record_id", rec.ID.String()),
					zap.Error(err),
				)
			} else {
				upd.Response = raw
			}
		}
	} else {
		upd.Status = db.StatusFailed
		upd.ErrorMessage = out.ErrorText()
		if upd.ErrorMessage == "" {
			upd.ErrorMessage = "unknown error"
		}
	}

	pctx, cancel := m.persistCtx(ctx)
	defer cancel()

	if err := m.store.UpdateRecord(pctx, rec.ID, upd); err != nil {
		if errors.Is(err, db.ErrNotPending) {
			m.refresh(pctx, rec)
			m.logger.Warn("record finalized elsewhere, keeping stored status",
				zap.String("record_id", rec.ID.String()),
				zap.String("status", rec.Status),
				zap.String("dropped_status", upd.Status),
			)
			return fmt.Errorf("record %s: %w", rec.ID, ErrAlreadyCompleted)
		}
		return fmt.Errorf("complete record %s: %w", rec.ID, err)
	}

	rec.Status = upd.Status
	rec.Response = upd.Response
	rec.ErrorMessage = upd.ErrorMessage
	rec.SendTime = upd.SendTime

	metrics.RecordCompleted(rec.Status)
	m.logger.Debug("record completed",
		zap.String("record_id", rec.ID.String()),
		zap.String("status", rec.Status),
	)

	m.publish(pctx, rec)
	return nil
}

// Fail completes rec as failed with cause.
func (m *Manager) Fail(ctx context.Context, rec *db.Record, cause error) error {
	return m.Complete(ctx, rec, dispatch.Outcome{Err: cause})
}

// Get loads a record by id.
func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*db.Record, error) {
	return m.store.GetRecord(ctx, id)
}

func (m *Manager) persistCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
}

// refresh copies the stored state over rec. On a read error rec is left
// as it was.
func (m *Manager) refresh(ctx context.Context, rec *db.Record) {
	stored, err := m.store.GetRecord(ctx, rec.ID)
	if err != nil {
		m.logger.Warn("failed to reload record",
			zap.String("record_id", rec.ID.String()),
			zap.Error(err),
		)
		return
	}
	*rec = *stored
}

func (m *Manager) publish(ctx context.Context, rec *db.Record) {
	if m.events == nil {
		return
	}
	ev := Event{
		RecordID:   rec.ID,
		ChannelID:  rec.ChannelID,
		TemplateID: rec.TemplateID,
		TargetID:   rec.TargetID,
		Status:     rec.Status,
		Error:      rec.ErrorMessage,
	}
	if rec.SendTime != nil {
		ev.SendTime = *rec.SendTime
	}
	if err := m.events.Publish(ctx, ev); err != nil {
		m.logger.Warn("failed to publish record event",
			zap.String("record_id", rec.ID.String()),
			zap.Error(err),
		)
	}
}
