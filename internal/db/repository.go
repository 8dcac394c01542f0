package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Repository handles database operations for channels, targets, templates
// and send records.
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new repository
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// ---- channels ----

const channelColumns = `id, name, kind, config, enabled, created_at, updated_at`

func scanChannel(row pgx.Row) (*Channel, error) {
	var (
		ch  Channel
		raw []byte
	)
	if err := row.Scan(&ch.ID, &ch.Name, &ch.Kind, &raw, &ch.Enabled, &ch.CreatedAt, &ch.UpdatedAt); err != nil {
		return nil, err
	}
	ch.Config = map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &ch.Config); err != nil {
			return nil, fmt.Errorf("decode channel config: %w", err)
		}
	}
	return &ch, nil
}

// CreateChannel inserts a new channel
func (r *Repository) CreateChannel(ctx context.Context, ch *Channel) error {
	if ch.ID == uuid.Nil {
		ch.ID = uuid.New()
	}
	cfg, err := json.Marshal(configOrEmpty(ch.Config))
	if err != nil {
		return fmt.Errorf("encode channel config: %w", err)
	}

	query := `
		INSERT INTO channels (id, name, kind, config, enabled)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`
	err = r.db.Pool().QueryRow(ctx, query, ch.ID, ch.Name, ch.Kind, cfg, ch.Enabled).
		Scan(&ch.CreatedAt, &ch.UpdatedAt)
	if err != nil {
		r.logger.Error("failed to create channel", zap.Error(err), zap.String("name", ch.Name))
		return fmt.Errorf("insert channel: %w", classify(err))
	}

	r.logger.Info("channel created",
		zap.String("channel_id", ch.ID.String()),
		zap.String("kind", string(ch.Kind)),
	)
	return nil
}

// GetChannel retrieves a channel by ID
func (r *Repository) GetChannel(ctx context.Context, id uuid.UUID) (*Channel, error) {
	query := `SELECT ` + channelColumns + ` FROM channels WHERE id = $1`

	ch, err := scanChannel(r.db.Pool().QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("channel %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query channel: %w", err)
	}
	return ch, nil
}

// ListChannels returns channels newest first. kind and enabled are optional filters.
func (r *Repository) ListChannels(ctx context.Context, kind ChannelKind, enabled *bool, limit, offset int) ([]*Channel, error) {
	query := `
		SELECT ` + channelColumns + `
		FROM channels
		WHERE ($1 = '' OR kind = $1) AND ($2::boolean IS NULL OR enabled = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.db.Pool().Query(ctx, query, string(kind), enabled, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query channels: %w", err)
	}
	defer rows.Close()

	var channels []*Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		channels = append(channels, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return channels, nil
}

// UpdateChannel overwrites name, kind, config and enabled.
func (r *Repository) UpdateChannel(ctx context.Context, ch *Channel) error {
	cfg, err := json.Marshal(configOrEmpty(ch.Config))
	if err != nil {
		return fmt.Errorf("encode channel config: %w", err)
	}

	query := `
		UPDATE channels
		SET name = $1, kind = $2, config = $3, enabled = $4, updated_at = NOW()
		WHERE id = $5
		RETURNING created_at, updated_at
	`
	err = r.db.Pool().QueryRow(ctx, query, ch.Name, ch.Kind, cfg, ch.Enabled, ch.ID).
		Scan(&ch.CreatedAt, &ch.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("channel %s: %w", ch.ID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("update channel: %w", classify(err))
	}
	return nil
}

// DeleteChannel removes a channel. Its templates go with it; records keep
// their row with channel_id cleared.
func (r *Repository) DeleteChannel(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Pool().Exec(ctx, `DELETE FROM channels WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete channel: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("channel %s: %w", id, ErrNotFound)
	}
	r.logger.Info("channel deleted", zap.String("channel_id", id.String()))
	return nil
}

// ---- targets ----

const targetColumns = `id, alias, target_type, target_value, created_at, updated_at`

func scanTarget(row pgx.Row) (*Target, error) {
	var t Target
	if err := row.Scan(&t.ID, &t.Alias, &t.Type, &t.Value, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func collectTargets(rows pgx.Rows) ([]*Target, error) {
	defer rows.Close()
	var targets []*Target
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, fmt.Errorf("scan target: %w", err)
		}
		targets = append(targets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return targets, nil
}

// CreateTarget inserts a target. A second target with the same
// (type, value) yields ErrDuplicate.
func (r *Repository) CreateTarget(ctx context.Context, t *Target) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	query := `
		INSERT INTO targets (id, alias, target_type, target_value)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`
	err := r.db.Pool().QueryRow(ctx, query, t.ID, t.Alias, t.Type, t.Value).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		err = classify(err)
		if !errors.Is(err, ErrDuplicate) {
			r.logger.Error("failed to create target", zap.Error(err), zap.String("alias", t.Alias))
		}
		return fmt.Errorf("insert target: %w", err)
	}
	return nil
}

// GetTarget retrieves a target by ID
func (r *Repository) GetTarget(ctx context.Context, id uuid.UUID) (*Target, error) {
	query := `SELECT ` + targetColumns + ` FROM targets WHERE id = $1`
	t, err := scanTarget(r.db.Pool().QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("target %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query target: %w", err)
	}
	return t, nil
}

// GetTargets loads the targets with the given IDs. Unknown IDs are skipped.
func (r *Repository) GetTargets(ctx context.Context, ids []uuid.UUID) ([]*Target, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + targetColumns + ` FROM targets WHERE id = ANY($1) ORDER BY created_at ASC`
	rows, err := r.db.Pool().Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("query targets: %w", err)
	}
	return collectTargets(rows)
}

// ListTargetsByType returns every target of the given type, oldest first.
func (r *Repository) ListTargetsByType(ctx context.Context, t TargetType) ([]*Target, error) {
	query := `SELECT ` + targetColumns + ` FROM targets WHERE target_type = $1 ORDER BY created_at ASC`
	rows, err := r.db.Pool().Query(ctx, query, t)
	if err != nil {
		return nil, fmt.Errorf("query targets by type: %w", err)
	}
	return collectTargets(rows)
}

// ListTargets returns targets newest first, optionally filtered by type.
func (r *Repository) ListTargets(ctx context.Context, t TargetType, limit, offset int) ([]*Target, error) {
	query := `
		SELECT ` + targetColumns + `
		FROM targets
		WHERE ($1 = '' OR target_type = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Pool().Query(ctx, query, string(t), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query targets: %w", err)
	}
	return collectTargets(rows)
}

// UpdateTargetAlias changes the display alias, the only mutable target field.
func (r *Repository) UpdateTargetAlias(ctx context.Context, id uuid.UUID, alias string) (*Target, error) {
	query := `
		UPDATE targets SET alias = $1, updated_at = NOW()
		WHERE id = $2
		RETURNING ` + targetColumns
	t, err := scanTarget(r.db.Pool().QueryRow(ctx, query, alias, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("target %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("update target: %w", err)
	}
	return t, nil
}

// DeleteTarget removes a target; records keep their row with target_id cleared.
func (r *Repository) DeleteTarget(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Pool().Exec(ctx, `DELETE FROM targets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete target: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("target %s: %w", id, ErrNotFound)
	}
	return nil
}

// ---- templates ----

const templateColumns = `id, name, title, content, channel_id, created_at, updated_at`

func scanTemplate(row pgx.Row) (*Template, error) {
	var t Template
	if err := row.Scan(&t.ID, &t.Name, &t.Title, &t.Content, &t.ChannelID, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateTemplate inserts a template. The channel must exist.
func (r *Repository) CreateTemplate(ctx context.Context, t *Template) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	query := `
		INSERT INTO templates (id, name, title, content, channel_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`
	err := r.db.Pool().QueryRow(ctx, query, t.ID, t.Name, t.Title, t.Content, t.ChannelID).
		Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert template: %w", classify(err))
	}
	return nil
}

// GetTemplate retrieves a template by ID
func (r *Repository) GetTemplate(ctx context.Context, id uuid.UUID) (*Template, error) {
	query := `SELECT ` + templateColumns + ` FROM templates WHERE id = $1`
	t, err := scanTemplate(r.db.Pool().QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("template %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query template: %w", err)
	}
	return t, nil
}

// ListTemplates returns templates newest first, optionally for one channel.
func (r *Repository) ListTemplates(ctx context.Context, channelID *uuid.UUID, limit, offset int) ([]*Template, error) {
	query := `
		SELECT ` + templateColumns + `
		FROM templates
		WHERE ($1::uuid IS NULL OR channel_id = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Pool().Query(ctx, query, channelID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query templates: %w", err)
	}
	defer rows.Close()

	var templates []*Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		templates = append(templates, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return templates, nil
}

// UpdateTemplate overwrites name, title, content and channel.
func (r *Repository) UpdateTemplate(ctx context.Context, t *Template) error {
	query := `
		UPDATE templates
		SET name = $1, title = $2, content = $3, channel_id = $4, updated_at = NOW()
		WHERE id = $5
		RETURNING created_at, updated_at
	`
	err := r.db.Pool().QueryRow(ctx, query, t.Name, t.Title, t.Content, t.ChannelID, t.ID).
		Scan(&t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("template %s: %w", t.ID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("update template: %w", classify(err))
	}
	return nil
}

// DeleteTemplate removes a template; records keep their row with template_id cleared.
func (r *Repository) DeleteTemplate(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Pool().Exec(ctx, `DELETE FROM templates WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("template %s: %w", id, ErrNotFound)
	}
	return nil
}

// ---- records ----

const recordColumns = `
	id, template_id, channel_id, target_id, status, response,
	error_message, send_time, created_at, updated_at
`

func scanRecord(row pgx.Row) (*Record, error) {
	var rec Record
	err := row.Scan(
		&rec.ID,
		&rec.TemplateID,
		&rec.ChannelID,
		&rec.TargetID,
		&rec.Status,
		&rec.Response,
		&rec.ErrorMessage,
		&rec.SendTime,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CreateRecord inserts a send record
func (r *Repository) CreateRecord(ctx context.Context, rec *Record) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	query := `
		INSERT INTO records (
			id, template_id, channel_id, target_id, status,
			response, error_message, send_time
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`
	err := r.db.Pool().QueryRow(ctx, query,
		rec.ID,
		rec.TemplateID,
		rec.ChannelID,
		rec.TargetID,
		rec.Status,
		rawOrEmpty(rec.Response),
		rec.ErrorMessage,
		rec.SendTime,
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		r.logger.Error("failed to create record",
			zap.Error(err),
			zap.String("record_id", rec.ID.String()),
		)
		return fmt.Errorf("insert record: %w", classify(err))
	}
	return nil
}

// GetRecord retrieves a record by ID
func (r *Repository) GetRecord(ctx context.Context, id uuid.UUID) (*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records WHERE id = $1`
	rec, err := scanRecord(r.db.Pool().QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("record %s: %w", id, ErrNotFound)
	}
	if err != nil {
		r.logger.Error("failed to get record", zap.Error(err), zap.String("record_id", id.String()))
		return nil, fmt.Errorf("query record: %w", err)
	}
	return rec, nil
}

// UpdateRecord moves a pending record to its terminal state. Only a record
// still pending is written; one already finalized elsewhere (the stale
// sweep, a second delivery of the same job) yields ErrNotPending.
func (r *Repository) UpdateRecord(ctx context.Context, id uuid.UUID, upd RecordUpdate) error {
	query := `
		UPDATE records
		SET status = $1, response = $2, error_message = $3, send_time = $4, updated_at = NOW()
		WHERE id = $5 AND status = $6
	`
	result, err := r.db.Pool().Exec(ctx, query,
		upd.Status, rawOrEmpty(upd.Response), upd.ErrorMessage, upd.SendTime, id, StatusPending)
	if err != nil {
		r.logger.Error("failed to update record",
			zap.Error(err),
			zap.String("record_id", id.String()),
		)
		return fmt.Errorf("update record: %w", err)
	}
	if result.RowsAffected() > 0 {
		return nil
	}

	var status string
	err = r.db.Pool().QueryRow(ctx, `SELECT status FROM records WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("record %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("query record status: %w", err)
	}
	return fmt.Errorf("record %s is %s: %w", id, status, ErrNotPending)
}

// ListRecords returns records newest first.
func (r *Repository) ListRecords(ctx context.Context, f RecordFilter) ([]*Record, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.ChannelID != nil {
		add("channel_id = $%d", *f.ChannelID)
	}
	if f.TemplateID != nil {
		add("template_id = $%d", *f.TemplateID)
	}
	if f.TargetID != nil {
		add("target_id = $%d", *f.TargetID)
	}

	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, f.Limit, f.Offset)
	query := fmt.Sprintf(`SELECT %s FROM records %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		recordColumns, where, len(args)-1, len(args))

	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return records, nil
}

// FailStalePending moves pending records created before cutoff to failed
// and returns how many were changed.
func (r *Repository) FailStalePending(ctx context.Context, cutoff time.Time, reason string) (int64, error) {
	query := `
		UPDATE records
		SET status = $1, error_message = $2, send_time = NOW(), updated_at = NOW()
		WHERE status = $3 AND created_at < $4
	`
	result, err := r.db.Pool().Exec(ctx, query, StatusFailed, reason, StatusPending, cutoff)
	if err != nil {
		return 0, fmt.Errorf("fail stale pending records: %w", err)
	}
	return result.RowsAffected(), nil
}

func configOrEmpty(cfg map[string]any) map[string]any {
	if cfg == nil {
		return map[string]any{}
	}
	return cfg
}

func rawOrEmpty(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	return raw
}
