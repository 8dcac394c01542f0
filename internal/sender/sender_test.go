package sender

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/channel"
	"github.com/lalithlochan/beacon/internal/db"
	"github.com/lalithlochan/beacon/internal/dispatch"
	"github.com/lalithlochan/beacon/internal/queue"
	"github.com/lalithlochan/beacon/internal/record"
)

// memStore is an in-memory Store and record.Store.
type memStore struct {
	mu        sync.Mutex
	channels  map[uuid.UUID]*db.Channel
	targets   []*db.Target
	templates map[uuid.UUID]*db.Template
	records   map[uuid.UUID]*db.Record
	getErr    error
}

func newMemStore() *memStore {
	return &memStore{
		channels:  make(map[uuid.UUID]*db.Channel),
		templates: make(map[uuid.UUID]*db.Template),
		records:   make(map[uuid.UUID]*db.Record),
	}
}

func (m *memStore) GetChannel(ctx context.Context, id uuid.UUID) (*db.Channel, error) {
	if ch, ok := m.channels[id]; ok {
		return ch, nil
	}
	return nil, db.ErrNotFound
}

func (m *memStore) GetTarget(ctx context.Context, id uuid.UUID) (*db.Target, error) {
	for _, t := range m.targets {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, db.ErrNotFound
}

func (m *memStore) GetTargets(ctx context.Context, ids []uuid.UUID) ([]*db.Target, error) {
	var out []*db.Target
	for _, id := range ids {
		if t, err := m.GetTarget(ctx, id); err == nil {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memStore) ListTargetsByType(ctx context.Context, tt db.TargetType) ([]*db.Target, error) {
	var out []*db.Target
	for _, t := range m.targets {
		if t.Type == tt {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memStore) GetTemplate(ctx context.Context, id uuid.UUID) (*db.Template, error) {
	if t, ok := m.templates[id]; ok {
		return t, nil
	}
	return nil, db.ErrNotFound
}

func (m *memStore) CreateRecord(ctx context.Context, rec *db.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.records[rec.ID] = &cp
	return nil
}

func (m *memStore) GetRecord(ctx context.Context, id uuid.UUID) (*db.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	rec, ok := m.records[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *memStore) UpdateRecord(ctx context.Context, id uuid.UUID, upd db.RecordUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return db.ErrNotFound
	}
	if rec.Status != db.StatusPending {
		return db.ErrNotPending
	}
	rec.Status = upd.Status
	rec.Response = upd.Response
	rec.ErrorMessage = upd.ErrorMessage
	rec.SendTime = upd.SendTime
	return nil
}

// sweepPending fails every pending record the way the stale sweep does.
func (m *memStore) sweepPending(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.Status == db.StatusPending {
			r.Status = db.StatusFailed
			r.ErrorMessage = msg
		}
	}
}

func (m *memStore) statuses() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int)
	for _, r := range m.records {
		out[r.Status]++
	}
	return out
}

type sent struct{ target, title, content string }

type mockAdapter struct {
	calls   []sent
	failFor map[string]bool
	// onSend runs mid-send; a non-nil error becomes the send's result.
	onSend func(ctx context.Context) error
}

func (a *mockAdapter) Send(ctx context.Context, target, title, content string, opts channel.Options) (channel.Response, error) {
	a.calls = append(a.calls, sent{target, title, content})
	if a.onSend != nil {
		if err := a.onSend(ctx); err != nil {
			return nil, err
		}
	}
	if a.failFor[target] {
		return nil, &channel.DeliveryError{Kind: db.KindNtfy, StatusCode: 503, Message: "unavailable"}
	}
	return channel.Response{"ok": true}, nil
}

type mockQueue struct {
	jobs []queue.Job
	err  error
}

func (q *mockQueue) Enqueue(ctx context.Context, job queue.Job) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

type fixture struct {
	store   *memStore
	adapter *mockAdapter
	queue   *mockQueue
	svc     *Service
	channel *db.Channel
	tmpl    *db.Template
	alice   *db.Target
	bob     *db.Target
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:   newMemStore(),
		adapter: &mockAdapter{failFor: map[string]bool{}},
		queue:   &mockQueue{},
	}

	f.channel = &db.Channel{ID: uuid.New(), Name: "ops", Kind: db.KindNtfy, Enabled: true,
		Config: map[string]any{"server_url": "https://ntfy.example"}}
	f.store.channels[f.channel.ID] = f.channel

	f.tmpl = &db.Template{ID: uuid.New(), Name: "greet", Title: "Hi {{name}}", Content: "Hello {{name}}", ChannelID: f.channel.ID}
	f.store.templates[f.tmpl.ID] = f.tmpl

	f.alice = &db.Target{ID: uuid.New(), Alias: "alice", Type: db.TargetNtfyTopic, Value: "alice"}
	f.bob = &db.Target{ID: uuid.New(), Alias: "bob", Type: db.TargetNtfyTopic, Value: "bob"}
	other := &db.Target{ID: uuid.New(), Alias: "mail", Type: db.TargetEmail, Value: "a@example.com"}
	f.store.targets = []*db.Target{f.alice, f.bob, other}

	reg := channel.NewRegistry()
	reg.Register(db.KindNtfy, func(cfg map[string]any) (channel.Adapter, error) { return f.adapter, nil })

	records := record.NewManager(f.store, zap.NewNop())
	engine := dispatch.NewEngine(reg, zap.NewNop(), dispatch.WithRecorder(records))
	f.svc = New(f.store, records, engine, f.queue, zap.NewNop())
	return f
}

func TestSendTemplate_Sync(t *testing.T) {
	f := newFixture(t)

	rec, err := f.svc.SendTemplate(context.Background(), TemplateRequest{
		TemplateID: f.tmpl.ID,
		TargetID:   f.alice.ID,
		Context:    map[string]any{"name": "World"},
	})
	require.NoError(t, err)

	assert.Equal(t, db.StatusSuccess, rec.Status)
	assert.NotNil(t, rec.SendTime)
	require.Len(t, f.adapter.calls, 1)
	assert.Equal(t, sent{"alice", "Hi World", "Hello World"}, f.adapter.calls[0])
	assert.Equal(t, f.tmpl.ID, *f.store.records[rec.ID].TemplateID)
}

func TestSendTemplate_SyncDeliveryFailure(t *testing.T) {
	f := newFixture(t)
	f.adapter.failFor["alice"] = true

	rec, err := f.svc.SendTemplate(context.Background(), TemplateRequest{TemplateID: f.tmpl.ID, TargetID: f.alice.ID})
	require.NoError(t, err)
	assert.Equal(t, db.StatusFailed, rec.Status)
	assert.Contains(t, rec.ErrorMessage, "unavailable")
	assert.NotNil(t, rec.SendTime)
}

func TestSendTemplate_SweptMidSendKeepsFailure(t *testing.T) {
	f := newFixture(t)
	f.adapter.onSend = func(context.Context) error {
		f.store.sweepPending("stale pending record")
		return nil
	}

	rec, err := f.svc.SendTemplate(context.Background(), TemplateRequest{TemplateID: f.tmpl.ID, TargetID: f.alice.ID})
	require.NoError(t, err)
	assert.Equal(t, db.StatusFailed, rec.Status)
	assert.Equal(t, "stale pending record", rec.ErrorMessage)
	assert.Equal(t, map[string]int{db.StatusFailed: 1}, f.store.statuses())
}

func TestSendTemplate_CallerCancelledMidSend(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.adapter.onSend = func(ctx context.Context) error {
		cancel()
		return ctx.Err()
	}

	rec, err := f.svc.SendTemplate(ctx, TemplateRequest{TemplateID: f.tmpl.ID, TargetID: f.alice.ID})
	require.NoError(t, err)
	assert.Equal(t, db.StatusFailed, rec.Status)
	assert.Contains(t, rec.ErrorMessage, "context canceled")
	assert.Equal(t, map[string]int{db.StatusFailed: 1}, f.store.statuses(), "no record left pending")
}

func TestSendTemplate_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.SendTemplate(context.Background(), TemplateRequest{TemplateID: uuid.New(), TargetID: f.alice.ID})
	assert.ErrorIs(t, err, db.ErrNotFound)

	_, err = f.svc.SendTemplate(context.Background(), TemplateRequest{TemplateID: f.tmpl.ID, TargetID: uuid.New()})
	assert.ErrorIs(t, err, db.ErrNotFound)

	assert.Empty(t, f.store.records)
	assert.Empty(t, f.adapter.calls)
}

func TestSendTemplate_DisabledChannel(t *testing.T) {
	f := newFixture(t)
	f.channel.Enabled = false

	_, err := f.svc.SendTemplate(context.Background(), TemplateRequest{TemplateID: f.tmpl.ID, TargetID: f.alice.ID})
	assert.ErrorIs(t, err, dispatch.ErrChannelDisabled)
	assert.Empty(t, f.store.records)
	assert.Empty(t, f.adapter.calls)
}

func TestSendTemplate_AsyncThenExecute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.svc.SendTemplate(ctx, TemplateRequest{
		TemplateID: f.tmpl.ID,
		TargetID:   f.alice.ID,
		Context:    map[string]any{"name": "Queue"},
		Async:      true,
	})
	require.NoError(t, err)
	assert.Equal(t, db.StatusPending, rec.Status)
	assert.Empty(t, f.adapter.calls)
	require.Len(t, f.queue.jobs, 1)

	job := f.queue.jobs[0]
	assert.Equal(t, queue.JobTemplate, job.Kind)
	assert.Equal(t, rec.ID, job.RecordID)

	require.NoError(t, f.svc.Execute(ctx, job))
	require.Len(t, f.adapter.calls, 1)
	assert.Equal(t, "Hi Queue", f.adapter.calls[0].title)
	assert.Equal(t, db.StatusSuccess, f.store.records[rec.ID].Status)

	// Redelivery is a no-op.
	require.NoError(t, f.svc.Execute(ctx, job))
	assert.Len(t, f.adapter.calls, 1)
}

func TestSendTemplate_AsyncEnqueueFailure(t *testing.T) {
	f := newFixture(t)
	f.queue.err = queue.ErrQueueFull

	_, err := f.svc.SendTemplate(context.Background(), TemplateRequest{TemplateID: f.tmpl.ID, TargetID: f.alice.ID, Async: true})
	assert.ErrorIs(t, err, queue.ErrQueueFull)
	assert.Equal(t, map[string]int{db.StatusFailed: 1}, f.store.statuses())
}

func TestSendTemplate_AsyncWithoutQueue(t *testing.T) {
	f := newFixture(t)
	f.svc.queue = nil

	_, err := f.svc.SendTemplate(context.Background(), TemplateRequest{TemplateID: f.tmpl.ID, TargetID: f.alice.ID, Async: true})
	assert.ErrorIs(t, err, ErrAsyncUnavailable)
	assert.Empty(t, f.store.records)
}

func TestQuickSend_SyncPartial(t *testing.T) {
	f := newFixture(t)
	f.adapter.failFor["alice"] = true

	res, err := f.svc.QuickSend(context.Background(), QuickRequest{
		ChannelID: f.channel.ID,
		All:       true,
		Title:     "t",
		Content:   "c",
	})
	require.NoError(t, err)

	agg := res.Aggregate
	require.NotNil(t, agg)
	assert.Equal(t, 2, agg.Total(), "only ntfy_topic targets")
	assert.Equal(t, 1, agg.Succeeded())
	assert.Equal(t, dispatch.OverallPartial, agg.Overall())
	assert.Equal(t, map[string]int{db.StatusSuccess: 1, db.StatusFailed: 1}, f.store.statuses())

	// bob is still attempted after alice fails.
	require.Len(t, f.adapter.calls, 2)
	assert.Equal(t, "bob", f.adapter.calls[1].target)
}

func TestQuickSend_ExplicitIDs(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.QuickSend(context.Background(), QuickRequest{
		ChannelID: f.channel.ID,
		TargetIDs: []uuid.UUID{f.bob.ID},
		Content:   "c",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Aggregate.Total())
	assert.Equal(t, dispatch.OverallSuccess, res.Aggregate.Overall())

	_, err = f.svc.QuickSend(context.Background(), QuickRequest{
		ChannelID: f.channel.ID,
		TargetIDs: []uuid.UUID{uuid.New()},
	})
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestQuickSend_EmptyTargetList(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.QuickSend(context.Background(), QuickRequest{
		ChannelID: f.channel.ID,
		TargetIDs: []uuid.UUID{},
		Content:   "c",
	})
	assert.ErrorIs(t, err, db.ErrNotFound)
	assert.Empty(t, f.adapter.calls)
	assert.Empty(t, f.store.records)
}

func TestQuickSend_CallerCancelledMidBatch(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.adapter.onSend = func(ctx context.Context) error {
		cancel()
		return ctx.Err()
	}

	_, err := f.svc.QuickSend(ctx, QuickRequest{ChannelID: f.channel.ID, TargetIDs: []uuid.UUID{f.alice.ID}, Content: "c"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{db.StatusFailed: 1}, f.store.statuses())
}

func TestQuickSend_Rejections(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.QuickSend(context.Background(), QuickRequest{ChannelID: uuid.New()})
	assert.ErrorIs(t, err, db.ErrNotFound)

	f.channel.Enabled = false
	_, err = f.svc.QuickSend(context.Background(), QuickRequest{ChannelID: f.channel.ID, All: true})
	assert.ErrorIs(t, err, dispatch.ErrChannelDisabled)

	assert.Empty(t, f.adapter.calls)
	assert.Empty(t, f.store.records)
}

func TestQuickSend_Async(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	badge := 2

	res, err := f.svc.QuickSend(ctx, QuickRequest{
		ChannelID: f.channel.ID,
		All:       true,
		Title:     "deploy",
		Content:   "done",
		Options:   channel.Options{Badge: &badge},
		Async:     true,
	})
	require.NoError(t, err)
	assert.Len(t, res.Queued, 2)
	assert.Empty(t, res.Failed)
	assert.Empty(t, f.adapter.calls)
	require.Len(t, f.queue.jobs, 2)

	for _, job := range f.queue.jobs {
		assert.Equal(t, queue.JobQuick, job.Kind)
		require.NoError(t, f.svc.Execute(ctx, job))
	}
	assert.Len(t, f.adapter.calls, 2)
	assert.Equal(t, map[string]int{db.StatusSuccess: 2}, f.store.statuses())
}

func TestExecute_DeletedChannelFailsRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.QuickSend(ctx, QuickRequest{ChannelID: f.channel.ID, TargetIDs: []uuid.UUID{f.alice.ID}, Async: true})
	require.NoError(t, err)
	recID := res.Queued[0].ID

	f.store.records[recID].ChannelID = nil
	require.NoError(t, f.svc.Execute(ctx, f.queue.jobs[0]))

	stored := f.store.records[recID]
	assert.Equal(t, db.StatusFailed, stored.Status)
	assert.Contains(t, stored.ErrorMessage, "channel was deleted")
	assert.Empty(t, f.adapter.calls)
}

func TestExecute_DisabledAfterQueueingFailsRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.QuickSend(ctx, QuickRequest{ChannelID: f.channel.ID, TargetIDs: []uuid.UUID{f.alice.ID}, Async: true})
	require.NoError(t, err)

	f.channel.Enabled = false
	require.NoError(t, f.svc.Execute(ctx, f.queue.jobs[0]))
	assert.Equal(t, map[string]int{db.StatusFailed: 1}, f.store.statuses())
	assert.Empty(t, f.adapter.calls)
}

func TestExecute_TransientErrorLeavesJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.QuickSend(ctx, QuickRequest{ChannelID: f.channel.ID, TargetIDs: []uuid.UUID{f.alice.ID}, Async: true})
	require.NoError(t, err)

	f.store.getErr = errors.New("connection reset")
	assert.Error(t, f.svc.Execute(ctx, f.queue.jobs[0]))

	f.store.getErr = nil
	assert.Equal(t, map[string]int{db.StatusPending: 1}, f.store.statuses())
}

func TestExecute_SweptMidSendKeepsFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.QuickSend(ctx, QuickRequest{ChannelID: f.channel.ID, TargetIDs: []uuid.UUID{f.alice.ID}, Async: true})
	require.NoError(t, err)
	recID := res.Queued[0].ID

	f.adapter.onSend = func(context.Context) error {
		f.store.sweepPending("stale pending record")
		return nil
	}
	require.NoError(t, f.svc.Execute(ctx, f.queue.jobs[0]))

	stored := f.store.records[recID]
	assert.Equal(t, db.StatusFailed, stored.Status, "late success must not overwrite the sweep")
	assert.Equal(t, "stale pending record", stored.ErrorMessage)
	assert.Len(t, f.adapter.calls, 1)

	// Redelivery sees the terminal record and does not send again.
	require.NoError(t, f.svc.Execute(ctx, f.queue.jobs[0]))
	assert.Len(t, f.adapter.calls, 1)
}

func TestExecute_UnknownRecordIsDropped(t *testing.T) {
	f := newFixture(t)
	assert.NoError(t, f.svc.Execute(context.Background(), queue.Job{Kind: queue.JobQuick, RecordID: uuid.New()}))
	assert.Empty(t, f.adapter.calls)
}
