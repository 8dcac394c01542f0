package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	k "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/queue"
)

type mockWriter struct {
	msgs []k.Message
	err  error
}

func (w *mockWriter) WriteMessages(ctx context.Context, msgs ...k.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *mockWriter) Close() error { return nil }

type mockReader struct {
	pending   []k.Message
	committed []int64
}

func (r *mockReader) FetchMessage(ctx context.Context) (k.Message, error) {
	if len(r.pending) == 0 {
		<-ctx.Done()
		return k.Message{}, ctx.Err()
	}
	m := r.pending[0]
	r.pending = r.pending[1:]
	return m, nil
}

func (r *mockReader) CommitMessages(ctx context.Context, msgs ...k.Message) error {
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *mockReader) Close() error { return nil }

func TestConfig_BrokerList(t *testing.T) {
	cfg := Config{Brokers: "kafka-1:9092, kafka-2:9092,,"}
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.brokerList())
}

func TestProducer_Enqueue(t *testing.T) {
	w := &mockWriter{}
	p := NewProducer(w, zap.NewNop())

	job := queue.Job{Kind: queue.JobQuick, RecordID: uuid.New(), Title: "hello"}
	require.NoError(t, p.Enqueue(context.Background(), job))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, job.RecordID.String(), string(w.msgs[0].Key))

	var decoded queue.Job
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, "hello", decoded.Title)
}

func TestProducer_EnqueueError(t *testing.T) {
	p := NewProducer(&mockWriter{err: errors.New("leader not available")}, zap.NewNop())
	assert.Error(t, p.Enqueue(context.Background(), queue.Job{Kind: queue.JobQuick}))
}

func TestConsumer_CommitsOnAck(t *testing.T) {
	body, _ := json.Marshal(queue.Job{Kind: queue.JobTemplate, RecordID: uuid.New()})
	r := &mockReader{pending: []k.Message{{Value: body, Offset: 7}}}
	c := NewConsumer(r, zap.NewNop())

	d, err := c.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, queue.JobTemplate, d.Job.Kind)
	assert.Empty(t, r.committed)

	require.NoError(t, d.Ack(context.Background()))
	assert.Equal(t, []int64{7}, r.committed)
}

func TestConsumer_SkipsBadMessage(t *testing.T) {
	r := &mockReader{pending: []k.Message{{Value: []byte("nope"), Offset: 3}}}
	c := NewConsumer(r, zap.NewNop())

	_, err := c.Receive(context.Background())
	assert.Error(t, err)
	assert.Equal(t, []int64{3}, r.committed)
}
