// Package kafka carries queue jobs over a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	k "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/metrics"
	"github.com/lalithlochan/beacon/internal/queue"
)

// Config holds Kafka connection settings. Brokers is comma separated.
type Config struct {
	Brokers string
	Topic   string
	GroupID string
}

func (c Config) brokerList() []string {
	var out []string
	for _, b := range strings.Split(c.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// NewWriter builds a writer for cfg.Topic.
func NewWriter(cfg Config) *k.Writer {
	return &k.Writer{
		Addr:         k.TCP(cfg.brokerList()...),
		Topic:        cfg.Topic,
		Balancer:     &k.LeastBytes{},
		BatchTimeout: 5 * time.Millisecond,
		RequiredAcks: k.RequireOne,
	}
}

// NewReader builds a consumer group reader for cfg.Topic.
func NewReader(cfg Config) *k.Reader {
	return k.NewReader(k.ReaderConfig{
		Brokers:  cfg.brokerList(),
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1e3,
		MaxBytes: 10e6,
		MaxWait:  100 * time.Millisecond,
	})
}

// MessageWriter is the producing side of a kafka-go Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...k.Message) error
	Close() error
}

// MessageReader is the consuming side of a kafka-go Reader.
type MessageReader interface {
	FetchMessage(ctx context.Context) (k.Message, error)
	CommitMessages(ctx context.Context, msgs ...k.Message) error
	Close() error
}

// Producer publishes jobs keyed by record id.
type Producer struct {
	writer MessageWriter
	logger *zap.Logger
}

// NewProducer creates a producer on w.
func NewProducer(w MessageWriter, logger *zap.Logger) *Producer {
	return &Producer{writer: w, logger: logger}
}

// Enqueue writes one job.
func (p *Producer) Enqueue(ctx context.Context, job queue.Job) error {
	body, err := json.Marshal(queue.Stamp(job))
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	msg := k.Message{Key: []byte(job.RecordID.String()), Value: body}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("failed to write message to kafka",
			zap.String("record_id", job.RecordID.String()),
			zap.Error(err),
		)
		return fmt.Errorf("kafka write failed: %w", err)
	}

	metrics.RecordJobEnqueued(string(job.Kind))
	return nil
}

// Close flushes and closes the writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Consumer reads jobs from a consumer group. Offsets are committed on Ack.
type Consumer struct {
	reader MessageReader
	logger *zap.Logger
}

// NewConsumer creates a consumer on r.
func NewConsumer(r MessageReader, logger *zap.Logger) *Consumer {
	return &Consumer{reader: r, logger: logger}
}

// Receive blocks for the next job. Malformed messages are committed and
// reported as an error.
func (c *Consumer) Receive(ctx context.Context) (*queue.Delivery, error) {
	m, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return nil, fmt.Errorf("kafka fetch failed: %w", err)
	}

	var job queue.Job
	if err := json.Unmarshal(m.Value, &job); err != nil {
		c.logger.Error("bad message, skipping",
			zap.Int("partition", m.Partition),
			zap.Int64("offset", m.Offset),
			zap.Error(err),
		)
		if cerr := c.reader.CommitMessages(ctx, m); cerr != nil {
			c.logger.Warn("failed to commit bad message", zap.Error(cerr))
		}
		return nil, fmt.Errorf("invalid message format: %w", err)
	}

	return &queue.Delivery{
		Job: job,
		Ack: func(ctx context.Context) error { return c.reader.CommitMessages(ctx, m) },
	}, nil
}

// Close closes the reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
