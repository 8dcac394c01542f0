package sqs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/queue"
)

const testQueueURL = "https://sqs.us-east-1.amazonaws.com/123456789/beacon"

type mockSQS struct {
	sent       []*sqs.SendMessageInput
	deleted    []string
	messages   []types.Message
	sendErr    error
	receiveErr error
}

func (m *mockSQS) SendMessage(ctx context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	m.sent = append(m.sent, in)
	return &sqs.SendMessageOutput{MessageId: aws.String("msg-1")}, nil
}

func (m *mockSQS) ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	if m.receiveErr != nil {
		return nil, m.receiveErr
	}
	out := &sqs.ReceiveMessageOutput{Messages: m.messages}
	m.messages = nil
	return out, nil
}

func (m *mockSQS) DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	m.deleted = append(m.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (m *mockSQS) ChangeMessageVisibility(ctx context.Context, in *sqs.ChangeMessageVisibilityInput, _ ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error) {
	return &sqs.ChangeMessageVisibilityOutput{}, nil
}

func TestProducer_Enqueue(t *testing.T) {
	client := &mockSQS{}
	p := NewProducer(client, testQueueURL, zap.NewNop())

	job := queue.Job{Kind: queue.JobTemplate, RecordID: uuid.New(), TemplateID: uuid.New()}
	if err := p.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(client.sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(client.sent))
	}
	if got := aws.ToString(client.sent[0].QueueUrl); got != testQueueURL {
		t.Errorf("queue url mismatch: got %s", got)
	}

	var decoded queue.Job
	if err := json.Unmarshal([]byte(aws.ToString(client.sent[0].MessageBody)), &decoded); err != nil {
		t.Fatalf("failed to unmarshal body: %v", err)
	}
	if decoded.RecordID != job.RecordID {
		t.Errorf("record id mismatch: got %s, want %s", decoded.RecordID, job.RecordID)
	}
	if decoded.EnqueuedAt == 0 {
		t.Error("expected enqueued_at to be stamped")
	}
}

func TestProducer_EnqueueError(t *testing.T) {
	client := &mockSQS{sendErr: errors.New("throttled")}
	p := NewProducer(client, testQueueURL, zap.NewNop())

	if err := p.Enqueue(context.Background(), queue.Job{Kind: queue.JobQuick}); err == nil {
		t.Fatal("expected error")
	}
}
