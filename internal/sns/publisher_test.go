package sns

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/google/uuid"

	"github.com/lalithlochan/beacon/internal/db"
	"github.com/lalithlochan/beacon/internal/record"
)

type mockSNS struct {
	inputs []*sns.PublishInput
	err    error
}

func (m *mockSNS) Publish(ctx context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.inputs = append(m.inputs, in)
	return &sns.PublishOutput{MessageId: aws.String("m-1")}, nil
}

var _ record.EventPublisher = (*Publisher)(nil)

func TestPublisher_Publish(t *testing.T) {
	client := &mockSNS{}
	p := NewPublisherWithClient(client, "arn:aws:sns:us-east-1:123:beacon-events")

	channelID := uuid.New()
	ev := record.Event{
		RecordID:  uuid.New(),
		ChannelID: &channelID,
		Status:    db.StatusFailed,
		Error:     "bad gateway",
		SendTime:  time.Now().UTC(),
	}

	if err := p.Publish(context.Background(), ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(client.inputs) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(client.inputs))
	}

	in := client.inputs[0]
	if got := aws.ToString(in.TopicArn); got != "arn:aws:sns:us-east-1:123:beacon-events" {
		t.Errorf("topic mismatch: got %s", got)
	}
	if got := aws.ToString(in.MessageAttributes["status"].StringValue); got != db.StatusFailed {
		t.Errorf("status attribute: got %s", got)
	}
	if got := aws.ToString(in.MessageAttributes["channel_id"].StringValue); got != channelID.String() {
		t.Errorf("channel_id attribute: got %s", got)
	}

	var decoded record.Event
	if err := json.Unmarshal([]byte(aws.ToString(in.Message)), &decoded); err != nil {
		t.Fatalf("failed to unmarshal message: %v", err)
	}
	if decoded.RecordID != ev.RecordID || decoded.Error != "bad gateway" {
		t.Errorf("unexpected payload: %+v", decoded)
	}
}

func TestPublisher_OmitsMissingChannel(t *testing.T) {
	client := &mockSNS{}
	p := NewPublisherWithClient(client, "arn")

	if err := p.Publish(context.Background(), record.Event{RecordID: uuid.New(), Status: db.StatusSuccess}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := client.inputs[0].MessageAttributes["channel_id"]; ok {
		t.Error("channel_id attribute set for event without channel")
	}
}

func TestPublisher_Error(t *testing.T) {
	p := NewPublisherWithClient(&mockSNS{err: errors.New("denied")}, "arn")
	if err := p.Publish(context.Background(), record.Event{RecordID: uuid.New()}); err == nil {
		t.Fatal("expected error")
	}
}
