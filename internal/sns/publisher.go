// Package sns publishes record outcome events to an SNS topic so other
// systems can subscribe to delivery results.
package sns

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/lalithlochan/beacon/internal/record"
)

// API is the subset of the SNS client used here.
type API interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Publisher sends record events to one topic. It satisfies
// record.EventPublisher.
type Publisher struct {
	client   API
	topicARN string
}

// NewPublisher creates an SNS publisher for the given topic. endpoint is
// optional and points the client at e.g. LocalStack.
func NewPublisher(ctx context.Context, topicARN, region, endpoint string) (*Publisher, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := sns.NewFromConfig(cfg, func(o *sns.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return NewPublisherWithClient(client, topicARN), nil
}

// NewPublisherWithClient creates a publisher on an existing client.
func NewPublisherWithClient(client API, topicARN string) *Publisher {
	return &Publisher{client: client, topicARN: topicARN}
}

// Publish sends ev with status and channel attributes so subscriptions can
// filter on them.
func (p *Publisher) Publish(ctx context.Context, ev record.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	attrs := map[string]types.MessageAttributeValue{
		"status": {
			DataType:    aws.String("String"),
			StringValue: aws.String(ev.Status),
		},
	}
	if ev.ChannelID != nil {
		attrs["channel_id"] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(ev.ChannelID.String()),
		}
	}

	input := &sns.PublishInput{
		TopicArn:          aws.String(p.topicARN),
		Message:           aws.String(string(payload)),
		MessageAttributes: attrs,
	}

	if _, err := p.client.Publish(ctx, input); err != nil {
		return fmt.Errorf("failed to publish to SNS: %w", err)
	}
	return nil
}
