package sqs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/queue"
)

// Long polling settings for ReceiveMessage.
const (
	waitTimeSeconds   = 20
	visibilityTimeout = 60
)

// Consumer reads jobs from SQS.
type Consumer struct {
	client   API
	queueURL string
	logger   *zap.Logger
}

// NewConsumer creates a new SQS consumer.
func NewConsumer(client API, queueURL string, logger *zap.Logger) *Consumer {
	logger.Info("sqs consumer initialized",
		zap.String("queue_url", queueURL),
	)
	return &Consumer{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
	}
}

// Receive retrieves one job with long polling. It returns (nil, nil) when
// the poll window passes without a message. Malformed messages are deleted
// so they are not redelivered forever.
func (c *Consumer) Receive(ctx context.Context) (*queue.Delivery, error) {
	input := &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     waitTimeSeconds,
		VisibilityTimeout:   visibilityTimeout,
	}

	result, err := c.client.ReceiveMessage(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("sqs receive failed: %w", err)
	}

	if len(result.Messages) == 0 {
		return nil, nil
	}

	msg := result.Messages[0]
	handle := aws.ToString(msg.ReceiptHandle)

	var job queue.Job
	if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &job); err != nil {
		c.logger.Error("failed to unmarshal message, dropping it",
			zap.String("message_id", aws.ToString(msg.MessageId)),
			zap.Error(err),
		)
		if delErr := c.DeleteMessage(ctx, handle); delErr != nil {
			c.logger.Warn("failed to drop malformed message", zap.Error(delErr))
		}
		return nil, fmt.Errorf("invalid message format: %w", err)
	}

	return &queue.Delivery{
		Job: job,
		Ack: func(ctx context.Context) error { return c.DeleteMessage(ctx, handle) },
	}, nil
}

// DeleteMessage removes a message from SQS after successful processing.
func (c *Consumer) DeleteMessage(ctx context.Context, receiptHandle string) error {
	input := &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	}

	if _, err := c.client.DeleteMessage(ctx, input); err != nil {
		return fmt.Errorf("sqs delete failed: %w", err)
	}
	return nil
}

// ChangeVisibility extends the visibility timeout for a message.
func (c *Consumer) ChangeVisibility(ctx context.Context, receiptHandle string, seconds int32) error {
	input := &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(c.queueURL),
		ReceiptHandle:     aws.String(receiptHandle),
		VisibilityTimeout: seconds,
	}

	if _, err := c.client.ChangeMessageVisibility(ctx, input); err != nil {
		return fmt.Errorf("sqs change visibility failed: %w", err)
	}
	return nil
}
