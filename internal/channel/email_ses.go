package channel

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// SESAPI is the subset of the SES client the email adapter uses.
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

func newSESClient(ctx context.Context, region string) (SESAPI, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config: %w", err)
	}
	return ses.NewFromConfig(awsCfg), nil
}

// sesCache keeps one SES client per region so adapters built per send
// reuse connections.
type sesCache struct {
	mu      sync.Mutex
	build   func(ctx context.Context, region string) (SESAPI, error)
	clients map[string]SESAPI
}

func newSESCache(build func(ctx context.Context, region string) (SESAPI, error)) *sesCache {
	return &sesCache{build: build, clients: make(map[string]SESAPI)}
}

func (c *sesCache) get(ctx context.Context, region string) (SESAPI, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if client, ok := c.clients[region]; ok {
		return client, nil
	}
	client, err := c.build(ctx, region)
	if err != nil {
		return nil, err
	}
	c.clients[region] = client
	return client, nil
}

type sesMailer struct {
	client SESAPI
}

func (m *sesMailer) deliver(ctx context.Context, msg message) (string, error) {
	input := &ses.SendEmailInput{
		Source: aws.String(msg.From),
		Destination: &types.Destination{
			ToAddresses: []string{msg.To},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(msg.Subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(msg.Body),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	out, err := m.client.SendEmail(ctx, input)
	if err != nil {
		return "", fmt.Errorf("ses send failed: %w", err)
	}
	return aws.ToString(out.MessageId), nil
}
