package channel

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeMailer struct {
	sent []message
	err  error
}

func (f *fakeMailer) deliver(ctx context.Context, msg message) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, msg)
	return "<id@example.com>", nil
}

func newFakeEmail(m mailer) *Email {
	return &Email{from: "alerts@example.com", transport: transportSMTP, mailer: m, timeout: time.Second, logger: zap.NewNop()}
}

func TestComposeBody(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want string
	}{
		{"plain", Options{}, "content"},
		{"subtitle", Options{Subtitle: "sub"}, "sub\n\ncontent"},
		{"url", Options{URL: "https://x.example"}, "content\n\n🔗 https://x.example"},
		{"both", Options{Subtitle: "sub", URL: "https://x.example"}, "sub\n\ncontent\n\n🔗 https://x.example"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, composeBody("content", tt.opts))
		})
	}
}

func TestEmail_Send(t *testing.T) {
	m := &fakeMailer{}
	e := newFakeEmail(m)

	resp, err := e.Send(context.Background(), "ops@example.com", "Backup finished", "all good", Options{Subtitle: "nightly"})
	require.NoError(t, err)

	require.Len(t, m.sent, 1)
	assert.Equal(t, message{
		From:    "alerts@example.com",
		To:      "ops@example.com",
		Subject: "Backup finished",
		Body:    "nightly\n\nall good",
	}, m.sent[0])
	assert.Equal(t, "ops@example.com", resp["to"])
	assert.Equal(t, "Backup finished", resp["subject"])
	assert.Equal(t, "<id@example.com>", resp["message_id"])
}

func TestEmail_InvalidRecipient(t *testing.T) {
	m := &fakeMailer{}
	e := newFakeEmail(m)

	_, err := e.Send(context.Background(), "not-an-address", "t", "c", Options{})
	var de *DeliveryError
	require.True(t, errors.As(err, &de))
	assert.Empty(t, m.sent)
}

func TestEmail_TransportErrorIsDeliveryError(t *testing.T) {
	e := newFakeEmail(&fakeMailer{err: errors.New("535 authentication failed")})

	_, err := e.Send(context.Background(), "ops@example.com", "t", "c", Options{})
	var de *DeliveryError
	require.True(t, errors.As(err, &de))
	assert.Contains(t, de.Error(), "535")
}

func TestBuildMessage(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	raw, err := buildMessage(message{
		From:    "alerts@example.com",
		To:      "ops@example.com",
		Subject: "磁盘告警",
		Body:    "line one\nline two",
	}, "<x@example.com>", now)
	require.NoError(t, err)

	s := string(raw)
	head, body, ok := strings.Cut(s, "\r\n\r\n")
	require.True(t, ok)

	assert.Contains(t, head, "From: alerts@example.com\r\n")
	assert.Contains(t, head, "To: ops@example.com\r\n")
	assert.Contains(t, head, "Subject: =?utf-8?q?")
	assert.Contains(t, head, "Message-ID: <x@example.com>")
	assert.Contains(t, head, "Content-Transfer-Encoding: quoted-printable")
	assert.Equal(t, "line one\r\nline two", body)
}

func TestMessageID(t *testing.T) {
	assert.True(t, strings.HasSuffix(messageID("alerts@example.com"), "@example.com>"))
	assert.True(t, strings.HasSuffix(messageID("nobody"), "@beacon.local>"))
}

type fakeSES struct {
	input *ses.SendEmailInput
}

func (f *fakeSES) SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	f.input = params
	return &ses.SendEmailOutput{MessageId: aws.String("ses-123")}, nil
}

func TestEmail_SESTransport(t *testing.T) {
	client := &fakeSES{}
	var regions []string
	deps := Deps{NewSES: func(ctx context.Context, region string) (SESAPI, error) {
		regions = append(regions, region)
		return client, nil
	}}

	reg := NewDefaultRegistry(deps)
	f, err := reg.Resolve("email")
	require.NoError(t, err)

	cfg := map[string]any{"transport": "ses", "region": "eu-west-1", "from_email": "alerts@example.com"}
	for i := 0; i < 2; i++ {
		a, err := f(cfg)
		require.NoError(t, err)

		resp, err := a.Send(context.Background(), "ops@example.com", "Subject", "Body", Options{URL: "https://x"})
		require.NoError(t, err)
		assert.Equal(t, "ses-123", resp["message_id"])
		assert.Equal(t, "ses", resp["transport"])
	}

	assert.Equal(t, []string{"eu-west-1"}, regions, "client built once per region")
	assert.Equal(t, "alerts@example.com", aws.ToString(client.input.Source))
	assert.Equal(t, []string{"ops@example.com"}, client.input.Destination.ToAddresses)
	assert.Equal(t, "Body\n\n🔗 https://x", aws.ToString(client.input.Message.Body.Text.Data))
}
