package main

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/channel"
	"github.com/lalithlochan/beacon/internal/db"
)

const sample = `
channels:
  - name: ops-ntfy
    kind: ntfy
    config:
      server_url: https://ntfy.example
  - name: mail
    kind: email
    enabled: false
    config:
      host: smtp.example.com
      port: 465
      username: bot
      password: secret
      from_email: bot@example.com
targets:
  - alias: oncall
    type: ntfy_topic
    value: oncall
  - alias: ops inbox
    type: email
    value: ops@example.com
templates:
  - name: deploy
    channel: ops-ntfy
    title: "Deploy {{env}}"
    content: "{{service}} is live"
`

type fakeStore struct {
	channels  []*db.Channel
	targets   []*db.Target
	templates []*db.Template
	dupValues map[string]bool
}

func (s *fakeStore) CreateChannel(ctx context.Context, ch *db.Channel) error {
	ch.ID = uuid.New()
	s.channels = append(s.channels, ch)
	return nil
}

func (s *fakeStore) CreateTarget(ctx context.Context, t *db.Target) error {
	if s.dupValues[t.Value] {
		return db.ErrDuplicate
	}
	t.ID = uuid.New()
	s.targets = append(s.targets, t)
	return nil
}

func (s *fakeStore) CreateTemplate(ctx context.Context, t *db.Template) error {
	t.ID = uuid.New()
	s.templates = append(s.templates, t)
	return nil
}

func TestParse(t *testing.T) {
	f, err := parse([]byte(sample))
	require.NoError(t, err)

	require.Len(t, f.Channels, 2)
	assert.Equal(t, "https://ntfy.example", f.Channels[0].Config["server_url"])
	// Numbers come through JSON as float64, like API-created configs.
	assert.Equal(t, float64(465), f.Channels[1].Config["port"])
	require.NotNil(t, f.Channels[1].Enabled)
	assert.False(t, *f.Channels[1].Enabled)

	assert.Len(t, f.Targets, 2)
	assert.Equal(t, "ops-ntfy", f.Templates[0].Channel)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not yaml", "channels: [unclosed"},
		{"unknown key", "channels:\n  - name: a\n    kind: ntfy\n    colour: red\n"},
		{"missing config", "channels:\n  - name: a\n    kind: ntfy\n"},
		{"unknown kind", "channels:\n  - name: a\n    kind: pager\n    config: {x: 1}\n"},
		{"duplicate channel", "channels:\n  - {name: a, kind: ntfy, config: {server_url: x}}\n  - {name: a, kind: ntfy, config: {server_url: y}}\n"},
		{"bad target type", "targets:\n  - {alias: a, type: sms, value: '1'}\n"},
		{"template without channel", "templates:\n  - {name: t, channel: nope, title: a, content: b}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parse([]byte(tt.doc))
			assert.Error(t, err)
		})
	}

	_, err := parse([]byte("channels:\n  - name: a\n    kind: ntfy\n"))
	var cfgErr *channel.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestApply(t *testing.T) {
	f, err := parse([]byte(sample))
	require.NoError(t, err)

	store := &fakeStore{dupValues: map[string]bool{"ops@example.com": true}}
	sum, err := apply(context.Background(), store, f, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, Summary{Channels: 2, Targets: 1, Templates: 1, Skipped: 1}, sum)
	assert.True(t, store.channels[0].Enabled)
	assert.False(t, store.channels[1].Enabled)
	require.Len(t, store.templates, 1)
	assert.Equal(t, store.channels[0].ID, store.templates[0].ChannelID)
}
