package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
	yaml "go.yaml.in/yaml/v3"

	"github.com/lalithlochan/beacon/internal/channel"
	"github.com/lalithlochan/beacon/internal/db"
)

// File is the seed document. Templates name their channel by Name.
type File struct {
	Channels  []ChannelSeed  `json:"channels"`
	Targets   []TargetSeed   `json:"targets"`
	Templates []TemplateSeed `json:"templates"`
}

type ChannelSeed struct {
	Name    string         `json:"name"`
	Kind    string         `json:"kind"`
	Config  map[string]any `json:"config"`
	Enabled *bool          `json:"enabled"`
}

type TargetSeed struct {
	Alias string `json:"alias"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

type TemplateSeed struct {
	Name    string `json:"name"`
	Channel string `json:"channel"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Store is the subset of the repository seeding writes to.
type Store interface {
	CreateChannel(ctx context.Context, ch *db.Channel) error
	CreateTarget(ctx context.Context, t *db.Target) error
	CreateTemplate(ctx context.Context, t *db.Template) error
}

// Summary counts what a seed run created and skipped.
type Summary struct {
	Channels  int
	Targets   int
	Templates int
	Skipped   int
}

// parse decodes YAML into File. The document goes through JSON so config
// values get the same types the API stores, and unknown keys are rejected.
func parse(data []byte) (*File, error) {
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}

	j, err := json.Marshal(normalizeYAML(v))
	if err != nil {
		return nil, fmt.Errorf("yaml->json marshal: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(j))
	dec.DisallowUnknownFields()
	var f File
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	return &f, f.validate()
}

func (f *File) validate() error {
	names := make(map[string]bool, len(f.Channels))
	for i, ch := range f.Channels {
		if ch.Name == "" {
			return fmt.Errorf("channels[%d]: name is required", i)
		}
		if names[ch.Name] {
			return fmt.Errorf("channels[%d]: duplicate name %q", i, ch.Name)
		}
		names[ch.Name] = true
		if err := channel.ValidateConfig(db.ChannelKind(ch.Kind), ch.Config); err != nil {
			return fmt.Errorf("channel %q: %w", ch.Name, err)
		}
	}

	for i, t := range f.Targets {
		if t.Alias == "" || t.Value == "" {
			return fmt.Errorf("targets[%d]: alias and value are required", i)
		}
		if !db.ValidTargetType(db.TargetType(t.Type)) {
			return fmt.Errorf("targets[%d]: unknown type %q", i, t.Type)
		}
		if len(t.Value) > db.MaxTargetValueLen {
			return fmt.Errorf("targets[%d]: value longer than %d", i, db.MaxTargetValueLen)
		}
	}

	for i, t := range f.Templates {
		if t.Name == "" || t.Title == "" || t.Content == "" {
			return fmt.Errorf("templates[%d]: name, title and content are required", i)
		}
		if !names[t.Channel] {
			return fmt.Errorf("template %q: unknown channel %q", t.Name, t.Channel)
		}
	}
	return nil
}

// apply writes f in dependency order. Targets and templates that already
// exist are skipped.
func apply(ctx context.Context, store Store, f *File, logger *zap.Logger) (Summary, error) {
	var sum Summary
	channelIDs := make(map[string]*db.Channel, len(f.Channels))

	for _, cs := range f.Channels {
		ch := &db.Channel{Name: cs.Name, Kind: db.ChannelKind(cs.Kind), Config: cs.Config, Enabled: true}
		if cs.Enabled != nil {
			ch.Enabled = *cs.Enabled
		}
		if err := store.CreateChannel(ctx, ch); err != nil {
			return sum, fmt.Errorf("create channel %q: %w", cs.Name, err)
		}
		channelIDs[cs.Name] = ch
		sum.Channels++
		logger.Info("channel created", zap.String("name", ch.Name), zap.String("channel_id", ch.ID.String()))
	}

	for _, ts := range f.Targets {
		t := &db.Target{Alias: ts.Alias, Type: db.TargetType(ts.Type), Value: ts.Value}
		err := store.CreateTarget(ctx, t)
		switch {
		case errors.Is(err, db.ErrDuplicate):
			sum.Skipped++
			logger.Info("target exists, skipping", zap.String("alias", ts.Alias))
		case err != nil:
			return sum, fmt.Errorf("create target %q: %w", ts.Alias, err)
		default:
			sum.Targets++
		}
	}

	for _, ts := range f.Templates {
		t := &db.Template{
			Name:      ts.Name,
			Title:     ts.Title,
			Content:   ts.Content,
			ChannelID: channelIDs[ts.Channel].ID,
		}
		err := store.CreateTemplate(ctx, t)
		switch {
		case errors.Is(err, db.ErrDuplicate):
			sum.Skipped++
			logger.Info("template exists, skipping", zap.String("name", ts.Name))
		case err != nil:
			return sum, fmt.Errorf("create template %q: %w", ts.Name, err)
		default:
			sum.Templates++
		}
	}
	return sum, nil
}

// normalizeYAML ensures all map keys are strings so the result can be JSON-marshaled.
func normalizeYAML(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = normalizeYAML(v)
		}
		return m
	case map[string]any:
		for k, v := range x {
			x[k] = normalizeYAML(v)
		}
		return x
	case []any:
		for i := range x {
			x[i] = normalizeYAML(x[i])
		}
		return x
	default:
		return in
	}
}
