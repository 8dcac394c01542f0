package db

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ChannelKind identifies the protocol a channel speaks.
type ChannelKind string

// Channel kinds
const (
	KindBark   ChannelKind = "bark"   // push service
	KindNtfy   ChannelKind = "ntfy"   // topic pub/sub
	KindEmail  ChannelKind = "email"  // SMTP
	KindFeishu ChannelKind = "feishu" // chat webhook
)

// TargetType identifies the receiver-side counterpart of a channel kind.
type TargetType string

// Target types
const (
	TargetBarkToken     TargetType = "bark_token"
	TargetNtfyTopic     TargetType = "ntfy_topic"
	TargetEmail         TargetType = "email"
	TargetFeishuWebhook TargetType = "feishu_webhook"
)

// TargetTypeFor maps a channel kind to the target type it delivers to.
func TargetTypeFor(kind ChannelKind) (TargetType, bool) {
	switch kind {
	case KindBark:
		return TargetBarkToken, true
	case KindNtfy:
		return TargetNtfyTopic, true
	case KindEmail:
		return TargetEmail, true
	case KindFeishu:
		return TargetFeishuWebhook, true
	default:
		return "", false
	}
}

// ValidKind reports whether kind is one of the known channel kinds.
func ValidKind(kind ChannelKind) bool {
	_, ok := TargetTypeFor(kind)
	return ok
}

// ValidTargetType reports whether t is one of the known target types.
func ValidTargetType(t TargetType) bool {
	switch t {
	case TargetBarkToken, TargetNtfyTopic, TargetEmail, TargetFeishuWebhook:
		return true
	}
	return false
}

// MaxTargetValueLen bounds Target.Value.
const MaxTargetValueLen = 500

// Record status constants
const (
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusRetry   = "retry" // reserved for a retry scheduler; never entered by the dispatcher
)

// IsTerminal reports whether a record status ends an attempt.
func IsTerminal(status string) bool {
	return status == StatusSuccess || status == StatusFailed
}

// Channel is a configured delivery mechanism of one protocol kind.
type Channel struct {
	ID        uuid.UUID      `json:"id"`
	Name      string         `json:"name"`
	Kind      ChannelKind    `json:"kind"`
	Config    map[string]any `json:"config"`
	Enabled   bool           `json:"enabled"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Target is a receiver address compatible with a channel kind.
// (Type, Value) is unique.
type Target struct {
	ID        uuid.UUID  `json:"id"`
	Alias     string     `json:"alias"`
	Type      TargetType `json:"target_type"`
	Value     string     `json:"target_value"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Template is reusable title/content text bound to one channel.
type Template struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	ChannelID uuid.UUID `json:"channel_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Record is the durable audit row for one delivery attempt.
type Record struct {
	ID           uuid.UUID       `json:"id"`
	TemplateID   *uuid.UUID      `json:"template_id,omitempty"`
	ChannelID    *uuid.UUID      `json:"channel_id,omitempty"`
	TargetID     *uuid.UUID      `json:"target_id,omitempty"`
	Status       string          `json:"status"`
	Response     json.RawMessage `json:"response"`
	ErrorMessage string          `json:"error_message"`
	SendTime     *time.Time      `json:"send_time,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// RecordUpdate carries the mutable fields of a record.
type RecordUpdate struct {
	Status       string
	Response     json.RawMessage
	ErrorMessage string
	SendTime     *time.Time
}

// RecordFilter narrows record listings. Zero values mean "any".
type RecordFilter struct {
	Status     string
	ChannelID  *uuid.UUID
	TemplateID *uuid.UUID
	TargetID   *uuid.UUID
	Limit      int
	Offset     int
}
