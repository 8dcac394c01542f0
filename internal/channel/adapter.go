// Package channel holds the protocol adapters that turn a rendered
// notification into one outbound call, and the registry that maps a
// channel kind to its adapter.
package channel

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lalithlochan/beacon/internal/db"
)

// Adapter delivers one rendered notification to one target.
// Implementations make exactly one outbound call per Send.
type Adapter interface {
	Send(ctx context.Context, target, title, content string, opts Options) (Response, error)
}

// Factory builds an adapter from a channel's stored config. It validates
// the config first and returns a *ConfigError when required keys are missing.
type Factory func(config map[string]any) (Adapter, error)

// Response is the upstream result persisted on the record.
type Response map[string]any

// ErrUnsupportedKind is returned by the registry for kinds it has no factory for.
var ErrUnsupportedKind = errors.New("unsupported channel kind")

// ConfigError reports required config keys that are absent or empty.
type ConfigError struct {
	Kind    db.ChannelKind
	Missing []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s channel config missing required keys: %s", e.Kind, strings.Join(e.Missing, ", "))
}

// DeliveryError is a failed outbound call: transport error, non-2xx status
// or an application-level rejection in a 2xx body.
type DeliveryError struct {
	Kind       db.ChannelKind
	StatusCode int
	Message    string
	Err        error
}

func (e *DeliveryError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s delivery failed", e.Kind)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *DeliveryError) Unwrap() error { return e.Err }
