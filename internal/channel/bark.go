package channel

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/db"
)

// Bark posts JSON to a bark push server's /push endpoint.
type Bark struct {
	serverURL string
	client    *http.Client
	timeout   time.Duration
	logger    *zap.Logger
}

// NewBark builds a bark adapter. Config: server_url.
func NewBark(cfg map[string]any, deps Deps) (*Bark, error) {
	if err := ValidateConfig(db.KindBark, cfg); err != nil {
		return nil, err
	}
	deps = deps.withDefaults()
	return &Bark{
		serverURL: strings.TrimRight(configString(cfg, "server_url"), "/"),
		client:    deps.HTTPClient,
		timeout:   deps.Timeout,
		logger:    deps.Logger,
	}, nil
}

// barkFields maps option keys to the names bark expects on the wire.
var barkFields = map[string]string{
	"subtitle":   "subtitle",
	"level":      "level",
	"badge":      "badge",
	"sound":      "sound",
	"icon":       "icon",
	"group":      "group",
	"url":        "url",
	"copy":       "copy",
	"auto_copy":  "autoCopy",
	"call":       "call",
	"is_archive": "isArchive",
}

func (b *Bark) payload(deviceKey, title, content string, opts Options) map[string]any {
	payload := make(map[string]any, 16)
	for key, val := range opts.Map() {
		if wire, ok := barkFields[key]; ok {
			payload[wire] = val
			continue
		}
		payload[key] = val
	}
	payload["device_key"] = deviceKey
	payload["title"] = title
	payload["body"] = content
	return payload
}

// Send pushes one notification to deviceKey.
func (b *Bark) Send(ctx context.Context, deviceKey, title, content string, opts Options) (Response, error) {
	req, err := newJSONRequest(b.serverURL+"/push", b.payload(deviceKey, title, content, opts))
	if err != nil {
		return nil, &DeliveryError{Kind: db.KindBark, Err: err}
	}

	res, err := doRequest(ctx, b.client, b.timeout, db.KindBark, req)
	if err != nil {
		b.logger.Warn("bark push failed", zap.String("server", b.serverURL), zap.Error(err))
		return nil, err
	}

	body := res.decoded()
	// bark mirrors the HTTP status in a "code" field; anything but 200 is a rejection.
	if m, ok := body.(map[string]any); ok {
		if code, ok := m["code"].(float64); ok && int(code) != http.StatusOK {
			msg, _ := m["message"].(string)
			return nil, &DeliveryError{Kind: db.KindBark, StatusCode: int(code), Message: msg}
		}
	}

	b.logger.Debug("bark push delivered", zap.String("server", b.serverURL), zap.Int("status_code", res.StatusCode))
	return Response{
		"success":     true,
		"status_code": res.StatusCode,
		"response":    body,
	}, nil
}
