package channel

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/db"
)

// ntfyPriority maps interruption levels onto ntfy's 1..5 priority scale.
var ntfyPriority = map[string]int{
	"critical":      5,
	"active":        4,
	"timeSensitive": 3,
	"passive":       1,
}

const ntfyDefaultPriority = 3

// Ntfy publishes the content as the raw body of a POST to {server_url}/{topic}.
type Ntfy struct {
	serverURL string
	token     string
	client    *http.Client
	timeout   time.Duration
	logger    *zap.Logger
}

// NewNtfy builds an ntfy adapter. Config: server_url, optional token.
func NewNtfy(cfg map[string]any, deps Deps) (*Ntfy, error) {
	if err := ValidateConfig(db.KindNtfy, cfg); err != nil {
		return nil, err
	}
	deps = deps.withDefaults()
	return &Ntfy{
		serverURL: strings.TrimRight(configString(cfg, "server_url"), "/"),
		token:     configString(cfg, "token"),
		client:    deps.HTTPClient,
		timeout:   deps.Timeout,
		logger:    deps.Logger,
	}, nil
}

// headerValue makes s safe as a single header value. Non-ASCII text is kept
// as raw UTF-8 octets, which latin-1 readers decode byte for byte.
func headerValue(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\r' || r == '\n' {
			return ' '
		}
		return r
	}, s)
}

// Send publishes one message to topic.
func (n *Ntfy) Send(ctx context.Context, topic, title, content string, opts Options) (Response, error) {
	endpoint := n.serverURL + "/" + url.PathEscape(topic)
	req, err := http.NewRequest(http.MethodPost, endpoint, strings.NewReader(content))
	if err != nil {
		return nil, &DeliveryError{Kind: db.KindNtfy, Message: "build request", Err: err}
	}

	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if title != "" {
		req.Header.Set("Title", headerValue(title))
	}

	// Without a level the server applies its own default.
	if opts.Level != "" {
		priority := ntfyDefaultPriority
		if p, ok := ntfyPriority[opts.Level]; ok {
			priority = p
		}
		req.Header.Set("Priority", strconv.Itoa(priority))
	}

	if opts.URL != "" {
		req.Header.Set("Click", headerValue(opts.URL))
	}
	if opts.Icon != "" {
		req.Header.Set("Icon", headerValue(opts.Icon))
	}
	if opts.Group != "" {
		req.Header.Set("Tags", headerValue(opts.Group))
	}
	if n.token != "" {
		req.Header.Set("Authorization", "Bearer "+n.token)
	}

	res, err := doRequest(ctx, n.client, n.timeout, db.KindNtfy, req)
	if err != nil {
		n.logger.Warn("ntfy publish failed", zap.String("topic", topic), zap.Error(err))
		return nil, err
	}

	n.logger.Debug("ntfy message published", zap.String("topic", topic), zap.Int("status_code", res.StatusCode))
	return Response{
		"success":     true,
		"status_code": res.StatusCode,
		"response":    res.decoded(),
	}, nil
}
