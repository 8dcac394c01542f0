package channel

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/db"
)

// Feishu posts an interactive card to a chat bot webhook.
type Feishu struct {
	webhookURL string
	client     *http.Client
	timeout    time.Duration
	logger     *zap.Logger
}

// NewFeishu builds a feishu adapter. Config: webhook_url, used when the
// target value is empty.
func NewFeishu(cfg map[string]any, deps Deps) (*Feishu, error) {
	if err := ValidateConfig(db.KindFeishu, cfg); err != nil {
		return nil, err
	}
	deps = deps.withDefaults()
	return &Feishu{
		webhookURL: configString(cfg, "webhook_url"),
		client:     deps.HTTPClient,
		timeout:    deps.Timeout,
		logger:     deps.Logger,
	}, nil
}

type feishuText struct {
	Tag     string `json:"tag"`
	Content string `json:"content"`
}

type feishuCard struct {
	Header struct {
		Title feishuText `json:"title"`
	} `json:"header"`
	Elements []any `json:"elements"`
}

type feishuMessage struct {
	MsgType string     `json:"msg_type"`
	Card    feishuCard `json:"card"`
}

func feishuPayload(title, content string, opts Options) feishuMessage {
	text := content
	if opts.Subtitle != "" {
		text = opts.Subtitle + "\n" + content
	}

	msg := feishuMessage{MsgType: "interactive"}
	msg.Card.Header.Title = feishuText{Tag: "plain_text", Content: title}
	msg.Card.Elements = []any{
		map[string]any{
			"tag":  "div",
			"text": feishuText{Tag: "plain_text", Content: text},
		},
	}
	if opts.URL != "" {
		msg.Card.Elements = append(msg.Card.Elements, map[string]any{
			"tag": "action",
			"actions": []any{
				map[string]any{
					"tag":  "button",
					"text": feishuText{Tag: "plain_text", Content: "Open"},
					"url":  opts.URL,
					"type": "primary",
				},
			},
		})
	}
	return msg
}

// Send posts the card to webhook, or to the configured webhook_url when
// webhook is empty. A 2xx reply is only a success when its code is 0.
func (f *Feishu) Send(ctx context.Context, webhook, title, content string, opts Options) (Response, error) {
	target := webhook
	if target == "" {
		target = f.webhookURL
	}

	req, err := newJSONRequest(target, feishuPayload(title, content, opts))
	if err != nil {
		return nil, &DeliveryError{Kind: db.KindFeishu, Err: err}
	}

	res, err := doRequest(ctx, f.client, f.timeout, db.KindFeishu, req)
	if err != nil {
		f.logger.Warn("feishu webhook failed", zap.Error(err))
		return nil, err
	}

	body, ok := res.decoded().(map[string]any)
	if !ok {
		return nil, &DeliveryError{Kind: db.KindFeishu, StatusCode: res.StatusCode, Message: "unexpected response: " + preview(res.Body)}
	}

	code, msg := feishuStatus(body)
	if code != 0 {
		f.logger.Warn("feishu rejected message", zap.Int("code", code), zap.String("msg", msg))
		return nil, &DeliveryError{
			Kind:       db.KindFeishu,
			StatusCode: res.StatusCode,
			Message:    fmt.Sprintf("code %d: %s", code, msg),
		}
	}

	return Response{
		"success":     true,
		"status_code": res.StatusCode,
		"response":    body,
	}, nil
}

// feishuStatus reads the result code from either the current ("code"/"msg")
// or the legacy ("StatusCode"/"StatusMessage") reply shape. A reply with
// neither counts as a failure.
func feishuStatus(body map[string]any) (int, string) {
	if code, ok := body["code"].(float64); ok {
		msg, _ := body["msg"].(string)
		return int(code), msg
	}
	if code, ok := body["StatusCode"].(float64); ok {
		msg, _ := body["StatusMessage"].(string)
		return int(code), msg
	}
	return -1, "response carries no result code"
}
