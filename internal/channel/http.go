package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lalithlochan/beacon/internal/db"
)

const (
	userAgent       = "Beacon/1.0"
	maxResponseBody = 64 << 10
)

// httpResult is the upstream answer to one adapter request.
type httpResult struct {
	StatusCode int
	Body       []byte
}

// decoded returns the body as JSON when it parses, else as a string.
func (r httpResult) decoded() any {
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return map[string]any{}
	}
	var v any
	if err := json.Unmarshal(r.Body, &v); err == nil {
		return v
	}
	return string(r.Body)
}

// doRequest sends req with the adapter timeout applied and maps transport
// failures and non-2xx statuses to *DeliveryError.
func doRequest(ctx context.Context, client *http.Client, timeout time.Duration, kind db.ChannelKind, req *http.Request) (httpResult, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req = req.WithContext(ctx)
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return httpResult{}, &DeliveryError{Kind: kind, Message: fmt.Sprintf("timed out after %s", timeout), Err: err}
		}
		return httpResult{}, &DeliveryError{Kind: kind, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	res := httpResult{StatusCode: resp.StatusCode, Body: body}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return res, &DeliveryError{
			Kind:       kind,
			StatusCode: resp.StatusCode,
			Message:    preview(body),
		}
	}
	return res, nil
}

func preview(body []byte) string {
	const limit = 512
	body = bytes.TrimSpace(body)
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}

func newJSONRequest(url string, payload any) (*http.Request, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	return req, nil
}
