package channel

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
)

func TestNtfy_Send(t *testing.T) {
	var (
		gotPath    string
		gotBody    string
		gotHeaders http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotHeaders = r.Header.Clone()
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		_, _ = w.Write([]byte(`{"id":"abc","event":"message","topic":"alerts"}`))
	}))
	defer srv.Close()

	ntfy, err := NewNtfy(map[string]any{"server_url": srv.URL, "token": "tk_secret"}, Deps{})
	require.NoError(t, err)

	resp, err := ntfy.Send(context.Background(), "alerts", "Disk full", "90% used", Options{
		Level: "critical",
		URL:   "https://grafana.example/d/1",
		Icon:  "https://example.com/icon.png",
		Group: "warning,disk",
	})
	require.NoError(t, err)

	assert.Equal(t, "/alerts", gotPath)
	assert.Equal(t, "90% used", gotBody)
	assert.Equal(t, "Disk full", gotHeaders.Get("Title"))
	assert.Equal(t, "5", gotHeaders.Get("Priority"))
	assert.Equal(t, "https://grafana.example/d/1", gotHeaders.Get("Click"))
	assert.Equal(t, "https://example.com/icon.png", gotHeaders.Get("Icon"))
	assert.Equal(t, "warning,disk", gotHeaders.Get("Tags"))
	assert.Equal(t, "Bearer tk_secret", gotHeaders.Get("Authorization"))

	body, ok := resp["response"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "abc", body["id"])
}

func TestNtfy_Priority(t *testing.T) {
	tests := []struct {
		level string
		want  string
	}{
		{"critical", "5"},
		{"active", "4"},
		{"timeSensitive", "3"},
		{"passive", "1"},
		{"loud", "3"},
	}

	for _, tt := range tests {
		t.Run("level="+tt.level, func(t *testing.T) {
			var got string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = r.Header.Get("Priority")
			}))
			defer srv.Close()

			ntfy, err := NewNtfy(map[string]any{"server_url": srv.URL}, Deps{})
			require.NoError(t, err)
			_, err = ntfy.Send(context.Background(), "t", "title", "body", Options{Level: tt.level})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNtfy_NoLevelOmitsPriority(t *testing.T) {
	var (
		sawPriority bool
		hits        int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		_, sawPriority = r.Header["Priority"]
	}))
	defer srv.Close()

	ntfy, err := NewNtfy(map[string]any{"server_url": srv.URL}, Deps{})
	require.NoError(t, err)
	_, err = ntfy.Send(context.Background(), "t", "title", "body", Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, hits)
	assert.False(t, sawPriority, "no Priority header without a level")
}

// A non-ASCII title travels as its UTF-8 octets; a receiver that reads the
// header as ISO-8859-1 and re-encodes it gets the original text back.
func TestNtfy_NonASCIITitleRoundTrip(t *testing.T) {
	titles := []string{"服务告警 🚨", "Prüfung fehlgeschlagen", "plain ascii"}

	for _, title := range titles {
		t.Run(title, func(t *testing.T) {
			var raw string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				raw = r.Header.Get("Title")
			}))
			defer srv.Close()

			ntfy, err := NewNtfy(map[string]any{"server_url": srv.URL}, Deps{})
			require.NoError(t, err)
			_, err = ntfy.Send(context.Background(), "topic", title, "body", Options{})
			require.NoError(t, err)

			assert.Equal(t, title, raw)

			asLatin1, err := charmap.ISO8859_1.NewDecoder().String(raw)
			require.NoError(t, err)
			back, err := charmap.ISO8859_1.NewEncoder().String(asLatin1)
			require.NoError(t, err)
			assert.Equal(t, title, back)
		})
	}
}

func TestNtfy_HeaderInjectionStripped(t *testing.T) {
	var title string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		title = r.Header.Get("Title")
	}))
	defer srv.Close()

	ntfy, err := NewNtfy(map[string]any{"server_url": srv.URL}, Deps{})
	require.NoError(t, err)
	_, err = ntfy.Send(context.Background(), "topic", "line1\r\nX-Evil: 1", "body", Options{})
	require.NoError(t, err)
	assert.Equal(t, "line1  X-Evil: 1", title)
}

func TestNtfy_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ntfy, err := NewNtfy(map[string]any{"server_url": srv.URL}, Deps{Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	_, err = ntfy.Send(context.Background(), "topic", "t", "c", Options{})
	var de *DeliveryError
	require.True(t, errors.As(err, &de), "want *DeliveryError, got %v", err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
