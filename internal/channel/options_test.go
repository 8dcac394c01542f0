package channel

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptions_UnmarshalJSON(t *testing.T) {
	var opts Options
	err := json.Unmarshal([]byte(`{
		"subtitle": "sub",
		"level": "critical",
		"badge": 3,
		"url": "https://example.com",
		"auto_copy": true,
		"is_archive": "1",
		"ttl": 60,
		"markdown": true,
		"sound": null
	}`), &opts)
	require.NoError(t, err)

	assert.Equal(t, "sub", opts.Subtitle)
	assert.Equal(t, "critical", opts.Level)
	require.NotNil(t, opts.Badge)
	assert.Equal(t, 3, *opts.Badge)
	assert.Equal(t, "https://example.com", opts.URL)
	assert.Equal(t, "1", opts.AutoCopy)
	assert.Equal(t, "1", opts.IsArchive)
	assert.Empty(t, opts.Sound)
	assert.Equal(t, map[string]any{"ttl": float64(60), "markdown": true}, opts.Extra)
}

func TestOptions_BadgeAsString(t *testing.T) {
	var opts Options
	require.NoError(t, json.Unmarshal([]byte(`{"badge":"7"}`), &opts))
	require.NotNil(t, opts.Badge)
	assert.Equal(t, 7, *opts.Badge)

	err := json.Unmarshal([]byte(`{"badge":"many"}`), &opts)
	assert.Error(t, err)
}

func TestOptions_MarshalKeepsExtra(t *testing.T) {
	badge := 2
	in := Options{Group: "ops", Badge: &badge, Extra: map[string]any{"ttl": 30}}

	buf, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"group":"ops","badge":2,"ttl":30}`, string(buf))

	var out Options
	require.NoError(t, json.Unmarshal(buf, &out))
	assert.Equal(t, "ops", out.Group)
	assert.Equal(t, 2, *out.Badge)
	assert.Equal(t, float64(30), out.Extra["ttl"])
}
