package channel

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lalithlochan/beacon/internal/db"
)

// requiredKeys lists the config keys each kind needs before it can send.
var requiredKeys = map[db.ChannelKind][]string{
	db.KindBark:   {"server_url"},
	db.KindNtfy:   {"server_url"},
	db.KindEmail:  {"host", "port", "username", "password", "from_email"},
	db.KindFeishu: {"webhook_url"},
}

// sesRequiredKeys applies to email channels with transport "ses".
var sesRequiredKeys = []string{"from_email"}

// ValidateConfig checks that cfg carries every key kind requires. It returns
// ErrUnsupportedKind for unknown kinds and a *ConfigError listing the missing
// keys otherwise.
func ValidateConfig(kind db.ChannelKind, cfg map[string]any) error {
	keys, ok := requiredKeys[kind]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedKind, kind)
	}
	if kind == db.KindEmail && strings.EqualFold(configString(cfg, "transport"), transportSES) {
		keys = sesRequiredKeys
	}

	var missing []string
	for _, key := range keys {
		if configString(cfg, key) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return &ConfigError{Kind: kind, Missing: missing}
	}
	return nil
}

// configString reads key as a string. JSON numbers and booleans are
// formatted; absent and null values give "".
func configString(cfg map[string]any, key string) string {
	v, ok := cfg[key]
	if !ok || v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}

func configInt(cfg map[string]any, key string, def int) (int, error) {
	s := configString(cfg, key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("config %s must be an integer: %q", key, s)
	}
	return n, nil
}

func configBool(cfg map[string]any, key string, def bool) bool {
	v, ok := cfg[key]
	if !ok || v == nil {
		return def
	}
	switch val := v.(type) {
	case bool:
		return val
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(val))
		if err != nil {
			return def
		}
		return b
	case float64:
		return val != 0
	default:
		return def
	}
}
