package channel

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Options are the optional presentation hints a send may carry. Each adapter
// uses the ones its protocol understands and ignores the rest. Unknown keys
// survive a JSON round trip through Extra.
type Options struct {
	Subtitle  string
	Level     string // critical, active, timeSensitive or passive
	Badge     *int
	Sound     string
	Icon      string
	Group     string
	URL       string
	Copy      string
	AutoCopy  string
	Call      string
	IsArchive string
	Extra     map[string]any
}

var optionKeys = map[string]func(o *Options) *string{
	"subtitle":   func(o *Options) *string { return &o.Subtitle },
	"level":      func(o *Options) *string { return &o.Level },
	"sound":      func(o *Options) *string { return &o.Sound },
	"icon":       func(o *Options) *string { return &o.Icon },
	"group":      func(o *Options) *string { return &o.Group },
	"url":        func(o *Options) *string { return &o.URL },
	"copy":       func(o *Options) *string { return &o.Copy },
	"auto_copy":  func(o *Options) *string { return &o.AutoCopy },
	"call":       func(o *Options) *string { return &o.Call },
	"is_archive": func(o *Options) *string { return &o.IsArchive },
}

// UnmarshalJSON decodes known keys into typed fields and everything else into Extra.
func (o *Options) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*o = Options{}

	for key, val := range raw {
		if val == nil {
			continue
		}
		if field, ok := optionKeys[key]; ok {
			*field(o) = scalarString(val)
			continue
		}
		if key == "badge" {
			n, err := badgeValue(val)
			if err != nil {
				return err
			}
			o.Badge = &n
			continue
		}
		if o.Extra == nil {
			o.Extra = make(map[string]any)
		}
		o.Extra[key] = val
	}
	return nil
}

// MarshalJSON writes the set fields and Extra as one flat object.
func (o Options) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.Map())
}

// Map flattens the options into snake_case keys, skipping unset fields.
func (o Options) Map() map[string]any {
	out := make(map[string]any, len(o.Extra)+len(optionKeys))
	for k, v := range o.Extra {
		out[k] = v
	}
	for key, field := range optionKeys {
		if v := *field(&o); v != "" {
			out[key] = v
		}
	}
	if o.Badge != nil {
		out["badge"] = *o.Badge
	}
	return out
}

func scalarString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		if val {
			return "1"
		}
		return "0"
	default:
		return fmt.Sprint(val)
	}
}

func badgeValue(v any) (int, error) {
	switch val := v.(type) {
	case float64:
		return int(val), nil
	case string:
		n, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("badge must be an integer: %q", val)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("badge must be an integer, got %T", v)
	}
}
