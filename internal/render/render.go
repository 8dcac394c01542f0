// Package render substitutes {{key}} placeholders in notification text.
package render

import (
	"fmt"
	"strings"
)

const (
	openDelim  = "{{"
	closeDelim = "}}"
)

// Render replaces every {{key}} in tmpl whose key is present in vars with the
// string form of its value. Placeholders with no matching key are left as
// they are, braces included. Keys match literally, so "{{ name }}" does not
// match "name". Substituted values are not scanned again.
func Render(tmpl string, vars map[string]any) string {
	if len(vars) == 0 || !strings.Contains(tmpl, openDelim) {
		return tmpl
	}

	var b strings.Builder
	b.Grow(len(tmpl))

	i := 0
	for {
		start := strings.Index(tmpl[i:], openDelim)
		if start < 0 {
			break
		}
		start += i

		end := strings.Index(tmpl[start+len(openDelim):], closeDelim)
		if end < 0 {
			break
		}
		end += start + len(openDelim)

		if v, ok := vars[tmpl[start+len(openDelim):end]]; ok {
			b.WriteString(tmpl[i:start])
			b.WriteString(stringify(v))
			i = end + len(closeDelim)
			continue
		}

		// No match here; a placeholder may still begin at the next brace.
		b.WriteString(tmpl[i : start+1])
		i = start + 1
	}

	b.WriteString(tmpl[i:])
	return b.String()
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}
