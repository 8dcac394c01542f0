package render

import (
	"strings"
	"testing"
)

func TestRender(t *testing.T) {
	tests := []struct {
		name string
		tmpl string
		vars map[string]any
		want string
	}{
		{
			name: "single placeholder",
			tmpl: "Hello {{name}}!",
			vars: map[string]any{"name": "World"},
			want: "Hello World!",
		},
		{
			name: "missing key left verbatim",
			tmpl: "Hello {{name}}, you have {{count}} messages.",
			vars: map[string]any{"name": "Bob"},
			want: "Hello Bob, you have {{count}} messages.",
		},
		{
			name: "repeated placeholder",
			tmpl: "{{x}}-{{x}}-{{x}}",
			vars: map[string]any{"x": "a"},
			want: "a-a-a",
		},
		{
			name: "non-string values",
			tmpl: "{{n}} items, {{ok}}, {{ratio}}",
			vars: map[string]any{"n": 3, "ok": true, "ratio": 0.5},
			want: "3 items, true, 0.5",
		},
		{
			name: "json numbers render without exponent",
			tmpl: "count={{count}}",
			vars: map[string]any{"count": float64(42)},
			want: "count=42",
		},
		{
			name: "whitespace inside braces does not match",
			tmpl: "{{ name }} / {{name}}",
			vars: map[string]any{"name": "x"},
			want: "{{ name }} / x",
		},
		{
			name: "triple braces keep outer brace",
			tmpl: "{{{name}}}",
			vars: map[string]any{"name": "World"},
			want: "{World}",
		},
		{
			name: "unterminated placeholder",
			tmpl: "Hello {{name",
			vars: map[string]any{"name": "World"},
			want: "Hello {{name",
		},
		{
			name: "substituted value not expanded again",
			tmpl: "{{a}}",
			vars: map[string]any{"a": "{{b}}", "b": "nope"},
			want: "{{b}}",
		},
		{
			name: "nil value renders empty",
			tmpl: "[{{v}}]",
			vars: map[string]any{"v": nil},
			want: "[]",
		},
		{
			name: "multibyte text around placeholders",
			tmpl: "你好 {{name}} 🔔",
			vars: map[string]any{"name": "世界"},
			want: "你好 世界 🔔",
		},
		{
			name: "empty template",
			tmpl: "",
			vars: map[string]any{"a": 1},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Render(tt.tmpl, tt.vars); got != tt.want {
				t.Errorf("Render(%q) = %q, want %q", tt.tmpl, got, tt.want)
			}
		})
	}
}

func TestRender_IdentityWithoutPlaceholders(t *testing.T) {
	inputs := []string{"", "plain text", "single { brace }", "}} backwards {{", "100% done"}
	vars := map[string]any{"x": "y"}

	for _, in := range inputs {
		once := Render(in, vars)
		if strings.Contains(in, "{{x}}") {
			continue
		}
		if once != in {
			t.Errorf("Render(%q) = %q, want input unchanged", in, once)
		}
		if twice := Render(once, vars); twice != once {
			t.Errorf("second Render(%q) = %q, want %q", once, twice, once)
		}
	}
}

func TestRender_NilContext(t *testing.T) {
	if got := Render("Hi {{name}}", nil); got != "Hi {{name}}" {
		t.Errorf("Render with nil context = %q", got)
	}
}
