package observ

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"WARN", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"", zapcore.InfoLevel},
		{"loud", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLogger(t *testing.T) {
	prod, err := NewLogger("production", "warn")
	if err != nil {
		t.Fatalf("production logger: %v", err)
	}
	if prod.Core().Enabled(zapcore.InfoLevel) {
		t.Error("warn logger should not log info")
	}

	dev, err := NewLogger("development", "debug")
	if err != nil {
		t.Fatalf("development logger: %v", err)
	}
	if !dev.Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug logger should log debug")
	}
}
