package logger

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	cases := []struct {
		env       string
		wantDebug bool
	}{
		{"production", false},
		{"development", true},
		{"", true},
	}
	for _, tc := range cases {
		logger, err := New(tc.env)
		if err != nil {
			t.Fatalf("New(%q): %v", tc.env, err)
		}
		if got := logger.Core().Enabled(zapcore.DebugLevel); got != tc.wantDebug {
			t.Fatalf("New(%q) debug enabled = %v, want %v", tc.env, got, tc.wantDebug)
		}
		if !logger.Core().Enabled(zapcore.InfoLevel) {
			t.Fatalf("New(%q) should log info", tc.env)
		}
	}
}
