package logger

import (
	"context"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{" info ", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewRespectsLevel(t *testing.T) {
	log, level := New(Config{Level: "error"})
	ctx := context.Background()
	if log.Enabled(ctx, slog.LevelWarn) {
		t.Error("warn should be disabled at error level")
	}
	if !log.Enabled(ctx, slog.LevelError) {
		t.Error("error should be enabled at error level")
	}

	level.Set(slog.LevelDebug)
	if !log.Enabled(ctx, slog.LevelDebug) {
		t.Error("debug should be enabled after retuning the level var")
	}
}
