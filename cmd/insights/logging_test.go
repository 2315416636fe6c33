package main

import (
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := parseLogLevel(tt.in); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRedactURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"no credentials", "redis://localhost:6379/0", "redis://localhost:6379/0"},
		{"user and password", "postgres://insights:s3cret@db:5432/insights", "postgres://insights@db:5432/insights"},
		{"password only", "redis://:s3cret@cache:6379", "redis://redacted@cache:6379"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := redactURL(tt.in); got != tt.want {
				t.Errorf("redactURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSanitizeError(t *testing.T) {
	dsn := "postgres://insights:s3cret@db:5432/insights"
	err := errors.New("dial " + dsn + ": refused (password=s3cret)")

	got := sanitizeError(err, dsn, "")
	if strings.Contains(got, "s3cret") {
		t.Errorf("sanitizeError leaked the secret: %q", got)
	}
	if !strings.Contains(got, "postgres://insights@db:5432/insights") {
		t.Errorf("sanitizeError = %q, want redacted URL kept", got)
	}

	if sanitizeError(nil) != "" {
		t.Error("sanitizeError(nil) should be empty")
	}
}
