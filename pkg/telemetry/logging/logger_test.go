package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"valid JSON config", Config{Level: "info", Format: "json"}, false},
		{"valid text config", Config{Level: "debug", Format: "text"}, false},
		{"empty config uses defaults", Config{}, false},
		{"invalid log level", Config{Level: "invalid"}, true},
		{"invalid format", Config{Level: "info", Format: "invalid"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Expected error=%v, got %v", tt.wantErr, err)
			}
			if !tt.wantErr && logger == nil {
				t.Error("Expected logger")
			}
		})
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := New(Config{Level: "warn", Format: "json", Writer: &buf})

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("Expected info message to be filtered")
	}
	if !strings.Contains(out, "shown") {
		t.Error("Expected warn message to be written")
	}
}

func TestLogger_ContextFields(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := New(Config{Level: "info", Format: "json", Writer: &buf})

	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithTenant(ctx, "acme")
	ctx = WithUser(ctx, "u1")

	logger.With("component", "test").InfoContext(ctx, "Admitted")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("Expected JSON output, got %q: %v", buf.String(), err)
	}
	for key, want := range map[string]string{
		"request_id": "req-1",
		"tenant_id":  "acme",
		"user_id":    "u1",
		"component":  "test",
	} {
		if rec[key] != want {
			t.Errorf("Expected %s=%q, got %v", key, want, rec[key])
		}
	}
}

func TestLogger_Redaction(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := New(Config{Level: "info", Format: "text", Writer: &buf})

	logger.Info("Connecting", "password", "hunter2", "addr", "redis:6379")

	out := buf.String()
	if strings.Contains(out, "hunter2") {
		t.Errorf("Expected password to be redacted, got %q", out)
	}
	if !strings.Contains(out, Redacted) || !strings.Contains(out, "redis:6379") {
		t.Errorf("Expected redaction marker and other fields, got %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q): expected %v, got %v (%v)", in, want, got, err)
		}
	}
}

func TestContextAccessors(t *testing.T) {
	ctx := context.Background()
	if GetRequestID(ctx) != "" || GetTenant(ctx) != "" || GetUser(ctx) != "" {
		t.Error("Expected empty values on bare context")
	}

	ctx = WithTenant(ctx, "acme")
	if GetTenant(ctx) != "acme" {
		t.Errorf("Expected tenant acme, got %q", GetTenant(ctx))
	}
	if len(contextFields(ctx)) != 1 {
		t.Errorf("Expected one context field, got %v", contextFields(ctx))
	}
}
