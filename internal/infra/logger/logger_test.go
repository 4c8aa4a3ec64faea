package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"wikichat/internal/domain"
	"wikichat/internal/infra/config"
)

func TestJSONHandlerRedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(newHandler(&buf, config.LoggerConfig{Level: "info", Format: "json"}))

	log.Info("provider ready", "provider", "openai", "api_key", "sk-secret", "password", "hunter2")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid JSON: %v, output: %s", err, buf.String())
	}
	if entry["msg"] != "provider ready" {
		t.Errorf("msg = %q, want %q", entry["msg"], "provider ready")
	}
	if entry["api_key"] != "[REDACTED]" || entry["password"] != "[REDACTED]" {
		t.Errorf("secrets not redacted: %s", buf.String())
	}
	if entry["provider"] != "openai" {
		t.Errorf("provider = %v", entry["provider"])
	}
}

func TestTextHandlerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(newHandler(&buf, config.LoggerConfig{Level: "warn", Format: "text"}))

	log.Info("hidden")
	log.Warn("shown", "tool", "wikipedia")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, "tool=wikipedia") {
		t.Errorf("expected text-format attr, got: %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestOpenOutputStreams(t *testing.T) {
	for name, want := range map[string]*os.File{"stdout": os.Stdout, "stderr": os.Stderr, "": os.Stderr} {
		w, closer, err := openOutput(name)
		if err != nil {
			t.Fatalf("openOutput(%q): %v", name, err)
		}
		if w != want {
			t.Errorf("openOutput(%q) returned wrong stream", name)
		}
		closer()
	}
}

func TestNewFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wikichat.log")
	log, closer, err := New(config.LoggerConfig{Level: "debug", Format: "json", Output: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Debug("written to file", "session_id", "abc")
	if err := closer(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "written to file") {
		t.Errorf("log file missing entry: %s", data)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("log file mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestNewBadPath(t *testing.T) {
	_, _, err := New(config.LoggerConfig{Output: filepath.Join(t.TempDir(), "missing", "dir", "x.log")})
	if err == nil {
		t.Fatal("expected error for unwritable path")
	}
}

func TestMaskSecretSuffixes(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(newHandler(&buf, config.LoggerConfig{Format: "text"}))
	log.Info("sql ready", "db_password", "pw", "openai_api_key", "sk", "dsn", "user:pw@tcp(db)/x", "dialect", "mysql")

	out := buf.String()
	for _, leaked := range []string{"=pw", "=sk", "tcp(db)"} {
		if strings.Contains(out, leaked) {
			t.Errorf("secret %q leaked: %s", leaked, out)
		}
	}
	if !strings.Contains(out, "dialect=mysql") {
		t.Errorf("plain attr missing: %s", out)
	}
}

func TestContextIDsAreAttached(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(newHandler(&buf, config.LoggerConfig{Format: "json"})).With("component", "agent")

	ctx := domain.ContextWithTurnID(domain.ContextWithSessionID(context.Background(), "web:01J"), "turn-7")
	log.InfoContext(ctx, "routed")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if entry["session_id"] != "web:01J" || entry["turn_id"] != "turn-7" || entry["component"] != "agent" {
		t.Errorf("entry = %v", entry)
	}
	if _, ok := entry["trace_id"]; ok {
		t.Error("no span in context, trace_id should be absent")
	}
}
