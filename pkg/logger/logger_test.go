package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ledger-core/pkg/config"
)

func TestBuildFields(t *testing.T) {
	var buf bytes.Buffer
	log := build(config.LogConfig{Level: "debug"}, "ledger-core", "test", &buf)
	log.Debug().Str("user_id", "u1").Msg("hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("not json: %q", buf.String())
	}
	if line["service"] != "ledger-core" || line["version"] != "test" || line["user_id"] != "u1" {
		t.Errorf("unexpected fields: %v", line)
	}
}

func TestBuildLevel(t *testing.T) {
	var buf bytes.Buffer
	log := build(config.LogConfig{Level: "warn"}, "svc", "v", &buf)
	log.Info().Msg("dropped")
	if buf.Len() != 0 {
		t.Errorf("info should be filtered at warn: %q", buf.String())
	}

	buf.Reset()
	log = build(config.LogConfig{Level: "nonsense"}, "svc", "v", &buf)
	log.Info().Msg("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Errorf("bad level should fall back to info: %q", buf.String())
	}
}

func TestBuildFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.log")
	var buf bytes.Buffer
	log := build(config.LogConfig{Level: "info", File: path, MaxSizeMB: 1}, "svc", "v", &buf)
	log.Info().Msg("to file")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "to file") || !strings.Contains(buf.String(), "to file") {
		t.Errorf("expected both sinks to receive the line")
	}
}
