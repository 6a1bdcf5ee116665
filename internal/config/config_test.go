package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	t.Parallel()

	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config is invalid: %v", err)
	}
	if cfg.FFmpeg.Path != "ffmpeg" || cfg.FFmpeg.Timeout != 10*time.Minute {
		t.Errorf("unexpected ffmpeg defaults %+v", cfg.FFmpeg)
	}
	if cfg.Ledger.Driver != "none" || cfg.Vision.Enabled || cfg.Video.EncodeChunkFrames != 1 {
		t.Errorf("unexpected defaults %+v", cfg)
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "framekit.yaml")
	data := `
logging:
  level: debug
  format: json
ffmpeg:
  path: /opt/ffmpeg/bin/ffmpeg
  timeout: 90s
video:
  encode_chunk_frames: 25
ledger:
  driver: sqlite
  path: /var/lib/framekit
vision:
  enabled: true
  model: llava:7b
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("unexpected logging %+v", cfg.Logging)
	}
	if cfg.FFmpeg.Timeout != 90*time.Second || cfg.FFmpeg.Preset != "medium" {
		t.Errorf("unexpected ffmpeg %+v", cfg.FFmpeg)
	}
	if cfg.Video.EncodeChunkFrames != 25 {
		t.Errorf("expected chunk 25, got %d", cfg.Video.EncodeChunkFrames)
	}
	if cfg.Ledger.Driver != "sqlite" || cfg.Ledger.Path != "/var/lib/framekit" {
		t.Errorf("unexpected ledger %+v", cfg.Ledger)
	}
	if !cfg.Vision.Enabled || cfg.Vision.Model != "llava:7b" || cfg.Vision.Port != 11434 {
		t.Errorf("unexpected vision %+v", cfg.Vision)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestParseRejectsInvalidSettings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data string
		want string
	}{
		{name: "log level", data: "logging: {level: verbose}", want: "logging.level"},
		{name: "log format", data: "logging: {format: xml}", want: "logging.format"},
		{name: "chunk", data: "video: {encode_chunk_frames: -2}", want: "encode_chunk_frames"},
		{name: "driver", data: "ledger: {driver: mongo}", want: "ledger.driver"},
		{name: "json without path", data: "ledger: {driver: json}", want: "ledger.path"},
		{name: "postgres without host", data: "ledger: {driver: postgres}", want: "ledger.postgres"},
		{name: "vision port", data: "vision: {port: 70000}", want: "vision.port"},
		{name: "malformed", data: "logging: [", want: "failed to parse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(tt.data))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}
