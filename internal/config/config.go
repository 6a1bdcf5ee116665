// Package config loads the framekit YAML configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoggingSettings selects the log level and handler
type LoggingSettings struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// FFmpegSettings locates the ffmpeg binaries
type FFmpegSettings struct {
	Path      string        `yaml:"path"`
	ProbePath string        `yaml:"ffprobe_path"` // derived from path when empty
	Preset    string        `yaml:"preset"`
	Timeout   time.Duration `yaml:"timeout"`
}

// VideoSettings tunes the video runner
type VideoSettings struct {
	EncodeChunkFrames int    `yaml:"encode_chunk_frames"` // frames between Encoding progress events
	TempDir           string `yaml:"temp_dir"`
}

// PostgresSettings holds connection details for the postgres ledger
type PostgresSettings struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
}

// LedgerSettings selects where terminal runs are recorded
type LedgerSettings struct {
	Driver   string           `yaml:"driver"` // none, json, sqlite, postgres
	Path     string           `yaml:"path"`
	Postgres PostgresSettings `yaml:"postgres"`
}

// VisionSettings configures the optional Ollama-backed model V
type VisionSettings struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
	Port    int    `yaml:"port"`
	Model   string `yaml:"model"`
}

// SignatureSettings sizes the signature worker pool
type SignatureSettings struct {
	Workers int `yaml:"workers"`
}

// Config is the full framekit configuration
type Config struct {
	Logging    LoggingSettings   `yaml:"logging"`
	FFmpeg     FFmpegSettings    `yaml:"ffmpeg"`
	Video      VideoSettings     `yaml:"video"`
	Ledger     LedgerSettings    `yaml:"ledger"`
	Vision     VisionSettings    `yaml:"vision"`
	Signatures SignatureSettings `yaml:"signatures"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads and parses the configuration file at path, fills in defaults
// and validates the result
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration data
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.FFmpeg.Path == "" {
		c.FFmpeg.Path = "ffmpeg"
	}
	if c.FFmpeg.Preset == "" {
		c.FFmpeg.Preset = "medium"
	}
	if c.FFmpeg.Timeout == 0 {
		c.FFmpeg.Timeout = 10 * time.Minute
	}
	if c.Video.EncodeChunkFrames == 0 {
		c.Video.EncodeChunkFrames = 1
	}
	if c.Ledger.Driver == "" {
		c.Ledger.Driver = "none"
	}
	if c.Ledger.Postgres.Port == "" {
		c.Ledger.Postgres.Port = "5432"
	}
	if c.Vision.BaseURL == "" {
		c.Vision.BaseURL = "http://localhost"
	}
	if c.Vision.Port == 0 {
		c.Vision.Port = 11434
	}
	if c.Vision.Model == "" {
		c.Vision.Model = "llama3.2-vision:11b"
	}
	if c.Signatures.Workers == 0 {
		c.Signatures.Workers = 4
	}
}

// Validate reports every invalid setting at once
func (c *Config) Validate() error {
	var problems []string

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("logging.level %q must be one of: debug, info, warn, error", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("logging.format %q must be one of: text, json", c.Logging.Format))
	}
	if c.FFmpeg.Timeout < 0 {
		problems = append(problems, "ffmpeg.timeout cannot be negative")
	}
	if c.Video.EncodeChunkFrames < 1 {
		problems = append(problems, "video.encode_chunk_frames must be at least 1")
	}
	switch c.Ledger.Driver {
	case "none":
	case "json", "sqlite":
		if c.Ledger.Path == "" {
			problems = append(problems, fmt.Sprintf("ledger.path is required for the %s driver", c.Ledger.Driver))
		}
	case "postgres":
		if c.Ledger.Postgres.Host == "" || c.Ledger.Postgres.DBName == "" {
			problems = append(problems, "ledger.postgres.host and ledger.postgres.dbname are required for the postgres driver")
		}
	default:
		problems = append(problems, fmt.Sprintf("ledger.driver %q must be one of: none, json, sqlite, postgres", c.Ledger.Driver))
	}
	if c.Vision.Port < 1 || c.Vision.Port > 65535 {
		problems = append(problems, "vision.port must be between 1 and 65535")
	}
	if c.Signatures.Workers < 0 {
		problems = append(problems, "signatures.workers cannot be negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}
