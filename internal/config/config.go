// Package config loads linescout settings from a JSON5 or YAML file and the
// environment.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/titanous/json5"
	"gopkg.in/yaml.v3"
)

const (
	EnvConfigPath = "LINESCOUT_CONFIG"
	EnvLogLevel   = "LINESCOUT_LOG_LEVEL"
	EnvBotToken   = "BOT_TOKEN"
	EnvPort       = "PORT"

	DefaultConfigFile = "linescout.json5"
)

// Config is the root configuration.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram" yaml:"telegram"`
	Search    SearchConfig    `json:"search" yaml:"search"`
	Remote    RemoteConfig    `json:"remote" yaml:"remote"`
	Gateway   GatewayConfig   `json:"gateway" yaml:"gateway"`
	HTTP      HTTPConfig      `json:"http" yaml:"http"`
	Log       LogConfig       `json:"log" yaml:"log"`
	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry"`
}

type TelegramConfig struct {
	Token              string   `json:"token,omitempty" yaml:"token,omitempty"`
	UploadDir          string   `json:"upload_dir" yaml:"upload_dir"`
	MaxUploadMB        int      `json:"max_upload_mb" yaml:"max_upload_mb"`
	ProgressThrottleMs int      `json:"progress_throttle_ms" yaml:"progress_throttle_ms"`
	AllowFrom          []string `json:"allow_from,omitempty" yaml:"allow_from,omitempty"`
}

type SearchConfig struct {
	ProgressStepPercent int `json:"progress_step_percent" yaml:"progress_step_percent"`
	ProgressEveryLines  int `json:"progress_every_lines" yaml:"progress_every_lines"`
	MaxResultMB         int `json:"max_result_mb" yaml:"max_result_mb"`
	MaxLineKB           int `json:"max_line_kb" yaml:"max_line_kb"`
	Parallelism         int `json:"parallelism" yaml:"parallelism"` // aggregate searches; 1 = sequential
}

type RemoteConfig struct {
	ConnectTimeoutSec int    `json:"connect_timeout_sec" yaml:"connect_timeout_sec"`
	ReadTimeoutSec    int    `json:"read_timeout_sec" yaml:"read_timeout_sec"`
	UserAgent         string `json:"user_agent" yaml:"user_agent"`
	BlockPrivate      bool   `json:"block_private" yaml:"block_private"`
	Retries           int    `json:"retries" yaml:"retries"`
}

type GatewayConfig struct {
	QueueMode     string `json:"queue_mode" yaml:"queue_mode"` // interrupt | queue | followup
	QueueCap      int    `json:"queue_cap" yaml:"queue_cap"`
	MaxConcurrent int    `json:"max_concurrent" yaml:"max_concurrent"`
	RatePerMinute int    `json:"rate_per_minute" yaml:"rate_per_minute"` // 0 = unlimited
	RateBurst     int    `json:"rate_burst" yaml:"rate_burst"`
}

type HTTPConfig struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"` // 0 disables the liveness server
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug | info | warn | error
	Format string `json:"format" yaml:"format"` // text | json
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled" yaml:"enabled"`
	Endpoint    string            `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Protocol    string            `json:"protocol,omitempty" yaml:"protocol,omitempty"` // grpc | http
	Insecure    bool              `json:"insecure,omitempty" yaml:"insecure,omitempty"`
	ServiceName string            `json:"service_name,omitempty" yaml:"service_name,omitempty"`
	Headers     map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Telegram: TelegramConfig{
			UploadDir:          "uploads",
			MaxUploadMB:        20,
			ProgressThrottleMs: 1000,
		},
		Search: SearchConfig{
			ProgressStepPercent: 5,
			ProgressEveryLines:  5000,
			MaxResultMB:         45,
			MaxLineKB:           1024,
			Parallelism:         1,
		},
		Remote: RemoteConfig{
			ConnectTimeoutSec: 10,
			ReadTimeoutSec:    60,
			UserAgent:         "linescout/1.0",
			Retries:           2,
		},
		Gateway: GatewayConfig{
			QueueMode:     "interrupt",
			QueueCap:      10,
			MaxConcurrent: 16,
			RatePerMinute: 60,
			RateBurst:     10,
		},
		HTTP: HTTPConfig{Port: 8000},
		Log:  LogConfig{Level: "info", Format: "text"},
	}
}

// ResolvePath returns the config path: the explicit flag value, then
// $LINESCOUT_CONFIG, then DefaultConfigFile.
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	return DefaultConfigFile
}

// Load reads the config file at path over the defaults and applies env
// overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := decode(path, data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.normalize()
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		return json5.Unmarshal(data, cfg)
	}
}

// Save writes cfg to path as YAML or JSON (valid JSON5) by extension. The
// bot token is never written; it belongs in the environment.
func Save(path string, cfg *Config) error {
	cp := *cfg
	cp.Telegram.Token = ""

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(&cp)
	default:
		data, err = json.MarshalIndent(&cp, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvBotToken); v != "" {
		c.Telegram.Token = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvPort, v, err)
		}
		c.HTTP.Port = port
	}
	return nil
}

// Validate checks the settings needed to serve.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Telegram.Token) == "" {
		errs = append(errs, fmt.Errorf("telegram token is required (set %s)", EnvBotToken))
	}
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("http port %d out of range", c.HTTP.Port))
	}
	switch c.Gateway.QueueMode {
	case "interrupt", "queue", "followup":
	default:
		errs = append(errs, fmt.Errorf("unknown gateway queue_mode %q", c.Gateway.QueueMode))
	}
	if _, ok := parseLevel(c.Log.Level); !ok {
		errs = append(errs, fmt.Errorf("unknown log level %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}
	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		errs = append(errs, errors.New("telemetry endpoint is required when telemetry is enabled"))
	}
	return errors.Join(errs...)
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() *Config {
	cp := *c
	if cp.Telegram.Token != "" {
		cp.Telegram.Token = MaskSecret(cp.Telegram.Token)
	}
	if len(c.Telemetry.Headers) > 0 {
		cp.Telemetry.Headers = make(map[string]string, len(c.Telemetry.Headers))
		for k := range c.Telemetry.Headers {
			cp.Telemetry.Headers[k] = "***"
		}
	}
	return &cp
}

// MaskSecret keeps the first four characters of a secret.
func MaskSecret(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "***"
}

func (c *Config) ProgressThrottle() time.Duration {
	return time.Duration(c.Telegram.ProgressThrottleMs) * time.Millisecond
}

func (c *Config) MaxUploadBytes() int64 { return int64(c.Telegram.MaxUploadMB) << 20 }

func (c *Config) MaxResultBytes() int64 { return int64(c.Search.MaxResultMB) << 20 }

func (c *Config) MaxLineBytes() int { return c.Search.MaxLineKB << 10 }

func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.Remote.ConnectTimeoutSec) * time.Second
}

func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.Remote.ReadTimeoutSec) * time.Second
}

// ListenAddr is the liveness server address, or "" when disabled.
func (c *Config) ListenAddr() string {
	if c.HTTP.Port == 0 {
		return ""
	}
	return c.HTTP.Host + ":" + strconv.Itoa(c.HTTP.Port)
}
