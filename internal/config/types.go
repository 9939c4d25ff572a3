package config

import "time"

// Config represents the complete tailforward configuration.
//
// Secrets are never part of Config: only the paths of the files holding them
// are. They are read once at startup by LoadSecrets.
type Config struct {
	Service  ServiceConfig  `yaml:"service" json:"service"`
	Listen   string         `yaml:"listen" json:"listen"`
	Webhook  WebhookConfig  `yaml:"webhook" json:"webhook"`
	Telegram TelegramConfig `yaml:"telegram" json:"telegram"`
	State    StateConfig    `yaml:"state" json:"state"`
	Metrics  MetricsConfig  `yaml:"metrics" json:"metrics"`
	Tracing  TracingConfig  `yaml:"tracing" json:"tracing"`

	// SourcePath is the absolute path of the loaded file, empty when the
	// configuration came from the environment only.
	SourcePath string `yaml:"-" json:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name" json:"name"`
	LogLevel  string `yaml:"log_level" json:"log_level"`
	LogFormat string `yaml:"log_format" json:"log_format"`
	// Debug forces log_level to debug.
	Debug bool `yaml:"debug" json:"debug"`
}

// WebhookConfig defines the inbound Tailscale endpoint.
type WebhookConfig struct {
	Path            string `yaml:"path" json:"path"`
	SignatureHeader string `yaml:"signature_header" json:"signature_header"`
	// MaxBodySize accepts plain bytes or KB/MB/GB suffixes (e.g. "1MB").
	MaxBodySize string `yaml:"max_body_size" json:"max_body_size"`
	// SecretFile holds the webhook signing secret from the Tailscale admin console.
	SecretFile string `yaml:"secret_file" json:"secret_file"`
}

// TelegramConfig defines the outbound chat destination.
type TelegramConfig struct {
	APIBase string `yaml:"api_base" json:"api_base"`
	// TokenFile holds the bot token, either raw or as a KEY=token line.
	TokenFile string        `yaml:"token_file" json:"token_file"`
	ChatID    int64         `yaml:"chat_id" json:"chat_id"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout"`
}

// StateConfig defines the optional delivery journal.
type StateConfig struct {
	// Path of the SQLite journal. Empty disables journaling.
	Path string `yaml:"path" json:"path"`
}

// MetricsConfig defines the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// TracingConfig defines OTLP trace export.
type TracingConfig struct {
	// Endpoint is the OTLP/HTTP collector host:port. Empty disables export.
	Endpoint   string  `yaml:"endpoint" json:"endpoint"`
	Insecure   bool    `yaml:"insecure" json:"insecure"`
	SampleRate float64 `yaml:"sample_rate" json:"sample_rate"`
}

// Default values
const (
	DefaultListen          = "0.0.0.0:33010"
	DefaultWebhookPath     = "/"
	DefaultSignatureHeader = "Tailscale-Webhook-Signature"
	DefaultMaxBodySize     = 1048576 // 1 MB
	DefaultTelegramAPIBase = "https://api.telegram.org"
	DefaultTelegramTimeout = 10 * time.Second
)

// Defaults returns a Config with sensible defaults. Files are decoded on top
// of it, so anything a file leaves out keeps its default.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "tailforward",
			LogLevel:  "info",
			LogFormat: "json",
		},
		Listen: DefaultListen,
		Webhook: WebhookConfig{
			Path:            DefaultWebhookPath,
			SignatureHeader: DefaultSignatureHeader,
			MaxBodySize:     "1MB",
			SecretFile:      "/secrets/tailscale-webhook",
		},
		Telegram: TelegramConfig{
			APIBase:   DefaultTelegramAPIBase,
			TokenFile: "/secrets/telegram",
			Timeout:   DefaultTelegramTimeout,
		},
		Metrics: MetricsConfig{
			Path: "/metrics",
		},
		Tracing: TracingConfig{
			SampleRate: 1.0,
		},
	}
}
