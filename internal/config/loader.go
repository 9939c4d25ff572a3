package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TAILFORWARD_"

// ConfigFileName is looked up when a directory is given.
const ConfigFileName = "config.yaml"

// ErrNoConfig is returned by DiscoverConfigPath when no file exists in any of
// the standard locations.
var ErrNoConfig = errors.New("no config found")

// Load reads and parses configuration from a file or a directory containing
// config.yaml, then applies environment overrides and validates the result.
//
// If a .checksums manifest sits next to the file, the file must match it.
func Load(configPath string) (*Config, error) {
	absPath, err := resolveConfigFile(configPath)
	if err != nil {
		return nil, err
	}

	if err := VerifyLock(absPath); err != nil {
		return nil, err
	}

	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, err
	}
	cfg.SourcePath = absPath

	return finish(cfg)
}

// FromEnv builds configuration from defaults and TAILFORWARD_* variables
// only, for deployments that ship no config file.
func FromEnv() (*Config, error) {
	return finish(Defaults())
}

// Resolve loads configPath, or discovers a file when it is empty. When no
// file exists anywhere, it falls back to FromEnv.
func Resolve(configPath string) (*Config, error) {
	if configPath == "" {
		discovered, err := DiscoverConfigPath()
		if errors.Is(err, ErrNoConfig) {
			return FromEnv()
		}
		if err != nil {
			return nil, err
		}
		configPath = discovered
	}
	return Load(configPath)
}

func finish(cfg *Config) (*Config, error) {
	if err := applyEnvOverrides(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if cfg.Service.Debug {
		cfg.Service.LogLevel = "debug"
	}
	cfg.Service.LogLevel = strings.ToLower(cfg.Service.LogLevel)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DiscoverConfigPath finds the config by checking standard locations.
// Priority order: $TAILFORWARD_CONFIG_DIR, ~/.config/tailforward, /etc/tailforward, ./config.yaml
func DiscoverConfigPath() (string, error) {
	// 1. Check environment variable
	if dir := os.Getenv(EnvPrefix + "CONFIG_DIR"); dir != "" {
		if _, err := os.Stat(filepath.Join(dir, ConfigFileName)); err == nil {
			return dir, nil
		}
	}

	// 2. Check user config directory
	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfigDir := filepath.Join(homeDir, ".config", "tailforward")
		if _, err := os.Stat(filepath.Join(userConfigDir, ConfigFileName)); err == nil {
			return userConfigDir, nil
		}
	}

	// 3. Check system config directory
	systemConfigDir := "/etc/tailforward"
	if _, err := os.Stat(filepath.Join(systemConfigDir, ConfigFileName)); err == nil {
		return systemConfigDir, nil
	}

	// 4. Config file in the working directory
	if _, err := os.Stat(ConfigFileName); err == nil {
		return ConfigFileName, nil
	}

	return "", fmt.Errorf("%w (checked: $%sCONFIG_DIR, ~/.config/tailforward, /etc/tailforward, ./config.yaml)", ErrNoConfig, EnvPrefix)
}

// resolveConfigFile turns a file or directory path into the absolute path of
// the config file.
func resolveConfigFile(configPath string) (string, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	if info.IsDir() {
		absPath = filepath.Join(absPath, ConfigFileName)
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("directory provided but %s not found: %s", ConfigFileName, absPath)
		}
	}
	return absPath, nil
}

func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	// Apply environment variable interpolation
	interpolated := interpolateEnv(string(data))

	// Decode on top of the defaults so omitted keys keep them
	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(interpolated), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	return cfg, nil
}

// interpolateEnv replaces ${VAR} with the value of VAR. Unset variables are
// left in place so validation can report them.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		// Extract variable name from ${VAR}
		varName := envVarPattern.FindStringSubmatch(match)[1]

		// Look up environment variable
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}

		// If not found, leave the placeholder (will fail validation if required)
		return match
	})
}

type lookupFunc func(key string) (string, bool)

// applyEnvOverrides applies TAILFORWARD_* variables on top of cfg.
func applyEnvOverrides(cfg *Config, lookup lookupFunc) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}

	str("LISTEN", &cfg.Listen)
	str("ADDRESS", &cfg.Listen)
	str("LOG_LEVEL", &cfg.Service.LogLevel)
	str("LOG_FORMAT", &cfg.Service.LogFormat)
	str("WEBHOOK_PATH", &cfg.Webhook.Path)
	str("TAILSCALE_SECRET_FILE", &cfg.Webhook.SecretFile)
	str("TELEGRAM_SECRET_FILE", &cfg.Telegram.TokenFile)
	str("TELEGRAM_API_BASE", &cfg.Telegram.APIBase)
	str("STATE_PATH", &cfg.State.Path)
	str("OTLP_ENDPOINT", &cfg.Tracing.Endpoint)

	if v, ok := lookup(EnvPrefix + "CHAT_ID"); ok && v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%sCHAT_ID: %w", EnvPrefix, err)
		}
		cfg.Telegram.ChatID = id
	}
	if v, ok := lookup(EnvPrefix + "TELEGRAM_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sTELEGRAM_TIMEOUT: %w", EnvPrefix, err)
		}
		cfg.Telegram.Timeout = d
	}
	if v, ok := lookup(EnvPrefix + "DEBUG"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sDEBUG: %w", EnvPrefix, err)
		}
		cfg.Service.Debug = b
	}
	if v, ok := lookup(EnvPrefix + "METRICS_ENABLED"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sMETRICS_ENABLED: %w", EnvPrefix, err)
		}
		cfg.Metrics.Enabled = b
	}
	return nil
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.LogFormat != "json" && cfg.Service.LogFormat != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if _, _, err := net.SplitHostPort(cfg.Listen); err != nil {
		return fmt.Errorf("listen %q: %w", cfg.Listen, err)
	}

	if !strings.HasPrefix(cfg.Webhook.Path, "/") {
		return fmt.Errorf("webhook.path must start with / (got %q)", cfg.Webhook.Path)
	}
	if cfg.Webhook.Path == "/healthz" {
		return fmt.Errorf("webhook.path must not be /healthz")
	}
	if cfg.Webhook.SignatureHeader == "" {
		return fmt.Errorf("webhook.signature_header is required")
	}
	if _, err := cfg.Webhook.MaxBodyBytes(); err != nil {
		return fmt.Errorf("webhook.max_body_size %q: %w", cfg.Webhook.MaxBodySize, err)
	}
	if err := requireResolved("webhook.secret_file", cfg.Webhook.SecretFile); err != nil {
		return err
	}

	if err := requireResolved("telegram.token_file", cfg.Telegram.TokenFile); err != nil {
		return err
	}
	if cfg.Telegram.ChatID == 0 {
		return fmt.Errorf("telegram.chat_id is required")
	}
	if cfg.Telegram.Timeout <= 0 {
		return fmt.Errorf("telegram.timeout must be positive")
	}
	u, err := url.Parse(cfg.Telegram.APIBase)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("telegram.api_base must be an http(s) URL (got %q)", cfg.Telegram.APIBase)
	}

	if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be between 0 and 1 (got %v)", cfg.Tracing.SampleRate)
	}

	if cfg.Metrics.Enabled {
		if !strings.HasPrefix(cfg.Metrics.Path, "/") {
			return fmt.Errorf("metrics.path must start with / (got %q)", cfg.Metrics.Path)
		}
		if cfg.Metrics.Path == cfg.Webhook.Path {
			return fmt.Errorf("metrics.path and webhook.path must differ (both %q)", cfg.Metrics.Path)
		}
	}

	return nil
}

func requireResolved(field, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required", field)
	}
	if envVarPattern.MatchString(value) {
		matches := envVarPattern.FindStringSubmatch(value)
		return fmt.Errorf("%s references unset environment variable %s", field, matches[1])
	}
	return nil
}

// MaxBodyBytes returns MaxBodySize in bytes, DefaultMaxBodySize if unset.
func (w WebhookConfig) MaxBodyBytes() (int64, error) {
	return parseMaxBodySize(w.MaxBodySize)
}

// parseMaxBodySize parses size strings like "1MB", "2048576", "1048576" to bytes.
// Returns DefaultMaxBodySize if empty.
func parseMaxBodySize(size string) (int64, error) {
	if size == "" {
		return DefaultMaxBodySize, nil
	}

	// Handle unit suffixes (KB, MB, GB)
	upper := strings.ToUpper(strings.TrimSpace(size))
	multiplier := int64(1)
	number := upper

	switch {
	case strings.HasSuffix(upper, "KB"):
		multiplier = 1024
		number = strings.TrimSuffix(upper, "KB")
	case strings.HasSuffix(upper, "MB"):
		multiplier = 1024 * 1024
		number = strings.TrimSuffix(upper, "MB")
	case strings.HasSuffix(upper, "GB"):
		multiplier = 1024 * 1024 * 1024
		number = strings.TrimSuffix(upper, "GB")
	}

	value, err := strconv.ParseInt(strings.TrimSpace(number), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size value: %w", err)
	}

	if value <= 0 {
		return 0, fmt.Errorf("size must be positive")
	}

	if value > (1<<62)/multiplier {
		return 0, fmt.Errorf("size too large")
	}

	return value * multiplier, nil
}
