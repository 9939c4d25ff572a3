package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Redacted replaces secret material wherever it would otherwise be printed.
const Redacted = "[REDACTED]"

// Secret is an opaque credential. Every formatting and encoding path renders
// it as Redacted; only Reveal and Bytes expose the value.
type Secret struct {
	value string
}

// NewSecret wraps s.
func NewSecret(s string) Secret {
	return Secret{value: s}
}

// Reveal returns the raw value. Callers must not log it.
func (s Secret) Reveal() string { return s.value }

// Bytes returns a copy of the raw value.
func (s Secret) Bytes() []byte { return []byte(s.value) }

// IsZero reports whether the secret is empty.
func (s Secret) IsZero() bool { return s.value == "" }

func (s Secret) String() string   { return Redacted }
func (s Secret) GoString() string { return Redacted }

// LogValue implements slog.LogValuer.
func (s Secret) LogValue() slog.Value { return slog.StringValue(Redacted) }

// MarshalJSON implements json.Marshaler.
func (s Secret) MarshalJSON() ([]byte, error) { return []byte(`"` + Redacted + `"`), nil }

// MarshalYAML implements yaml.Marshaler.
func (s Secret) MarshalYAML() (any, error) { return Redacted, nil }

// Secrets are the two credentials the service needs. Loaded once at startup.
type Secrets struct {
	// Webhook is the shared key Tailscale signs deliveries with.
	Webhook Secret
	// Telegram is the bot token.
	Telegram Secret
}

// LoadSecrets reads both secret files named in cfg.
func LoadSecrets(cfg *Config) (Secrets, error) {
	webhookSecret, err := ReadSecretFile(cfg.Webhook.SecretFile)
	if err != nil {
		return Secrets{}, fmt.Errorf("webhook secret: %w", err)
	}
	token, err := ReadTokenFile(cfg.Telegram.TokenFile)
	if err != nil {
		return Secrets{}, fmt.Errorf("telegram token: %w", err)
	}
	return Secrets{Webhook: webhookSecret, Telegram: token}, nil
}

// ReadSecretFile reads a secret stored as the whole content of a file.
// Surrounding whitespace, including the trailing newline, is dropped.
func ReadSecretFile(path string) (Secret, error) {
	if path == "" {
		return Secret{}, fmt.Errorf("secret file path is empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Secret{}, fmt.Errorf("failed to read secret file %s: %w", path, err)
	}
	value := strings.TrimSpace(string(data))
	if value == "" {
		return Secret{}, fmt.Errorf("secret file %s is empty", path)
	}
	return NewSecret(value), nil
}

// ReadTokenFile reads a bot token stored either raw or as an env-file line
// such as TELEGRAM_TOKEN=123:abc.
func ReadTokenFile(path string) (Secret, error) {
	s, err := ReadSecretFile(path)
	if err != nil {
		return Secret{}, err
	}
	value := s.Reveal()
	if _, v, ok := strings.Cut(value, "="); ok {
		value = strings.TrimSpace(v)
	}
	if value == "" {
		return Secret{}, fmt.Errorf("secret file %s has an empty value", path)
	}
	return NewSecret(value), nil
}
