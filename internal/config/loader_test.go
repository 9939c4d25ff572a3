package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, ConfigFileName)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "minimal valid config",
			yaml: `
telegram:
  chat_id: -1001864190705
`,
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, int64(-1001864190705), cfg.Telegram.ChatID)
				assert.Equal(t, DefaultListen, cfg.Listen)
				assert.Equal(t, DefaultWebhookPath, cfg.Webhook.Path)
				assert.Equal(t, DefaultSignatureHeader, cfg.Webhook.SignatureHeader)
				assert.Equal(t, DefaultTelegramTimeout, cfg.Telegram.Timeout)
				assert.Equal(t, "info", cfg.Service.LogLevel)
				assert.False(t, cfg.Metrics.Enabled)
				assert.Equal(t, "/metrics", cfg.Metrics.Path)
				assert.Empty(t, cfg.State.Path)
			},
		},
		{
			name: "full config",
			yaml: `
service:
  name: relay
  log_level: WARN
  log_format: text
listen: 127.0.0.1:9000
webhook:
  path: /tailscale
  max_body_size: 64KB
  secret_file: /run/secrets/ts
telegram:
  api_base: http://127.0.0.1:8081
  token_file: /run/secrets/tg
  chat_id: 42
  timeout: 3s
state:
  path: /var/lib/tailforward/journal.db
metrics:
  enabled: true
  path: /internal/metrics
`,
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "relay", cfg.Service.Name)
				assert.Equal(t, "warn", cfg.Service.LogLevel)
				assert.Equal(t, "text", cfg.Service.LogFormat)
				assert.Equal(t, "127.0.0.1:9000", cfg.Listen)
				assert.Equal(t, "/tailscale", cfg.Webhook.Path)
				n, err := cfg.Webhook.MaxBodyBytes()
				require.NoError(t, err)
				assert.Equal(t, int64(64*1024), n)
				assert.Equal(t, "/run/secrets/ts", cfg.Webhook.SecretFile)
				assert.Equal(t, "http://127.0.0.1:8081", cfg.Telegram.APIBase)
				assert.Equal(t, 3*time.Second, cfg.Telegram.Timeout)
				assert.Equal(t, "/var/lib/tailforward/journal.db", cfg.State.Path)
				assert.True(t, cfg.Metrics.Enabled)
				assert.Equal(t, "/internal/metrics", cfg.Metrics.Path)
			},
		},
		{
			name: "env var interpolation",
			yaml: `
webhook:
  secret_file: ${TF_TEST_SECRET_DIR}/ts
telegram:
  chat_id: 1
`,
			env: map[string]string{"TF_TEST_SECRET_DIR": "/tmp/secrets"},
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "/tmp/secrets/ts", cfg.Webhook.SecretFile)
			},
		},
		{
			name: "unset interpolation is rejected",
			yaml: `
webhook:
  secret_file: ${TF_TEST_UNSET_VARIABLE}/ts
telegram:
  chat_id: 1
`,
			wantErr: "TF_TEST_UNSET_VARIABLE",
		},
		{
			name: "env overrides win over file",
			yaml: `
listen: 127.0.0.1:9000
telegram:
  chat_id: 1
`,
			env: map[string]string{
				"TAILFORWARD_LISTEN":  "127.0.0.1:9999",
				"TAILFORWARD_CHAT_ID": "-77",
				"TAILFORWARD_DEBUG":   "true",
			},
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "127.0.0.1:9999", cfg.Listen)
				assert.Equal(t, int64(-77), cfg.Telegram.ChatID)
				assert.Equal(t, "debug", cfg.Service.LogLevel)
			},
		},
		{
			name:    "missing chat id",
			yaml:    "listen: 127.0.0.1:9000\n",
			wantErr: "telegram.chat_id is required",
		},
		{
			name: "bad chat id env",
			yaml: `
telegram:
  chat_id: 1
`,
			env:     map[string]string{"TAILFORWARD_CHAT_ID": "abc"},
			wantErr: "TAILFORWARD_CHAT_ID",
		},
		{
			name: "invalid log level",
			yaml: `
service:
  log_level: verbose
telegram:
  chat_id: 1
`,
			wantErr: "service.log_level",
		},
		{
			name: "invalid listen",
			yaml: `
listen: nope
telegram:
  chat_id: 1
`,
			wantErr: "listen",
		},
		{
			name: "webhook path without slash",
			yaml: `
webhook:
  path: hook
telegram:
  chat_id: 1
`,
			wantErr: "webhook.path",
		},
		{
			name: "metrics path collides with webhook path",
			yaml: `
webhook:
  path: /metrics
metrics:
  enabled: true
telegram:
  chat_id: 1
`,
			wantErr: "must differ",
		},
		{
			name: "non-positive timeout",
			yaml: `
telegram:
  chat_id: 1
  timeout: 0s
`,
			wantErr: "telegram.timeout",
		},
		{
			name: "bad api base",
			yaml: `
telegram:
  chat_id: 1
  api_base: ftp://example.com
`,
			wantErr: "telegram.api_base",
		},
		{
			name: "bad max body size",
			yaml: `
webhook:
  max_body_size: lots
telegram:
  chat_id: 1
`,
			wantErr: "webhook.max_body_size",
		},
		{
			name:    "invalid yaml",
			yaml:    "telegram: [",
			wantErr: "failed to parse YAML",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			path := writeConfig(t, t.TempDir(), tt.yaml)
			cfg, err := Load(path)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, path, cfg.SourcePath)
			if tt.checkFn != nil {
				tt.checkFn(t, cfg)
			}
		})
	}
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "telegram:\n  chat_id: 5\n")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, int64(5), cfg.Telegram.ChatID)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestLoadVerifiesChecksums(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "telegram:\n  chat_id: 5\n")

	_, err := LockConfig(path, false)
	require.NoError(t, err)

	_, err = Load(dir)
	require.NoError(t, err, "untouched file must load")

	require.NoError(t, os.WriteFile(path, []byte("telegram:\n  chat_id: 6\n"), 0600))
	_, err = Load(dir)
	assert.ErrorIs(t, err, ErrConfigModified)
}

func TestFromEnv(t *testing.T) {
	t.Setenv("TAILFORWARD_CHAT_ID", "-1001864190705")
	t.Setenv("TAILFORWARD_ADDRESS", "127.0.0.1:33010")
	t.Setenv("TAILFORWARD_TAILSCALE_SECRET_FILE", "/s/ts")
	t.Setenv("TAILFORWARD_TELEGRAM_SECRET_FILE", "/s/tg")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, int64(-1001864190705), cfg.Telegram.ChatID)
	assert.Equal(t, "127.0.0.1:33010", cfg.Listen)
	assert.Equal(t, "/s/ts", cfg.Webhook.SecretFile)
	assert.Equal(t, "/s/tg", cfg.Telegram.TokenFile)
	assert.Empty(t, cfg.SourcePath)
}

func TestResolveExplicitPath(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "telegram:\n  chat_id: 9\n")

	cfg, err := Resolve(dir)
	require.NoError(t, err)
	assert.Equal(t, int64(9), cfg.Telegram.ChatID)
}

func TestDiscoverConfigPathEnvDir(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "telegram:\n  chat_id: 9\n")
	t.Setenv("TAILFORWARD_CONFIG_DIR", dir)

	got, err := DiscoverConfigPath()
	require.NoError(t, err)
	assert.Equal(t, dir, got)
}

func TestParseMaxBodySize(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"", DefaultMaxBodySize, false},
		{"2048", 2048, false},
		{"1kb", 1024, false},
		{"2MB", 2 * 1024 * 1024, false},
		{"1GB", 1024 * 1024 * 1024, false},
		{"0", 0, true},
		{"-1MB", 0, true},
		{"MB", 0, true},
		{"99999999999GB", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseMaxBodySize(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
