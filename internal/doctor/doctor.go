// Package doctor checks a loaded tailforward configuration against the
// machine it will run on: secret files, journal location, route layout.
package doctor

import (
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/KFearsoff/tailforward/internal/config"
	"github.com/KFearsoff/tailforward/internal/storage"
)

// maxForwardTimeout is the longest telegram.timeout that still fits inside
// the server's write deadline.
const maxForwardTimeout = 60 * time.Second

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a configuration.
type Doctor struct {
	cfg *config.Config
}

// New creates a Doctor from a loaded config.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateListen(r)
	d.validateRoutes(r)
	d.validateSecretFiles(r)
	d.validateTelegram(r)
	d.validateState(r)
	d.warnDebug(r)
	d.warnUnlocked(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateListen(r *Result) {
	host, port, err := net.SplitHostPort(d.cfg.Listen)
	if err != nil {
		d.addError(r, "server", "listen", fmt.Sprintf("invalid listen address %q: %v", d.cfg.Listen, err))
		return
	}
	if port == "" || port == "0" {
		d.addWarning(r, "server", "listen", "no fixed port; Tailscale needs a stable endpoint URL")
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		d.addWarning(r, "server", "listen",
			fmt.Sprintf("listening on loopback %s; only a local reverse proxy can reach it", host))
	}
}

// loopbackListen reports whether addr only accepts local connections. An
// empty or unspecified host listens on every interface.
func loopbackListen(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// validateRoutes checks the configured paths do not shadow each other.
func (d *Doctor) validateRoutes(r *Result) {
	hook := d.cfg.Webhook.Path
	if !strings.HasPrefix(hook, "/") {
		d.addError(r, "routes", "webhook.path", fmt.Sprintf("webhook.path must start with / (got %q)", hook))
	}
	if hook == "/healthz" {
		d.addError(r, "routes", "webhook.path", "webhook.path collides with /healthz")
	}
	if d.cfg.Metrics.Enabled && d.cfg.Metrics.Path == hook {
		d.addError(r, "routes", "metrics.path", "metrics.path and webhook.path must differ")
	}
	if d.cfg.Metrics.Enabled && d.cfg.Metrics.Path == "/healthz" {
		d.addError(r, "routes", "metrics.path", "metrics.path collides with /healthz")
	}
	if d.cfg.Metrics.Enabled && !loopbackListen(d.cfg.Listen) {
		d.addWarning(r, "routes", "metrics.enabled",
			fmt.Sprintf("metrics are served on %s next to the webhook; restrict %s at the proxy", d.cfg.Listen, d.cfg.Metrics.Path))
	}
	if _, err := d.cfg.Webhook.MaxBodyBytes(); err != nil {
		d.addError(r, "routes", "webhook.max_body_size", err.Error())
	}
}

// validateSecretFiles checks both secret files can be read and are not
// exposed to other users.
func (d *Doctor) validateSecretFiles(r *Result) {
	d.checkSecretFile(r, "webhook.secret_file", d.cfg.Webhook.SecretFile, config.ReadSecretFile)
	d.checkSecretFile(r, "telegram.token_file", d.cfg.Telegram.TokenFile, config.ReadTokenFile)
}

func (d *Doctor) checkSecretFile(r *Result, field, path string, read func(string) (config.Secret, error)) {
	if path == "" {
		d.addError(r, "secrets", field, field+" is required")
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		d.addError(r, "secrets", field, fmt.Sprintf("cannot stat %s: %v", path, err))
		return
	}
	if info.IsDir() {
		d.addError(r, "secrets", field, fmt.Sprintf("%s is a directory", path))
		return
	}
	if _, err := read(path); err != nil {
		d.addError(r, "secrets", field, err.Error())
		return
	}
	if info.Mode().Perm()&0o004 != 0 {
		d.addWarning(r, "secrets", field,
			fmt.Sprintf("%s is world-readable (mode %04o); chmod 600 recommended", path, info.Mode().Perm()))
	}
}

func (d *Doctor) validateTelegram(r *Result) {
	tg := d.cfg.Telegram
	if tg.ChatID == 0 {
		d.addError(r, "telegram", "telegram.chat_id", "telegram.chat_id is required")
	}
	if tg.Timeout <= 0 {
		d.addError(r, "telegram", "telegram.timeout", "telegram.timeout must be positive")
	} else if tg.Timeout > maxForwardTimeout {
		d.addWarning(r, "telegram", "telegram.timeout",
			fmt.Sprintf("timeout %s exceeds the %s response deadline", tg.Timeout, maxForwardTimeout))
	}

	u, err := url.Parse(tg.APIBase)
	if err != nil || u.Host == "" {
		d.addError(r, "telegram", "telegram.api_base", fmt.Sprintf("invalid api_base %q", tg.APIBase))
		return
	}
	if u.Scheme == "http" {
		d.addWarning(r, "telegram", "telegram.api_base", "api_base uses plain http; the bot token is sent in the URL")
	}
}

// validateState checks the optional journal location.
func (d *Doctor) validateState(r *Result) {
	path := d.cfg.State.Path
	if path == "" {
		return
	}
	if err := storage.CheckLocalFilesystem(path); err != nil {
		d.addError(r, "state", "state.path", err.Error())
		return
	}
	dir := filepath.Dir(path)
	if info, err := os.Stat(dir); err == nil && !info.IsDir() {
		d.addError(r, "state", "state.path", fmt.Sprintf("%s is not a directory", dir))
	}
}

func (d *Doctor) warnDebug(r *Result) {
	if d.cfg.Service.LogLevel == "debug" {
		d.addWarning(r, "service", "service.log_level", "debug logging is enabled")
	}
}

// warnUnlocked flags a config file with no integrity manifest.
func (d *Doctor) warnUnlocked(r *Result) {
	if d.cfg.SourcePath == "" {
		return
	}
	dir := filepath.Dir(d.cfg.SourcePath)
	if _, err := os.Stat(filepath.Join(dir, config.ChecksumFileName)); os.IsNotExist(err) {
		d.addWarning(r, "integrity", "", "no "+config.ChecksumFileName+" manifest; run 'tailforward config lock'")
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
