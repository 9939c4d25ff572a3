package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/KFearsoff/tailforward/internal/config"
	"github.com/KFearsoff/tailforward/internal/journal"
	"github.com/KFearsoff/tailforward/internal/storage"
	"github.com/KFearsoff/tailforward/internal/webhook"
)

func captureOutputWithExitCode(t *testing.T, run func() int) (int, string, string) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stdout failed: %v", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stderr failed: %v", err)
	}

	os.Stdout = stdoutW
	os.Stderr = stderrW

	code := run()

	_ = stdoutW.Close()
	_ = stderrW.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	stdoutBytes, _ := io.ReadAll(stdoutR)
	stderrBytes, _ := io.ReadAll(stderrR)

	_ = stdoutR.Close()
	_ = stderrR.Close()

	return code, string(stdoutBytes), string(stderrBytes)
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	return captureOutputWithExitCode(t, func() int {
		return run(args[0], args[1:])
	})
}

// writeConfigDir lays out config.yaml plus both secret files in a temp dir.
func writeConfigDir(t *testing.T, statePath string) string {
	t.Helper()
	dir := t.TempDir()

	secretFile := filepath.Join(dir, "tailscale-webhook")
	tokenFile := filepath.Join(dir, "telegram")
	if err := os.WriteFile(secretFile, []byte("123\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(tokenFile, []byte("TELEGRAM_TOKEN=42:abc\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := fmt.Sprintf(`
webhook:
  secret_file: %s
telegram:
  token_file: %s
  chat_id: -1001864190705
state:
  path: %q
`, secretFile, tokenFile, statePath)
	if err := os.WriteFile(filepath.Join(dir, config.ConfigFileName), []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestRunVersion(t *testing.T) {
	code, stdout, _ := runCLI(t, "version")
	if code != 0 {
		t.Fatalf("version code = %d", code)
	}
	if !strings.Contains(stdout, "tailforward version "+version) {
		t.Fatalf("unexpected version output: %q", stdout)
	}
}

func TestRunUnknownCommand(t *testing.T) {
	code, _, stderr := runCLI(t, "frobnicate")
	if code != 1 {
		t.Fatalf("code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "Unknown command: frobnicate") {
		t.Fatalf("stderr missing unknown command: %q", stderr)
	}
}

func TestNounHelp(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"system", "help"}, "Actions: start"},
		{[]string{"config", "--help"}, "Actions: lock, check, show"},
		{[]string{"deliveries", "-h"}, "Actions: list, show, prune"},
		{[]string{"config", "check", "--help"}, "tailforward config check"},
		{[]string{"sign", "-h"}, "tailforward sign"},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			code, stdout, _ := runCLI(t, tt.args...)
			if code != 0 {
				t.Fatalf("code = %d", code)
			}
			if !strings.Contains(stdout, tt.want) {
				t.Fatalf("stdout missing %q: %s", tt.want, stdout)
			}
		})
	}
}

func TestNounWithoutActionFails(t *testing.T) {
	for _, noun := range []string{"system", "config", "deliveries"} {
		code, _, stderr := runCLI(t, noun)
		if code != 1 {
			t.Fatalf("%s: code = %d, want 1", noun, code)
		}
		if !strings.Contains(stderr, "Usage: tailforward "+noun) {
			t.Fatalf("%s: stderr missing usage: %q", noun, stderr)
		}
	}
}

func TestSignProducesVerifiableHeader(t *testing.T) {
	dir := t.TempDir()
	secretFile := filepath.Join(dir, "secret")
	bodyFile := filepath.Join(dir, "body.json")
	body := `[{"timestamp":"2023-05-17T11:13:07Z","version":1,"type":"test","tailnet":"example.com","message":"hi"}]`
	if err := os.WriteFile(secretFile, []byte("123\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(bodyFile, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	code, stdout, stderr := runCLI(t, "sign", "--secret-file", secretFile, "--body-file", bodyFile, "--timestamp", "1684518293")
	if code != 0 {
		t.Fatalf("sign code = %d, stderr: %s", code, stderr)
	}

	hdr, err := webhook.ParseSignatureHeader(strings.TrimSpace(stdout))
	if err != nil {
		t.Fatalf("sign output does not parse: %v", err)
	}
	if hdr.Unix() != 1684518293 {
		t.Fatalf("timestamp = %d", hdr.Unix())
	}
	if err := webhook.VerifySignature([]byte("123"), webhook.SigningString(hdr.Unix(), []byte(body)), hdr.Signature.Value); err != nil {
		t.Fatalf("signature does not verify: %v", err)
	}
}

func TestSignRequiresFiles(t *testing.T) {
	code, _, stderr := runCLI(t, "sign", "--secret-file", "x")
	if code != 1 {
		t.Fatalf("code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "Usage: tailforward sign") {
		t.Fatalf("stderr missing usage: %q", stderr)
	}
}

func TestConfigLockDryRunVerbose(t *testing.T) {
	dir := writeConfigDir(t, "")

	code, stdout, stderr := runCLI(t, "config", "lock", "--config", dir, "-v", "--dry-run")
	if code != 0 {
		t.Fatalf("lock code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "HASH config.yaml:") {
		t.Fatalf("stdout missing hash line: %s", stdout)
	}
	if !strings.Contains(stdout, "DRY-RUN .checksums:") {
		t.Fatalf("stdout missing dry-run line: %s", stdout)
	}
	if _, err := os.Stat(filepath.Join(dir, config.ChecksumFileName)); !os.IsNotExist(err) {
		t.Fatalf("dry run wrote %s", config.ChecksumFileName)
	}
}

func TestConfigLockThenCheck(t *testing.T) {
	dir := writeConfigDir(t, "")
	configFile := filepath.Join(dir, config.ConfigFileName)

	code, stdout, stderr := runCLI(t, "config", "lock", "--config", configFile)
	if code != 0 {
		t.Fatalf("lock code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "Successfully locked configuration in "+dir) {
		t.Fatalf("unexpected lock output: %s", stdout)
	}

	code, stdout, stderr = runCLI(t, "config", "check", "--config", dir, "--json")
	if code != 0 {
		t.Fatalf("check code = %d, stdout: %s, stderr: %s", code, stdout, stderr)
	}
	var result struct {
		Valid bool `json:"valid"`
	}
	if err := json.Unmarshal([]byte(stdout), &result); err != nil {
		t.Fatalf("check output is not json: %v\n%s", err, stdout)
	}
	if !result.Valid {
		t.Fatalf("expected valid config: %s", stdout)
	}

	f, err := os.OpenFile(configFile, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = f.WriteString("listen: 0.0.0.0:9999\n")
	_ = f.Close()

	code, _, stderr = runCLI(t, "config", "check", "--config", dir)
	if code != 1 {
		t.Fatalf("tampered config: code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "Config load error") {
		t.Fatalf("stderr missing load error: %s", stderr)
	}
}

func TestConfigCheckStrict(t *testing.T) {
	// No .checksums: the unlocked warning trips --strict.
	dir := writeConfigDir(t, "")

	code, stdout, _ := runCLI(t, "config", "check", "--config", dir, "--strict")
	if code != 2 {
		t.Fatalf("code = %d, want 2; output: %s", code, stdout)
	}
	if !strings.Contains(stdout, "config lock") {
		t.Fatalf("stdout missing lock warning: %s", stdout)
	}
}

func TestConfigShowNeverPrintsSecrets(t *testing.T) {
	dir := writeConfigDir(t, "")

	code, stdout, stderr := runCLI(t, "config", "show", "--config", dir, "--json")
	if code != 0 {
		t.Fatalf("show code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, `"chat_id": -1001864190705`) {
		t.Fatalf("stdout missing chat id: %s", stdout)
	}
	if strings.Contains(stdout, "42:abc") {
		t.Fatalf("show leaked the bot token: %s", stdout)
	}

	code, stdout, _ = runCLI(t, "config", "show", "--config", dir)
	if code != 0 {
		t.Fatalf("yaml show code = %d", code)
	}
	if !strings.Contains(stdout, "chat_id: -1001864190705") {
		t.Fatalf("yaml output missing chat id: %s", stdout)
	}
}

func seedJournal(t *testing.T, path string, entries ...journal.Entry) {
	t.Helper()
	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	j := journal.New(db)
	for _, e := range entries {
		if _, err := j.Record(ctx, e); err != nil {
			t.Fatal(err)
		}
	}
}

func TestDeliveriesListAndPrune(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "journal.db")
	now := time.Now()
	seedJournal(t, statePath,
		journal.Entry{ReceivedAt: now.Add(-48 * time.Hour), Stage: "verify_mac", Kind: "signature_mismatch", Status: 422},
		journal.Entry{ReceivedAt: now, Stage: "done", Events: 2, Forwarded: 2, Status: 200, Duration: 120 * time.Millisecond},
	)
	dir := writeConfigDir(t, statePath)

	code, stdout, stderr := runCLI(t, "deliveries", "list", "--config", dir, "--json")
	if code != 0 {
		t.Fatalf("list code = %d, stderr: %s", code, stderr)
	}
	var entries []journal.Entry
	if err := json.Unmarshal([]byte(stdout), &entries); err != nil {
		t.Fatalf("list output is not json: %v\n%s", err, stdout)
	}
	if len(entries) != 2 || entries[0].Stage != "done" || entries[1].Kind != "signature_mismatch" {
		t.Fatalf("unexpected entries: %+v", entries)
	}

	code, stdout, _ = runCLI(t, "deliveries", "list", "--config", dir, "--limit", "1")
	if code != 0 {
		t.Fatalf("table list code = %d", code)
	}
	if !strings.Contains(stdout, "RECEIVED") || !strings.Contains(stdout, "done") {
		t.Fatalf("table missing rows: %s", stdout)
	}
	if strings.Contains(stdout, "signature_mismatch") {
		t.Fatalf("--limit 1 printed two rows: %s", stdout)
	}

	code, stdout, stderr = runCLI(t, "deliveries", "show", entries[1].ID, "--config", dir)
	if code != 0 {
		t.Fatalf("show code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "Outcome     : failed at verify_mac") {
		t.Fatalf("unexpected show output: %s", stdout)
	}

	code, stdout, _ = runCLI(t, "deliveries", "show", "--config", dir, "--json", entries[0].ID)
	if code != 0 {
		t.Fatalf("json show code = %d", code)
	}
	if !strings.Contains(stdout, `"outcome": "forwarded"`) {
		t.Fatalf("unexpected json show output: %s", stdout)
	}

	code, _, stderr = runCLI(t, "deliveries", "show", "no-such-id", "--config", dir)
	if code != 1 || !strings.Contains(stderr, "delivery not found") {
		t.Fatalf("unknown id: code = %d, stderr: %s", code, stderr)
	}

	code, stdout, stderr = runCLI(t, "deliveries", "prune", "--config", dir, "--older-than", "24h")
	if code != 0 {
		t.Fatalf("prune code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "Deleted 1 record(s)") {
		t.Fatalf("unexpected prune output: %s", stdout)
	}
}

func TestDeliveriesWithoutJournal(t *testing.T) {
	dir := writeConfigDir(t, "")

	code, _, stderr := runCLI(t, "deliveries", "list", "--config", dir)
	if code != 1 {
		t.Fatalf("code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "journal is disabled") {
		t.Fatalf("stderr missing disabled journal: %s", stderr)
	}
}

func TestDeliveriesPruneRequiresDuration(t *testing.T) {
	code, _, stderr := runCLI(t, "deliveries", "prune")
	if code != 1 {
		t.Fatalf("code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "--older-than") {
		t.Fatalf("stderr missing usage: %s", stderr)
	}
}
