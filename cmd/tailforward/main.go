package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/KFearsoff/tailforward/internal/api"
	"github.com/KFearsoff/tailforward/internal/config"
	"github.com/KFearsoff/tailforward/internal/journal"
	"github.com/KFearsoff/tailforward/internal/lock"
	"github.com/KFearsoff/tailforward/internal/log"
	"github.com/KFearsoff/tailforward/internal/metrics"
	"github.com/KFearsoff/tailforward/internal/pipeline"
	"github.com/KFearsoff/tailforward/internal/storage"
	"github.com/KFearsoff/tailforward/internal/telegram"
	"github.com/KFearsoff/tailforward/internal/tracing"
)

var version = "0.1.0-dev"

// shutdownTimeout bounds the span flush on exit.
const shutdownTimeout = 5 * time.Second

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	os.Exit(run(os.Args[1], os.Args[2:]))
}

func run(cmd string, args []string) int {
	switch cmd {
	// --- NOUNS ---
	case "system":
		return runSystemNoun(args)
	case "config":
		return runConfigNoun(args)
	case "deliveries":
		return runDeliveriesNoun(args)

	// --- ROOT ACTIONS ---
	case "start":
		return runStart(args)
	case "sign":
		if hasHelpFlag(args) {
			printSignHelp()
			return 0
		}
		return runSign(args)
	case "version":
		fmt.Printf("tailforward version %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

func printUsage() {
	fmt.Print(`tailforward - Relay signed Tailscale webhooks to a Telegram chat

Usage:
  tailforward <noun> <action> [flags]

Resources (Nouns):
  system      Service lifecycle
  config      Configuration and integrity
  deliveries  Delivery journal

System Commands:
  system start          Start the relay in the foreground

Config Commands:
  config lock           Authorize current config (update integrity hashes)
  config check          Validate config, secret files and state path
  config show           Print the resolved configuration

Deliveries Commands:
  deliveries list       Show recent webhook outcomes
  deliveries show <id>  Show the stage trail of one delivery
  deliveries prune      Delete old journal records

General:
  start                 Alias for 'system start'
  sign                  Print a signature header for a body (testing)
  version               Show version information
  help                  Show this help message

Use 'tailforward <noun> help' for resource-specific flags.
`)
}

// --- NOUN DISPATCHERS ---

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			printSystemStartHelp()
			return 0
		}
		return runStart(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "lock":
		if hasHelpFlag(actionArgs) {
			printConfigLockHelp()
			return 0
		}
		return runConfigLock(actionArgs)
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "show":
		if hasHelpFlag(actionArgs) {
			printConfigShowHelp()
			return 0
		}
		return runConfigShow(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runDeliveriesNoun(args []string) int {
	if len(args) < 1 {
		printDeliveriesNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printDeliveriesNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "list":
		if hasHelpFlag(actionArgs) {
			printDeliveriesListHelp()
			return 0
		}
		return runDeliveriesList(actionArgs)
	case "show":
		if hasHelpFlag(actionArgs) {
			printDeliveriesShowHelp()
			return 0
		}
		return runDeliveriesShow(actionArgs)
	case "prune":
		if hasHelpFlag(actionArgs) {
			printDeliveriesPruneHelp()
			return 0
		}
		return runDeliveriesPrune(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown deliveries action: %s\n", action)
		return 1
	}
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printSystemNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: tailforward system <action>")
	fmt.Fprintln(w, "Actions: start")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: tailforward config <action> [flags]")
	fmt.Fprintln(w, "Actions: lock, check, show")
}

func printDeliveriesNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: tailforward deliveries <action> [flags]")
	fmt.Fprintln(w, "Actions: list, show, prune")
}

func printSystemStartHelp() {
	fmt.Println("Usage: tailforward system start [--config PATH]")
	fmt.Println("Start the webhook relay in the foreground.")
}

func printConfigLockHelp() {
	fmt.Println("Usage: tailforward config lock [--config PATH] [-v|--verbose] [--dry-run]")
	fmt.Println("Authorize the current configuration by regenerating its integrity hash.")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: tailforward config check [--config PATH] [--format human|json] [--strict] [--json]")
	fmt.Println("Validate configuration, secret files and journal location.")
}

func printConfigShowHelp() {
	fmt.Println("Usage: tailforward config show [--config PATH] [--json]")
	fmt.Println("Show the resolved configuration. Secrets are never printed.")
}

func printDeliveriesListHelp() {
	fmt.Println("Usage: tailforward deliveries list [--config PATH] [--limit N] [--json]")
	fmt.Println("Show the most recent webhook outcomes, newest first.")
}

func printDeliveriesShowHelp() {
	fmt.Println("Usage: tailforward deliveries show <id> [--config PATH] [--json]")
	fmt.Println("Show how far one delivery got through the pipeline.")
}

func printDeliveriesPruneHelp() {
	fmt.Println("Usage: tailforward deliveries prune --older-than DURATION [--config PATH]")
	fmt.Println("Delete journal records older than DURATION (e.g. 720h).")
}

func printSignHelp() {
	fmt.Println("Usage: tailforward sign --secret-file PATH --body-file PATH [--timestamp UNIX]")
	fmt.Println("Print a Tailscale-Webhook-Signature value for the body, for testing with curl.")
}

// --- ACTION IMPLEMENTATIONS ---

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := config.Resolve(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("tailforward starting", "version", version, "config", cfg.SourcePath)

	secrets, err := config.LoadSecrets(cfg)
	if err != nil {
		logger.Error("failed to load secrets", "error", err)
		return 1
	}
	maxBody, err := cfg.Webhook.MaxBodyBytes()
	if err != nil {
		logger.Error("invalid webhook.max_body_size", "error", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing, version, log.WithComponent("tracing"))
	if err != nil {
		logger.Error("failed to set up tracing", "error", err)
		return 1
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer scancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("failed to flush spans", "error", err)
		}
	}()

	client := &http.Client{
		Timeout:   cfg.Telegram.Timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	forwarder := telegram.New(telegram.Config{
		BaseURL: cfg.Telegram.APIBase,
		Token:   secrets.Telegram,
		ChatID:  cfg.Telegram.ChatID,
	}, client, log.WithComponent("telegram"))

	p := pipeline.New(pipeline.Config{WebhookSecret: secrets.Webhook}, forwarder,
		pipeline.WithLogger(log.WithComponent("pipeline")))

	var opts []api.Option
	if cfg.Metrics.Enabled {
		opts = append(opts, api.WithObserver(metrics.New()))
		logger.Info("metrics enabled", "path", cfg.Metrics.Path)
	}
	if cfg.State.Path != "" {
		pidLock, err := lock.Acquire(lock.PathFor(cfg.State.Path))
		if err != nil {
			logger.Error("failed to lock journal (another instance may be running)", "path", cfg.State.Path, "error", err)
			return 1
		}
		defer pidLock.Release()

		db, err := storage.OpenSQLite(ctx, cfg.State.Path)
		if err != nil {
			logger.Error("failed to open journal", "path", cfg.State.Path, "error", err)
			return 1
		}
		defer db.Close()
		opts = append(opts, api.WithRecorder(journal.New(db)))
		logger.Info("journal opened", "path", cfg.State.Path)
	}

	srv := api.New(api.Config{
		Listen:          cfg.Listen,
		WebhookPath:     cfg.Webhook.Path,
		SignatureHeader: cfg.Webhook.SignatureHeader,
		MaxBodySize:     maxBody,
		MetricsPath:     cfg.Metrics.Path,
	}, p, log.WithComponent("api"), opts...)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	logger.Info("tailforward running", "listen", cfg.Listen, "path", cfg.Webhook.Path, "chat_id", cfg.Telegram.ChatID)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
		if err := <-errCh; err != nil && err != context.Canceled {
			logger.Error("shutdown failed", "error", err)
			return 1
		}
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			logger.Error("server failed", "error", err)
			return 1
		}
	}

	logger.Info("tailforward stopped")
	return 0
}
