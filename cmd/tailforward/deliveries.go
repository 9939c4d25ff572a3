package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/KFearsoff/tailforward/internal/config"
	"github.com/KFearsoff/tailforward/internal/inspect"
	"github.com/KFearsoff/tailforward/internal/journal"
	"github.com/KFearsoff/tailforward/internal/storage"
)

var errNoJournal = errors.New("state.path is empty; the delivery journal is disabled")

// openJournal loads the config and opens the journal it names.
func openJournal(ctx context.Context, configPath string) (*sql.DB, *journal.Journal, error) {
	cfg, err := config.Resolve(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.State.Path == "" {
		return nil, nil, errNoJournal
	}
	if _, err := os.Stat(cfg.State.Path); err != nil {
		return nil, nil, fmt.Errorf("journal %s: %w", cfg.State.Path, err)
	}
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open journal: %w", err)
	}
	return db, journal.New(db), nil
}

func runDeliveriesList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	limit := fs.Int("limit", journal.DefaultLimit, "Maximum number of records")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	ctx := context.Background()
	db, j, err := openJournal(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer db.Close()

	entries, err := j.Recent(ctx, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read journal: %v\n", err)
		return 1
	}

	if *jsonOut {
		if entries == nil {
			entries = []journal.Entry{}
		}
		data, _ := json.MarshalIndent(entries, "", "  ")
		fmt.Println(string(data))
		return 0
	}

	if len(entries) == 0 {
		fmt.Println("No deliveries recorded.")
		return 0
	}
	fmt.Printf("%-20s  %-18s  %-24s  %6s  %9s  %6s  %s\n",
		"RECEIVED", "STAGE", "KIND", "EVENTS", "FORWARDED", "STATUS", "DURATION")
	for _, e := range entries {
		kind := e.Kind
		if kind == "" {
			kind = "-"
		}
		fmt.Printf("%-20s  %-18s  %-24s  %6d  %9d  %6d  %s\n",
			e.ReceivedAt.UTC().Format(time.RFC3339), e.Stage, kind,
			e.Events, e.Forwarded, e.Status, e.Duration.Round(time.Millisecond))
	}
	return 0
}

func runDeliveriesShow(args []string) int {
	var configPath string
	var jsonOut bool

	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&jsonOut, "json", false, "Output report in JSON")

	// The id may come before or after the flags.
	var id string
	var remainingArgs []string
	for _, arg := range args {
		if !strings.HasPrefix(arg, "-") && id == "" && !isFlagValue(remainingArgs) {
			id = arg
		} else {
			remainingArgs = append(remainingArgs, arg)
		}
	}
	if err := fs.Parse(remainingArgs); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if id == "" {
		fmt.Fprintln(os.Stderr, "Usage: tailforward deliveries show <id> [--config PATH] [--json]")
		return 1
	}

	ctx := context.Background()
	db, j, err := openJournal(ctx, configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer db.Close()

	var report string
	if jsonOut {
		report, err = inspect.BuildJSONReport(ctx, j, id)
		report += "\n"
	} else {
		report, err = inspect.BuildReport(ctx, j, id)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Show failed: %v\n", err)
		return 1
	}
	fmt.Print(report)
	return 0
}

// isFlagValue reports whether the next argument is the value of a trailing
// flag that takes one, as in "--config PATH".
func isFlagValue(parsed []string) bool {
	if len(parsed) == 0 {
		return false
	}
	last := parsed[len(parsed)-1]
	return last == "--config" || last == "-config"
}

func runDeliveriesPrune(args []string) int {
	fs := flag.NewFlagSet("prune", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	olderThan := fs.Duration("older-than", 0, "Delete records received before now minus this duration")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if *olderThan <= 0 {
		fmt.Fprintln(os.Stderr, "Usage: tailforward deliveries prune --older-than DURATION [--config PATH]")
		return 1
	}

	ctx := context.Background()
	db, j, err := openJournal(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer db.Close()

	n, err := j.Prune(ctx, time.Now().Add(-*olderThan))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Prune failed: %v\n", err)
		return 1
	}
	fmt.Printf("Deleted %d record(s) older than %s\n", n, *olderThan)
	return 0
}
