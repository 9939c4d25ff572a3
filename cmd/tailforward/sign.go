package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/KFearsoff/tailforward/internal/config"
	"github.com/KFearsoff/tailforward/internal/webhook"
)

// runSign prints a signature header for a body file so deliveries can be
// replayed by hand:
//
//	curl -H "Tailscale-Webhook-Signature: $(tailforward sign ...)" --data-binary @body.json
func runSign(args []string) int {
	fs := flag.NewFlagSet("sign", flag.ContinueOnError)
	secretFile := fs.String("secret-file", "", "File holding the webhook secret")
	bodyFile := fs.String("body-file", "", "File holding the exact request body")
	timestamp := fs.Int64("timestamp", 0, "Unix timestamp to sign (default now)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if *secretFile == "" || *bodyFile == "" {
		fmt.Fprintln(os.Stderr, "Usage: tailforward sign --secret-file PATH --body-file PATH [--timestamp UNIX]")
		return 1
	}

	secret, err := config.ReadSecretFile(*secretFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	body, err := os.ReadFile(*bodyFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read body: %v\n", err)
		return 1
	}

	ts := *timestamp
	if ts == 0 {
		ts = time.Now().Unix()
	}
	fmt.Println(webhook.SignHeader(secret.Bytes(), ts, body))
	return 0
}
