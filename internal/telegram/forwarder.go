package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/KFearsoff/tailforward/internal/config"
	"github.com/KFearsoff/tailforward/internal/webhook"
)

// DefaultBaseURL is the public Bot API endpoint.
const DefaultBaseURL = "https://api.telegram.org"

// maxErrorBody caps how much of an error response is read.
const maxErrorBody = 4096

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds the destination of forwarded events.
type Config struct {
	// BaseURL defaults to DefaultBaseURL.
	BaseURL string
	Token   config.Secret
	ChatID  int64
}

// Forwarder relays webhook events to a single Telegram chat, one message per
// event, strictly in order.
type Forwarder struct {
	client  Doer
	baseURL string
	token   config.Secret
	chatID  int64
	logger  *slog.Logger
}

// New creates a Forwarder. The token and chat id are fixed for its lifetime.
func New(cfg Config, client Doer, logger *slog.Logger) *Forwarder {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Forwarder{
		client:  client,
		baseURL: base,
		token:   cfg.Token,
		chatID:  cfg.ChatID,
		logger:  logger,
	}
}

// Forward posts one message per event and returns how many were delivered.
//
// Each message is tried exactly once. The first failure stops the batch; the
// messages already sent stay sent. The returned error is a
// webhook.KindForwardingFailure error whose text never contains the token.
func (f *Forwarder) Forward(ctx context.Context, events []webhook.Event) (int, error) {
	endpoint := f.baseURL + "/bot" + f.token.Reveal() + "/sendMessage"

	for i, ev := range events {
		if err := ctx.Err(); err != nil {
			return i, webhook.ForwardingError(i, 0, err)
		}

		msg := NewMessage(f.chatID, ev)
		f.logger.Debug("sending message", "index", i, "event_type", ev.Type, "chat_id", f.chatID)

		status, err := f.send(ctx, endpoint, msg)
		if err != nil {
			err = f.redact(err)
			f.logger.Warn("telegram send failed", "index", i, "status", status, "error", err)
			return i, webhook.ForwardingError(i, status, err)
		}

		f.logger.Info("sent message", "index", i, "event_type", ev.Type, "chat_id", f.chatID)
	}
	return len(events), nil
}

// send performs one sendMessage call and returns the response status.
func (f *Forwarder) send(ctx context.Context, endpoint string, msg Message) (int, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, apiError(resp)
	}

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	return resp.StatusCode, nil
}

// apiResponse is the envelope the Bot API wraps every reply in.
type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

func apiError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var ar apiResponse
	if err := json.Unmarshal(data, &ar); err == nil && ar.Description != "" {
		return fmt.Errorf("telegram api: %s", ar.Description)
	}
	return fmt.Errorf("telegram api returned status %d", resp.StatusCode)
}

// redact strips the bot token from err. *url.Error is rebuilt so that
// errors.Is(err, context.Canceled) and friends keep working.
func (f *Forwarder) redact(err error) error {
	token := f.token.Reveal()
	if token == "" {
		return err
	}

	var ue *url.Error
	if errors.As(err, &ue) {
		return &url.Error{
			Op:  ue.Op,
			URL: strings.ReplaceAll(ue.URL, token, config.Redacted),
			Err: scrubbed(ue.Err, token),
		}
	}
	return scrubbed(err, token)
}

// scrubbedError carries a token-free message while still unwrapping to the
// original cause.
type scrubbedError struct {
	msg string
	err error
}

func (e *scrubbedError) Error() string { return e.msg }
func (e *scrubbedError) Unwrap() error { return e.err }

func scrubbed(err error, token string) error {
	if err == nil || !strings.Contains(err.Error(), token) {
		return err
	}
	return &scrubbedError{msg: strings.ReplaceAll(err.Error(), token, config.Redacted), err: err}
}
