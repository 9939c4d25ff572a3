package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/KFearsoff/tailforward/internal/config"
	"github.com/KFearsoff/tailforward/internal/webhook"
)

//go:generate mockgen -destination=mocks/mock_sender.go -package=mocks github.com/KFearsoff/tailforward/internal/pipeline Sender

// Sender delivers decoded events downstream. *telegram.Forwarder implements it.
type Sender interface {
	// Forward delivers events in order and returns how many were delivered
	// before the first failure.
	Forward(ctx context.Context, events []webhook.Event) (int, error)
}

// Stage is a step of the webhook pipeline.
type Stage int

const (
	StageStart Stage = iota
	StageParseHeader
	StageValidateFreshness
	StageVerifyMAC
	StageDecodeEvents
	StageForward
	StageDone
)

var stageNames = [...]string{
	StageStart:             "start",
	StageParseHeader:       "parse_header",
	StageValidateFreshness: "validate_freshness",
	StageVerifyMAC:         "verify_mac",
	StageDecodeEvents:      "decode_events",
	StageForward:           "forward",
	StageDone:              "done",
}

func (s Stage) String() string {
	if s >= 0 && int(s) < len(stageNames) {
		return stageNames[s]
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// ParseStage is the inverse of Stage.String.
func ParseStage(name string) (Stage, bool) {
	for s, n := range stageNames {
		if n == name {
			return Stage(s), true
		}
	}
	return 0, false
}

// Request is one inbound delivery.
type Request struct {
	// Header is the raw signature header value.
	Header string
	// Body is the request body exactly as received.
	Body []byte
	// Now is the receive time. Zero means time.Now().
	Now time.Time
}

// Result reports how far a request got.
type Result struct {
	// Stage is StageDone on success, otherwise the stage that failed.
	Stage Stage
	// Events is the number of decoded events (0 if decoding never ran).
	Events int
	// Forwarded is the number of events delivered.
	Forwarded int
}

// StageError wraps the *webhook.Error of the stage that failed.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return e.Stage.String() + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error { return e.Err }

// Config holds the pipeline's immutable inputs.
type Config struct {
	WebhookSecret config.Secret
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithTracer sets the tracer used for stage spans. Defaults to the global
// provider's tracer.
func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) { p.tracer = t }
}

// WithClock sets the time source used when a Request carries no receive time.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// Pipeline verifies a signed delivery and forwards its events. It holds no
// per-request state and is safe for concurrent use.
type Pipeline struct {
	secret config.Secret
	sender Sender
	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// New creates a Pipeline that forwards through sender.
func New(cfg Config, sender Sender, opts ...Option) *Pipeline {
	p := &Pipeline{
		secret: cfg.WebhookSecret,
		sender: sender,
		logger: slog.Default(),
		tracer: otel.Tracer("github.com/KFearsoff/tailforward/internal/pipeline"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run drives req through every stage and stops at the first failure.
//
// The body is authenticated before it is parsed: a request with a bad or
// stale signature never reaches the JSON decoder.
func (p *Pipeline) Run(ctx context.Context, req Request) (Result, error) {
	now := req.Now
	if now.IsZero() {
		now = p.now()
	}

	ctx, span := p.tracer.Start(ctx, "tailforward.pipeline.run")
	defer span.End()

	var res Result

	var hdr webhook.SignatureHeader
	err := p.stage(ctx, StageParseHeader, func(context.Context) error {
		var err error
		hdr, err = webhook.ParseSignatureHeader(req.Header)
		return err
	})
	if err != nil {
		return p.fail(ctx, &res, StageParseHeader, err)
	}

	err = p.stage(ctx, StageValidateFreshness, func(context.Context) error {
		return webhook.CheckFreshness(hdr.Timestamp, now)
	})
	if err != nil {
		return p.fail(ctx, &res, StageValidateFreshness, err)
	}

	err = p.stage(ctx, StageVerifyMAC, func(context.Context) error {
		return webhook.VerifySignature(p.secret.Bytes(), webhook.SigningString(hdr.Unix(), req.Body), hdr.Signature.Value)
	})
	if err != nil {
		return p.fail(ctx, &res, StageVerifyMAC, err)
	}

	var events []webhook.Event
	err = p.stage(ctx, StageDecodeEvents, func(context.Context) error {
		var err error
		events, err = webhook.DecodeEvents(req.Body)
		return err
	})
	if err != nil {
		return p.fail(ctx, &res, StageDecodeEvents, err)
	}
	res.Events = len(events)
	span.SetAttributes(attribute.Int("tailforward.events", len(events)))

	err = p.stage(ctx, StageForward, func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return webhook.ForwardingError(0, 0, err)
		}
		n, err := p.sender.Forward(ctx, events)
		res.Forwarded = n
		if err != nil {
			var we *webhook.Error
			if !errors.As(err, &we) {
				err = webhook.ForwardingError(n, 0, err)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return p.fail(ctx, &res, StageForward, err)
	}

	res.Stage = StageDone
	span.SetAttributes(attribute.Int("tailforward.forwarded", res.Forwarded))
	p.logger.Debug("pipeline done", "events", res.Events, "forwarded", res.Forwarded)
	return res, nil
}

// stage runs fn inside its own span.
func (p *Pipeline) stage(ctx context.Context, s Stage, fn func(context.Context) error) error {
	ctx, span := p.tracer.Start(ctx, "tailforward.pipeline."+s.String())
	defer span.End()

	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, webhook.KindOf(err).String())
	}
	return err
}

func (p *Pipeline) fail(ctx context.Context, res *Result, s Stage, err error) (Result, error) {
	res.Stage = s
	kind := webhook.KindOf(err)

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("tailforward.stage", s.String()),
		attribute.String("tailforward.error_kind", kind.String()),
	)
	span.SetStatus(codes.Error, kind.String())

	level := slog.LevelInfo
	if kind == webhook.KindForwardingFailure {
		level = slog.LevelWarn
	}
	p.logger.Log(ctx, level, "webhook rejected",
		"stage", s.String(),
		"kind", kind.String(),
		"events", res.Events,
		"forwarded", res.Forwarded,
		"error", err,
	)
	return *res, &StageError{Stage: s, Err: err}
}
