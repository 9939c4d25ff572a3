// Package inspect renders a single journaled delivery as a stage-by-stage
// trail.
package inspect

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/KFearsoff/tailforward/internal/journal"
	"github.com/KFearsoff/tailforward/internal/pipeline"
)

// Step outcomes.
const (
	StepPassed  = "passed"
	StepFailed  = "failed"
	StepSkipped = "skipped"
)

// Getter looks up one delivery. *journal.Journal implements it.
type Getter interface {
	Get(ctx context.Context, id string) (journal.Entry, error)
}

// Report is the structured representation of a delivery.
type Report struct {
	ID         string    `json:"id"`
	ReceivedAt time.Time `json:"received_at"`
	RequestID  string    `json:"request_id,omitempty"`
	Outcome    string    `json:"outcome"`
	Kind       string    `json:"kind,omitempty"`
	Status     int       `json:"status"`
	Events     int       `json:"events"`
	Forwarded  int       `json:"forwarded"`
	DurationMS int64     `json:"duration_ms"`
	Steps      []Step    `json:"steps"`
}

// Step is one pipeline stage and what happened there.
type Step struct {
	Stage  string `json:"stage"`
	Result string `json:"result"`
	Detail string `json:"detail,omitempty"`
}

// BuildReport renders a terminal-friendly report for delivery id.
func BuildReport(ctx context.Context, g Getter, id string) (string, error) {
	report, err := gatherReport(ctx, g, id)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Delivery Report\n")
	fmt.Fprintf(&out, "ID          : %s\n", report.ID)
	fmt.Fprintf(&out, "Received    : %s\n", report.ReceivedAt.UTC().Format(time.RFC3339Nano))
	if report.RequestID != "" {
		fmt.Fprintf(&out, "Request ID  : %s\n", report.RequestID)
	} else {
		fmt.Fprintf(&out, "Request ID  : <none>\n")
	}
	fmt.Fprintf(&out, "Outcome     : %s\n", report.Outcome)
	if report.Kind != "" {
		fmt.Fprintf(&out, "Kind        : %s\n", report.Kind)
	}
	fmt.Fprintf(&out, "Status      : %d\n", report.Status)
	fmt.Fprintf(&out, "Forwarded   : %d of %d\n", report.Forwarded, report.Events)
	fmt.Fprintf(&out, "Duration    : %dms\n", report.DurationMS)
	fmt.Fprintf(&out, "\n")

	for i, step := range report.Steps {
		fmt.Fprintf(&out, "[%d] %-18s %s", i+1, step.Stage, step.Result)
		if step.Detail != "" {
			fmt.Fprintf(&out, " (%s)", step.Detail)
		}
		fmt.Fprintf(&out, "\n")
	}

	return out.String(), nil
}

// BuildJSONReport returns the machine-readable report.
func BuildJSONReport(ctx context.Context, g Getter, id string) (string, error) {
	report, err := gatherReport(ctx, g, id)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

func gatherReport(ctx context.Context, g Getter, id string) (*Report, error) {
	e, err := g.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	reached, ok := pipeline.ParseStage(e.Stage)
	if !ok {
		return nil, fmt.Errorf("delivery %s has unknown stage %q", e.ID, e.Stage)
	}

	report := &Report{
		ID:         e.ID,
		ReceivedAt: e.ReceivedAt,
		RequestID:  e.RequestID,
		Kind:       e.Kind,
		Status:     e.Status,
		Events:     e.Events,
		Forwarded:  e.Forwarded,
		DurationMS: e.Duration.Milliseconds(),
		Steps:      Trail(e, reached),
	}
	switch reached {
	case pipeline.StageDone:
		report.Outcome = "forwarded"
	case pipeline.StageStart:
		report.Outcome = "rejected before verification"
	default:
		report.Outcome = "failed at " + e.Stage
	}
	return report, nil
}

// Trail lists every pipeline stage with its result for a delivery that
// stopped at reached. Stages run strictly in order, so everything before
// reached passed and everything after it never ran.
func Trail(e journal.Entry, reached pipeline.Stage) []Step {
	steps := make([]Step, 0, int(pipeline.StageForward))
	for s := pipeline.StageParseHeader; s <= pipeline.StageForward; s++ {
		step := Step{Stage: s.String()}
		switch {
		case reached == pipeline.StageStart:
			step.Result = StepSkipped
		case s < reached:
			step.Result = StepPassed
		case s == reached:
			step.Result = StepFailed
			step.Detail = e.Kind
		default:
			step.Result = StepSkipped
		}

		switch s {
		case pipeline.StageDecodeEvents:
			if step.Result == StepPassed {
				step.Detail = fmt.Sprintf("%d event(s)", e.Events)
			}
		case pipeline.StageForward:
			if step.Result == StepSkipped {
				break
			}
			sent := fmt.Sprintf("%d of %d sent", e.Forwarded, e.Events)
			if step.Detail == "" {
				step.Detail = sent
			} else {
				step.Detail += ", " + sent
			}
		}
		steps = append(steps, step)
	}
	return steps
}
