package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Event is one control-plane notification from a webhook batch.
type Event struct {
	Timestamp time.Time       `json:"timestamp"`
	Version   uint8           `json:"version"`
	Type      string          `json:"type"`
	Tailnet   string          `json:"tailnet"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// HasData reports whether the event carries a structured payload.
func (e Event) HasData() bool {
	return len(e.Data) > 0
}

// wireEvent uses pointers to tell missing fields from zero values.
type wireEvent struct {
	Timestamp *time.Time      `json:"timestamp"`
	Version   *uint8          `json:"version"`
	Type      *string         `json:"type"`
	Tailnet   *string         `json:"tailnet"`
	Message   *string         `json:"message"`
	Data      json.RawMessage `json:"data"`
}

// DecodeEvents decodes an authenticated request body into events, preserving
// order. It must only be called after VerifySignature succeeded.
func DecodeEvents(body []byte) ([]Event, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, malformedPayload(errors.New("body is not a JSON array"))
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	var wire []wireEvent
	if err := dec.Decode(&wire); err != nil {
		return nil, malformedPayload(err)
	}
	if dec.More() {
		return nil, malformedPayload(errors.New("unexpected data after JSON array"))
	}

	events := make([]Event, 0, len(wire))
	for i, w := range wire {
		ev, err := w.event()
		if err != nil {
			return nil, malformedPayload(fmt.Errorf("event %d: %w", i, err))
		}
		events = append(events, ev)
	}
	return events, nil
}

func (w wireEvent) event() (Event, error) {
	switch {
	case w.Timestamp == nil:
		return Event{}, errors.New("missing field \"timestamp\"")
	case w.Version == nil:
		return Event{}, errors.New("missing field \"version\"")
	case w.Type == nil:
		return Event{}, errors.New("missing field \"type\"")
	case w.Tailnet == nil:
		return Event{}, errors.New("missing field \"tailnet\"")
	case w.Message == nil:
		return Event{}, errors.New("missing field \"message\"")
	}

	ev := Event{
		Timestamp: w.Timestamp.UTC(),
		Version:   *w.Version,
		Type:      *w.Type,
		Tailnet:   *w.Tailnet,
		Message:   *w.Message,
	}
	if len(w.Data) > 0 && !bytes.Equal(w.Data, []byte("null")) {
		ev.Data = append(json.RawMessage(nil), w.Data...)
	}
	return ev, nil
}
