package telegram

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/KFearsoff/tailforward/internal/webhook"
)

// Message is the sendMessage request body.
type Message struct {
	ChatID int64  `json:"chat_id"`
	Text   string `json:"text"`
}

// Render formats an event as chat text. Field order is fixed and every field
// is included, so the same event always renders to the same text.
func Render(ev webhook.Event) string {
	var b strings.Builder
	b.WriteString("timestamp: ")
	b.WriteString(ev.Timestamp.UTC().Format(time.RFC3339))
	b.WriteString("\nversion: ")
	b.WriteString(strconv.Itoa(int(ev.Version)))
	b.WriteString("\ntype: ")
	b.WriteString(ev.Type)
	b.WriteString("\ntailnet: ")
	b.WriteString(ev.Tailnet)
	b.WriteString("\nmessage: ")
	b.WriteString(ev.Message)
	b.WriteString("\ndata: ")
	b.WriteString(renderData(ev))
	return b.String()
}

func renderData(ev webhook.Event) string {
	if !ev.HasData() {
		return "none"
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, ev.Data); err != nil {
		return string(ev.Data)
	}
	return buf.String()
}

// NewMessage builds the outbound message for one event.
func NewMessage(chatID int64, ev webhook.Event) Message {
	return Message{ChatID: chatID, Text: Render(ev)}
}
