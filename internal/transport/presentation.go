package transport

import (
	"fmt"
	"strings"

	"github.com/agentmaild/agentmaild/internal/dispatcher"
	"github.com/agentmaild/agentmaild/internal/store"
)

// Presented wraps a structured ToolResult with an optional human-facing
// string. Presentation is a transport-adapter concern (spec §4.4 point 4);
// tests should assert on Data, a CLI may print Text.
type Presented struct {
	Data any    `json:"data"`
	Text string `json:"text,omitempty"`
}

// Present renders a friendly preview for CLI output alongside the
// structured result; it never replaces the structured form.
func Present(method string, result any) Presented {
	tr, ok := result.(dispatcher.ToolResult)
	if !ok {
		return Presented{Data: result}
	}

	switch v := tr.Data.(type) {
	case []store.Message:
		return Presented{Data: tr.Data, Text: presentMessageList(method, v)}
	case store.Message:
		return Presented{Data: tr.Data, Text: presentMessage(v)}
	default:
		return Presented{Data: tr.Data}
	}
}

func presentMessageList(method string, msgs []store.Message) string {
	if len(msgs) == 0 {
		return "📭 no messages"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📬 %d message(s)\n", len(msgs))
	for _, m := range msgs {
		b.WriteString(priorityEmoji(m.Priority))
		b.WriteByte(' ')
		b.WriteString(preview(m.Subject, 60))
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func presentMessage(m store.Message) string {
	return fmt.Sprintf("%s %s\n\n%s", priorityEmoji(m.Priority), m.Subject, preview(m.Body, 500))
}

func priorityEmoji(p store.Priority) string {
	switch p {
	case store.PriorityUrgent:
		return "🔴"
	case store.PriorityHigh:
		return "🟠"
	case store.PriorityLow:
		return "⚪"
	default:
		return "🔵"
	}
}

func preview(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
