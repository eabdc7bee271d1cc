// Package present renders pending requests and queue state into outbound
// messages for the remote channel. Everything lands in a single chat with a
// per-session marker prefix; the presenter owns no routing decisions.
package present

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/afkbridge/afkd/internal/bridge"
	"github.com/afkbridge/afkd/internal/policy"
	"github.com/afkbridge/afkd/internal/protocol"
	"github.com/afkbridge/afkd/internal/queue"
)

// QueueInfo is the queue context re-derived for each presentation, so the
// displayed depth is always current.
type QueueInfo struct {
	TailSize     int
	TailSessions []string
}

// SessionPresenter turns requests into outbound content and delivers it.
// Swappable for a topic-per-session scheme without touching queue or manager.
type SessionPresenter interface {
	FormatActiveRequest(req *queue.Request, info QueueInfo) (string, []bridge.Row)
	FormatQueuedNotification(req *queue.Request, active *queue.Request, position int) string
	FormatQueueSummary(summary []queue.Entry) (string, []bridge.Row)
	SendToSession(ctx context.Context, session, text string, controls []bridge.Row) (string, error)
}

// SingleChatPresenter renders everything into the one configured chat.
type SingleChatPresenter struct {
	client  bridge.Client
	markers interface{ SessionMarker(string) string }
}

func NewSingleChatPresenter(client bridge.Client, markers interface{ SessionMarker(string) string }) *SingleChatPresenter {
	return &SingleChatPresenter{client: client, markers: markers}
}

func (p *SingleChatPresenter) marker(session string) string {
	if p.markers == nil {
		return ""
	}
	return p.markers.SessionMarker(session)
}

func (p *SingleChatPresenter) header(session string) string {
	return fmt.Sprintf("%s %s", p.marker(session), session)
}

func typeLabel(t protocol.RequestType) string {
	switch t {
	case protocol.TypePermission:
		return "permission"
	case protocol.TypeFreeTextInput:
		return "input"
	case protocol.TypeMultipleChoice:
		return "question"
	case protocol.TypeContextUpdate:
		return "context"
	default:
		return string(t)
	}
}

// FormatActiveRequest renders the request being presented to the human,
// with reply controls appropriate for its type.
func (p *SingleChatPresenter) FormatActiveRequest(req *queue.Request, info QueueInfo) (string, []bridge.Row) {
	// Prompts come straight from the session; scrub secrets before they
	// land in the chat history.
	prompt, _ := policy.Redact(req.Prompt)

	var b strings.Builder
	fmt.Fprintf(&b, "%s · %s", p.header(req.Session), typeLabel(req.Type))
	if req.Type == protocol.TypePermission && policy.ClassifyPrompt(req.Prompt) == policy.RiskHigh {
		b.WriteString(" · ⚠️ high risk")
	}
	fmt.Fprintf(&b, "\n\n%s", prompt)

	var rows []bridge.Row
	switch req.Type {
	case protocol.TypePermission:
		rows = append(rows, bridge.Row{
			{Label: "✅ Allow", Data: protocol.AnswerYes},
			{Label: "♻️ Always", Data: protocol.AnswerAlways},
			{Label: "❌ Deny", Data: protocol.AnswerNo},
		})
	case protocol.TypeMultipleChoice:
		for _, opt := range req.Options {
			label := opt.Label
			if opt.Description != "" {
				fmt.Fprintf(&b, "\n• %s — %s", opt.Label, opt.Description)
			}
			rows = append(rows, bridge.Row{{Label: label, Data: protocol.OptionCallback(opt.Label)}})
		}
		rows = append(rows, bridge.Row{{Label: "✏️ Other…", Data: protocol.AnswerOther}})
	case protocol.TypeFreeTextInput:
		// Plain reply expected, no controls.
	}

	if info.TailSize > 0 {
		fmt.Fprintf(&b, "\n\n⏳ %d more waiting: %s", info.TailSize, strings.Join(info.TailSessions, ", "))
		rows = append(rows, bridge.Row{
			{Label: "⏭ Skip", Data: protocol.CmdSkip},
			{Label: "📋 Show all", Data: protocol.CmdShowQueue},
		})
	}

	return b.String(), rows
}

// FormatQueuedNotification tells a session's human that its request is
// parked behind the current active one.
func (p *SingleChatPresenter) FormatQueuedNotification(req *queue.Request, active *queue.Request, position int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s · %s queued at #%d", p.header(req.Session), typeLabel(req.Type), position)
	if active != nil {
		fmt.Fprintf(&b, "\nWaiting for %s (%s).", p.header(active.Session), typeLabel(active.Type))
	}
	return b.String()
}

// FormatQueueSummary renders the whole queue with a "handle now" control per
// queued entry and a skip control for the active one.
func (p *SingleChatPresenter) FormatQueueSummary(summary []queue.Entry) (string, []bridge.Row) {
	if len(summary) == 0 {
		return "Queue is empty — nothing waiting.", nil
	}

	var b strings.Builder
	b.WriteString("📋 Request queue:\n")
	var rows []bridge.Row
	for _, e := range summary {
		status := "queued"
		if e.Active {
			status = "active"
		}
		fmt.Fprintf(&b, "\n%d. %s %s · %s · %s · waiting %s",
			e.Position, e.Marker, e.Session, typeLabel(e.Type), status, formatWait(e.Waiting))
		if e.Active {
			rows = append(rows, bridge.Row{{Label: "⏭ Skip active", Data: protocol.CmdSkip}})
		} else {
			rows = append(rows, bridge.Row{{
				Label: fmt.Sprintf("▶️ Handle %s now", e.Session),
				Data:  protocol.PriorityCallback(e.Session),
			}})
		}
	}
	return b.String(), rows
}

// SendToSession delivers text prefixed with the session marker.
func (p *SingleChatPresenter) SendToSession(ctx context.Context, session, text string, controls []bridge.Row) (string, error) {
	if session != "" && !strings.HasPrefix(text, p.marker(session)) {
		text = p.header(session) + "\n" + text
	}
	return p.client.SendMessage(ctx, text, controls)
}

func formatWait(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
}
