package dispatch

import (
	"encoding/json"
	"fmt"
	"strings"

	"sandboxnotify/internal/types"
)

// maxChatFields caps the facts section at Slack's per-block field limit.
const maxChatFields = 10

// --- Slack-compatible payload types (Block Kit) ---

type slackPayload struct {
	Text   string       `json:"text"` // fallback text for push notifications
	Blocks []slackBlock `json:"blocks"`
}

type slackBlock struct {
	Type     string       `json:"type"` // "section", "header", "context"
	Text     *slackText   `json:"text,omitempty"`
	Fields   []*slackText `json:"fields,omitempty"`
	Elements []*slackText `json:"elements,omitempty"`
}

type slackText struct {
	Type string `json:"type"` // "plain_text", "mrkdwn"
	Text string `json:"text"`
}

// chatFieldOrder fixes the facts section layout. Keys absent from the
// personalization are skipped, so every event type renders only what it has.
var chatFieldOrder = []struct{ key, label string }{
	{"displayName", "User"},
	{"accountId", "Account"},
	{"accountName", "Account name"},
	{"leaseTemplateName", "Template"},
	{"maxSpend", "Budget"},
	{"budgetUsed", "Spent"},
	{"threshold", "Threshold"},
	{"requestedDuration", "Requested duration"},
	{"expiresAt", "Expires"},
	{"expiredAt", "Expired"},
	{"reason", "Reason"},
	{"approvedBy", "Approved by"},
	{"deniedBy", "Denied by"},
	{"reportId", "Report"},
	{"periodStart", "Period start"},
	{"periodEnd", "Period end"},
}

// chatLinkOrder fixes the action line layout. Approvals lead because the
// operator channel exists mostly to action pending requests.
var chatLinkOrder = []struct {
	action types.Action
	label  string
}{
	{types.ActionApprove, "Approve"},
	{types.ActionDeny, "Deny"},
	{types.ActionView, "View lease"},
	{types.ActionBudgetIncrease, "Increase budget"},
	{types.ActionReport, "View report"},
	{types.ActionFallback, "Open portal"},
}

// buildChatMessage renders a ChatRequest as Slack-compatible Block Kit JSON:
// a header, a facts section, an action-links line, and a context footer.
func buildChatMessage(req types.ChatRequest) ([]byte, error) {
	title := eventTitle(req.EventType)

	fallback := title
	if name := req.Personalization["displayName"]; name != "" {
		fallback = fmt.Sprintf("%s for %s", title, name)
	}

	payload := slackPayload{
		Text: fallback,
		Blocks: []slackBlock{
			{
				Type: "header",
				Text: &slackText{Type: "plain_text", Text: title},
			},
		},
	}

	if fields := buildChatFields(req.Personalization); len(fields) > 0 {
		payload.Blocks = append(payload.Blocks, slackBlock{
			Type:   "section",
			Fields: fields,
		})
	}

	if line := buildChatLinks(req.Links); line != "" {
		payload.Blocks = append(payload.Blocks, slackBlock{
			Type: "section",
			Text: &slackText{Type: "mrkdwn", Text: line},
		})
	}

	payload.Blocks = append(payload.Blocks, slackBlock{
		Type: "context",
		Elements: []*slackText{
			{
				Type: "mrkdwn",
				Text: fmt.Sprintf("*Event*: %s | *Ref*: %s | Sandbox Notifier", req.EventType, req.Reference),
			},
		},
	})

	return json.Marshal(payload)
}

func buildChatFields(p types.Personalization) []*slackText {
	var fields []*slackText
	for _, f := range chatFieldOrder {
		v := p[f.key]
		if v == "" {
			continue
		}
		fields = append(fields, &slackText{
			Type: "mrkdwn",
			Text: fmt.Sprintf("*%s*\n%s", f.label, v),
		})
		if len(fields) == maxChatFields {
			break
		}
	}
	return fields
}

func buildChatLinks(links types.LinkSet) string {
	var parts []string
	for _, l := range chatLinkOrder {
		link, ok := links[l.action]
		if !ok || link.URL == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("<%s|%s>", link.URL, l.label))
	}
	return strings.Join(parts, " | ")
}

func eventTitle(et types.EventType) string {
	switch et {
	case types.EventLeaseRequested:
		return "Sandbox lease requested"
	case types.EventLeaseApproved:
		return "Sandbox lease approved"
	case types.EventLeaseDenied:
		return "Sandbox lease denied"
	case types.EventLeaseTerminated:
		return "Sandbox lease terminated"
	case types.EventLeaseBudgetExceeded:
		return "Sandbox budget exceeded"
	case types.EventLeaseExpired:
		return "Sandbox lease expired"
	case types.EventLeaseFrozen:
		return "Sandbox account frozen"
	case types.EventLeaseBudgetThresholdAlert:
		return "Sandbox budget threshold reached"
	case types.EventLeaseDurationThresholdAlert:
		return "Sandbox lease nearing expiry"
	case types.EventLeaseFreezeThresholdAlert:
		return "Sandbox account nearing freeze"
	case types.EventCostReportReady:
		return "Sandbox cost report ready"
	default:
		return "Sandbox notification"
	}
}
