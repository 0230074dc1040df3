package webhook

import (
	"fmt"
	"strings"
	"time"
)

// Rules tune the reaction heuristics.
type Rules struct {
	// Handles that count as a mention of the agent ("@agentlink", "<@U0BOT>").
	// Matching is case-insensitive; a GitHub reviewer login matches a handle
	// with or without the leading "@".
	Handles []string

	// Linear priorities 1..PriorityThreshold react (1 urgent, 2 high).
	PriorityThreshold int

	// Workflow state names containing any of these react.
	AttentionStates []string

	// Labels (GitHub) that react on issues.
	AttentionLabels []string

	// Due dates closer than this react.
	DeadlineWindow time.Duration
}

// DefaultRules are used for zero fields.
var DefaultRules = Rules{
	Handles:           []string{"@agentlink"},
	PriorityThreshold: 2,
	AttentionStates:   []string{"blocked", "needs review", "in review"},
	AttentionLabels:   []string{"urgent", "p0", "agent"},
	DeadlineWindow:    48 * time.Hour,
}

func (r Rules) withDefaults() Rules {
	if len(r.Handles) == 0 {
		r.Handles = DefaultRules.Handles
	}
	if r.PriorityThreshold <= 0 {
		r.PriorityThreshold = DefaultRules.PriorityThreshold
	}
	if r.AttentionStates == nil {
		r.AttentionStates = DefaultRules.AttentionStates
	}
	if r.AttentionLabels == nil {
		r.AttentionLabels = DefaultRules.AttentionLabels
	}
	if r.DeadlineWindow <= 0 {
		r.DeadlineWindow = DefaultRules.DeadlineWindow
	}
	return r
}

// Decision is the outcome of Classify.
type Decision struct {
	ShouldReact     bool
	Reason          string
	SuggestedAction string
}

func react(reason, action string) Decision {
	return Decision{ShouldReact: true, Reason: reason, SuggestedAction: action}
}

func skip(reason string) Decision { return Decision{Reason: reason} }

// Classify decides whether an event warrants agent processing. It is pure:
// the same rules, input and now always give the same decision.
func Classify(rules Rules, provider, eventType string, payload map[string]any, now time.Time) Decision {
	r := rules.withDefaults()
	switch provider {
	case "slack":
		return r.slack(eventType, payload)
	case "linear":
		return r.linear(eventType, payload, now)
	case "github":
		return r.github(eventType, payload)
	default:
		if r.mentions(str(payload, "text")) {
			return react("mentioned", "reply")
		}
		return skip("no rule matched")
	}
}

func (r Rules) mentions(text string) bool {
	if text == "" {
		return false
	}
	lower := strings.ToLower(text)
	for _, h := range r.Handles {
		if h != "" && strings.Contains(lower, strings.ToLower(h)) {
			return true
		}
	}
	return false
}

func (r Rules) isHandle(login string) bool {
	if login == "" {
		return false
	}
	for _, h := range r.Handles {
		if strings.EqualFold(strings.TrimPrefix(h, "@"), strings.TrimPrefix(login, "@")) {
			return true
		}
	}
	return false
}

func containsAny(s string, subs []string) (string, bool) {
	lower := strings.ToLower(s)
	for _, sub := range subs {
		if sub != "" && strings.Contains(lower, strings.ToLower(sub)) {
			return sub, true
		}
	}
	return "", false
}

func (r Rules) slack(eventType string, p map[string]any) Decision {
	ev := func(k string) string { return str(p, "event", k) }
	switch eventType {
	case "app_mention":
		return react("mentioned", "reply_in_thread")
	case "message":
		if ev("bot_id") != "" || ev("subtype") != "" {
			return skip("bot or system message")
		}
		if ev("channel_type") == "im" {
			return react("direct_message", "reply")
		}
		if r.mentions(ev("text")) {
			return react("mentioned", "reply_in_thread")
		}
		return skip("ordinary channel message")
	}
	return skip("event type not handled")
}

func (r Rules) linear(eventType string, p map[string]any, now time.Time) Decision {
	switch eventType {
	case "Issue.create", "Issue.update":
		stateType := strings.ToLower(str(p, "data", "state", "type"))
		if stateType == "completed" || stateType == "canceled" {
			return skip("issue closed")
		}
		if prio, ok := num(p, "data", "priority"); ok && prio >= 1 && int(prio) <= r.PriorityThreshold {
			return react(fmt.Sprintf("priority %d", int(prio)), "triage_issue")
		}
		if name := str(p, "data", "state", "name"); name != "" {
			if _, ok := containsAny(name, r.AttentionStates); ok {
				return react("state "+name, "follow_up")
			}
		}
		if due := str(p, "data", "dueDate"); due != "" {
			if d, err := time.Parse("2006-01-02", due); err == nil {
				// A due date is the whole day; it is imminent until that day ends.
				end := d.Add(24 * time.Hour)
				if end.After(now) && d.Sub(now) <= r.DeadlineWindow {
					return react("deadline imminent", "remind_assignee")
				}
			}
		}
		if r.mentions(str(p, "data", "description")) {
			return react("mentioned", "reply_to_issue")
		}
		return skip("no issue rule matched")
	case "Comment.create":
		if r.mentions(str(p, "data", "body")) {
			return react("mentioned", "reply_to_comment")
		}
		return skip("comment without mention")
	}
	return skip("event type not handled")
}

func (r Rules) github(eventType string, p map[string]any) Decision {
	switch eventType {
	case "issue_comment.created", "pull_request_review_comment.created":
		if str(p, "comment", "user", "type") == "Bot" {
			return skip("bot comment")
		}
		if r.mentions(str(p, "comment", "body")) {
			return react("mentioned", "reply_to_comment")
		}
		return skip("comment without mention")
	case "issues.opened", "issues.labeled":
		if labels, ok := lookup(p, "issue", "labels").([]any); ok {
			for _, l := range labels {
				lm, _ := l.(map[string]any)
				if name := str(lm, "name"); name != "" {
					if _, hit := containsAny(name, r.AttentionLabels); hit {
						return react("label "+name, "triage_issue")
					}
				}
			}
		}
		if r.mentions(str(p, "issue", "body")) {
			return react("mentioned", "reply_to_issue")
		}
		return skip("no issue rule matched")
	case "pull_request.review_requested":
		if r.isHandle(str(p, "requested_reviewer", "login")) {
			return react("review requested", "review_pull_request")
		}
		return skip("review requested from someone else")
	}
	return skip("event type not handled")
}
