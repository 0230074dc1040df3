package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Source knows one provider's webhook conventions: how requests are signed
// and where the event id, type and organization live in the payload.
type Source interface {
	Provider() string
	Verify(body []byte, h http.Header, secret string, now time.Time) error
	Parse(body []byte, h http.Header) (*Envelope, error)
}

// InstallAction is what an installation lifecycle event does to a connection.
type InstallAction int

const (
	InstallNone InstallAction = iota
	Installed
	Uninstalled
)

// InstallChange is an installation lifecycle event carried by a webhook.
type InstallChange struct {
	Action      InstallAction
	ID          string
	AccountID   string
	AccountName string
}

// Envelope is the provider-neutral view of a delivery.
type Envelope struct {
	EventID   string
	EventType string
	OrgID     string
	Timestamp string

	// Handshake deliveries are answered and never stored.
	Handshake bool
	Challenge string

	Install *InstallChange
	Payload map[string]any
}

func decode(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if m == nil {
		return nil, fmt.Errorf("%w: empty body", ErrMalformedPayload)
	}
	return m, nil
}

// lookup walks nested objects.
func lookup(m map[string]any, path ...string) any {
	var cur any = m
	for _, k := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = obj[k]
	}
	return cur
}

// str returns a string or number at path as text.
func str(m map[string]any, path ...string) string {
	switch v := lookup(m, path...).(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

func num(m map[string]any, path ...string) (float64, bool) {
	switch v := lookup(m, path...).(type) {
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case float64:
		return v, true
	}
	return 0, false
}

func joinType(kind, action string) string {
	if action == "" {
		return kind
	}
	return kind + "." + action
}

// ─── Slack ───

// SlackSource handles the Events API.
type SlackSource struct {
	Window time.Duration
}

func (SlackSource) Provider() string { return "slack" }

func (s SlackSource) Verify(body []byte, h http.Header, secret string, now time.Time) error {
	w := s.Window
	if w <= 0 {
		w = DefaultReplayWindow
	}
	return VerifySlack(body, h, secret, now, w)
}

func (SlackSource) Parse(body []byte, h http.Header) (*Envelope, error) {
	m, err := decode(body)
	if err != nil {
		return nil, err
	}
	switch str(m, "type") {
	case "url_verification":
		return &Envelope{EventType: "url_verification", Handshake: true, Challenge: str(m, "challenge")}, nil
	case "event_callback":
	default:
		return nil, fmt.Errorf("%w: unsupported slack envelope %q", ErrMalformedPayload, str(m, "type"))
	}

	env := &Envelope{
		EventID:   str(m, "event_id"),
		EventType: str(m, "event", "type"),
		OrgID:     str(m, "team_id"),
		Timestamp: h.Get("X-Slack-Request-Timestamp"),
		Payload:   m,
	}
	if env.Timestamp == "" {
		env.Timestamp = str(m, "event_time")
	}
	if env.EventType == "app_uninstalled" || env.EventType == "tokens_revoked" {
		env.Install = &InstallChange{Action: Uninstalled, ID: env.OrgID}
	}
	return env, nil
}

// ─── GitHub ───

// GitHubSource handles repository and GitHub App webhooks.
type GitHubSource struct{}

func (GitHubSource) Provider() string { return "github" }

func (GitHubSource) Verify(body []byte, h http.Header, secret string, _ time.Time) error {
	return VerifyGitHub(body, h, secret)
}

func (GitHubSource) Parse(body []byte, h http.Header) (*Envelope, error) {
	kind := h.Get("X-GitHub-Event")
	if kind == "" {
		return nil, fmt.Errorf("%w: missing X-GitHub-Event", ErrMalformedPayload)
	}
	m, err := decode(body)
	if err != nil {
		return nil, err
	}
	if kind == "ping" {
		return &Envelope{EventType: "ping", Handshake: true}, nil
	}

	action := str(m, "action")
	env := &Envelope{
		EventID:   h.Get("X-GitHub-Delivery"),
		EventType: joinType(kind, action),
		OrgID:     str(m, "installation", "id"),
		Payload:   m,
	}
	if kind == "installation" {
		ch := &InstallChange{
			ID:          env.OrgID,
			AccountID:   str(m, "installation", "account", "id"),
			AccountName: str(m, "installation", "account", "login"),
		}
		switch action {
		case "created", "unsuspend", "new_permissions_accepted":
			ch.Action = Installed
		case "deleted", "suspend":
			ch.Action = Uninstalled
		}
		if ch.Action != InstallNone {
			env.Install = ch
		}
	}
	return env, nil
}

// ─── Linear ───

// LinearSource handles Linear data-change webhooks.
type LinearSource struct {
	Window time.Duration
}

func (LinearSource) Provider() string { return "linear" }

// Verify also rejects deliveries whose webhookTimestamp is stale.
func (s LinearSource) Verify(body []byte, h http.Header, secret string, now time.Time) error {
	if err := VerifyLinear(body, h, secret); err != nil {
		return err
	}
	var ts struct {
		WebhookTimestamp int64 `json:"webhookTimestamp"`
	}
	if err := json.Unmarshal(body, &ts); err != nil || ts.WebhookTimestamp == 0 {
		return fmt.Errorf("%w: missing webhookTimestamp", ErrInvalidSignature)
	}
	w := s.Window
	if w <= 0 {
		w = DefaultReplayWindow
	}
	if !withinWindow(time.UnixMilli(ts.WebhookTimestamp), now, w) {
		return fmt.Errorf("%w: timestamp outside replay window", ErrInvalidSignature)
	}
	return nil
}

func (LinearSource) Parse(body []byte, h http.Header) (*Envelope, error) {
	m, err := decode(body)
	if err != nil {
		return nil, err
	}
	kind, action := str(m, "type"), str(m, "action")
	if kind == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedPayload)
	}
	env := &Envelope{
		EventID:   h.Get("Linear-Delivery"),
		EventType: joinType(kind, action),
		OrgID:     str(m, "organizationId"),
		Timestamp: str(m, "webhookTimestamp"),
		Payload:   m,
	}
	if kind == "OAuthApp" && action == "revoked" {
		env.Install = &InstallChange{Action: Uninstalled, ID: env.OrgID}
	}
	return env, nil
}

// ─── Bearer (generic) ───

// BearerSource is for providers that authenticate deliveries with a static
// shared secret. The payload carries id, type and organization_id.
type BearerSource struct {
	Name string
}

func (b BearerSource) Provider() string { return b.Name }

func (BearerSource) Verify(_ []byte, h http.Header, secret string, _ time.Time) error {
	return VerifyBearer(h, secret)
}

func (BearerSource) Parse(body []byte, h http.Header) (*Envelope, error) {
	m, err := decode(body)
	if err != nil {
		return nil, err
	}
	if str(m, "type") == "verification" {
		return &Envelope{EventType: "verification", Handshake: true, Challenge: str(m, "challenge")}, nil
	}
	env := &Envelope{
		EventID:   str(m, "id"),
		EventType: str(m, "type"),
		OrgID:     str(m, "organization_id"),
		Timestamp: str(m, "timestamp"),
		Payload:   m,
	}
	if env.EventID == "" {
		env.EventID = h.Get("X-Event-Id")
	}
	if env.EventType == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedPayload)
	}
	return env, nil
}
