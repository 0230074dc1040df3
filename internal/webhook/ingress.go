// Package webhook authenticates and records inbound provider webhooks.
//
// Every delivery goes through the same steps:
//
//	verify signature -> parse -> handshake? -> dedup by event id ->
//	installation lifecycle -> resolve org to a connection -> classify ->
//	insert (unique on provider event id) -> enqueue reaction
//
// Reactions run after Handle returns, so the HTTP response never waits on
// agent work.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dropDatabas3/agentlink/internal/connection"
	"github.com/dropDatabas3/agentlink/internal/domain/repository"
	"github.com/dropDatabas3/agentlink/internal/metrics"
	"github.com/dropDatabas3/agentlink/internal/observability/logger"
	tokens "github.com/dropDatabas3/agentlink/internal/security/token"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Resolver is the slice of the connection manager the ingress needs.
type Resolver interface {
	LookupByRemoteOrg(ctx context.Context, provider, orgID string) (*repository.Connection, error)
	HandleInstallation(ctx context.Context, provider string, inst connection.Installation) (*repository.Connection, error)
	DeactivateByRemoteOrg(ctx context.Context, provider, orgID string) error
}

// Dispatcher receives stored events that should be reacted to. Enqueue must
// not block; false means the event was not accepted.
type Dispatcher interface {
	Enqueue(e *repository.InboundEvent) bool
}

// Outcome of a delivery.
type Outcome string

const (
	OutcomeStored    Outcome = "stored"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeHandshake Outcome = "handshake"
)

// Result is what the HTTP layer answers with.
type Result struct {
	Outcome     Outcome
	EventID     string
	Challenge   string
	ShouldReact bool
	Dispatched  bool
}

// Config for the ingress.
type Config struct {
	// Secrets per provider name.
	Secrets map[string]string

	// InsecureDevMode accepts deliveries for providers with no secret,
	// logging a warning each time. Config validation forbids it in prod.
	InsecureDevMode bool

	Rules Rules
}

// Ingress is the webhook pipeline.
type Ingress struct {
	sources    map[string]Source
	events     repository.EventRepository
	resolver   Resolver
	dispatcher Dispatcher
	cfg        Config
	now        func() time.Time
	newID      func() string
	log        *zap.Logger
}

// Option configures an Ingress.
type Option func(*Ingress)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(i *Ingress) { i.now = now } }

// WithDispatcher sets where reactions go. Without one nothing is dispatched.
func WithDispatcher(d Dispatcher) Option { return func(i *Ingress) { i.dispatcher = d } }

// New builds an Ingress for the given sources.
func New(events repository.EventRepository, resolver Resolver, cfg Config, sources []Source, opts ...Option) *Ingress {
	i := &Ingress{
		sources:  make(map[string]Source, len(sources)),
		events:   events,
		resolver: resolver,
		cfg:      cfg,
		now:      time.Now,
		newID:    uuid.NewString,
		log:      logger.Named("webhook"),
	}
	for _, s := range sources {
		i.sources[s.Provider()] = s
	}
	for _, o := range opts {
		o(i)
	}
	return i
}

// Providers lists the providers with a registered source.
func (i *Ingress) Providers() []string {
	out := make([]string, 0, len(i.sources))
	for p := range i.sources {
		out = append(out, p)
	}
	return out
}

// Handle runs one delivery through the pipeline. Duplicates are a success
// with OutcomeDuplicate. Signature failures return ErrInvalidSignature or
// ErrSecretNotConfigured and store nothing.
func (i *Ingress) Handle(ctx context.Context, provider string, body []byte, h http.Header) (*Result, error) {
	start := i.now()
	res, err := i.handle(ctx, provider, body, h)

	outcome := "error"
	switch {
	case err == nil:
		outcome = string(res.Outcome)
	case errors.Is(err, ErrInvalidSignature), errors.Is(err, ErrSecretNotConfigured):
		outcome = "rejected"
	}
	metrics.WebhookEvents.WithLabelValues(provider, outcome).Inc()
	metrics.WebhookDuration.WithLabelValues(provider).Observe(i.now().Sub(start).Seconds())
	return res, err
}

func (i *Ingress) handle(ctx context.Context, provider string, body []byte, h http.Header) (*Result, error) {
	src, ok := i.sources[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	log := logger.From(ctx).With(logger.Provider(provider))

	// RECEIVED -> SIGNATURE_CHECKED
	secret := i.cfg.Secrets[provider]
	switch {
	case secret != "":
		if err := src.Verify(body, h, secret, i.now()); err != nil {
			log.Warn("webhook signature rejected", logger.Err(err))
			return nil, err
		}
	case i.cfg.InsecureDevMode:
		log.Warn("INSECURE: webhook accepted without signature check; no secret configured for provider")
	default:
		return nil, fmt.Errorf("%w: %s", ErrSecretNotConfigured, provider)
	}

	env, err := src.Parse(body, h)
	if err != nil {
		return nil, err
	}
	if env.Handshake {
		log.Info("webhook handshake answered", logger.EventType(env.EventType))
		return &Result{Outcome: OutcomeHandshake, Challenge: env.Challenge}, nil
	}
	if env.EventID == "" {
		env.EventID = SyntheticEventID(provider, env.Timestamp, body)
	}
	log = log.With(logger.EventID(env.EventID), logger.EventType(env.EventType))

	// DEDUP_CHECKED
	seen, err := i.events.ExistsByProviderEventID(ctx, env.EventID)
	if err != nil {
		return nil, fmt.Errorf("webhook: dedup lookup: %w", err)
	}
	if seen {
		log.Debug("duplicate delivery ignored")
		return &Result{Outcome: OutcomeDuplicate, EventID: env.EventID}, nil
	}

	if env.Install != nil {
		if err := i.applyInstall(ctx, provider, env.Install); err != nil {
			return nil, err
		}
	}

	ev := &repository.InboundEvent{
		ID:              i.newID(),
		Provider:        provider,
		ProviderEventID: env.EventID,
		OrganizationID:  env.OrgID,
		EventType:       env.EventType,
		RawPayload:      rawJSON(body),
		ReceivedAt:      i.now().UTC(),
	}

	conn, err := i.resolve(ctx, provider, env.OrgID)
	if err != nil {
		return nil, err
	}
	if conn != nil {
		id := conn.ID
		ev.ConnectionID = &id
		if !conn.IsPending() {
			owner := conn.OwnerUserID
			ev.ResolvedUserID = &owner
		}
	}

	// Unresolved events are kept for audit but never reacted to.
	if ev.ResolvedUserID != nil && env.Install == nil {
		d := Classify(i.cfg.Rules, provider, env.EventType, env.Payload, i.now())
		ev.ShouldReact = d.ShouldReact
		ev.ReactionReason = d.Reason
	}

	inserted, err := i.events.Insert(ctx, ev)
	if err != nil {
		return nil, fmt.Errorf("webhook: store event: %w", err)
	}
	if !inserted {
		// A concurrent retry won the unique constraint.
		return &Result{Outcome: OutcomeDuplicate, EventID: env.EventID}, nil
	}

	res := &Result{Outcome: OutcomeStored, EventID: env.EventID, ShouldReact: ev.ShouldReact}
	if ev.ShouldReact && i.dispatcher != nil {
		res.Dispatched = i.dispatcher.Enqueue(ev)
		if !res.Dispatched {
			log.Warn("reaction queue full; event stored without dispatch")
		}
	}
	log.Info("webhook stored", logger.Bool("should_react", ev.ShouldReact), logger.Bool("resolved", ev.ResolvedUserID != nil))
	return res, nil
}

func (i *Ingress) resolve(ctx context.Context, provider, orgID string) (*repository.Connection, error) {
	if orgID == "" || i.resolver == nil {
		return nil, nil
	}
	c, err := i.resolver.LookupByRemoteOrg(ctx, provider, orgID)
	if errors.Is(err, connection.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("webhook: resolve org: %w", err)
	}
	return c, nil
}

func (i *Ingress) applyInstall(ctx context.Context, provider string, ch *InstallChange) error {
	if i.resolver == nil || ch.ID == "" {
		return nil
	}
	log := logger.From(ctx).With(logger.Provider(provider), logger.OrgID(ch.ID))
	switch ch.Action {
	case Installed:
		if _, err := i.resolver.HandleInstallation(ctx, provider, connection.Installation{
			ID: ch.ID, AccountID: ch.AccountID, AccountName: ch.AccountName,
		}); err != nil {
			return fmt.Errorf("webhook: installation: %w", err)
		}
	case Uninstalled:
		if err := i.resolver.DeactivateByRemoteOrg(ctx, provider, ch.ID); err != nil {
			return fmt.Errorf("webhook: uninstall: %w", err)
		}
		log.Info("installation removed; connection deactivated")
	}
	return nil
}

// SyntheticEventID derives a stable id for providers that omit one.
func SyntheticEventID(provider, timestamp string, body []byte) string {
	return provider + ":" + tokens.SHA256Hex(timestamp+":"+string(body))
}

func rawJSON(body []byte) json.RawMessage {
	if json.Valid(body) {
		return append(json.RawMessage(nil), body...)
	}
	b, _ := json.Marshal(string(body))
	return b
}
