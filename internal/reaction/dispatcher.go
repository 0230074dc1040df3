// Package reaction runs agent reactions for stored webhook events, off the
// request path.
//
// The ingress hands events to Dispatcher.Enqueue, which never blocks. A
// fixed pool of workers drains the queue, resolves a valid access token for
// the event's connection, calls the Agent, and records the outcome with
// EventRepository.MarkProcessed.
package reaction

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dropDatabas3/agentlink/internal/domain/repository"
	"github.com/dropDatabas3/agentlink/internal/metrics"
	"github.com/dropDatabas3/agentlink/internal/observability/logger"
	"go.uber.org/zap"
)

// Request is what the agent gets for one event.
type Request struct {
	Event       *repository.InboundEvent
	AccessToken string // empty when the event has no connection
}

// Agent executes a reaction. It lives outside this service.
type Agent interface {
	React(ctx context.Context, req Request) (result string, err error)
}

// AgentFunc adapts a function to Agent.
type AgentFunc func(ctx context.Context, req Request) (string, error)

func (f AgentFunc) React(ctx context.Context, req Request) (string, error) { return f(ctx, req) }

// TokenSource returns a usable access token for a connection.
type TokenSource interface {
	GetValidAccessToken(ctx context.Context, connectionID string) (string, error)
}

// Config for the dispatcher.
type Config struct {
	Workers   int
	QueueSize int
	// Timeout bounds a single agent call.
	Timeout time.Duration
}

// ErrClosed is returned by Start on a dispatcher that was stopped.
var ErrClosed = errors.New("reaction: dispatcher closed")

// Dispatcher is a bounded queue plus worker pool.
type Dispatcher struct {
	agent  Agent
	tokens TokenSource
	events repository.EventRepository
	cfg    Config
	log    *zap.Logger

	queue chan *repository.InboundEvent

	mu      sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds a Dispatcher. tokens may be nil when agents need no token.
func New(agent Agent, tokens TokenSource, events repository.EventRepository, cfg Config) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &Dispatcher{
		agent:  agent,
		tokens: tokens,
		events: events,
		cfg:    cfg,
		log:    logger.Named("reaction"),
		queue:  make(chan *repository.InboundEvent, cfg.QueueSize),
	}
}

// Enqueue queues e without blocking. It returns false when the queue is full
// or the dispatcher is closed; the event stays stored and unprocessed.
func (d *Dispatcher) Enqueue(e *repository.InboundEvent) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	select {
	case d.queue <- e:
		return true
	default:
		metrics.ReactionsDispatched.WithLabelValues(e.Provider, "dropped").Inc()
		return false
	}
}

// Start launches the workers. They run until Stop or ctx is done.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if d.started {
		return nil
	}
	d.started = true
	ctx, d.cancel = context.WithCancel(ctx)
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
	return nil
}

// Stop stops accepting events, lets workers drain what is queued and waits
// for them, or gives up when ctx is done.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()

	if !started {
		return nil
	}
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		d.cancel()
		return ctx.Err()
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-d.queue:
			if !ok {
				return
			}
			d.process(ctx, e)
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, e *repository.InboundEvent) {
	log := d.log.With(logger.EventID(e.ProviderEventID), logger.Provider(e.Provider), logger.EventType(e.EventType))
	ctx = logger.ToContext(ctx, log)

	defer func() {
		if r := recover(); r != nil {
			log.Error("agent panicked", zap.Any("panic", r))
			msg := "agent panicked"
			d.record(ctx, e, nil, &msg, "failed")
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	req := Request{Event: e}
	if e.ConnectionID != nil && d.tokens != nil {
		tok, err := d.tokens.GetValidAccessToken(ctx, *e.ConnectionID)
		if err != nil {
			log.Warn("no usable token for reaction", logger.ConnectionID(*e.ConnectionID), logger.Err(err))
			msg := err.Error()
			d.record(ctx, e, nil, &msg, "failed")
			return
		}
		req.AccessToken = tok
	}

	result, err := d.agent.React(ctx, req)
	if err != nil {
		log.Warn("reaction failed", logger.Err(err))
		msg := err.Error()
		d.record(ctx, e, nil, &msg, "failed")
		return
	}
	d.record(ctx, e, &result, nil, "ok")
	log.Info("reaction completed")
}

func (d *Dispatcher) record(ctx context.Context, e *repository.InboundEvent, result, errMsg *string, outcome string) {
	metrics.ReactionsDispatched.WithLabelValues(e.Provider, outcome).Inc()
	// The agent may have used up the deadline; the outcome still gets written.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := d.events.MarkProcessed(wctx, e.ID, result, errMsg); err != nil {
		logger.From(ctx).Error("failed to record reaction outcome", logger.Err(err))
	}
}
