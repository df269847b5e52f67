// Package publisher is the single entry point services use to record audit events.
//
// Emit enriches an event from the request context (tenant, actor, request ID,
// client IP, device) and hands it to the store. In synchronous mode the write
// happens on the caller's goroutine and therefore inside the caller's database
// transaction when one is active, which is what makes the Postgres outbox
// transactional. In async mode events go through a buffered channel and a
// worker; a full buffer applies backpressure until the caller's deadline.
package publisher

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	id "corebank/pkg/domain"
	audit "corebank/pkg/platform/audit"
	"corebank/pkg/platform/audit/worker"
	txcontext "corebank/pkg/platform/tx"
	"corebank/pkg/requestcontext"
)

type Publisher struct {
	store  audit.Store
	logger *slog.Logger

	async  bool
	buffer int
	inbox  chan audit.Event
	wg     sync.WaitGroup
	cancel context.CancelFunc
	once   sync.Once

	// closeMu guards inbox against sends after Close.
	closeMu sync.RWMutex
	closed  bool
}

type Option func(*Publisher)

// WithAsyncBuffer switches to async mode with a channel of size n.
func WithAsyncBuffer(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.async = true
			p.buffer = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{store: store}
	for _, opt := range opts {
		opt(p)
	}
	if p.async {
		p.inbox = make(chan audit.Event, p.buffer)
		ctx, cancel := context.WithCancel(context.Background())
		p.cancel = cancel
		w := worker.NewWorker(store, p.inbox, p.logger)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			_ = w.Run(ctx)
		}()
	}
	return p
}

// Emit records event. Fields already set on the event win over context values.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	event = enrich(ctx, event)
	if !p.async {
		return p.store.Append(ctx, event)
	}
	// Inside a memory unit of work the event is queued only once the unit
	// commits, so rolled-back work leaves no trail.
	deferred := txcontext.AfterCommit(ctx, func() {
		if err := p.enqueue(context.WithoutCancel(ctx), event); err != nil && p.logger != nil {
			p.logger.ErrorContext(ctx, "failed to queue audit event", "action", event.Action, "error", err)
		}
	})
	if deferred {
		return nil
	}
	return p.enqueue(ctx, event)
}

func (p *Publisher) enqueue(ctx context.Context, event audit.Event) error {
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()
	if p.closed {
		// Late emitters after shutdown write through.
		return p.store.Append(ctx, event)
	}
	select {
	case p.inbox <- event:
		return nil
	default:
	}
	if p.logger != nil {
		p.logger.WarnContext(ctx, "audit buffer full, waiting for worker",
			"action", event.Action,
			"tenant_id", event.TenantID,
		)
	}
	select {
	case p.inbox <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// List returns events for a tenant.
func (p *Publisher) List(ctx context.Context, tenantID id.TenantID, filter audit.Filter) ([]audit.Event, error) {
	return p.store.List(ctx, tenantID, filter)
}

// Close drains buffered events in async mode. Safe to call more than once.
func (p *Publisher) Close() error {
	if !p.async {
		return nil
	}
	p.once.Do(func() {
		p.closeMu.Lock()
		p.closed = true
		close(p.inbox)
		p.closeMu.Unlock()
		p.wg.Wait()
		p.cancel()
	})
	return nil
}

func enrich(ctx context.Context, event audit.Event) audit.Event {
	if event.ID.IsNil() {
		event.ID = id.AuditEventID(uuid.New())
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.TenantID.IsNil() {
		event.TenantID = requestcontext.TenantID(ctx)
	}
	if event.ActorID == "" {
		if userID := requestcontext.UserID(ctx); !userID.IsNil() {
			event.ActorID = userID.String()
		}
	}
	if event.Category == "" {
		event.Category = event.Action.Category()
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	if event.ClientIP == "" {
		event.ClientIP = requestcontext.ClientIP(ctx)
	}
	if event.Device == "" {
		event.Device = audit.DeviceFromUserAgent(requestcontext.UserAgent(ctx))
	}
	return event
}
