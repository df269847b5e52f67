// Package relay moves audit outbox rows to the event bus.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	audit "corebank/pkg/platform/audit"
	"corebank/pkg/platform/circuit"
	txcontext "corebank/pkg/platform/tx"
)

// Outbox is the persistence side of the relay.
type Outbox interface {
	FetchUnpublished(ctx context.Context, limit int) ([]audit.OutboxEntry, error)
	MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error
	RecordAttempt(ctx context.Context, ids []uuid.UUID) error
}

// Producer delivers a batch to the event bus.
type Producer interface {
	Publish(ctx context.Context, entries []audit.OutboxEntry) error
}

// ErrCircuitOpen is returned by RunOnce while the breaker withholds delivery.
var ErrCircuitOpen = errors.New("relay: circuit open")

type Relay struct {
	outbox   Outbox
	producer Producer
	tx       txcontext.Manager
	breaker  *circuit.Breaker
	logger   *slog.Logger
	interval time.Duration
	batch    int
	now      func() time.Time
}

type Option func(*Relay)

func WithInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batch = n
		}
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(r *Relay) {
		if b != nil {
			r.breaker = b
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Relay) {
		if now != nil {
			r.now = now
		}
	}
}

func New(outbox Outbox, producer Producer, tx txcontext.Manager, opts ...Option) *Relay {
	r := &Relay{
		outbox:   outbox,
		producer: producer,
		tx:       tx,
		breaker:  circuit.New("audit-relay"),
		logger:   slog.Default(),
		interval: time.Second,
		batch:    100,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run polls the outbox until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil && !errors.Is(err, ErrCircuitOpen) && ctx.Err() == nil {
				r.logger.ErrorContext(ctx, "audit relay batch failed", "error", err)
			}
		}
	}
}

// RunOnce relays a single batch and reports how many entries were published.
// A failed publish bumps the attempt counter and leaves the rows pending.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	if !r.breaker.Allow() {
		return 0, ErrCircuitOpen
	}

	var (
		published  int
		publishErr error
	)
	err := r.tx.RunInTx(ctx, func(txCtx context.Context) error {
		entries, err := r.outbox.FetchUnpublished(txCtx, r.batch)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		ids := make([]uuid.UUID, len(entries))
		for i, e := range entries {
			ids[i] = e.ID
		}

		if publishErr = r.producer.Publish(txCtx, entries); publishErr != nil {
			return r.outbox.RecordAttempt(txCtx, ids)
		}
		published = len(entries)
		return r.outbox.MarkPublished(txCtx, ids, r.now())
	})
	if err != nil {
		return 0, err
	}

	if publishErr != nil {
		if _, change := r.breaker.RecordFailure(); change.Opened {
			r.logger.WarnContext(ctx, "audit relay circuit opened", "breaker", r.breaker.Name())
		}
		return 0, publishErr
	}
	if published > 0 {
		if _, change := r.breaker.RecordSuccess(); change.Closed {
			r.logger.InfoContext(ctx, "audit relay circuit closed", "breaker", r.breaker.Name())
		}
	}
	return published, nil
}
