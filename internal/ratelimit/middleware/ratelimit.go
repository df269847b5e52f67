package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"corebank/internal/ratelimit/metrics"
	"corebank/internal/ratelimit/models"
	"corebank/internal/ratelimit/store/bucket"
	dErrors "corebank/pkg/domain-errors"
	audit "corebank/pkg/platform/audit"
	"corebank/pkg/platform/circuit"
	"corebank/pkg/platform/httputil"
	"corebank/pkg/requestcontext"
)

// Store counts requests per key in fixed windows.
type Store interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.Result, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Middleware enforces a per-user request budget, falling back to per-IP for
// anonymous callers. When the primary store keeps failing, an in-memory
// store takes over until the breaker closes again.
type Middleware struct {
	store    Store
	fallback Store
	breaker  *circuit.Breaker
	limit    int
	window   time.Duration
	auditor  AuditPublisher
	metrics  *metrics.Metrics
	logger   *slog.Logger
	disabled bool
}

type Option func(*Middleware)

// WithDisabled turns the middleware into a pass-through.
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) {
		m.disabled = disabled
	}
}

func WithWindow(window time.Duration) Option {
	return func(m *Middleware) {
		if window > 0 {
			m.window = window
		}
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(m *Middleware) {
		m.auditor = publisher
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Middleware) {
		m.metrics = mt
	}
}

// WithBreaker overrides the breaker guarding the primary store.
func WithBreaker(b *circuit.Breaker) Option {
	return func(m *Middleware) {
		m.breaker = b
	}
}

func New(store Store, limit int, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{
		store:    store,
		fallback: bucket.NewInMemoryBucketStore(),
		breaker:  circuit.New("ratelimit"),
		limit:    limit,
		window:   time.Minute,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.limit <= 0 {
		m.disabled = true
	}
	if m.disabled {
		logger.Info("rate limiting disabled")
	}
	return m
}

// Limit must run after RequireAuth on authenticated routes so the principal
// is in the context; without one the client IP is the key.
func (m *Middleware) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.disabled {
			next.ServeHTTP(w, r)
			return
		}
		ctx := r.Context()
		key, scope := m.key(ctx)

		result, err := m.check(ctx, key)
		if err != nil {
			// Both stores failed; admit the request rather than take the API down.
			m.logger.ErrorContext(ctx, "rate limit check failed",
				"error", err,
				"request_id", requestcontext.RequestID(ctx),
			)
			next.ServeHTTP(w, r)
			return
		}
		if m.metrics != nil {
			m.metrics.IncrementDecision(result.Allowed, scope)
		}

		addRateLimitHeaders(w, result)
		if !result.Allowed {
			m.exceeded(ctx, scope)
			writeRateLimitExceeded(w, result)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) key(ctx context.Context) (key, scope string) {
	if userID := requestcontext.UserID(ctx); !userID.IsNil() {
		return models.UserKey(requestcontext.TenantID(ctx), userID), "user"
	}
	return models.IPKey(requestcontext.ClientIP(ctx)), "ip"
}

func (m *Middleware) check(ctx context.Context, key string) (*models.Result, error) {
	if !m.breaker.Allow() {
		return m.fallback.Allow(ctx, key, m.limit, m.window)
	}
	result, err := m.store.Allow(ctx, key, m.limit, m.window)
	if err != nil {
		if m.metrics != nil {
			m.metrics.IncrementStoreError()
		}
		_, change := m.breaker.RecordFailure()
		if change.Opened {
			m.logger.WarnContext(ctx, "rate limit store unavailable, using in-memory fallback", "error", err)
			if m.metrics != nil {
				m.metrics.SetDegraded(true)
			}
		}
		return m.fallback.Allow(ctx, key, m.limit, m.window)
	}
	if _, change := m.breaker.RecordSuccess(); change.Closed {
		m.logger.InfoContext(ctx, "rate limit store recovered")
		if m.metrics != nil {
			m.metrics.SetDegraded(false)
		}
	}
	return result, nil
}

func (m *Middleware) exceeded(ctx context.Context, scope string) {
	m.logger.WarnContext(ctx, "rate limit exceeded",
		"log_type", "audit",
		"scope", scope,
		"user_id", requestcontext.UserID(ctx),
		"request_id", requestcontext.RequestID(ctx),
	)
	tenantID := requestcontext.TenantID(ctx)
	if m.auditor == nil || tenantID.IsNil() {
		return
	}
	if err := m.auditor.Emit(ctx, audit.Event{
		TenantID:   tenantID,
		Action:     audit.ActionRateLimitExceeded,
		EntityType: "user",
		EntityID:   requestcontext.UserID(ctx).String(),
		Details:    map[string]string{"limit": strconv.Itoa(m.limit), "window": m.window.String()},
	}); err != nil {
		m.logger.ErrorContext(ctx, "failed to audit rate limit", "error", err)
	}
}

func addRateLimitHeaders(w http.ResponseWriter, result *models.Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

func writeRateLimitExceeded(w http.ResponseWriter, result *models.Result) {
	w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
	httputil.WriteError(w, dErrors.New(dErrors.CodeRateLimited, "too many requests, retry after "+strconv.Itoa(result.RetryAfter)+"s"))
}
