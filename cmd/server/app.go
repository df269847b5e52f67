package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	approvalhandler "corebank/internal/approval/handler"
	approvalmetrics "corebank/internal/approval/metrics"
	approvalmodels "corebank/internal/approval/models"
	approvalservice "corebank/internal/approval/service"
	approvalstore "corebank/internal/approval/store"
	audithandler "corebank/internal/audit/handler"
	authhandler "corebank/internal/auth/handler"
	authmetrics "corebank/internal/auth/metrics"
	authservice "corebank/internal/auth/service"
	"corebank/internal/auth/store/revocation"
	userstore "corebank/internal/auth/store/user"
	"corebank/internal/auth/token"
	classificationhandler "corebank/internal/classification/handler"
	classificationmetrics "corebank/internal/classification/metrics"
	classificationmodels "corebank/internal/classification/models"
	classificationservice "corebank/internal/classification/service"
	classificationstore "corebank/internal/classification/store"
	deposithandler "corebank/internal/deposit/handler"
	depositmetrics "corebank/internal/deposit/metrics"
	depositservice "corebank/internal/deposit/service"
	depositstore "corebank/internal/deposit/store"
	httpapi "corebank/internal/http"
	ledgerhandler "corebank/internal/ledger/handler"
	ledgermetrics "corebank/internal/ledger/metrics"
	ledgerservice "corebank/internal/ledger/service"
	ledgerstore "corebank/internal/ledger/store"
	loanhandler "corebank/internal/loan/handler"
	loanmetrics "corebank/internal/loan/metrics"
	loanservice "corebank/internal/loan/service"
	loanstore "corebank/internal/loan/store"
	"corebank/internal/platform/config"
	"corebank/internal/platform/kafka"
	platformmetrics "corebank/internal/platform/metrics"
	"corebank/internal/platform/postgres"
	platformredis "corebank/internal/platform/redis"
	ratelimitmetrics "corebank/internal/ratelimit/metrics"
	ratelimit "corebank/internal/ratelimit/middleware"
	"corebank/internal/ratelimit/store/bucket"
	tenanthandler "corebank/internal/tenant/handler"
	tenantmetrics "corebank/internal/tenant/metrics"
	tenantservice "corebank/internal/tenant/service"
	tenantstore "corebank/internal/tenant/store"
	audit "corebank/pkg/platform/audit"
	"corebank/pkg/platform/audit/publisher"
	"corebank/pkg/platform/audit/relay"
	auditmemory "corebank/pkg/platform/audit/store/memory"
	auditpostgres "corebank/pkg/platform/audit/store/postgres"
	"corebank/pkg/platform/circuit"
	"corebank/pkg/platform/middleware/idempotency"
	txcontext "corebank/pkg/platform/tx"
)

const (
	auditBufferSize = 1024
	sweepInterval   = time.Minute
	rateLimitWindow = time.Minute
)

// app is the assembled process: the HTTP handler plus the background jobs
// and resources main runs and releases.
type app struct {
	handler    http.Handler
	publisher  *publisher.Publisher
	background []func(ctx context.Context) error
	closers    []func() error
	logger     *slog.Logger
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("failed to release resource", "error", err)
		}
	}
}

// stores groups the persistence choices made from configuration.
type stores struct {
	tx             txcontext.Manager
	tenants        tenantservice.TenantStore
	users          authservice.UserStore
	ledger         ledgerservice.Store
	deposits       depositservice.Store
	loans          loanservice.Store
	classification classificationservice.Store
	approvals      approvalservice.Store
	audit          audit.Store
	revocation     authservice.RevocationList
	idempotency    idempotency.Store
	buckets        ratelimit.Store
}

// buildApp wires every module. Without DATABASE_URL all state lives in
// memory; without REDIS_URL revocation, idempotency and rate limiting stay
// process-local.
func buildApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{logger: logger}
	health := map[string]httpapi.HealthCheck{}

	st, db, err := openStores(ctx, cfg, logger, a)
	if err != nil {
		a.Close()
		return nil, err
	}
	if db != nil {
		health["postgres"] = db.PingContext
	}

	rc, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		a.Close()
		return nil, err
	}
	if rc != nil {
		a.closers = append(a.closers, rc.Close)
		health["redis"] = rc.Health
		st.revocation = revocation.NewRedisTRL(rc.Client)
		st.idempotency = idempotency.NewRedisStore(rc.Client)
		st.buckets = bucket.NewRedisBucketStore(rc.Client)
		logger.Info("redis configured for revocation, idempotency and rate limiting")
	} else {
		trl := revocation.NewInMemoryTRL()
		idem := idempotency.NewMemoryStore()
		buckets := bucket.NewInMemoryBucketStore()
		st.revocation, st.idempotency, st.buckets = trl, idem, buckets
		a.background = append(a.background, func(ctx context.Context) error {
			return sweep(ctx, sweepInterval, logger, func() int {
				return trl.Sweep() + idem.Sweep() + buckets.Sweep(rateLimitWindow)
			})
		})
	}

	// Postgres appends audit rows inside the caller's transaction so the
	// outbox commits with the business change. Memory mode drains through a worker.
	pubOpts := []publisher.Option{publisher.WithLogger(logger)}
	if db == nil {
		pubOpts = append(pubOpts, publisher.WithAsyncBuffer(auditBufferSize))
	}
	pub := publisher.NewPublisher(st.audit, pubOpts...)
	a.publisher = pub
	a.closers = append(a.closers, pub.Close)

	if len(cfg.Kafka.Brokers) > 0 {
		outbox, ok := st.audit.(*auditpostgres.Store)
		if !ok {
			logger.Warn("kafka brokers configured without a database; audit relay disabled")
		} else {
			producer, err := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.AuditTopic)
			if err != nil {
				a.Close()
				return nil, err
			}
			a.closers = append(a.closers, func() error { producer.Close(); return nil })
			health["kafka"] = producer.Ping
			if err := kafka.EnsureTopic(ctx, cfg.Kafka.Brokers, cfg.Kafka.AuditTopic, 3, 1); err != nil {
				logger.Warn("could not ensure audit topic", "topic", cfg.Kafka.AuditTopic, "error", err)
			}
			r := relay.New(outbox, producer, st.tx,
				relay.WithInterval(cfg.Kafka.RelayInterval),
				relay.WithBatchSize(cfg.Kafka.RelayBatch),
				relay.WithBreaker(circuit.New("audit-relay")),
				relay.WithLogger(logger),
			)
			a.background = append(a.background, r.Run)
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	policy := classificationmodels.DefaultPolicy()
	if cfg.Provisioning.PolicyFile != "" {
		policy, err = classificationmodels.LoadPolicyFile(cfg.Provisioning.PolicyFile)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("load provisioning policy: %w", err)
		}
		logger.Info("provisioning policy loaded", "file", cfg.Provisioning.PolicyFile)
	}

	ledgerSvc := ledgerservice.New(st.ledger, st.tx,
		ledgerservice.WithAuditPublisher(pub),
		ledgerservice.WithMetrics(ledgermetrics.New(reg)),
		ledgerservice.WithLogger(logger),
	)
	tenantSvc := tenantservice.New(st.tenants, ledgerSvc, st.tx,
		tenantservice.WithAuditPublisher(pub),
		tenantservice.WithMetrics(tenantmetrics.New(reg)),
		tenantservice.WithLogger(logger),
	)
	tokens := token.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.JWTIssuer, cfg.Auth.TokenTTL)
	authSvc := authservice.New(st.users, tenantSvc, tokens, st.revocation, st.tx,
		authservice.WithAuditPublisher(pub),
		authservice.WithMetrics(authmetrics.New(reg)),
		authservice.WithLogger(logger),
	)
	depositSvc := depositservice.New(st.deposits, ledgerSvc, st.tx,
		depositservice.WithAuditPublisher(pub),
		depositservice.WithMetrics(depositmetrics.New(reg)),
		depositservice.WithLogger(logger),
	)
	loanSvc := loanservice.New(st.loans, ledgerSvc, depositSvc, st.tx,
		loanservice.WithAuditPublisher(pub),
		loanservice.WithMetrics(loanmetrics.New(reg)),
		loanservice.WithLogger(logger),
	)
	classificationSvc := classificationservice.New(st.classification, loanSvc, ledgerSvc, st.tx,
		classificationservice.WithPolicy(policy),
		classificationservice.WithAuditPublisher(pub),
		classificationservice.WithMetrics(classificationmetrics.New(reg)),
		classificationservice.WithLogger(logger),
	)
	approvalSvc := approvalservice.New(st.approvals, st.tx,
		approvalservice.WithTTL(cfg.Approval.TTL),
		approvalservice.WithAuditPublisher(pub),
		approvalservice.WithMetrics(approvalmetrics.New(reg)),
		approvalservice.WithLogger(logger),
	)
	approvalSvc.Register(approvalmodels.KindJournalPost, ledgerservice.NewJournalExecutor(ledgerSvc))
	approvalSvc.Register(approvalmodels.KindLoanDisburse, loanservice.NewDisburseExecutor(loanSvc))
	approvalSvc.Register(approvalmodels.KindLoanWriteOff, loanservice.NewWriteOffExecutor(loanSvc))
	approvalSvc.Register(approvalmodels.KindProvisionPost, classificationservice.NewPostExecutor(classificationSvc))

	limiter := ratelimit.New(st.buckets, cfg.RateLimit.PerMinute, logger,
		ratelimit.WithWindow(rateLimitWindow),
		ratelimit.WithAuditPublisher(pub),
		ratelimit.WithMetrics(ratelimitmetrics.New(reg)),
	)

	a.handler = httpapi.NewRouter(
		httpapi.Handlers{
			Tenant:         tenanthandler.New(tenantSvc, logger),
			Auth:           authhandler.New(authSvc, logger),
			Ledger:         ledgerhandler.New(ledgerSvc, logger),
			Deposit:        deposithandler.New(depositSvc, logger),
			Loan:           loanhandler.New(loanSvc, st.idempotency, logger),
			Classification: classificationhandler.New(classificationSvc, logger),
			Approval:       approvalhandler.New(approvalSvc, logger),
			Audit:          audithandler.New(pub, logger),
		},
		httpapi.Guards{
			AdminToken: cfg.Auth.AdminAPIToken,
			Tokens:     tokens,
			Revocation: authSvc,
			Tenants:    tenantSvc,
			RateLimit:  limiter,
		},
		httpapi.Config{
			Logger:   logger,
			Metrics:  platformmetrics.New(reg),
			Gatherer: reg,
			Health:   health,
		},
	)
	if cfg.Auth.AdminAPIToken == "" {
		logger.Warn("ADMIN_API_TOKEN is not set; tenant administration is disabled")
	}
	return a, nil
}

// openStores picks Postgres or memory stores. The returned *sql.DB is nil in
// memory mode.
func openStores(ctx context.Context, cfg config.Config, logger *slog.Logger, a *app) (*stores, *sql.DB, error) {
	if cfg.Database.URL == "" {
		logger.Info("DATABASE_URL not set; using in-memory stores")
		return &stores{
			tx:             txcontext.NewMemoryManager(),
			tenants:        tenantstore.NewInMemory(),
			users:          userstore.New(),
			ledger:         ledgerstore.NewInMemoryStore(),
			deposits:       depositstore.NewInMemoryStore(),
			loans:          loanstore.NewInMemoryStore(),
			classification: classificationstore.NewInMemoryStore(),
			approvals:      approvalstore.NewInMemoryStore(),
			audit:          auditmemory.NewInMemoryStore(),
		}, nil, nil
	}

	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	a.closers = append(a.closers, db.Close)
	if cfg.Database.AutoMigrate {
		applied, err := postgres.Migrate(ctx, db)
		if err != nil {
			return nil, nil, fmt.Errorf("apply migrations: %w", err)
		}
		logger.Info("database migrations applied", "count", len(applied))
	}
	return &stores{
		tx:             postgres.NewTxManager(db),
		tenants:        tenantstore.NewPostgres(db),
		users:          userstore.NewPostgres(db),
		ledger:         ledgerstore.NewPostgres(db),
		deposits:       depositstore.NewPostgres(db),
		loans:          loanstore.NewPostgres(db),
		classification: classificationstore.NewPostgres(db),
		approvals:      approvalstore.NewPostgres(db),
		audit:          auditpostgres.New(db),
	}, db, nil
}

// sweep runs prune on every tick until ctx is done.
func sweep(ctx context.Context, interval time.Duration, logger *slog.Logger, prune func() int) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			if n := prune(); n > 0 {
				logger.Debug("swept expired in-memory entries", "count", n)
			}
		}
	}
}
