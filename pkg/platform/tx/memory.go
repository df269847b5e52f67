package tx

import (
	"context"
	"sync"
	"time"

	dErrors "corebank/pkg/domain-errors"
	"corebank/pkg/requestcontext"
)

// numShards spreads tenants across independent locks so one busy tenant
// does not serialise the whole process.
const numShards = 64

const defaultTxTimeout = 5 * time.Second

type inTxKey struct{}

// undoLog collects compensations registered by memory stores during a unit of
// work. They run newest first when the unit fails. Hooks run in order once
// the unit has committed.
type undoLog struct {
	mu    sync.Mutex
	fns   []func()
	hooks []func()
}

func (l *undoLog) add(fn func()) {
	l.mu.Lock()
	l.fns = append(l.fns, fn)
	l.mu.Unlock()
}

func (l *undoLog) rollback() {
	l.mu.Lock()
	fns := l.fns
	l.fns = nil
	l.hooks = nil
	l.mu.Unlock()
	for i := len(fns) - 1; i >= 0; i-- {
		fns[i]()
	}
}

// OnRollback registers undo to run if the memory unit of work in ctx fails.
// Outside a memory unit of work it does nothing, so Postgres-backed code
// paths and bare store calls are unaffected.
func OnRollback(ctx context.Context, undo func()) {
	if l, ok := ctx.Value(inTxKey{}).(*undoLog); ok {
		l.add(undo)
	}
}

// AfterCommit defers hook until the memory unit of work in ctx commits and
// reports true. Outside a memory unit of work it returns false and the
// caller should act immediately.
func AfterCommit(ctx context.Context, hook func()) bool {
	l, ok := ctx.Value(inTxKey{}).(*undoLog)
	if !ok {
		return false
	}
	l.mu.Lock()
	l.hooks = append(l.hooks, hook)
	l.mu.Unlock()
	return true
}

// MemoryManager provides the transactional boundary for in-memory stores.
// It serialises units of work per tenant shard. Stores record compensations
// with OnRollback; a unit that returns an error or panics is undone in
// reverse order before the shard is released.
type MemoryManager struct {
	shards  [numShards]sync.Mutex
	timeout time.Duration
}

// NewMemoryManager returns a MemoryManager with the default timeout.
func NewMemoryManager() *MemoryManager {
	return &MemoryManager{timeout: defaultTxTimeout}
}

func (m *MemoryManager) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(inTxKey{}) != nil {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	log := &undoLog{}
	if err := m.runLocked(ctx, log, fn); err != nil {
		return err
	}
	// Commit hooks run outside the shard lock so they may block.
	for _, hook := range log.hooks {
		hook()
	}
	return nil
}

func (m *MemoryManager) runLocked(ctx context.Context, log *undoLog, fn func(ctx context.Context) error) error {
	shard := m.selectShard(ctx)
	m.shards[shard].Lock()
	defer m.shards[shard].Unlock()

	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	committed := false
	defer func() {
		if !committed {
			log.rollback()
		}
	}()
	if err := fn(context.WithValue(ctx, inTxKey{}, log)); err != nil {
		return err
	}
	committed = true
	return nil
}

func (m *MemoryManager) selectShard(ctx context.Context) int {
	tenantID := requestcontext.TenantID(ctx)
	if tenantID.IsNil() {
		return 0
	}
	return int(hashString(tenantID.String()) % numShards)
}

// hashString is FNV-1a.
func hashString(s string) uint32 {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime
	}
	return h
}
