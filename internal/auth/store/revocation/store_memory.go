package revocation

import (
	"context"
	"sync"
	"time"
)

// InMemoryTRL is the single-instance revocation list. Expired entries are
// dropped lazily on lookup and by Sweep.
type InMemoryTRL struct {
	mu      sync.Mutex
	revoked map[string]time.Time
	now     func() time.Time
}

func NewInMemoryTRL() *InMemoryTRL {
	return &InMemoryTRL{revoked: make(map[string]time.Time), now: time.Now}
}

func (t *InMemoryTRL) RevokeToken(_ context.Context, jti string, ttl time.Duration) error {
	if jti == "" || ttl <= 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.revoked[jti] = t.now().Add(ttl)
	return nil
}

func (t *InMemoryTRL) IsRevoked(_ context.Context, jti string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	until, ok := t.revoked[jti]
	if !ok {
		return false, nil
	}
	if !t.now().Before(until) {
		delete(t.revoked, jti)
		return false, nil
	}
	return true, nil
}

// Sweep removes expired entries and reports how many were dropped.
func (t *InMemoryTRL) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	dropped := 0
	for jti, until := range t.revoked {
		if !now.Before(until) {
			delete(t.revoked, jti)
			dropped++
		}
	}
	return dropped
}
