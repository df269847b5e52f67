package store

import (
	"context"
	"slices"
	"sort"
	"sync"

	"corebank/internal/approval/models"
	id "corebank/pkg/domain"
	"corebank/pkg/platform/sentinel"
	txcontext "corebank/pkg/platform/tx"
)

type InMemoryStore struct {
	mu       sync.RWMutex
	requests map[id.TenantID]map[id.ApprovalID]*models.Request
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{requests: make(map[id.TenantID]map[id.ApprovalID]*models.Request)}
}

// Create fails with sentinel.ErrConflict when another request for the same
// kind and entity is still pending.
func (s *InMemoryStore) Create(ctx context.Context, req *models.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID := s.requests[req.TenantID]
	if byID == nil {
		byID = make(map[id.ApprovalID]*models.Request)
		s.requests[req.TenantID] = byID
	}
	if _, ok := byID[req.ID]; ok {
		return sentinel.ErrConflict
	}
	if req.IsPending() && pendingFor(byID, req.Kind, req.EntityID) != nil {
		return sentinel.ErrConflict
	}
	byID[req.ID] = clone(req)
	approvalID := req.ID
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		delete(byID, approvalID)
		s.mu.Unlock()
	})
	return nil
}

// Update persists a change to a request that is still pending. A request
// that has already left pending yields sentinel.ErrConflict.
func (s *InMemoryStore) Update(ctx context.Context, req *models.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID := s.requests[req.TenantID]
	stored, ok := byID[req.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if !stored.IsPending() {
		return sentinel.ErrConflict
	}
	byID[req.ID] = clone(req)
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		byID[stored.ID] = stored
		s.mu.Unlock()
	})
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, tenantID id.TenantID, approvalID id.ApprovalID) (*models.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[tenantID][approvalID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(req), nil
}

func (s *InMemoryStore) FindPending(_ context.Context, tenantID id.TenantID, kind models.Kind, entityID string) (*models.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req := pendingFor(s.requests[tenantID], kind, entityID)
	if req == nil {
		return nil, sentinel.ErrNotFound
	}
	return clone(req), nil
}

// List returns matching requests, newest first.
func (s *InMemoryStore) List(_ context.Context, tenantID id.TenantID, filter models.ListFilter) ([]*models.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.Request{}
	for _, req := range s.requests[tenantID] {
		if filter.Matches(req) {
			out = append(out, clone(req))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	limit := filter.Limit
	if limit <= 0 {
		limit = models.DefaultListLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func pendingFor(byID map[id.ApprovalID]*models.Request, kind models.Kind, entityID string) *models.Request {
	for _, req := range byID {
		if req.IsPending() && req.Kind == kind && req.EntityID == entityID {
			return req
		}
	}
	return nil
}

func clone(req *models.Request) *models.Request {
	cp := *req
	cp.Payload = slices.Clone(req.Payload)
	if req.CheckerID != nil {
		checker := *req.CheckerID
		cp.CheckerID = &checker
	}
	if req.DecidedAt != nil {
		at := *req.DecidedAt
		cp.DecidedAt = &at
	}
	return &cp
}
