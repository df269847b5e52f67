package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"corebank/internal/ledger/models"
	id "corebank/pkg/domain"
	"corebank/pkg/platform/sentinel"
	txcontext "corebank/pkg/platform/tx"
)

// InMemoryStore keeps the ledger in process memory for tests and local runs.
type InMemoryStore struct {
	mu       sync.RWMutex
	accounts map[id.TenantID]map[string]*models.Account
	journals map[id.JournalID]*models.Journal
	refs     map[id.TenantID]map[string]id.JournalID
	order    map[id.TenantID][]id.JournalID
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		accounts: make(map[id.TenantID]map[string]*models.Account),
		journals: make(map[id.JournalID]*models.Journal),
		refs:     make(map[id.TenantID]map[string]id.JournalID),
		order:    make(map[id.TenantID][]id.JournalID),
	}
}

func (s *InMemoryStore) CreateAccount(ctx context.Context, a *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byCode, ok := s.accounts[a.TenantID]
	if !ok {
		byCode = make(map[string]*models.Account)
		s.accounts[a.TenantID] = byCode
	}
	if _, exists := byCode[a.Code]; exists {
		return sentinel.ErrConflict
	}
	cp := *a
	byCode[a.Code] = &cp
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		delete(s.accounts[a.TenantID], cp.Code)
		s.mu.Unlock()
	})
	return nil
}

func (s *InMemoryStore) UpdateAccount(ctx context.Context, a *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.accounts[a.TenantID][a.Code]
	if !ok {
		return sentinel.ErrNotFound
	}
	prev := *existing
	*existing = *a
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		if current, ok := s.accounts[prev.TenantID][prev.Code]; ok {
			*current = prev
		}
		s.mu.Unlock()
	})
	return nil
}

func (s *InMemoryStore) FindAccount(_ context.Context, tenantID id.TenantID, code string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[tenantID][code]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *InMemoryStore) ListAccounts(_ context.Context, tenantID id.TenantID) ([]*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Account, 0, len(s.accounts[tenantID]))
	for _, a := range s.accounts[tenantID] {
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *InMemoryStore) InsertJournal(ctx context.Context, j *models.Journal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	refs, ok := s.refs[j.TenantID]
	if !ok {
		refs = make(map[string]id.JournalID)
		s.refs[j.TenantID] = refs
	}
	if _, exists := refs[j.Reference]; exists {
		return sentinel.ErrConflict
	}
	for _, l := range j.Lines {
		if _, ok := s.accounts[j.TenantID][l.AccountCode]; !ok {
			return sentinel.ErrNotFound
		}
	}
	cp := cloneJournal(j)
	s.journals[j.ID] = cp
	refs[j.Reference] = j.ID
	s.order[j.TenantID] = append(s.order[j.TenantID], j.ID)
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		delete(s.journals, cp.ID)
		delete(s.refs[cp.TenantID], cp.Reference)
		s.order[cp.TenantID] = slices.DeleteFunc(s.order[cp.TenantID], func(v id.JournalID) bool { return v == cp.ID })
		s.mu.Unlock()
	})
	return nil
}

func (s *InMemoryStore) FindJournal(_ context.Context, tenantID id.TenantID, journalID id.JournalID) (*models.Journal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.journals[journalID]
	if !ok || j.TenantID != tenantID {
		return nil, sentinel.ErrNotFound
	}
	return cloneJournal(j), nil
}

func (s *InMemoryStore) FindJournalByReference(_ context.Context, tenantID id.TenantID, reference string) (*models.Journal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	journalID, ok := s.refs[tenantID][reference]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneJournal(s.journals[journalID]), nil
}

// MarkReversed links original to its reversal. ErrConflict when already linked.
func (s *InMemoryStore) MarkReversed(ctx context.Context, tenantID id.TenantID, original, reversal id.JournalID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.journals[original]
	if !ok || j.TenantID != tenantID {
		return sentinel.ErrNotFound
	}
	if j.ReversedBy != nil {
		return sentinel.ErrConflict
	}
	rev := reversal
	j.ReversedBy = &rev
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		j.ReversedBy = nil
		s.mu.Unlock()
	})
	return nil
}

// AccountTotals sums lines for code with value date on or before through.
// A zero through includes everything.
func (s *InMemoryStore) AccountTotals(_ context.Context, tenantID id.TenantID, code string, through time.Time) (models.Totals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var t models.Totals
	for _, journalID := range s.order[tenantID] {
		j := s.journals[journalID]
		if !through.IsZero() && j.ValueDate.After(through) {
			continue
		}
		for _, l := range j.Lines {
			if l.AccountCode == code {
				t = t.Add(l)
			}
		}
	}
	return t, nil
}

func (s *InMemoryStore) TrialTotals(_ context.Context, tenantID id.TenantID, through time.Time) (map[string]models.Totals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]models.Totals)
	for _, journalID := range s.order[tenantID] {
		j := s.journals[journalID]
		if !through.IsZero() && j.ValueDate.After(through) {
			continue
		}
		for _, l := range j.Lines {
			out[l.AccountCode] = out[l.AccountCode].Add(l)
		}
	}
	return out, nil
}

// Postings returns lines for code with value date in [from, to], ordered by
// value date then posting time.
func (s *InMemoryStore) Postings(_ context.Context, tenantID id.TenantID, code string, from, to time.Time) ([]models.Posting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Posting
	for _, journalID := range s.order[tenantID] {
		j := s.journals[journalID]
		if j.ValueDate.Before(from) || j.ValueDate.After(to) {
			continue
		}
		for i, l := range j.Lines {
			if l.AccountCode != code {
				continue
			}
			out = append(out, models.Posting{
				JournalID: j.ID,
				Reference: j.Reference,
				Source:    j.Source,
				Narration: j.Narration,
				ValueDate: j.ValueDate,
				PostedAt:  j.PostedAt,
				LineNo:    i + 1,
				Debit:     l.Debit,
				Credit:    l.Credit,
				Memo:      l.Memo,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].ValueDate.Equal(out[j].ValueDate) {
			return out[i].ValueDate.Before(out[j].ValueDate)
		}
		return out[i].PostedAt.Before(out[j].PostedAt)
	})
	return out, nil
}

func cloneJournal(j *models.Journal) *models.Journal {
	cp := *j
	cp.Lines = slices.Clone(j.Lines)
	if j.ReversalOf != nil {
		v := *j.ReversalOf
		cp.ReversalOf = &v
	}
	if j.ReversedBy != nil {
		v := *j.ReversedBy
		cp.ReversedBy = &v
	}
	return &cp
}
