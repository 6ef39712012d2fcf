package database

import (
	"context"
	"sync"
	"time"

	"github.com/Mercury-nju/novamail-sub004/pkg/domain"
)

// MemoryAccountStore is an in-process domain.AccountStore with the same
// CAS semantics as the Postgres store. It backs tests and local development
// without a database; the gate logic must behave identically against either
// implementation.
type MemoryAccountStore struct {
	mu       sync.Mutex
	nextID   int64
	accounts map[int64]*domain.Account
}

// NewMemoryAccountStore creates an empty in-memory store.
func NewMemoryAccountStore() *MemoryAccountStore {
	return &MemoryAccountStore{
		nextID:   1,
		accounts: make(map[int64]*domain.Account),
	}
}

// Get fetches an account by id.
func (s *MemoryAccountStore) Get(ctx context.Context, id int64) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

// GetByEmail fetches an account by email.
func (s *MemoryAccountStore) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.accounts {
		if a.Email == email {
			cp := *a
			return &cp, nil
		}
	}
	return nil, domain.ErrAccountNotFound
}

// GetByStripeCustomer fetches an account by Stripe customer id.
func (s *MemoryAccountStore) GetByStripeCustomer(ctx context.Context, customerID string) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.accounts {
		if a.StripeCustomerID == customerID && customerID != "" {
			cp := *a
			return &cp, nil
		}
	}
	return nil, domain.ErrAccountNotFound
}

// Create inserts a new account.
func (s *MemoryAccountStore) Create(ctx context.Context, a *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.accounts {
		if existing.Email == a.Email {
			return domain.ErrDuplicateAccount
		}
	}

	a.ID = s.nextID
	s.nextID++
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	a.Revision = 0

	cp := *a
	s.accounts[a.ID] = &cp
	return nil
}

// UpdateUsageCAS swaps usage counters if the revision still matches.
func (s *MemoryAccountStore) UpdateUsageCAS(ctx context.Context, a *domain.Account) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.accounts[a.ID]
	if !ok {
		return false, domain.ErrAccountNotFound
	}
	if stored.Revision != a.Revision {
		return false, nil
	}

	stored.EmailsSent = a.EmailsSent
	stored.ContactsCount = a.ContactsCount
	stored.CampaignsCount = a.CampaignsCount
	stored.UsagePeriodStart = a.UsagePeriodStart
	stored.Revision++
	return true, nil
}

// UpdateSubscription applies an absolute plan/status set.
func (s *MemoryAccountStore) UpdateSubscription(ctx context.Context, id int64, plan domain.Plan, status domain.SubscriptionStatus, stripeCustomerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.accounts[id]
	if !ok {
		return domain.ErrAccountNotFound
	}
	stored.Plan = plan
	stored.SubscriptionStatus = status
	stored.StripeCustomerID = stripeCustomerID
	stored.Revision++
	return nil
}

// ListElapsedPeriods returns ids of accounts whose billing period elapsed.
func (s *MemoryAccountStore) ListElapsedPeriods(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []int64
	for id, a := range s.accounts {
		if len(ids) >= limit {
			break
		}
		if !now.Before(a.UsagePeriodStart.AddDate(0, 1, 0)) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
