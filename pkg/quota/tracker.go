package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/Mercury-nju/novamail-sub004/pkg/domain"
)

// maxCASAttempts bounds the compare-and-swap retry loop. Contention on a
// single account is rare; five attempts is plenty before surfacing the
// conflict to the caller.
const maxCASAttempts = 5

// Tracker meters per-account usage against plan limits.
//
// Reserve/Release implement the race-free reservation pattern: the quota
// check and the increment happen in one compare-and-swap, so two concurrent
// requests can never both slip under the limit. CheckPermission stays a pure
// read for callers that only want the decision.
type Tracker struct {
	accounts domain.AccountStore
	now      func() time.Time
}

// NewTracker creates a usage tracker backed by the given account store.
func NewTracker(accounts domain.AccountStore) *Tracker {
	return &Tracker{
		accounts: accounts,
		now:      time.Now,
	}
}

// WithClock overrides the time source. Used in tests.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// Decision is the outcome of a permission check.
type Decision struct {
	Allowed bool
	Reason  string
	Limit   int
	Current int
}

// CheckPermission reports whether the account may perform the action with
// the proposed increment. It never mutates state: an elapsed billing period
// is applied virtually (counters treated as zero) for the evaluation only.
func (t *Tracker) CheckPermission(ctx context.Context, accountID int64, action domain.Action, increment int) (Decision, error) {
	a, err := t.accounts.Get(ctx, accountID)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to get account: %w", err)
	}

	now := t.now()
	current := a.UsageFor(action)
	if periodElapsed(a.UsagePeriodStart, now) {
		current = 0
	}

	limit := PlanLimit(a.Plan, action)
	if limit == Unlimited {
		return Decision{Allowed: true, Limit: Unlimited, Current: current}, nil
	}

	if current+increment > limit {
		return Decision{
			Allowed: false,
			Reason:  fmt.Sprintf("%s limit exceeded: %d/%d used", action, current, limit),
			Limit:   limit,
			Current: current,
		}, nil
	}

	return Decision{Allowed: true, Limit: limit, Current: current}, nil
}

// Reserve atomically checks the limit and claims the increment. Returns
// *domain.QuotaExceededError when the plan limit would be crossed. A caller
// whose action subsequently fails must call Release to give the quota back.
func (t *Tracker) Reserve(ctx context.Context, accountID int64, action domain.Action, increment int) error {
	return t.casUpdate(ctx, accountID, func(a *domain.Account) error {
		current := a.UsageFor(action)
		limit := PlanLimit(a.Plan, action)
		if limit != Unlimited && current+increment > limit {
			return &domain.QuotaExceededError{Action: action, Limit: limit, Current: current}
		}
		a.SetUsage(action, current+increment)
		return nil
	})
}

// Release returns a previously reserved increment after the guarded action
// failed. Counters never go below zero.
func (t *Tracker) Release(ctx context.Context, accountID int64, action domain.Action, increment int) error {
	return t.casUpdate(ctx, accountID, func(a *domain.Account) error {
		a.SetUsage(action, a.UsageFor(action)-increment)
		return nil
	})
}

// CommitUsage applies an unconditional atomic increment. It exists for the
// legacy check-act-commit endpoint contract; new callers should go through
// Reserve so the check and the increment cannot race.
func (t *Tracker) CommitUsage(ctx context.Context, accountID int64, action domain.Action, increment int) error {
	return t.casUpdate(ctx, accountID, func(a *domain.Account) error {
		a.SetUsage(action, a.UsageFor(action)+increment)
		return nil
	})
}

// RollPeriodIfElapsed resets counters for an account whose billing period
// has passed. Returns true when a reset was written. The CAS guarantees the
// reset happens exactly once even with concurrent sweepers.
func (t *Tracker) RollPeriodIfElapsed(ctx context.Context, accountID int64) (bool, error) {
	a, err := t.accounts.Get(ctx, accountID)
	if err != nil {
		return false, fmt.Errorf("failed to get account: %w", err)
	}
	if !periodElapsed(a.UsagePeriodStart, t.now()) {
		return false, nil
	}
	// casUpdate applies the roll itself; the no-op mutate just persists it.
	if err := t.casUpdate(ctx, accountID, func(*domain.Account) error { return nil }); err != nil {
		return false, err
	}
	return true, nil
}

// casUpdate runs mutate inside a compare-and-swap retry loop. The monthly
// reset is applied before mutate so every writer observes post-reset
// counters; the revision check makes reset-plus-mutation atomic.
func (t *Tracker) casUpdate(ctx context.Context, accountID int64, mutate func(*domain.Account) error) error {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		a, err := t.accounts.Get(ctx, accountID)
		if err != nil {
			return fmt.Errorf("failed to get account: %w", err)
		}

		now := t.now()
		if periodElapsed(a.UsagePeriodStart, now) {
			a.EmailsSent = 0
			a.ContactsCount = 0
			a.CampaignsCount = 0
			a.UsagePeriodStart = rollPeriodStart(a.UsagePeriodStart, now)
		}

		if err := mutate(a); err != nil {
			return err
		}

		swapped, err := t.accounts.UpdateUsageCAS(ctx, a)
		if err != nil {
			return fmt.Errorf("failed to update usage: %w", err)
		}
		if swapped {
			return nil
		}
	}
	return fmt.Errorf("usage update for account %d did not converge after %d attempts", accountID, maxCASAttempts)
}

// periodElapsed reports whether now has crossed start + 1 calendar month.
func periodElapsed(start, now time.Time) bool {
	return !now.Before(start.AddDate(0, 1, 0))
}

// rollPeriodStart advances the period start by whole months to the latest
// boundary at or before now, keeping billing periods anchored to the
// original start day rather than drifting to reset time.
func rollPeriodStart(start, now time.Time) time.Time {
	next := start
	for !now.Before(next.AddDate(0, 1, 0)) {
		next = next.AddDate(0, 1, 0)
	}
	return next
}

// NextReset returns when the account's counters next reset.
func NextReset(a *domain.Account, now time.Time) time.Time {
	if periodElapsed(a.UsagePeriodStart, now) {
		return rollPeriodStart(a.UsagePeriodStart, now).AddDate(0, 1, 0)
	}
	return a.UsagePeriodStart.AddDate(0, 1, 0)
}
