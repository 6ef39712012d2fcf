package quota

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mercury-nju/novamail-sub004/pkg/database"
	"github.com/Mercury-nju/novamail-sub004/pkg/domain"
)

func setupTracker(t *testing.T) (*Tracker, *database.MemoryAccountStore) {
	t.Helper()
	store := database.NewMemoryAccountStore()
	return NewTracker(store), store
}

func createAccount(t *testing.T, store *database.MemoryAccountStore, plan domain.Plan, periodStart time.Time) *domain.Account {
	t.Helper()
	a := &domain.Account{
		Email:              "user@test.com",
		Name:               "Test User",
		PasswordHash:       "x",
		Role:               domain.RoleMember,
		Plan:               plan,
		SubscriptionStatus: domain.StatusActive,
		UsagePeriodStart:   periodStart,
	}
	require.NoError(t, store.Create(context.Background(), a))
	return a
}

func TestCheckPermission_AllowsUnderLimit(t *testing.T) {
	tracker, store := setupTracker(t)
	a := createAccount(t, store, domain.PlanFree, time.Now())

	decision, err := tracker.CheckPermission(context.Background(), a.ID, domain.ActionContacts, 1)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, 500, decision.Limit)
	assert.Equal(t, 0, decision.Current)
}

func TestCheckPermission_Boundary(t *testing.T) {
	tracker, store := setupTracker(t)
	a := createAccount(t, store, domain.PlanFree, time.Now())

	// current == limit - increment: allowed
	require.NoError(t, tracker.CommitUsage(context.Background(), a.ID, domain.ActionContacts, 499))
	decision, err := tracker.CheckPermission(context.Background(), a.ID, domain.ActionContacts, 1)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	// current == limit - increment + 1: denied
	require.NoError(t, tracker.CommitUsage(context.Background(), a.ID, domain.ActionContacts, 1))
	decision, err = tracker.CheckPermission(context.Background(), a.ID, domain.ActionContacts, 1)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "contacts limit exceeded")
	assert.Equal(t, 500, decision.Current)
}

func TestCheckPermission_AtLimitDeniedWithReason(t *testing.T) {
	tracker, store := setupTracker(t)
	a := createAccount(t, store, domain.PlanFree, time.Now())

	require.NoError(t, tracker.CommitUsage(context.Background(), a.ID, domain.ActionContacts, 500))

	decision, err := tracker.CheckPermission(context.Background(), a.ID, domain.ActionContacts, 1)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "contacts")
	assert.Equal(t, 500, decision.Limit)
}

func TestCheckPermission_DoesNotMutate(t *testing.T) {
	tracker, store := setupTracker(t)
	a := createAccount(t, store, domain.PlanFree, time.Now())

	for i := 0; i < 3; i++ {
		_, err := tracker.CheckPermission(context.Background(), a.ID, domain.ActionEmails, 10)
		require.NoError(t, err)
	}

	got, err := store.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.EmailsSent)
	assert.Equal(t, int64(0), got.Revision)
}

func TestCheckPermission_UnlimitedProAction(t *testing.T) {
	tracker, store := setupTracker(t)
	a := createAccount(t, store, domain.PlanPro, time.Now())

	require.NoError(t, tracker.CommitUsage(context.Background(), a.ID, domain.ActionContacts, 100000))

	decision, err := tracker.CheckPermission(context.Background(), a.ID, domain.ActionContacts, 1)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, Unlimited, decision.Limit)
}

func TestCheckPermission_VirtualResetAfterMonth(t *testing.T) {
	tracker, store := setupTracker(t)
	a := createAccount(t, store, domain.PlanFree, time.Now().AddDate(0, -1, -1))

	require.NoError(t, tracker.CommitUsage(context.Background(), a.ID, domain.ActionCampaigns, 5))

	// CommitUsage rolled the period, so fill it again and move the clock.
	now := time.Now()
	tracker.WithClock(func() time.Time { return now.AddDate(0, 1, 1) })

	decision, err := tracker.CheckPermission(context.Background(), a.ID, domain.ActionCampaigns, 5)
	require.NoError(t, err)
	assert.True(t, decision.Allowed, "elapsed period counts as zero usage")
	assert.Equal(t, 0, decision.Current)
}

func TestCommitUsage_RollsElapsedPeriodOnce(t *testing.T) {
	tracker, store := setupTracker(t)
	start := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	a := createAccount(t, store, domain.PlanFree, start)

	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	tracker.WithClock(func() time.Time { return now })

	require.NoError(t, tracker.CommitUsage(context.Background(), a.ID, domain.ActionEmails, 7))

	got, err := store.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, got.EmailsSent)
	// Period start advanced by whole months, anchored to the 10th.
	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), got.UsagePeriodStart)
}

func TestReserve_DeniesOverLimit(t *testing.T) {
	tracker, store := setupTracker(t)
	a := createAccount(t, store, domain.PlanFree, time.Now())

	require.NoError(t, tracker.Reserve(context.Background(), a.ID, domain.ActionCampaigns, 5))

	err := tracker.Reserve(context.Background(), a.ID, domain.ActionCampaigns, 1)
	require.Error(t, err)

	var qe *domain.QuotaExceededError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, domain.ActionCampaigns, qe.Action)
	assert.Equal(t, 5, qe.Limit)
	assert.Equal(t, 5, qe.Current)

	// The denied attempt reserved nothing.
	got, err := store.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.CampaignsCount)
}

func TestReserveRelease_RoundTrip(t *testing.T) {
	tracker, store := setupTracker(t)
	a := createAccount(t, store, domain.PlanFree, time.Now())

	require.NoError(t, tracker.Reserve(context.Background(), a.ID, domain.ActionEmails, 100))
	require.NoError(t, tracker.Release(context.Background(), a.ID, domain.ActionEmails, 100))

	got, err := store.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.EmailsSent)
}

func TestRelease_NeverGoesNegative(t *testing.T) {
	tracker, store := setupTracker(t)
	a := createAccount(t, store, domain.PlanFree, time.Now())

	require.NoError(t, tracker.Release(context.Background(), a.ID, domain.ActionEmails, 50))

	got, err := store.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.EmailsSent)
}

func TestReserve_NoOvershootUnderConcurrency(t *testing.T) {
	tracker, store := setupTracker(t)
	a := createAccount(t, store, domain.PlanFree, time.Now())

	// 10 concurrent reservations of 1 against a campaigns limit of 5:
	// exactly 5 must win.
	const attempts = 10
	var wg sync.WaitGroup
	granted := make(chan struct{}, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := tracker.Reserve(context.Background(), a.ID, domain.ActionCampaigns, 1); err == nil {
				granted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(granted)

	assert.Equal(t, 5, len(granted))

	got, err := store.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.CampaignsCount)
}

func TestRollPeriodIfElapsed(t *testing.T) {
	tracker, store := setupTracker(t)
	a := createAccount(t, store, domain.PlanFree, time.Now().AddDate(0, -2, 0))

	require.NoError(t, tracker.CommitUsage(context.Background(), a.ID, domain.ActionContacts, 3))

	// Fresh period now; nothing to roll.
	rolled, err := tracker.RollPeriodIfElapsed(context.Background(), a.ID)
	require.NoError(t, err)
	assert.False(t, rolled)

	tracker.WithClock(func() time.Time { return time.Now().AddDate(0, 1, 1) })
	rolled, err = tracker.RollPeriodIfElapsed(context.Background(), a.ID)
	require.NoError(t, err)
	assert.True(t, rolled)

	got, err := store.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.ContactsCount)
}

func TestPlanLimit_UnknownPlanFallsBackToFree(t *testing.T) {
	assert.Equal(t, 500, PlanLimit(domain.Plan("enterprise"), domain.ActionContacts))
	assert.Equal(t, 50000, PlanLimit(domain.PlanPro, domain.ActionEmails))
	assert.Equal(t, Unlimited, PlanLimit(domain.PlanPro, domain.ActionCampaigns))
}

func TestValidAction(t *testing.T) {
	_, ok := ValidAction("emails")
	assert.True(t, ok)
	_, ok = ValidAction("exports")
	assert.False(t, ok)
}
