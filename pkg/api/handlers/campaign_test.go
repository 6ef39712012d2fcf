package handlers

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mercury-nju/novamail-sub004/pkg/domain"
)

func TestSendCampaign_Success(t *testing.T) {
	env := newTestEnv(t)
	a := env.createAccount(t, "sender@test.com", domain.PlanFree)

	c, rec := env.authedRequest(a.ID, `{"campaign_id":"camp_1","recipients":100}`)
	require.NoError(t, env.campaign.SendCampaign(c))
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, 1, env.sender.calls)

	got, err := env.accounts.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, got.EmailsSent)
}

func TestSendCampaign_QuotaExceeded(t *testing.T) {
	env := newTestEnv(t)
	a := env.createAccount(t, "sender@test.com", domain.PlanFree)
	require.NoError(t, env.tracker.CommitUsage(context.Background(), a.ID, domain.ActionEmails, 950))

	// 950 + 100 > 1000 on the free plan.
	c, rec := env.authedRequest(a.ID, `{"campaign_id":"camp_1","recipients":100}`)
	require.NoError(t, env.campaign.SendCampaign(c))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "quota_exceeded")

	assert.Equal(t, 0, env.sender.calls, "a denied campaign is never handed to delivery")

	got, err := env.accounts.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, 950, got.EmailsSent)
}

func TestSendCampaign_DeliveryFailureReleasesQuota(t *testing.T) {
	env := newTestEnv(t)
	a := env.createAccount(t, "sender@test.com", domain.PlanFree)
	env.sender.err = errors.New("delivery pipeline down")

	c, rec := env.authedRequest(a.ID, `{"campaign_id":"camp_1","recipients":100}`)
	require.NoError(t, env.campaign.SendCampaign(c))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	// Failed delivery is not charged.
	got, err := env.accounts.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.EmailsSent)
}

func TestSendCampaign_InvalidRequest(t *testing.T) {
	env := newTestEnv(t)
	a := env.createAccount(t, "sender@test.com", domain.PlanFree)

	c, rec := env.authedRequest(a.ID, `{"campaign_id":"","recipients":0}`)
	require.NoError(t, env.campaign.SendCampaign(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
