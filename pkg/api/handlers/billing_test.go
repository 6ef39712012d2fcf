package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"

	"github.com/Mercury-nju/novamail-sub004/pkg/domain"
	"github.com/Mercury-nju/novamail-sub004/pkg/webhook"
)

func stripeSignature(payload []byte, secret string) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func (env *testEnv) webhookRequest(path, body, sigHeader, sig string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if sig != "" {
		req.Header.Set(sigHeader, sig)
	}
	rec := httptest.NewRecorder()
	return env.echo.NewContext(req, rec), rec
}

func TestStripeWebhook_MissingSignature(t *testing.T) {
	env := newTestEnv(t)

	c, rec := env.webhookRequest("/webhooks/stripe", `{}`, "Stripe-Signature", "")
	require.NoError(t, env.billing.StripeWebhook(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing_signature")
}

func TestStripeWebhook_InvalidSignature(t *testing.T) {
	env := newTestEnv(t)

	c, rec := env.webhookRequest("/webhooks/stripe", `{}`, "Stripe-Signature", "t=1,v1=deadbeef")
	require.NoError(t, env.billing.StripeWebhook(c))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStripeWebhook_CheckoutCompleted(t *testing.T) {
	env := newTestEnv(t)
	a := env.createAccount(t, "upgrade@test.com", domain.PlanFree)

	payload := fmt.Sprintf(
		`{"id":"evt_http_1","type":"checkout.session.completed","api_version":%q,"data":{"object":{"id":"cs_1","customer":"cus_http","metadata":{"account_id":"%d","plan":"pro"}}}}`,
		stripe.APIVersion, a.ID)

	c, rec := env.webhookRequest("/webhooks/stripe", payload,
		"Stripe-Signature", stripeSignature([]byte(payload), testStripeSecret))
	require.NoError(t, env.billing.StripeWebhook(c))
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := env.accounts.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanPro, got.Plan)
	assert.Equal(t, "cus_http", got.StripeCustomerID)
}

func TestProviderWebhook_Updated(t *testing.T) {
	env := newTestEnv(t)
	a := env.createAccount(t, "provider@test.com", domain.PlanFree)

	payload := `{"id":"pev_http_1","type":"subscription.updated","data":{"email":"provider@test.com","plan":"pro","status":"active"}}`

	c, rec := env.webhookRequest("/webhooks/generic", payload,
		"X-Provider-Signature", webhook.Sign([]byte(payload), testProviderSecret))
	c.SetParamNames("provider")
	c.SetParamValues("generic")

	require.NoError(t, env.billing.ProviderWebhook(c))
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := env.accounts.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanPro, got.Plan)
}

func TestProviderWebhook_InvalidSignature(t *testing.T) {
	env := newTestEnv(t)
	env.createAccount(t, "provider@test.com", domain.PlanFree)

	payload := `{"id":"pev_http_2","type":"subscription.updated","data":{"email":"provider@test.com","plan":"pro","status":"active"}}`

	c, rec := env.webhookRequest("/webhooks/generic", payload, "X-Provider-Signature", "sha256=0000")
	c.SetParamNames("provider")
	c.SetParamValues("generic")

	require.NoError(t, env.billing.ProviderWebhook(c))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
