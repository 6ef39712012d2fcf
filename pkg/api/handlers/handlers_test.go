package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/Mercury-nju/novamail-sub004/config"
	"github.com/Mercury-nju/novamail-sub004/pkg/billing"
	"github.com/Mercury-nju/novamail-sub004/pkg/cache"
	"github.com/Mercury-nju/novamail-sub004/pkg/database"
	"github.com/Mercury-nju/novamail-sub004/pkg/domain"
	"github.com/Mercury-nju/novamail-sub004/pkg/gate"
	"github.com/Mercury-nju/novamail-sub004/pkg/logger"
	"github.com/Mercury-nju/novamail-sub004/pkg/metrics"
	custommw "github.com/Mercury-nju/novamail-sub004/pkg/middleware"
	"github.com/Mercury-nju/novamail-sub004/pkg/quota"
	"github.com/Mercury-nju/novamail-sub004/pkg/verification"
	"github.com/Mercury-nju/novamail-sub004/pkg/webhook"
)

// Prometheus collectors register globally; one instance for the package.
var testMetrics = metrics.New()

const (
	testStripeSecret   = "whsec_stripe_test"
	testProviderSecret = "whsec_provider_test"
)

// fakeEmailSender captures outbound mail instead of sending it.
type fakeEmailSender struct {
	mu       sync.Mutex
	codes    map[string]string
	failSend bool
}

func newFakeEmailSender() *fakeEmailSender {
	return &fakeEmailSender{codes: make(map[string]string)}
}

func (f *fakeEmailSender) SendVerificationCode(email, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend {
		return errors.New("smtp unavailable")
	}
	f.codes[email] = code
	return nil
}

func (f *fakeEmailSender) SendWelcome(email, name string) error {
	return nil
}

func (f *fakeEmailSender) codeFor(email string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.codes[email]
}

// fakeCampaignSender fails on demand so the gate's release path is testable.
type fakeCampaignSender struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (f *fakeCampaignSender) SendCampaign(ctx context.Context, accountID int64, campaignID string, recipients int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

type testEnv struct {
	echo     *echo.Echo
	accounts *database.MemoryAccountStore
	codes    *verification.Store
	tracker  *quota.Tracker
	email    *fakeEmailSender
	sender   *fakeCampaignSender

	auth     *AuthHandler
	user     *UserHandler
	billing  *BillingHandler
	campaign *CampaignHandler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })
	cacheClient := &cache.Client{Redis: redisClient}

	cfg := &config.Config{
		JWTSecret:          "test-secret",
		JWTExpirationHours: 24,
	}

	accounts := database.NewMemoryAccountStore()
	codes := verification.NewStore(cacheClient)
	events := webhook.NewEventLog(cacheClient)
	tracker := quota.NewTracker(accounts)
	log := logger.NewNop()

	billingSvc := billing.NewService(accounts, events, &billing.Config{
		StripeWebhookSecret: testStripeSecret,
		ProviderSecrets:     map[string]string{"generic": testProviderSecret},
	}, log)

	email := newFakeEmailSender()
	sender := &fakeCampaignSender{}

	return &testEnv{
		echo:     echo.New(),
		accounts: accounts,
		codes:    codes,
		tracker:  tracker,
		email:    email,
		sender:   sender,
		auth:     NewAuthHandler(accounts, codes, email, cfg, testMetrics, log),
		user:     NewUserHandler(tracker, accounts, testMetrics),
		billing:  NewBillingHandler(billingSvc, testMetrics),
		campaign: NewCampaignHandler(gate.New(tracker, log), sender, testMetrics),
	}
}

// jsonRequest builds an echo context carrying a JSON body.
func (env *testEnv) jsonRequest(body string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return env.echo.NewContext(req, rec), rec
}

// authedRequest is jsonRequest with the session account id already bound.
func (env *testEnv) authedRequest(accountID int64, body string) (echo.Context, *httptest.ResponseRecorder) {
	c, rec := env.jsonRequest(body)
	c.Set(custommw.ContextKeyAccountID, accountID)
	return c, rec
}

func (env *testEnv) createAccount(t *testing.T, email string, plan domain.Plan) *domain.Account {
	t.Helper()
	a := &domain.Account{
		Email:              email,
		Name:               "Handler Test",
		PasswordHash:       "x",
		Role:               domain.RoleMember,
		Plan:               plan,
		SubscriptionStatus: domain.StatusActive,
		UsagePeriodStart:   time.Now(),
	}
	require.NoError(t, env.accounts.Create(context.Background(), a))
	return a
}
