package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/stripe/stripe-go/v76"
	stripewebhook "github.com/stripe/stripe-go/v76/webhook"

	"github.com/Mercury-nju/novamail-sub004/pkg/domain"
	"github.com/Mercury-nju/novamail-sub004/pkg/logger"
	"github.com/Mercury-nju/novamail-sub004/pkg/webhook"
)

// Config holds payment provider configuration.
type Config struct {
	StripeSecretKey     string
	StripeWebhookSecret string
	// ProviderSecrets maps non-Stripe provider names to their shared
	// webhook secrets.
	ProviderSecrets map[string]string
}

// Service applies payment-provider webhook events to subscription state.
// Every inbound event is signature-verified against the raw payload before
// parsing, deduplicated by event id, and applied as an absolute set of
// plan/status so replays cannot compound.
type Service struct {
	accounts domain.AccountStore
	events   domain.EventStore
	config   *Config
	log      logger.Logger
}

// NewService creates a billing service.
func NewService(accounts domain.AccountStore, events domain.EventStore, cfg *Config, log logger.Logger) *Service {
	if cfg.StripeSecretKey != "" {
		stripe.Key = cfg.StripeSecretKey
	}
	return &Service{
		accounts: accounts,
		events:   events,
		config:   cfg,
		log:      log,
	}
}

// HandleStripeWebhook verifies and dispatches a Stripe webhook. The
// signature check runs over the raw bytes exactly as received; a failure is
// returned as domain.ErrSignatureInvalid and audit-logged, with no state
// touched.
func (s *Service) HandleStripeWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := stripewebhook.ConstructEvent(payload, signature, s.config.StripeWebhookSecret)
	if err != nil {
		s.log.Warn("stripe webhook signature verification failed", "error", err)
		return fmt.Errorf("%w: %v", domain.ErrSignatureInvalid, err)
	}

	done, err := s.beginEvent(ctx, string(event.ID), string(event.Type))
	if err != nil || done {
		return err
	}

	switch event.Type {
	case "checkout.session.completed":
		err = s.handleCheckoutCompleted(ctx, event)
	case "customer.subscription.updated":
		err = s.handleSubscriptionUpdated(ctx, event)
	case "customer.subscription.deleted":
		err = s.handleSubscriptionDeleted(ctx, event)
	case "invoice.payment_failed":
		err = s.handlePaymentFailed(ctx, event)
	default:
		s.log.Debug("unhandled stripe event type", "type", string(event.Type))
	}
	if err != nil {
		return err
	}

	return s.events.MarkProcessed(ctx, string(event.ID))
}

// ProviderEvent is the generic payload shape for non-Stripe providers.
type ProviderEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Email  string `json:"email"`
		Plan   string `json:"plan"`
		Status string `json:"status"`
	} `json:"data"`
}

// HandleProviderWebhook verifies and dispatches a webhook from a generic
// provider using the shared-secret HMAC scheme.
func (s *Service) HandleProviderWebhook(ctx context.Context, provider string, payload []byte, signature string) error {
	secret, ok := s.config.ProviderSecrets[provider]
	if !ok || !webhook.Verify(payload, signature, secret) {
		s.log.Warn("provider webhook signature verification failed", "provider", provider)
		return domain.ErrSignatureInvalid
	}

	var event ProviderEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("failed to parse provider event: %w", err)
	}
	if event.ID == "" {
		return fmt.Errorf("provider event missing id")
	}

	done, err := s.beginEvent(ctx, provider+":"+event.ID, event.Type)
	if err != nil || done {
		return err
	}

	account, err := s.accounts.GetByEmail(ctx, event.Data.Email)
	if err != nil {
		return fmt.Errorf("failed to resolve account for event %s: %w", event.ID, err)
	}

	switch event.Type {
	case "subscription.updated":
		err = s.accounts.UpdateSubscription(ctx, account.ID,
			normalizePlan(event.Data.Plan), normalizeStatus(event.Data.Status), account.StripeCustomerID)
	case "subscription.canceled":
		err = s.accounts.UpdateSubscription(ctx, account.ID,
			domain.PlanFree, domain.StatusCanceled, account.StripeCustomerID)
	default:
		s.log.Debug("unhandled provider event type", "provider", provider, "type", event.Type)
	}
	if err != nil {
		return err
	}

	return s.events.MarkProcessed(ctx, provider+":"+event.ID)
}

// beginEvent checks the idempotency log. done=true means the event was
// already applied and the caller should return success without mutating.
// Ids are only marked after the mutation succeeds, so a failed dispatch
// stays retryable by the provider.
func (s *Service) beginEvent(ctx context.Context, eventID, eventType string) (bool, error) {
	processed, err := s.events.AlreadyProcessed(ctx, eventID)
	if err != nil {
		return false, err
	}
	if processed {
		s.log.Info("duplicate webhook event ignored", "event_id", eventID, "type", eventType)
		return true, nil
	}
	return false, nil
}

func (s *Service) handleCheckoutCompleted(ctx context.Context, event stripe.Event) error {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return fmt.Errorf("failed to unmarshal checkout session: %w", err)
	}

	accountIDStr, ok := sess.Metadata["account_id"]
	if !ok {
		return fmt.Errorf("account_id not found in checkout metadata")
	}
	accountID, err := strconv.ParseInt(accountIDStr, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid account_id in checkout metadata: %w", err)
	}

	plan := normalizePlan(sess.Metadata["plan"])

	customerID := ""
	if sess.Customer != nil {
		customerID = sess.Customer.ID
	}

	s.log.Info("checkout completed", "account_id", accountID, "plan", string(plan))
	return s.accounts.UpdateSubscription(ctx, accountID, plan, domain.StatusActive, customerID)
}

func (s *Service) handleSubscriptionUpdated(ctx context.Context, event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("failed to unmarshal subscription: %w", err)
	}

	account, err := s.accountForCustomer(ctx, sub.Customer)
	if err != nil {
		return err
	}
	if account == nil {
		s.log.Warn("subscription update for unknown customer", "subscription", sub.ID)
		return nil
	}

	status := mapStripeStatus(sub.Status)
	plan := account.Plan
	if status == domain.StatusCanceled {
		plan = domain.PlanFree
	}

	s.log.Info("subscription updated", "account_id", account.ID, "status", string(status))
	return s.accounts.UpdateSubscription(ctx, account.ID, plan, status, account.StripeCustomerID)
}

func (s *Service) handleSubscriptionDeleted(ctx context.Context, event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("failed to unmarshal subscription: %w", err)
	}

	account, err := s.accountForCustomer(ctx, sub.Customer)
	if err != nil {
		return err
	}
	if account == nil {
		s.log.Warn("subscription delete for unknown customer", "subscription", sub.ID)
		return nil
	}

	s.log.Info("subscription canceled, downgrading to free", "account_id", account.ID)
	return s.accounts.UpdateSubscription(ctx, account.ID, domain.PlanFree, domain.StatusCanceled, account.StripeCustomerID)
}

func (s *Service) handlePaymentFailed(ctx context.Context, event stripe.Event) error {
	var inv stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return fmt.Errorf("failed to unmarshal invoice: %w", err)
	}

	account, err := s.accountForCustomer(ctx, inv.Customer)
	if err != nil {
		return err
	}
	if account == nil {
		s.log.Warn("payment failure for unknown customer", "invoice", inv.ID)
		return nil
	}

	s.log.Warn("invoice payment failed", "account_id", account.ID, "invoice", inv.ID)
	return s.accounts.UpdateSubscription(ctx, account.ID, account.Plan, domain.StatusPastDue, account.StripeCustomerID)
}

// accountForCustomer resolves the account for a Stripe customer reference.
// nil/nil means the customer is unknown to us, which is not an error: the
// provider may retry events for accounts deleted on our side.
func (s *Service) accountForCustomer(ctx context.Context, customer *stripe.Customer) (*domain.Account, error) {
	if customer == nil || customer.ID == "" {
		return nil, nil
	}
	account, err := s.accounts.GetByStripeCustomer(ctx, customer.ID)
	if errors.Is(err, domain.ErrAccountNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up account by customer: %w", err)
	}
	return account, nil
}

func mapStripeStatus(status stripe.SubscriptionStatus) domain.SubscriptionStatus {
	switch status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		return domain.StatusActive
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid:
		return domain.StatusPastDue
	default:
		return domain.StatusCanceled
	}
}

func normalizePlan(plan string) domain.Plan {
	if domain.Plan(plan) == domain.PlanPro {
		return domain.PlanPro
	}
	return domain.PlanFree
}

func normalizeStatus(status string) domain.SubscriptionStatus {
	switch domain.SubscriptionStatus(status) {
	case domain.StatusActive:
		return domain.StatusActive
	case domain.StatusPastDue:
		return domain.StatusPastDue
	default:
		return domain.StatusCanceled
	}
}
