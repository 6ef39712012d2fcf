package domain

import (
	"context"
	"time"
)

// AccountStore defines data access for accounts. UpdateUsageCAS is the
// compare-and-swap primitive quota updates are built on: it writes the
// counters and period start only if the stored revision still matches, and
// reports whether the swap happened.
type AccountStore interface {
	Get(ctx context.Context, id int64) (*Account, error)
	GetByEmail(ctx context.Context, email string) (*Account, error)
	GetByStripeCustomer(ctx context.Context, customerID string) (*Account, error)
	Create(ctx context.Context, a *Account) error
	UpdateUsageCAS(ctx context.Context, a *Account) (bool, error)
	UpdateSubscription(ctx context.Context, id int64, plan Plan, status SubscriptionStatus, stripeCustomerID string) error
	ListElapsedPeriods(ctx context.Context, now time.Time, limit int) ([]int64, error)
}

// CodeStore issues and consumes one-time verification codes.
type CodeStore interface {
	Issue(ctx context.Context, identifier string) (string, error)
	Validate(ctx context.Context, identifier, code string) error
	PurgeExpired(ctx context.Context) (int, error)
}

// EventStore tracks processed webhook event ids for idempotent dispatch.
type EventStore interface {
	AlreadyProcessed(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, eventID string) error
}

// EmailSender delivers verification codes. The code travels only through
// this collaborator, never back to the HTTP caller.
type EmailSender interface {
	SendVerificationCode(toEmail, code string) error
	SendWelcome(toEmail, name string) error
}

// CampaignSender performs the actual campaign delivery. Out of scope here;
// the gate only needs its success/failure signal.
type CampaignSender interface {
	SendCampaign(ctx context.Context, accountID int64, campaignID string, recipients int) error
}
