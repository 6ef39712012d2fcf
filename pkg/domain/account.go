package domain

import "time"

// Plan is a named subscription tier with fixed monthly action limits.
type Plan string

const (
	PlanFree Plan = "free"
	PlanPro  Plan = "pro"
)

// SubscriptionStatus mirrors the payment provider's subscription state.
type SubscriptionStatus string

const (
	StatusActive   SubscriptionStatus = "active"
	StatusPastDue  SubscriptionStatus = "past_due"
	StatusCanceled SubscriptionStatus = "canceled"
)

// Action identifies a metered, quota-bound action.
type Action string

const (
	ActionContacts  Action = "contacts"
	ActionCampaigns Action = "campaigns"
	ActionEmails    Action = "emails"
)

// Role controls access to admin endpoints. Replaces the old hardcoded
// admin-email check with an attribute on the account itself.
type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// Account is the persisted account record. Usage counters belong to the
// current billing period starting at UsagePeriodStart; Revision is the
// optimistic-concurrency token for compare-and-swap updates.
type Account struct {
	ID                 int64
	Email              string
	Name               string
	PasswordHash       string
	Role               Role
	Plan               Plan
	SubscriptionStatus SubscriptionStatus
	StripeCustomerID   string
	EmailsSent         int
	ContactsCount      int
	CampaignsCount     int
	UsagePeriodStart   time.Time
	Revision           int64
	CreatedAt          time.Time
}

// UsageFor returns the counter for the given action.
func (a *Account) UsageFor(action Action) int {
	switch action {
	case ActionContacts:
		return a.ContactsCount
	case ActionCampaigns:
		return a.CampaignsCount
	case ActionEmails:
		return a.EmailsSent
	}
	return 0
}

// SetUsage sets the counter for the given action, clamping at zero.
func (a *Account) SetUsage(action Action, count int) {
	if count < 0 {
		count = 0
	}
	switch action {
	case ActionContacts:
		a.ContactsCount = count
	case ActionCampaigns:
		a.CampaignsCount = count
	case ActionEmails:
		a.EmailsSent = count
	}
}

// IsAdmin is the admin policy: pure function of the account's role.
func IsAdmin(a *Account) bool {
	return a != nil && a.Role == RoleAdmin
}
