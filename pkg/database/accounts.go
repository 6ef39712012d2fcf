package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/Mercury-nju/novamail-sub004/pkg/domain"
)

const accountColumns = `id, email, name, password_hash, role, plan, subscription_status,
	stripe_customer_id, emails_sent, contacts_count, campaigns_count,
	usage_period_start, revision, created_at`

// AccountStore is the Postgres implementation of domain.AccountStore. The
// revision column backs the compare-and-swap contract: every write bumps
// it, and conditional writes check it.
type AccountStore struct {
	db *sql.DB
}

// NewAccountStore creates an account store on the given client.
func NewAccountStore(c *Client) *AccountStore {
	return &AccountStore{db: c.DB}
}

// Get fetches an account by id.
func (s *AccountStore) Get(ctx context.Context, id int64) (*domain.Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	return scanAccount(row)
}

// GetByEmail fetches an account by email.
func (s *AccountStore) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email)
	return scanAccount(row)
}

// GetByStripeCustomer fetches an account by its Stripe customer id.
func (s *AccountStore) GetByStripeCustomer(ctx context.Context, customerID string) (*domain.Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE stripe_customer_id = $1`, customerID)
	return scanAccount(row)
}

// Create inserts a new account and fills in its id and created_at.
func (s *AccountStore) Create(ctx context.Context, a *domain.Account) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO accounts
			(email, name, password_hash, role, plan, subscription_status,
			 stripe_customer_id, emails_sent, contacts_count, campaigns_count,
			 usage_period_start, revision)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 0)
		RETURNING id, created_at`,
		a.Email, a.Name, a.PasswordHash, a.Role, a.Plan, a.SubscriptionStatus,
		a.StripeCustomerID, a.EmailsSent, a.ContactsCount, a.CampaignsCount,
		a.UsagePeriodStart,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return domain.ErrDuplicateAccount
		}
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

// UpdateUsageCAS writes the usage counters and period start only if the
// stored revision still matches a.Revision. Reports whether the swap
// happened; false means another writer got there first and the caller
// should re-read and retry.
func (s *AccountStore) UpdateUsageCAS(ctx context.Context, a *domain.Account) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET emails_sent = $1,
		    contacts_count = $2,
		    campaigns_count = $3,
		    usage_period_start = $4,
		    revision = revision + 1
		WHERE id = $5 AND revision = $6`,
		a.EmailsSent, a.ContactsCount, a.CampaignsCount, a.UsagePeriodStart,
		a.ID, a.Revision,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update usage: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read update result: %w", err)
	}
	return n > 0, nil
}

// UpdateSubscription applies an absolute plan/status set from a webhook
// event. Not conditional on revision: subscription state is owned by the
// provider, and last-writer-wins on replayed absolute sets is correct.
func (s *AccountStore) UpdateSubscription(ctx context.Context, id int64, plan domain.Plan, status domain.SubscriptionStatus, stripeCustomerID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET plan = $1,
		    subscription_status = $2,
		    stripe_customer_id = $3,
		    revision = revision + 1
		WHERE id = $4`,
		plan, status, stripeCustomerID, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if n == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

// ListElapsedPeriods returns ids of accounts whose billing period has
// passed, for the rollover sweep.
func (s *AccountStore) ListElapsedPeriods(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM accounts
		WHERE usage_period_start + INTERVAL '1 month' <= $1
		ORDER BY usage_period_start
		LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list elapsed periods: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan account id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanAccount(row *sql.Row) (*domain.Account, error) {
	var a domain.Account
	err := row.Scan(
		&a.ID, &a.Email, &a.Name, &a.PasswordHash, &a.Role, &a.Plan,
		&a.SubscriptionStatus, &a.StripeCustomerID, &a.EmailsSent,
		&a.ContactsCount, &a.CampaignsCount, &a.UsagePeriodStart,
		&a.Revision, &a.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}
	return &a, nil
}
