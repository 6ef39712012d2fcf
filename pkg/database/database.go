package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Client holds the database connection pool
type Client struct {
	DB *sql.DB
}

// PoolConfig holds connection pool configuration
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultPoolConfig returns sensible defaults for connection pooling
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 10 * time.Minute,
	}
}

// NewClient connects to Postgres and verifies the connection.
func NewClient(databaseURL string) (*Client, error) {
	return NewClientWithPool(databaseURL, DefaultPoolConfig())
}

// NewClientWithPool connects with explicit pool settings.
func NewClientWithPool(databaseURL string, pool PoolConfig) (*Client, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Client{DB: db}, nil
}

// Close closes the connection pool
func (c *Client) Close() error {
	return c.DB.Close()
}

// EnsureSchema creates the accounts table if it does not exist. Kept as
// plain DDL; anything more involved belongs in a real migration tool.
func (c *Client) EnsureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS accounts (
	id                  BIGSERIAL PRIMARY KEY,
	email               TEXT NOT NULL UNIQUE,
	name                TEXT NOT NULL,
	password_hash       TEXT NOT NULL,
	role                TEXT NOT NULL DEFAULT 'member',
	plan                TEXT NOT NULL DEFAULT 'free',
	subscription_status TEXT NOT NULL DEFAULT 'active',
	stripe_customer_id  TEXT NOT NULL DEFAULT '',
	emails_sent         INTEGER NOT NULL DEFAULT 0 CHECK (emails_sent >= 0),
	contacts_count      INTEGER NOT NULL DEFAULT 0 CHECK (contacts_count >= 0),
	campaigns_count     INTEGER NOT NULL DEFAULT 0 CHECK (campaigns_count >= 0),
	usage_period_start  TIMESTAMPTZ NOT NULL DEFAULT now(),
	revision            BIGINT NOT NULL DEFAULT 0,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS accounts_stripe_customer_idx ON accounts (stripe_customer_id) WHERE stripe_customer_id <> '';
`
	if _, err := c.DB.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}
