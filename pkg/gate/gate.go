package gate

import (
	"context"
	"errors"
	"fmt"

	"github.com/Mercury-nju/novamail-sub004/pkg/domain"
	"github.com/Mercury-nju/novamail-sub004/pkg/logger"
	"github.com/Mercury-nju/novamail-sub004/pkg/quota"
)

// Status is the terminal outcome of a guarded action.
type Status int

const (
	// Denied: the quota check refused the action; it was never performed.
	Denied Status = iota
	// ActionFailed: quota was reserved, the action failed, the reservation
	// was released.
	ActionFailed
	// Succeeded: quota reserved and action performed.
	Succeeded
)

// Outcome reports what happened inside Guard.
type Outcome struct {
	Status Status
	// Reason is set when Status == Denied.
	Reason string
	// Err is the action's error when Status == ActionFailed, or an
	// infrastructure error (the outcome is then Denied with empty reason).
	Err error
}

// Gate wraps a side-effecting action in quota enforcement. Every
// quota-bound endpoint goes through Guard so the reserve/act/release
// sequence is written in exactly one place.
type Gate struct {
	tracker *quota.Tracker
	log     logger.Logger
}

// New creates a permission gate on top of the usage tracker.
func New(tracker *quota.Tracker, log logger.Logger) *Gate {
	return &Gate{tracker: tracker, log: log}
}

// Guard reserves quota for the action, runs perform, and releases the
// reservation if perform fails. Usage is only ever charged for actions that
// actually succeeded, and the reservation makes the check-and-increment
// atomic: concurrent callers cannot jointly overshoot the limit.
func (g *Gate) Guard(ctx context.Context, accountID int64, action domain.Action, increment int, perform func(context.Context) error) Outcome {
	if err := g.tracker.Reserve(ctx, accountID, action, increment); err != nil {
		var qe *domain.QuotaExceededError
		if errors.As(err, &qe) {
			g.log.Info("quota denied",
				"account_id", accountID,
				"action", string(action),
				"limit", qe.Limit,
				"current", qe.Current)
			return Outcome{Status: Denied, Reason: qe.Error()}
		}
		return Outcome{Status: Denied, Err: fmt.Errorf("quota reservation failed: %w", err)}
	}

	if err := perform(ctx); err != nil {
		if relErr := g.tracker.Release(ctx, accountID, action, increment); relErr != nil {
			// The reservation is stuck until the next period reset. Loud log,
			// but the caller's error is the one that matters.
			g.log.Error("failed to release quota reservation",
				"account_id", accountID,
				"action", string(action),
				"increment", increment,
				"error", relErr)
		}
		return Outcome{Status: ActionFailed, Err: err}
	}

	return Outcome{Status: Succeeded}
}
