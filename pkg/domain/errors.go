package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for business outcomes. Handlers branch on these with
// errors.Is/errors.As; they never carry storage or provider detail.
var (
	ErrAccountNotFound  = errors.New("account not found")
	ErrDuplicateAccount = errors.New("account already exists")
	ErrCodeNotFound     = errors.New("verification code not found")
	ErrCodeExpired      = errors.New("verification code expired")
	ErrCodeMismatch     = errors.New("verification code mismatch")
	ErrSignatureInvalid = errors.New("webhook signature invalid")
	ErrUnknownAction    = errors.New("unknown metered action")
)

// QuotaExceededError reports a denied quota check with enough detail for the
// caller to explain the denial (which limit, how much is used).
type QuotaExceededError struct {
	Action  Action
	Limit   int
	Current int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("%s limit exceeded: %d/%d used", e.Action, e.Current, e.Limit)
}

// IsQuotaExceeded reports whether err is a quota denial.
func IsQuotaExceeded(err error) bool {
	var qe *QuotaExceededError
	return errors.As(err, &qe)
}
