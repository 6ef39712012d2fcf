package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	apierrors "github.com/Mercury-nju/novamail-sub004/pkg/api/errors"
	"github.com/Mercury-nju/novamail-sub004/pkg/domain"
	"github.com/Mercury-nju/novamail-sub004/pkg/metrics"
	custommw "github.com/Mercury-nju/novamail-sub004/pkg/middleware"
	"github.com/Mercury-nju/novamail-sub004/pkg/models"
	"github.com/Mercury-nju/novamail-sub004/pkg/quota"
)

// UserHandler exposes quota checks and usage for the authenticated account
type UserHandler struct {
	tracker   *quota.Tracker
	accounts  domain.AccountStore
	metrics   *metrics.Metrics
	validator *validator.Validate
}

// NewUserHandler creates a new user handler
func NewUserHandler(tracker *quota.Tracker, accounts domain.AccountStore, m *metrics.Metrics) *UserHandler {
	return &UserHandler{
		tracker:   tracker,
		accounts:  accounts,
		metrics:   m,
		validator: validator.New(),
	}
}

// CheckPermission godoc
// @Summary Check a quota-bound action
// @Description Report whether the action with the proposed increment fits inside the plan limit. Never mutates counters.
// @Tags User
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body models.CheckPermissionRequest true "Action and increment"
// @Success 200 {object} models.CheckPermissionResponse "Decision"
// @Failure 400 {object} models.ErrorResponse "Invalid request"
// @Failure 401 {object} models.ErrorResponse "Missing or invalid session"
// @Failure 500 {object} models.ErrorResponse "Internal server error"
// @Router /user/check-permission [post]
func (h *UserHandler) CheckPermission(c echo.Context) error {
	accountID, ok := custommw.AccountID(c)
	if !ok {
		return apierrors.UnauthorizedError(c)
	}

	var req models.CheckPermissionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request body",
		})
	}
	if err := h.validator.Struct(req); err != nil {
		return apierrors.ValidationError(c, err)
	}

	action, ok := quota.ValidAction(req.Action)
	if !ok {
		return apierrors.ValidationError(c, domain.ErrUnknownAction)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	decision, err := h.tracker.CheckPermission(ctx, accountID, action, req.Increment)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return apierrors.NotFoundError(c)
		}
		return apierrors.InternalError(c, err)
	}

	result := "allowed"
	if !decision.Allowed {
		result = "denied"
	}
	h.metrics.QuotaChecks.WithLabelValues(string(action), result).Inc()

	return c.JSON(http.StatusOK, models.CheckPermissionResponse{
		Success: true,
		Allowed: decision.Allowed,
		Reason:  decision.Reason,
		Limit:   decision.Limit,
		Current: decision.Current,
	})
}

// UpdateUsage godoc
// @Summary Commit usage
// @Description Atomically add the increment to the account's counter after the guarded action succeeded
// @Tags User
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body models.UpdateUsageRequest true "Action and increment"
// @Success 200 {object} models.SuccessResponse "Usage committed"
// @Failure 400 {object} models.ErrorResponse "Invalid request"
// @Failure 401 {object} models.ErrorResponse "Missing or invalid session"
// @Failure 404 {object} models.ErrorResponse "Unknown account"
// @Failure 500 {object} models.ErrorResponse "Internal server error"
// @Router /user/update-usage [post]
func (h *UserHandler) UpdateUsage(c echo.Context) error {
	accountID, ok := custommw.AccountID(c)
	if !ok {
		return apierrors.UnauthorizedError(c)
	}

	var req models.UpdateUsageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request body",
		})
	}
	if err := h.validator.Struct(req); err != nil {
		return apierrors.ValidationError(c, err)
	}

	action, ok := quota.ValidAction(req.Action)
	if !ok {
		return apierrors.ValidationError(c, domain.ErrUnknownAction)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.tracker.CommitUsage(ctx, accountID, action, req.Increment); err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return apierrors.NotFoundError(c)
		}
		return apierrors.InternalError(c, err)
	}
	h.metrics.UsageCommitted.WithLabelValues(string(action)).Add(float64(req.Increment))

	return c.JSON(http.StatusOK, models.SuccessResponse{Success: true})
}

// GetUsage godoc
// @Summary Usage snapshot
// @Description Current per-action usage against plan limits, with the next reset time
// @Tags User
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.UsageResponse "Usage snapshot"
// @Failure 401 {object} models.ErrorResponse "Missing or invalid session"
// @Failure 500 {object} models.ErrorResponse "Internal server error"
// @Router /user/usage [get]
func (h *UserHandler) GetUsage(c echo.Context) error {
	accountID, ok := custommw.AccountID(c)
	if !ok {
		return apierrors.UnauthorizedError(c)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	account, err := h.accounts.Get(ctx, accountID)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return apierrors.NotFoundError(c)
		}
		return apierrors.InternalError(c, err)
	}

	now := time.Now()
	actions := map[string]models.ActionUsage{}
	remaining := map[string]int{}
	for _, action := range []domain.Action{domain.ActionContacts, domain.ActionCampaigns, domain.ActionEmails} {
		limit := quota.PlanLimit(account.Plan, action)
		used := account.UsageFor(action)
		entry := models.ActionUsage{Used: used, Limit: limit, Unlimited: limit == quota.Unlimited}
		actions[string(action)] = entry
		if entry.Unlimited {
			continue
		}
		rem := limit - used
		if rem < 0 {
			rem = 0
		}
		remaining[string(action)] = rem
	}

	return c.JSON(http.StatusOK, models.UsageResponse{
		Plan:      string(account.Plan),
		Actions:   actions,
		ResetAt:   quota.NextReset(account, now).Format(time.RFC3339),
		Remaining: remaining,
	})
}
