package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	apierrors "github.com/Mercury-nju/novamail-sub004/pkg/api/errors"
	"github.com/Mercury-nju/novamail-sub004/pkg/domain"
	"github.com/Mercury-nju/novamail-sub004/pkg/models"
	"github.com/Mercury-nju/novamail-sub004/pkg/quota"
)

// AdminHandler exposes account inspection for admins. Routes using it must
// sit behind the RequireAdmin middleware.
type AdminHandler struct {
	accounts domain.AccountStore
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(accounts domain.AccountStore) *AdminHandler {
	return &AdminHandler{accounts: accounts}
}

// GetAccount godoc
// @Summary Inspect an account
// @Description Account profile plus current usage, admin only
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param id path int true "Account ID"
// @Success 200 {object} map[string]interface{} "Account detail"
// @Failure 400 {object} models.ErrorResponse "Bad id"
// @Failure 403 {object} models.ErrorResponse "Not an admin"
// @Failure 404 {object} models.ErrorResponse "Unknown account"
// @Router /admin/accounts/{id} [get]
func (h *AdminHandler) GetAccount(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return apierrors.ValidationError(c, err)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	account, err := h.accounts.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return apierrors.NotFoundError(c)
		}
		return apierrors.InternalError(c, err)
	}

	usage := map[string]models.ActionUsage{}
	for _, action := range []domain.Action{domain.ActionContacts, domain.ActionCampaigns, domain.ActionEmails} {
		limit := quota.PlanLimit(account.Plan, action)
		usage[string(action)] = models.ActionUsage{
			Used:      account.UsageFor(action),
			Limit:     limit,
			Unlimited: limit == quota.Unlimited,
		}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"user":               userInfo(account),
		"usage":              usage,
		"usage_period_start": account.UsagePeriodStart.Format(time.RFC3339),
		"created_at":         account.CreatedAt.Format(time.RFC3339),
	})
}
