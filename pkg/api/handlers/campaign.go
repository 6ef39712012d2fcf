package handlers

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	apierrors "github.com/Mercury-nju/novamail-sub004/pkg/api/errors"
	"github.com/Mercury-nju/novamail-sub004/pkg/domain"
	"github.com/Mercury-nju/novamail-sub004/pkg/gate"
	"github.com/Mercury-nju/novamail-sub004/pkg/metrics"
	custommw "github.com/Mercury-nju/novamail-sub004/pkg/middleware"
	"github.com/Mercury-nju/novamail-sub004/pkg/models"
)

// CampaignHandler drives the quota-gated campaign send. The delivery itself
// is a collaborator; this handler owns only the gate sequence.
type CampaignHandler struct {
	gate      *gate.Gate
	sender    domain.CampaignSender
	metrics   *metrics.Metrics
	validator *validator.Validate
}

// NewCampaignHandler creates a new campaign handler
func NewCampaignHandler(g *gate.Gate, sender domain.CampaignSender, m *metrics.Metrics) *CampaignHandler {
	return &CampaignHandler{
		gate:      g,
		sender:    sender,
		metrics:   m,
		validator: validator.New(),
	}
}

// SendCampaign godoc
// @Summary Send a campaign
// @Description Reserve email quota for the recipient count, deliver the campaign, and release the reservation if delivery fails
// @Tags Campaigns
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body models.SendCampaignRequest true "Campaign and recipient count"
// @Success 200 {object} models.SuccessResponse "Campaign sent"
// @Failure 400 {object} models.ErrorResponse "Invalid request"
// @Failure 401 {object} models.ErrorResponse "Missing or invalid session"
// @Failure 403 {object} models.ErrorResponse "Email quota exceeded"
// @Failure 500 {object} models.ErrorResponse "Delivery failed"
// @Router /campaigns/send [post]
func (h *CampaignHandler) SendCampaign(c echo.Context) error {
	accountID, ok := custommw.AccountID(c)
	if !ok {
		return apierrors.UnauthorizedError(c)
	}

	var req models.SendCampaignRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request body",
		})
	}
	if err := h.validator.Struct(req); err != nil {
		return apierrors.ValidationError(c, err)
	}

	outcome := h.gate.Guard(c.Request().Context(), accountID, domain.ActionEmails, req.Recipients,
		func(ctx context.Context) error {
			return h.sender.SendCampaign(ctx, accountID, req.CampaignID, req.Recipients)
		})

	switch outcome.Status {
	case gate.Denied:
		if outcome.Err != nil {
			return apierrors.InternalError(c, outcome.Err)
		}
		h.metrics.GateOutcomes.WithLabelValues(string(domain.ActionEmails), "denied").Inc()
		return c.JSON(http.StatusForbidden, models.ErrorResponse{
			Error:   "quota_exceeded",
			Message: outcome.Reason,
		})
	case gate.ActionFailed:
		h.metrics.GateOutcomes.WithLabelValues(string(domain.ActionEmails), "action_failed").Inc()
		return apierrors.InternalError(c, outcome.Err)
	default:
		h.metrics.GateOutcomes.WithLabelValues(string(domain.ActionEmails), "success").Inc()
		return c.JSON(http.StatusOK, models.SuccessResponse{
			Success: true,
			Message: "Campaign sent",
		})
	}
}
