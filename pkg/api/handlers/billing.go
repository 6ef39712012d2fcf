package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	apierrors "github.com/Mercury-nju/novamail-sub004/pkg/api/errors"
	"github.com/Mercury-nju/novamail-sub004/pkg/billing"
	"github.com/Mercury-nju/novamail-sub004/pkg/domain"
	"github.com/Mercury-nju/novamail-sub004/pkg/metrics"
	"github.com/Mercury-nju/novamail-sub004/pkg/models"
)

// BillingHandler receives payment-provider webhooks
type BillingHandler struct {
	billing *billing.Service
	metrics *metrics.Metrics
}

// NewBillingHandler creates a new billing handler
func NewBillingHandler(b *billing.Service, m *metrics.Metrics) *BillingHandler {
	return &BillingHandler{billing: b, metrics: m}
}

// StripeWebhook godoc
// @Summary Stripe webhook
// @Description Verify and apply a Stripe event. Replayed event ids are accepted and ignored.
// @Tags Billing
// @Accept json
// @Produce json
// @Param Stripe-Signature header string true "Stripe webhook signature"
// @Success 200 {object} models.SuccessResponse "Event accepted"
// @Failure 400 {object} models.ErrorResponse "Missing signature or unreadable body"
// @Failure 401 {object} models.ErrorResponse "Signature verification failed"
// @Failure 500 {object} models.ErrorResponse "Dispatch failed"
// @Router /webhooks/stripe [post]
func (h *BillingHandler) StripeWebhook(c echo.Context) error {
	// The raw body is what the signature covers; read it before anything
	// can parse or re-serialize it.
	payload, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid_body",
			Message: "Failed to read request body",
		})
	}

	signature := c.Request().Header.Get("Stripe-Signature")
	if signature == "" {
		h.metrics.WebhookEvents.WithLabelValues("stripe", "missing_signature").Inc()
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error: "missing_signature",
		})
	}

	if err := h.billing.HandleStripeWebhook(c.Request().Context(), payload, signature); err != nil {
		if errors.Is(err, domain.ErrSignatureInvalid) {
			h.metrics.WebhookEvents.WithLabelValues("stripe", "signature_invalid").Inc()
			return apierrors.SignatureError(c)
		}
		h.metrics.WebhookEvents.WithLabelValues("stripe", "error").Inc()
		return apierrors.InternalError(c, err)
	}

	h.metrics.WebhookEvents.WithLabelValues("stripe", "accepted").Inc()
	return c.JSON(http.StatusOK, models.SuccessResponse{
		Success: true,
		Message: "Webhook processed successfully",
	})
}

// ProviderWebhook godoc
// @Summary Generic provider webhook
// @Description Verify an HMAC-signed event from a non-Stripe payment provider and apply it
// @Tags Billing
// @Accept json
// @Produce json
// @Param provider path string true "Provider name"
// @Param X-Provider-Signature header string true "Hex HMAC-SHA256 of the raw body"
// @Success 200 {object} models.SuccessResponse "Event accepted"
// @Failure 400 {object} models.ErrorResponse "Missing signature or unreadable body"
// @Failure 401 {object} models.ErrorResponse "Signature verification failed"
// @Failure 500 {object} models.ErrorResponse "Dispatch failed"
// @Router /webhooks/{provider} [post]
func (h *BillingHandler) ProviderWebhook(c echo.Context) error {
	provider := c.Param("provider")

	payload, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid_body",
			Message: "Failed to read request body",
		})
	}

	signature := c.Request().Header.Get("X-Provider-Signature")
	if signature == "" {
		h.metrics.WebhookEvents.WithLabelValues(provider, "missing_signature").Inc()
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error: "missing_signature",
		})
	}

	if err := h.billing.HandleProviderWebhook(c.Request().Context(), provider, payload, signature); err != nil {
		if errors.Is(err, domain.ErrSignatureInvalid) {
			h.metrics.WebhookEvents.WithLabelValues(provider, "signature_invalid").Inc()
			return apierrors.SignatureError(c)
		}
		h.metrics.WebhookEvents.WithLabelValues(provider, "error").Inc()
		return apierrors.InternalError(c, err)
	}

	h.metrics.WebhookEvents.WithLabelValues(provider, "accepted").Inc()
	return c.JSON(http.StatusOK, models.SuccessResponse{
		Success: true,
		Message: "Webhook processed successfully",
	})
}
