package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/Mercury-nju/novamail-sub004/config"
	apierrors "github.com/Mercury-nju/novamail-sub004/pkg/api/errors"
	"github.com/Mercury-nju/novamail-sub004/pkg/auth"
	"github.com/Mercury-nju/novamail-sub004/pkg/domain"
	"github.com/Mercury-nju/novamail-sub004/pkg/logger"
	"github.com/Mercury-nju/novamail-sub004/pkg/metrics"
	"github.com/Mercury-nju/novamail-sub004/pkg/models"
)

// AuthHandler handles signup/login gated by email verification codes
type AuthHandler struct {
	accounts  domain.AccountStore
	codes     domain.CodeStore
	email     domain.EmailSender
	config    *config.Config
	metrics   *metrics.Metrics
	log       logger.Logger
	validator *validator.Validate
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(accounts domain.AccountStore, codes domain.CodeStore, email domain.EmailSender, cfg *config.Config, m *metrics.Metrics, log logger.Logger) *AuthHandler {
	return &AuthHandler{
		accounts:  accounts,
		codes:     codes,
		email:     email,
		config:    cfg,
		metrics:   m,
		log:       log,
		validator: validator.New(),
	}
}

// SendVerification godoc
// @Summary Send a verification code
// @Description Email a one-time 6-digit code for account creation. The code is never included in the response.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body models.SendVerificationRequest true "Target email"
// @Success 200 {object} models.SuccessResponse "Code sent"
// @Failure 400 {object} models.ErrorResponse "Invalid request"
// @Failure 409 {object} models.ErrorResponse "Account already exists"
// @Failure 500 {object} models.ErrorResponse "Delivery failed"
// @Router /auth/send-verification [post]
func (h *AuthHandler) SendVerification(c echo.Context) error {
	var req models.SendVerificationRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request body",
		})
	}

	if err := h.validator.Struct(req); err != nil {
		return apierrors.ValidationError(c, err)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	// Issuance is refused for identifiers that already have an account.
	_, err := h.accounts.GetByEmail(ctx, req.Email)
	if err == nil {
		return apierrors.ConflictError(c, "An account with this email already exists")
	}
	if !errors.Is(err, domain.ErrAccountNotFound) {
		return apierrors.InternalError(c, err)
	}

	code, err := h.codes.Issue(ctx, req.Email)
	if err != nil {
		return apierrors.InternalError(c, err)
	}
	h.metrics.CodesIssued.Inc()

	// Delivery failures surface as 500 so the client knows to retry; the
	// freshly issued code simply ages out.
	if err := h.email.SendVerificationCode(req.Email, code); err != nil {
		h.log.Error("verification email delivery failed", "email", req.Email, "error", err)
		return apierrors.InternalError(c, err)
	}

	return c.JSON(http.StatusOK, models.SuccessResponse{
		Success: true,
		Message: "Verification code sent",
	})
}

// Register godoc
// @Summary Register a new account
// @Description Create an account; requires the verification code previously sent to the email address
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body models.RegisterRequest true "Registration data"
// @Success 201 {object} models.AuthResponse "Account created"
// @Failure 400 {object} models.ErrorResponse "Invalid request or bad code"
// @Failure 404 {object} models.ErrorResponse "No code issued for this email"
// @Failure 409 {object} models.ErrorResponse "Account already exists"
// @Failure 500 {object} models.ErrorResponse "Internal server error"
// @Router /auth/register [post]
func (h *AuthHandler) Register(c echo.Context) error {
	var req models.RegisterRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request body",
		})
	}

	if err := h.validator.Struct(req); err != nil {
		return apierrors.ValidationError(c, err)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.codes.Validate(ctx, req.Email, req.Code); err != nil {
		switch {
		case errors.Is(err, domain.ErrCodeNotFound):
			h.metrics.CodeValidations.WithLabelValues("not_found").Inc()
			return c.JSON(http.StatusNotFound, models.ErrorResponse{
				Error:   "code_not_found",
				Message: "No active verification code for this email. Request a new one.",
			})
		case errors.Is(err, domain.ErrCodeExpired):
			h.metrics.CodeValidations.WithLabelValues("expired").Inc()
			return c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Error:   "code_expired",
				Message: "The verification code has expired. Request a new one.",
			})
		case errors.Is(err, domain.ErrCodeMismatch):
			h.metrics.CodeValidations.WithLabelValues("mismatch").Inc()
			return c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Error:   "code_mismatch",
				Message: "The verification code is incorrect.",
			})
		default:
			return apierrors.InternalError(c, err)
		}
	}
	h.metrics.CodeValidations.WithLabelValues("success").Inc()

	passwordHash, err := auth.HashPassword(req.Password)
	if err != nil {
		return apierrors.InternalError(c, err)
	}

	account := &domain.Account{
		Email:              req.Email,
		Name:               req.Name,
		PasswordHash:       passwordHash,
		Role:               domain.RoleMember,
		Plan:               domain.PlanFree,
		SubscriptionStatus: domain.StatusActive,
		UsagePeriodStart:   time.Now(),
	}
	if err := h.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, domain.ErrDuplicateAccount) {
			return apierrors.ConflictError(c, "An account with this email already exists")
		}
		return apierrors.InternalError(c, err)
	}

	go func() {
		if err := h.email.SendWelcome(account.Email, account.Name); err != nil {
			h.log.Warn("welcome email failed", "email", account.Email, "error", err)
		}
	}()

	token, err := auth.GenerateJWT(account.ID, account.Email, string(account.Plan),
		h.config.JWTSecret, h.config.JWTExpirationHours)
	if err != nil {
		return apierrors.InternalError(c, err)
	}

	return c.JSON(http.StatusCreated, models.AuthResponse{
		Token: token,
		User:  userInfo(account),
	})
}

// Login godoc
// @Summary Login
// @Description Authenticate with email and password, returns a session token
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body models.LoginRequest true "Login credentials"
// @Success 200 {object} models.AuthResponse "Login successful"
// @Failure 400 {object} models.ErrorResponse "Invalid request"
// @Failure 401 {object} models.ErrorResponse "Invalid credentials"
// @Failure 500 {object} models.ErrorResponse "Internal server error"
// @Router /auth/login [post]
func (h *AuthHandler) Login(c echo.Context) error {
	var req models.LoginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request body",
		})
	}

	if err := h.validator.Struct(req); err != nil {
		return apierrors.ValidationError(c, err)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	account, err := h.accounts.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			// Same response as a wrong password; do not reveal which.
			return c.JSON(http.StatusUnauthorized, models.ErrorResponse{
				Error:   "invalid_credentials",
				Message: "Invalid email or password",
			})
		}
		return apierrors.InternalError(c, err)
	}

	if !auth.CheckPassword(account.PasswordHash, req.Password) {
		return c.JSON(http.StatusUnauthorized, models.ErrorResponse{
			Error:   "invalid_credentials",
			Message: "Invalid email or password",
		})
	}

	token, err := auth.GenerateJWT(account.ID, account.Email, string(account.Plan),
		h.config.JWTSecret, h.config.JWTExpirationHours)
	if err != nil {
		return apierrors.InternalError(c, err)
	}

	return c.JSON(http.StatusOK, models.AuthResponse{
		Token: token,
		User:  userInfo(account),
	})
}

func userInfo(a *domain.Account) *models.UserInfo {
	return &models.UserInfo{
		ID:                 a.ID,
		Email:              a.Email,
		Name:               a.Name,
		Plan:               string(a.Plan),
		SubscriptionStatus: string(a.SubscriptionStatus),
		Role:               string(a.Role),
	}
}
