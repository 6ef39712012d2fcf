package errors

import (
	"log"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Mercury-nju/novamail-sub004/pkg/domain"
	"github.com/Mercury-nju/novamail-sub004/pkg/models"
)

// ValidationError returns a generic validation error without exposing internal details
func ValidationError(c echo.Context, err error) error {
	log.Printf("[VALIDATION ERROR] Path: %s, Error: %v", c.Request().URL.Path, err)

	return c.JSON(http.StatusBadRequest, models.ErrorResponse{
		Error:   "validation_error",
		Message: "Invalid request data. Please check your input and try again.",
	})
}

// InternalError returns a generic internal server error
func InternalError(c echo.Context, err error) error {
	log.Printf("[INTERNAL ERROR] Path: %s, Error: %v", c.Request().URL.Path, err)

	return c.JSON(http.StatusInternalServerError, models.ErrorResponse{
		Error:   "internal_error",
		Message: "An internal error occurred. Please try again later.",
	})
}

// UnauthorizedError returns a generic unauthorized error
func UnauthorizedError(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, models.ErrorResponse{
		Error:   "unauthorized",
		Message: "You are not authorized to access this resource.",
	})
}

// ForbiddenError returns a generic forbidden error
func ForbiddenError(c echo.Context) error {
	return c.JSON(http.StatusForbidden, models.ErrorResponse{
		Error:   "forbidden",
		Message: "You do not have permission to access this resource.",
	})
}

// NotFoundError returns a generic not found error
func NotFoundError(c echo.Context) error {
	return c.JSON(http.StatusNotFound, models.ErrorResponse{
		Error:   "not_found",
		Message: "The requested resource was not found.",
	})
}

// ConflictError returns a conflict error. Message is expected to be safe to
// expose (e.g. "account already exists").
func ConflictError(c echo.Context, message string) error {
	return c.JSON(http.StatusConflict, models.ErrorResponse{
		Error:   "conflict",
		Message: message,
	})
}

// QuotaExceededError returns a 403 with the exceeded limit and current usage.
func QuotaExceededError(c echo.Context, qe *domain.QuotaExceededError) error {
	return c.JSON(http.StatusForbidden, models.ErrorResponse{
		Error:   "quota_exceeded",
		Message: qe.Error(),
	})
}

// SignatureError returns a 401 for webhook signature failures. Distinct
// from UnauthorizedError so audit logs can tell them apart by shape.
func SignatureError(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, models.ErrorResponse{
		Error:   "signature_invalid",
		Message: "Webhook signature verification failed.",
	})
}
