package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/Mercury-nju/novamail-sub004/pkg/auth"
	"github.com/Mercury-nju/novamail-sub004/pkg/models"
)

// ContextKeyAccountID is where the authenticated account id lives in the
// echo context.
const ContextKeyAccountID = "account_id"

// JWT creates a JWT authentication middleware. Auth failures are boundary
// errors; they never reach the quota or verification logic.
func JWT(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return c.JSON(http.StatusUnauthorized, models.ErrorResponse{
					Error:   "missing_token",
					Message: "Authorization header is required",
				})
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				return c.JSON(http.StatusUnauthorized, models.ErrorResponse{
					Error:   "invalid_token_format",
					Message: "Authorization header must be 'Bearer {token}'",
				})
			}

			claims, err := auth.ValidateJWT(parts[1], secret)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, models.ErrorResponse{
					Error:   "invalid_token",
					Message: "Session token is invalid or expired",
				})
			}

			c.Set(ContextKeyAccountID, claims.AccountID)
			c.Set("email", claims.Email)
			c.Set("plan", claims.Plan)

			return next(c)
		}
	}
}

// AccountID extracts the authenticated account id from the context.
func AccountID(c echo.Context) (int64, bool) {
	id, ok := c.Get(ContextKeyAccountID).(int64)
	return id, ok
}
