package middleware

import (
	"net/http"
	"strings"

	"github.com/jmehdipour/dm-dispatcher/internal/repository"
	echo "github.com/labstack/echo/v4"
)

const (
	ctxOperatorID  = "operator_id"
	ctxOperatorRPS = "operator_rps"
)

// OperatorIDFromCtx extracts the operator id set by APIKeyMiddleware.
func OperatorIDFromCtx(c echo.Context) (int64, bool) {
	id, ok := c.Get(ctxOperatorID).(int64)
	return id, ok
}

// APIKeyMiddleware authenticates requests using the X-API-Key header and
// blocks suspended operators. The operator's own rate limit, if any, is
// stored for RateLimitMiddleware.
func APIKeyMiddleware(operators repository.OperatorsRepository) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := strings.TrimSpace(c.Request().Header.Get("X-API-Key"))
			if key == "" {
				return c.JSON(http.StatusUnauthorized, map[string]any{"success": false, "error": "missing api key"})
			}
			op, err := operators.GetByAPIKey(c.Request().Context(), key)
			if err != nil {
				c.Logger().Errorf("operator lookup failed: %v", err)
				return c.JSON(http.StatusInternalServerError, map[string]any{"success": false, "error": "auth error"})
			}
			if op == nil || op.Status != "active" {
				return c.JSON(http.StatusUnauthorized, map[string]any{"success": false, "error": "invalid api key"})
			}
			c.Set(ctxOperatorID, op.ID)
			if op.RateLimitRPS != nil {
				c.Set(ctxOperatorRPS, *op.RateLimitRPS)
			}
			return next(c)
		}
	}
}
