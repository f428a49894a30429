package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jmehdipour/dm-dispatcher/internal/http/middleware"
	echo "github.com/labstack/echo/v4"
	"github.com/m-mizutani/gt"
)

func newLimited(rps int) *echo.Echo {
	e := echo.New()
	e.Use(middleware.RateLimitMiddleware(middleware.RateLimitConfig{DefaultRPS: rps, RetryAfterHint: true}))
	e.GET("/", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	return e
}

func hit(e *echo.Echo, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = ip + ":1234"
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestLocalLimiterPerCaller(t *testing.T) {
	e := newLimited(2)

	gt.Equal(t, hit(e, "10.0.0.1").Code, http.StatusOK)
	gt.Equal(t, hit(e, "10.0.0.1").Code, http.StatusOK)

	rec := hit(e, "10.0.0.1")
	gt.Equal(t, rec.Code, http.StatusTooManyRequests)
	gt.True(t, rec.Header().Get("Retry-After") != "")

	gt.Equal(t, hit(e, "10.0.0.2").Code, http.StatusOK)
}

func TestZeroRPSDisablesLimit(t *testing.T) {
	e := newLimited(0)
	for i := 0; i < 20; i++ {
		gt.Equal(t, hit(e, "10.0.0.1").Code, http.StatusOK)
	}
}
