package api

import (
	"net/http"
	"testing"

	"github.com/labstack/echo/v5"
)

func TestThrottleRejectsBurst(t *testing.T) {
	t.Parallel()

	e := echo.New()
	e.Use(Throttle(0.001, 2))
	e.GET("/ping", func(c *echo.Context) error { return c.String(http.StatusOK, "pong") })

	for i := 0; i < 2; i++ {
		if rec := doJSON(t, e, http.MethodGet, "/ping", ""); rec.Code != http.StatusOK {
			t.Fatalf("request %d: got %d", i, rec.Code)
		}
	}
	rec := doJSON(t, e, http.MethodGet, "/ping", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After")
	}
}

func TestThrottleDisabled(t *testing.T) {
	t.Parallel()

	e := echo.New()
	e.Use(Throttle(0, 0))
	e.GET("/ping", func(c *echo.Context) error { return c.String(http.StatusOK, "pong") })
	for i := 0; i < 10; i++ {
		if rec := doJSON(t, e, http.MethodGet, "/ping", ""); rec.Code != http.StatusOK {
			t.Fatalf("request %d: got %d", i, rec.Code)
		}
	}
}
