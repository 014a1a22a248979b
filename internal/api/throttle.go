package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v5"
	"golang.org/x/time/rate"
)

// Throttle rejects requests beyond a shared token bucket of perSecond
// requests with the given burst. perSecond <= 0 disables throttling.
func Throttle(perSecond float64, burst int) echo.MiddlewareFunc {
	if perSecond <= 0 {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	lim := rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			r := lim.Reserve()
			if !r.OK() {
				return writeError(c, http.StatusTooManyRequests, "rate_limit_error", "rate limit exceeded", "", "rate_limit_exceeded")
			}
			if d := r.Delay(); d > 0 {
				r.Cancel()
				secs := int(d.Round(time.Second) / time.Second)
				c.Response().Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
				return writeError(c, http.StatusTooManyRequests, "rate_limit_error", "rate limit exceeded", "", "rate_limit_exceeded")
			}
			return next(c)
		}
	}
}
