package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	echo "github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// RateLimitConfig configures the per-caller RPS limiter.
type RateLimitConfig struct {
	Redis          *redis.Client // nil => in-process token buckets
	DefaultRPS     int           // fallback if operator_rps not set; <= 0 disables
	KeyPrefix      string        // e.g. "rl:dmd:"
	Window         time.Duration // usually 1s
	RetryAfterHint bool          // set Retry-After header when limited
}

// RateLimitMiddleware applies a per-caller RPS limit. Callers are keyed by
// operator id when APIKeyMiddleware ran, otherwise by client IP.
// With Redis the limit is a fixed window shared by all instances; without it
// each instance keeps its own token bucket per caller.
func RateLimitMiddleware(cfg RateLimitConfig) echo.MiddlewareFunc {
	if cfg.Window <= 0 {
		cfg.Window = time.Second
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "rl:dmd:"
	}
	local := &localLimiter{buckets: map[string]*rate.Limiter{}}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			max := cfg.DefaultRPS
			if m, ok := c.Get(ctxOperatorRPS).(int); ok && m > 0 {
				max = m
			}
			if max <= 0 {
				return next(c)
			}

			caller := "ip:" + c.RealIP()
			if id, ok := OperatorIDFromCtx(c); ok && id > 0 {
				caller = "op:" + strconv.FormatInt(id, 10)
			}

			now := time.Now()
			var limited bool
			if cfg.Redis != nil {
				// fixed-window key: rl:dmd:{caller}:{unix_sec}
				key := cfg.KeyPrefix + caller + ":" + strconv.FormatInt(now.Unix(), 10)

				ctx := c.Request().Context()
				pipe := cfg.Redis.Pipeline()
				cnt := pipe.Incr(ctx, key)
				pipe.Expire(ctx, key, cfg.Window*2)
				if _, err := pipe.Exec(ctx); err != nil {
					// fail open
					log.Warnf("rate limit redis error: %v", err)
					return next(c)
				}
				limited = cnt.Val() > int64(max)
			} else {
				limited = !local.allow(caller, max, cfg.Window, now)
			}

			if limited {
				if cfg.RetryAfterHint {
					remain := cfg.Window - time.Duration(now.UnixNano()%int64(cfg.Window))
					secs := int(remain.Round(time.Second) / time.Second)
					if secs < 1 {
						secs = 1
					}
					c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
				}
				return c.JSON(http.StatusTooManyRequests, map[string]any{"success": false, "error": "rate limited"})
			}
			return next(c)
		}
	}
}

type localLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

func (l *localLimiter) allow(key string, max int, window time.Duration, now time.Time) bool {
	limit := rate.Limit(float64(max) / window.Seconds())

	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(limit, max)
		l.buckets[key] = b
	} else if b.Limit() != limit {
		b.SetLimitAt(now, limit)
		b.SetBurstAt(now, max)
	}
	l.mu.Unlock()

	return b.AllowN(now, 1)
}
