package security

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"
)

// RateLimiter enforces a fixed-window request cap per caller, shared across
// instances through Redis. Redis being unavailable fails open: checkout must
// not go down with the rate limiter.
type RateLimiter struct {
	redis  *redis.Client
	limit  int64
	window time.Duration
}

func NewRateLimiter(redisClient *redis.Client, limit int64, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 30
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{redis: redisClient, limit: limit, window: window}
}

// Middleware limits by user id when authenticated, falling back to client IP.
func (r *RateLimiter) Middleware(scope string) func(e *core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		if r.redis == nil {
			return e.Next()
		}

		caller := e.RealIP()
		if e.Auth != nil {
			caller = "user:" + e.Auth.Id
		}
		key := fmt.Sprintf("ratelimit:%s:%s", scope, caller)

		ctx := e.Request.Context()
		count, err := r.redis.Incr(ctx, key).Result()
		if err != nil {
			slog.Error("rate limiter unavailable", "scope", scope, "error", err)
			return e.Next()
		}
		if count == 1 {
			r.redis.Expire(ctx, key, r.window)
		}
		if count > r.limit {
			return apis.NewTooManyRequestsError("Rate limit exceeded. Please try again later.", nil)
		}

		return e.Next()
	}
}
