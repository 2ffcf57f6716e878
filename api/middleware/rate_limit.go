package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/partyconnect/engage-backend/api/responses"
	pkgerrors "github.com/partyconnect/engage-backend/pkg/errors"
	"github.com/partyconnect/engage-backend/pkg/logger"
	pkgredis "github.com/partyconnect/engage-backend/pkg/redis"
)

type rateLimiterStore interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (pkgredis.Window, error)
}

// RateLimitPolicy throttles one traffic surface per client IP and, once the
// caller is authenticated, per user. It guards the API against request
// floods; daily point caps are enforced by the points engine.
type RateLimitPolicy struct {
	name      string
	window    time.Duration
	ipLimit   int
	userLimit int
}

// NewRateLimitPolicy builds a policy with the supplied window and limits.
func NewRateLimitPolicy(name string, window time.Duration, ipLimit, userLimit int) RateLimitPolicy {
	return RateLimitPolicy{
		name:      strings.ToLower(strings.TrimSpace(name)),
		window:    window,
		ipLimit:   ipLimit,
		userLimit: userLimit,
	}
}

func (p RateLimitPolicy) enabled() bool {
	return p.window > 0 && (p.ipLimit > 0 || p.userLimit > 0)
}

func (p RateLimitPolicy) normalizedName() string {
	if p.name == "" {
		return "api"
	}
	return p.name
}

// RateLimit enforces the policy's fixed-window counters.
func RateLimit(policy RateLimitPolicy, store rateLimiterStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !policy.enabled() || store == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if ip := clientIP(r); policy.ipLimit > 0 && ip != "" {
				scope := policy.normalizedName() + ":ip:" + ip
				win, err := store.FixedWindowAllow(ctx, scope, int64(policy.ipLimit), policy.window)
				if err != nil {
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rate limiting"))
					return
				}
				if !win.Allowed {
					respondRateLimited(ctx, logg, w, policy, "ip", win, policy.ipLimit)
					return
				}
			}

			if user := UserIDFromContext(ctx); policy.userLimit > 0 && user != "" {
				scope := policy.normalizedName() + ":user:" + user
				win, err := store.FixedWindowAllow(ctx, scope, int64(policy.userLimit), policy.window)
				if err != nil {
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rate limiting"))
					return
				}
				if !win.Allowed {
					respondRateLimited(ctx, logg, w, policy, "user", win, policy.userLimit)
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

func respondRateLimited(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, policy RateLimitPolicy, scope string, win pkgredis.Window, limit int) {
	retryAfter := retryAfterSeconds(win.ResetIn)
	if logg != nil {
		logCtx := logg.WithFields(ctx, map[string]any{
			"scope":       scope,
			"policy":      policy.normalizedName(),
			"attempts":    win.Count,
			"limit":       limit,
			"retry_after": retryAfter,
		})
		logg.Warn(logCtx, "http.rate_limit.blocked")
	}
	err := pkgerrors.New(pkgerrors.CodeRateLimit, "too many requests").
		WithDetails(map[string]any{"scope": scope, "retryAfterSeconds": retryAfter})
	responses.WriteError(ctx, nil, w, err)
}

// retryAfterSeconds rounds up so clients never retry inside the window.
func retryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 1
	}
	return int((d + time.Second - 1) / time.Second)
}

func clientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if header := r.Header.Get("X-Forwarded-For"); header != "" {
		for _, part := range strings.Split(header, ",") {
			if ip := strings.TrimSpace(part); ip != "" {
				return ip
			}
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
