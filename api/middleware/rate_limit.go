package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/catermatch-backend/api/responses"
	pkgerrors "github.com/angelmondragon/catermatch-backend/pkg/errors"
	"github.com/angelmondragon/catermatch-backend/pkg/logger"
)

// RateLimitStore counts requests per fixed window.
type RateLimitStore interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// RateLimitPolicy allows limit requests per window for each client IP on one surface.
type RateLimitPolicy struct {
	name   string
	window time.Duration
	limit  int64
}

func NewRateLimitPolicy(name string, window time.Duration, limit int64) RateLimitPolicy {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = "default"
	}
	return RateLimitPolicy{name: name, window: window, limit: limit}
}

func (p RateLimitPolicy) disabled() bool {
	return p.window <= 0 || p.limit <= 0
}

func (p RateLimitPolicy) headers(h http.Header, used int64) {
	h.Set("X-RateLimit-Limit", strconv.FormatInt(p.limit, 10))
	h.Set("X-RateLimit-Remaining", strconv.FormatInt(max(p.limit-used, 0), 10))
}

// RateLimit answers 429 once a client IP exceeds policy. When the counter store is unreachable
// requests are let through.
func RateLimit(policy RateLimitPolicy, store RateLimitStore, logg *logger.Logger) func(http.Handler) http.Handler {
	if logg == nil {
		logg = logger.Nop()
	}
	return func(next http.Handler) http.Handler {
		if policy.disabled() || store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ip := clientIP(r)
			allowed, used, err := store.FixedWindowAllow(ctx, policy.name+":"+ip, policy.limit, policy.window)
			if err != nil {
				logg.WarnErr(logg.WithField(ctx, "policy", policy.name), "rate_limit.store_unavailable", err)
				next.ServeHTTP(w, r)
				return
			}
			policy.headers(w.Header(), used)
			if allowed {
				next.ServeHTTP(w, r)
				return
			}
			logg.Warn(logg.WithFields(ctx, map[string]any{
				"policy":   policy.name,
				"ip":       ip,
				"attempts": used,
				"limit":    policy.limit,
			}), "rate_limit.blocked")
			w.Header().Set("Retry-After", strconv.Itoa(int(policy.window.Round(time.Second).Seconds())))
			responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, "rate limit exceeded"))
		})
	}
}

// clientIP takes the first parseable X-Forwarded-For hop, then X-Real-IP, then the socket peer.
func clientIP(r *http.Request) string {
	for hop := range strings.SplitSeq(r.Header.Get("X-Forwarded-For"), ",") {
		if ip := net.ParseIP(strings.TrimSpace(hop)); ip != nil {
			return ip.String()
		}
	}
	if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
		return ip.String()
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
