// Package ratelimit counts requests per client in fixed Redis windows so
// every broker instance sharing the Redis sees the same budget.
package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"token-broker/internal/common/errors"
	"token-broker/internal/common/logging"
	"token-broker/internal/redis"
)

const keyPrefix = "tokenbroker:ratelimit:"

type Limiter struct {
	redis  *redis.Client
	config Config
	now    func() time.Time
}

type Config struct {
	Limit  int
	Window time.Duration
}

type RateLimit struct {
	Limit     int
	Remaining int
	ResetTime time.Time
}

// Exceeded reports whether the request that produced r must be refused.
func (r *RateLimit) Exceeded() bool {
	return r.Remaining < 0
}

func NewLimiter(redisClient *redis.Client, config Config) (*Limiter, error) {
	if redisClient == nil {
		return nil, errors.ConfigError("rate limiting requires redis")
	}
	if config.Limit <= 0 || config.Window <= 0 {
		return nil, errors.ConfigError("rate limit and window must be positive")
	}
	return &Limiter{redis: redisClient, config: config, now: time.Now}, nil
}

// CheckLimit counts one request against key in the current window.
func (l *Limiter) CheckLimit(ctx context.Context, key string) (*RateLimit, error) {
	now := l.now()
	start := now.Truncate(l.config.Window)
	windowKey := fmt.Sprintf("%s%s:%d", keyPrefix, key, start.Unix())

	count, err := l.redis.IncrWindow(ctx, windowKey, l.config.Window)
	if err != nil {
		return nil, errors.InternalError("failed to check rate limit", err)
	}

	return &RateLimit{
		Limit:     l.config.Limit,
		Remaining: l.config.Limit - int(count),
		ResetTime: start.Add(l.config.Window),
	}, nil
}

// HTTPMiddleware refuses requests over budget with 429. Redis failures let
// the request through.
func (l *Limiter) HTTPMiddleware(keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			rateLimit, err := l.CheckLimit(r.Context(), key)
			if err != nil {
				logging.WithContext(r.Context()).Warn("Rate limit check failed, allowing request", logging.Err(err))
				next.ServeHTTP(w, r)
				return
			}

			remaining := rateLimit.Remaining
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rateLimit.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(rateLimit.ResetTime.Unix(), 10))

			if rateLimit.Exceeded() {
				retry := int(rateLimit.ResetTime.Sub(l.now()).Seconds()) + 1
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]string{
					"error": "rate limit exceeded",
					"type":  "rate_limited",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIPKey keys requests by the connection's peer address. Forwarding
// headers are ignored since any client can set them.
func ClientIPKey(r *http.Request) string {
	return "ip:" + peerHost(r)
}

// ProxyClientIPKey keys requests by the first X-Forwarded-For entry, then
// X-Real-IP, then the peer address. Use it only behind a proxy that
// overwrites those headers.
func ProxyClientIPKey(r *http.Request) string {
	ip := r.Header.Get("X-Forwarded-For")
	if ip != "" {
		ip = strings.TrimSpace(strings.Split(ip, ",")[0])
	}
	if ip == "" {
		ip = strings.TrimSpace(r.Header.Get("X-Real-IP"))
	}
	if ip == "" {
		ip = peerHost(r)
	}
	return "ip:" + ip
}

func peerHost(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
