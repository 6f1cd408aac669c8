// Package ratelimit provides the two token-bucket limiters this server
// needs, grounded on MattFrayser-whiteboard-backend's main.go: a per-session
// rate.Limiter for message/cursor throttling, and an IPRateLimit map of
// per-IP limiters with periodic cleanup for the connect path.
package ratelimit

import (
	"net/http"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// NewCursorLimiter limits a session's incoming cursor frames to at most
// one per 50ms. A token bucket of rate 20/s, burst 1 gives "at most once
// per interval" (whiteboard-backend uses the equivalent shape for its
// 30msg/s message limiter). Frames over the limit are dropped, not held
// back or merged, so the newest position inside an interval is not
// forwarded later.
func NewCursorLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(20), 1)
}

// IPLimiter guards the WebSocket upgrade path against connection floods
// from a single address, grounded on whiteboard-backend's IPRateLimit.
type IPLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	burst    int
}

// NewIPLimiter builds an IP limiter allowing r connections/sec per address
// with the given burst.
func NewIPLimiter(r rate.Limit, burst int) *IPLimiter {
	return &IPLimiter{
		limiters: make(map[string]*rate.Limiter),
		r:        r,
		burst:    burst,
	}
}

// Allow reports whether a new connection attempt from ip is permitted.
func (l *IPLimiter) Allow(ip string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[ip]
	if !ok {
		lim = rate.NewLimiter(l.r, l.burst)
		l.limiters[ip] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// Cleanup drops every tracked limiter, letting memory get reclaimed for
// addresses that haven't reconnected. Run on a coarse ticker (e.g. hourly)
// the way whiteboard-backend's cleanupIPLimiters does.
func (l *IPLimiter) Cleanup() {
	l.mu.Lock()
	l.limiters = make(map[string]*rate.Limiter)
	l.mu.Unlock()
}

// ClientIP extracts the caller's address the way whiteboard-backend's
// getClientIP does: prefer X-Forwarded-For, then X-Real-IP, then
// RemoteAddr with the port stripped.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}
