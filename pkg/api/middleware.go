package api

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	echo "github.com/labstack/echo/v5"
	"golang.org/x/time/rate"
)

// securityHeaders returns middleware for a JSON+WebSocket-only surface:
// nothing this server emits is renderable, so the CSP denies every source
// except the same-origin WebSocket connections /ws clients open, nosniff
// keeps sanitized-but-user-derived trace JSON from being content-sniffed
// into something executable, and no referrer data leaks to the upstream
// completion provider.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("Content-Security-Policy", "default-src 'none'; connect-src 'self' ws: wss:; frame-ancestors 'none'")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")
			return next(c)
		}
	}
}

// ipRateLimiter is a per-IP token-bucket limiter. Stale entries are swept
// periodically so the map stays bounded under churny client IPs.
type ipRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*ipLimiterEntry
	rate     rate.Limit
	burst    int
}

type ipLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// staleAfter is how long an idle IP entry survives before the sweeper
// drops it.
const staleAfter = 10 * time.Minute

func newIPRateLimiter(perMinute int, burst int) *ipRateLimiter {
	l := &ipRateLimiter{
		limiters: make(map[string]*ipLimiterEntry),
		rate:     rate.Limit(float64(perMinute) / 60.0),
		burst:    burst,
	}
	go l.sweep()
	return l
}

func (l *ipRateLimiter) sweep() {
	for range time.Tick(time.Minute) {
		l.mu.Lock()
		for ip, e := range l.limiters {
			if time.Since(e.lastSeen) > staleAfter {
				delete(l.limiters, ip)
			}
		}
		l.mu.Unlock()
	}
}

// allow reports whether the IP may proceed and, when denied, the suggested
// retry delay in whole seconds.
func (l *ipRateLimiter) allow(ip string) (bool, int) {
	l.mu.Lock()
	e, ok := l.limiters[ip]
	if !ok {
		e = &ipLimiterEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[ip] = e
	}
	e.lastSeen = time.Now()
	l.mu.Unlock()

	if e.limiter.Allow() {
		return true, 0
	}
	retryAfter := int(time.Duration(float64(time.Second) / float64(l.rate)).Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}
	return false, retryAfter
}

// middleware wraps handlers with the 429 + Retry-After contract.
func (l *ipRateLimiter) middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			ip := clientIP(c.Request())
			if ok, retryAfter := l.allow(ip); !ok {
				c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfter))
				return c.JSON(http.StatusTooManyRequests, ErrorResponse{
					Error:      "too many requests",
					Code:       codeRateLimited,
					RetryAfter: retryAfter,
				})
			}
			return next(c)
		}
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
