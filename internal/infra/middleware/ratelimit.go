package middleware

import (
	"context"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig sets a per-client token bucket. A RequestsPerMin of zero
// or less turns limiting off.
type RateLimitConfig struct {
	RequestsPerMin int
	BurstSize      int
	// TrustedProxies are peers whose X-Forwarded-For and X-Real-IP headers
	// name the real client.
	TrustedProxies []string
	// StaleAfter forgets clients idle this long. Defaults to 3m.
	StaleAfter time.Duration
}

const rateLimitedBody = `{"error":"rate limit exceeded","code":"RATE_LIMIT"}`

// visitors holds one limiter per client address.
type visitors struct {
	perSec rate.Limit
	burst  int

	mu   sync.Mutex
	seen map[string]*visitor
}

type visitor struct {
	lim  *rate.Limiter
	last time.Time
}

func (v *visitors) allow(addr string, now time.Time) bool {
	v.mu.Lock()
	c := v.seen[addr]
	if c == nil {
		c = &visitor{lim: rate.NewLimiter(v.perSec, v.burst)}
		v.seen[addr] = c
	}
	c.last = now
	v.mu.Unlock()
	return c.lim.AllowN(now, 1)
}

func (v *visitors) forget(idle time.Duration, now time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for addr, c := range v.seen {
		if now.Sub(c.last) > idle {
			delete(v.seen, addr)
		}
	}
}

// RateLimit answers 429 once a client spends its burst faster than the
// configured rate refills it. Idle clients are swept every minute until ctx
// ends.
func RateLimit(ctx context.Context, cfg RateLimitConfig) func(http.Handler) http.Handler {
	if cfg.RequestsPerMin <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	v := &visitors{
		perSec: rate.Limit(float64(cfg.RequestsPerMin) / 60),
		burst:  max(cfg.BurstSize, 1),
		seen:   make(map[string]*visitor),
	}
	idle := cfg.StaleAfter
	if idle <= 0 {
		idle = 3 * time.Minute
	}

	go func() {
		tick := time.NewTicker(time.Minute)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-tick.C:
				v.forget(idle, now)
			}
		}
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !v.allow(clientIP(r, cfg.TrustedProxies), time.Now()) {
				h := w.Header()
				h.Set("Content-Type", "application/json")
				h.Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(rateLimitedBody))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP is the TCP peer, or the first forwarded address when the peer
// is a trusted proxy.
func clientIP(r *http.Request, trusted []string) string {
	peer, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		peer = r.RemoteAddr
	}
	if !slices.Contains(trusted, peer) {
		return peer
	}
	for _, hdr := range []string{"X-Forwarded-For", "X-Real-IP"} {
		if v := r.Header.Get(hdr); v != "" {
			first, _, _ := strings.Cut(v, ",")
			return strings.TrimSpace(first)
		}
	}
	return peer
}
