package worker

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// tokenBucket is a single client's budget.
type tokenBucket struct {
	lastUpdate time.Time
	tokens     float64
	requests   int64
	rejected   int64
}

// ClientLimiter rate-limits decision requests per client with a token bucket.
type ClientLimiter struct {
	lastCleanup     time.Time
	now             func() time.Time
	clients         map[string]*tokenBucket
	rate            float64
	burst           int
	cleanupInterval time.Duration
	maxIdleTime     time.Duration
	mu              sync.Mutex
}

// NewClientLimiter creates a limiter allowing rate requests per second per
// client with bursts up to burst.
func NewClientLimiter(rate float64, burst int) *ClientLimiter {
	if burst < 1 {
		burst = 1
	}
	return &ClientLimiter{
		rate:            rate,
		burst:           burst,
		now:             time.Now,
		clients:         make(map[string]*tokenBucket),
		cleanupInterval: 5 * time.Minute,
		maxIdleTime:     10 * time.Minute,
		lastCleanup:     time.Now(),
	}
}

// Allow spends one token of the client's bucket.
func (l *ClientLimiter) Allow(client string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastCleanup) > l.cleanupInterval {
		l.cleanupLocked(now)
	}

	b, ok := l.clients[client]
	if !ok {
		b = &tokenBucket{tokens: float64(l.burst), lastUpdate: now}
		l.clients[client] = b
	}

	b.requests++
	b.tokens = min(b.tokens+now.Sub(b.lastUpdate).Seconds()*l.rate, float64(l.burst))
	b.lastUpdate = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	b.rejected++
	return false
}

// cleanupLocked drops buckets idle for longer than maxIdleTime. Caller holds l.mu.
func (l *ClientLimiter) cleanupLocked(now time.Time) {
	for key, b := range l.clients {
		if now.Sub(b.lastUpdate) > l.maxIdleTime {
			delete(l.clients, key)
		}
	}
	l.lastCleanup = now
}

// LimiterStats is the aggregate view of a ClientLimiter.
type LimiterStats struct {
	Rate          float64 `json:"rate"`
	Burst         int     `json:"burst"`
	ActiveClients int     `json:"active_clients"`
	TotalRequests int64   `json:"total_requests"`
	TotalRejected int64   `json:"total_rejected"`
}

// Stats returns aggregate statistics.
func (l *ClientLimiter) Stats() LimiterStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := LimiterStats{Rate: l.rate, Burst: l.burst, ActiveClients: len(l.clients)}
	for _, b := range l.clients {
		st.TotalRequests += b.requests
		st.TotalRejected += b.rejected
	}
	return st
}

// RateLimit creates middleware applying limiter per client.
// Clients are keyed by the host part of RemoteAddr, which chi's RealIP
// middleware rewrites from proxy headers.
func RateLimit(limiter *ClientLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(clientKey(r)) {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
