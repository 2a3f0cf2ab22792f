package middleware

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// visitor tracks a token bucket per client IP.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Throttle is a per-IP token bucket applied to every route. It is separate
// from the login limiter: it bounds request rate, not credential guesses.
type Throttle struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rps      rate.Limit
	burst    int
	ttl      time.Duration
	nowFunc  func() time.Time
	logger   *slog.Logger

	stop     chan struct{}
	stopOnce sync.Once
}

// NewThrottle starts a background sweep that evicts visitors idle for
// longer than ttl. Call Close to stop it.
func NewThrottle(rps float64, burst int, ttl time.Duration, logger *slog.Logger) *Throttle {
	t := &Throttle{
		visitors: make(map[string]*visitor),
		rps:      rate.Limit(rps),
		burst:    burst,
		ttl:      ttl,
		nowFunc:  time.Now,
		logger:   logger,
		stop:     make(chan struct{}),
	}
	go t.cleanupLoop()
	return t
}

func (t *Throttle) getVisitor(ip string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	v, ok := t.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(t.rps, t.burst)}
		t.visitors[ip] = v
	}
	v.lastSeen = t.nowFunc()
	return v.limiter
}

func (t *Throttle) cleanupLoop() {
	ticker := time.NewTicker(t.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.cleanup()
		case <-t.stop:
			return
		}
	}
}

func (t *Throttle) cleanup() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.nowFunc()
	for ip, v := range t.visitors {
		if now.Sub(v.lastSeen) > t.ttl {
			delete(t.visitors, ip)
		}
	}
}

func (t *Throttle) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.visitors)
}

// Close stops the sweep goroutine. It is safe to call more than once.
func (t *Throttle) Close() error {
	t.stopOnce.Do(func() { close(t.stop) })
	return nil
}

// Handler answers 429 with Retry-After: 1 once a client's bucket is empty.
func (t *Throttle) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := remoteHost(r)
		if !t.getVisitor(ip).Allow() {
			t.logger.Warn("throttle limit exceeded",
				slog.String("ip", ip),
				slog.String("path", r.URL.Path),
			)
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error":      "too many requests",
				"code":       "throttled",
				"retryAfter": 1,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// remoteHost strips the port from RemoteAddr. chi's RealIP runs earlier in
// the chain and has already applied X-Forwarded-For / X-Real-IP.
func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
