package httpmiddleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RateLimitConfig configures the per-client rate limiter.
type RateLimitConfig struct {
	// Requests is the number of requests allowed per Window.
	Requests int
	// Window is the fixed window length.
	Window time.Duration
}

type rateWindow struct {
	start time.Time
	count int
}

type rateLimiter struct {
	mu      sync.Mutex
	clients map[string]*rateWindow
	cfg     RateLimitConfig
	now     func() time.Time
}

// allow reports whether client may make another request within the current
// window, counting this request.
func (l *rateLimiter) allow(client string) (ok bool, retryAfter time.Duration) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.clients[client]
	if w == nil || now.Sub(w.start) >= l.cfg.Window {
		l.clients[client] = &rateWindow{start: now, count: 1}
		return true, 0
	}
	if w.count < l.cfg.Requests {
		w.count++
		return true, 0
	}
	return false, l.cfg.Window - now.Sub(w.start)
}

// prune drops windows that expired before now. Called opportunistically so
// the client map does not grow without bound.
func (l *rateLimiter) prune() {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	for client, w := range l.clients {
		if now.Sub(w.start) >= l.cfg.Window {
			delete(l.clients, client)
		}
	}
}

// RateLimit rejects clients exceeding cfg.Requests per cfg.Window with
// 429 Too Many Requests. Clients are keyed by remote IP.
func RateLimit(cfg RateLimitConfig) Middleware {
	l := &rateLimiter{
		clients: make(map[string]*rateWindow),
		cfg:     cfg,
		now:     time.Now,
	}
	go func() {
		t := time.NewTicker(cfg.Window)
		defer t.Stop()
		for range t.C {
			l.prune()
		}
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				client = r.RemoteAddr
			}
			ok, retryAfter := l.allow(client)
			if !ok {
				w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
				http.Error(w, "too many requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
