package http

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// RequestLogger attaches a request scoped logger to every request and logs its
// start and completion.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	if base == nil {
		base = slog.Default()
	}
	var counter atomic.Uint64

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := counter.Add(1)
			logger := base.With(
				"request_id", id,
				"method", r.Method,
				"path", r.URL.Path,
			)

			ctx := ContextWithLogger(r.Context(), logger)
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			logger.InfoContext(ctx, "request started")
			next.ServeHTTP(rec, r.WithContext(ctx))
			logger.InfoContext(ctx, "request completed", "status", rec.status, "duration", time.Since(start))
		})
	}
}

// HTTPObserver receives one observation per served request.
type HTTPObserver interface {
	ObserveHTTP(method, route string, status int, elapsed time.Duration)
}

// Instrument reports every request to observer, labelled by its route
// pattern rather than its concrete path.
func Instrument(observer HTTPObserver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if observer == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			observer.ObserveHTTP(r.Method, routeLabel(r.URL.Path), rec.status, time.Since(start))
		})
	}
}

// RateLimitConfig bounds request throughput. Zero values disable the matching
// limiter.
type RateLimitConfig struct {
	// RequestsPerSecond and Burst apply to each client address.
	RequestsPerSecond float64
	Burst             int

	// GlobalRequestsPerSecond and GlobalBurst apply to all clients together.
	GlobalRequestsPerSecond float64
	GlobalBurst             int

	// IdleTTL evicts per client limiters not used for that long.
	IdleTTL time.Duration
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type rateLimiter struct {
	cfg     RateLimitConfig
	global  *rate.Limiter
	mu      sync.Mutex
	clients map[string]*clientLimiter
	sweep   time.Time
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}
	rl := &rateLimiter{cfg: cfg, clients: make(map[string]*clientLimiter)}
	if cfg.GlobalRequestsPerSecond > 0 {
		rl.global = rate.NewLimiter(rate.Limit(cfg.GlobalRequestsPerSecond), max(cfg.GlobalBurst, 1))
	}
	return rl
}

func (rl *rateLimiter) allow(client string, now time.Time) bool {
	if rl.global != nil && !rl.global.AllowN(now, 1) {
		return false
	}
	if rl.cfg.RequestsPerSecond <= 0 {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.sweep) > rl.cfg.IdleTTL {
		for key, c := range rl.clients {
			if now.Sub(c.lastSeen) > rl.cfg.IdleTTL {
				delete(rl.clients, key)
			}
		}
		rl.sweep = now
	}

	c, ok := rl.clients[client]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(rate.Limit(rl.cfg.RequestsPerSecond), max(rl.cfg.Burst, 1))}
		rl.clients[client] = c
	}
	c.lastSeen = now
	return c.limiter.AllowN(now, 1)
}

// RateLimit rejects requests beyond the configured rates with 429 Too Many
// Requests.
func RateLimit(cfg RateLimitConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	limiter := newRateLimiter(cfg)
	responder := newResponder(logger)

	return func(next http.Handler) http.Handler {
		if cfg.RequestsPerSecond <= 0 && cfg.GlobalRequestsPerSecond <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := clientAddress(r)
			if !limiter.allow(client, time.Now()) {
				handlerLogger(r.Context(), logger, "RateLimit", "Allow", "client", client).
					WarnContext(r.Context(), "request rejected by rate limiter")
				w.Header().Set("Retry-After", "1")
				responder.writeJSON(r.Context(), w, http.StatusTooManyRequests, errorResponse{
					ErrorCode: "RATE_LIMITED",
					Message:   statusMessage(http.StatusTooManyRequests),
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientAddress(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// routeLabel collapses session ids so metric labels stay bounded.
func routeLabel(path string) string {
	switch {
	case strings.HasPrefix(path, uploadsPrefix):
		return uploadsPrefix
	case strings.HasPrefix(path, sessionsPrefix):
		rest := strings.TrimPrefix(path, sessionsPrefix)
		if rest == "" {
			return strings.TrimSuffix(sessionsPrefix, "/")
		}
		_, action, found := strings.Cut(rest, "/")
		if !found {
			return sessionsPrefix + "{id}"
		}
		return sessionsPrefix + "{id}/" + action
	}
	switch path {
	case "/api/sessions", "/api/records", "/api/stats", "/api/time-options",
		"/api/export", "/api/export.csv", "/api/import", "/healthz", "/metrics":
		return path
	}
	return "other"
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (s *statusRecorder) WriteHeader(status int) {
	if !s.wroteHeader {
		s.status = status
		s.wroteHeader = true
	}
	s.ResponseWriter.WriteHeader(status)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if !s.wroteHeader {
		s.wroteHeader = true
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}
