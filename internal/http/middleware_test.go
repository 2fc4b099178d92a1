package http

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestRequestLoggerAttachesLogger(t *testing.T) {
	t.Parallel()

	var sawLogger bool
	handler := RequestLogger(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawLogger = LoggerFromContext(r.Context()) != nil
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))

	if !sawLogger {
		t.Fatalf("expected request logger in context")
	}
	if rec.Code != http.StatusTeapot {
		t.Fatalf("expected status to pass through, got %d", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	t.Parallel()

	t.Run("rejects bursts per client", func(t *testing.T) {
		t.Parallel()

		handler := RateLimit(RateLimitConfig{RequestsPerSecond: 0.001, Burst: 2}, nil)(okHandler())

		for i, want := range []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests} {
			req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
			req.RemoteAddr = "10.0.0.1:5000"
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != want {
				t.Fatalf("request %d: expected %d, got %d", i, want, rec.Code)
			}
			if want == http.StatusTooManyRequests && rec.Header().Get("Retry-After") == "" {
				t.Fatalf("expected Retry-After header")
			}
		}

		req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
		req.RemoteAddr = "10.0.0.2:5000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected a different client to be allowed, got %d", rec.Code)
		}
	})

	t.Run("global limit applies across clients", func(t *testing.T) {
		t.Parallel()

		handler := RateLimit(RateLimitConfig{GlobalRequestsPerSecond: 0.001, GlobalBurst: 1}, nil)(okHandler())

		for i, addr := range []string{"10.0.0.1:1", "10.0.0.2:1"} {
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			req.RemoteAddr = addr
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			want := http.StatusOK
			if i == 1 {
				want = http.StatusTooManyRequests
			}
			if rec.Code != want {
				t.Fatalf("request %d: expected %d, got %d", i, want, rec.Code)
			}
		}
	})

	t.Run("disabled when unset", func(t *testing.T) {
		t.Parallel()

		handler := RateLimit(RateLimitConfig{}, nil)(okHandler())
		for i := 0; i < 50; i++ {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
			if rec.Code != http.StatusOK {
				t.Fatalf("expected no limiting, got %d", rec.Code)
			}
		}
	})
}

func TestClientAddressPrefersForwardedFor(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	if got := clientAddress(req); got != "192.0.2.1" {
		t.Fatalf("expected remote host, got %q", got)
	}

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 198.51.100.2")
	if got := clientAddress(req); got != "203.0.113.9" {
		t.Fatalf("expected first forwarded address, got %q", got)
	}
}

type observation struct {
	method string
	route  string
	status int
}

type observerStub struct {
	mu   sync.Mutex
	seen []observation
}

func (o *observerStub) ObserveHTTP(method, route string, status int, _ time.Duration) {
	o.mu.Lock()
	o.seen = append(o.seen, observation{method: method, route: route, status: status})
	o.mu.Unlock()
}

func TestInstrumentRecordsRouteAndStatus(t *testing.T) {
	t.Parallel()

	observer := &observerStub{}
	handler := Instrument(observer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sessions/customer-9/extend", nil))

	if len(observer.seen) != 1 {
		t.Fatalf("expected one observation, got %d", len(observer.seen))
	}
	want := observation{method: http.MethodPost, route: "/api/sessions/{id}/extend", status: http.StatusConflict}
	if observer.seen[0] != want {
		t.Fatalf("expected %+v, got %+v", want, observer.seen[0])
	}
}

func TestRouteLabel(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"/api/sessions":                  "/api/sessions",
		"/api/sessions/":                 "/api/sessions",
		"/api/sessions/abc":              "/api/sessions/{id}",
		"/api/sessions/abc/photo":        "/api/sessions/{id}/photo",
		"/uploads/customers/abc-123.jpg": "/uploads/customers/",
		"/api/export.csv":                "/api/export.csv",
		"/wp-admin":                      "other",
	}
	for path, want := range tests {
		if got := routeLabel(path); got != want {
			t.Fatalf("routeLabel(%q): expected %q, got %q", path, want, got)
		}
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}
