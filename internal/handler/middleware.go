package handler

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/Shivanand-hulikatti/course-enrollment/internal/logger"
)

// RequestObserver receives one call per finished request.
type RequestObserver interface {
	ObserveRequest(method, route string, status int, elapsed time.Duration)
}

// AccessLog logs every request and reports it to obs when obs is non-nil.
func AccessLog(log *logger.Logger, obs RequestObserver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			elapsed := time.Since(start)
			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if p := rctx.RoutePattern(); p != "" {
					route = p
				}
			}

			kv := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"duration", elapsed,
				"request_id", chimiddleware.GetReqID(r.Context()),
			}
			if id, ok := IdentityFrom(r.Context()); ok {
				kv = append(kv, "member_id", id.MemberID)
			}
			switch {
			case status >= 500:
				log.Error("request", kv...)
			case status >= 400:
				log.Warn("request", kv...)
			default:
				log.Info("request", kv...)
			}
			if obs != nil {
				obs.ObserveRequest(r.Method, route, status, elapsed)
			}
		})
	}
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// memberLimiter holds one token bucket per caller.
type memberLimiter struct {
	mu          sync.Mutex
	limit       rate.Limit
	burst       int
	entries     map[string]*limiterEntry
	ttl         time.Duration
	lastCleanup time.Time
}

func newMemberLimiter(rps float64, burst int) *memberLimiter {
	return &memberLimiter{
		limit:       rate.Limit(rps),
		burst:       burst,
		entries:     make(map[string]*limiterEntry),
		ttl:         10 * time.Minute,
		lastCleanup: time.Now(),
	}
}

func (l *memberLimiter) allow(key string) bool {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastCleanup) >= l.ttl {
		for k, e := range l.entries {
			if now.Sub(e.lastSeen) > l.ttl {
				delete(l.entries, k)
			}
		}
		l.lastCleanup = now
	}

	e, ok := l.entries[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[key] = e
	}
	e.lastSeen = now
	return e.limiter.Allow()
}

// RateLimit applies a token bucket per authenticated member, falling back to
// the client address. rps <= 0 disables limiting.
func RateLimit(rps float64, burst int) func(http.Handler) http.Handler {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if burst <= 0 {
		burst = 1
	}
	limiter := newMemberLimiter(rps, burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "ip:" + r.RemoteAddr
			if id, ok := IdentityFrom(r.Context()); ok {
				key = "member:" + strconv.FormatInt(id.MemberID, 10)
			}
			if !limiter.allow(key) {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, codeRateLimited, "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
