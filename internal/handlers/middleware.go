package handlers

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	ghandlers "github.com/gorilla/handlers"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"solar-platform/pkg/logging"
	"solar-platform/pkg/metrics"
)

// RequestIDHeader carries the request correlation id.
const RequestIDHeader = "X-Request-ID"

// RequestID tags every request with an id, reusing the caller's when given.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logging.WithRequestID(r.Context(), id)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// AccessLog logs one line per request.
func AccessLog(logger *logging.StructuredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			logger.Info(r.Context(), "[API_REQUEST] Request served", logging.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      rec.status,
				"duration_ms": time.Since(start).Milliseconds(),
				"remote_addr": r.RemoteAddr,
			})
		})
	}
}

// RateLimiter throttles requests per client address with a token bucket.
type RateLimiter struct {
	limiters *gocache.Cache
	limit    rate.Limit
	burst    int
	metrics  *metrics.Collector
}

// NewRateLimiter allows rps requests per second per client with the given
// burst. Idle clients are forgotten after ten minutes.
func NewRateLimiter(rps float64, burst int, metricsCollector *metrics.Collector) *RateLimiter {
	return &RateLimiter{
		limiters: gocache.New(10*time.Minute, 20*time.Minute),
		limit:    rate.Limit(rps),
		burst:    burst,
		metrics:  metricsCollector,
	}
}

func (l *RateLimiter) limiter(client string) *rate.Limiter {
	if v, ok := l.limiters.Get(client); ok {
		l.limiters.SetDefault(client, v)
		return v.(*rate.Limiter)
	}
	candidate := rate.NewLimiter(l.limit, l.burst)
	if err := l.limiters.Add(client, candidate, gocache.DefaultExpiration); err != nil {
		// Lost the race against another request from the same client.
		if v, ok := l.limiters.Get(client); ok {
			return v.(*rate.Limiter)
		}
	}
	return candidate
}

// Middleware rejects requests over the limit with 429.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lim := l.limiter(clientAddr(r))
		if !lim.Allow() {
			l.metrics.RecordAPIRequest(r.URL.Path, r.Method, strconv.Itoa(http.StatusTooManyRequests))
			l.metrics.RecordAPIError("rate_limited", r.URL.Path)
			w.Header().Set("Retry-After", "1")
			sendJSON(w, ErrorResponse{
				Error:   http.StatusText(http.StatusTooManyRequests),
				Kind:    "rate_limited",
				Message: "request rate exceeded, retry later",
				Code:    http.StatusTooManyRequests,
			}, http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first := strings.TrimSpace(strings.Split(fwd, ",")[0]); first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Chain wraps h with recovery, CORS, request ids, access logs and, when
// limiter is non-nil, rate limiting. The outermost wrapper comes first.
func Chain(h http.Handler, logger *logging.StructuredLogger, limiter *RateLimiter, corsOrigins []string) http.Handler {
	if limiter != nil {
		h = limiter.Middleware(h)
	}
	h = AccessLog(logger)(h)
	h = RequestID(h)
	if len(corsOrigins) > 0 {
		h = ghandlers.CORS(
			ghandlers.AllowedOrigins(corsOrigins),
			ghandlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
			ghandlers.AllowedHeaders([]string{"Content-Type", RequestIDHeader}),
			ghandlers.ExposedHeaders([]string{RequestIDHeader, "Location"}),
		)(h)
	}
	return ghandlers.RecoveryHandler(ghandlers.PrintRecoveryStack(true))(h)
}
