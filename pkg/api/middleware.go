package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/assinado-app/assinado/pkg/auth"
	"github.com/assinado-app/assinado/pkg/crypto"
	"github.com/assinado-app/assinado/pkg/observability"
	"github.com/assinado-app/assinado/pkg/signers"
)

// Recoverer turns handler panics into 500s instead of dropped
// connections.
func Recoverer(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("handler panic",
						"method", r.Method, "path", r.URL.Path,
						"requestId", auth.GetRequestID(r.Context()), "panic", rec)
					WriteMessage(w, http.StatusInternalServerError, "An unexpected error occurred")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// statusRecorder captures the response code for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// RequestLogger logs every request and feeds the RED metrics.
func RequestLogger(logger *slog.Logger, obs *observability.Provider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			elapsed := time.Since(start)
			attrs := []attribute.KeyValue{
				attribute.String("http.method", r.Method),
				attribute.String("http.route", r.Pattern),
				attribute.Int("http.status_code", rec.status),
			}
			obs.RecordRequest(r.Context(), attrs...)
			obs.RecordDuration(r.Context(), elapsed, attrs...)

			logger.Info("request",
				"method", r.Method, "path", r.URL.Path,
				"status", rec.status, "durationMs", elapsed.Milliseconds(),
				"requestId", auth.GetRequestID(r.Context()))
		})
	}
}

// IPRateLimiter is the per-process edge limiter, one token bucket per
// client address. The Redis limiter in pkg/auth covers the abuse-prone
// routes across workers; this one only caps a single noisy client.
type IPRateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rps      rate.Limit
	burst    int
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewIPRateLimiter(rps, burst int) *IPRateLimiter {
	rl := &IPRateLimiter{
		visitors: make(map[string]*visitor),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
	go rl.evictStale()
	return rl
}

func (rl *IPRateLimiter) visitor(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.visitors[ip] = v
	}
	v.lastSeen = time.Now()
	return v.limiter
}

func (rl *IPRateLimiter) evictStale() {
	for {
		time.Sleep(time.Minute)
		rl.mu.Lock()
		for ip, v := range rl.visitors {
			if time.Since(v.lastSeen) > 3*time.Minute {
				delete(rl.visitors, ip)
			}
		}
		rl.mu.Unlock()
	}
}

// Middleware enforces the per-IP budget.
func (rl *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.visitor(clientIP(r)).Allow() {
			WriteTooManyRequests(w, 5)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP strips the port; behind a proxy X-Forwarded-For wins.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.Trim(r.RemoteAddr, "[]")
	}
	return ip
}

type sessionKey struct{}

// SessionFrom retrieves the resolved signer session attached by the
// share-link middleware.
func SessionFrom(ctx context.Context) (*signers.Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(*signers.Session)
	return s, ok
}

// resolveShare turns the {token} path segment into a signer session.
// The distributed limiter is keyed by the token hash, never the raw
// value, so rate-limit state cannot leak a usable link.
func (s *Server) resolveShare(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.PathValue("token")
		if raw == "" {
			WriteServiceError(w, r, s.logger, signers.ErrInvalidLink)
			return
		}
		bucket := "sign:" + crypto.HashToken(raw)[:16]
		if !s.limiter.Allow(r.Context(), bucket, auth.OTPPolicy) {
			WriteTooManyRequests(w, 10)
			return
		}
		sess, err := s.signerSvc.ResolveToken(r.Context(), raw)
		if err != nil {
			WriteServiceError(w, r, s.logger, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, sess)))
	})
}
