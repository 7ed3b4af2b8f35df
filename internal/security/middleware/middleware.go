package middleware

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Staycoo10/mini-airbnb/internal/domain"
	"github.com/Staycoo10/mini-airbnb/internal/observability/requestid"
	"github.com/Staycoo10/mini-airbnb/internal/security/audit"
	"github.com/Staycoo10/mini-airbnb/internal/security/auth"
	"github.com/Staycoo10/mini-airbnb/internal/security/ratelimit"
)

type ClaimsContextKey struct{}

// isPublic reports whether a request may proceed without a token
func isPublic(r *http.Request) bool {
	p := r.URL.Path
	switch {
	case p == "/healthz" || p == "/readyz" || p == "/metrics":
		return true
	case p == "/api/auth/register" || p == "/api/auth/login":
		return true
	case p == "/api/apartments/export":
		return false
	case r.Method == http.MethodGet && (p == "/api/apartments" || strings.HasPrefix(p, "/api/apartments/")):
		return true
	case strings.HasPrefix(p, "/ws/apartments/"):
		return true
	case r.Method == http.MethodOptions:
		return true
	}
	return false
}

func JWTMiddleware(tm *auth.TokenManager, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublic(r) {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeJSONError(w, http.StatusUnauthorized, "missing auth")
				return
			}

			tokenString, err := auth.ExtractToken(authHeader)
			if err != nil {
				writeJSONError(w, http.StatusUnauthorized, "invalid auth")
				return
			}

			claims, err := tm.ValidateToken(tokenString)
			if err != nil {
				log.Debug("token rejected", slog.String("error", err.Error()))
				writeJSONError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), ClaimsContextKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LoginLimit bounds login attempts per client address
type LoginLimit struct {
	Max    int
	Window time.Duration
}

// RateLimitMiddleware limits authenticated callers by actor id and anonymous
// callers by address. Login attempts get their own tighter limit.
func RateLimitMiddleware(limiter *ratelimit.Limiter, login LoginLimit, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := r.URL.Path
			if p == "/healthz" || p == "/readyz" || p == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			if p == "/api/auth/login" && login.Max > 0 {
				if !limiter.AllowStrict(clientIP(r), login.Max, login.Window) {
					log.Warn("login rate limit exceeded", slog.String("client_ip", clientIP(r)))
					writeJSONError(w, http.StatusTooManyRequests, "too many login attempts")
					return
				}
			}

			key := "ip:" + clientIP(r)
			if claims := GetClaimsFromContext(r.Context()); claims != nil {
				key = "actor:" + strconv.FormatInt(claims.UserID, 10)
			}

			if !limiter.Allow(key) {
				writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// AuditMiddleware records bookings, cancellations and denials together with
// the response status
func AuditMiddleware(auditLog *audit.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			var actorID int64
			if claims := GetClaimsFromContext(r.Context()); claims != nil {
				actorID = claims.UserID
			}
			status := strconv.Itoa(sw.status)
			ctx := r.Context()

			switch {
			case r.Method == http.MethodPost && r.URL.Path == "/api/reservations":
				auditLog.LogBooking(ctx, actorID, "", status, r.Header.Get("Idempotency-Key"))
			case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/api/reservations/"):
				auditLog.LogCancellation(ctx, actorID, strings.TrimPrefix(r.URL.Path, "/api/reservations/"), status, "")
			case sw.status == http.StatusForbidden:
				auditLog.LogDenied(ctx, actorID, r.Method+" "+r.URL.Path)
			}
		})
	}
}

// CORSMiddleware answers preflight requests and sets CORS headers for the
// configured origins
func CORSMiddleware(allowed []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if originAllowed(allowed, origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			} else if len(allowed) > 0 {
				w.Header().Set("Access-Control-Allow-Origin", allowed[0])
			}
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Authorization, Idempotency-Key, X-Request-ID")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AccessLog logs one line per completed request
func AccessLog(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			log.Info("request completed",
				slog.String("request_id", requestid.From(r.Context())),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", sw.status),
				slog.Duration("duration_ms", time.Since(start)),
			)
		})
	}
}

func GetClaimsFromContext(ctx context.Context) *auth.Claims {
	if c, ok := ctx.Value(ClaimsContextKey{}).(*auth.Claims); ok {
		return c
	}
	return nil
}

// GetActorFromContext returns the authenticated actor, if any
func GetActorFromContext(ctx context.Context) (domain.Actor, bool) {
	claims := GetClaimsFromContext(ctx)
	if claims == nil {
		return domain.Actor{}, false
	}
	return claims.Actor(), true
}

func originAllowed(allowed []string, origin string) bool {
	if origin == "" {
		return false
	}
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Hijack hands the connection over for websocket upgrades
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
