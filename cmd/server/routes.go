package main

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Staycoo10/mini-airbnb/internal/handler"
	"github.com/Staycoo10/mini-airbnb/internal/observability/metrics"
	"github.com/Staycoo10/mini-airbnb/internal/observability/requestid"
	"github.com/Staycoo10/mini-airbnb/internal/security/audit"
	"github.com/Staycoo10/mini-airbnb/internal/security/auth"
	"github.com/Staycoo10/mini-airbnb/internal/security/middleware"
	"github.com/Staycoo10/mini-airbnb/internal/security/ratelimit"
)

const (
	maxBodyBytes = 1 << 20
	importPath   = "/api/apartments/import"
)

type routerDeps struct {
	auth         *handler.AuthHandler
	apartments   *handler.ApartmentHandler
	reservations *handler.ReservationHandler
	events       *handler.EventsHandler
	health       *handler.HealthHandler
	tokens       *auth.TokenManager
	limiter      *ratelimit.Limiter
	audit        *audit.Logger
	corsOrigins  []string
	loginLimit   middleware.LoginLimit
	logger       *slog.Logger
}

// newRouter registers every route and wraps the mux in the middleware chain:
// request id -> tracing -> CORS -> access log -> metrics -> JWT -> rate limit
// -> audit -> input checks -> mux
func newRouter(d routerDeps) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/register", d.auth.Register)
	mux.HandleFunc("POST /api/auth/login", d.auth.Login)
	mux.HandleFunc("GET /api/auth/me", d.auth.Me)
	mux.HandleFunc("GET /api/apartments", d.apartments.List)
	mux.HandleFunc("GET /api/apartments/export", d.apartments.Export)
	mux.HandleFunc("POST /api/apartments/import", d.apartments.Import)
	mux.HandleFunc("GET /api/apartments/{id}", d.apartments.Get)
	mux.HandleFunc("POST /api/apartments", d.apartments.Create)
	mux.HandleFunc("PUT /api/apartments/{id}", d.apartments.Update)
	mux.HandleFunc("DELETE /api/apartments/{id}", d.apartments.Delete)
	mux.HandleFunc("POST /api/reservations", d.reservations.Create)
	mux.HandleFunc("GET /api/reservations", d.reservations.List)
	mux.HandleFunc("GET /api/reservations/my", d.reservations.Mine)
	mux.HandleFunc("GET /api/reservations/{id}", d.reservations.Get)
	mux.HandleFunc("DELETE /api/reservations/{id}", d.reservations.Cancel)
	mux.Handle("GET /ws/apartments/{id}/events", d.events)
	mux.HandleFunc("GET /healthz", d.health.Health)
	mux.HandleFunc("GET /readyz", d.health.Ready)
	mux.Handle("GET /metrics", promhttp.Handler())

	route := routeLabel(mux)

	var root http.Handler = mux
	root = middleware.LimitBody(maxBodyBytes)(root)
	root = middleware.SanitizeInputs(d.logger)(root)
	root = middleware.ValidateJSONContentType(d.logger, importPath)(root)
	root = middleware.AuditMiddleware(d.audit)(root)
	root = middleware.RateLimitMiddleware(d.limiter, d.loginLimit, d.logger)(root)
	root = middleware.JWTMiddleware(d.tokens, d.logger)(root)
	root = metrics.HTTPMetricsMiddleware(route)(root)
	root = middleware.AccessLog(d.logger)(root)
	root = middleware.CORSMiddleware(d.corsOrigins)(root)
	root = otelhttp.NewHandler(root, "mini-airbnb",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return route(r)
		}),
	)
	return requestid.Middleware(root)
}

// routeLabel reports the mux pattern a request matches, or "unmatched"
func routeLabel(mux *http.ServeMux) metrics.RouteLabel {
	return func(r *http.Request) string {
		if _, pattern := mux.Handler(r); pattern != "" {
			return pattern
		}
		return "unmatched"
	}
}
