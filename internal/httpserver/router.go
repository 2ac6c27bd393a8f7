package httpserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/hasanmaki/mkit-idv-next/internal/observability"
)

// ParseOrigins splits a comma-separated origin list into a slice, trimming
// spaces. An empty or "*" input allows every origin.
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// RouterConfig carries the router-level tuning BuildRouter needs.
type RouterConfig struct {
	CORSAllowOrigins string
	RateLimitPerMin  int
	RequestTimeout   time.Duration
	Debug            bool
}

// BuildRouter constructs the full HTTP handler: middleware stack, CORS,
// rate limiting on mutating endpoints, and every §6 resource group.
func BuildRouter(cfg RouterConfig, s *Server) http.Handler {
	r := chi.NewRouter()

	r.Use(Recoverer())
	r.Use(TraceID())
	r.Use(TimeoutMiddleware(cfg.RequestTimeout))
	r.Use(TraceMiddleware)
	r.Use(AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Trace-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.HealthHandler())
	r.Get("/readyz", s.ReadyHandler())
	r.Get("/openapi.yaml", s.OpenAPIYAMLHandler())
	r.Get("/openapi.json", s.OpenAPIJSONHandler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Group(func(mutating chi.Router) {
			if cfg.RateLimitPerMin > 0 {
				limiter := httprate.LimitByIP(cfg.RateLimitPerMin, time.Minute)
				mutating.Use(func(next http.Handler) http.Handler {
					limited := limiter(next)
					return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
						if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
							next.ServeHTTP(w, r)
							return
						}
						limited.ServeHTTP(w, r)
					})
				})
			}
			registerServerRoutes(mutating, s)
			registerAccountRoutes(mutating, s)
			registerBindingRoutes(mutating, s)
			registerTransactionRoutes(mutating, s)
			registerOrchestrationRoutes(mutating, s)
			registerToolsRoutes(mutating, s)
		})
	})

	return SecurityHeaders(r)
}
