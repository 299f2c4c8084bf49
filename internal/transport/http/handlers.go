package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opentrusty/tenantscope/internal/identity"
	"github.com/opentrusty/tenantscope/internal/observability/logger"
	"github.com/opentrusty/tenantscope/internal/scope"
	"github.com/opentrusty/tenantscope/internal/tenant"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HealthCheck checks one dependency of the service
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// SessionTerminator ends the cookie session of a request
type SessionTerminator interface {
	Terminate(w http.ResponseWriter, r *http.Request) error
}

// Handler holds HTTP handlers and dependencies
type Handler struct {
	registry *scope.Registry
	sessions SessionTerminator
	checks   []HealthCheck
}

// NewHandler creates a new HTTP handler
func NewHandler(registry *scope.Registry, sessions SessionTerminator, checks ...HealthCheck) *Handler {
	return &Handler{
		registry: registry,
		sessions: sessions,
		checks:   checks,
	}
}

// NewRouter creates a new HTTP router
func NewRouter(h *Handler, scopes *ScopeController, rateLimiter *RateLimiter, requestTimeout time.Duration) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(RateLimitMiddleware(rateLimiter))
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/health", h.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(scopes.Middleware)

		r.Get("/context", h.GetContext)
		r.With(RequireTenant(h.registry)).Get("/tenant", h.GetTenant)
		r.Delete("/session", h.DeleteSession)
	})

	return r
}

// HealthCheck reports the health of the service and its dependencies
// @Summary Health Check
// @Description Reports the health of the service and its dependencies
// @Tags System
// @Produce json
// @Success 200 {object} map[string]any
// @Failure 503 {object} map[string]any
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]string, len(h.checks))
	for _, c := range h.checks {
		if err := c.Check(ctx); err != nil {
			slog.WarnContext(ctx, "health check failed", logger.Component(c.Name), logger.Error(err))
			deps[c.Name] = "unhealthy"
			status = http.StatusServiceUnavailable
			continue
		}
		deps[c.Name] = "healthy"
	}

	body := map[string]any{
		"status":  "healthy",
		"service": "tenantscope",
	}
	if status != http.StatusOK {
		body["status"] = "unhealthy"
	}
	if len(deps) > 0 {
		body["dependencies"] = deps
	}
	respondJSON(w, status, body)
}

type userView struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

type contextResponse struct {
	Unit      string         `json:"unit"`
	Channel   string         `json:"channel"`
	Strategy  string         `json:"strategy"`
	Anonymous bool           `json:"anonymous"`
	User      *userView      `json:"user"`
	Tenant    *tenant.Tenant `json:"tenant"`
}

// GetContext returns the user and tenant resolved for the request
// @Summary Current Context
// @Description Returns the execution unit, user and tenant bound to the request
// @Tags Context
// @Produce json
// @Param Authorization header string false "simplejwt <token>"
// @Success 200 {object} contextResponse
// @Failure 401 {object} map[string]string
// @Failure 501 {object} map[string]string
// @Router /api/v1/context [get]
func (h *Handler) GetContext(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	unit, _ := scope.UnitFromContext(ctx)

	resp := contextResponse{
		Unit:      unit.String(),
		Channel:   scope.ChannelOther.String(),
		Strategy:  RequestStrategy(ctx).String(),
		Anonymous: true,
		Tenant:    h.registry.CurrentTenant(ctx),
	}
	if h.registry.IsWeb(ctx) {
		resp.Channel = scope.ChannelWeb.String()
	}
	if u, ok := identity.UserOf(h.registry.CurrentUser(ctx)); ok {
		resp.Anonymous = false
		resp.User = &userView{ID: u.ID, Email: u.Email, Name: u.Name}
	}

	respondJSON(w, http.StatusOK, resp)
}

// GetTenant returns the current tenant
// @Summary Current Tenant
// @Description Returns the tenant resolved for the request
// @Tags Context
// @Produce json
// @Success 200 {object} tenant.Tenant
// @Failure 403 {object} map[string]string
// @Router /api/v1/tenant [get]
func (h *Handler) GetTenant(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.registry.CurrentTenant(r.Context()))
}

// DeleteSession logs the caller out of its cookie session
// @Summary Logout
// @Description Destroys the session named by the session cookie and expires the cookie
// @Tags Session
// @Success 204
// @Failure 500 {object} map[string]string
// @Router /api/v1/session [delete]
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if h.sessions != nil {
		if err := h.sessions.Terminate(w, r); err != nil {
			slog.ErrorContext(r.Context(), "failed to destroy session", logger.Error(err))
			respondError(w, http.StatusInternalServerError, "failed to destroy session")
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

// clientIP returns the first X-Forwarded-For hop, then X-Real-IP, then the
// host part of RemoteAddr.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
