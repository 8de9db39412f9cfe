// Package httpapi serves the authentication engine over HTTP.
package httpapi

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/metrics/export/prometheus"
	"github.com/MrEthical07/authcore/middleware"
	"github.com/MrEthical07/authcore/strategy"
)

// Handler holds the HTTP adapters of one engine.
type Handler struct {
	engine     *authcore.Engine
	config     authcore.Config
	strategies *strategy.Selector
	auth       *middleware.Authorizer
	login      *rate.Buckets
	metrics    http.Handler
	logger     *slog.Logger
}

// NewHandler wires strategies, the authorizer and the login throttle from the engine
// configuration. A nil logger discards.
func NewHandler(engine *authcore.Engine, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	cfg := engine.Config()
	sel := strategy.NewSelector(cfg)

	auth := middleware.NewAuthorizer(engine, sel)
	auth.SetRateLimitMaxKeys(cfg.RateLimit.MaxKeys)

	h := &Handler{
		engine:     engine,
		config:     cfg,
		strategies: sel,
		auth:       auth,
		logger:     logger,
	}
	if cfg.RateLimit.LoginRate > 0 {
		h.login = rate.NewBuckets(rate.BucketsConfig{
			Rate:  cfg.RateLimit.LoginRate,
			Burst: cfg.RateLimit.LoginBurst,
		})
	}
	if cfg.Metrics.Enabled {
		h.metrics = prometheus.New(engine).Handler()
	}
	return h
}

// Run sweeps the in-process limiters until ctx is done.
func (h *Handler) Run(ctx context.Context) {
	interval := h.config.RateLimit.SweepInterval
	if h.login != nil {
		go h.login.Run(ctx, interval)
	}
	h.auth.Run(ctx, interval)
}

// NewRouter registers the routes and the middleware stack.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(requestIDMiddleware)
	r.Use(h.recoverMiddleware)
	r.Use(h.loggingMiddleware)
	r.Use(clientContextMiddleware)

	r.Get("/healthz", h.healthz)
	r.Get("/readyz", h.readyz)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}

	limit := h.auth.RateLimit("auth", h.config.RateLimit.Max, h.config.RateLimit.Window)

	r.Route("/auth", func(r chi.Router) {
		r.With(h.throttleLogin).Post("/login", h.handleLogin)
		r.Post("/refresh", h.handleRefresh)
		r.Post("/logout", h.handleLogout)

		r.Group(func(r chi.Router) {
			r.Use(h.auth.Require(middleware.Policy{}))
			r.Use(limit)

			r.Post("/logout-all", h.handleLogoutAll)
			r.Get("/verify", h.handleVerify)
			r.Put("/profile", h.handleUpdateProfile)
			r.Post("/change-password", h.handleChangePassword)
			r.Get("/sessions", h.handleListSessions)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(h.auth.Require(middleware.Policy{AdminOnly: true}))
			r.Use(limit)

			r.Post("/users", h.handleCreateUser)
			r.Post("/users/{id}/deactivate", h.handleDeactivateUser)
		})
	})

	return r
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	failures := h.engine.TestConnections(ctx)
	if len(failures) == 0 {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}

	checks := make(map[string]string, len(failures))
	for name, err := range failures {
		h.logger.WarnContext(ctx, "readiness check failed", "component", name, "error", err)
		checks[name] = "unavailable"
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]any{
		"status": "not_ready",
		"checks": checks,
	})
}
