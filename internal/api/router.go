package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/baechuer/kimg-panel/internal/api/handlers"
	"github.com/baechuer/kimg-panel/internal/config"
	"github.com/baechuer/kimg-panel/internal/downstream"
	"github.com/baechuer/kimg-panel/internal/logger"
	"github.com/baechuer/kimg-panel/internal/preview"
	"github.com/baechuer/kimg-panel/middleware"
)

const serviceName = "kimg-panel"

type Deps struct {
	Config   *config.Config
	Registry *preview.Registry
	Kimg     *downstream.KimgClient
	// Redis is optional. Without it rate limits are kept per process.
	Redis redis.UniversalClient
}

func NewRouter(d Deps) http.Handler {
	cfg := d.Config
	r := chi.NewRouter()

	// Replace default chi Logger with our structured logger
	r.Use(middleware.RequestLogger(logger.Log))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Metrics)
	if cfg.TracingEnabled {
		r.Use(middleware.Tracing(serviceName))
	}

	checkers := []handlers.ReadinessChecker{handlers.NewCheckFunc("kimg", d.Kimg.Ping)}
	if d.Redis != nil {
		checkers = append(checkers, handlers.NewCheckFunc("redis", func(ctx context.Context) error {
			return d.Redis.Ping(ctx).Err()
		}))
	}
	ready := handlers.NewReadinessHandler(checkers...)

	r.Handle("/metrics", promhttp.Handler())

	h := handlers.NewPreviewHandler(func(id string) handlers.Previewer {
		return d.Registry.Get(id)
	}, cfg.MaxUploadSize)

	limit := func(next http.Handler) http.Handler { return next }
	if cfg.RLEnabled {
		rl := middleware.RateLimitConfig{
			Scope:  "image",
			Limit:  cfg.RLLimit,
			Window: cfg.RLWindow,
			KeyFn:  middleware.KeyByIP,
		}
		if d.Redis != nil {
			limit = middleware.NewRedisRateLimiter(d.Redis).Middleware(rl)
		} else {
			limit = middleware.LocalRateLimit(rl)
		}
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/healthz", ready.Healthz)
		r.Get("/readyz", ready.Readyz)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Session(cfg.SessionCookie, cfg.CookieSecure))

			r.Get("/session", h.Session)
			r.Get("/session/notifications", h.Notifications)

			r.Get("/panels", h.Panels)
			r.Put("/panels/{panel}", h.SetPanel)

			r.Get("/preview/{view}", h.Preview)

			r.With(limit).Post("/image", h.Upload)
			r.With(limit).Post("/image/hash", h.EnterHash)
			r.With(limit).Delete("/image", h.Delete)
		})
	})

	return r
}
