package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"imgbatch/api/auth"
	"imgbatch/api/middleware"
)

type RouterDeps struct {
	Counter  *CounterHandler
	Health   *HealthHandler
	Verifier middleware.Verifier
	Logger   *zap.Logger
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.TraceID)
	r.Use(middleware.Logging(d.Logger))
	r.Use(middleware.Recovery(d.Logger))

	r.Route("/api/counter", func(r chi.Router) {
		r.Get("/ws", d.Counter.Stream)

		r.Group(func(r chi.Router) {
			r.Use(chimw.Timeout(10 * time.Second))
			r.Get("/", d.Counter.Get)
			r.Post("/", d.Counter.Increment)
			r.With(middleware.RequireRole(d.Verifier, auth.RoleAdmin)).Put("/", d.Counter.Reset)
		})
	})

	r.Get("/health", d.Health.Health)

	return r
}
