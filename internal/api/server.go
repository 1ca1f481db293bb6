package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/hallvard/fleet/internal/api/handler"
	mw "github.com/hallvard/fleet/internal/api/middleware"
	"github.com/hallvard/fleet/internal/core"
)

type Server struct {
	router   chi.Router
	logger   zerolog.Logger
	services *core.Services
	pool     *pgxpool.Pool
}

func NewServer(logger zerolog.Logger, pool *pgxpool.Pool, services *core.Services) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		logger:   logger,
		services: services,
		pool:     pool,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(mw.RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(mw.Metrics)
}

func (s *Server) setupRoutes() {
	// Prometheus metrics endpoint
	s.router.Handle("/metrics", promhttp.Handler())

	// Health check endpoints
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)

	user := handler.NewUser(s.services.Users)
	machine := handler.NewMachine(s.services.Machines)
	container := handler.NewContainer(s.services.Containers)

	// Account bootstrap (no auth required)
	s.router.Post("/api/v1/auth/register", user.Register)
	s.router.Post("/api/v1/auth/login", user.Login)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(mw.Auth(s.services.Users))

		// Users
		r.Get("/users/me", user.Me)
		r.Get("/users/{id}", user.Get)
		r.Delete("/users/{id}", user.Delete)

		// Machines
		r.Get("/machines", machine.List)
		r.Post("/machines", machine.Create)
		r.Get("/machines/{id}", machine.Get)
		r.Put("/machines/{id}", machine.Update)
		r.Delete("/machines/{id}", machine.Delete)
		r.Put("/machines/{id}/status", machine.SetStatus)
		r.Post("/machines/{id}/maintenance", machine.EnterMaintenance)

		// Containers
		r.Get("/machines/{machineID}/containers", container.ListByMachine)
		r.Post("/machines/{machineID}/containers", container.Create)
		r.Get("/containers/{id}", container.Get)
		r.Delete("/containers/{id}", container.Delete)
		r.Post("/containers/{id}/start", container.Start)
		r.Post("/containers/{id}/stop", container.Stop)
		r.Post("/containers/{id}/restart", container.Restart)

		// Collaborators
		r.Post("/containers/{id}/collaborators", container.AddCollaborator)
		r.Put("/containers/{id}/collaborators/{userID}", container.UpdateRole)
		r.Delete("/containers/{id}/collaborators/{userID}", container.RemoveCollaborator)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	if err := s.pool.Ping(ctx); err != nil {
		checks["db"] = err.Error()
		healthy = false
	} else {
		checks["db"] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(checks)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
