package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/soochol/flowcast/internal/auth"
	"github.com/soochol/flowcast/internal/live"
	"github.com/soochol/flowcast/internal/metrics"
	"github.com/soochol/flowcast/internal/services"
	"github.com/soochol/flowcast/internal/ticket"
)

type Server struct {
	hub             *live.Hub
	tickets         ticket.Store
	auth            auth.Config
	stateSvc        *services.StateService
	metrics         *metrics.Metrics
	allowQueryToken bool
	watchAll        map[string]struct{}
}

func NewServer(hub *live.Hub, tickets ticket.Store, authCfg auth.Config) *Server {
	return &Server{
		hub:     hub,
		tickets: tickets,
		auth:    authCfg,
	}
}

// SetStateService enables the workflow state write routes.
func (s *Server) SetStateService(svc *services.StateService) {
	s.stateSvc = svc
}

// SetMetrics configures the Prometheus collectors and the /metrics route.
func (s *Server) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// SetAllowQueryToken enables the deprecated ?token= stream authentication.
func (s *Server) SetAllowQueryToken(allow bool) {
	s.allowQueryToken = allow
}

// SetWildcardIdentities lists the identities allowed to stream every
// workflow at once through the "*" subscription.
func (s *Server) SetWildcardIdentities(ids []string) {
	s.watchAll = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		s.watchAll[id] = struct{}{}
	}
}

func (s *Server) mayWatchAll(identity string) bool {
	_, ok := s.watchAll[identity]
	return ok
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}))
	r.Use(auth.Middleware(s.auth))

	r.Get("/healthz", s.healthz)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/live", func(r chi.Router) {
			r.Post("/ticket", s.issueTicket)
			r.Get("/workflow/{workflowId}", s.streamWorkflow)
			r.Get("/status", s.liveStatus)
		})
		if s.stateSvc != nil {
			r.Route("/workflows/{id}", func(r chi.Router) {
				r.Put("/status", s.updateWorkflowStatus)
				r.Put("/tasks/{taskId}", s.upsertTask)
				r.Post("/checkpoints", s.addCheckpoint)
			})
		}
	})

	return r
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
