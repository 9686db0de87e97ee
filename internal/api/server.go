// Package api implements the HTTP API.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/exemi-au/exemi/internal/background"
	"github.com/exemi-au/exemi/internal/buildinfo"
	"github.com/exemi-au/exemi/internal/canvas"
	"github.com/exemi-au/exemi/internal/config"
	"github.com/exemi-au/exemi/internal/connwatch"
	"github.com/exemi-au/exemi/internal/conversation"
	"github.com/exemi-au/exemi/internal/database"
	"github.com/exemi-au/exemi/internal/reminders"
	"github.com/exemi-au/exemi/internal/usage"
	"github.com/exemi-au/exemi/internal/users"
)

// HealthReporter reports backend reachability for /healthz.
type HealthReporter interface {
	Status() []connwatch.Status
}

// Deps are the services behind the API.
type Deps struct {
	DB            *database.DB
	Users         *users.Service
	Universities  *canvas.Universities
	Canvas        *canvas.Service
	Mirror        *canvas.Mirror
	Reminders     *reminders.Service
	Conversations *conversation.Service
	Runner        *background.Runner
	Usage         *usage.Store
	// Limiter throttles /login. Nil disables rate limiting.
	Limiter  Limiter
	Health   HealthReporter
	Location *time.Location
}

// Server is the HTTP API server.
type Server struct {
	address string
	port    int
	origins []string
	deps    Deps
	logger  *slog.Logger
	server  *http.Server
}

// NewServer creates a server. It does not listen until Start.
func NewServer(cfg config.ListenConfig, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	return &Server{
		address: cfg.Address,
		port:    cfg.Port,
		origins: cfg.AllowedOrigins,
		deps:    deps,
		logger:  logger,
	}
}

// Handler builds the routed handler with all middleware.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	if s.deps.Runner != nil {
		r.Use(s.deps.Runner.Middleware)
	}
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		s.writeDetail(w, http.StatusNotFound, "Not Found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		s.writeDetail(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	})

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	// Accounts
	r.HandleFunc("/users", s.handleCreateUser).Methods(http.MethodPost)
	r.Handle("/login", s.rateLimited(http.HandlerFunc(s.handleLogin))).Methods(http.MethodPost)
	r.HandleFunc("/users", s.authed(s.handleListUsers)).Methods(http.MethodGet)
	r.HandleFunc("/users/self", s.authed(s.handleGetSelf)).Methods(http.MethodGet)
	r.HandleFunc("/users/self", s.authed(s.handleUpdateSelf)).Methods(http.MethodPatch)
	r.HandleFunc("/users/{username}", s.authed(s.handleGetUser)).Methods(http.MethodGet)
	r.HandleFunc("/users/{username}", s.authed(s.handleDeleteUser)).Methods(http.MethodDelete)
	r.HandleFunc("/magic_valid", s.authed(s.handleMagicValid)).Methods(http.MethodGet)
	r.HandleFunc("/university", s.handleListUniversities).Methods(http.MethodGet)
	r.HandleFunc("/university", s.authed(s.handleCreateUniversity)).Methods(http.MethodPost)
	r.HandleFunc("/usage", s.authed(s.handleUsage)).Methods(http.MethodGet)

	// Canvas
	r.HandleFunc("/canvas/terms", s.withCanvas(s.handleTerms)).Methods(http.MethodGet)
	r.HandleFunc("/canvas/units", s.withCanvas(s.handleUnits)).Methods(http.MethodGet)
	r.HandleFunc("/canvas/units/{id:[0-9]+}/assignment_groups", s.withCanvas(s.handleUnitAssignmentGroups)).Methods(http.MethodGet)
	r.HandleFunc("/canvas/units/{id:[0-9]+}/assignments", s.withCanvas(s.handleUnitAssignments)).Methods(http.MethodGet)
	r.HandleFunc("/canvas/assignment_groups", s.withCanvas(s.handleAllAssignmentGroups)).Methods(http.MethodGet)
	r.HandleFunc("/canvas/assignments", s.withCanvas(s.handleAllAssignments)).Methods(http.MethodGet)
	r.HandleFunc("/canvas/sync", s.withCanvas(s.handleSync)).Methods(http.MethodPost)
	r.HandleFunc("/canvas/mirror/units", s.authed(s.handleMirroredUnits)).Methods(http.MethodGet)
	r.HandleFunc("/canvas/mirror/terms", s.authed(s.handleMirroredTerms)).Methods(http.MethodGet)
	r.HandleFunc("/canvas/mirror/terms/{name}", s.authed(s.handleMirroredTerm)).Methods(http.MethodGet)
	r.HandleFunc("/canvas/mirror/assignments", s.authed(s.handleMirroredAssignments)).Methods(http.MethodGet)

	// Reminders
	r.HandleFunc("/reminders", s.authed(s.handleListReminders)).Methods(http.MethodGet)
	r.HandleFunc("/reminder", s.authed(s.handleCreateReminder)).Methods(http.MethodPost)
	r.HandleFunc("/reminder/{id:[0-9]+}", s.authed(s.handleGetReminder)).Methods(http.MethodGet)
	r.HandleFunc("/reminder/{id:[0-9]+}", s.authed(s.handleUpdateReminder)).Methods(http.MethodPatch)
	r.HandleFunc("/reminder/{id:[0-9]+}", s.authed(s.handleDeleteReminder)).Methods(http.MethodDelete)

	// Conversations
	r.HandleFunc("/conversation", s.withCanvas(s.handleStartConversation)).Methods(http.MethodPost)
	r.HandleFunc("/conversation/{id:[0-9]+}", s.withCanvas(s.handleContinueConversation)).Methods(http.MethodPost)
	r.HandleFunc("/conversation/{id:[0-9]+}", s.authed(s.handleGetConversation)).Methods(http.MethodGet)
	r.HandleFunc("/conversation/{id:[0-9]+}", s.authed(s.handleDeleteConversation)).Methods(http.MethodDelete)
	r.HandleFunc("/conversation/{id:[0-9]+}/transcript", s.authed(s.handleTranscript)).Methods(http.MethodGet)
	r.HandleFunc("/conversations", s.authed(s.handleListConversations)).Methods(http.MethodGet)
	r.HandleFunc("/conversations/{username}", s.authed(s.handleListConversations)).Methods(http.MethodGet)
	r.HandleFunc("/conversation_stream", s.withCanvas(s.handleStartStream)).Methods(http.MethodPost)
	r.HandleFunc("/conversation_stream/{id:[0-9]+}", s.withCanvas(s.handleContinueStream)).Methods(http.MethodPost)
	r.HandleFunc("/message/{id:[0-9]+}", s.withCanvas(s.handleEditMessage)).Methods(http.MethodPatch)
	r.HandleFunc("/message/{id:[0-9]+}", s.authed(s.handleDeleteMessage)).Methods(http.MethodDelete)

	// CORS wraps the router so preflight requests never reach route
	// method matching.
	return s.withLogging(s.withCORS(r))
}

// Start listens until the server is shut down.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		// Streaming responses reset their own write deadline.
		WriteTimeout: 120 * time.Second,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port, "version", buildinfo.Version)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]any{"status": "healthy", "version": buildinfo.Version, "uptime": buildinfo.Uptime().String()}
	if s.deps.Health != nil {
		services := s.deps.Health.Status()
		for _, svc := range services {
			if !svc.Ready {
				body["status"] = "degraded"
			}
		}
		body["services"] = services
	}
	if s.deps.DB != nil {
		if err := s.deps.DB.PingContext(r.Context()); err != nil {
			s.logger.Warn("health check database ping failed", "error", err)
			status = http.StatusServiceUnavailable
			body["status"] = "unhealthy"
		}
	}
	s.writeJSON(w, status, body)
}
