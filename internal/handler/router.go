package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/agent-salon/backend/internal/handler/agent"
	"github.com/zhouzirui/agent-salon/backend/internal/handler/session"
	"github.com/zhouzirui/agent-salon/backend/internal/handler/stream"
	middlewarePkg "github.com/zhouzirui/agent-salon/backend/internal/middleware"
	agentModel "github.com/zhouzirui/agent-salon/backend/internal/model/agent"
	"github.com/zhouzirui/agent-salon/backend/internal/service/artifact"
	"github.com/zhouzirui/agent-salon/backend/internal/service/events"
	sessionService "github.com/zhouzirui/agent-salon/backend/internal/service/session"
	"github.com/zhouzirui/agent-salon/backend/internal/service/transcript"
	"github.com/zhouzirui/agent-salon/backend/pkg/utils"
)

// Deps groups the services the HTTP layer needs.
type Deps struct {
	Agents      agentModel.Store
	Sessions    *sessionService.Service
	Artifacts   *artifact.Synthesizer
	Exporter    *transcript.Exporter
	Broadcaster *events.Broadcaster
	Logger      *slog.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	agentHandler := agent.New(deps.Agents)
	sessionHandler := session.New(deps.Sessions, deps.Artifacts, deps.Exporter, deps.Logger)
	streamHandler := stream.New(deps.Sessions, deps.Broadcaster, deps.Logger)

	r.Route("/api", func(api chi.Router) {
		agentHandler.RegisterRoutes(api)
		sessionHandler.RegisterRoutes(api)
		streamHandler.RegisterRoutes(api)
	})

	return r
}
