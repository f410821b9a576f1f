// Package httpapi implements the runner's /v1 REST + SSE surface: gin
// handlers over internal/run's Manager, with bearer-token auth and a
// streaming events endpoint implementing the replay/follow contract.
package httpapi

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/codex-d/runner/internal/common/httpmw"
	"github.com/codex-d/runner/internal/common/logger"
	"github.com/codex-d/runner/internal/identity"
	"github.com/codex-d/runner/internal/run"
	"github.com/codex-d/runner/internal/supervisor"
)

// Info is the static server identity surfaced by GET /v1/info.
type Info struct {
	BaseURL  string
	RunnerID string
	Port     int
	Version  string
}

// Server is the runner's HTTP API. One Server per running instance,
// foreground or daemon; the two personalities differ only in how they are
// constructed and listened on, not in routing.
type Server struct {
	mgr         *run.Manager
	agent       *supervisor.Supervisor // nil when no agent command is configured
	identity    *identity.Identity
	requireAuth bool
	info        Info
	log         *logger.Logger
	router      *gin.Engine

	onShutdown   func()
	shutdownOnce sync.Once
}

// NewServer builds the gin router for a runner instance. agent may be nil
// when the server was started without an agent command configured
// (codexRuntime reports "disabled" in that case).
func NewServer(mgr *run.Manager, agent *supervisor.Supervisor, id *identity.Identity, requireAuth bool, info Info, onShutdown func(), log *logger.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		mgr:         mgr,
		agent:       agent,
		identity:    id,
		requireAuth: requireAuth,
		info:        info,
		log:         log.WithFields(zap.String("component", "http-api")),
		router:      gin.New(),
		onShutdown:  onShutdown,
	}

	s.router.Use(gin.Recovery())
	s.router.Use(httpmw.RequestLogger(s.log, "codex-d"))
	s.router.Use(httpmw.OtelTracing("codex-d-http"))

	s.setupRoutes()
	return s
}

// Router returns the HTTP handler to listen with.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	v1 := s.router.Group("/v1")
	v1.Use(s.authMiddleware())
	{
		v1.GET("/health", s.handleHealth)
		v1.GET("/info", s.handleInfo)

		v1.POST("/runs", s.handleCreateRun)
		v1.GET("/runs", s.handleListRuns)
		v1.GET("/runs/:id", s.handleGetRun)
		v1.POST("/runs/:id/interrupt", s.handleInterruptRun)
		v1.POST("/runs/:id/stop", s.handleStopRun)
		v1.POST("/runs/:id/resume", s.handleResumeRun)
		v1.POST("/runs/:id/steer", s.handleSteerRun)
		v1.GET("/runs/:id/messages", s.handleMessages)
		v1.GET("/runs/:id/thinking-summaries", s.handleThinkingSummaries)
		v1.GET("/runs/:id/events", s.handleEvents)

		v1.POST("/shutdown", s.handleShutdown)
	}
}
