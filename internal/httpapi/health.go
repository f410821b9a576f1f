package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codex-d/runner/internal/supervisor"
)

// HealthResponse is the GET /v1/health body.
type HealthResponse struct {
	Status       string `json:"status"`
	CodexRuntime string `json:"codexRuntime"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:       "ok",
		CodexRuntime: s.codexRuntimeStatus(),
	})
}

// codexRuntimeStatus maps the agent supervisor's internal state onto the
// four values /v1/health reports.
func (s *Server) codexRuntimeStatus() string {
	if s.agent == nil {
		return "disabled"
	}
	switch s.agent.State() {
	case supervisor.StateRunning:
		return "ok"
	case supervisor.StateFaulted:
		return "faulted"
	default:
		return "starting"
	}
}

// InfoResponse is the GET /v1/info body.
type InfoResponse struct {
	BaseURL  string `json:"baseUrl"`
	Port     int    `json:"port"`
	RunnerID string `json:"runnerId"`
	Version  string `json:"version"`
}

func (s *Server) handleInfo(c *gin.Context) {
	c.JSON(http.StatusOK, InfoResponse{
		BaseURL:  s.info.BaseURL,
		Port:     s.info.Port,
		RunnerID: s.info.RunnerID,
		Version:  s.info.Version,
	})
}
