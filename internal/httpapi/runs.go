package httpapi

import (
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/codex-d/runner/internal/apierr"
	"github.com/codex-d/runner/internal/run"
)

// CreateRunRequest is the body of POST /v1/runs.
type CreateRunRequest struct {
	Cwd      string               `json:"cwd"`
	Prompt   string               `json:"prompt"`
	Kind     run.Kind             `json:"kind"`
	Review   *run.ReviewDescriptor `json:"review,omitempty"`
	Model    string               `json:"model,omitempty"`
	Effort   run.Effort           `json:"effort,omitempty"`
	Sandbox  string               `json:"sandbox,omitempty"`
	Approval string               `json:"approvalPolicy,omitempty"`
}

// CreateRunResponse is the body of POST /v1/runs.
type CreateRunResponse struct {
	RunID  string    `json:"runId"`
	Status run.Status `json:"status"`
}

func (s *Server) handleCreateRun(c *gin.Context) {
	var req CreateRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.Respond(c, apierr.Invalid("invalid request body: "+err.Error()))
		return
	}
	if req.Kind == "" {
		req.Kind = run.KindExec
	}
	if info, err := os.Stat(req.Cwd); err != nil || !info.IsDir() {
		apierr.Respond(c, apierr.Invalid("cwd does not exist: "+req.Cwd))
		return
	}
	if req.Kind == run.KindExec && strings.TrimSpace(req.Prompt) == "" {
		apierr.Respond(c, apierr.Invalid("prompt is required"))
		return
	}

	rec, err := s.mgr.Create(c.Request.Context(), run.CreateOptions{
		Cwd:      req.Cwd,
		Prompt:   req.Prompt,
		Kind:     req.Kind,
		Review:   req.Review,
		Model:    req.Model,
		Effort:   req.Effort,
		Sandbox:  req.Sandbox,
		Approval: req.Approval,
	})
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, CreateRunResponse{RunID: rec.ID, Status: rec.Status})
}

func (s *Server) handleListRuns(c *gin.Context) {
	all, _ := strconv.ParseBool(c.DefaultQuery("all", "false"))
	cwd := c.Query("cwd")

	records := s.mgr.List(all)
	if all || cwd == "" {
		c.JSON(http.StatusOK, gin.H{"runs": records})
		return
	}

	target := normalizeCwd(cwd)
	filtered := make([]*run.Record, 0, len(records))
	for _, rec := range records {
		if normalizeCwd(rec.Cwd) == target {
			filtered = append(filtered, rec)
		}
	}
	c.JSON(http.StatusOK, gin.H{"runs": filtered})
}

// normalizeCwd cleans a path for exact-equality comparison, case-folding
// only on platforms whose filesystem is itself case-insensitive.
func normalizeCwd(p string) string {
	clean := filepath.Clean(p)
	if runtime.GOOS == "windows" || runtime.GOOS == "darwin" {
		return strings.ToLower(clean)
	}
	return clean
}

func (s *Server) handleGetRun(c *gin.Context) {
	rec, err := s.mgr.Get(c.Param("id"))
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// handleInterruptRun and handleStopRun send the same cooperative
// cancellation signal and differ only in the status they drive the run
// to: interrupt targets StatusInterrupted, stop targets StatusPaused.
func (s *Server) handleInterruptRun(c *gin.Context) {
	if err := s.mgr.Stop(c.Request.Context(), c.Param("id"), run.StatusInterrupted); err != nil {
		apierr.Respond(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (s *Server) handleStopRun(c *gin.Context) {
	if err := s.mgr.Stop(c.Request.Context(), c.Param("id"), run.StatusPaused); err != nil {
		apierr.Respond(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// ResumeRequest is the body of POST /v1/runs/{id}/resume.
type ResumeRequest struct {
	Prompt string     `json:"prompt,omitempty"`
	Effort run.Effort `json:"effort,omitempty"`
}

func (s *Server) handleResumeRun(c *gin.Context) {
	var req ResumeRequest
	_ = c.ShouldBindJSON(&req)

	rec, err := s.mgr.Resume(c.Request.Context(), c.Param("id"), req.Prompt, req.Effort)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, CreateRunResponse{RunID: rec.ID, Status: rec.Status})
}

// SteerRequest is the body of POST /v1/runs/{id}/steer.
type SteerRequest struct {
	Prompt string `json:"prompt"`
}

func (s *Server) handleSteerRun(c *gin.Context) {
	var req SteerRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Prompt) == "" {
		apierr.Respond(c, apierr.Invalid("prompt is required"))
		return
	}
	if err := s.mgr.Steer(c.Request.Context(), c.Param("id"), req.Prompt); err != nil {
		apierr.Respond(c, err)
		return
	}
	c.Status(http.StatusOK)
}
