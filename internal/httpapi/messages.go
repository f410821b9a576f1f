package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/codex-d/runner/internal/apierr"
	"github.com/codex-d/runner/internal/run"
)

// MessageEntry is one completed agent message surfaced by GET
// /v1/runs/{id}/messages.
type MessageEntry struct {
	Text      string `json:"text"`
	CreatedAt string `json:"createdAt"`
}

func (s *Server) handleMessages(c *gin.Context) {
	runID := c.Param("id")
	count := queryInt(c, "count", 20)
	tailEvents := queryInt(c, "tailEvents", 0)

	records, err := s.mgr.ReadRollupTail(runID, tailEvents)
	if err != nil {
		apierr.Respond(c, err)
		return
	}

	var messages []MessageEntry
	for _, r := range records {
		if r.Type != run.RollupAgentMessage || r.IsControl {
			continue
		}
		messages = append(messages, MessageEntry{Text: r.Text, CreatedAt: r.CreatedAt.Format(timeLayout)})
	}
	if count > 0 && len(messages) > count {
		messages = messages[len(messages)-count:]
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// ThinkingSummaryEntry is one mined heading surfaced by GET
// /v1/runs/{id}/thinking-summaries.
type ThinkingSummaryEntry struct {
	Text      string `json:"text"`
	CreatedAt string `json:"createdAt,omitempty"`
}

func (s *Server) handleThinkingSummaries(c *gin.Context) {
	runID := c.Param("id")
	includeTimestamps, _ := strconv.ParseBool(c.DefaultQuery("timestamps", "false"))
	tailEvents := queryInt(c, "tailEvents", 0)

	records, err := s.mgr.ReadRollupTail(runID, tailEvents)
	if err != nil {
		apierr.Respond(c, err)
		return
	}

	var summaries []ThinkingSummaryEntry
	for _, r := range records {
		if r.Type != run.RollupOutputLine || r.Source != "thinkingSummary" {
			continue
		}
		entry := ThinkingSummaryEntry{Text: r.Text}
		if includeTimestamps {
			entry.CreatedAt = r.CreatedAt.Format(timeLayout)
		}
		summaries = append(summaries, entry)
	}
	c.JSON(http.StatusOK, gin.H{"thinkingSummaries": summaries})
}

func queryInt(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"
