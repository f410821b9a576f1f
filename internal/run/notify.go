package run

import (
	"encoding/json"
	"strings"
	"time"
)

// NotificationPayload is the shape carried as the payload of a
// codex.notification envelope: an embedded item kind plus whichever of
// delta/item applies to it. The itemKind vocabulary is the agent's own
// (opaque) protocol, passed through by the supervisor's executor.
type NotificationPayload struct {
	ItemKind string         `json:"itemKind"`
	Delta    string         `json:"delta,omitempty"`
	Item     *CompletedItem `json:"item,omitempty"`
}

// CompletedItem is the payload shape of an item/completed notification.
type CompletedItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

const (
	itemKindOutputDelta  = "item/commandExecution/outputDelta"
	itemKindMessageDelta = "item/agentMessage/delta"
	itemKindCompleted    = "item/completed"
)

// processNotification folds one raw agent notification into the rollup
// transcript. Output deltas are line-split and scanned for control markers
// and thinking-summary headings; message deltas are left for live streaming
// only; a completed agentMessage item becomes one rollup record.
func (m *Manager) processNotification(runID string, payload json.RawMessage) {
	var p NotificationPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return
	}

	switch p.ItemKind {
	case itemKindOutputDelta:
		m.processOutputDelta(runID, p.Delta)
	case itemKindCompleted:
		if p.Item != nil && p.Item.Type == "agentMessage" {
			m.AppendRollup(runID, RollupRecord{
				Type:      RollupAgentMessage,
				CreatedAt: time.Now().UTC(),
				Text:      repairMojibake(p.Item.Text),
			})
		}
	case itemKindMessageDelta:
		// consumed for live streaming only; never rolled up.
	}
}

func (m *Manager) processOutputDelta(runID string, delta string) {
	st, ok := m.lookup(runID)
	if !ok {
		return
	}

	trimmed := strings.ToLower(strings.TrimSpace(delta))
	if trimmed == "thinking" || trimmed == "final" {
		st.mu.Lock()
		st.rollup.inThinking = trimmed == "thinking"
		st.mu.Unlock()
		m.AppendRollup(runID, RollupRecord{
			Type:            RollupOutputLine,
			CreatedAt:       time.Now().UTC(),
			Text:            trimmed,
			IsControl:       true,
			EndsWithNewline: boolPtr(true),
		})
		return
	}

	st.mu.Lock()
	lines := st.rollup.FeedOutputLine(RollupSourceStdout, delta)
	mineHeadings := st.rollup.inThinking || strings.Contains(trimmed, "thinking")
	var summaries []RollupRecord
	if mineHeadings {
		for _, line := range lines {
			if heading, ok := st.rollup.MineThinkingSummary(line.Text); ok {
				summaries = append(summaries, RollupRecord{
					Type:            RollupOutputLine,
					CreatedAt:       line.CreatedAt,
					Source:          "thinkingSummary",
					Text:            heading,
					EndsWithNewline: boolPtr(true),
				})
			}
		}
	}
	st.mu.Unlock()

	for _, line := range lines {
		m.AppendRollup(runID, line)
	}
	for _, s := range summaries {
		m.AppendRollup(runID, s)
	}
}

func boolPtr(b bool) *bool { return &b }
