package httpapi

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/codex-d/runner/internal/apierr"
	"github.com/codex-d/runner/internal/run"
)

// replayFormat selects which store-backed history an SSE attach replays.
type replayFormat string

const (
	formatAuto   replayFormat = "auto"
	formatRaw    replayFormat = "raw"
	formatRollup replayFormat = "rollup"
)

func (s *Server) handleEvents(c *gin.Context) {
	runID := c.Param("id")
	rec, err := s.mgr.Get(runID)
	if err != nil {
		apierr.Respond(c, err)
		return
	}

	replay, ok := parseBoolQuery(c, "replay", true)
	if !ok {
		apierr.Respond(c, apierr.Invalid("replay must be a boolean"))
		return
	}
	follow, ok := parseBoolQuery(c, "follow", true)
	if !ok {
		apierr.Respond(c, apierr.Invalid("follow must be a boolean"))
		return
	}
	tail := 0
	if raw := c.Query("tail"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			apierr.Respond(c, apierr.Invalid("tail must be a positive integer"))
			return
		}
		tail = n
	}
	format := replayFormat(c.DefaultQuery("replayFormat", string(formatAuto)))
	switch format {
	case formatAuto, formatRaw, formatRollup:
	default:
		apierr.Respond(c, apierr.Invalid("replayFormat must be one of auto, raw, rollup"))
		return
	}
	if format == formatAuto {
		if s.mgr.PersistsRawEvents() {
			format = formatRaw
		} else {
			format = formatRollup
		}
	}

	// Subscribe before reading any historical content, so every event
	// published from this instant on is queued on the channel even if the
	// store-backed backfill below also happens to observe it; duplicates at
	// the boundary are then resolved by sequence, never by re-reading.
	sub, _, err := s.mgr.Subscribe(runID, 0)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	defer sub.Close()

	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(200)

	writeSSE(w, string(run.EventRunMeta), gin.H{"runId": rec.ID, "cwd": rec.Cwd, "status": rec.Status})

	var lastSeq uint64
	var sawTerminal bool
	if replay {
		lastSeq, sawTerminal = s.replayHistory(w, runID, format, tail)
	}

	rec, err = s.mgr.Get(runID)
	if err != nil {
		return
	}
	// A historical run.paused is never the terminator (rule 7): Status here
	// only reports IsTerminal for succeeded/failed/interrupted, so a paused
	// run that was later resumed and is running again correctly falls
	// through to live streaming instead of being mistaken for ended. Once a
	// run is truly terminal there is nothing further it could ever emit, so
	// the stream ends here regardless of follow.
	if rec.Status.IsTerminal() {
		if !sawTerminal {
			writeSSE(w, string(terminalKindFor(rec.Status)), gin.H{"runId": rec.ID})
		}
		return
	}
	if !follow {
		return
	}

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if ev.Seq <= lastSeq || !shouldForwardLive(ev.Kind, format) {
				continue
			}
			lastSeq = ev.Seq
			writeSSE(w, string(ev.Kind), json.RawMessage(ev.Payload))
			if ev.Kind.IsTerminalMarker() {
				return
			}
		}
	}
}

// replayHistory backfills history for runID from the store in the given
// format, writing each record as an SSE frame, and returns the highest
// sequence number it emitted so the live phase can dedup against it, along
// with whether it emitted a terminal marker.
func (s *Server) replayHistory(w gin.ResponseWriter, runID string, format replayFormat, tail int) (uint64, bool) {
	var lastSeq uint64
	var sawTerminal bool
	switch format {
	case formatRaw:
		if !s.mgr.PersistsRawEvents() {
			return 0, false
		}
		events, err := s.mgr.ReadEventsTail(runID, tail)
		if err != nil {
			return 0, false
		}
		for _, ev := range events {
			writeSSE(w, string(ev.Kind), json.RawMessage(ev.Payload))
			if ev.Seq > lastSeq {
				lastSeq = ev.Seq
			}
			if ev.Kind.IsTerminalMarker() {
				sawTerminal = true
			}
		}
	case formatRollup:
		records, err := s.mgr.ReadRollupTail(runID, tail)
		if err != nil {
			return 0, false
		}
		for _, r := range records {
			kind := run.EventRollupOutputLine
			if r.Type == run.RollupAgentMessage {
				kind = run.EventRollupMessage
			}
			writeSSE(w, string(kind), r)
			if r.Seq > lastSeq {
				lastSeq = r.Seq
			}
		}
	}
	return lastSeq, sawTerminal
}

// shouldForwardLive decides whether a live event matches the format the
// subscriber asked to replay. Lifecycle and terminal markers always pass
// through regardless of format, since a client must never hang waiting on
// a run.completed it happened to filter out.
func shouldForwardLive(kind run.EventKind, format replayFormat) bool {
	switch kind {
	case run.EventNotification:
		return format == formatRaw
	case run.EventRollupOutputLine, run.EventRollupMessage:
		return format == formatRollup
	case run.EventRunMeta:
		return false
	default:
		return true
	}
}

func terminalKindFor(status run.Status) run.EventKind {
	switch status {
	case run.StatusSucceeded:
		return run.EventRunCompleted
	case run.StatusFailed:
		return run.EventRunFailed
	case run.StatusInterrupted:
		return run.EventRunInterrupted
	default:
		return run.EventRunFailed
	}
}

func writeSSE(w gin.ResponseWriter, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	w.Flush()
}

func parseBoolQuery(c *gin.Context, key string, def bool) (bool, bool) {
	raw := c.Query(key)
	if raw == "" {
		return def, true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
