package run

import (
	"strings"
	"time"
)

// RollupSource identifies which stream a line of output came from.
type RollupSource string

const (
	RollupSourceStdout RollupSource = "stdout"
	RollupSourceStderr RollupSource = "stderr"
)

// rollupState accumulates partial lines across delta boundaries and mines
// agent-message thinking summaries out of markdown-style heading lines. One
// rollupState exists per run; it is not safe for concurrent use, so callers
// serialize access to it (the run manager does, via its per-run mutex).
type rollupState struct {
	pending      map[RollupSource]*strings.Builder
	lastHeading  string
	sawAnyOutput bool
	inThinking   bool // set between a "thinking" and "final" control marker
}

func newRollupState() *rollupState {
	return &rollupState{pending: make(map[RollupSource]*strings.Builder)}
}

// FeedOutputLine accepts a raw delta chunk from source and returns the
// complete lines it finishes, in order. Any trailing partial line is
// buffered until the next delta, or until FlushPartial is called at run
// termination. Line endings are CRLF-safe: "\n", "\r\n", and a bare "\r"
// all terminate a line, except a "\r" that is the very last byte seen so
// far, which is held back in case the matching "\n" arrives in the next
// chunk.
func (r *rollupState) FeedOutputLine(source RollupSource, chunk string) []RollupRecord {
	if chunk == "" {
		return nil
	}
	r.sawAnyOutput = true
	chunk = repairMojibake(chunk)

	buf, ok := r.pending[source]
	if !ok {
		buf = &strings.Builder{}
		r.pending[source] = buf
	}
	buf.WriteString(chunk)
	combined := buf.String()

	var out []RollupRecord
	for {
		idx := strings.IndexAny(combined, "\r\n")
		if idx < 0 {
			break
		}

		if combined[idx] == '\r' {
			if idx == len(combined)-1 {
				// Lone trailing "\r" at the end of everything buffered so
				// far: might be a split CRLF whose "\n" arrives in the next
				// chunk, so hold it back instead of terminating here.
				break
			}
			line := combined[:idx]
			next := idx + 1
			if combined[next] == '\n' {
				next++ // "\r\n" is one terminator, not two lines.
			}
			endsWithNewline := true
			out = append(out, RollupRecord{
				Type:            RollupOutputLine,
				CreatedAt:       time.Now().UTC(),
				Source:          string(source),
				Text:            line,
				EndsWithNewline: &endsWithNewline,
			})
			combined = combined[next:]
			continue
		}

		// A bare "\n" here can't have an unconsumed "\r" right before it:
		// IndexAny would have found that "\r" first and the branch above
		// would have already folded it into the preceding line.
		line := combined[:idx]
		endsWithNewline := true
		out = append(out, RollupRecord{
			Type:            RollupOutputLine,
			CreatedAt:       time.Now().UTC(),
			Source:          string(source),
			Text:            line,
			EndsWithNewline: &endsWithNewline,
		})
		combined = combined[idx+1:]
	}
	buf.Reset()
	buf.WriteString(combined)
	return out
}

// FlushPartial emits whatever partial line remains buffered for source, as
// a record with EndsWithNewline=false, and clears the buffer. Called when
// the run terminates so a final unterminated line of output is not lost.
func (r *rollupState) FlushPartial(source RollupSource) *RollupRecord {
	buf, ok := r.pending[source]
	if !ok || buf.Len() == 0 {
		return nil
	}
	text := buf.String()
	buf.Reset()
	endsWithNewline := false
	return &RollupRecord{
		Type:            RollupOutputLine,
		CreatedAt:       time.Now().UTC(),
		Source:          string(source),
		Text:            text,
		EndsWithNewline: &endsWithNewline,
	}
}

// FlushAllPartial drains every buffered source, in a stable order.
func (r *rollupState) FlushAllPartial() []RollupRecord {
	var out []RollupRecord
	for _, src := range []RollupSource{RollupSourceStdout, RollupSourceStderr} {
		if rec := r.FlushPartial(src); rec != nil {
			out = append(out, *rec)
		}
	}
	return out
}

// MineThinkingSummary extracts the heading text from a "**Heading**" style
// markdown line emitted during a thinking phase, deduping consecutive
// identical headings so a model that repeats itself mid-thought doesn't
// produce a wall of identical summary lines. Returns ("", false) when line
// is not a heading, or repeats the most recent heading already emitted.
func (r *rollupState) MineThinkingSummary(line string) (string, bool) {
	heading, ok := extractHeading(line)
	if !ok {
		return "", false
	}
	if heading == r.lastHeading {
		return "", false
	}
	r.lastHeading = heading
	return heading, true
}

// extractHeading matches a symmetric "**Heading**" line, requiring more
// than 4 characters of inner text so a stray "**x**" isn't mined as a
// summary.
func extractHeading(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "**") || !strings.HasSuffix(trimmed, "**") {
		return "", false
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(trimmed, "**"), "**")
	inner = strings.TrimSpace(inner)
	if len(inner) <= 4 {
		return "", false
	}
	return inner, true
}

// mojibakeFixups repairs the handful of CP1252 smart-punctuation mis-decodes
// (the "â€" forms) most commonly seen when an agent subprocess's terminal
// output is read as UTF-8 without a locale set. The CP437 and CP850 forms of
// the same characters are not in the table and pass through unrepaired. Each entry is idempotent on text
// that does not contain the mis-decoded byte sequence, so running this over
// already-clean UTF-8 is a no-op.
// Order matters: the bare right-double-quote fixup is a byte-prefix of
// every other entry here, so it is tried last or it would shadow the
// more specific replacements.
var mojibakeFixups = []struct {
	bad  string
	good string
}{
	{"â€™", "’"}, // right single quote
	{"â€œ", "“"}, // left double quote
	{"â€“", "–"}, // en dash
	{"â€”", "—"}, // em dash
	{"â€¦", "…"}, // ellipsis
	{"â€", "”"}, // right double quote (fallback, must stay last)
}

// repairMojibake rewrites known double-decoded sequences in place. It never
// touches text it doesn't recognize, so clean strings pass through
// unchanged.
func repairMojibake(s string) string {
	if !strings.Contains(s, "â€") {
		return s
	}
	for _, f := range mojibakeFixups {
		if strings.Contains(s, f.bad) {
			s = strings.ReplaceAll(s, f.bad, f.good)
		}
	}
	return s
}
