package run

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRollupState_FeedOutputLine_SplitsCompleteLines(t *testing.T) {
	r := newRollupState()

	recs := r.FeedOutputLine(RollupSourceStdout, "line one\nline two\npartial")
	require.Len(t, recs, 2)
	assert.Equal(t, "line one", recs[0].Text)
	assert.Equal(t, "line two", recs[1].Text)
	assert.True(t, *recs[0].EndsWithNewline)

	final := r.FlushPartial(RollupSourceStdout)
	require.NotNil(t, final)
	assert.Equal(t, "partial", final.Text)
	assert.False(t, *final.EndsWithNewline)
}

func TestRollupState_FeedOutputLine_CRLFSafeAcrossDeltaBoundary(t *testing.T) {
	r := newRollupState()

	recs := r.FeedOutputLine(RollupSourceStdout, "line one\r")
	assert.Empty(t, recs, "a lone trailing CR should be held back, not emitted as a short line")

	recs = r.FeedOutputLine(RollupSourceStdout, "\nline two\r\n")
	require.Len(t, recs, 2)
	assert.Equal(t, "line one", recs[0].Text)
	assert.Equal(t, "line two", recs[1].Text)
}

func TestRollupState_FlushPartial_NoPendingData(t *testing.T) {
	r := newRollupState()
	assert.Nil(t, r.FlushPartial(RollupSourceStdout))
}

func TestRollupState_MineThinkingSummary_DedupesConsecutiveHeadings(t *testing.T) {
	r := newRollupState()

	heading, ok := r.MineThinkingSummary("**Investigating the failure**")
	require.True(t, ok)
	assert.Equal(t, "Investigating the failure", heading)

	_, ok = r.MineThinkingSummary("**Investigating the failure**")
	assert.False(t, ok, "an identical consecutive heading should be suppressed")

	heading, ok = r.MineThinkingSummary("**Writing the fix**")
	require.True(t, ok)
	assert.Equal(t, "Writing the fix", heading)
}

func TestRollupState_MineThinkingSummary_IgnoresNonHeadingLines(t *testing.T) {
	r := newRollupState()
	_, ok := r.MineThinkingSummary("just a plain line of output")
	assert.False(t, ok)
}

func TestRepairMojibake_FixesKnownSequences(t *testing.T) {
	cases := map[string]string{
		"Itâ€™s done":            "It’s done",
		"â€œquotedâ€":   "“quoted”",
		"aâ€”b":                    "a—b",
	}
	for in, want := range cases {
		assert.Equal(t, want, repairMojibake(in))
	}
}

func TestRepairMojibake_NoOpOnCleanString(t *testing.T) {
	clean := "already clean UTF-8 text with “smart quotes” and an em—dash"
	assert.Equal(t, clean, repairMojibake(clean))
}
