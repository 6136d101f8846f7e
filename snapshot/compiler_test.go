package snapshot

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompiler_FullBrief(t *testing.T) {
	snap := fullSnapshot()
	brief := NewCompiler(CompilerConfig{}).Compile(snap, "build the storage layer", []string{})

	assert.True(t, strings.HasPrefix(brief, "## Resuming workflow wf-1 (session 2)\n"))
	assert.Contains(t, brief, "Goal: build the storage layer")
	assert.Contains(t, brief, "trigger: explicit-pause, reason: lunch")
	assert.Contains(t, brief, "### Progress: 2 of 3 tasks completed")
	assert.Contains(t, brief, "Completed: scaffold, model")
	assert.Contains(t, brief, "Pending: store")
	assert.Contains(t, brief, "Continue with: t3")
	assert.Contains(t, brief, "- [library] chose sqlite (why: zero ops)")
	assert.Contains(t, brief, "- UNRESOLVED [test_failure] TestStore flaky (context: store_test.go)")
	assert.Contains(t, brief, "- fixed [build_error] missing import")
	assert.Contains(t, brief, "12 passing, 1 failing (go test)")
	assert.Contains(t, brief, "Failing: TestStore")
	assert.Contains(t, brief, "Branch feature/store at bbb222, dirty tree (1 modified, 0 staged)")
	assert.Contains(t, brief, "Uncommitted changes: 1 file changed, 40 insertions(+)")
	assert.Contains(t, brief, "- alice on t2:")
	assert.Contains(t, brief, "  - rename field")
	assert.NotContains(t, brief, "Warning:")
}

func TestCompiler_DecisionCapNewestFirst(t *testing.T) {
	snap := fullSnapshot()
	snap.Decisions = nil
	base := time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)
	for i := 1; i <= 8; i++ {
		snap.Decisions = append(snap.Decisions, Decision{
			ID:          fmt.Sprintf("d%d", i),
			Category:    CategoryApproach,
			Description: fmt.Sprintf("decision %d", i),
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		})
	}

	brief := NewCompiler(CompilerConfig{MaxDecisions: 3}).Compile(snap, "", nil)

	assert.Contains(t, brief, "decision 8")
	assert.Contains(t, brief, "decision 7")
	assert.Contains(t, brief, "decision 6")
	assert.NotContains(t, brief, "decision 5\n")
	assert.Contains(t, brief, "... and 5 more decisions; fetch them via GET /workflows/wf-1/snapshots/snap-1/decisions")

	// Newest first within the shown window.
	assert.Less(t, strings.Index(brief, "decision 8"), strings.Index(brief, "decision 7"))
	assert.Less(t, strings.Index(brief, "decision 7"), strings.Index(brief, "decision 6"))
}

func TestCompiler_UnresolvedErrorsNeverTruncated(t *testing.T) {
	snap := fullSnapshot()
	snap.Errors = nil
	for i := 1; i <= 4; i++ {
		snap.Errors = append(snap.Errors, ErrorRecord{
			ID:         fmt.Sprintf("u%d", i),
			Type:       "test_failure",
			Message:    fmt.Sprintf("still open %d", i),
			Resolution: ResolutionUnresolved,
		})
	}
	for i := 1; i <= 4; i++ {
		snap.Errors = append(snap.Errors, ErrorRecord{
			ID:         fmt.Sprintf("r%d", i),
			Type:       "build_error",
			Message:    fmt.Sprintf("resolved %d", i),
			Resolution: ResolutionFixed,
		})
	}

	brief := NewCompiler(CompilerConfig{MaxResolvedErrors: 2}).Compile(snap, "", nil)

	for i := 1; i <= 4; i++ {
		assert.Contains(t, brief, fmt.Sprintf("UNRESOLVED [test_failure] still open %d", i))
	}
	assert.Contains(t, brief, "resolved 3")
	assert.Contains(t, brief, "resolved 4")
	assert.NotContains(t, brief, "resolved 1")
	assert.Contains(t, brief, "... and 2 more resolved errors; fetch them via GET /workflows/wf-1/snapshots/snap-1/errors")

	// All unresolved entries are listed before any resolved entry.
	assert.Less(t, strings.Index(brief, "still open 4"), strings.Index(brief, "resolved 3"))
}

func TestCompiler_DegradedExtractionNote(t *testing.T) {
	snap := fullSnapshot()
	snap.ExtractionDegraded = true
	snap.Decisions = nil

	brief := NewCompiler(CompilerConfig{}).Compile(snap, "", nil)

	assert.Contains(t, brief, "Decision extraction was degraded for this snapshot")
}

func TestCompiler_ForcedPauseWarning(t *testing.T) {
	snap := fullSnapshot()
	snap.Forced = true
	snap.Trigger = TriggerTimeout
	snap.CurrentTaskID = "t3"

	brief := NewCompiler(CompilerConfig{}).Compile(snap, "", nil)

	assert.Contains(t, brief, "the pause was forced by timeout while a task was still running")
	assert.Contains(t, brief, "Task in flight at pause: t3")
}

func TestCompiler_DivergenceWarnings(t *testing.T) {
	snap := fullSnapshot()
	divergence := []string{
		"branch changed from feature/store to main",
		"HEAD moved from bbb222 to ccc333",
	}

	brief := NewCompiler(CompilerConfig{}).Compile(snap, "", divergence)

	assert.Contains(t, brief, "Warning: repository diverged since pause: branch changed from feature/store to main")
	assert.Contains(t, brief, "Warning: repository diverged since pause: HEAD moved from bbb222 to ccc333")
}

func TestCompiler_FeedbackCommentCap(t *testing.T) {
	snap := fullSnapshot()
	snap.ReviewerFeedback = []ReviewerFeedback{
		{
			Reviewer: "bob",
			Comments: []string{"c1", "c2", "c3", "c4", "c5"},
		},
		{
			Reviewer:  "carol",
			Comments:  []string{"already handled"},
			Addressed: true,
		},
	}

	brief := NewCompiler(CompilerConfig{MaxFeedbackComments: 2}).Compile(snap, "", nil)

	assert.Contains(t, brief, "- bob:")
	assert.Contains(t, brief, "  - c1")
	assert.Contains(t, brief, "  - c2")
	assert.NotContains(t, brief, "  - c3")
	assert.Contains(t, brief, "  ... and 3 more comments; fetch the full snapshot via GET /workflows/wf-1/snapshots/snap-1")
	assert.NotContains(t, brief, "carol")
}

func TestCompiler_MinimalSnapshot(t *testing.T) {
	snap := &SessionSnapshot{
		ID:            "snap-min",
		WorkflowID:    "wf-min",
		SessionNumber: 1,
		CreatedAt:     time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
		Trigger:       TriggerTaskComplete,
	}

	brief := NewCompiler(CompilerConfig{}).Compile(snap, "", nil)

	require.True(t, strings.HasPrefix(brief, "## Resuming workflow wf-min (session 2)\n"))
	assert.Contains(t, brief, "### Progress: 0 of 0 tasks completed")
	assert.NotContains(t, brief, "### Key decisions")
	assert.NotContains(t, brief, "### Errors")
	assert.NotContains(t, brief, "### Test state")
	assert.NotContains(t, brief, "### Repository")
	assert.NotContains(t, brief, "reviewer feedback")
}

func TestCompiler_DeterministicOutput(t *testing.T) {
	snap := fullSnapshot()
	compiler := NewCompiler(CompilerConfig{})

	first := compiler.Compile(snap, "goal", []string{"HEAD moved"})
	second := compiler.Compile(snap, "goal", []string{"HEAD moved"})

	assert.Equal(t, first, second)
}
