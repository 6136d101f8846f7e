package snapshot

import (
	"fmt"
	"strings"
)

// CompilerConfig bounds the size of the compiled resume brief.
type CompilerConfig struct {
	// MaxDecisions caps the most recent decisions shown inline.
	MaxDecisions int `yaml:"max_decisions" json:"max_decisions"`
	// MaxResolvedErrors caps the tail of resolved errors shown inline.
	// Unresolved errors are never truncated.
	MaxResolvedErrors int `yaml:"max_resolved_errors" json:"max_resolved_errors"`
	// MaxFeedbackComments caps comments shown per reviewer-feedback entry.
	MaxFeedbackComments int `yaml:"max_feedback_comments" json:"max_feedback_comments"`
}

// DefaultCompilerConfig returns the default brief bounds.
func DefaultCompilerConfig() CompilerConfig {
	return CompilerConfig{
		MaxDecisions:        5,
		MaxResolvedErrors:   5,
		MaxFeedbackComments: 3,
	}
}

// Compiler deterministically renders a snapshot into the bounded resume
// brief that seeds the next session's first LLM call. Every truncation
// leaves an explicit overflow marker pointing at the retrieval API, so
// the brief declares its own incompleteness instead of silently dropping
// information.
type Compiler struct {
	config CompilerConfig
}

// NewCompiler creates a compiler with the given bounds. Zero values fall
// back to defaults.
func NewCompiler(config CompilerConfig) *Compiler {
	def := DefaultCompilerConfig()
	if config.MaxDecisions <= 0 {
		config.MaxDecisions = def.MaxDecisions
	}
	if config.MaxResolvedErrors <= 0 {
		config.MaxResolvedErrors = def.MaxResolvedErrors
	}
	if config.MaxFeedbackComments <= 0 {
		config.MaxFeedbackComments = def.MaxFeedbackComments
	}
	return &Compiler{config: config}
}

// Compile renders the brief. workflowSummary is the orchestrator's
// one-line description of the overall goal; divergence lists git
// divergence warnings detected at resume time (may be empty).
func (c *Compiler) Compile(snap *SessionSnapshot, workflowSummary string, divergence []string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## Resuming workflow %s (session %d)\n\n", snap.WorkflowID, snap.SessionNumber+1)
	if workflowSummary != "" {
		fmt.Fprintf(&b, "Goal: %s\n\n", workflowSummary)
	}

	fmt.Fprintf(&b, "Previous session paused at %s (trigger: %s", snap.CreatedAt.UTC().Format("2006-01-02 15:04 UTC"), snap.Trigger)
	if snap.Reason != "" {
		fmt.Fprintf(&b, ", reason: %s", snap.Reason)
	}
	b.WriteString(")\n")
	if snap.Forced {
		b.WriteString("Warning: the pause was forced by timeout while a task was still running; verify the current task's partial work before continuing.\n")
	}
	b.WriteString("\n")

	c.writeProgress(&b, snap)
	c.writeDecisions(&b, snap)
	c.writeErrors(&b, snap)
	c.writeTestState(&b, snap)
	c.writeGit(&b, snap, divergence)
	c.writeFeedback(&b, snap)

	return strings.TrimRight(b.String(), "\n") + "\n"
}

func (c *Compiler) writeProgress(b *strings.Builder, snap *SessionSnapshot) {
	fmt.Fprintf(b, "### Progress: %d of %d tasks completed\n", snap.TasksCompleted, snap.TasksCompleted+snap.TasksRemaining)

	if completed := snap.CompletedTasks(); len(completed) > 0 {
		fmt.Fprintf(b, "Completed: %s\n", strings.Join(completed, ", "))
	}
	if pending := snap.PendingTasks(); len(pending) > 0 {
		fmt.Fprintf(b, "Pending: %s\n", strings.Join(pending, ", "))
	}
	if snap.CurrentTaskID != "" {
		fmt.Fprintf(b, "Task in flight at pause: %s\n", snap.CurrentTaskID)
	}
	if snap.NextTaskID != "" {
		fmt.Fprintf(b, "Continue with: %s\n", snap.NextTaskID)
	}
	b.WriteString("\n")
}

func (c *Compiler) writeDecisions(b *strings.Builder, snap *SessionSnapshot) {
	if snap.ExtractionDegraded {
		b.WriteString("### Key decisions\nDecision extraction was degraded for this snapshot; no structured decisions are available.\n\n")
		return
	}
	if len(snap.Decisions) == 0 {
		return
	}

	b.WriteString("### Key decisions (most recent first)\n")
	shown := snap.Decisions
	if len(shown) > c.config.MaxDecisions {
		shown = shown[len(shown)-c.config.MaxDecisions:]
	}
	// Newest first.
	for i := len(shown) - 1; i >= 0; i-- {
		d := shown[i]
		fmt.Fprintf(b, "- [%s] %s", d.Category, d.Description)
		if d.Rationale != "" {
			fmt.Fprintf(b, " (why: %s)", d.Rationale)
		}
		b.WriteString("\n")
	}
	if hidden := len(snap.Decisions) - len(shown); hidden > 0 {
		fmt.Fprintf(b, "... and %d more decisions; fetch them via GET /workflows/%s/snapshots/%s/decisions\n", hidden, snap.WorkflowID, snap.ID)
	}
	b.WriteString("\n")
}

func (c *Compiler) writeErrors(b *strings.Builder, snap *SessionSnapshot) {
	unresolved := snap.UnresolvedErrors()
	resolved := snap.ResolvedErrors()
	if len(unresolved) == 0 && len(resolved) == 0 {
		return
	}

	b.WriteString("### Errors\n")
	for _, e := range unresolved {
		fmt.Fprintf(b, "- UNRESOLVED [%s] %s", e.Type, e.Message)
		if e.Context != "" {
			fmt.Fprintf(b, " (context: %s)", e.Context)
		}
		b.WriteString("\n")
	}

	shown := resolved
	if len(shown) > c.config.MaxResolvedErrors {
		shown = shown[len(shown)-c.config.MaxResolvedErrors:]
	}
	for _, e := range shown {
		fmt.Fprintf(b, "- %s [%s] %s\n", e.Resolution, e.Type, e.Message)
	}
	if hidden := len(resolved) - len(shown); hidden > 0 {
		fmt.Fprintf(b, "... and %d more resolved errors; fetch them via GET /workflows/%s/snapshots/%s/errors\n", hidden, snap.WorkflowID, snap.ID)
	}
	b.WriteString("\n")
}

func (c *Compiler) writeTestState(b *strings.Builder, snap *SessionSnapshot) {
	ts := snap.TestState
	if ts == nil {
		return
	}

	b.WriteString("### Test state\n")
	fmt.Fprintf(b, "%d passing, %d failing", ts.Passing, ts.Failing)
	if ts.Framework != "" {
		fmt.Fprintf(b, " (%s)", ts.Framework)
	}
	b.WriteString("\n")
	if len(ts.FailingTests) > 0 {
		fmt.Fprintf(b, "Failing: %s\n", strings.Join(ts.FailingTests, ", "))
	}
	b.WriteString("\n")
}

func (c *Compiler) writeGit(b *strings.Builder, snap *SessionSnapshot, divergence []string) {
	g := snap.Git
	if g == nil && len(divergence) == 0 {
		return
	}

	b.WriteString("### Repository\n")
	if g != nil {
		fmt.Fprintf(b, "Branch %s at %s", g.Branch, shortRef(g.HeadCommit))
		if g.Dirty {
			fmt.Fprintf(b, ", dirty tree (%d modified, %d staged)", len(g.ModifiedFiles), len(g.StagedFiles))
		}
		b.WriteString("\n")
		if g.ChangeSummary != "" {
			fmt.Fprintf(b, "Uncommitted changes: %s\n", g.ChangeSummary)
		}
	}
	for _, reason := range divergence {
		fmt.Fprintf(b, "Warning: repository diverged since pause: %s\n", reason)
	}
	b.WriteString("\n")
}

func (c *Compiler) writeFeedback(b *strings.Builder, snap *SessionSnapshot) {
	var unaddressed []ReviewerFeedback
	for _, f := range snap.ReviewerFeedback {
		if !f.Addressed {
			unaddressed = append(unaddressed, f)
		}
	}
	if len(unaddressed) == 0 {
		return
	}

	b.WriteString("### Unaddressed reviewer feedback\n")
	for _, f := range unaddressed {
		header := f.Reviewer
		if f.TaskID != "" {
			header += " on " + f.TaskID
		}
		fmt.Fprintf(b, "- %s:\n", header)

		shown := f.Comments
		if len(shown) > c.config.MaxFeedbackComments {
			shown = shown[:c.config.MaxFeedbackComments]
		}
		for _, comment := range shown {
			fmt.Fprintf(b, "  - %s\n", comment)
		}
		if hidden := len(f.Comments) - len(shown); hidden > 0 {
			fmt.Fprintf(b, "  ... and %d more comments; fetch the full snapshot via GET /workflows/%s/snapshots/%s\n", hidden, snap.WorkflowID, snap.ID)
		}
	}
	b.WriteString("\n")
}

func shortRef(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
