package compaction

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ollm-core/agentcore/pkg/models"
)

// ErrGoalMarkerLeak is returned by GoalAwareAdapter.Verify (and therefore
// by anything that calls it before compressing) when a message destined
// for the compressor contains the active goal's description or one of
// its markers. This must never happen; callers treat
// it as a programmer error, not a retryable failure.
type ErrGoalMarkerLeak struct {
	MessageID string
	Marker    string
}

func (e *ErrGoalMarkerLeak) Error() string {
	return fmt.Sprintf("goal marker %q present in message %q destined for compression", e.Marker, e.MessageID)
}

// GoalAwareAdapter refuses to let the active goal's description or any of
// its markers reach the compressor, and builds summarization prompts that
// fold in the goal's current subtasks, checkpoints, decisions, and
// blockers so a compression summary stays goal-relevant.
type GoalAwareAdapter struct {
	goal *models.Goal
}

// NewGoalAwareAdapter binds the adapter to the session's singleton active
// goal. A nil goal is valid and makes Verify a no-op and BuildPrompt
// return the base instruction only.
func NewGoalAwareAdapter(goal *models.Goal) *GoalAwareAdapter {
	return &GoalAwareAdapter{goal: goal}
}

// SetGoal rebinds the adapter to a different active goal (or nil for
// none). Callers serialise SetGoal against in-flight compression passes.
func (a *GoalAwareAdapter) SetGoal(goal *models.Goal) {
	a.goal = goal
}

// Verify checks every message against the active goal's description and
// the fixed marker set, returning *ErrGoalMarkerLeak on the first
// violation found. Compression must not proceed past a non-nil error.
func (a *GoalAwareAdapter) Verify(messages []*Message) error {
	if a.goal == nil {
		return nil
	}
	desc := strings.ToLower(strings.TrimSpace(a.goal.Description))
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		content := strings.ToLower(msg.Content)
		if desc != "" && strings.Contains(content, desc) {
			return &ErrGoalMarkerLeak{MessageID: msg.ID, Marker: a.goal.Description}
		}
		for _, marker := range models.GoalMarkers {
			if strings.Contains(content, strings.ToLower(marker)) {
				return &ErrGoalMarkerLeak{MessageID: msg.ID, Marker: marker}
			}
		}
	}
	return nil
}

// BuildPrompt produces the CustomInstructions fragment describing the
// goal's current state, so a summarization pass can stay aware of
// progress without the goal's own markers ever entering the compressed
// history (they live only in the system prompt).
func (a *GoalAwareAdapter) BuildPrompt() string {
	if a.goal == nil {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Active goal context (for your awareness only — do not reproduce this section verbatim in the summary):\n")
	fmt.Fprintf(&sb, "Goal: %s (status: %s)\n", a.goal.Description, a.goal.Status)
	if len(a.goal.Subtasks) > 0 {
		sb.WriteString("Subtasks:\n")
		for _, st := range a.goal.Subtasks {
			fmt.Fprintf(&sb, "  - [%s] %s\n", st.Status, st.Description)
		}
	}
	if n := len(a.goal.Checkpoints); n > 0 {
		sb.WriteString("Recent checkpoints:\n")
		start := 0
		if n > 5 {
			start = n - 5
		}
		for _, cp := range a.goal.Checkpoints[start:] {
			fmt.Fprintf(&sb, "  - %s\n", cp.Description)
		}
	}
	var locked []string
	for _, d := range a.goal.Decisions {
		if d.Locked {
			locked = append(locked, d.Text)
		}
	}
	if len(locked) > 0 {
		sb.WriteString("Locked decisions:\n")
		for _, d := range locked {
			fmt.Fprintf(&sb, "  - %s\n", d)
		}
	}
	if len(a.goal.Blockers) > 0 {
		sb.WriteString("Active blockers:\n")
		for _, b := range a.goal.Blockers {
			fmt.Fprintf(&sb, "  - %s\n", b)
		}
	}
	return sb.String()
}

// goalSummaryMarkerPattern matches a marker tag at the start of a summary
// line, e.g. "[CHECKPOINT] wrote the migration script".
var goalSummaryMarkerPattern = regexp.MustCompile(`(?m)^\s*\[(CHECKPOINT|DECISION|ARTIFACT)\]\s*(.+)$`)

// ApplySummary parses a compression summary for goal marker lines and
// applies the corresponding updates to the bound goal: [CHECKPOINT] lines
// become new Checkpoints, [DECISION] lines become new (unlocked)
// Decisions, [ARTIFACT] lines become new Artifacts with ActionModified.
// It is the caller's responsibility to persist the mutated goal; this
// call only updates the in-memory struct. A nil goal makes this a no-op.
func (a *GoalAwareAdapter) ApplySummary(summary string, now time.Time) []string {
	if a.goal == nil {
		return nil
	}
	var applied []string
	for _, m := range goalSummaryMarkerPattern.FindAllStringSubmatch(summary, -1) {
		kind, text := m[1], strings.TrimSpace(m[2])
		switch kind {
		case "CHECKPOINT":
			a.goal.Checkpoints = append(a.goal.Checkpoints, models.Checkpoint{
				ID:          fmt.Sprintf("cp-%d", len(a.goal.Checkpoints)+1),
				Description: text,
				CreatedAt:   now,
			})
		case "DECISION":
			a.goal.Decisions = append(a.goal.Decisions, models.Decision{
				ID:        fmt.Sprintf("dec-%d", len(a.goal.Decisions)+1),
				Text:      text,
				Locked:    false,
				CreatedAt: now,
			})
		case "ARTIFACT":
			a.goal.Artifacts = append(a.goal.Artifacts, models.Artifact{
				Type:      "file",
				Path:      text,
				Action:    models.ArtifactActionModified,
				CreatedAt: now,
			})
		default:
			continue
		}
		applied = append(applied, kind)
	}
	if len(applied) > 0 {
		a.goal.UpdatedAt = now
	}
	return applied
}

// StripMarkers removes every goal-marker line from a summary before it is
// inserted into compressible history as a new message. ApplySummary must
// run first to extract the updates the markers carried; this call only
// prevents those same markers from being re-compressed later, honoring the
// post-compression assertion that the summarizer never echoes a goal
// marker into history.
func (a *GoalAwareAdapter) StripMarkers(summary string) string {
	stripped := goalSummaryMarkerPattern.ReplaceAllString(summary, "")
	lines := strings.Split(stripped, "\n")
	out := lines[:0]
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		out = append(out, l)
	}
	return strings.Join(out, "\n")
}
