package models

import "time"

// GoalStatus is the lifecycle state of a goal.
type GoalStatus string

const (
	GoalStatusActive    GoalStatus = "active"
	GoalStatusPaused    GoalStatus = "paused"
	GoalStatusCompleted GoalStatus = "completed"
	GoalStatusAbandoned GoalStatus = "abandoned"
)

// SubtaskStatus is the lifecycle state of a goal subtask.
type SubtaskStatus string

const (
	SubtaskStatusPending    SubtaskStatus = "pending"
	SubtaskStatusInProgress SubtaskStatus = "in_progress"
	SubtaskStatusDone       SubtaskStatus = "done"
	SubtaskStatusBlocked    SubtaskStatus = "blocked"
)

// Subtask is one ordered unit of work within a goal.
type Subtask struct {
	ID          string        `json:"id"`
	Description string        `json:"description"`
	Status      SubtaskStatus `json:"status"`

	// DependsOn lists subtask ids that must reach SubtaskStatusDone before
	// this subtask may start.
	DependsOn []string `json:"depends_on,omitempty"`
}

// Decision records a choice made in pursuit of a goal. Locked decisions are
// not revisited by subsequent planning; unlocked ones remain open.
type Decision struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Locked    bool      `json:"locked"`
	CreatedAt time.Time `json:"created_at"`
}

// ArtifactAction describes what happened to a goal artifact.
type ArtifactAction string

const (
	ArtifactActionCreated  ArtifactAction = "created"
	ArtifactActionModified ArtifactAction = "modified"
	ArtifactActionDeleted  ArtifactAction = "deleted"
)

// Artifact is a file or resource produced or touched while pursuing a goal.
type Artifact struct {
	Type      string         `json:"type"`
	Path      string         `json:"path"`
	Action    ArtifactAction `json:"action"`
	CreatedAt time.Time      `json:"created_at"`
}

// Checkpoint records progress made toward a goal, either set explicitly or
// extracted from a compression summary (see internal/compaction).
type Checkpoint struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// Goal is the active objective a session is working toward. The compressor
// must never discard or paraphrase the goal's description or markers; they
// are injected into the system prompt, never into compressible history.
//
// At most one goal is active at a time; Goal is a singleton reference held
// by the session orchestrator, not a collection owned by Session.
type Goal struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	Status      GoalStatus `json:"status"`
	Priority    int        `json:"priority"`

	Subtasks    []Subtask    `json:"subtasks,omitempty"`
	Decisions   []Decision   `json:"decisions,omitempty"`
	Artifacts   []Artifact   `json:"artifacts,omitempty"`
	Checkpoints []Checkpoint `json:"checkpoints,omitempty"`

	// Blockers are free-text descriptions of what currently prevents
	// progress; an empty slice means the goal is unblocked.
	Blockers []string `json:"blockers,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GoalMarkers are the literal tags the compression engine must never let
// leak out of the system prompt into compressible conversation history.
var GoalMarkers = []string{"[CHECKPOINT]", "[DECISION]", "[ARTIFACT]", "active goal:", "goal context:"}
