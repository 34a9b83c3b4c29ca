package compaction

import "fmt"

// Mode is the operating mode a session is running in. Each mode carries
// its own preservation rules for what a compression summary must not
// lose, following the same split the orchestrator's system prompt uses
// to vary tool guidance by mode.
type Mode string

const (
	ModeDeveloper Mode = "developer"
	ModePlanning  Mode = "planning"
	ModeDebugger  Mode = "debugger"
	ModeAssistant Mode = "assistant"
)

// preservationRules maps each mode to the instruction fragment a
// summarization prompt appends so the LLM knows what not to paraphrase
// away.
var preservationRules = map[Mode]string{
	ModeDeveloper: "Preserve every code block verbatim (language fence and all) and every file path mentioned. Do not paraphrase code.",
	ModePlanning:  "Preserve the stated goals, open decisions, and their rationale. Do not drop a decision just because it was discussed briefly.",
	ModeDebugger:  "Preserve stack traces, error messages, and reproduction steps verbatim. Do not summarize an error message into prose.",
	ModeAssistant: "Preserve the conversational thread: what the user asked for and what was promised, so the conversation reads as continuous after compression.",
}

// CompressionLevel is the aggressiveness of a summarization pass, 1
// (lightest) through 3 (most aggressive).
type CompressionLevel int

const (
	CompressionLevelLight      CompressionLevel = 1
	CompressionLevelMedium     CompressionLevel = 2
	CompressionLevelAggressive CompressionLevel = 3
)

func (l CompressionLevel) clamp() CompressionLevel {
	if l < CompressionLevelLight {
		return CompressionLevelLight
	}
	if l > CompressionLevelAggressive {
		return CompressionLevelAggressive
	}
	return l
}

// levelInstruction scales how much detail the summary is asked to keep.
func levelInstruction(l CompressionLevel) string {
	switch l.clamp() {
	case CompressionLevelLight:
		return "Summarize conservatively: keep most detail, only fold together clearly redundant exchanges."
	case CompressionLevelMedium:
		return "Summarize at a moderate level of detail: keep decisions and outcomes, compress routine back-and-forth."
	default:
		return "Summarize aggressively: keep only decisions, outcomes, and anything a later turn might reference."
	}
}

// ModeAwareAdapter builds summarization prompts that vary by operating
// mode and compression level, per the mode-specific preservation rules
// the orchestrator's system prompt already documents for tool use.
type ModeAwareAdapter struct{}

// NewModeAwareAdapter returns a ready-to-use adapter. It is stateless.
func NewModeAwareAdapter() *ModeAwareAdapter { return &ModeAwareAdapter{} }

// BuildPrompt produces the CustomInstructions fragment for a
// SummarizationConfig, combining the mode's preservation rule with the
// requested compression level's aggressiveness.
func (a *ModeAwareAdapter) BuildPrompt(mode Mode, level CompressionLevel) string {
	rule, ok := preservationRules[mode]
	if !ok {
		rule = preservationRules[ModeAssistant]
	}
	return fmt.Sprintf("%s\n%s", levelInstruction(level), rule)
}
