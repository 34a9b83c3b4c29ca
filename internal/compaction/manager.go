package compaction

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/ollm-core/agentcore/internal/observability"
	"github.com/ollm-core/agentcore/internal/snapshots"
	"github.com/ollm-core/agentcore/internal/tokens"
	"github.com/ollm-core/agentcore/pkg/models"
)

// ManagerConfig carries the per-session compression settings the context
// manager applies on every check.
type ManagerConfig struct {
	// Model and RequestedSize key the profile-table lookup that yields
	// the effective context limit.
	Model         string
	RequestedSize int

	// Strategy selects truncate/summarize/hybrid; TailWindow is how many
	// recent messages survive byte-identical.
	Strategy   Strategy
	TailWindow int

	// Mode and Level shape the summarization prompt.
	Mode  Mode
	Level CompressionLevel
}

// DefaultManagerConfig returns the settings used when the caller supplies
// nothing: hybrid compression, a 6-message tail, developer mode.
func DefaultManagerConfig(model string, requestedSize int) ManagerConfig {
	return ManagerConfig{
		Model:         model,
		RequestedSize: requestedSize,
		Strategy:      StrategyHybrid,
		TailWindow:    6,
		Mode:          ModeDeveloper,
		Level:         1,
	}
}

// Manager is the context-management orchestrator: it owns the token
// counter, the provider/model/goal adapters, the compression engine, and
// the snapshot manager, and drives them as one unit after each exchange.
// The chat loop calls CheckAndCompress; everything else is internal.
//
// Messages live in the session store, not on the Session struct, so every
// operation takes the history alongside its session and returns the
// replacement history for the caller to persist (ReplaceMessages plus a
// session Update for the compression count).
type Manager struct {
	counter   *tokens.Counter
	provider  *ProviderAwareAdapter
	model     *ModelAwareAdapter
	goal      *GoalAwareAdapter
	engine    *CompressionEngine
	orch      *PromptOrchestratorAdapter
	snapshots *snapshots.Manager
	logger    *slog.Logger
	metrics   *observability.Metrics

	mu  sync.Mutex
	cfg ManagerConfig
}

// NewManager wires the orchestrator. snapshotMgr may be nil (no snapshot
// thresholds are then checked); summarizer may be nil if cfg.Strategy is
// StrategyTruncate.
func NewManager(counter *tokens.Counter, provider *ProviderAwareAdapter, model *ModelAwareAdapter, goal *GoalAwareAdapter, summarizer Summarizer, snapshotMgr *snapshots.Manager, cfg ManagerConfig, logger *slog.Logger) *Manager {
	if counter == nil {
		counter = tokens.New()
	}
	if provider == nil {
		provider = NewProviderAwareAdapter(nil)
	}
	if goal == nil {
		goal = NewGoalAwareAdapter(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		counter:   counter,
		provider:  provider,
		model:     model,
		goal:      goal,
		engine:    NewCompressionEngine(summarizer, NewModeAwareAdapter(), goal),
		orch:      NewPromptOrchestratorAdapter(),
		snapshots: snapshotMgr,
		logger:    logger.With("component", "contextmgr"),
		cfg:       cfg,
	}
}

// SetMetrics attaches optional prometheus instruments; nil keeps the
// manager silent.
func (m *Manager) SetMetrics(metrics *observability.Metrics) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = metrics
}

// SetConfig replaces the per-session settings.
func (m *Manager) SetConfig(cfg ManagerConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg
}

// SetGoal rebinds the active goal. Passing nil clears it.
func (m *Manager) SetGoal(goal *models.Goal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.goal.SetGoal(goal)
}

// Counter exposes the token counter so callers share one cache.
func (m *Manager) Counter() *tokens.Counter { return m.counter }

// Usage reports current conversation tokens against the effective limit.
type Usage struct {
	Tokens  int
	Limit   int
	Urgency CompressionUrgency
}

// MeasureUsage counts the conversation and classifies urgency.
func (m *Manager) MeasureUsage(messages []*models.Message) (Usage, error) {
	m.mu.Lock()
	cfg := m.cfg
	m.mu.Unlock()

	count, err := m.counter.CountConversation(toCounterMessages(messages))
	if err != nil {
		return Usage{}, fmt.Errorf("count conversation: %w", err)
	}
	limit := m.provider.EffectiveContextSize(cfg.Model, cfg.RequestedSize)
	return Usage{Tokens: count, Limit: limit, Urgency: Urgency(count, limit)}, nil
}

// CheckAndCompress measures the conversation, fires snapshot threshold
// events, and runs one compression pass when the trigger is crossed. It
// returns (nil, nil, nil) when compression did not run. On success it
// returns the replacement history; persisting it (ReplaceMessages) and
// the incremented session CompressionCount (Update) is the caller's job.
func (m *Manager) CheckAndCompress(ctx context.Context, session *models.Session, messages []*models.Message) ([]*models.Message, *CompressResult, error) {
	m.mu.Lock()
	cfg := m.cfg
	m.mu.Unlock()

	usage, err := m.MeasureUsage(messages)
	if err != nil {
		return nil, nil, err
	}
	if m.snapshots != nil {
		m.snapshots.CheckUsage(session.ID, usage.Tokens, usage.Limit)
	}

	systemPromptTokens := 0
	if len(messages) > 0 && messages[0].Role == models.RoleSystem {
		systemPromptTokens, err = m.counter.CountCached(messages[0].ID, messages[0].Content)
		if err != nil {
			return nil, nil, fmt.Errorf("count system prompt: %w", err)
		}
	}
	if !ShouldCompress(usage.Tokens, usage.Limit, systemPromptTokens) {
		return nil, nil, nil
	}

	if m.model != nil && m.model.ShouldWarn(session.CompressionCount) {
		m.logger.Warn("model reliability degraded by repeated compression",
			"session_id", session.ID,
			"compressions", session.CompressionCount,
			"reliability", m.model.Reliability(session.CompressionCount))
	}

	input := toCompactionMessages(messages)
	result, err := m.engine.Compress(ctx, input, cfg.Strategy, cfg.TailWindow, cfg.Mode, cfg.Level, nil)
	if err != nil {
		return nil, nil, err
	}
	if len(input) > 0 && input[0].Role == "system" {
		if err := m.orch.VerifyStructure(result.Messages, input[0].Content, nil); err != nil {
			return nil, nil, err
		}
	}

	replacement := fromCompactionMessages(result.Messages, session, messages)
	session.CompressionCount++
	m.metrics.ObserveCompression(string(result.Strategy), result.TokensBefore-result.TokensAfter)
	m.logger.Info("compressed session context",
		"session_id", session.ID,
		"strategy", string(result.Strategy),
		"tokens_before", result.TokensBefore,
		"tokens_after", result.TokensAfter,
		"dropped", result.DroppedMessages)
	return replacement, result, nil
}

// EmergencyClear snapshots the conversation and clears it down to the
// system prompt, for the memory guard's 95% action. The snapshot is
// written before anything is cleared; the cleared history is returned
// for the caller to persist.
func (m *Manager) EmergencyClear(session *models.Session, messages []*models.Message) (remaining []*models.Message, snapshotID string, err error) {
	usage, err := m.MeasureUsage(messages)
	if err != nil {
		return nil, "", err
	}
	if m.snapshots != nil {
		snapshotID, err = m.snapshots.Capture(session.ID, messages, usage.Tokens, models.SnapshotReasonEmergency)
		if err != nil {
			return nil, "", fmt.Errorf("emergency snapshot: %w", err)
		}
	}
	if len(messages) > 0 && messages[0].Role == models.RoleSystem {
		remaining = messages[:1]
	}
	m.logger.Warn("emergency context clear", "session_id", session.ID, "snapshot_id", snapshotID)
	return remaining, snapshotID, nil
}

func toCounterMessages(in []*models.Message) []tokens.Message {
	out := make([]tokens.Message, 0, len(in))
	for _, msg := range in {
		out = append(out, tokens.Message{
			ID:            msg.ID,
			Content:       msg.Content,
			ToolCallCount: len(msg.ToolCalls),
		})
	}
	return out
}

func toCompactionMessages(in []*models.Message) []*Message {
	out := make([]*Message, 0, len(in))
	for _, msg := range in {
		cm := &Message{
			ID:        msg.ID,
			Role:      string(msg.Role),
			Content:   msg.Content,
			Timestamp: msg.CreatedAt.Unix(),
		}
		if len(msg.ToolCalls) > 0 {
			names := make([]string, 0, len(msg.ToolCalls))
			for _, tc := range msg.ToolCalls {
				names = append(names, tc.Name)
			}
			cm.ToolCalls = strings.Join(names, ",")
		}
		out = append(out, cm)
	}
	return out
}

// fromCompactionMessages maps a compression result back onto model
// messages. Messages that survived keep their original identity (matched
// by id); synthesised summary messages get fresh ones.
func fromCompactionMessages(in []*Message, session *models.Session, original []*models.Message) []*models.Message {
	byID := make(map[string]*models.Message, len(original))
	for _, msg := range original {
		byID[msg.ID] = msg
	}
	out := make([]*models.Message, 0, len(in))
	for i, cm := range in {
		if orig, ok := byID[cm.ID]; ok && cm.ID != "" {
			out = append(out, orig)
			continue
		}
		out = append(out, &models.Message{
			ID:        summaryMessageID(session, i),
			SessionID: session.ID,
			Role:      models.Role(cm.Role),
			Content:   cm.Content,
			Channel:   session.Channel,
			Direction: models.DirectionOutbound,
		})
	}
	return out
}

func summaryMessageID(session *models.Session, index int) string {
	return session.ID + "-summary-" + strconv.Itoa(session.CompressionCount) + "-" + strconv.Itoa(index)
}
