// Package main provides the CLI entry point for agentcore, a local-LLM
// agent runtime: a streaming chat loop over a local Ollama model, backed
// by flat-file session persistence, VRAM-aware context management,
// goal-aware compression, MCP servers, process hooks, and extensions.
//
// # Basic Usage
//
// Start an interactive chat session against a local Ollama model:
//
//	agentcore chat --model llama3.1
//
// Run one prompt non-interactively:
//
//	agentcore run "summarize this repo" --output-format json
//
// # Environment Variables
//
//   - OLLM_CONFIG_DIR: configuration root (default ~/.ollm); sessions,
//     snapshots, trusted hooks, extensions, and MCP server configs all
//     live under it
//   - OLLM_MODEL: default model when --model is omitted
//   - OLLM_PROVIDER: default provider name (default "ollama")
//   - OLLM_NO_AUTORESTART: disable MCP health-monitor auto-restart
//   - OLLM_OLLAMA_URL: Ollama base URL (default http://localhost:11434)
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/ollm-core/agentcore/internal/agent"
	"github.com/ollm-core/agentcore/internal/agent/providers"
	"github.com/ollm-core/agentcore/internal/agent/react"
	"github.com/ollm-core/agentcore/internal/agent/tape"
	"github.com/ollm-core/agentcore/internal/agent/toolbridge"
	"github.com/ollm-core/agentcore/internal/agenthooks"
	"github.com/ollm-core/agentcore/internal/compaction"
	agentctx "github.com/ollm-core/agentcore/internal/context"
	"github.com/ollm-core/agentcore/internal/extensions"
	"github.com/ollm-core/agentcore/internal/mcp"
	"github.com/ollm-core/agentcore/internal/observability"
	"github.com/ollm-core/agentcore/internal/sessions"
	"github.com/ollm-core/agentcore/internal/snapshots"
	"github.com/ollm-core/agentcore/internal/tools"
	"github.com/ollm-core/agentcore/internal/toolsafety"
	"github.com/ollm-core/agentcore/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

// Exit codes for the non-interactive runner.
const (
	exitOK      = 0
	exitError   = 1
	exitConfig  = 2
	exitAborted = 130
)

func main() {
	logger := observability.NewLogger(observability.LogConfig{
		Level:  os.Getenv("OLLM_LOG_LEVEL"),
		Format: os.Getenv("OLLM_LOG_FORMAT"),
	})
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		code := exitError
		var exitErr *exitCodeError
		if errors.As(err, &exitErr) {
			code = exitErr.code
		}
		os.Exit(code)
	}
}

// exitCodeError carries a specific process exit code up through cobra.
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string { return e.err.Error() }
func (e *exitCodeError) Unwrap() error { return e.err }

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "agentcore",
		Short:         "agentcore - local-LLM agent runtime",
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(buildChatCmd())
	root.AddCommand(buildRunCmd())
	return root
}

// coreOptions are the flags shared by chat and run.
type coreOptions struct {
	model       string
	provider    string
	ollamaURL   string
	configDir   string
	workspace   string
	contextSize int
	useReact    bool
	recordPath  string
	tracePath   string
	interactive bool
}

func addCoreFlags(cmd *cobra.Command, opts *coreOptions) {
	cmd.Flags().StringVar(&opts.model, "model", "", "model name (default $OLLM_MODEL or llama3.1)")
	cmd.Flags().StringVar(&opts.provider, "provider", "", "provider name (default $OLLM_PROVIDER or ollama)")
	cmd.Flags().StringVar(&opts.ollamaURL, "ollama-url", "", "Ollama base URL (default http://localhost:11434, or $OLLM_OLLAMA_URL)")
	cmd.Flags().StringVar(&opts.configDir, "config-dir", "", "configuration root (default ~/.ollm, or $OLLM_CONFIG_DIR)")
	cmd.Flags().StringVar(&opts.workspace, "workspace", ".", "workspace root the file/shell tools operate in")
	cmd.Flags().IntVar(&opts.contextSize, "context-size", 8192, "requested context window in tokens")
	cmd.Flags().BoolVar(&opts.useReact, "react", false, "use the ReAct text grammar instead of native tool calling")
	cmd.Flags().StringVar(&opts.recordPath, "record", "", "record the session's provider exchanges to a tape file")
	cmd.Flags().StringVar(&opts.tracePath, "trace", "", "write the agent event stream to a JSONL trace file")
}

func buildChatCmd() *cobra.Command {
	opts := &coreOptions{interactive: true}
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive streaming chat session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), opts)
		},
	}
	addCoreFlags(cmd, opts)
	return cmd
}

func buildRunCmd() *cobra.Command {
	opts := &coreOptions{}
	var outputFormat string
	cmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Run a single prompt non-interactively",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := ""
			if len(args) > 0 {
				prompt = args[0]
			}
			return runOnce(cmd.Context(), opts, prompt, outputFormat)
		},
	}
	addCoreFlags(cmd, opts)
	cmd.Flags().StringVar(&outputFormat, "output-format", "text", "output format: text, json, or stream-json")
	return cmd
}

// core holds every wired subsystem for one process.
type core struct {
	runtime    *agent.Runtime
	providers  *agent.ProviderRegistry
	provider   agent.LLMProvider
	recorder   *tape.Recorder
	store      sessions.Store
	ctxmgr     *compaction.Manager
	snapMgr    *snapshots.Manager
	vram       *agentctx.VRAMMonitor
	pool       *agentctx.Pool
	guard      *agentctx.MemoryGuard
	mcpMgr     *mcp.Manager
	health     *mcp.HealthMonitor
	hooks      *agenthooks.Registry
	dispatcher *agenthooks.Dispatcher
	extMgr     *extensions.Manager
	metrics    *observability.Metrics
	trace      *agent.TracePlugin
	bus        *toolsafety.Bus
	opts       *coreOptions
	logger     *slog.Logger
}

func configDir(opts *coreOptions) (string, error) {
	dir := opts.configDir
	if dir == "" {
		dir = os.Getenv("OLLM_CONFIG_DIR")
	}
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, ".ollm")
	}
	return dir, os.MkdirAll(dir, 0o755)
}

// buildCore assembles the full runtime: providers, sessions, context
// engine, tools + safety, MCP, hooks, and extensions.
func buildCore(ctx context.Context, opts *coreOptions) (*core, error) {
	logger := slog.Default()

	cfgDir, err := configDir(opts)
	if err != nil {
		return nil, &exitCodeError{code: exitConfig, err: fmt.Errorf("resolve config dir: %w", err)}
	}
	workspace, err := filepath.Abs(opts.workspace)
	if err != nil {
		return nil, &exitCodeError{code: exitConfig, err: fmt.Errorf("resolve workspace: %w", err)}
	}
	if opts.model == "" {
		opts.model = os.Getenv("OLLM_MODEL")
	}
	if opts.model == "" {
		opts.model = "llama3.1"
	}
	if opts.provider == "" {
		opts.provider = os.Getenv("OLLM_PROVIDER")
	}
	if opts.provider == "" {
		opts.provider = "ollama"
	}

	c := &core{opts: opts, logger: logger, metrics: observability.NewMetrics(prometheus.DefaultRegisterer)}

	// Providers. The registry is process-scoped; the Ollama adapter is
	// the reference local provider.
	ollamaURL := opts.ollamaURL
	if ollamaURL == "" {
		ollamaURL = os.Getenv("OLLM_OLLAMA_URL")
	}
	c.providers = agent.NewProviderRegistry()
	c.providers.Register("ollama", providers.NewOllamaProvider(providers.OllamaConfig{
		BaseURL:      ollamaURL,
		DefaultModel: opts.model,
	}))
	if !c.providers.SetDefault(opts.provider) {
		return nil, &exitCodeError{code: exitConfig, err: fmt.Errorf("unknown provider %q", opts.provider)}
	}
	provider, _ := c.providers.Default()
	if opts.useReact {
		provider = react.NewHandler(provider)
	}
	if opts.recordPath != "" {
		c.recorder = tape.NewRecorder(provider).WithModel(opts.model)
		provider = c.recorder
	}
	c.provider = provider

	// Flat-file session store.
	c.store = sessions.NewFileStore(filepath.Join(cfgDir, "sessions"))

	// Context engine: profile table (seeded from the provider's show
	// operation when it answers), token counter, snapshots, compression.
	profiles := agentctx.DefaultProfileTable()
	quant := models.QuantQ4_0
	if shower, ok := c.provider.(agent.ModelShower); ok {
		if info, err := shower.ShowModel(ctx, opts.model); err == nil {
			quant = quantFromLevel(info.Quantisation)
			profiles.Register(models.ContextProfile{
				Model:         opts.model,
				RequestedSize: opts.contextSize,
				EffectiveSize: agentctx.ComputeEffectiveSize(opts.contextSize, quant),
				Quantisation:  quant,
			})
		} else {
			logger.Debug("model show unavailable, using default profiles", "error", err)
		}
	}

	c.snapMgr = snapshots.NewManager(filepath.Join(cfgDir, "snapshots"), func(ev snapshots.Event) {
		logger.Info("snapshot threshold crossed", "session_id", ev.SessionID, "reason", string(ev.Reason), "tokens", ev.TokenCount, "limit", ev.Limit)
	})
	c.ctxmgr = compaction.NewManager(
		nil,
		compaction.NewProviderAwareAdapter(profiles),
		nil,
		nil,
		agent.NewProviderSummarizer(c.provider, opts.model),
		c.snapMgr,
		compaction.DefaultManagerConfig(opts.model, opts.contextSize),
		logger,
	)
	c.ctxmgr.SetMetrics(c.metrics)

	// VRAM monitor feeding the context pool and the memory guard.
	c.pool = agentctx.NewPool(2048, opts.contextSize, quant, nil)
	c.vram = agentctx.NewVRAMMonitor(func(current, total uint64) {
		logger.Warn("low memory", "available_bytes", current, "total_bytes", total)
	})
	c.vram.SetOnReading(func(reading agentctx.MemoryReading) {
		if c.guard == nil && reading.Total > 0 {
			c.guard = agentctx.NewMemoryGuard(reading.Total, func(action agentctx.MemGuardAction) {
				c.metrics.ObserveMemGuardCrossing(string(action.Level))
				logger.Warn("memory guard crossing", "level", string(action.Level), "used", action.UsedBytes, "total", action.TotalBytes)
			})
		}
		if !poolGrowthSuspended(c.guard) {
			c.pool.OnVRAMReading(reading)
		}
		if c.guard != nil && reading.Total >= reading.Available {
			c.guard.Observe(reading.Total - reading.Available)
		}
	})
	c.vram.Start()

	// Tool safety: the confirmation bus the UI answers on. Headless runs
	// leave the bus unset so invocation-level confirmations auto-approve
	// rather than hanging with nobody to answer.
	var bridgeOpts toolbridge.Options
	if opts.interactive {
		c.bus = toolsafety.NewBus(func(id string, details toolsafety.ConfirmationDetails) {
			fmt.Fprintf(os.Stderr, "\n[confirm] %s (%s) — approve? [y/N] ", details.Summary, details.ToolName)
			go func() {
				reader := bufio.NewReader(os.Stdin)
				line, _ := reader.ReadString('\n')
				if strings.HasPrefix(strings.ToLower(strings.TrimSpace(line)), "y") {
					c.bus.Respond(id, toolsafety.Approved)
					return
				}
				c.bus.Respond(id, toolsafety.Rejected)
			}()
		})
		bridgeOpts.Bus = c.bus
	}

	// Runtime with the built-in tool surface.
	rt := agent.NewRuntime(c.provider, c.store)
	rt.SetDefaultModel(opts.model)
	builtinCfg := tools.BuiltinConfig{
		Workspace:  workspace,
		MemoryPath: filepath.Join(cfgDir, "memory.json"),
	}
	for _, tool := range toolbridge.AdaptAllWithOptions(tools.Builtins(builtinCfg), bridgeOpts) {
		rt.RegisterTool(tool)
	}
	c.runtime = rt

	// MCP servers from <config>/mcp_servers.json.
	mcpCfg, err := mcp.LoadConfigFile(filepath.Join(cfgDir, "mcp_servers.json"))
	if err != nil {
		return nil, &exitCodeError{code: exitConfig, err: err}
	}
	c.mcpMgr = mcp.NewManager(mcpCfg, logger)
	if err := c.mcpMgr.Start(ctx); err != nil {
		logger.Warn("mcp startup incomplete", "error", err)
	}
	mcp.RegisterTools(rt, c.mcpMgr)
	healthCfg := mcp.DefaultHealthMonitorConfig()
	if os.Getenv("OLLM_NO_AUTORESTART") != "" {
		healthCfg.AutoRestart = false
	}
	c.health = mcp.NewHealthMonitor(c.mcpMgr, healthCfg, logger, nil)
	c.health.SetMetrics(c.metrics)
	c.health.Start()

	// Process hooks: trust store, registry, runner, and the dispatcher
	// plugged into the runtime's event stream.
	trust, err := agenthooks.NewTrustStore(filepath.Join(cfgDir, "trusted-hooks.json"), approvalPrompt(opts.interactive))
	if err != nil {
		return nil, &exitCodeError{code: exitConfig, err: fmt.Errorf("open trust store: %w", err)}
	}
	c.hooks = agenthooks.NewRegistry()
	c.dispatcher = agenthooks.NewDispatcher(c.hooks, agenthooks.NewRunner(trust, logger), logger)
	rt.Use(c.dispatcher)

	if opts.tracePath != "" {
		tracePlugin, err := agent.NewTracePluginFile(opts.tracePath, uuid.NewString(), agent.WithAppVersion(version))
		if err != nil {
			return nil, &exitCodeError{code: exitConfig, err: fmt.Errorf("open trace file: %w", err)}
		}
		c.trace = tracePlugin
		rt.Use(tracePlugin)
	}

	// Extensions from the user and workspace roots.
	c.extMgr = extensions.NewManager(
		filepath.Join(cfgDir, "extensions"),
		filepath.Join(workspace, ".ollm", "extensions"),
		filepath.Join(cfgDir, "extensions-state.json"),
		c.hooks,
		c.mcpMgr,
		nil,
		logger,
	)
	if err := c.extMgr.Discover(); err != nil {
		logger.Warn("extension discovery incomplete", "error", err)
	}

	return c, nil
}

// shutdown stops background services and flushes the tape, if any.
func (c *core) shutdown() {
	if c.vram != nil {
		c.vram.Stop()
	}
	if c.health != nil {
		c.health.Stop()
	}
	if c.extMgr != nil {
		if err := c.extMgr.Close(); err != nil {
			c.logger.Warn("extension manager close", "error", err)
		}
	}
	if c.mcpMgr != nil {
		if err := c.mcpMgr.Stop(); err != nil {
			c.logger.Warn("mcp stop", "error", err)
		}
	}
	if c.trace != nil {
		if err := c.trace.Close(); err != nil {
			c.logger.Warn("close trace", "error", err)
		}
	}
	if c.recorder != nil && c.opts.recordPath != "" {
		if data, err := c.recorder.Tape().Marshal(); err == nil {
			if err := os.WriteFile(c.opts.recordPath, data, 0o644); err != nil {
				c.logger.Warn("write tape", "error", err)
			}
		}
	}
}

// maybeCompress runs the context manager after an exchange, persisting a
// replacement history when compression ran.
func (c *core) maybeCompress(ctx context.Context, session *models.Session) {
	history, err := c.store.GetHistory(ctx, session.ID, 0)
	if err != nil {
		c.logger.Warn("load history for compression check", "error", err)
		return
	}
	replacement, result, err := c.ctxmgr.CheckAndCompress(ctx, session, history)
	if err != nil {
		c.logger.Warn("compression failed", "error", err)
		return
	}
	if result == nil {
		return
	}
	if fs, ok := c.store.(*sessions.FileStore); ok {
		if err := fs.ReplaceMessages(ctx, session.ID, replacement); err != nil {
			c.logger.Warn("persist compressed history", "error", err)
			return
		}
	}
	if err := c.store.Update(ctx, session); err != nil {
		c.logger.Warn("persist compression count", "error", err)
	}
}

func runChat(ctx context.Context, opts *coreOptions) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := buildCore(ctx, opts)
	if err != nil {
		return err
	}
	defer c.shutdown()

	session, err := c.store.GetOrCreate(ctx, uuid.NewString(), "agentcore-cli", models.ChannelAPI, "local")
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	c.dispatcher.FireSessionStart(ctx, session.ID)
	defer c.dispatcher.FireSessionEnd(context.Background(), session.ID)

	fmt.Fprintf(os.Stdout, "agentcore chat — model %s, provider %s. Ctrl-D to exit.\n", opts.model, opts.provider)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for {
		fmt.Fprint(os.Stdout, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := scanner.Text()
		if line == "" {
			continue
		}

		chunks, err := c.runtime.Process(ctx, session, userMessage(session, line))
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		for chunk := range chunks {
			if chunk.Error != nil {
				fmt.Fprintf(os.Stderr, "\nerror: %v\n", chunk.Error)
				continue
			}
			if chunk.Text != "" {
				fmt.Fprint(os.Stdout, chunk.Text)
			}
		}
		fmt.Fprintln(os.Stdout)

		c.maybeCompress(ctx, session)
	}
}

// runOnce implements the non-interactive runner: one prompt in, the
// response out in the requested format, exit codes per the contract
// (0 ok, 1 error, 2 config error, 130 aborted).
func runOnce(ctx context.Context, opts *coreOptions, prompt, outputFormat string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch outputFormat {
	case "text", "json", "stream-json":
	default:
		return &exitCodeError{code: exitConfig, err: fmt.Errorf("unknown output format %q", outputFormat)}
	}

	if prompt == "" || prompt == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		prompt = strings.TrimSpace(string(data))
	}
	if prompt == "" {
		return &exitCodeError{code: exitConfig, err: errors.New("no prompt provided")}
	}

	c, err := buildCore(ctx, opts)
	if err != nil {
		return err
	}
	defer c.shutdown()

	session, err := c.store.GetOrCreate(ctx, uuid.NewString(), "agentcore-run", models.ChannelAPI, "local")
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	c.dispatcher.FireSessionStart(ctx, session.ID)
	defer c.dispatcher.FireSessionEnd(context.Background(), session.ID)

	chunks, err := c.runtime.Process(ctx, session, userMessage(session, prompt))
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(os.Stdout)
	var response strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			if errors.Is(chunk.Error, context.Canceled) {
				return &exitCodeError{code: exitAborted, err: chunk.Error}
			}
			return chunk.Error
		}
		switch outputFormat {
		case "text":
			fmt.Fprint(os.Stdout, chunk.Text)
		case "stream-json":
			if err := encoder.Encode(chunk); err != nil {
				return err
			}
		}
		response.WriteString(chunk.Text)
	}
	if ctx.Err() != nil {
		return &exitCodeError{code: exitAborted, err: ctx.Err()}
	}

	switch outputFormat {
	case "text":
		fmt.Fprintln(os.Stdout)
	case "json":
		if err := encoder.Encode(map[string]any{
			"session_id": session.ID,
			"model":      opts.model,
			"provider":   opts.provider,
			"response":   response.String(),
		}); err != nil {
			return err
		}
	}

	c.maybeCompress(ctx, session)
	return nil
}

func userMessage(session *models.Session, content string) *models.Message {
	return &models.Message{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Channel:   models.ChannelAPI,
		Direction: models.DirectionInbound,
		Role:      models.RoleUser,
		Content:   content,
	}
}

// approvalPrompt builds the trust store's approval callback: interactive
// sessions ask on the terminal, headless runs refuse.
func approvalPrompt(interactive bool) agenthooks.RequestApproval {
	if !interactive {
		return nil
	}
	return func(h models.Hook, hash string) bool {
		fmt.Fprintf(os.Stderr, "\n[trust] hook %q wants to run %q (sha256 %.12s…) — approve? [y/N] ", h.ID, h.Command, hash)
		reader := bufio.NewReader(os.Stdin)
		line, _ := reader.ReadString('\n')
		return strings.HasPrefix(strings.ToLower(strings.TrimSpace(line)), "y")
	}
}

func quantFromLevel(level string) models.Quantisation {
	switch {
	case strings.HasPrefix(strings.ToUpper(level), "F16"), strings.HasPrefix(strings.ToUpper(level), "FP16"):
		return models.QuantF16
	case strings.HasPrefix(strings.ToUpper(level), "Q8"):
		return models.QuantQ8_0
	default:
		return models.QuantQ4_0
	}
}

func poolGrowthSuspended(guard *agentctx.MemoryGuard) bool {
	return guard != nil && guard.GrowthSuspended()
}
