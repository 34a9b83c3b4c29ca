package agenthooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	runtimeerrors "github.com/ollm-core/agentcore/internal/errors"
	"github.com/ollm-core/agentcore/pkg/models"
)

const defaultHookTimeout = 30 * time.Second

// Response is the JSON document a hook process writes to stdout.
type Response struct {
	Continue bool            `json:"continue"`
	Output   json.RawMessage `json:"output,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Result pairs a hook's outcome with the hook it came from, so a caller
// iterating planner order can stop on Continue==false or a crash.
type Result struct {
	Hook     models.Hook
	Response Response
	Err      error
}

// Runner spawns hook processes and enforces trust and timeouts.
type Runner struct {
	trust  *TrustStore
	logger *slog.Logger
}

// NewRunner creates a runner gating execution through trust.
func NewRunner(trust *TrustStore, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{trust: trust, logger: logger.With("component", "agenthooks")}
}

// RunEvent executes every hook registered for an event, in planner order,
// stopping early if a hook's response sets continue:false without an
// error. A crashed, timed-out or untrusted hook
// never aborts the runtime; its Result.Err is populated and the next hook
// still runs.
func (r *Runner) RunEvent(ctx context.Context, hooks []models.Hook, payload any) []Result {
	ordered := Plan(hooks)
	results := make([]Result, 0, len(ordered))

	for _, h := range ordered {
		res := r.runOne(ctx, h, payload)
		results = append(results, res)
		if res.Err == nil && !res.Response.Continue && res.Response.Error == "" {
			// continue:false halts subsequent hooks for this event only,
			// but a hook that never ran (untrusted/crashed) is not this case.
			break
		}
	}
	return results
}

func (r *Runner) runOne(ctx context.Context, h models.Hook, payload any) Result {
	if r.trust != nil && !r.trust.IsTrusted(h) {
		return Result{Hook: h, Err: runtimeerrors.New(runtimeerrors.KindHookUntrusted, fmt.Sprintf("hook %q is not trusted", h.ID))}
	}

	timeout := h.Timeout
	if timeout <= 0 {
		timeout = defaultHookTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	in, err := json.Marshal(payload)
	if err != nil {
		return Result{Hook: h, Err: fmt.Errorf("agenthooks: encode payload for %q: %w", h.ID, err)}
	}

	cmd := exec.CommandContext(runCtx, h.Command, h.Args...)
	cmd.Stdin = bytes.NewReader(in)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Once the process is killed, stop waiting for output pipes held open
	// by any child it left behind.
	cmd.WaitDelay = time.Second

	if err := cmd.Run(); err != nil {
		r.logger.Warn("hook process failed", "id", h.ID, "event", h.Event,
			"error", runtimeerrors.Redact(err.Error()), "stderr", runtimeerrors.Redact(stderr.String()))
		kind := runtimeerrors.KindHookCrash
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			kind = runtimeerrors.KindHookTimeout
		}
		return Result{Hook: h, Err: runtimeerrors.Wrap(kind, fmt.Sprintf("hook %q", h.ID), err)}
	}

	var resp Response
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return Result{Hook: h, Err: fmt.Errorf("agenthooks: hook %q produced invalid JSON: %w", h.ID, err)}
	}
	// A hook that omits "continue" defaults to continuing.
	if !bytes.Contains(stdout.Bytes(), []byte(`"continue"`)) {
		resp.Continue = true
	}
	return Result{Hook: h, Response: resp}
}
