package agenthooks

import (
	"context"
	"testing"
	"time"

	"github.com/ollm-core/agentcore/pkg/models"
)

func echoContinueHook(id string, source models.HookSource) models.Hook {
	return models.Hook{
		ID:      id,
		Event:   models.HookEventBeforeTool,
		Source:  source,
		Command: "sh",
		Args:    []string{"-c", `cat >/dev/null; echo '{"continue":true}'`},
	}
}

func haltingHook(id string, source models.HookSource) models.Hook {
	return models.Hook{
		ID:      id,
		Event:   models.HookEventBeforeTool,
		Source:  source,
		Command: "sh",
		Args:    []string{"-c", `cat >/dev/null; echo '{"continue":false}'`},
	}
}

func TestRunnerExecutesTrustedHookAndReadsResponse(t *testing.T) {
	trust, err := NewTrustStore(t.TempDir()+"/trust.json", nil)
	if err != nil {
		t.Fatal(err)
	}
	r := NewRunner(trust, nil)

	hooks := []models.Hook{echoContinueHook("h1", models.HookSourceBuiltin)}
	results := r.RunEvent(context.Background(), hooks, BeforeToolPayload{ToolName: "shell"})

	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Err != nil {
		t.Fatalf("unexpected error: %v", results[0].Err)
	}
	if !results[0].Response.Continue {
		t.Fatal("expected continue:true")
	}
}

func TestRunnerHaltsOnContinueFalse(t *testing.T) {
	trust, err := NewTrustStore(t.TempDir()+"/trust.json", nil)
	if err != nil {
		t.Fatal(err)
	}
	r := NewRunner(trust, nil)

	hooks := []models.Hook{
		haltingHook("h1", models.HookSourceBuiltin),
		echoContinueHook("h2", models.HookSourceBuiltin),
	}
	results := r.RunEvent(context.Background(), hooks, BeforeToolPayload{ToolName: "shell"})

	if len(results) != 1 {
		t.Fatalf("expected execution to halt after the first hook, got %d results", len(results))
	}
}

func TestRunnerSkipsUntrustedHookButContinues(t *testing.T) {
	trust, err := NewTrustStore(t.TempDir()+"/trust.json", nil)
	if err != nil {
		t.Fatal(err)
	}
	r := NewRunner(trust, nil)

	hooks := []models.Hook{
		{ID: "untrusted", Event: models.HookEventBeforeTool, Source: models.HookSourceWorkspace, Command: "sh", Args: []string{"-c", "true"}},
		echoContinueHook("ok", models.HookSourceBuiltin),
	}
	results := r.RunEvent(context.Background(), hooks, BeforeToolPayload{ToolName: "shell"})

	if len(results) != 2 {
		t.Fatalf("expected both hooks to produce a result, got %d", len(results))
	}
	if results[0].Err == nil {
		t.Fatal("expected the untrusted hook to report an error")
	}
	if results[1].Err != nil {
		t.Fatalf("expected the builtin hook to still run, got error: %v", results[1].Err)
	}
}

func TestRunnerKillsProcessOnTimeout(t *testing.T) {
	trust, err := NewTrustStore(t.TempDir()+"/trust.json", nil)
	if err != nil {
		t.Fatal(err)
	}
	r := NewRunner(trust, nil)

	hooks := []models.Hook{{
		ID:      "slow",
		Event:   models.HookEventBeforeTool,
		Source:  models.HookSourceBuiltin,
		Command: "sh",
		Args:    []string{"-c", "sleep 5"},
		Timeout: 50 * time.Millisecond,
	}}
	start := time.Now()
	results := r.RunEvent(context.Background(), hooks, BeforeToolPayload{ToolName: "shell"})
	elapsed := time.Since(start)

	if len(results) != 1 || results[0].Err == nil {
		t.Fatalf("expected a timeout error, got %+v", results)
	}
	if elapsed > 2*time.Second {
		t.Fatalf("expected the hook to be killed near its timeout, took %s", elapsed)
	}
}

func TestRunnerMissingContinueDefaultsToTrue(t *testing.T) {
	trust, err := NewTrustStore(t.TempDir()+"/trust.json", nil)
	if err != nil {
		t.Fatal(err)
	}
	r := NewRunner(trust, nil)

	hooks := []models.Hook{{
		ID:      "bare",
		Event:   models.HookEventBeforeTool,
		Source:  models.HookSourceBuiltin,
		Command: "sh",
		Args:    []string{"-c", `cat >/dev/null; echo '{}'`},
	}}
	results := r.RunEvent(context.Background(), hooks, BeforeToolPayload{ToolName: "shell"})
	if len(results) != 1 || results[0].Err != nil {
		t.Fatalf("unexpected result: %+v", results)
	}
	if !results[0].Response.Continue {
		t.Fatal("expected a missing continue field to default to true")
	}
}
