package agenthooks

import (
	"testing"

	"github.com/ollm-core/agentcore/pkg/models"
)

func TestRegistryRejectsUnknownEvent(t *testing.T) {
	r := NewRegistry()
	err := r.Register(models.Hook{ID: "h1", Event: "not-a-real-event", Command: "true"})
	if err == nil {
		t.Fatal("expected an error for an unknown event")
	}
}

func TestRegistryRejectsDuplicateID(t *testing.T) {
	r := NewRegistry()
	h := models.Hook{ID: "h1", Event: models.HookEventBeforeTool, Command: "true"}
	if err := r.Register(h); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(h); err == nil {
		t.Fatal("expected a duplicate-id error")
	}
}

func TestRegistryPreservesInsertionOrder(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"a", "b", "c"} {
		if err := r.Register(models.Hook{ID: id, Event: models.HookEventBeforeTool, Command: "true"}); err != nil {
			t.Fatal(err)
		}
	}
	hooks := r.Hooks(models.HookEventBeforeTool)
	if len(hooks) != 3 || hooks[0].ID != "a" || hooks[1].ID != "b" || hooks[2].ID != "c" {
		t.Fatalf("unexpected order: %+v", hooks)
	}
}

func TestRegistryUnregisterRemovesHook(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(models.Hook{ID: "a", Event: models.HookEventAfterTool, Command: "true"}); err != nil {
		t.Fatal(err)
	}
	if !r.Unregister("a") {
		t.Fatal("expected unregister to succeed")
	}
	if len(r.Hooks(models.HookEventAfterTool)) != 0 {
		t.Fatal("expected no hooks remaining after unregister")
	}
	if r.Unregister("a") {
		t.Fatal("expected a second unregister of the same id to return false")
	}
}
