package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuiltins_CoversSpecSurface(t *testing.T) {
	dir := t.TempDir()
	built := Builtins(BuiltinConfig{Workspace: dir})

	names := make(map[string]bool, len(built))
	for _, tool := range built {
		names[tool.Name()] = true
	}

	for _, want := range []string{
		"read_file", "read_many_files", "write_file", "edit_file",
		"glob", "grep", "ls", "shell", "web_fetch", "web_search",
		"memory", "write_todos",
	} {
		require.True(t, names[want], "missing built-in tool %q", want)
	}
}

func TestRegisterBuiltins_ListIsSortedByName(t *testing.T) {
	dir := t.TempDir()
	reg := NewRegistry()
	RegisterBuiltins(reg, BuiltinConfig{Workspace: dir})

	list := reg.List()
	require.True(t, len(list) >= 12)
	for i := 1; i < len(list); i++ {
		require.Less(t, list[i-1].Name(), list[i].Name())
	}
}

func TestMemoryTool_SetGetDeleteRoundTrip(t *testing.T) {
	dir := t.TempDir()
	tool := NewMemoryTool(dir + "/memory.json")

	setInv, err := tool.Build([]byte(`{"action":"set","key":"k","value":"v"}`))
	require.NoError(t, err)
	res, err := setInv.Execute(context.Background(), nil)
	require.NoError(t, err)
	require.False(t, res.IsError)

	getInv, err := tool.Build([]byte(`{"action":"get","key":"k"}`))
	require.NoError(t, err)
	res, err = getInv.Execute(context.Background(), nil)
	require.NoError(t, err)
	require.Contains(t, res.LLMContent, "\"v\"")

	delInv, err := tool.Build([]byte(`{"action":"delete","key":"k"}`))
	require.NoError(t, err)
	res, err = delInv.Execute(context.Background(), nil)
	require.NoError(t, err)
	require.False(t, res.IsError)

	getInv, err = tool.Build([]byte(`{"action":"get","key":"k"}`))
	require.NoError(t, err)
	res, err = getInv.Execute(context.Background(), nil)
	require.NoError(t, err)
	require.True(t, res.IsError)
}

func TestWriteTodosTool_ReplacesWholeList(t *testing.T) {
	store := NewTodoStore()
	tool := NewWriteTodosTool(store)

	inv, err := tool.Build([]byte(`{"todos":[{"content":"a","status":"pending"}]}`))
	require.NoError(t, err)
	_, err = inv.Execute(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, store.Get(), 1)

	inv, err = tool.Build([]byte(`{"todos":[]}`))
	require.NoError(t, err)
	_, err = inv.Execute(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, store.Get(), 0)
}

func TestShellToolConfirmation(t *testing.T) {
	dir := t.TempDir()
	reg := NewRegistry()
	require.NoError(t, RegisterBuiltins(reg, BuiltinConfig{Workspace: dir}))

	tool, ok := reg.Get("shell")
	require.True(t, ok)

	inv, err := tool.Build([]byte(`{"command":"ls -la"}`))
	require.NoError(t, err)
	_, need := inv.ShouldConfirm(context.Background())
	require.False(t, need, "plain ls must not require confirmation")

	inv, err = tool.Build([]byte(`{"command":"rm -rf /; echo done"}`))
	require.NoError(t, err)
	details, need := inv.ShouldConfirm(context.Background())
	require.True(t, need)
	require.Contains(t, details.Summary, "rm -rf /")
}
