package toolexec

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	autohands "github.com/autohands/runloop"
)

func TestShellExecEcho(t *testing.T) {
	dir := t.TempDir()
	ext := New("toolexec", dir, 5*time.Second, nil)
	tools := autohands.NewToolRegistry()
	if err := ext.Initialize(context.Background(), autohands.ExtensionContext{Tools: tools}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	args, _ := json.Marshal(map[string]any{"command": "echo hello"})
	result, err := tools.Execute(context.Background(), "shell_exec", args)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Error != "" {
		t.Fatalf("unexpected error: %s", result.Error)
	}
	if result.Content != "hello\n" {
		t.Errorf("expected %q, got %q", "hello\n", result.Content)
	}
}

func mustRegisterTool(t *testing.T, ext *Extension) autohands.Tool {
	t.Helper()
	tools := autohands.NewToolRegistry()
	if err := ext.Initialize(context.Background(), autohands.ExtensionContext{Tools: tools}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	tool, ok := tools.Get(ext.Manifest().ID)
	if !ok {
		t.Fatalf("tool %q not registered", ext.Manifest().ID)
	}
	return tool
}

func TestShellExecBlocked(t *testing.T) {
	tool := mustRegisterTool(t, New("toolexec", t.TempDir(), 5*time.Second, nil))

	args, _ := json.Marshal(map[string]any{"command": "sudo rm -rf /"})
	result, err := tool.Execute(context.Background(), "shell_exec", args)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Error == "" {
		t.Fatal("expected blocked command to report an error")
	}
}

func TestShellExecTimeout(t *testing.T) {
	tool := mustRegisterTool(t, New("toolexec", t.TempDir(), 50*time.Millisecond, nil))

	args, _ := json.Marshal(map[string]any{"command": "sleep 5"})
	result, err := tool.Execute(context.Background(), "shell_exec", args)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Error == "" {
		t.Fatal("expected timeout to report an error")
	}
}

func TestManifestHasNoDependencies(t *testing.T) {
	ext := New("toolexec", t.TempDir(), 0, nil)
	m := ext.Manifest()
	if m.ID != "toolexec" {
		t.Errorf("expected id %q, got %q", "toolexec", m.ID)
	}
	if len(m.Dependencies) != 0 {
		t.Errorf("expected no dependencies, got %v", m.Dependencies)
	}
}
