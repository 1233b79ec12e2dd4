// Package toolexec provides a shell-exec Tool packaged as an
// autohands.Extension. Commands run directly via os/exec inside a fixed
// workspace directory, bounded by a blocklist, a timeout, and output
// truncation; anything needing stronger isolation belongs in an agent
// driver outside this module's scope. The package doubles as the
// reference example for registering a Tool through the Extension
// lifecycle rather than constructing it directly.
package toolexec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	autohands "github.com/autohands/runloop"
)

const maxOutputBytes = 4000

// blockedSubstrings are checked case-insensitively before executing a
// command.
var blockedSubstrings = []string{"rm -rf /", "sudo ", "mkfs", "> /dev/", "dd if="}

// Extension registers a "shell_exec" Tool that runs commands via
// os/exec within a fixed workspace directory and timeout. It has no
// Dependencies and provides the "shell_exec" tool under whatever
// ExtensionManifest.ID the caller configures.
type Extension struct {
	id             string
	workspacePath  string
	defaultTimeout time.Duration
	logger         *slog.Logger
}

// New creates a toolexec Extension. id is the ExtensionManifest id (and
// Tool RegistryID); workspacePath is the directory commands run in;
// defaultTimeout bounds execution when a call doesn't specify one (capped
// at 5 minutes regardless).
func New(id, workspacePath string, defaultTimeout time.Duration, logger *slog.Logger) *Extension {
	if logger == nil {
		logger = slog.Default()
	}
	if defaultTimeout <= 0 {
		defaultTimeout = 30 * time.Second
	}
	return &Extension{id: id, workspacePath: workspacePath, defaultTimeout: defaultTimeout, logger: logger}
}

func (e *Extension) Manifest() autohands.ExtensionManifest {
	return autohands.ExtensionManifest{ID: e.id, Version: "1.0.0"}
}

// Initialize registers the shell_exec Tool into ectx.Tools.
func (e *Extension) Initialize(ctx context.Context, ectx autohands.ExtensionContext) error {
	if ectx.Tools == nil {
		return fmt.Errorf("toolexec: ExtensionContext.Tools is nil")
	}
	return ectx.Tools.Register(&shellTool{
		id:             e.id,
		workspacePath:  e.workspacePath,
		defaultTimeout: e.defaultTimeout,
		logger:         e.logger,
	})
}

// Shutdown is a no-op: the Tool holds no resources beyond its config.
func (e *Extension) Shutdown(ctx context.Context) error { return nil }

type shellTool struct {
	id             string
	workspacePath  string
	defaultTimeout time.Duration
	logger         *slog.Logger
}

func (t *shellTool) RegistryID() string { return t.id }

func (t *shellTool) Definitions() []autohands.ToolDefinition {
	return []autohands.ToolDefinition{{
		Name:        "shell_exec",
		Description: "Execute a shell command in the workspace directory. Returns stdout + stderr.",
		Parameters: json.RawMessage(`{"type":"object","properties":{
			"command":{"type":"string","description":"Shell command to execute"},
			"timeout_secs":{"type":"integer","description":"Timeout in seconds (default 30, max 300)"}
		},"required":["command"]}`),
	}}
}

func (t *shellTool) Execute(ctx context.Context, name string, args json.RawMessage) (autohands.ToolResult, error) {
	var params struct {
		Command     string `json:"command"`
		TimeoutSecs int    `json:"timeout_secs"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return autohands.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}
	if params.Command == "" {
		return autohands.ToolResult{Error: "command is required"}, nil
	}

	lower := strings.ToLower(params.Command)
	for _, b := range blockedSubstrings {
		if strings.Contains(lower, b) {
			return autohands.ToolResult{Error: "command blocked for safety: " + b}, nil
		}
	}

	timeout := t.defaultTimeout
	if params.TimeoutSecs > 0 {
		timeout = time.Duration(params.TimeoutSecs) * time.Second
	}
	if timeout > 5*time.Minute {
		timeout = 5 * time.Minute
	}

	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, "sh", "-c", params.Command)
	cmd.Dir = t.workspacePath

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	t.logger.Debug("toolexec: shell_exec ran", "command", params.Command, "err", err)

	output := stdout.String()
	if stderr.Len() > 0 {
		if output != "" {
			output += "\n--- stderr ---\n"
		}
		output += stderr.String()
	}
	if len(output) > maxOutputBytes {
		output = output[:maxOutputBytes] + "\n... (truncated)"
	}

	if err != nil {
		if cmdCtx.Err() == context.DeadlineExceeded {
			return autohands.ToolResult{Content: output, Error: fmt.Sprintf("command timed out after %s", timeout)}, nil
		}
		if output == "" {
			output = err.Error()
		}
		return autohands.ToolResult{Content: output, Error: "exit: " + err.Error()}, nil
	}

	if output == "" {
		output = "(no output)"
	}
	return autohands.ToolResult{Content: output}, nil
}

var (
	_ autohands.Extension = (*Extension)(nil)
	_ autohands.Tool      = (*shellTool)(nil)
)
