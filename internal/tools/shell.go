// Package tools implements the agent tool set: shell execution, file
// access, web search, messaging, and port exposure, all running against a
// per-user sandbox.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vantagesec/vantage/internal/agent"
	"github.com/vantagesec/vantage/internal/sandbox"
	"github.com/vantagesec/vantage/pkg/models"
)

const shellSchema = `{
	"type": "object",
	"properties": {
		"command": {
			"type": "string",
			"description": "Shell command to run in the sandbox working directory"
		}
	},
	"required": ["command"]
}`

type shellArgs struct {
	Command string `json:"command"`
}

// ShellExec runs a shell command in the sandbox and waits for it. The raw
// command is echoed as a terminal status, stdout streams to the client
// under the UI bound, and the model keeps the larger bounded view.
type ShellExec struct {
	Handle    sandbox.Handle
	Truncator *agent.Truncator
}

func (t *ShellExec) Name() string { return "shell_exec" }
func (t *ShellExec) Description() string {
	return "Run a shell command in the sandbox and wait for it to finish. Returns stdout and stderr."
}
func (t *ShellExec) Schema() json.RawMessage { return json.RawMessage(shellSchema) }

func (t *ShellExec) Execute(ctx context.Context, params json.RawMessage, sink agent.EventSink) (string, error) {
	var args shellArgs
	if err := json.Unmarshal(params, &args); err != nil {
		return "", fmt.Errorf("shell_exec arguments: %w", err)
	}
	if err := sink.Send(ctx, models.StatusEvent(models.StatusTerminal, args.Command)); err != nil {
		return "", err
	}

	res, err := t.Handle.Exec(ctx, args.Command)
	if err != nil {
		return "", err
	}

	output := res.Output()
	if res.ExitCode != 0 {
		output = fmt.Sprintf("%s\n(exit code %d)", output, res.ExitCode)
	}
	ui, model := t.Truncator.Split(output)
	if err := sink.Send(ctx, models.TextDelta(ui)); err != nil {
		return "", err
	}
	return model, nil
}

// ShellBackground starts a command detached; the loop does not block on
// its completion.
type ShellBackground struct {
	Handle sandbox.Handle
}

func (t *ShellBackground) Name() string { return "shell_background" }
func (t *ShellBackground) Description() string {
	return "Start a long-running shell command in the background without waiting for it. Use shell_wait to give it time, then check its output files."
}
func (t *ShellBackground) Schema() json.RawMessage { return json.RawMessage(shellSchema) }

func (t *ShellBackground) Execute(ctx context.Context, params json.RawMessage, sink agent.EventSink) (string, error) {
	var args shellArgs
	if err := json.Unmarshal(params, &args); err != nil {
		return "", fmt.Errorf("shell_background arguments: %w", err)
	}
	if err := sink.Send(ctx, models.StatusEvent(models.StatusTerminal, args.Command)); err != nil {
		return "", err
	}
	if err := t.Handle.ExecDetached(ctx, args.Command); err != nil {
		return "", err
	}
	return fmt.Sprintf("started in background: %s", args.Command), nil
}
