package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vantagesec/vantage/internal/agent"
	"github.com/vantagesec/vantage/internal/sandbox"
	"github.com/vantagesec/vantage/pkg/models"
)

// FileRead reads a sandbox file, optionally sliced by 1-based line range.
type FileRead struct {
	Handle    sandbox.Handle
	Truncator *agent.Truncator
}

func (t *FileRead) Name() string { return "file_read" }
func (t *FileRead) Description() string {
	return "Read a file from the sandbox filesystem. Use start_line and end_line to read large files in chunks."
}

func (t *FileRead) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "Absolute file path"},
			"start_line": {"type": "integer", "minimum": 1},
			"end_line": {"type": "integer", "minimum": 1}
		},
		"required": ["path"]
	}`)
}

func (t *FileRead) Execute(ctx context.Context, params json.RawMessage, sink agent.EventSink) (string, error) {
	var args struct {
		Path      string `json:"path"`
		StartLine int    `json:"start_line"`
		EndLine   int    `json:"end_line"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return "", fmt.Errorf("file_read arguments: %w", err)
	}
	if err := sink.Send(ctx, models.StatusEvent(models.StatusFileRead, args.Path)); err != nil {
		return "", err
	}

	content, err := t.Handle.ReadFile(ctx, args.Path, args.StartLine, args.EndLine)
	if err != nil {
		return "", err
	}
	return t.Truncator.ClipFile(content), nil
}

// FileWrite creates, overwrites, or appends to a sandbox file. The streamed
// status distinguishes creating a new file from editing an existing one,
// inferred from existence plus the append flag.
type FileWrite struct {
	Handle    sandbox.Handle
	Truncator *agent.Truncator
}

func (t *FileWrite) Name() string { return "file_write" }
func (t *FileWrite) Description() string {
	return "Write content to a sandbox file. Creates the file if missing; set append to add to the end instead of overwriting."
}

func (t *FileWrite) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string"},
			"content": {"type": "string"},
			"append": {"type": "boolean"}
		},
		"required": ["path", "content"]
	}`)
}

func (t *FileWrite) Execute(ctx context.Context, params json.RawMessage, sink agent.EventSink) (string, error) {
	var args struct {
		Path    string `json:"path"`
		Content string `json:"content"`
		Append  bool   `json:"append"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return "", fmt.Errorf("file_write arguments: %w", err)
	}

	exists, err := t.Handle.FileExists(ctx, args.Path)
	if err != nil {
		return "", err
	}
	status := models.StatusCreatingFile
	if exists || args.Append {
		status = models.StatusEditingFile
	}
	if err := sink.Send(ctx, models.StatusEvent(status, args.Path)); err != nil {
		return "", err
	}

	if err := t.Handle.WriteFile(ctx, args.Path, args.Content, args.Append); err != nil {
		return "", err
	}

	verb := "wrote"
	if args.Append {
		verb = "appended to"
	}
	echo := t.Truncator.ClipFile(args.Content)
	return fmt.Sprintf("%s %s:\n%s", verb, args.Path, echo), nil
}

// FileStrReplace substitutes a literal string in an existing file and
// reports how many occurrences changed.
type FileStrReplace struct {
	Handle    sandbox.Handle
	Truncator *agent.Truncator
}

func (t *FileStrReplace) Name() string { return "file_str_replace" }
func (t *FileStrReplace) Description() string {
	return "Replace every occurrence of a literal string in an existing sandbox file."
}

func (t *FileStrReplace) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string"},
			"old_str": {"type": "string", "minLength": 1},
			"new_str": {"type": "string"}
		},
		"required": ["path", "old_str", "new_str"]
	}`)
}

func (t *FileStrReplace) Execute(ctx context.Context, params json.RawMessage, sink agent.EventSink) (string, error) {
	var args struct {
		Path   string `json:"path"`
		OldStr string `json:"old_str"`
		NewStr string `json:"new_str"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return "", fmt.Errorf("file_str_replace arguments: %w", err)
	}
	if err := sink.Send(ctx, models.StatusEvent(models.StatusEditingFile, args.Path)); err != nil {
		return "", err
	}

	exists, err := t.Handle.FileExists(ctx, args.Path)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", fmt.Errorf("file %s does not exist", args.Path)
	}

	content, err := t.Handle.ReadFile(ctx, args.Path, 0, 0)
	if err != nil {
		return "", err
	}
	count := strings.Count(content, args.OldStr)
	if count == 0 {
		return fmt.Sprintf("no occurrences of %q in %s", args.OldStr, args.Path), nil
	}

	replaced := strings.ReplaceAll(content, args.OldStr, args.NewStr)
	if err := t.Handle.WriteFile(ctx, args.Path, replaced, false); err != nil {
		return "", err
	}
	return fmt.Sprintf("replaced %d occurrence(s) in %s", count, args.Path), nil
}
