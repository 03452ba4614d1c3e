// Package sandbox provides per-user remote execution environments. Each user
// gets one persistent sandbox exposing a shell and a filesystem; agent tools
// run against it through the Handle interface.
package sandbox

import (
	"context"
	"errors"
)

// ErrUnavailable indicates the sandbox provider could not be reached or the
// sandbox is gone. Unlike tool-level errors, this aborts the whole turn.
var ErrUnavailable = errors.New("sandbox: unavailable")

// ExecResult is the outcome of a shell command.
type ExecResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// Output concatenates stdout and stderr the way a terminal would show them.
func (r ExecResult) Output() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// Handle is one live sandbox. Implementations must be safe for sequential
// use within a turn; the Manager serializes handle creation per user.
type Handle interface {
	// ID identifies the sandbox at the provider.
	ID() string
	// Exec runs a command in the working directory and waits for it.
	Exec(ctx context.Context, command string) (ExecResult, error)
	// ExecDetached starts a command and returns without waiting.
	ExecDetached(ctx context.Context, command string) error
	// ReadFile returns file content, optionally sliced by 1-based line
	// range. endLine <= 0 means "to the end".
	ReadFile(ctx context.Context, path string, startLine, endLine int) (string, error)
	// WriteFile creates or overwrites path; append appends instead.
	WriteFile(ctx context.Context, path, content string, append bool) error
	// FileExists reports whether path exists.
	FileExists(ctx context.Context, path string) (bool, error)
	// ExposePort returns a public URL forwarding to a sandbox port.
	ExposePort(ctx context.Context, port int) (string, error)
	// Close releases the sandbox at the provider.
	Close(ctx context.Context) error
}
