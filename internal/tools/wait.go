package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vantagesec/vantage/internal/agent"
	"github.com/vantagesec/vantage/pkg/models"
)

// Per-call wait limits: sleeps happen in fixed increments so countdown
// events flow and cancellation is observed promptly; the cap is enforced
// before any sleeping starts.
const (
	waitIncrement = 15 * time.Second
	waitCap       = 240 * time.Second
)

// ShellWait sleeps so a background command can make progress, emitting
// remaining-time updates as it goes.
type ShellWait struct {
	// sleep is swappable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewShellWait creates the wait tool.
func NewShellWait() *ShellWait {
	return &ShellWait{sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (t *ShellWait) Name() string { return "shell_wait" }
func (t *ShellWait) Description() string {
	return "Wait the given number of seconds (maximum 240) for a background command to make progress."
}

func (t *ShellWait) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"seconds": {
				"type": "integer",
				"minimum": 1,
				"description": "How long to wait, in seconds. At most 240."
			}
		},
		"required": ["seconds"]
	}`)
}

func (t *ShellWait) Execute(ctx context.Context, params json.RawMessage, sink agent.EventSink) (string, error) {
	var args struct {
		Seconds int `json:"seconds"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return "", fmt.Errorf("shell_wait arguments: %w", err)
	}

	requested := time.Duration(args.Seconds) * time.Second
	if requested > waitCap {
		// No partial wait: the request itself is out of contract.
		return "", fmt.Errorf("shell_wait supports at most %.0f seconds per call, got %d", waitCap.Seconds(), args.Seconds)
	}

	remaining := requested
	for remaining > 0 {
		step := waitIncrement
		if remaining < step {
			step = remaining
		}
		if err := sink.Send(ctx, models.StatusEvent(models.StatusShellWait,
			fmt.Sprintf("%.0fs remaining", remaining.Seconds()))); err != nil {
			return "", err
		}
		if err := t.sleep(ctx, step); err != nil {
			return "", err
		}
		remaining -= step
	}
	return fmt.Sprintf("waited %d seconds", args.Seconds), nil
}
