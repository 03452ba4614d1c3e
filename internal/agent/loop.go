package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/vantagesec/vantage/internal/observability"
	"github.com/vantagesec/vantage/internal/sandbox"
	"github.com/vantagesec/vantage/pkg/models"
)

// DefaultMaxSteps bounds provider round trips per turn. The route-level
// deadline bounds wall time independently.
const DefaultMaxSteps = 30

// UploadMountPath is where staged file payloads land in the sandbox
// filesystem before the loop starts.
const UploadMountPath = "/workspace/uploads"

// StagedFile is a user attachment written into the sandbox before the model
// runs, referenced by path from the conversation.
type StagedFile struct {
	Name    string
	Content string
}

// Request is one agent turn.
type Request struct {
	Model          string
	MaxTokens      int
	EnableThinking bool
	System         string
	Messages       []CompletionMessage
	// StagedFiles are written once into the sandbox under UploadMountPath
	// before the first provider call.
	StagedFiles []StagedFile
	Sandbox     sandbox.Handle
	Sink        EventSink
}

// Outcome is the terminal state of one agent turn. The caller persists it;
// the loop never touches the store.
type Outcome struct {
	Text         string
	Thinking     string
	ThinkingSecs float64
	FinishReason models.FinishReason
	// DraftCommand is set when ask_shell_exec fired: the command awaiting
	// user confirmation, persisted so the confirm request can resume the
	// same state.
	DraftCommand string
	Steps        int
}

// Loop is the agent orchestrator: a state machine over one conversation
// turn driven entirely by the model's tool-call choices. It validates each
// call, executes or defers it, streams progress in real time, and feeds
// results back until a terminating tool fires or a budget is hit.
type Loop struct {
	provider LLMProvider
	registry *Registry
	logger   *observability.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	maxSteps int
}

// NewLoop creates an orchestrator.
func NewLoop(provider LLMProvider, registry *Registry, logger *observability.Logger, metrics *observability.Metrics) *Loop {
	return &Loop{
		provider: provider,
		registry: registry,
		logger:   logger,
		metrics:  metrics,
		maxSteps: DefaultMaxSteps,
	}
}

// WithTracer attaches span instrumentation to tool executions.
func (l *Loop) WithTracer(t *observability.Tracer) *Loop {
	l.tracer = t
	return l
}

// Run executes one agent turn. Tool-level failures become error results the
// model can react to; only sandbox-connection failures and unrecoverable
// provider errors return a non-nil error. A canceled context yields an
// aborted Outcome, not an error, so partial output is still persisted.
func (l *Loop) Run(ctx context.Context, req *Request) (*Outcome, error) {
	if err := l.stageFiles(ctx, req); err != nil {
		return nil, err
	}

	out := &Outcome{FinishReason: models.FinishStop}
	messages := append([]CompletionMessage(nil), req.Messages...)
	defs := l.registry.Defs()

	for step := 0; step < l.maxSteps; step++ {
		out.Steps = step + 1

		chunks, err := l.provider.Complete(ctx, &CompletionRequest{
			Model:          req.Model,
			System:         req.System,
			Messages:       messages,
			Tools:          defs,
			MaxTokens:      req.MaxTokens,
			EnableThinking: req.EnableThinking,
		})
		if err != nil {
			if ctx.Err() != nil {
				out.FinishReason = models.FinishAborted
				return out, nil
			}
			return nil, fmt.Errorf("provider %s: %w", l.provider.Name(), err)
		}

		stepText, toolCalls, err := l.consume(ctx, chunks, req.Sink, out)
		if err != nil {
			if ctx.Err() != nil {
				out.FinishReason = models.FinishAborted
				return out, nil
			}
			return nil, err
		}
		out.Text += stepText

		if len(toolCalls) == 0 {
			return out, nil
		}

		assistant := CompletionMessage{
			Role:      string(models.RoleAssistant),
			Content:   stepText,
			ToolCalls: toolCalls,
		}
		results := CompletionMessage{Role: "tool"}

		for _, call := range toolCalls {
			done, err := l.dispatch(ctx, call, req, out, &results)
			if err != nil {
				return nil, err
			}
			if done {
				return out, nil
			}
		}
		messages = append(messages, assistant, results)
	}

	l.logger.Warn(ctx, "agent loop hit step budget", "steps", l.maxSteps)
	return out, nil
}

// dispatch handles one tool call. It returns done=true when a terminating
// tool fired; errors abort the whole turn.
func (l *Loop) dispatch(ctx context.Context, call models.ToolCall, req *Request, out *Outcome, results *CompletionMessage) (bool, error) {
	if err := req.Sink.Send(ctx, models.StreamEvent{Type: models.EventToolCall, ToolCall: &call}); err != nil {
		return false, err
	}

	tool, ok := l.registry.Get(call.Name)
	if !ok {
		results.ToolResults = append(results.ToolResults, models.ToolResult{
			ToolCallID: call.ID,
			Content:    fmt.Sprintf("unknown tool %q", call.Name),
			IsError:    true,
		})
		return false, nil
	}

	if l.registry.Terminating(call.Name) {
		return true, l.terminate(ctx, call, req, out)
	}

	if err := l.registry.ValidateArgs(call.Name, call.Input); err != nil {
		results.ToolResults = append(results.ToolResults, models.ToolResult{
			ToolCallID: call.ID,
			Content:    err.Error(),
			IsError:    true,
		})
		return false, nil
	}

	execCtx := ctx
	if l.tracer != nil {
		var span trace.Span
		execCtx, span = l.tracer.StartToolExecution(ctx, call.Name)
		defer span.End()
	}

	start := time.Now()
	content, execErr := tool.(Executable).Execute(execCtx, call.Input, req.Sink)
	if l.metrics != nil {
		status := "success"
		if execErr != nil {
			status = "error"
		}
		l.metrics.RecordToolExecution(call.Name, status, time.Since(start).Seconds())
	}

	if execErr != nil {
		// Sandbox loss is unrecoverable; everything else goes back to
		// the model as an error result it can react to.
		if errors.Is(execErr, sandbox.ErrUnavailable) || ctx.Err() != nil {
			return false, execErr
		}
		l.logger.Warn(ctx, "tool execution failed", "tool", call.Name, "error", execErr)
		results.ToolResults = append(results.ToolResults, models.ToolResult{
			ToolCallID: call.ID,
			Content:    fmt.Sprintf("tool %s failed: %v", call.Name, execErr),
			IsError:    true,
		})
		return false, nil
	}

	result := models.ToolResult{ToolCallID: call.ID, Content: content}
	results.ToolResults = append(results.ToolResults, result)
	if err := req.Sink.Send(ctx, models.StreamEvent{Type: models.EventToolResult, ToolResult: &result}); err != nil {
		return false, err
	}
	return false, nil
}

// terminate resolves a terminating tool into the turn's finish reason.
func (l *Loop) terminate(ctx context.Context, call models.ToolCall, req *Request, out *Outcome) error {
	switch call.Name {
	case "idle":
		out.FinishReason = models.FinishIdle
	case "message_ask_user":
		out.FinishReason = models.FinishAskUser
		var args struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(call.Input, &args); err == nil && args.Text != "" {
			out.Text += args.Text
			if err := req.Sink.Send(ctx, models.TextDelta(args.Text)); err != nil {
				return err
			}
		}
	case "ask_shell_exec":
		// Confirmation mode: echo the command, persist it as a draft,
		// and suspend. The confirm request resumes this exact state.
		out.FinishReason = models.FinishTerminalAskUser
		var args struct {
			Command string `json:"command"`
		}
		if err := json.Unmarshal(call.Input, &args); err != nil {
			return fmt.Errorf("ask_shell_exec arguments: %w", err)
		}
		out.DraftCommand = args.Command
		if err := req.Sink.Send(ctx, models.StatusEvent(models.StatusTerminal, args.Command)); err != nil {
			return err
		}
	default:
		l.logger.Warn(ctx, "unmapped terminating tool", "tool", call.Name)
		out.FinishReason = models.FinishStop
	}
	return nil
}

// consume drains one provider stream, forwarding deltas to the sink and
// collecting tool calls.
func (l *Loop) consume(ctx context.Context, chunks <-chan *CompletionChunk, sink EventSink, out *Outcome) (string, []models.ToolCall, error) {
	var text string
	var calls []models.ToolCall
	var thinkingStart time.Time

	for chunk := range chunks {
		if chunk.Error != nil {
			return text, calls, chunk.Error
		}
		if chunk.Thinking != "" {
			if thinkingStart.IsZero() {
				thinkingStart = time.Now()
			}
			out.Thinking += chunk.Thinking
			if err := sink.Send(ctx, models.ReasoningDelta(chunk.Thinking)); err != nil {
				return text, calls, err
			}
		}
		if chunk.Text != "" {
			if !thinkingStart.IsZero() {
				elapsed := time.Since(thinkingStart).Seconds()
				out.ThinkingSecs += elapsed
				thinkingStart = time.Time{}
				if err := sink.Send(ctx, models.StreamEvent{Type: models.EventThinkingTime, ThinkingSecs: elapsed}); err != nil {
					return text, calls, err
				}
			}
			text += chunk.Text
			if err := sink.Send(ctx, models.TextDelta(chunk.Text)); err != nil {
				return text, calls, err
			}
		}
		if chunk.ToolCall != nil {
			calls = append(calls, *chunk.ToolCall)
		}
	}
	if !thinkingStart.IsZero() {
		out.ThinkingSecs += time.Since(thinkingStart).Seconds()
	}
	return text, calls, ctx.Err()
}

func (l *Loop) stageFiles(ctx context.Context, req *Request) error {
	if len(req.StagedFiles) == 0 || req.Sandbox == nil {
		return nil
	}
	for _, f := range req.StagedFiles {
		dest := path.Join(UploadMountPath, f.Name)
		if err := req.Sandbox.WriteFile(ctx, dest, f.Content, false); err != nil {
			return fmt.Errorf("stage %s: %w", f.Name, err)
		}
		l.logger.Debug(ctx, "staged file", "path", dest)
	}
	return nil
}
