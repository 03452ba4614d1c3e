package server

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/vantagesec/vantage/internal/agent"
	"github.com/vantagesec/vantage/internal/auth"
	"github.com/vantagesec/vantage/internal/catalog"
	"github.com/vantagesec/vantage/internal/executors"
	"github.com/vantagesec/vantage/internal/pipeline"
	"github.com/vantagesec/vantage/internal/reconcile"
	"github.com/vantagesec/vantage/internal/sandbox"
	"github.com/vantagesec/vantage/internal/store"
	"github.com/vantagesec/vantage/internal/tokens"
	"github.com/vantagesec/vantage/internal/tools"
	"github.com/vantagesec/vantage/pkg/models"
)

// TurnRequest is the JSON body shared by the three streaming routes.
type TurnRequest struct {
	ChatID   string           `json:"chat_id"`
	Model    string           `json:"model"`
	Messages []models.Message `json:"messages"`
	// Plugin selects browser/websearch behavior on the chat route; the
	// agent and tasks routes fix their own plugin.
	Plugin      models.Plugin `json:"plugin,omitempty"`
	ModelParams ModelParams   `json:"modelParams,omitempty"`
	Metadata    TurnMetadata  `json:"chatMetadata,omitempty"`
}

// ModelParams tunes one turn's provider call.
type ModelParams struct {
	Reasoning bool `json:"reasoning,omitempty"`
	MaxTokens int  `json:"max_tokens,omitempty"`
}

// TurnMetadata carries the turn variant flags.
type TurnMetadata struct {
	// Temporary conversations are never persisted.
	Temporary bool `json:"temporary,omitempty"`
	// Continuation splices output onto the existing last assistant
	// message (terminal continuation, confirm-command).
	Continuation bool `json:"continuation,omitempty"`
	// Regenerate discards the previous assistant message first.
	Regenerate bool `json:"regenerate,omitempty"`
	// EditSequence, when > 0, discards history from that sequence.
	EditSequence int `json:"edit_sequence,omitempty"`
	// AskMode makes the agent propose shell commands instead of running
	// them.
	AskMode bool `json:"ask_mode,omitempty"`
	// URL is the page target for the browser plugin.
	URL string `json:"url,omitempty"`
}

var urlPattern = regexp.MustCompile(`https?://[^\s<>"']+`)

// historyLimit bounds how much stored history a continuation or regenerate
// turn reloads. Well above the store's default page so long chats keep
// their newest messages in the prompt.
const historyLimit = 100000

// turnHandler builds the streaming handler for one route. basePlugin fixes
// the plugin for the agent and tasks routes; the chat route takes it from
// the request.
func (s *Server) turnHandler(basePlugin models.Plugin, budget time.Duration) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ := auth.UserFromContext(r.Context())

		var req TurnRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		if req.ChatID == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "chat_id is required")
			return
		}
		if len(req.Messages) == 0 && !req.Metadata.Continuation && !req.Metadata.Regenerate {
			writeError(w, http.StatusBadRequest, "invalid_request", "messages must not be empty")
			return
		}

		plugin := basePlugin
		if plugin == models.PluginNone && req.Plugin.Valid() {
			plugin = req.Plugin
		}

		selection, err := s.deps.Catalog.Select(req.Model, plugin, user.Tier)
		var unknown *catalog.ErrUnknownModel
		var premium *catalog.ErrPremiumRequired
		switch {
		case errors.As(err, &unknown):
			writeError(w, http.StatusBadRequest, "invalid_model", err.Error())
			return
		case errors.As(err, &premium):
			writeError(w, http.StatusForbidden, "premium_required", err.Error())
			return
		case err != nil:
			writeError(w, http.StatusInternalServerError, "internal_error", "model selection failed")
			return
		}

		// Quota check precedes every side effect: a denied request
		// creates no chat or message rows.
		decision := s.deps.Limiter.Check(user.ID, selection.RateLimitKey, user.Tier)
		if !decision.Allowed {
			s.deps.Metrics.RateLimitCounter.WithLabelValues(selection.RateLimitKey).Inc()
			writeRateLimited(w, decision.Info)
			return
		}

		s.runTurn(w, r, turnState{
			route:     routeName(basePlugin),
			user:      user,
			req:       req,
			plugin:    plugin,
			selection: selection,
			budget:    budget,
			quota:     decision.Info,
		})
	})
}

type turnState struct {
	route     string
	user      *models.User
	req       TurnRequest
	plugin    models.Plugin
	selection catalog.Selection
	budget    time.Duration
	quota     models.RateLimitInfo
}

func routeName(basePlugin models.Plugin) string {
	switch basePlugin {
	case models.PluginTerminal:
		return "agent"
	case models.PluginDeepResearch:
		return "tasks"
	default:
		return "chat"
	}
}

func (s *Server) runTurn(w http.ResponseWriter, r *http.Request, st turnState) {
	ctx, cancel := context.WithTimeout(r.Context(), st.budget)
	defer cancel()

	ctx, span := s.deps.Tracer.StartTurn(ctx, st.route, st.req.ChatID)
	defer span.End()

	// History for continuation and regeneration turns comes from the
	// store, not the request body.
	chat, chatErr := s.deps.Store.GetChat(ctx, st.req.ChatID)
	isNewChat := errors.Is(chatErr, store.ErrNotFound)
	if chatErr != nil && !isNewChat {
		writeError(w, http.StatusInternalServerError, "internal_error", "could not load chat")
		return
	}
	if !isNewChat && chat.UserID != st.user.ID {
		writeError(w, http.StatusForbidden, "forbidden", "chat belongs to another user")
		return
	}

	history := st.req.Messages
	if st.req.Metadata.Continuation || st.req.Metadata.Regenerate {
		stored, err := s.deps.Store.GetMessages(ctx, st.req.ChatID, historyLimit, 0)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", "could not load history")
			return
		}
		history = make([]models.Message, 0, len(stored))
		for _, m := range stored {
			history = append(history, *m)
		}
		// The regenerated reply replaces the last assistant answer;
		// keep the discarded answer out of the prompt.
		if st.req.Metadata.Regenerate && len(history) > 0 && history[len(history)-1].Role == models.RoleAssistant {
			history = history[:len(history)-1]
		}
	}

	// Confirm-command continuation: surface the persisted draft so the
	// model executes exactly what the user approved.
	askMode := st.req.Metadata.AskMode
	if st.req.Metadata.Continuation && chat != nil && chat.DraftCommand != "" {
		history = append(history, models.Message{
			Role:    models.RoleUser,
			Content: "Approved. Run the proposed command: " + chat.DraftCommand,
		})
		askMode = false
	}

	processed, err := s.deps.Pipeline.Process(ctx, pipeline.Input{
		Messages:     history,
		Selection:    st.selection,
		Plugin:       st.plugin,
		Tier:         st.user.Tier,
		Continuation: st.req.Metadata.Continuation,
		Reasoning:    st.req.ModelParams.Reasoning,
		UserProfile:  s.deps.Config.Prompts.UserProfile,
	})
	var limitErr *tokens.LimitError
	if errors.As(err, &limitErr) {
		writeError(w, http.StatusRequestEntityTooLarge, "token_limit_exceeded", limitErr.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	streamer, err := NewStreamer(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	defer streamer.Close()

	quota := st.quota
	quota.IsPremiumUser = st.user.Tier.Premium()
	streamer.Send(ctx, models.StreamEvent{Type: models.EventRateLimit, RateLimit: &quota})

	initialDone := s.deps.Reconciler.StartInitial(ctx, initialRequest(st))

	// Title generation starts on the first text delta of a brand-new
	// chat and is awaited at finalization.
	var titleCh <-chan string
	var titleOnce sync.Once
	sink := agent.SinkFunc(func(ctx context.Context, ev models.StreamEvent) error {
		if ev.Type == models.EventTextDelta && isNewChat && !st.req.Metadata.Temporary {
			titleOnce.Do(func() {
				titleCh = s.deps.Titles.Start(ctx, firstUserText(st.req.Messages), streamer)
			})
		}
		return streamer.Send(ctx, ev)
	})

	outcome, attachments, err := s.dispatch(ctx, st, processed, askMode, sink)
	if err != nil {
		if ctx.Err() != nil && outcome == nil {
			outcome = &executionOutcome{FinishReason: models.FinishAborted}
		} else {
			s.deps.Tracer.RecordError(span, err)
			s.deps.Logger.Error(ctx, "turn failed", "route", st.route, "error", err)
			msg := "the model request failed"
			if errors.Is(err, sandbox.ErrUnavailable) {
				msg = "the terminal environment is unavailable right now"
			}
			streamer.Send(context.WithoutCancel(ctx), models.ErrorEvent(msg))
			return
		}
	}

	s.finalize(ctx, st, outcome, attachments, initialDone, titleCh, streamer)
}

// executionOutcome is the plugin-independent result of a turn's execution.
type executionOutcome struct {
	Text         string
	Thinking     string
	ThinkingSecs float64
	Citations    []string
	FinishReason models.FinishReason
	DraftCommand string
}

// dispatch routes the processed turn into the agent loop, a single-shot
// executor, or the plain chat round trip.
func (s *Server) dispatch(ctx context.Context, st turnState, processed *pipeline.Output, askMode bool, sink agent.EventSink) (*executionOutcome, []models.Attachment, error) {
	provider, ok := s.deps.Providers[st.selection.Model.Provider]
	if !ok {
		return nil, nil, errors.New("no provider configured for model")
	}

	switch st.plugin {
	case models.PluginTerminal, models.PluginDeepResearch:
		return s.runAgent(ctx, st, processed, provider, askMode, sink)

	case models.PluginBrowser:
		target := st.req.Metadata.URL
		if target == "" {
			target = urlPattern.FindString(lastUserText(st.req.Messages))
		}
		if target == "" {
			return nil, nil, errors.New("browser plugin requires a url")
		}
		res, err := s.deps.Browser.Execute(ctx, executors.BrowseRequest{
			URL:       target,
			Model:     st.selection.Model.ProviderModel,
			System:    processed.SystemPrompt,
			MaxTokens: st.selection.Model.MaxOutputTokens,
			Messages:  processed.Messages,
		}, sink)
		if err != nil {
			return nil, nil, err
		}
		return &executionOutcome{Text: res.Text, Citations: res.Citations, FinishReason: res.FinishReason}, nil, nil

	case models.PluginWebSearch:
		ws := &executors.WebSearch{Provider: provider, Searcher: s.deps.Searcher}
		res, err := ws.Execute(ctx, executors.SearchRequest{
			Query:     lastUserText(st.req.Messages),
			Model:     st.selection.Model.ProviderModel,
			System:    processed.SystemPrompt,
			MaxTokens: st.selection.Model.MaxOutputTokens,
			Messages:  processed.Messages,
		}, sink)
		if err != nil {
			return nil, nil, err
		}
		return &executionOutcome{Text: res.Text, Citations: res.Citations, FinishReason: res.FinishReason}, nil, nil

	default:
		return s.runPlainChat(ctx, st, processed, provider, sink)
	}
}

// runPlainChat is one provider round trip with no tools.
func (s *Server) runPlainChat(ctx context.Context, st turnState, processed *pipeline.Output, provider agent.LLMProvider, sink agent.EventSink) (*executionOutcome, []models.Attachment, error) {
	ctx, span := s.deps.Tracer.StartProviderCall(ctx, provider.Name(), st.selection.Model.ProviderModel)
	defer span.End()

	chunks, err := provider.Complete(ctx, &agent.CompletionRequest{
		Model:          st.selection.Model.ProviderModel,
		System:         processed.SystemPrompt,
		Messages:       processed.Messages,
		MaxTokens:      maxTokens(st),
		EnableThinking: st.req.ModelParams.Reasoning && st.selection.Model.SupportsThinking,
	})
	if err != nil {
		return nil, nil, err
	}

	out := &executionOutcome{FinishReason: models.FinishStop}
	var text, thinking strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			return nil, nil, chunk.Error
		}
		if chunk.Thinking != "" {
			thinking.WriteString(chunk.Thinking)
			if err := sink.Send(ctx, models.ReasoningDelta(chunk.Thinking)); err != nil {
				break
			}
		}
		if chunk.Text != "" {
			text.WriteString(chunk.Text)
			if err := sink.Send(ctx, models.TextDelta(chunk.Text)); err != nil {
				break
			}
		}
	}
	out.Text = text.String()
	out.Thinking = thinking.String()
	if ctx.Err() != nil {
		out.FinishReason = models.FinishAborted
	}
	return out, nil, nil
}

// attachmentCollector records files the agent surfaces so finalization can
// associate them with the assistant message.
type attachmentCollector struct {
	mu   sync.Mutex
	atts []models.Attachment
}

func (c *attachmentCollector) RecordAttachment(att models.Attachment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.atts = append(c.atts, att)
}

// runAgent acquires the user's sandbox and drives the tool-calling loop.
func (s *Server) runAgent(ctx context.Context, st turnState, processed *pipeline.Output, provider agent.LLMProvider, askMode bool, sink agent.EventSink) (*executionOutcome, []models.Attachment, error) {
	handle, err := s.deps.Sandboxes.Acquire(ctx, st.user.ID)
	if err != nil {
		return nil, nil, err
	}

	collector := &attachmentCollector{}
	registry, err := tools.BuildRegistry(handle, s.deps.Truncator, s.deps.Searcher, collector, askMode)
	if err != nil {
		return nil, nil, err
	}

	loop := agent.NewLoop(provider, registry, s.deps.Logger, s.deps.Metrics).WithTracer(s.deps.Tracer)
	outcome, err := loop.Run(ctx, &agent.Request{
		Model:          st.selection.Model.ProviderModel,
		MaxTokens:      maxTokens(st),
		EnableThinking: st.req.ModelParams.Reasoning && st.selection.Model.SupportsThinking,
		System:         processed.SystemPrompt,
		Messages:       processed.Messages,
		StagedFiles:    processed.StagedFiles,
		Sandbox:        handle,
		Sink:           sink,
	})
	if err != nil {
		// The sandbox outlives the turn; only a dead handle gets
		// dropped so the next turn creates a fresh one.
		if errors.Is(err, sandbox.ErrUnavailable) {
			s.deps.Sandboxes.Release(st.user.ID)
		}
		return nil, nil, err
	}

	return &executionOutcome{
		Text:         outcome.Text,
		Thinking:     outcome.Thinking,
		ThinkingSecs: outcome.ThinkingSecs,
		FinishReason: outcome.FinishReason,
		DraftCommand: outcome.DraftCommand,
	}, collector.atts, nil
}

// finalize awaits the concurrent work and lands the assistant message.
func (s *Server) finalize(ctx context.Context, st turnState, outcome *executionOutcome, attachments []models.Attachment, initialDone <-chan error, titleCh <-chan string, streamer *Streamer) {
	// Persistence must not race model output, but the assistant row needs
	// its chat and user rows in place first.
	if err := <-initialDone; err != nil {
		streamer.Send(context.WithoutCancel(ctx), models.ErrorEvent("persistence failed"))
		return
	}

	var title string
	if titleCh != nil {
		title = <-titleCh
	}

	// Finalization runs even when the client disconnected: partial output
	// with an aborted finish reason must still persist.
	persistCtx := context.WithoutCancel(ctx)
	msg, err := s.deps.Reconciler.HandleFinal(persistCtx, reconcile.FinalRequest{
		ChatID:       st.req.ChatID,
		UserID:       st.user.ID,
		Model:        st.req.Model,
		Plugin:       st.plugin,
		Temporary:    st.req.Metadata.Temporary,
		Continuation: st.req.Metadata.Continuation,
		Text:         outcome.Text,
		Thinking:     outcome.Thinking,
		ThinkingSecs: outcome.ThinkingSecs,
		Citations:    outcome.Citations,
		Attachments:  attachments,
		FinishReason: outcome.FinishReason,
		DraftCommand: outcome.DraftCommand,
		Title:        title,
	})
	if err != nil {
		s.deps.Logger.Error(persistCtx, "final reconciliation failed", "chat_id", st.req.ChatID, "error", err)
		streamer.Send(persistCtx, models.ErrorEvent("persistence failed"))
		return
	}

	if msg != nil {
		streamer.Send(persistCtx, models.StreamEvent{Type: models.EventMessageID, MessageID: msg.ID})
	}
	streamer.Send(persistCtx, models.StreamEvent{Type: models.EventFinishReason, FinishReason: outcome.FinishReason})
	s.deps.Metrics.TurnCounter.WithLabelValues(st.route, string(outcome.FinishReason)).Inc()
}

func initialRequest(st turnState) reconcile.InitialRequest {
	req := reconcile.InitialRequest{
		ChatID:    st.req.ChatID,
		UserID:    st.user.ID,
		Model:     st.req.Model,
		Plugin:    st.plugin,
		Variant:   reconcile.VariantPlain,
		Temporary: st.req.Metadata.Temporary,
	}
	switch {
	case st.req.Metadata.Regenerate:
		req.Variant = reconcile.VariantRegenerate
	case st.req.Metadata.EditSequence > 0:
		req.Variant = reconcile.VariantEdit
		req.EditSequence = st.req.Metadata.EditSequence
	}
	// Continuation and regeneration turns reuse stored history; only
	// fresh and edit turns carry a new user message.
	if !st.req.Metadata.Continuation && !st.req.Metadata.Regenerate && len(st.req.Messages) > 0 {
		last := st.req.Messages[len(st.req.Messages)-1]
		if last.Role == models.RoleUser {
			req.UserMessage = &last
		}
	}
	return req
}

func maxTokens(st turnState) int {
	if st.req.ModelParams.MaxTokens > 0 && st.req.ModelParams.MaxTokens < st.selection.Model.MaxOutputTokens {
		return st.req.ModelParams.MaxTokens
	}
	return st.selection.Model.MaxOutputTokens
}

func firstUserText(msgs []models.Message) string {
	for _, m := range msgs {
		if m.Role == models.RoleUser && strings.TrimSpace(m.Content) != "" {
			return m.Content
		}
	}
	return ""
}

func lastUserText(msgs []models.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == models.RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}
