package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vantagesec/vantage/internal/agent"
	"github.com/vantagesec/vantage/internal/auth"
	"github.com/vantagesec/vantage/internal/catalog"
	"github.com/vantagesec/vantage/internal/config"
	"github.com/vantagesec/vantage/internal/executors"
	"github.com/vantagesec/vantage/internal/moderation"
	"github.com/vantagesec/vantage/internal/observability"
	"github.com/vantagesec/vantage/internal/pipeline"
	"github.com/vantagesec/vantage/internal/ratelimit"
	"github.com/vantagesec/vantage/internal/reconcile"
	"github.com/vantagesec/vantage/internal/sandbox"
	"github.com/vantagesec/vantage/internal/store"
	"github.com/vantagesec/vantage/pkg/models"
)

// scriptedProvider streams a fixed sequence of text chunks for every call.
type scriptedProvider struct {
	text []string
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	ch := make(chan *agent.CompletionChunk, len(p.text))
	for _, t := range p.text {
		ch <- &agent.CompletionChunk{Text: t}
	}
	close(ch)
	return ch, nil
}

type wordCounter struct{}

func (wordCounter) Count(text string) int { return len(strings.Fields(text)) }

func (wordCounter) Clip(text string, maxTokens int) (string, bool) {
	fields := strings.Fields(text)
	if len(fields) <= maxTokens {
		return text, false
	}
	return strings.Join(fields[:maxTokens], " "), true
}

type allowAll struct{}

func (allowAll) Classify(context.Context, []*models.Message) (moderation.Result, error) {
	return moderation.Result{}, nil
}

type noLoader struct{}

func (noLoader) Load(context.Context, models.Attachment) ([]byte, error) {
	return nil, nil
}

func newTestDeps() Deps {
	logger := observability.NewNopLogger()
	reg := prometheus.NewRegistry()
	st := store.NewMemoryStore()
	provider := &scriptedProvider{text: []string{"Hello", " world"}}

	return Deps{
		Config:     config.Default(),
		Logger:     logger,
		Metrics:    observability.NewMetrics(reg),
		Store:      st,
		Reconciler: reconcile.New(st, logger),
		Pipeline: &pipeline.Pipeline{
			Counter:    wordCounter{},
			Classifier: allowAll{},
			Loader:     noLoader{},
			Logger:     logger,
		},
		Catalog: catalog.New(mapPrompts{}),
		Providers: map[catalog.ProviderKind]agent.LLMProvider{
			catalog.ProviderAnthropic: provider,
			catalog.ProviderOpenAI:    provider,
		},
		Limiter: ratelimit.NewLimiter(ratelimit.DefaultConfig()),
		Auth:    auth.NewService(auth.Config{}),
		Titles:  &executors.TitleGenerator{Provider: provider, Model: "gpt-4o-mini", Logger: logger},
	}
}

type mapPrompts map[string]string

func (m mapPrompts) Lookup(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

func postTurn(t *testing.T, h http.Handler, path string, body map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(string(raw)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func chatBody(model, text string) map[string]any {
	return map[string]any{
		"chat_id": "chat-1",
		"model":   model,
		"messages": []map[string]any{
			{"role": "user", "content": text},
		},
	}
}

func TestTurnUnknownModel(t *testing.T) {
	srv := New(newTestDeps())
	rec := postTurn(t, srv.Handler(), "/api/chat", chatBody("gpt-99", "hi"))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "invalid_model") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestTurnPremiumModelForbidden(t *testing.T) {
	srv := New(newTestDeps())
	rec := postTurn(t, srv.Handler(), "/api/chat", chatBody("vantage-large", "hi"))

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "premium_required") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestTurnRateLimitedBeforeAnyWrite(t *testing.T) {
	deps := newTestDeps()
	deps.Limiter = ratelimit.NewLimiter(ratelimit.Config{
		FreeLimit:    0,
		PremiumLimit: 0,
		Window:       time.Hour,
		Enabled:      true,
	})
	srv := New(deps)

	rec := postTurn(t, srv.Handler(), "/api/chat", chatBody("vantage-small", "hi"))

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	var body struct {
		Error struct {
			Type          string `json:"type"`
			IsPremiumUser bool   `json:"isPremiumUser"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Error.Type != "ratelimit_hit" {
		t.Errorf("error type = %q", body.Error.Type)
	}

	chats, err := deps.Store.ListChats(context.Background(), "anonymous", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != 0 {
		t.Errorf("rejected request created %d chats", len(chats))
	}
}

func TestPlainChatStreamsAndPersists(t *testing.T) {
	deps := newTestDeps()
	srv := New(deps)

	rec := postTurn(t, srv.Handler(), "/api/chat", chatBody("vantage-small", "scan my lab network"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}
	stream := rec.Body.String()
	for _, want := range []string{"ratelimit", "text-delta", "chatTitle", "messageId", "finishReason", "[DONE]"} {
		if !strings.Contains(stream, want) {
			t.Errorf("stream missing %q:\n%s", want, stream)
		}
	}

	ctx := context.Background()
	msgs, err := deps.Store.GetMessages(ctx, "chat-1", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("persisted %d messages, want 2", len(msgs))
	}
	if msgs[1].Content != "Hello world" {
		t.Errorf("assistant content = %q", msgs[1].Content)
	}

	chat, err := deps.Store.GetChat(ctx, "chat-1")
	if err != nil {
		t.Fatal(err)
	}
	if chat.Name == "" {
		t.Error("chat was not titled")
	}
}

func TestTemporaryChatLeavesNoRows(t *testing.T) {
	deps := newTestDeps()
	srv := New(deps)

	body := chatBody("vantage-small", "hi")
	body["chatMetadata"] = map[string]any{"temporary": true}
	rec := postTurn(t, srv.Handler(), "/api/chat", body)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if _, err := deps.Store.GetChat(context.Background(), "chat-1"); err != store.ErrNotFound {
		t.Errorf("temporary chat was persisted: err = %v", err)
	}
}

func TestAuthRequiredWhenEnabled(t *testing.T) {
	deps := newTestDeps()
	deps.Auth = auth.NewService(auth.Config{JWTSecret: "test-secret", TokenExpiry: time.Hour})
	srv := New(deps)

	rec := postTurn(t, srv.Handler(), "/api/chat", chatBody("vantage-small", "hi"))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status without credentials = %d, want 401", rec.Code)
	}

	token, err := deps.Auth.GenerateJWT(&models.User{ID: "u1", Tier: models.TierPremium})
	if err != nil {
		t.Fatal(err)
	}
	raw, _ := json.Marshal(chatBody("vantage-large", "hi"))
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(string(raw)))
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status with premium JWT = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestListMessagesEnforcesOwnership(t *testing.T) {
	deps := newTestDeps()
	srv := New(deps)

	ctx := context.Background()
	if err := deps.Store.CreateChat(ctx, &models.Chat{ID: "other-chat", UserID: "someone-else"}); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/chats/other-chat/messages", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestSchemaEndpoint(t *testing.T) {
	srv := New(newTestDeps())

	req := httptest.NewRequest(http.MethodGet, "/api/schema", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, field := range []string{"chat_id", "chatMetadata", "modelParams"} {
		if !strings.Contains(body, field) {
			t.Errorf("schema missing %q", field)
		}
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := New(newTestDeps())

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

// fakeHandle is an in-memory sandbox for route-level agent tests.
type fakeHandle struct {
	id     string
	closed bool
}

func (h *fakeHandle) ID() string { return h.id }
func (h *fakeHandle) Exec(context.Context, string) (sandbox.ExecResult, error) {
	return sandbox.ExecResult{Stdout: "ok"}, nil
}
func (h *fakeHandle) ExecDetached(context.Context, string) error { return nil }
func (h *fakeHandle) ReadFile(context.Context, string, int, int) (string, error) {
	return "", nil
}
func (h *fakeHandle) WriteFile(context.Context, string, string, bool) error { return nil }
func (h *fakeHandle) FileExists(context.Context, string) (bool, error)      { return false, nil }
func (h *fakeHandle) ExposePort(context.Context, int) (string, error)       { return "", nil }
func (h *fakeHandle) Close(context.Context) error {
	h.closed = true
	return nil
}

type fakeSandboxFactory struct {
	mu      sync.Mutex
	creates int
	handles []*fakeHandle
}

func (f *fakeSandboxFactory) Create(context.Context) (sandbox.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	h := &fakeHandle{id: fmt.Sprintf("sb-%d", f.creates)}
	f.handles = append(f.handles, h)
	return h, nil
}

func TestAgentRouteReusesSandboxAcrossTurns(t *testing.T) {
	deps := newTestDeps()
	factory := &fakeSandboxFactory{}
	deps.Sandboxes = sandbox.NewManager(factory, time.Minute, deps.Logger, deps.Metrics)
	deps.Truncator = agent.NewTruncator(wordCounter{})
	srv := New(deps)

	for i := 0; i < 2; i++ {
		rec := postTurn(t, srv.Handler(), "/api/agent", chatBody("vantage-small", "run a scan"))
		if rec.Code != http.StatusOK {
			t.Fatalf("turn %d: status = %d: %s", i, rec.Code, rec.Body.String())
		}
	}

	if factory.creates != 1 {
		t.Errorf("sandbox created %d times across two agent turns, want 1", factory.creates)
	}
	for i, h := range factory.handles {
		if h.closed {
			t.Errorf("handle %d was closed between turns", i)
		}
	}
}

// capturingProvider records every request so tests can inspect the prompt.
type capturingProvider struct {
	mu   sync.Mutex
	text string
	reqs []*agent.CompletionRequest
}

func (p *capturingProvider) Name() string { return "capturing" }

func (p *capturingProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	p.mu.Lock()
	p.reqs = append(p.reqs, req)
	p.mu.Unlock()
	ch := make(chan *agent.CompletionChunk, 1)
	ch <- &agent.CompletionChunk{Text: p.text}
	close(ch)
	return ch, nil
}

func seedChat(t *testing.T, st store.Store, chatID string, msgs []models.Message) {
	t.Helper()
	ctx := context.Background()
	if err := st.CreateChat(ctx, &models.Chat{ID: chatID, UserID: "anonymous", Name: "seeded"}); err != nil {
		t.Fatal(err)
	}
	for i := range msgs {
		msgs[i].ChatID = chatID
		msgs[i].UserID = "anonymous"
		if err := st.AppendMessage(ctx, &msgs[i]); err != nil {
			t.Fatal(err)
		}
	}
}

func TestRegeneratePromptOmitsDiscardedAnswer(t *testing.T) {
	deps := newTestDeps()
	provider := &capturingProvider{text: "fresh answer"}
	deps.Providers = map[catalog.ProviderKind]agent.LLMProvider{
		catalog.ProviderAnthropic: provider,
		catalog.ProviderOpenAI:    provider,
	}
	srv := New(deps)

	seedChat(t, deps.Store, "chat-1", []models.Message{
		{Role: models.RoleUser, Content: "how do I pivot from this host"},
		{Role: models.RoleAssistant, Content: "old answer to be discarded"},
	})

	body := map[string]any{
		"chat_id":      "chat-1",
		"model":        "vantage-small",
		"messages":     []map[string]any{},
		"chatMetadata": map[string]any{"regenerate": true},
	}
	rec := postTurn(t, srv.Handler(), "/api/chat", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	if len(provider.reqs) == 0 {
		t.Fatal("provider was never called")
	}
	prompt := provider.reqs[0].Messages
	if len(prompt) == 0 {
		t.Fatal("empty prompt")
	}
	last := prompt[len(prompt)-1]
	if last.Role == string(models.RoleAssistant) {
		t.Errorf("prompt ends with an assistant message: %q", last.Content)
	}
	for _, m := range prompt {
		if strings.Contains(m.Content, "old answer to be discarded") {
			t.Errorf("discarded answer still in prompt: %q", m.Content)
		}
	}
}

func TestContinuationLoadsFullHistory(t *testing.T) {
	deps := newTestDeps()
	provider := &capturingProvider{text: " and continued"}
	deps.Providers = map[catalog.ProviderKind]agent.LLMProvider{
		catalog.ProviderAnthropic: provider,
		catalog.ProviderOpenAI:    provider,
	}
	srv := New(deps)

	var msgs []models.Message
	for i := 0; i < 103; i++ {
		msgs = append(msgs,
			models.Message{Role: models.RoleUser, Content: fmt.Sprintf("question %d", i)},
			models.Message{Role: models.RoleAssistant, Content: fmt.Sprintf("answer %d", i)},
		)
	}
	seedChat(t, deps.Store, "chat-1", msgs)

	body := map[string]any{
		"chat_id":      "chat-1",
		"model":        "vantage-small",
		"messages":     []map[string]any{},
		"chatMetadata": map[string]any{"continuation": true},
	}
	rec := postTurn(t, srv.Handler(), "/api/chat", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	if len(provider.reqs) == 0 {
		t.Fatal("provider was never called")
	}
	prompt := provider.reqs[0].Messages
	var sawNewest bool
	for _, m := range prompt {
		if strings.Contains(m.Content, "answer 102") {
			sawNewest = true
		}
	}
	if !sawNewest {
		t.Errorf("newest history missing from prompt (%d messages sent)", len(prompt))
	}
}

// abortingProvider emits partial text, then cancels the request context the
// way a client disconnect would.
type abortingProvider struct {
	cancel context.CancelFunc
}

func (p *abortingProvider) Name() string { return "aborting" }

func (p *abortingProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	ch := make(chan *agent.CompletionChunk, 1)
	ch <- &agent.CompletionChunk{Text: "partial answer"}
	close(ch)
	p.cancel()
	return ch, nil
}

func TestDisconnectMidStreamPersistsAbortedTurn(t *testing.T) {
	deps := newTestDeps()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	provider := &abortingProvider{cancel: cancel}
	deps.Providers = map[catalog.ProviderKind]agent.LLMProvider{
		catalog.ProviderAnthropic: provider,
		catalog.ProviderOpenAI:    provider,
	}
	srv := New(deps)

	raw, err := json.Marshal(chatBody("vantage-small", "enumerate the subnet"))
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(string(raw))).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	chat, err := deps.Store.GetChat(context.Background(), "chat-1")
	if err != nil {
		t.Fatal(err)
	}
	if chat.FinishReason != models.FinishAborted {
		t.Errorf("finish reason = %q, want %q", chat.FinishReason, models.FinishAborted)
	}

	msgs, err := deps.Store.GetMessages(context.Background(), "chat-1", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("persisted %d messages, want 2", len(msgs))
	}
	if msgs[1].Content != "partial answer" {
		t.Errorf("assistant content = %q, want the partial output", msgs[1].Content)
	}
}
