package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/vantagesec/vantage/internal/observability"
	"github.com/vantagesec/vantage/internal/store"
	"github.com/vantagesec/vantage/pkg/models"
)

func newReconciler(t *testing.T) (*Reconciler, store.Store) {
	t.Helper()
	s := store.NewMemoryStore()
	return New(s, observability.NewNopLogger()), s
}

func seedTurn(t *testing.T, r *Reconciler, chatID string) {
	t.Helper()
	err := r.HandleInitial(context.Background(), InitialRequest{
		ChatID:      chatID,
		UserID:      "u1",
		Model:       "vantage-large",
		Variant:     VariantPlain,
		UserMessage: &models.Message{Content: "scan the target"},
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestInitialCreatesChatAndUserMessage(t *testing.T) {
	r, s := newReconciler(t)
	seedTurn(t, r, "c1")

	chat, err := s.GetChat(context.Background(), "c1")
	if err != nil {
		t.Fatal(err)
	}
	if chat.Model != "vantage-large" {
		t.Errorf("model = %q", chat.Model)
	}
	msgs, err := s.GetMessages(context.Background(), "c1", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Role != models.RoleUser || msgs[0].SequenceNumber != 1 {
		t.Errorf("msgs = %+v", msgs)
	}
}

func TestInitialIdempotentChatCreation(t *testing.T) {
	r, s := newReconciler(t)
	seedTurn(t, r, "c1")
	seedTurn(t, r, "c1")

	msgs, _ := s.GetMessages(context.Background(), "c1", 0, 0)
	if len(msgs) != 2 {
		t.Errorf("messages = %d, want 2", len(msgs))
	}
	if msgs[1].SequenceNumber != 2 {
		t.Errorf("second sequence = %d", msgs[1].SequenceNumber)
	}
}

func TestTemporaryTurnsSkipPersistence(t *testing.T) {
	r, s := newReconciler(t)
	err := r.HandleInitial(context.Background(), InitialRequest{
		ChatID:      "tmp",
		Temporary:   true,
		UserMessage: &models.Message{Content: "hi"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetChat(context.Background(), "tmp"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("temporary chat persisted: %v", err)
	}
	if msg, err := r.HandleFinal(context.Background(), FinalRequest{ChatID: "tmp", Temporary: true, Text: "x"}); err != nil || msg != nil {
		t.Errorf("final = %v, %v", msg, err)
	}
}

func TestEditDiscardsFromSequence(t *testing.T) {
	r, s := newReconciler(t)
	seedTurn(t, r, "c1")
	if _, err := r.HandleFinal(context.Background(), FinalRequest{
		ChatID: "c1", UserID: "u1", Model: "vantage-large",
		Text: "first answer", FinishReason: models.FinishStop,
	}); err != nil {
		t.Fatal(err)
	}

	err := r.HandleInitial(context.Background(), InitialRequest{
		ChatID: "c1", UserID: "u1", Model: "vantage-large",
		Variant:      VariantEdit,
		EditSequence: 1,
		UserMessage:  &models.Message{Content: "scan a different target"},
	})
	if err != nil {
		t.Fatal(err)
	}

	msgs, _ := s.GetMessages(context.Background(), "c1", 0, 0)
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(msgs))
	}
	if msgs[0].Content != "scan a different target" || msgs[0].SequenceNumber != 1 {
		t.Errorf("msg = %+v", msgs[0])
	}
}

func TestRegenerateDropsLastAssistant(t *testing.T) {
	r, s := newReconciler(t)
	seedTurn(t, r, "c1")
	if _, err := r.HandleFinal(context.Background(), FinalRequest{
		ChatID: "c1", UserID: "u1", Model: "vantage-large",
		Text: "old answer", FinishReason: models.FinishStop,
	}); err != nil {
		t.Fatal(err)
	}

	err := r.HandleInitial(context.Background(), InitialRequest{
		ChatID: "c1", UserID: "u1", Model: "vantage-large",
		Variant: VariantRegenerate,
	})
	if err != nil {
		t.Fatal(err)
	}
	msgs, _ := s.GetMessages(context.Background(), "c1", 0, 0)
	if len(msgs) != 1 || msgs[0].Role != models.RoleUser {
		t.Fatalf("msgs = %+v", msgs)
	}

	if _, err := r.HandleFinal(context.Background(), FinalRequest{
		ChatID: "c1", UserID: "u1", Model: "vantage-large",
		Text: "new answer", FinishReason: models.FinishStop,
	}); err != nil {
		t.Fatal(err)
	}
	latest, err := s.LatestAssistantMessage(context.Background(), "c1")
	if err != nil {
		t.Fatal(err)
	}
	if latest.Content != "new answer" || latest.SequenceNumber != 2 {
		t.Errorf("latest = %+v", latest)
	}
}

func TestFinalFreshInsert(t *testing.T) {
	r, s := newReconciler(t)
	seedTurn(t, r, "c1")

	msg, err := r.HandleFinal(context.Background(), FinalRequest{
		ChatID: "c1", UserID: "u1", Model: "vantage-large",
		Text:         "recon complete",
		Thinking:     "considered nmap flags",
		ThinkingSecs: 2.5,
		Citations:    []string{"https://nvd.example/cve"},
		FinishReason: models.FinishStop,
		Title:        "Network Recon",
	})
	if err != nil {
		t.Fatal(err)
	}
	if msg.SequenceNumber != 2 || msg.Role != models.RoleAssistant {
		t.Errorf("msg = %+v", msg)
	}

	chat, _ := s.GetChat(context.Background(), "c1")
	if chat.Name != "Network Recon" || chat.FinishReason != models.FinishStop {
		t.Errorf("chat = %+v", chat)
	}
}

func TestContinuationPatchesCumulatively(t *testing.T) {
	r, s := newReconciler(t)
	seedTurn(t, r, "c1")
	if _, err := r.HandleFinal(context.Background(), FinalRequest{
		ChatID: "c1", UserID: "u1", Model: "vantage-large",
		Text: "part one. ", Thinking: "step one. ", ThinkingSecs: 1,
		FinishReason: models.FinishTerminalAskUser,
		DraftCommand: "nmap -sV 10.0.0.5",
	}); err != nil {
		t.Fatal(err)
	}

	chat, _ := s.GetChat(context.Background(), "c1")
	if chat.DraftCommand != "nmap -sV 10.0.0.5" {
		t.Errorf("draft = %q", chat.DraftCommand)
	}

	msg, err := r.HandleFinal(context.Background(), FinalRequest{
		ChatID: "c1", UserID: "u1", Model: "vantage-large",
		Continuation: true,
		Text:         "part two.", Thinking: "step two.", ThinkingSecs: 2,
		Citations:    []string{"https://example.com"},
		FinishReason: models.FinishStop,
	})
	if err != nil {
		t.Fatal(err)
	}
	if msg.Content != "part one. part two." {
		t.Errorf("content = %q", msg.Content)
	}
	if msg.ThinkingContent != "step one. step two." || msg.ThinkingElapsedSecs != 3 {
		t.Errorf("thinking = %q / %v", msg.ThinkingContent, msg.ThinkingElapsedSecs)
	}

	msgs, _ := s.GetMessages(context.Background(), "c1", 0, 0)
	if len(msgs) != 2 {
		t.Errorf("messages = %d, want 2 (no duplicate assistant row)", len(msgs))
	}
	chat, _ = s.GetChat(context.Background(), "c1")
	if chat.DraftCommand != "" {
		t.Errorf("draft not cleared: %q", chat.DraftCommand)
	}
}

func TestContinuationWithoutAssistantIsHardError(t *testing.T) {
	r, _ := newReconciler(t)
	seedTurn(t, r, "c1")

	_, err := r.HandleFinal(context.Background(), FinalRequest{
		ChatID: "c1", UserID: "u1",
		Continuation: true,
		Text:         "orphan continuation",
	})
	if !errors.Is(err, store.ErrNoAssistantMessage) {
		t.Fatalf("err = %v, want ErrNoAssistantMessage", err)
	}
}

func TestStartInitialReportsCompletion(t *testing.T) {
	r, s := newReconciler(t)
	done := r.StartInitial(context.Background(), InitialRequest{
		ChatID: "c1", UserID: "u1", Model: "vantage-large",
		Variant:     VariantPlain,
		UserMessage: &models.Message{Content: "hello"},
	})
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetChat(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}
}
