package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/vantagesec/vantage/pkg/models"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	s, err := OpenSQLite(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedChat(t *testing.T, s Store, id string) *models.Chat {
	t.Helper()
	chat := &models.Chat{ID: id, UserID: "u1", Name: "recon session", Model: "claude-sonnet-4"}
	if err := s.CreateChat(context.Background(), chat); err != nil {
		t.Fatalf("create chat: %v", err)
	}
	return chat
}

func TestSequenceAllocationIsMonotonic(t *testing.T) {
	s := newTestStore(t)
	seedChat(t, s, "c1")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		msg := &models.Message{
			ID: fmt.Sprintf("m%d", i), ChatID: "c1", UserID: "u1",
			Role: models.RoleUser, Content: "hi",
		}
		if err := s.AppendMessage(ctx, msg); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if msg.SequenceNumber != i+1 {
			t.Errorf("message %d got sequence %d, want %d", i, msg.SequenceNumber, i+1)
		}
	}
}

func TestSequencesIndependentPerChat(t *testing.T) {
	s := newTestStore(t)
	seedChat(t, s, "c1")
	seedChat(t, s, "c2")
	ctx := context.Background()

	a := &models.Message{ID: "a", ChatID: "c1", Role: models.RoleUser, Content: "x"}
	b := &models.Message{ID: "b", ChatID: "c2", Role: models.RoleUser, Content: "y"}
	if err := s.AppendMessage(ctx, a); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendMessage(ctx, b); err != nil {
		t.Fatal(err)
	}
	if a.SequenceNumber != 1 || b.SequenceNumber != 1 {
		t.Errorf("sequences = %d, %d; want 1, 1", a.SequenceNumber, b.SequenceNumber)
	}
}

func TestLatestAssistantMessage(t *testing.T) {
	s := newTestStore(t)
	seedChat(t, s, "c1")
	ctx := context.Background()

	if _, err := s.LatestAssistantMessage(ctx, "c1"); !errors.Is(err, ErrNoAssistantMessage) {
		t.Fatalf("empty chat: got %v, want ErrNoAssistantMessage", err)
	}

	msgs := []*models.Message{
		{ID: "m1", ChatID: "c1", Role: models.RoleUser, Content: "scan the host"},
		{ID: "m2", ChatID: "c1", Role: models.RoleAssistant, Content: "starting"},
		{ID: "m3", ChatID: "c1", Role: models.RoleUser, Content: "continue"},
		{ID: "m4", ChatID: "c1", Role: models.RoleAssistant, Content: "port 443 open"},
	}
	for _, m := range msgs {
		if err := s.AppendMessage(ctx, m); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.LatestAssistantMessage(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "m4" {
		t.Errorf("latest assistant = %s, want m4", got.ID)
	}
	if got.SequenceNumber != 4 {
		t.Errorf("sequence = %d, want 4", got.SequenceNumber)
	}
}

func TestDeleteMessagesFrom(t *testing.T) {
	s := newTestStore(t)
	seedChat(t, s, "c1")
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		m := &models.Message{ID: fmt.Sprintf("m%d", i), ChatID: "c1", Role: models.RoleUser, Content: "x"}
		if err := s.AppendMessage(ctx, m); err != nil {
			t.Fatal(err)
		}
	}
	// Edit at sequence 3 discards 3 and 4, then the next append reuses 3.
	if err := s.DeleteMessagesFrom(ctx, "c1", 3); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetMessages(ctx, "c1", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	next := &models.Message{ID: "edited", ChatID: "c1", Role: models.RoleUser, Content: "revised"}
	if err := s.AppendMessage(ctx, next); err != nil {
		t.Fatal(err)
	}
	if next.SequenceNumber != 3 {
		t.Errorf("sequence after edit = %d, want 3", next.SequenceNumber)
	}
}

func TestDeleteLatestAssistantMessage(t *testing.T) {
	s := newTestStore(t)
	seedChat(t, s, "c1")
	ctx := context.Background()

	msgs := []*models.Message{
		{ID: "m1", ChatID: "c1", Role: models.RoleUser, Content: "q"},
		{ID: "m2", ChatID: "c1", Role: models.RoleAssistant, Content: "a"},
	}
	for _, m := range msgs {
		if err := s.AppendMessage(ctx, m); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.DeleteLatestAssistantMessage(ctx, "c1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.LatestAssistantMessage(ctx, "c1"); !errors.Is(err, ErrNoAssistantMessage) {
		t.Errorf("after delete: got %v, want ErrNoAssistantMessage", err)
	}
	got, _ := s.GetMessages(ctx, "c1", 0, 0)
	if len(got) != 1 || got[0].ID != "m1" {
		t.Errorf("user message should survive, got %d messages", len(got))
	}
}

func TestUpdateMessagePreservesSequence(t *testing.T) {
	s := newTestStore(t)
	seedChat(t, s, "c1")
	ctx := context.Background()

	msg := &models.Message{ID: "m1", ChatID: "c1", Role: models.RoleAssistant, Content: "partial"}
	if err := s.AppendMessage(ctx, msg); err != nil {
		t.Fatal(err)
	}
	msg.Content = "partial then continued"
	msg.Citations = []string{"https://example.com/advisory"}
	if err := s.UpdateMessage(ctx, msg); err != nil {
		t.Fatal(err)
	}
	got, err := s.LatestAssistantMessage(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Content != "partial then continued" {
		t.Errorf("content = %q", got.Content)
	}
	if got.SequenceNumber != 1 {
		t.Errorf("sequence changed to %d", got.SequenceNumber)
	}
	if len(got.Citations) != 1 {
		t.Errorf("citations = %v", got.Citations)
	}
}

func TestChatCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	chat := seedChat(t, s, "c1")
	got, err := s.GetChat(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "recon session" || got.Sharing != "private" {
		t.Errorf("got %+v", got)
	}

	chat.Name = "renamed"
	chat.FinishReason = models.FinishStop
	if err := s.UpdateChat(ctx, chat); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetChat(ctx, "c1")
	if got.Name != "renamed" || got.FinishReason != models.FinishStop {
		t.Errorf("after update: %+v", got)
	}

	if err := s.DeleteChat(ctx, "c1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetChat(ctx, "c1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("after delete: got %v, want ErrNotFound", err)
	}
	if err := s.DeleteChat(ctx, "c1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("double delete: got %v, want ErrNotFound", err)
	}
}

func TestDeleteChatCascades(t *testing.T) {
	s := newTestStore(t)
	seedChat(t, s, "c1")
	ctx := context.Background()

	msg := &models.Message{ID: "m1", ChatID: "c1", Role: models.RoleUser, Content: "x"}
	if err := s.AppendMessage(ctx, msg); err != nil {
		t.Fatal(err)
	}
	if err := s.AttachFile(ctx, "m1", models.Attachment{ID: "f1", Type: "document", Filename: "scan.txt"}); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteChat(ctx, "c1"); err != nil {
		t.Fatal(err)
	}
	msgs, err := s.GetMessages(ctx, "c1", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Errorf("messages survived cascade: %d", len(msgs))
	}
}

func TestListChatsOrderedByRecency(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedChat(t, s, "c1")
	seedChat(t, s, "c2")
	c1, _ := s.GetChat(ctx, "c1")
	c1.Name = "touched"
	if err := s.UpdateChat(ctx, c1); err != nil {
		t.Fatal(err)
	}

	chats, err := s.ListChats(ctx, "u1", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != 2 {
		t.Fatalf("len = %d, want 2", len(chats))
	}
	if chats[0].ID != "c1" {
		t.Errorf("most recent = %s, want c1", chats[0].ID)
	}

	other, err := s.ListChats(ctx, "nobody", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(other) != 0 {
		t.Errorf("foreign user sees %d chats", len(other))
	}
}

func TestFileAssociations(t *testing.T) {
	s := newTestStore(t)
	seedChat(t, s, "c1")
	ctx := context.Background()

	msg := &models.Message{ID: "m1", ChatID: "c1", Role: models.RoleAssistant, Content: "report attached"}
	if err := s.AppendMessage(ctx, msg); err != nil {
		t.Fatal(err)
	}
	att := models.Attachment{ID: "f1", Type: "document", Path: "/workspace/report.md", Filename: "report.md", MimeType: "text/markdown", Size: 2048}
	if err := s.AttachFile(ctx, "m1", att); err != nil {
		t.Fatal(err)
	}
	got, err := s.FilesForMessage(ctx, "m1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Filename != "report.md" {
		t.Errorf("got %+v", got)
	}
}
