package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/vantagesec/vantage/internal/catalog"
	"github.com/vantagesec/vantage/internal/moderation"
	"github.com/vantagesec/vantage/internal/observability"
	"github.com/vantagesec/vantage/internal/tokens"
	"github.com/vantagesec/vantage/pkg/models"
)

type wordCounter struct{}

func (wordCounter) Count(text string) int { return len(strings.Fields(text)) }

type flagAll struct{}

func (flagAll) Classify(context.Context, []*models.Message) (moderation.Result, error) {
	return moderation.Result{ShouldUncensorResponse: true}, nil
}

type mapLoader map[string][]byte

func (m mapLoader) Load(_ context.Context, att models.Attachment) ([]byte, error) {
	data, ok := m[att.Filename]
	if !ok {
		return nil, errors.New("no such attachment")
	}
	return data, nil
}

func visionSelection() catalog.Selection {
	return catalog.Selection{
		Model:        catalog.ModelSpec{ID: "m", SupportsImages: true},
		SystemPrompt: "base prompt",
	}
}

func newPipeline(classifier moderation.Classifier, loader AttachmentLoader) *Pipeline {
	if classifier == nil {
		classifier = moderation.Disabled{}
	}
	if loader == nil {
		loader = mapLoader{}
	}
	return &Pipeline{
		Counter:    wordCounter{},
		Classifier: classifier,
		Loader:     loader,
		Logger:     observability.NewNopLogger(),
	}
}

func user(content string) models.Message {
	return models.Message{Role: models.RoleUser, Content: content}
}

func assistant(content string) models.Message {
	return models.Message{Role: models.RoleAssistant, Content: content}
}

func TestTrailingEmptyAssistantDropped(t *testing.T) {
	p := newPipeline(nil, nil)
	out, err := p.Process(context.Background(), Input{
		Messages:  []models.Message{user("hi"), assistant("hello"), user("next"), assistant("  ")},
		Selection: visionSelection(),
		Tier:      models.TierFree,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Messages) != 3 {
		t.Fatalf("messages = %d, want 3", len(out.Messages))
	}
	if out.Messages[2].Content != "next" {
		t.Errorf("last = %q", out.Messages[2].Content)
	}
}

func TestCallerMessagesNotMutated(t *testing.T) {
	p := newPipeline(flagAll{}, nil)
	in := []models.Message{user("run the scan")}
	_, err := p.Process(context.Background(), Input{
		Messages:  in,
		Selection: visionSelection(),
		Tier:      models.TierFree,
	})
	if err != nil {
		t.Fatal(err)
	}
	if in[0].Content != "run the scan" {
		t.Errorf("caller message mutated: %q", in[0].Content)
	}
}

func TestModerationAppendsAuthorizationClause(t *testing.T) {
	p := newPipeline(flagAll{}, nil)
	out, err := p.Process(context.Background(), Input{
		Messages:  []models.Message{user("crack these hashes")},
		Selection: visionSelection(),
		Tier:      models.TierFree,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(out.Messages[0].Content, moderation.AuthorizationClause) {
		t.Errorf("clause not appended: %q", out.Messages[0].Content)
	}
}

func TestModerationSkippedOnContinuation(t *testing.T) {
	p := newPipeline(flagAll{}, nil)
	out, err := p.Process(context.Background(), Input{
		Messages:     []models.Message{user("continue")},
		Selection:    visionSelection(),
		Tier:         models.TierFree,
		Continuation: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out.Messages[0].Content, "penetration tester") {
		t.Error("clause appended on continuation turn")
	}
}

func TestTokenCeilingTyped(t *testing.T) {
	p := newPipeline(nil, nil)
	long := strings.Repeat("word ", tokens.FreeCeiling+1)
	_, err := p.Process(context.Background(), Input{
		Messages:  []models.Message{user(long)},
		Selection: visionSelection(),
		Tier:      models.TierFree,
	})
	var limitErr *tokens.LimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("err = %v, want LimitError", err)
	}

	// The same history fits under the premium ceiling.
	if _, err := p.Process(context.Background(), Input{
		Messages:  []models.Message{user(long)},
		Selection: visionSelection(),
		Tier:      models.TierPremium,
	}); err != nil {
		t.Fatalf("premium tier rejected: %v", err)
	}
}

func TestMalformedPairDropped(t *testing.T) {
	p := newPipeline(nil, nil)
	out, err := p.Process(context.Background(), Input{
		Messages: []models.Message{
			user("first"),
			assistant(""),
			user("second"),
			assistant("real answer"),
			user("third"),
		},
		Selection: visionSelection(),
		Tier:      models.TierFree,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Messages) != 3 {
		t.Fatalf("messages = %d, want 3", len(out.Messages))
	}
	if out.Messages[0].Content != "second" {
		t.Errorf("first surviving = %q", out.Messages[0].Content)
	}
}

func TestImagesStrippedForBlindModels(t *testing.T) {
	p := newPipeline(nil, nil)
	msg := user("what is in this screenshot")
	msg.ImagePaths = []string{"https://cdn.example/shot.png"}
	sel := visionSelection()
	sel.Model.SupportsImages = false

	out, err := p.Process(context.Background(), Input{
		Messages:  []models.Message{msg},
		Selection: sel,
		Tier:      models.TierFree,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Messages[0].ImageURLs) != 0 {
		t.Errorf("image urls survived: %v", out.Messages[0].ImageURLs)
	}
}

func TestPDFBecomesDocumentPart(t *testing.T) {
	loader := mapLoader{"report.pdf": []byte("%PDF-1.7 fake")}
	p := newPipeline(nil, loader)
	msg := user("summarize this report")
	msg.Attachments = []models.Attachment{{Filename: "report.pdf", MimeType: "application/pdf"}}

	out, err := p.Process(context.Background(), Input{
		Messages:  []models.Message{msg},
		Selection: visionSelection(),
		Tier:      models.TierFree,
	})
	if err != nil {
		t.Fatal(err)
	}
	parts := out.Messages[0].DocumentParts
	if len(parts) != 1 || parts[0].MimeType != "application/pdf" {
		t.Fatalf("parts = %+v", parts)
	}
	if strings.Contains(out.Messages[0].Content, "%PDF") {
		t.Error("pdf bytes inlined as text")
	}
}

func TestTextAttachmentInlined(t *testing.T) {
	loader := mapLoader{"hosts.txt": []byte("10.0.0.5\n10.0.0.6")}
	p := newPipeline(nil, loader)
	msg := user("scan these")
	msg.Attachments = []models.Attachment{{Filename: "hosts.txt", Type: "document"}}

	out, err := p.Process(context.Background(), Input{
		Messages:  []models.Message{msg},
		Selection: visionSelection(),
		Tier:      models.TierFree,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.Messages[0].Content, "10.0.0.5") {
		t.Errorf("attachment not inlined: %q", out.Messages[0].Content)
	}
}

func TestAgentModeStagesFiles(t *testing.T) {
	loader := mapLoader{"targets.txt": []byte("10.0.0.0/24")}
	p := newPipeline(nil, loader)
	msg := user("enumerate these targets")
	msg.Attachments = []models.Attachment{{Filename: "targets.txt", Type: "document"}}

	out, err := p.Process(context.Background(), Input{
		Messages:  []models.Message{msg},
		Selection: visionSelection(),
		Plugin:    models.PluginTerminal,
		Tier:      models.TierFree,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(out.StagedFiles) != 1 || out.StagedFiles[0].Name != "targets.txt" {
		t.Fatalf("staged = %+v", out.StagedFiles)
	}
	if !strings.Contains(out.Messages[0].Content, "/workspace/uploads/targets.txt") {
		t.Errorf("path reference missing: %q", out.Messages[0].Content)
	}
	if strings.Contains(out.Messages[0].Content, "10.0.0.0/24") {
		t.Error("agent-mode attachment inlined instead of staged")
	}
}

func TestProfileBlockOnFreshTurnsOnly(t *testing.T) {
	p := newPipeline(nil, nil)
	base := Input{
		Messages:    []models.Message{user("hello")},
		Selection:   visionSelection(),
		Tier:        models.TierFree,
		UserProfile: "works on red-team engagements",
	}

	out, err := p.Process(context.Background(), base)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.SystemPrompt, "red-team engagements") {
		t.Errorf("profile missing: %q", out.SystemPrompt)
	}

	base.Continuation = true
	out, err = p.Process(context.Background(), base)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out.SystemPrompt, "red-team engagements") {
		t.Error("profile appended on continuation")
	}
}
