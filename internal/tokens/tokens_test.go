package tokens

import (
	"errors"
	"strings"
	"testing"

	"github.com/vantagesec/vantage/pkg/models"
)

// wordCounter counts whitespace-separated words as tokens, which keeps these
// tests independent of BPE data files.
type wordCounter struct{}

func (wordCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(strings.Fields(text))
}

func historyOfTokens(n int) []models.Message {
	return []models.Message{
		{Role: models.RoleUser, Content: strings.TrimSpace(strings.Repeat("word ", n))},
	}
}

func TestCheckMessagesFreeCeiling(t *testing.T) {
	err := CheckMessages(wordCounter{}, historyOfTokens(9500), models.TierFree)
	var limitErr *LimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected LimitError, got %v", err)
	}
	if limitErr.Ceiling != FreeCeiling {
		t.Errorf("ceiling = %d, want %d", limitErr.Ceiling, FreeCeiling)
	}
	if limitErr.Tokens != 9500 {
		t.Errorf("tokens = %d, want 9500", limitErr.Tokens)
	}
}

func TestCheckMessagesPremiumAllowsMore(t *testing.T) {
	if err := CheckMessages(wordCounter{}, historyOfTokens(9500), models.TierPremium); err != nil {
		t.Fatalf("premium turn under ceiling rejected: %v", err)
	}
	if err := CheckMessages(wordCounter{}, historyOfTokens(33000), models.TierPremium); err == nil {
		t.Fatal("premium turn over 32,999 tokens must be rejected")
	}
}

func TestCheckMessagesAtCeilingPasses(t *testing.T) {
	if err := CheckMessages(wordCounter{}, historyOfTokens(FreeCeiling), models.TierFree); err != nil {
		t.Fatalf("exactly at ceiling should pass: %v", err)
	}
}
