// Package tokens provides token counting and the per-tier token ceilings
// enforced before any provider call is made.
package tokens

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/vantagesec/vantage/pkg/models"
)

// Per-tier ceilings on cumulative message text per turn, measured in tokens.
const (
	FreeCeiling    = 8999
	PremiumCeiling = 32999
)

// Counter counts tokens in text.
type Counter interface {
	Count(text string) int
}

// Clipper counts tokens and truncates text to a token budget.
type Clipper interface {
	Counter
	// Clip returns text cut to at most maxTokens tokens, and whether any
	// cutting happened.
	Clip(text string, maxTokens int) (string, bool)
}

// TiktokenCounter counts tokens with the cl100k_base BPE encoding.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewCounter creates a tiktoken-backed counter.
func NewCounter() (*TiktokenCounter, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("tokens: load encoding: %w", err)
	}
	return &TiktokenCounter{enc: enc}, nil
}

// Count returns the number of tokens in text.
func (c *TiktokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(c.enc.Encode(text, nil, nil))
}

// Clip cuts text at a token boundary.
func (c *TiktokenCounter) Clip(text string, maxTokens int) (string, bool) {
	ids := c.enc.Encode(text, nil, nil)
	if len(ids) <= maxTokens {
		return text, false
	}
	return c.enc.Decode(ids[:maxTokens]), true
}

// Ceiling returns the token ceiling for the given tier.
func Ceiling(tier models.Tier) int {
	if tier.Premium() {
		return PremiumCeiling
	}
	return FreeCeiling
}

// LimitError reports that a turn's cumulative message text exceeded the
// tier ceiling. It is surfaced to the client as a 4xx before any provider
// call happens.
type LimitError struct {
	Tokens  int
	Ceiling int
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("message history is %d tokens, over the %d token limit", e.Tokens, e.Ceiling)
}

// CheckMessages sums the token counts of all message text and returns a
// LimitError when the tier ceiling is exceeded.
func CheckMessages(c Counter, msgs []models.Message, tier models.Tier) error {
	total := 0
	for i := range msgs {
		total += c.Count(msgs[i].Content)
	}
	ceiling := Ceiling(tier)
	if total > ceiling {
		return &LimitError{Tokens: total, Ceiling: ceiling}
	}
	return nil
}
