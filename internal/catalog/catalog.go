// Package catalog resolves a logical model id plus plugin selection to a
// concrete provider model, a system prompt, and a rate-limit key. Everything
// downstream of the route handlers works with logical ids; this is the only
// place provider SDK identifiers appear.
package catalog

import (
	"fmt"

	"github.com/vantagesec/vantage/pkg/models"
)

// ProviderKind names the SDK a model spec is served through.
type ProviderKind string

const (
	ProviderAnthropic ProviderKind = "anthropic"
	ProviderOpenAI    ProviderKind = "openai"
)

// ModelSpec is the resolved description of one logical model.
type ModelSpec struct {
	// ID is the logical model id clients send.
	ID string
	// Provider selects the SDK.
	Provider ProviderKind
	// ProviderModel is the concrete identifier passed to the SDK.
	ProviderModel string
	// Large models consume the large-model rate-limit pool and the
	// premium token ceiling.
	Large bool
	// SupportsImages gates image attachment resolution in the pipeline.
	SupportsImages bool
	// SupportsThinking enables extended reasoning blocks.
	SupportsThinking bool
	// MaxOutputTokens bounds the completion.
	MaxOutputTokens int
	// PremiumOnly restricts the model to premium-tier users.
	PremiumOnly bool
}

// Selection is the result of resolving a turn's model and plugin.
type Selection struct {
	Model        ModelSpec
	SystemPrompt string
	// RateLimitKey is the resource pool this turn draws from. Agent
	// plugins get their own pools so a burst of shell turns cannot
	// starve plain chat.
	RateLimitKey string
}

// ErrUnknownModel is wrapped in the error returned for unrecognized ids.
type ErrUnknownModel struct {
	ID string
}

func (e *ErrUnknownModel) Error() string {
	return fmt.Sprintf("selected model is undefined: %q", e.ID)
}

// ErrPremiumRequired indicates a free-tier user selected a premium model.
type ErrPremiumRequired struct {
	ID string
}

func (e *ErrPremiumRequired) Error() string {
	return fmt.Sprintf("model %q requires a premium subscription", e.ID)
}

// Catalog holds the model table and the prompt source.
type Catalog struct {
	specs   map[string]ModelSpec
	prompts PromptSource
}

// PromptSource supplies system prompts by key, with override support.
type PromptSource interface {
	Lookup(key string) (string, bool)
}

// New builds the default catalog.
func New(prompts PromptSource) *Catalog {
	c := &Catalog{
		specs:   make(map[string]ModelSpec),
		prompts: prompts,
	}
	for _, spec := range defaultSpecs {
		c.specs[spec.ID] = spec
	}
	return c
}

var defaultSpecs = []ModelSpec{
	{
		ID:               "vantage-large",
		Provider:         ProviderAnthropic,
		ProviderModel:    "claude-sonnet-4-20250514",
		Large:            true,
		SupportsImages:   true,
		SupportsThinking: true,
		MaxOutputTokens:  8192,
		PremiumOnly:      true,
	},
	{
		ID:              "vantage-small",
		Provider:        ProviderAnthropic,
		ProviderModel:   "claude-3-5-haiku-20241022",
		SupportsImages:  true,
		MaxOutputTokens: 4096,
	},
	{
		ID:              "vantage-gpt",
		Provider:        ProviderOpenAI,
		ProviderModel:   "gpt-4o",
		Large:           true,
		SupportsImages:  true,
		MaxOutputTokens: 8192,
	},
	{
		ID:              "vantage-gpt-mini",
		Provider:        ProviderOpenAI,
		ProviderModel:   "gpt-4o-mini",
		SupportsImages:  true,
		MaxOutputTokens: 4096,
	},
	{
		ID:              "title-model",
		Provider:        ProviderOpenAI,
		ProviderModel:   "gpt-4o-mini",
		MaxOutputTokens: 64,
	},
}

// Lookup returns the spec for a logical id.
func (c *Catalog) Lookup(modelID string) (ModelSpec, error) {
	spec, ok := c.specs[modelID]
	if !ok {
		return ModelSpec{}, &ErrUnknownModel{ID: modelID}
	}
	return spec, nil
}

// Select resolves (model, plugin, tier) into a Selection. Pure besides the
// prompt lookup; the rate-limit check happens at the route handler using
// the returned key.
func (c *Catalog) Select(modelID string, plugin models.Plugin, tier models.Tier) (Selection, error) {
	spec, ok := c.specs[modelID]
	if !ok {
		return Selection{}, &ErrUnknownModel{ID: modelID}
	}
	if spec.PremiumOnly && !tier.Premium() {
		return Selection{}, &ErrPremiumRequired{ID: modelID}
	}
	return Selection{
		Model:        spec,
		SystemPrompt: c.systemPrompt(plugin),
		RateLimitKey: rateLimitKey(spec, plugin),
	}, nil
}

func rateLimitKey(spec ModelSpec, plugin models.Plugin) string {
	switch plugin {
	case models.PluginTerminal:
		return "agent"
	case models.PluginDeepResearch:
		return "deepresearch"
	}
	if spec.Large {
		return "chat-large"
	}
	return "chat"
}

func (c *Catalog) systemPrompt(plugin models.Plugin) string {
	key := promptKey(plugin)
	if c.prompts != nil {
		if p, ok := c.prompts.Lookup(key); ok {
			return p
		}
	}
	return builtinPrompts[key]
}

func promptKey(plugin models.Plugin) string {
	switch plugin {
	case models.PluginTerminal:
		return "agent"
	case models.PluginDeepResearch:
		return "deepresearch"
	case models.PluginBrowser:
		return "browser"
	case models.PluginWebSearch:
		return "websearch"
	default:
		return "chat"
	}
}
