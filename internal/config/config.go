// Package config loads and validates configuration for the service.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vantagesec/vantage/internal/ratelimit"
)

// Config is the main configuration structure.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	LLM        LLMConfig        `yaml:"llm"`
	Sandbox    SandboxConfig    `yaml:"sandbox"`
	Search     SearchConfig     `yaml:"search"`
	Browse     BrowseConfig     `yaml:"browse"`
	RateLimit  ratelimit.Config `yaml:"ratelimit"`
	Moderation ModerationConfig `yaml:"moderation"`
	Prompts    PromptsConfig    `yaml:"prompts"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// JWTSecret verifies bearer tokens on the chat routes.
	JWTSecret string `yaml:"jwt_secret"`
	// ChatBudget bounds a plain chat turn.
	ChatBudget time.Duration `yaml:"chat_budget"`
	// AgentBudget bounds an agent or tasks turn.
	AgentBudget time.Duration `yaml:"agent_budget"`
}

type DatabaseConfig struct {
	// Path is the sqlite database file. ":memory:" for tests.
	Path string `yaml:"path"`
}

type LLMConfig struct {
	Anthropic ProviderConfig `yaml:"anthropic"`
	OpenAI    ProviderConfig `yaml:"openai"`
	// TitleModel generates chat titles; a small, cheap model.
	TitleModel string `yaml:"title_model"`
}

type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

type SandboxConfig struct {
	// BaseURL is the sandbox provider API endpoint.
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	// Template names the sandbox image to boot.
	Template string `yaml:"template"`
	// Timeout is the idle lifetime of a sandbox handle.
	Timeout time.Duration `yaml:"timeout"`
}

type SearchConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	// CountryCode is the default location hint attached to searches.
	CountryCode string `yaml:"country_code"`
}

type BrowseConfig struct {
	// ProxyURL is the default scrape proxy.
	ProxyURL string `yaml:"proxy_url"`
	APIKey   string `yaml:"api_key"`
	// StealthDebugURL points at a Chrome DevTools endpoint for the
	// headless-render fallback. Empty means launch a local browser.
	StealthDebugURL string `yaml:"stealth_debug_url"`
}

type ModerationConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key"`
}

type PromptsConfig struct {
	// OverrideDir holds per-model/per-plugin prompt override files,
	// hot-reloaded when it changes.
	OverrideDir string `yaml:"override_dir"`
	// UserProfile is the personalization block appended to system prompts.
	UserProfile string `yaml:"user_profile"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration with sensible development defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "127.0.0.1",
			Port:        8080,
			ChatBudget:  180 * time.Second,
			AgentBudget: 800 * time.Second,
		},
		Database:  DatabaseConfig{Path: "vantage.db"},
		LLM:       LLMConfig{TitleModel: "title-model"},
		Sandbox:   SandboxConfig{Template: "pentest", Timeout: 10 * time.Minute},
		RateLimit: ratelimit.DefaultConfig(),
		Logging:   LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load reads a YAML config file, expands environment variables in its body,
// applies environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.LLM.Anthropic.APIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.LLM.OpenAI.APIKey = v
	}
	if v := os.Getenv("VANTAGE_JWT_SECRET"); v != "" {
		cfg.Server.JWTSecret = v
	}
	if v := os.Getenv("VANTAGE_SANDBOX_API_KEY"); v != "" {
		cfg.Sandbox.APIKey = v
	}
	if v := os.Getenv("VANTAGE_SEARCH_API_KEY"); v != "" {
		cfg.Search.APIKey = v
	}
	if v := os.Getenv("VANTAGE_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
}

// Validate checks the configuration for structural problems.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server port %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("config: database path is required")
	}
	if c.Server.ChatBudget <= 0 {
		c.Server.ChatBudget = 180 * time.Second
	}
	if c.Server.AgentBudget <= 0 {
		c.Server.AgentBudget = 800 * time.Second
	}
	if c.LLM.Anthropic.APIKey == "" && c.LLM.OpenAI.APIKey == "" {
		return fmt.Errorf("config: at least one LLM provider API key is required")
	}
	if c.Sandbox.Timeout <= 0 {
		c.Sandbox.Timeout = 10 * time.Minute
	}
	return nil
}
