package llm

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Provider names accepted by Config.Provider.
const (
	ProviderNone       = "none"
	ProviderAnthropic  = "anthropic"
	ProviderOpenAI     = "openai"
	ProviderGemini     = "gemini"
	ProviderOpenRouter = "openrouter"
	ProviderMock       = "mock"
)

// Config holds all LLM provider configuration.
type Config struct {
	// Provider selects the backend. "none" disables LLM features.
	Provider string `mapstructure:"provider"`

	Anthropic  AnthropicConfig  `mapstructure:"anthropic"`
	OpenAI     OpenAIConfig     `mapstructure:"openai"`
	Gemini     GeminiConfig     `mapstructure:"gemini"`
	OpenRouter OpenRouterConfig `mapstructure:"openrouter"`
	Retry      RetryConfig      `mapstructure:"retry"`

	// Timeout bounds a single Generate call including retries.
	Timeout time.Duration `mapstructure:"timeout"`
}

// AnthropicConfig holds Anthropic-specific configuration.
type AnthropicConfig struct {
	APIKey string `mapstructure:"api-key"`
	Model  string `mapstructure:"model"`
}

// OpenAIConfig holds OpenAI-specific configuration.
type OpenAIConfig struct {
	APIKey  string `mapstructure:"api-key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base-url"` // compatible APIs
}

// GeminiConfig holds Gemini-specific configuration.
type GeminiConfig struct {
	APIKey string `mapstructure:"api-key"`
	Model  string `mapstructure:"model"`
}

// OpenRouterConfig holds OpenRouter-specific configuration.
type OpenRouterConfig struct {
	APIKey  string `mapstructure:"api-key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base-url"`
}

// RetryConfig configures retries of transient failures.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max-attempts"`
	InitialWait time.Duration `mapstructure:"initial-wait"`
	MaxWait     time.Duration `mapstructure:"max-wait"`
	Multiplier  float64       `mapstructure:"multiplier"`
}

// DefaultConfig returns a Config with LLM features disabled.
func DefaultConfig() Config {
	return Config{
		Provider:   ProviderNone,
		Anthropic:  AnthropicConfig{Model: "claude-haiku"},
		OpenAI:     OpenAIConfig{Model: "gpt-4o-mini"},
		Gemini:     GeminiConfig{Model: "gemini-flash"},
		OpenRouter: OpenRouterConfig{Model: "google/gemini-2.5-flash"},
		Retry: RetryConfig{
			MaxAttempts: 3,
			InitialWait: time.Second,
			MaxWait:     10 * time.Second,
			Multiplier:  2.0,
		},
		Timeout: 30 * time.Second,
	}
}

// envBindings lists the ADAPTIQ_ variables read by ConfigFromEnv.
func envBindings(c *Config) map[string]*string {
	return map[string]*string{
		"ADAPTIQ_LLM_PROVIDER":       &c.Provider,
		"ADAPTIQ_ANTHROPIC_API_KEY":  &c.Anthropic.APIKey,
		"ADAPTIQ_ANTHROPIC_MODEL":    &c.Anthropic.Model,
		"ADAPTIQ_OPENAI_API_KEY":     &c.OpenAI.APIKey,
		"ADAPTIQ_OPENAI_MODEL":       &c.OpenAI.Model,
		"ADAPTIQ_OPENAI_BASE_URL":    &c.OpenAI.BaseURL,
		"ADAPTIQ_GEMINI_API_KEY":     &c.Gemini.APIKey,
		"ADAPTIQ_GEMINI_MODEL":       &c.Gemini.Model,
		"ADAPTIQ_OPENROUTER_API_KEY": &c.OpenRouter.APIKey,
		"ADAPTIQ_OPENROUTER_MODEL":   &c.OpenRouter.Model,
	}
}

// ConfigFromEnv overlays ADAPTIQ_* environment variables on cfg. When no
// provider is chosen explicitly it falls back to DiscoverConfig.
func ConfigFromEnv(cfg Config) Config {
	for name, dst := range envBindings(&cfg) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	if cfg.Provider == ProviderNone || cfg.Provider == "" {
		if found, ok := DiscoverConfig(cfg); ok {
			return found
		}
	}
	return cfg
}

// DiscoverConfig probes the vendors' standard API key variables in order
// (Gemini, OpenAI, Anthropic, OpenRouter) and selects the first provider
// found.
func DiscoverConfig(base Config) (Config, bool) {
	probes := []struct {
		env      string
		provider string
		key      *string
	}{
		{"GEMINI_API_KEY", ProviderGemini, &base.Gemini.APIKey},
		{"OPENAI_API_KEY", ProviderOpenAI, &base.OpenAI.APIKey},
		{"ANTHROPIC_API_KEY", ProviderAnthropic, &base.Anthropic.APIKey},
		{"OPENROUTER_API_KEY", ProviderOpenRouter, &base.OpenRouter.APIKey},
	}
	for _, p := range probes {
		if k := os.Getenv(p.env); k != "" {
			base.Provider = p.provider
			*p.key = k
			return base, true
		}
	}
	return base, false
}

// Enabled reports whether a provider is configured.
func (c Config) Enabled() bool {
	return c.Provider != "" && c.Provider != ProviderNone
}

// Validate checks that the selected provider has its API key.
func (c Config) Validate() error {
	var key string
	switch c.Provider {
	case ProviderAnthropic:
		key = c.Anthropic.APIKey
	case ProviderOpenAI:
		key = c.OpenAI.APIKey
	case ProviderGemini:
		key = c.Gemini.APIKey
	case ProviderOpenRouter:
		key = c.OpenRouter.APIKey
	case "", ProviderNone, ProviderMock:
		return nil
	default:
		return fmt.Errorf("unknown LLM provider: %q", c.Provider)
	}
	if key == "" {
		return fmt.Errorf("an API key is required for the %s provider (ADAPTIQ_%s_API_KEY)",
			c.Provider, strings.ToUpper(c.Provider))
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry max attempts must be >= 1, got %d", c.Retry.MaxAttempts)
	}
	return nil
}
