package llm

import (
	"errors"
	"fmt"
	"time"
)

// Provider selector values.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOff       = "off" // skip naming entirely, use fallbacks
)

// Default models per provider.
const (
	defaultOpenAIModel    = "gpt-4o-mini"
	defaultAnthropicModel = "claude-3-haiku-20240307"
)

// DefaultTimeout bounds a single completion call.
const DefaultTimeout = 30 * time.Second

// ErrMissingAPIKey is returned when the selected provider has no credential.
// It surfaces on the first call, not at startup.
var ErrMissingAPIKey = errors.New("missing LLM API key")

// Config selects and tunes the naming provider.
type Config struct {
	Provider string // "openai", "anthropic", or "off"
	Model    string // empty uses the provider default
	APIKey   string
	Timeout  time.Duration
}

// NewProvider builds the configured chat provider. With ProviderOff it
// returns (nil, nil) and callers fall back to deterministic naming. A
// missing credential or unknown selector is an error so that the first
// naming attempt fails loudly.
func NewProvider(cfg Config) (Provider, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	switch cfg.Provider {
	case ProviderOff:
		return nil, nil
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%w: set OPENAI_API_KEY", ErrMissingAPIKey)
		}
		model := cfg.Model
		if model == "" {
			model = defaultOpenAIModel
		}
		return newOpenAIClient(cfg.APIKey, model, timeout), nil
	case ProviderAnthropic:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%w: set ANTHROPIC_API_KEY", ErrMissingAPIKey)
		}
		model := cfg.Model
		if model == "" {
			model = defaultAnthropicModel
		}
		return newAnthropicClient(cfg.APIKey, model, timeout), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
}
