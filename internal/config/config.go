// Package config loads server configuration from environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/justestif/streaming-eras/internal/llm"
)

// Config holds every startup setting. All fields map to environment
// variables of the same name, uppercased.
type Config struct {
	Addr            string `koanf:"addr"`
	AllowedOrigins  string `koanf:"allowed_origins"` // comma-separated
	LogLevel        string `koanf:"log_level"`
	LLMProvider     string `koanf:"llm_provider"`
	LLMModel        string `koanf:"llm_model"`
	LLMTimeout      int    `koanf:"llm_timeout"` // seconds per call
	OpenAIAPIKey    string `koanf:"openai_api_key"`
	AnthropicAPIKey string `koanf:"anthropic_api_key"`
	SessionTTL      string `koanf:"session_ttl"`    // Go duration
	SweepInterval   string `koanf:"sweep_interval"` // Go duration

	sessionTTL    time.Duration
	sweepInterval time.Duration
}

func defaults() Config {
	return Config{
		Addr:           "127.0.0.1:8080",
		AllowedOrigins: "*",
		LLMProvider:    llm.ProviderOpenAI,
		LLMTimeout:     30,
		SessionTTL:     "1h",
		SweepInterval:  "5m",
	}
}

// Load layers environment variables over built-in defaults. The LLM
// credential is deliberately not validated here; its absence surfaces on
// the first naming call.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}
	if err := k.Load(env.Provider("", ".", strings.ToLower), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling configuration: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	ttl, err := time.ParseDuration(c.SessionTTL)
	if err != nil || ttl <= 0 {
		return fmt.Errorf("invalid SESSION_TTL %q", c.SessionTTL)
	}
	sweep, err := time.ParseDuration(c.SweepInterval)
	if err != nil || sweep <= 0 {
		return fmt.Errorf("invalid SWEEP_INTERVAL %q", c.SweepInterval)
	}
	if c.LLMTimeout <= 0 {
		return fmt.Errorf("invalid LLM_TIMEOUT %d", c.LLMTimeout)
	}
	c.sessionTTL = ttl
	c.sweepInterval = sweep
	return nil
}

// Origins splits the allowed-origins list for the CORS middleware.
func (c *Config) Origins() []string {
	parts := strings.Split(c.AllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			origins = append(origins, p)
		}
	}
	return origins
}

// LLM assembles the naming-provider configuration, choosing the credential
// that matches the selected provider.
func (c *Config) LLM() llm.Config {
	key := ""
	switch c.LLMProvider {
	case llm.ProviderOpenAI:
		key = c.OpenAIAPIKey
	case llm.ProviderAnthropic:
		key = c.AnthropicAPIKey
	}
	return llm.Config{
		Provider: c.LLMProvider,
		Model:    c.LLMModel,
		APIKey:   key,
		Timeout:  time.Duration(c.LLMTimeout) * time.Second,
	}
}

// TTLs returns the parsed session TTL and sweeper interval.
func (c *Config) TTLs() (ttl, sweep time.Duration) {
	return c.sessionTTL, c.sweepInterval
}
