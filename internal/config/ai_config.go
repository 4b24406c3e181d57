package config

import (
	"encoding/json"
	"fmt"

	"persona-chat/internal/provider"
)

// ProviderConfig holds the credential and model selector of one provider.
// Model is provider specific: a chat-completion model name or a Coze bot id.
type ProviderConfig struct {
	APIKey string `json:"api_key"`
	Model  string `json:"model"`
}

// DefaultProviderConfig returns the built-in configuration for a provider
func DefaultProviderConfig(p provider.Provider) ProviderConfig {
	switch p {
	case provider.Mock:
		return ProviderConfig{Model: "mock-model"}
	case provider.OpenAI:
		return ProviderConfig{Model: "gpt-4o-mini"}
	case provider.DeepSeek:
		return ProviderConfig{Model: "deepseek-chat"}
	default:
		return ProviderConfig{}
	}
}

// AIConfig is the selected provider plus the configuration of every provider
type AIConfig struct {
	SelectedProvider provider.Provider                    `json:"selected_provider"`
	ProviderConfigs  map[provider.Provider]ProviderConfig `json:"provider_configs"`
}

// DefaultAIConfig selects the mock provider and fills in every default
func DefaultAIConfig() AIConfig {
	cfg := AIConfig{SelectedProvider: provider.Mock}
	cfg.Normalize()
	return cfg
}

// Normalize back-fills a default for every missing provider, drops unknown entries
// and falls back to the mock provider when the selection is unknown
func (c *AIConfig) Normalize() {
	if c.ProviderConfigs == nil {
		c.ProviderConfigs = make(map[provider.Provider]ProviderConfig, len(provider.All()))
	}
	for p := range c.ProviderConfigs {
		if !p.IsKnown() {
			delete(c.ProviderConfigs, p)
		}
	}
	for _, p := range provider.All() {
		if _, ok := c.ProviderConfigs[p]; !ok {
			c.ProviderConfigs[p] = DefaultProviderConfig(p)
		}
	}
	if !c.SelectedProvider.IsKnown() {
		c.SelectedProvider = provider.Mock
	}
}

// Current returns the configuration of the selected provider
func (c AIConfig) Current() ProviderConfig {
	return c.For(c.SelectedProvider)
}

// For returns the configuration of p, or its default when absent
func (c AIConfig) For(p provider.Provider) ProviderConfig {
	if pc, ok := c.ProviderConfigs[p]; ok {
		return pc
	}
	return DefaultProviderConfig(p)
}

// CurrentAPIKey returns the API key of the selected provider
func (c AIConfig) CurrentAPIKey() string {
	return c.Current().APIKey
}

// CurrentModel returns the model of the selected provider
func (c AIConfig) CurrentModel() string {
	return c.Current().Model
}

// Clone returns a deep copy that shares no map with c
func (c AIConfig) Clone() AIConfig {
	out := AIConfig{
		SelectedProvider: c.SelectedProvider,
		ProviderConfigs:  make(map[provider.Provider]ProviderConfig, len(c.ProviderConfigs)),
	}
	for p, pc := range c.ProviderConfigs {
		out.ProviderConfigs[p] = pc
	}
	return out
}

// WithProvider returns a copy of c with a different selected provider.
// It is used for call-scoped overrides and never touches c itself.
func (c AIConfig) WithProvider(p provider.Provider) AIConfig {
	out := c.Clone()
	out.SelectedProvider = p
	return out
}

// Encode serializes the configuration. Map keys are sorted, so equal values
// always produce identical bytes.
func (c AIConfig) Encode() ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode ai config: %w", err)
	}
	return data, nil
}

// DecodeAIConfig parses a persisted configuration and normalizes it
func DecodeAIConfig(data []byte) (AIConfig, error) {
	var cfg AIConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return AIConfig{}, fmt.Errorf("failed to decode ai config: %w", err)
	}
	cfg.Normalize()
	return cfg, nil
}
