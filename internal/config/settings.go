package config

import (
	"context"
	"fmt"
	"log"
	"sync"

	"persona-chat/internal/provider"
)

// aiConfigKey is the settings key the AI configuration is persisted under
const aiConfigKey = "ai_config"

// Store persists opaque settings blobs
type Store interface {
	LoadSetting(ctx context.Context, key string) ([]byte, bool, error)
	SaveSetting(ctx context.Context, key string, value []byte) error
}

// Settings owns the process-wide AIConfig.
// Readers get snapshots; writers replace the whole value after it is persisted,
// so a snapshot never pairs one provider with another provider's key.
type Settings struct {
	mu    sync.RWMutex
	cfg   AIConfig
	store Store
}

// LoadSettings loads the persisted configuration, or persists seed when none exists
func LoadSettings(ctx context.Context, store Store, seed AIConfig) (*Settings, error) {
	s := &Settings{store: store}

	data, found, err := store.LoadSetting(ctx, aiConfigKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load ai config: %w", err)
	}

	if found {
		cfg, err := DecodeAIConfig(data)
		if err == nil {
			s.cfg = cfg
			log.Printf("[Settings] Loaded ai config selected_provider=%s", cfg.SelectedProvider)
			return s, nil
		}
		log.Printf("[Settings] Persisted ai config is unreadable, using seed err=%v", err)
	}

	s.cfg = seed.Clone()
	s.cfg.Normalize()
	if err := s.Save(ctx); err != nil {
		return nil, err
	}
	log.Printf("[Settings] Seeded ai config selected_provider=%s", s.cfg.SelectedProvider)
	return s, nil
}

// Snapshot returns a copy of the current configuration
func (s *Settings) Snapshot() AIConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Clone()
}

// Save persists the current configuration. The lock is held until the store write
// finishes so a concurrent Update cannot be overwritten by older bytes.
func (s *Settings) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persist(ctx, s.cfg)
}

// Update applies fn to a copy of the configuration, persists it and swaps it in.
// Nothing changes when fn or the save fails.
func (s *Settings) Update(ctx context.Context, fn func(cfg *AIConfig) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cfg.Clone()
	if err := fn(&next); err != nil {
		return err
	}
	next.Normalize()

	if err := s.persist(ctx, next); err != nil {
		return err
	}

	s.cfg = next
	return nil
}

// SelectProvider switches the globally selected provider
func (s *Settings) SelectProvider(ctx context.Context, p provider.Provider) error {
	return s.Update(ctx, func(cfg *AIConfig) error {
		if !p.IsKnown() {
			return fmt.Errorf("unknown provider: %q", p)
		}
		cfg.SelectedProvider = p
		log.Printf("[Settings] Provider selected provider=%s", p)
		return nil
	})
}

// SetProviderConfig edits the key and/or model of one provider. Nil fields are left unchanged.
func (s *Settings) SetProviderConfig(ctx context.Context, p provider.Provider, apiKey, model *string) error {
	return s.Update(ctx, func(cfg *AIConfig) error {
		if !p.IsKnown() {
			return fmt.Errorf("unknown provider: %q", p)
		}
		pc := cfg.For(p)
		if apiKey != nil {
			pc.APIKey = *apiKey
		}
		if model != nil {
			pc.Model = *model
		}
		cfg.ProviderConfigs[p] = pc
		log.Printf("[Settings] Provider config updated provider=%s key_changed=%v model=%q",
			p, apiKey != nil, pc.Model)
		return nil
	})
}

// persist writes cfg to the store. Callers hold s.mu.
func (s *Settings) persist(ctx context.Context, cfg AIConfig) error {
	data, err := cfg.Encode()
	if err != nil {
		return err
	}
	if err := s.store.SaveSetting(ctx, aiConfigKey, data); err != nil {
		return fmt.Errorf("failed to save ai config: %w", err)
	}
	return nil
}
