package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"persona-chat/internal/provider"
)

const defaultRequestTimeout = 60 * time.Second

// ProviderSecret holds the per-provider entries of providers.yaml
type ProviderSecret struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// ProvidersFile is the layout of settings/secrets/providers.yaml
type ProvidersFile struct {
	SelectedProvider string                    `yaml:"selected_provider"`
	Providers        map[string]ProviderSecret `yaml:"providers"`
}

// Config holds all application configuration
type Config struct {
	Providers      ProvidersFile
	DBPath         string
	SettingsDir    string
	StaticDir      string
	Port           string
	RequestTimeout time.Duration
	TokenDelay     bool
}

// Load loads configuration from the environment, an optional .env file and the
// provider secrets file. A missing secrets file is not an error.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("[Config] Failed to read .env file err=%v", err)
	}

	cfg := &Config{
		DBPath:         getEnvOrDefault("DB_PATH", "data/app.db"),
		SettingsDir:    getEnvOrDefault("SETTINGS_DIR", "settings"),
		StaticDir:      os.Getenv("STATIC_DIR"),
		Port:           getEnvOrDefault("PORT", "8080"),
		RequestTimeout: defaultRequestTimeout,
		TokenDelay:     true,
	}

	if v := os.Getenv("AI_REQUEST_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid AI_REQUEST_TIMEOUT %q: %w", v, err)
		}
		cfg.RequestTimeout = d
	}

	if v := os.Getenv("AI_TOKEN_DELAY"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid AI_TOKEN_DELAY %q: %w", v, err)
		}
		cfg.TokenDelay = enabled
	}

	providersPath := filepath.Join(cfg.SettingsDir, "secrets", "providers.yaml")
	providers, err := loadProvidersFile(providersPath)
	switch {
	case err == nil:
		cfg.Providers = *providers
	case os.IsNotExist(err):
		log.Printf("[Config] Provider secrets not found path=%s (mock provider only until configured)", providersPath)
	default:
		return nil, err
	}

	return cfg, nil
}

// loadProvidersFile loads provider secrets from a YAML file
func loadProvidersFile(path string) (*ProvidersFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file ProvidersFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return &file, nil
}

// Seed converts the secrets file into the initial AIConfig. Unknown providers are ignored.
func (f ProvidersFile) Seed() AIConfig {
	cfg := DefaultAIConfig()

	if p, err := provider.Parse(f.SelectedProvider); err == nil {
		cfg.SelectedProvider = p
	}

	for name, secret := range f.Providers {
		p, err := provider.Parse(name)
		if err != nil {
			log.Printf("[Config] Ignoring unknown provider in secrets file provider=%q", name)
			continue
		}
		pc := cfg.For(p)
		if secret.APIKey != "" {
			pc.APIKey = secret.APIKey
		}
		if secret.Model != "" {
			pc.Model = secret.Model
		}
		cfg.ProviderConfigs[p] = pc
	}

	return cfg
}

// Endpoints returns the base URL overrides declared in the secrets file
func (f ProvidersFile) Endpoints() map[provider.Provider]string {
	endpoints := make(map[provider.Provider]string)
	for name, secret := range f.Providers {
		p, err := provider.Parse(name)
		if err != nil || secret.BaseURL == "" {
			continue
		}
		endpoints[p] = secret.BaseURL
	}
	return endpoints
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
