// Package secrets provides unified secrets management with multiple backends.
package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
)

// SecretKey identifies common secret types.
type SecretKey string

const (
	SecretOpenAIKey     SecretKey = "openai_api_key"
	SecretAnthropicKey  SecretKey = "anthropic_api_key"
	SecretGeminiKey     SecretKey = "gemini_api_key"
	SecretOpenRouterKey SecretKey = "openrouter_api_key"
	SecretGroqKey       SecretKey = "groq_api_key"
	SecretDeepSeekKey   SecretKey = "deepseek_api_key"
	SecretTogetherKey   SecretKey = "together_api_key"
	SecretTemporalToken SecretKey = "temporal_token"
)

// ProviderKey returns the secret key for a named LLM provider, or ""
// if the provider does not use an API key (ollama) or is unknown.
func ProviderKey(provider string) SecretKey {
	switch provider {
	case "openai", "custom":
		return SecretOpenAIKey
	case "anthropic":
		return SecretAnthropicKey
	case "gemini":
		return SecretGeminiKey
	case "openrouter":
		return SecretOpenRouterKey
	case "groq":
		return SecretGroqKey
	case "deepseek":
		return SecretDeepSeekKey
	case "together":
		return SecretTogetherKey
	}
	return ""
}

// Provider is the interface for secret backends.
type Provider interface {
	// Get retrieves a secret by key.
	Get(ctx context.Context, key string) (string, error)
	// Set stores a secret (not all providers support this).
	Set(ctx context.Context, key, value string) error
	// Delete removes a secret (not all providers support this).
	Delete(ctx context.Context, key string) error
	// Name returns the provider name.
	Name() string
}

// Config configures the secrets manager.
type Config struct {
	// Provider specifies which backend to use: "env", "vault", "file"
	Provider string
	// VaultConfig for HashiCorp Vault backend
	VaultConfig *VaultConfig
	// FileConfig for file-based backend (development only)
	FileConfig *FileConfig
	// Prefix for environment variable names (default: "FORGE_")
	EnvPrefix string
}

// DefaultConfig returns default secrets configuration (env-based).
func DefaultConfig() *Config {
	return &Config{
		Provider:  "env",
		EnvPrefix: "FORGE_",
	}
}

// Manager provides unified access to secrets from multiple backends.
type Manager struct {
	primary  Provider
	fallback Provider
	cache    map[string]string
	cacheMu  sync.RWMutex
	useCache bool
}

// NewManager creates a secrets manager with the specified configuration.
func NewManager(cfg *Config) (*Manager, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var primary Provider
	var err error

	switch cfg.Provider {
	case "vault":
		if cfg.VaultConfig == nil {
			return nil, fmt.Errorf("vault config required for vault provider")
		}
		primary, err = NewVaultProvider(cfg.VaultConfig)
		if err != nil {
			return nil, fmt.Errorf("create vault provider: %w", err)
		}
	case "file":
		if cfg.FileConfig == nil {
			return nil, fmt.Errorf("file config required for file provider")
		}
		primary, err = NewFileProvider(cfg.FileConfig)
		if err != nil {
			return nil, fmt.Errorf("create file provider: %w", err)
		}
	case "env", "":
		primary = NewEnvProvider(cfg.EnvPrefix)
	default:
		return nil, fmt.Errorf("unknown secrets provider: %s", cfg.Provider)
	}

	// Always use env as fallback
	fallback := NewEnvProvider(cfg.EnvPrefix)

	return &Manager{
		primary:  primary,
		fallback: fallback,
		cache:    make(map[string]string),
		useCache: true,
	}, nil
}

// Get retrieves a secret, trying primary then fallback.
func (m *Manager) Get(ctx context.Context, key string) (string, error) {
	if m.useCache {
		m.cacheMu.RLock()
		if val, ok := m.cache[key]; ok {
			m.cacheMu.RUnlock()
			return val, nil
		}
		m.cacheMu.RUnlock()
	}

	val, err := m.primary.Get(ctx, key)
	if err == nil && val != "" {
		m.cacheSet(key, val)
		return val, nil
	}

	if m.fallback != nil {
		val, err = m.fallback.Get(ctx, key)
		if err == nil && val != "" {
			m.cacheSet(key, val)
			return val, nil
		}
	}

	return "", fmt.Errorf("secret not found: %s", key)
}

// GetOrDefault retrieves a secret or returns a default value.
func (m *Manager) GetOrDefault(ctx context.Context, key, defaultVal string) string {
	val, err := m.Get(ctx, key)
	if err != nil || val == "" {
		return defaultVal
	}
	return val
}

// Set stores a secret in the primary provider.
func (m *Manager) Set(ctx context.Context, key, value string) error {
	if err := m.primary.Set(ctx, key, value); err != nil {
		return err
	}
	m.cacheSet(key, value)
	return nil
}

// Delete removes a secret from the primary provider.
func (m *Manager) Delete(ctx context.Context, key string) error {
	if err := m.primary.Delete(ctx, key); err != nil {
		return err
	}
	m.cacheMu.Lock()
	delete(m.cache, key)
	m.cacheMu.Unlock()
	return nil
}

// ClearCache clears the secrets cache.
func (m *Manager) ClearCache() {
	m.cacheMu.Lock()
	m.cache = make(map[string]string)
	m.cacheMu.Unlock()
}

// DisableCache disables caching (useful for testing).
func (m *Manager) DisableCache() {
	m.useCache = false
}

func (m *Manager) cacheSet(key, value string) {
	if m.useCache {
		m.cacheMu.Lock()
		m.cache[key] = value
		m.cacheMu.Unlock()
	}
}

// EnvProvider reads secrets from environment variables.
type EnvProvider struct {
	prefix string
}

// NewEnvProvider creates an environment-based secrets provider.
func NewEnvProvider(prefix string) *EnvProvider {
	if prefix == "" {
		prefix = "FORGE_"
	}
	return &EnvProvider{prefix: prefix}
}

func (p *EnvProvider) Name() string { return "env" }

func (p *EnvProvider) Get(ctx context.Context, key string) (string, error) {
	// Try with prefix first, then the bare uppercased name so that
	// conventional vars like OPENAI_API_KEY still resolve.
	envKey := p.prefix + strings.ToUpper(key)
	if val := os.Getenv(envKey); val != "" {
		return val, nil
	}
	if val := os.Getenv(strings.ToUpper(key)); val != "" {
		return val, nil
	}
	return "", fmt.Errorf("env var not found: %s", envKey)
}

func (p *EnvProvider) Set(ctx context.Context, key, value string) error {
	return os.Setenv(p.prefix+strings.ToUpper(key), value)
}

func (p *EnvProvider) Delete(ctx context.Context, key string) error {
	return os.Unsetenv(p.prefix + strings.ToUpper(key))
}
