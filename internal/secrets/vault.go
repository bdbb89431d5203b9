package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// VaultConfig configures the HashiCorp Vault provider.
type VaultConfig struct {
	// Address is the Vault server address (e.g., "http://localhost:8200")
	Address string
	// Token is the Vault authentication token
	Token string
	// MountPath is the secrets engine mount path (default: "secret")
	MountPath string
	// SecretPath is the path under the mount (default: "promptforge")
	SecretPath string
	// Timeout for Vault API requests
	Timeout time.Duration
}

// DefaultVaultConfig returns default Vault configuration.
func DefaultVaultConfig() *VaultConfig {
	return &VaultConfig{
		Address:    "http://localhost:8200",
		MountPath:  "secret",
		SecretPath: "promptforge",
		Timeout:    10 * time.Second,
	}
}

// VaultProvider reads secrets from HashiCorp Vault (KV v2).
type VaultProvider struct {
	config *VaultConfig
	client *http.Client
}

// NewVaultProvider creates a Vault secrets provider.
func NewVaultProvider(config *VaultConfig) (*VaultProvider, error) {
	if config == nil {
		config = DefaultVaultConfig()
	}
	if config.Address == "" {
		return nil, fmt.Errorf("vault address required")
	}
	if config.Token == "" {
		return nil, fmt.Errorf("vault token required")
	}
	if config.MountPath == "" {
		config.MountPath = "secret"
	}
	if config.SecretPath == "" {
		config.SecretPath = "promptforge"
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}

	return &VaultProvider{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}, nil
}

func (p *VaultProvider) Name() string { return "vault" }

func (p *VaultProvider) dataURL() string {
	return fmt.Sprintf("%s/v1/%s/data/%s",
		strings.TrimSuffix(p.config.Address, "/"),
		p.config.MountPath,
		p.config.SecretPath,
	)
}

func (p *VaultProvider) Get(ctx context.Context, key string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.dataURL(), nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-Vault-Token", p.config.Token)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("vault request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("secret path not found: %s", p.config.SecretPath)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("vault error %d: %s", resp.StatusCode, body)
	}

	var result struct {
		Data struct {
			Data map[string]interface{} `json:"data"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	val, ok := result.Data.Data[key]
	if !ok {
		return "", fmt.Errorf("key not found in vault: %s", key)
	}
	if strVal, ok := val.(string); ok {
		return strVal, nil
	}
	return fmt.Sprintf("%v", val), nil
}

func (p *VaultProvider) Set(ctx context.Context, key, value string) error {
	data := p.readAll(ctx)
	data[key] = value
	return p.writeAll(ctx, data)
}

func (p *VaultProvider) Delete(ctx context.Context, key string) error {
	// KV v2 has no per-key delete: read, remove, write back.
	data := p.readAll(ctx)
	delete(data, key)
	return p.writeAll(ctx, data)
}

// readAll fetches the current secret map; errors yield an empty map so
// Set works on paths that do not exist yet.
func (p *VaultProvider) readAll(ctx context.Context) map[string]interface{} {
	data := make(map[string]interface{})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.dataURL(), nil)
	if err != nil {
		return data
	}
	req.Header.Set("X-Vault-Token", p.config.Token)

	resp, err := p.client.Do(req)
	if err != nil {
		return data
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		var result struct {
			Data struct {
				Data map[string]interface{} `json:"data"`
			} `json:"data"`
		}
		if json.NewDecoder(resp.Body).Decode(&result) == nil && result.Data.Data != nil {
			data = result.Data.Data
		}
	}
	return data
}

func (p *VaultProvider) writeAll(ctx context.Context, data map[string]interface{}) error {
	body, err := json.Marshal(map[string]interface{}{"data": data})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.dataURL(), strings.NewReader(string(body)))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-Vault-Token", p.config.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("vault request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("vault error %d: %s", resp.StatusCode, respBody)
	}
	return nil
}
