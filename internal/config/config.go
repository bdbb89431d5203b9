// Package config loads application configuration from file and
// environment via viper.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	LLM      LLMConfig      `mapstructure:"llm"`
	Vector   VectorConfig   `mapstructure:"vector"`
	Temporal TemporalConfig `mapstructure:"temporal"`
	History  HistoryConfig  `mapstructure:"history"`
	Secrets  SecretsConfig  `mapstructure:"secrets"`
	Log      LogConfig      `mapstructure:"log"`
}

type LLMConfig struct {
	Provider    string  `mapstructure:"provider"`
	Model       string  `mapstructure:"model"`
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	EmbedModel  string  `mapstructure:"embed_model"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Iterations  int     `mapstructure:"iterations"`

	// Per-stage overrides. Keys are stage names ("generate", "refine").
	// Each override inherits unset fields from the top-level LLM config.
	Stages map[string]LLMStageOverride `mapstructure:"stages"`
}

// LLMStageOverride allows per-stage LLM provider configuration, e.g. a
// cheaper model for refinement rounds than for the initial draft.
type LLMStageOverride struct {
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
	APIKey   string `mapstructure:"api_key"`
	BaseURL  string `mapstructure:"base_url"`
}

// ResolveForStage returns an LLMConfig with stage-specific overrides applied.
func (c LLMConfig) ResolveForStage(stage string) LLMConfig {
	override, ok := c.Stages[stage]
	if !ok {
		return c
	}
	resolved := c
	if override.Provider != "" {
		resolved.Provider = override.Provider
	}
	if override.Model != "" {
		resolved.Model = override.Model
	}
	if override.APIKey != "" {
		resolved.APIKey = override.APIKey
	}
	if override.BaseURL != "" {
		resolved.BaseURL = override.BaseURL
	}
	return resolved
}

type VectorConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
}

type TemporalConfig struct {
	Host      string `mapstructure:"host"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

type HistoryConfig struct {
	// Dir is the root directory of the run store. Empty disables
	// persistence.
	Dir string `mapstructure:"dir"`
}

type SecretsConfig struct {
	Provider  string `mapstructure:"provider"`
	FilePath  string `mapstructure:"file_path"`
	VaultAddr string `mapstructure:"vault_addr"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Default returns the configuration used when no config file is given.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:   "openai",
			Model:      "gpt-4o-mini",
			Iterations: 0, // 0 means analyzer-recommended
		},
		Vector: VectorConfig{
			Host:       "localhost",
			Port:       6334,
			Collection: "promptforge_prompts",
		},
		Temporal: TemporalConfig{
			Host:      "localhost:7233",
			Namespace: "default",
			TaskQueue: "promptforge",
		},
		History: HistoryConfig{Dir: defaultHistoryDir()},
		Secrets: SecretsConfig{Provider: "env"},
		Log:     LogConfig{Level: "info", Format: "text"},
	}
}

func defaultHistoryDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".promptforge"
	}
	return home + "/.promptforge"
}

// Validate checks configuration for issues and returns warnings.
func (c *Config) Validate() []string {
	var warnings []string

	// ollama runs locally and needs no key
	if c.LLM.Provider != "" && c.LLM.Provider != "ollama" && c.LLM.APIKey == "" {
		warnings = append(warnings, fmt.Sprintf("LLM provider '%s' is configured but api_key is empty", c.LLM.Provider))
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2.0 {
		warnings = append(warnings, fmt.Sprintf("LLM temperature %.2f is outside recommended range [0.0, 2.0]", c.LLM.Temperature))
	}

	if c.LLM.MaxTokens < 0 {
		warnings = append(warnings, fmt.Sprintf("LLM max_tokens %d is negative", c.LLM.MaxTokens))
	}

	if c.LLM.Iterations < 0 || c.LLM.Iterations > 5 {
		warnings = append(warnings, fmt.Sprintf("LLM iterations %d is outside range [1, 5]; it will be clamped", c.LLM.Iterations))
	}

	return warnings
}

// Load reads configuration from file and environment. An empty path
// returns defaults with environment overrides applied.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Default()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("unmarshalling config: %w", err)
		}
	}

	applyEnv(v, cfg)

	if warnings := cfg.Validate(); len(warnings) > 0 {
		for _, warning := range warnings {
			fmt.Fprintf(os.Stderr, "Warning: %s\n", warning)
		}
	}

	return cfg, nil
}

// applyEnv overlays FORGE_* environment variables onto a config.
// viper's AutomaticEnv only resolves keys it has seen, so the ones we
// care about are probed explicitly.
func applyEnv(v *viper.Viper, cfg *Config) {
	if s := v.GetString("llm.provider"); s != "" {
		cfg.LLM.Provider = s
	}
	if s := v.GetString("llm.model"); s != "" {
		cfg.LLM.Model = s
	}
	if s := v.GetString("llm.api_key"); s != "" {
		cfg.LLM.APIKey = s
	}
	if s := v.GetString("llm.base_url"); s != "" {
		cfg.LLM.BaseURL = s
	}
	if s := v.GetString("llm.embed_model"); s != "" {
		cfg.LLM.EmbedModel = s
	}
	if f := v.GetFloat64("llm.temperature"); f != 0 {
		cfg.LLM.Temperature = f
	}
	if n := v.GetInt("llm.max_tokens"); n != 0 {
		cfg.LLM.MaxTokens = n
	}
	if n := v.GetInt("llm.iterations"); n != 0 {
		cfg.LLM.Iterations = n
	}
	if s := v.GetString("history.dir"); s != "" {
		cfg.History.Dir = s
	}
	if s := v.GetString("temporal.host"); s != "" {
		cfg.Temporal.Host = s
	}
	if s := v.GetString("vector.host"); s != "" {
		cfg.Vector.Host = s
	}
	if s := v.GetString("log.level"); s != "" {
		cfg.Log.Level = s
	}
}
