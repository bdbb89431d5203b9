package llm

import "fmt"

// ProviderConfig holds all configuration needed to create any LLM provider.
type ProviderConfig struct {
	Provider   string // "anthropic", "openai", "gemini", "ollama", "openrouter", ...
	APIKey     string
	Model      string
	BaseURL    string // Override for self-hosted / custom endpoints
	EmbedModel string // Embedding model (OpenAI-compatible providers only)

	// Headers are extra headers some backends require on every call
	// (e.g. OpenRouter's caller identification).
	Headers map[string]string
}

// ProviderFactory creates Provider instances from config.
type ProviderFactory struct {
	constructors map[string]ProviderConstructor
}

// ProviderConstructor builds a Provider from config.
type ProviderConstructor func(cfg ProviderConfig) (Provider, error)

// NewFactory creates an empty factory. Call RegisterDefaultProviders to
// pre-register the built-in backends.
func NewFactory() *ProviderFactory {
	return &ProviderFactory{
		constructors: make(map[string]ProviderConstructor),
	}
}

// Register adds a provider constructor under the given name.
func (f *ProviderFactory) Register(name string, ctor ProviderConstructor) {
	f.constructors[name] = ctor
}

// Create builds a Provider from config. An unsupported provider
// identifier is a fatal configuration error, never retried.
func (f *ProviderFactory) Create(cfg ProviderConfig) (Provider, error) {
	ctor, ok := f.constructors[cfg.Provider]
	if !ok {
		return nil, NewError(ErrConfiguration, cfg.Provider,
			fmt.Sprintf("unknown LLM provider %q (registered: %v)", cfg.Provider, f.names()))
	}
	return ctor(cfg)
}

func (f *ProviderFactory) names() []string {
	var out []string
	for k := range f.constructors {
		out = append(out, k)
	}
	return out
}

// KnownProviders documents the built-in provider presets.
// For OpenAI-compatible APIs (Groq, DeepSeek, Together, vLLM, etc.)
// use "openai" provider with a custom base_url, or one of the presets.
var KnownProviders = map[string]string{
	"anthropic":  "https://api.anthropic.com/v1",
	"openai":     "https://api.openai.com/v1",
	"gemini":     "https://generativelanguage.googleapis.com",
	"openrouter": "https://openrouter.ai/api/v1",
	"ollama":     "http://localhost:11434",
	"groq":       "https://api.groq.com/openai/v1",
	"deepseek":   "https://api.deepseek.com/v1",
	"together":   "https://api.together.xyz/v1",
}
