// Package llmutil wires the built-in provider constructors into a
// factory. It lives outside internal/llm because the adapters import
// that package.
package llmutil

import (
	"github.com/efebarandurmaz/promptforge/internal/llm"
	"github.com/efebarandurmaz/promptforge/internal/llm/anthropic"
	"github.com/efebarandurmaz/promptforge/internal/llm/gemini"
	"github.com/efebarandurmaz/promptforge/internal/llm/ollama"
	"github.com/efebarandurmaz/promptforge/internal/llm/openai"
	"github.com/efebarandurmaz/promptforge/internal/llm/openrouter"
)

// RegisterDefaultProviders registers all built-in LLM provider
// constructors into factory. Both cmd/promptforge and cmd/worker call
// this to avoid duplicating registration logic across binaries.
func RegisterDefaultProviders(factory *llm.ProviderFactory) {
	factory.Register("anthropic", func(c llm.ProviderConfig) (llm.Provider, error) {
		return anthropic.New(c.APIKey, c.BaseURL), nil
	})
	factory.Register("gemini", func(c llm.ProviderConfig) (llm.Provider, error) {
		return gemini.New(c.APIKey, c.BaseURL), nil
	})
	factory.Register("ollama", func(c llm.ProviderConfig) (llm.Provider, error) {
		return ollama.New(c.BaseURL), nil
	})
	factory.Register("openrouter", func(c llm.ProviderConfig) (llm.Provider, error) {
		return openrouter.New(c.APIKey, c.BaseURL, c.Headers["HTTP-Referer"], c.Headers["X-Title"]), nil
	})
	factory.Register("openai", func(c llm.ProviderConfig) (llm.Provider, error) {
		return openai.New(c.APIKey, c.BaseURL, c.EmbedModel), nil
	})
	// All other OpenAI-compatible providers share the openai client.
	for _, p := range []struct{ name, url string }{
		{"groq", llm.KnownProviders["groq"]},
		{"deepseek", llm.KnownProviders["deepseek"]},
		{"together", llm.KnownProviders["together"]},
		{"custom", ""},
	} {
		p := p
		factory.Register(p.name, func(c llm.ProviderConfig) (llm.Provider, error) {
			base := c.BaseURL
			if base == "" {
				base = p.url
			}
			return openai.New(c.APIKey, base, c.EmbedModel), nil
		})
	}
}
