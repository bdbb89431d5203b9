package vector

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/efebarandurmaz/promptforge/internal/llm"
)

// Embedder wraps an LLM provider to embed prompts into the library and
// to answer similarity queries over it.
type Embedder struct {
	provider llm.Provider
	repo     Repository
}

// NewEmbedder creates an Embedder.
func NewEmbedder(provider llm.Provider, repo Repository) *Embedder {
	return &Embedder{provider: provider, repo: repo}
}

// IndexPrompt embeds one optimized prompt and upserts it. metadata
// should identify the run (run_id, provider, model, difficulty).
func (e *Embedder) IndexPrompt(ctx context.Context, content string, metadata map[string]string) error {
	vectors, err := e.provider.Embed(ctx, []string{content})
	if err != nil {
		return fmt.Errorf("embedding: %w", err)
	}
	if len(vectors) != 1 {
		return fmt.Errorf("embedding count mismatch: got %d, want 1", len(vectors))
	}
	if metadata == nil {
		metadata = map[string]string{}
	}
	return e.repo.Upsert(ctx, []Document{{
		ID:       newUUID(),
		Content:  content,
		Vector:   vectors[0],
		Metadata: metadata,
	}})
}

// SearchText embeds the query and returns the top-k most similar
// prompts from the library.
func (e *Embedder) SearchText(ctx context.Context, query string, topK int) ([]SearchResult, error) {
	vectors, err := e.provider.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want 1", len(vectors))
	}
	return e.repo.Search(ctx, vectors[0], topK)
}

func newUUID() string {
	// Minimal UUIDv4 generator to avoid an extra dependency here.
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	return fmt.Sprintf("%s-%s-%s-%s-%s",
		hex.EncodeToString(b[0:4]),
		hex.EncodeToString(b[4:6]),
		hex.EncodeToString(b[6:8]),
		hex.EncodeToString(b[8:10]),
		hex.EncodeToString(b[10:16]))
}
