// Package history persists completed optimization runs. The sink is
// append-only: the core hands over the final prompt, the edit history
// and summary metrics once per run and never mutates a stored record.
package history

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/efebarandurmaz/promptforge/internal/metrics"
	"github.com/efebarandurmaz/promptforge/internal/optimizer"
	"github.com/efebarandurmaz/promptforge/internal/pe2"
)

// Record is what one optimization run persists.
type Record struct {
	ID        string                   `json:"id"`
	CreatedAt time.Time                `json:"created_at"`
	Provider  string                   `json:"provider"`
	Model     string                   `json:"model"`
	RawPrompt string                   `json:"raw_prompt"`
	Prompt    *pe2.Prompt              `json:"prompt"`
	History   []optimizer.HistoryEntry `json:"history"`
	Metrics   *metrics.RunMetrics      `json:"metrics,omitempty"`
}

// Summary is the index entry kept per record.
type Summary struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	Provider   string    `json:"provider"`
	Model      string    `json:"model"`
	Difficulty string    `json:"difficulty,omitempty"`
	Excerpt    string    `json:"excerpt"`
}

// Sink receives completed runs for persistence.
type Sink interface {
	// Append stores a record. Records are immutable once stored.
	Append(ctx context.Context, rec *Record) error
	// List returns summaries of all stored records, newest first.
	List(ctx context.Context) ([]Summary, error)
	// Load retrieves a full record by ID.
	Load(ctx context.Context, id string) (*Record, error)
}

// NewRecord assembles a record from a finished run.
func NewRecord(rawPrompt string, res *optimizer.Result, provider, model string) *Record {
	return &Record{
		ID:        newID(),
		CreatedAt: time.Now(),
		Provider:  provider,
		Model:     model,
		RawPrompt: rawPrompt,
		Prompt:    res.Prompt,
		History:   res.History,
		Metrics:   res.Metrics,
	}
}

// newID returns a sortable run identifier: timestamp plus random suffix.
func newID() string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("%s-%s", time.Now().UTC().Format("20060102T150405"), hex.EncodeToString(buf))
}
