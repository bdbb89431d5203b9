package temporal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/efebarandurmaz/promptforge/internal/analyzer"
	"github.com/efebarandurmaz/promptforge/internal/history"
	"github.com/efebarandurmaz/promptforge/internal/llm"
	"github.com/efebarandurmaz/promptforge/internal/optimizer"
	"github.com/efebarandurmaz/promptforge/internal/pe2"
	"github.com/efebarandurmaz/promptforge/internal/vector"
)

// AnalyzeResult is the serializable output of the analysis activity.
type AnalyzeResult struct {
	Score      int
	Difficulty string
	Iterations int
}

// StageResult carries one stage's structured prompt between activities.
// An empty PromptJSON from a refinement means the parse failed softly.
type StageResult struct {
	PromptJSON string
	Edits      string
}

// RefineInput holds everything one refinement round needs.
type RefineInput struct {
	RawPrompt   string
	Model       string
	MaxTokens   int
	CurrentJSON string
	History     []HistoryEntry
	Iteration   int
	Total       int
}

// SaveInput holds what the persistence activity records.
type SaveInput struct {
	RawPrompt  string
	Model      string
	PromptJSON string
	History    []HistoryEntry
	Difficulty string
}

// Dependencies holds shared resources injected into activities.
type Dependencies struct {
	Provider llm.Provider
	Sink     history.Sink     // optional
	Embedder *vector.Embedder // optional

	// Refiner routes refinement rounds to a different backend when the
	// config carries a per-stage override. Nil means Provider.
	Refiner llm.Provider
	// RefineModel overrides the workflow's model for refinement rounds.
	RefineModel string
	// Temperature overrides the backend default on every call when
	// non-nil.
	Temperature *float64
}

var deps *Dependencies

// SetDependencies injects shared resources (called during worker setup).
func SetDependencies(d *Dependencies) {
	deps = d
}

func AnalyzeActivity(ctx context.Context, raw string) (AnalyzeResult, error) {
	cx := analyzer.Score(raw)
	return AnalyzeResult{
		Score:      cx.Score,
		Difficulty: cx.Difficulty,
		Iterations: cx.Iterations,
	}, nil
}

func GenerateActivity(ctx context.Context, input OptimizeInput) (StageResult, error) {
	o := optimizer.New(deps.Provider)
	prompt, _, err := o.GenerateOnce(ctx, input.RawPrompt, optimizer.Options{
		Model:       input.Model,
		MaxTokens:   input.MaxTokens,
		Temperature: deps.Temperature,
	})
	if err != nil {
		return StageResult{}, err
	}

	return StageResult{PromptJSON: prompt.JSON()}, nil
}

func RefineActivity(ctx context.Context, input RefineInput) (StageResult, error) {
	var current pe2.Prompt
	if err := json.Unmarshal([]byte(input.CurrentJSON), &current); err != nil {
		return StageResult{}, fmt.Errorf("unmarshal current prompt: %w", err)
	}

	hist := make([]optimizer.HistoryEntry, len(input.History))
	for i, h := range input.History {
		hist[i] = optimizer.HistoryEntry{Iteration: h.Iteration, Edits: h.Edits}
	}

	o := optimizer.New(deps.Provider).WithRefineProvider(deps.Refiner)
	next, _, err := o.RefineOnce(ctx, input.RawPrompt, &current, hist, input.Iteration, input.Total, optimizer.Options{
		Model:       input.Model,
		MaxTokens:   input.MaxTokens,
		Temperature: deps.Temperature,
		RefineModel: deps.RefineModel,
	})
	if err != nil {
		return StageResult{}, err
	}
	if next == nil {
		// Soft parse failure: signalled by an empty prompt, not an error,
		// so the workflow stops the loop instead of failing the run.
		return StageResult{}, nil
	}

	return StageResult{PromptJSON: next.JSON(), Edits: editSummary(&current, next)}, nil
}

// SaveRunActivity persists a finished run and indexes the optimized
// prompt in the library when an embedder is configured.
func SaveRunActivity(ctx context.Context, input SaveInput) (string, error) {
	if deps.Sink == nil {
		return "", nil
	}

	var prompt pe2.Prompt
	if err := json.Unmarshal([]byte(input.PromptJSON), &prompt); err != nil {
		return "", fmt.Errorf("unmarshal prompt: %w", err)
	}

	hist := make([]optimizer.HistoryEntry, len(input.History))
	for i, h := range input.History {
		hist[i] = optimizer.HistoryEntry{Iteration: h.Iteration, Edits: h.Edits}
	}

	rec := history.NewRecord(input.RawPrompt, &optimizer.Result{
		Prompt:  &prompt,
		History: hist,
		State:   optimizer.StateDone,
	}, deps.Provider.Name(), input.Model)

	if err := deps.Sink.Append(ctx, rec); err != nil {
		return "", fmt.Errorf("append run: %w", err)
	}

	if deps.Embedder != nil {
		// Library indexing is best-effort; the run record is the source
		// of truth.
		ictx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		_ = deps.Embedder.IndexPrompt(ictx, prompt.Markdown(), map[string]string{
			"run_id":     rec.ID,
			"provider":   rec.Provider,
			"model":      rec.Model,
			"difficulty": input.Difficulty,
		})
	}

	return rec.ID, nil
}

// editSummary mirrors the optimizer's change description for workflow
// history entries.
func editSummary(prev, next *pe2.Prompt) string {
	var changed []string
	if prev.Context != next.Context {
		changed = append(changed, "context")
	}
	if prev.Role != next.Role {
		changed = append(changed, "role")
	}
	if prev.Task.String() != next.Task.String() {
		changed = append(changed, "task")
	}
	if prev.Constraints.String() != next.Constraints.String() {
		changed = append(changed, "constraints")
	}
	if prev.Output.String() != next.Output.String() {
		changed = append(changed, "output")
	}
	if len(changed) == 0 {
		return "confirmed the previous draft without changes"
	}
	out := "revised "
	for i, c := range changed {
		if i > 0 {
			out += ", "
		}
		out += c
	}
	return out
}
