package temporal

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// OptimizeInput holds the workflow parameters.
type OptimizeInput struct {
	RawPrompt  string
	Model      string
	Iterations int // 0 means analyzer-recommended
	MaxTokens  int
	SaveRun    bool
}

// OptimizeOutput holds the workflow result.
type OptimizeOutput struct {
	PromptJSON          string
	History             []HistoryEntry
	Difficulty          string
	ComplexityScore     int
	CompletedIterations int
	Truncated           bool
	RunID               string
}

// HistoryEntry mirrors the optimizer's per-round edit record in a
// workflow-serializable shape.
type HistoryEntry struct {
	Iteration int    `json:"iteration"`
	Edits     string `json:"edits"`
}

// OptimizeWorkflow orchestrates one optimization run: analyze, generate
// the initial draft, then refine sequentially. Completion calls are
// never retried; an unparsable refinement ends the loop early with the
// last confirmed draft.
func OptimizeWorkflow(ctx workflow.Context, input OptimizeInput) (*OptimizeOutput, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1, // completion calls are single-shot
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var analysis AnalyzeResult
	if err := workflow.ExecuteActivity(ctx, AnalyzeActivity, input.RawPrompt).Get(ctx, &analysis); err != nil {
		return nil, fmt.Errorf("analyze: %w", err)
	}

	iterations := analysis.Iterations
	if input.Iterations > 0 {
		iterations = clamp(input.Iterations)
	}

	var gen StageResult
	if err := workflow.ExecuteActivity(ctx, GenerateActivity, input).Get(ctx, &gen); err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}

	out := &OptimizeOutput{
		PromptJSON:      gen.PromptJSON,
		Difficulty:      analysis.Difficulty,
		ComplexityScore: analysis.Score,
		History: []HistoryEntry{{
			Iteration: 1,
			Edits:     "initial structured draft generated from the raw prompt",
		}},
	}

	for i := 1; i <= iterations; i++ {
		var ref StageResult
		err := workflow.ExecuteActivity(ctx, RefineActivity, RefineInput{
			RawPrompt:   input.RawPrompt,
			Model:       input.Model,
			MaxTokens:   input.MaxTokens,
			CurrentJSON: out.PromptJSON,
			History:     out.History,
			Iteration:   i,
			Total:       iterations,
		}).Get(ctx, &ref)
		if err != nil {
			// Hard adapter failure: return the best draft so far.
			out.Truncated = true
			return out, err
		}
		if ref.PromptJSON == "" {
			// Soft failure: response defeated every recovery tier.
			out.Truncated = true
			break
		}
		out.History = append(out.History, HistoryEntry{Iteration: i + 1, Edits: ref.Edits})
		out.PromptJSON = ref.PromptJSON
		out.CompletedIterations = i
	}

	if input.SaveRun {
		var runID string
		if err := workflow.ExecuteActivity(ctx, SaveRunActivity, SaveInput{
			RawPrompt:  input.RawPrompt,
			Model:      input.Model,
			PromptJSON: out.PromptJSON,
			History:    out.History,
			Difficulty: analysis.Difficulty,
		}).Get(ctx, &runID); err == nil {
			out.RunID = runID
		}
		// Persistence failures do not fail the run.
	}

	return out, nil
}

func clamp(n int) int {
	if n < 1 {
		return 1
	}
	if n > 5 {
		return 5
	}
	return n
}
