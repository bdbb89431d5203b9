// Package optimizer drives the generate→refine loop that turns a raw
// prompt into a structured, optimized one.
package optimizer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/efebarandurmaz/promptforge/internal/analyzer"
	"github.com/efebarandurmaz/promptforge/internal/llm"
	"github.com/efebarandurmaz/promptforge/internal/metrics"
	"github.com/efebarandurmaz/promptforge/internal/observability"
	"github.com/efebarandurmaz/promptforge/internal/pe2"
)

// State identifies where a run is in its lifecycle.
type State string

const (
	StateIdle       State = "idle"
	StateGenerating State = "generating"
	StateRefining   State = "refining"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// Iteration bounds for one run, regardless of what the analyzer or the
// caller asks for.
const (
	MinIterations = 1
	MaxIterations = 5
)

// HistoryEntry records the edits one round made. The sequence is
// append-only and owned by a single run.
type HistoryEntry struct {
	Iteration int    `json:"iteration"`
	Edits     string `json:"edits"`
}

// ProgressFunc receives best-effort stage notifications. It must not
// block and must not mutate run state; it is purely a side-channel.
type ProgressFunc func(stage string, percent int)

// Options configure one run.
type Options struct {
	// Model is the backend model identifier, required.
	Model string
	// Iterations overrides the analyzer's recommendation when positive.
	Iterations int
	// MaxTokens caps each completion when positive.
	MaxTokens int
	// Temperature overrides the backend default when non-nil.
	Temperature *float64
	// RefineModel overrides Model for refinement rounds when non-empty.
	RefineModel string
	// Progress receives stage notifications, may be nil.
	Progress ProgressFunc
}

// Result is the outcome of a run that produced at least one structured
// prompt.
type Result struct {
	Prompt     *pe2.Prompt
	History    []HistoryEntry
	State      State
	Complexity analyzer.Result
	// Truncated is set when refinement stopped before the requested
	// round count, either on a soft parse failure or an adapter error.
	Truncated bool
	Metrics   *metrics.RunMetrics
}

// Optimizer composes a provider, the complexity analyzer and the
// response parser into the refinement loop. Runs are strictly
// sequential: one completion call at a time, never retried.
type Optimizer struct {
	provider llm.Provider
	refiner  llm.Provider
}

// New creates an Optimizer on top of a provider. Refinement rounds use
// the same provider unless WithRefineProvider routes them elsewhere.
func New(provider llm.Provider) *Optimizer {
	return &Optimizer{provider: provider, refiner: provider}
}

// WithRefineProvider sends refinement rounds to a different backend
// than the initial generation, e.g. a cheaper model for polish passes.
func (o *Optimizer) WithRefineProvider(p llm.Provider) *Optimizer {
	if p != nil {
		o.refiner = p
	}
	return o
}

// Run executes one full optimization: a single initial generation
// followed by up to N refinement rounds.
//
// A nil Result is returned only when the initial generation never
// produced a parseable structure (or its call failed outright). When an
// adapter error aborts a later round, Run returns both the best result
// obtained so far and the error; the result is marked Truncated.
func (o *Optimizer) Run(ctx context.Context, raw string, opts Options) (*Result, error) {
	ctx, span := observability.StartRunSpan(ctx, o.provider.Name(), opts.Model)
	defer span.End()
	fm := observability.Metrics()
	fm.ActiveRuns.Inc()
	defer fm.ActiveRuns.Dec()
	runStart := time.Now()

	cx := analyzer.Score(raw)
	iterations := cx.Iterations
	if opts.Iterations > 0 {
		iterations = clampIterations(opts.Iterations)
	}

	m := metrics.New(o.provider.Name(), opts.Model)
	m.Difficulty = cx.Difficulty
	m.ComplexityScore = cx.Score
	m.RequestedIterations = iterations

	res := &Result{State: StateGenerating, Complexity: cx, Metrics: m}
	notify(opts.Progress, "generating", 5)

	start := time.Now()
	prompt, usage, err := o.GenerateOnce(ctx, raw, opts)
	m.AddStage("generate", time.Since(start), err == nil)
	m.AddUsage(usage)
	if err != nil {
		m.Finish()
		observability.RecordError(span, err)
		fm.RecordRun(time.Since(runStart), 0, false, err)
		return nil, err
	}
	res.Prompt = prompt
	res.History = append(res.History, HistoryEntry{
		Iteration: 1,
		Edits:     "initial structured draft generated from the raw prompt",
	})

	for i := 1; i <= iterations; i++ {
		res.State = StateRefining
		stage := fmt.Sprintf("refine %d/%d", i, iterations)
		notify(opts.Progress, stage, 5+90*i/(iterations+1))

		start = time.Now()
		next, usage, err := o.RefineOnce(ctx, raw, res.Prompt, res.History, i, iterations, opts)
		m.AddUsage(usage)
		if err != nil {
			// Adapter failure: abort the run, keep the last confirmed
			// prompt, and report the error upward. No retry.
			m.AddStage(stage, time.Since(start), false)
			res.State = StateFailed
			res.Truncated = true
			m.Truncated = true
			m.Finish()
			observability.RecordError(span, err)
			fm.RecordRun(time.Since(runStart), m.CompletedIterations, true, err)
			return res, err
		}
		if next == nil {
			// Soft failure: this round's output defeated every recovery
			// tier. End the loop early; later rounds are not attempted.
			m.AddStage(stage, time.Since(start), false)
			res.Truncated = true
			break
		}
		m.AddStage(stage, time.Since(start), true)
		res.History = append(res.History, HistoryEntry{
			Iteration: i + 1,
			Edits:     editSummary(res.Prompt, next),
		})
		res.Prompt = next
		m.CompletedIterations = i
	}

	res.State = StateDone
	m.Truncated = res.Truncated
	m.Finish()
	observability.RecordRunResult(span, m.CompletedIterations, res.Truncated, cx.Difficulty)
	fm.RecordRun(time.Since(runStart), m.CompletedIterations, res.Truncated, nil)
	notify(opts.Progress, "done", 100)
	return res, nil
}

// GenerateOnce performs the initial generation call and parses its
// output. An output no recovery tier can salvage is an ErrParse.
func (o *Optimizer) GenerateOnce(ctx context.Context, raw string, opts Options) (*pe2.Prompt, llm.Usage, error) {
	req := o.request(opts, generateSystem, generateUser(raw))
	resp, err := o.complete(ctx, o.provider, req)
	if err != nil {
		return nil, llm.Usage{}, err
	}
	p, tier := pe2.ParseWithTier(resp.Text())
	observability.Metrics().RecordParse(tier)
	if p == nil {
		return nil, resp.Usage, llm.NewError(llm.ErrParse, o.provider.Name(),
			"initial generation produced no recoverable structure")
	}
	return p, resp.Usage, nil
}

// RefineOnce performs one refinement call. A parse failure is not an
// error here: it returns a nil prompt so the caller can stop early with
// the last good draft (the soft-failure policy).
func (o *Optimizer) RefineOnce(ctx context.Context, raw string, current *pe2.Prompt, history []HistoryEntry, iteration, total int, opts Options) (*pe2.Prompt, llm.Usage, error) {
	req := o.request(opts, refineSystem, refineUser(raw, current, history, iteration, total))
	if opts.RefineModel != "" {
		req.Model = opts.RefineModel
	}
	resp, err := o.complete(ctx, o.refiner, req)
	if err != nil {
		return nil, llm.Usage{}, err
	}
	p, tier := pe2.ParseWithTier(resp.Text())
	observability.Metrics().RecordParse(tier)
	return p, resp.Usage, nil
}

// complete issues one traced completion call against p.
func (o *Optimizer) complete(ctx context.Context, p llm.Provider, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	ctx, span := observability.StartLLMSpan(ctx, p.Name(), req.Model)
	defer span.End()

	start := time.Now()
	resp, err := p.Complete(ctx, req)
	elapsed := time.Since(start)

	tokens := 0
	if resp != nil {
		tokens = resp.Usage.TotalTokens
		observability.RecordLLMMetrics(span, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, elapsed)
	}
	observability.Metrics().RecordLLMRequest(elapsed, tokens, err)
	observability.RecordError(span, err)
	return resp, err
}

// request assembles the completion request for one stage.
func (o *Optimizer) request(opts Options, system, user string) *llm.CompletionRequest {
	req := &llm.CompletionRequest{
		Model: opts.Model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: system},
			{Role: llm.RoleUser, Content: user},
		},
		Temperature: opts.Temperature,
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = llm.Int(opts.MaxTokens)
	}
	return req
}

func clampIterations(n int) int {
	if n < MinIterations {
		return MinIterations
	}
	if n > MaxIterations {
		return MaxIterations
	}
	return n
}

func notify(fn ProgressFunc, stage string, percent int) {
	if fn != nil {
		fn(stage, percent)
	}
}

// editSummary describes which fields a refinement round changed.
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
	return "revised " + strings.Join(changed, ", ")
}
