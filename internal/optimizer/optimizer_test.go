package optimizer

import (
	"context"
	"strings"
	"testing"

	"github.com/efebarandurmaz/promptforge/internal/llm"
	"github.com/efebarandurmaz/promptforge/internal/pe2"
)

const draftJSON = `{
  "context": "Data engineering team",
  "role": "You are a senior data engineer.",
  "task": "Design the pipeline.",
  "constraints": "Keep it idempotent.",
  "output": "A design document."
}`

// scriptedProvider replays a fixed sequence of replies. After the script
// runs out it keeps returning the last entry.
type scriptedProvider struct {
	replies []string
	errs    []error
	calls   int
	reqs    []*llm.CompletionRequest
}

func (s *scriptedProvider) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	i := s.calls
	s.calls++
	s.reqs = append(s.reqs, req)
	if i >= len(s.replies) {
		i = len(s.replies) - 1
	}
	if s.errs != nil && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	return &llm.CompletionResponse{
		Choices: []llm.Choice{{
			Message:      llm.Message{Role: llm.RoleAssistant, Content: s.replies[i]},
			FinishReason: "stop",
		}},
		Usage: llm.Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
	}, nil
}

func (s *scriptedProvider) Embed(context.Context, []string) ([][]float32, error) {
	return nil, llm.NewError(llm.ErrConfiguration, "scripted", "no embeddings")
}

func (s *scriptedProvider) Name() string { return "scripted" }

func revise(from, to string) string {
	return strings.Replace(draftJSON, from, to, 1)
}

func TestRun_FullLoop(t *testing.T) {
	p := &scriptedProvider{replies: []string{
		draftJSON,
		revise("Design the pipeline.", "Design and document the pipeline."),
		revise("Design the pipeline.", "Design, document and test the pipeline."),
	}}

	res, err := New(p).Run(context.Background(), "design a pipeline", Options{
		Model:      "test-model",
		Iterations: 2,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.State != StateDone {
		t.Errorf("state = %s, want done", res.State)
	}
	if res.Truncated {
		t.Error("run should not be truncated")
	}
	// One generation plus two refinements.
	if p.calls != 3 {
		t.Errorf("provider calls = %d, want 3", p.calls)
	}
	if len(res.History) != 3 {
		t.Fatalf("history length = %d, want 3", len(res.History))
	}
	if res.History[0].Iteration != 1 || !strings.Contains(res.History[0].Edits, "initial") {
		t.Errorf("first entry = %+v", res.History[0])
	}
	if !strings.Contains(res.History[1].Edits, "task") {
		t.Errorf("second entry edits = %q", res.History[1].Edits)
	}
	if res.Prompt.Task.Value != "Design, document and test the pipeline." {
		t.Errorf("final task = %q", res.Prompt.Task.Value)
	}
	if res.Metrics == nil || res.Metrics.CompletedIterations != 2 {
		t.Errorf("metrics = %+v", res.Metrics)
	}
	if res.Metrics.Usage.TotalTokens != 90 {
		t.Errorf("accumulated tokens = %d, want 90", res.Metrics.Usage.TotalTokens)
	}
}

func TestRun_SoftParseFailureStopsEarly(t *testing.T) {
	p := &scriptedProvider{replies: []string{
		draftJSON,
		revise("Design the pipeline.", "Design and document the pipeline."),
		"I'm sorry, I can't produce that format.",
		revise("Design the pipeline.", "never reached"),
	}}

	res, err := New(p).Run(context.Background(), "design a pipeline", Options{
		Model:      "test-model",
		Iterations: 3,
	})
	if err != nil {
		t.Fatalf("soft failure must not surface as an error: %v", err)
	}
	if res.State != StateDone {
		t.Errorf("state = %s, want done", res.State)
	}
	if !res.Truncated {
		t.Error("run should be marked truncated")
	}
	// Generation, round 1, round 2 (unparseable). Round 3 never runs.
	if p.calls != 3 {
		t.Errorf("provider calls = %d, want 3", p.calls)
	}
	// The last confirmed draft survives.
	if res.Prompt.Task.Value != "Design and document the pipeline." {
		t.Errorf("final task = %q", res.Prompt.Task.Value)
	}
	if len(res.History) != 2 {
		t.Errorf("history length = %d, want 2", len(res.History))
	}
}

func TestRun_InitialGenerationUnparseable(t *testing.T) {
	p := &scriptedProvider{replies: []string{"no structure here at all"}}

	res, err := New(p).Run(context.Background(), "design a pipeline", Options{
		Model:      "test-model",
		Iterations: 1,
	})
	if res != nil {
		t.Errorf("expected nil result, got %+v", res)
	}
	if !llm.IsKind(err, llm.ErrParse) {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestRun_InitialCallFails(t *testing.T) {
	p := &scriptedProvider{
		replies: []string{""},
		errs:    []error{llm.NewError(llm.ErrAuthentication, "scripted", "bad key")},
	}

	res, err := New(p).Run(context.Background(), "design a pipeline", Options{
		Model:      "test-model",
		Iterations: 1,
	})
	if res != nil {
		t.Errorf("expected nil result, got %+v", res)
	}
	if !llm.IsKind(err, llm.ErrAuthentication) {
		t.Fatalf("expected authentication error, got %v", err)
	}
}

func TestRun_AdapterErrorMidRefinement(t *testing.T) {
	p := &scriptedProvider{
		replies: []string{draftJSON, ""},
		errs:    []error{nil, llm.NewError(llm.ErrRateLimit, "scripted", "slow down")},
	}

	res, err := New(p).Run(context.Background(), "design a pipeline", Options{
		Model:      "test-model",
		Iterations: 2,
	})
	// Both the best draft so far and the error come back.
	if res == nil {
		t.Fatal("expected a partial result")
	}
	if !llm.IsKind(err, llm.ErrRateLimit) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	if res.State != StateFailed {
		t.Errorf("state = %s, want failed", res.State)
	}
	if !res.Truncated {
		t.Error("partial result should be truncated")
	}
	if res.Prompt == nil || res.Prompt.Task.Value != "Design the pipeline." {
		t.Errorf("partial result lost the draft: %+v", res.Prompt)
	}
	// No retry: the failing round is attempted exactly once.
	if p.calls != 2 {
		t.Errorf("provider calls = %d, want 2", p.calls)
	}
}

func TestRun_IterationClamping(t *testing.T) {
	p := &scriptedProvider{replies: []string{draftJSON}}
	res, err := New(p).Run(context.Background(), "x", Options{
		Model:      "test-model",
		Iterations: 99,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Metrics.RequestedIterations != MaxIterations {
		t.Errorf("requested iterations = %d, want %d", res.Metrics.RequestedIterations, MaxIterations)
	}
	// 1 generation + 5 refinements (the draft repeats, each round confirms).
	if p.calls != 6 {
		t.Errorf("provider calls = %d, want 6", p.calls)
	}
}

func TestRun_AnalyzerRecommendationWhenUnset(t *testing.T) {
	p := &scriptedProvider{replies: []string{draftJSON}}
	res, err := New(p).Run(context.Background(), "write a haiku", Options{Model: "test-model"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// A trivial prompt gets one recommended round.
	if res.Metrics.RequestedIterations != 1 {
		t.Errorf("requested iterations = %d, want 1", res.Metrics.RequestedIterations)
	}
	if res.Complexity.Difficulty != "trivial" {
		t.Errorf("difficulty = %s", res.Complexity.Difficulty)
	}
}

func TestRun_ProgressOrdering(t *testing.T) {
	p := &scriptedProvider{replies: []string{draftJSON}}
	var stages []string
	_, err := New(p).Run(context.Background(), "x", Options{
		Model:      "test-model",
		Iterations: 2,
		Progress: func(stage string, percent int) {
			stages = append(stages, stage)
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"generating", "refine 1/2", "refine 2/2", "done"}
	if len(stages) != len(want) {
		t.Fatalf("stages = %v", stages)
	}
	for i := range want {
		if stages[i] != want[i] {
			t.Errorf("stage %d = %q, want %q", i, stages[i], want[i])
		}
	}
}

func TestRun_RefineProviderRouting(t *testing.T) {
	gen := &scriptedProvider{replies: []string{draftJSON}}
	ref := &scriptedProvider{replies: []string{
		revise("Design the pipeline.", "Design and document the pipeline."),
	}}

	res, err := New(gen).WithRefineProvider(ref).Run(context.Background(), "design a pipeline", Options{
		Model:       "big-model",
		RefineModel: "small-model",
		Iterations:  2,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// The initial draft goes to the generation backend, every
	// refinement round to the refine backend.
	if gen.calls != 1 {
		t.Errorf("generate provider calls = %d, want 1", gen.calls)
	}
	if ref.calls != 2 {
		t.Errorf("refine provider calls = %d, want 2", ref.calls)
	}
	if gen.reqs[0].Model != "big-model" {
		t.Errorf("generate model = %q", gen.reqs[0].Model)
	}
	for i, req := range ref.reqs {
		if req.Model != "small-model" {
			t.Errorf("refine round %d model = %q, want small-model", i+1, req.Model)
		}
	}
	if res.Prompt.Task.Value != "Design and document the pipeline." {
		t.Errorf("final task = %q", res.Prompt.Task.Value)
	}
}

func TestRun_TemperatureForwarded(t *testing.T) {
	p := &scriptedProvider{replies: []string{draftJSON}}
	_, err := New(p).Run(context.Background(), "x", Options{
		Model:       "test-model",
		Iterations:  1,
		Temperature: llm.Float(0.4),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, req := range p.reqs {
		if req.Temperature == nil || *req.Temperature != 0.4 {
			t.Errorf("call %d temperature = %v, want 0.4", i, req.Temperature)
		}
	}
}

func TestEditSummary(t *testing.T) {
	prev := pe2.Parse(draftJSON)
	same := pe2.Parse(draftJSON)
	if got := editSummary(prev, same); got != "confirmed the previous draft without changes" {
		t.Errorf("unchanged summary = %q", got)
	}

	next := pe2.Parse(revise("Design the pipeline.", "Do it."))
	if got := editSummary(prev, next); got != "revised task" {
		t.Errorf("single change summary = %q", got)
	}

	next2 := pe2.Parse(strings.Replace(
		revise("Design the pipeline.", "Do it."),
		"Data engineering team", "Platform team", 1))
	if got := editSummary(prev, next2); got != "revised context, task" {
		t.Errorf("multi change summary = %q", got)
	}
}
