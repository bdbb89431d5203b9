package temporal

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/efebarandurmaz/promptforge/internal/history"
	"github.com/efebarandurmaz/promptforge/internal/llm"
)

const validPromptJSON = `{
  "context": "Data engineering team",
  "role": "You are a senior data engineer.",
  "task": "Design the pipeline.",
  "constraints": "Keep it idempotent.",
  "output": "A design document."
}`

// fakeProvider returns canned completions.
type fakeProvider struct {
	reply   string
	err     error
	calls   int
	lastReq *llm.CompletionRequest
}

func (f *fakeProvider) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &llm.CompletionResponse{
		Choices: []llm.Choice{{Message: llm.Message{Role: llm.RoleAssistant, Content: f.reply}, FinishReason: "stop"}},
		Usage:   llm.Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
	}, nil
}

func (f *fakeProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, llm.NewError(llm.ErrConfiguration, "fake", "no embeddings")
}

func (f *fakeProvider) Name() string { return "fake" }

func TestAnalyzeActivity(t *testing.T) {
	res, err := AnalyzeActivity(context.Background(), "write a haiku")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Difficulty != "trivial" {
		t.Errorf("expected trivial, got %s", res.Difficulty)
	}
	if res.Iterations != 1 {
		t.Errorf("expected 1 iteration, got %d", res.Iterations)
	}
}

func TestGenerateActivity(t *testing.T) {
	SetDependencies(&Dependencies{Provider: &fakeProvider{reply: validPromptJSON}})

	res, err := GenerateActivity(context.Background(), OptimizeInput{
		RawPrompt: "design a pipeline",
		Model:     "test-model",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(res.PromptJSON, "senior data engineer") {
		t.Errorf("prompt JSON missing role: %s", res.PromptJSON)
	}
}

func TestGenerateActivity_ProviderError(t *testing.T) {
	SetDependencies(&Dependencies{Provider: &fakeProvider{err: errors.New("dial tcp: refused")}})

	_, err := GenerateActivity(context.Background(), OptimizeInput{
		RawPrompt: "design a pipeline",
		Model:     "test-model",
	})
	if err == nil {
		t.Fatal("expected provider error to propagate")
	}
}

func TestRefineActivity_SoftFailure(t *testing.T) {
	SetDependencies(&Dependencies{Provider: &fakeProvider{reply: "sorry, I cannot respond in that format"}})

	res, err := RefineActivity(context.Background(), RefineInput{
		RawPrompt:   "design a pipeline",
		Model:       "test-model",
		CurrentJSON: validPromptJSON,
		Iteration:   1,
		Total:       2,
	})
	if err != nil {
		t.Fatalf("soft parse failure must not be an activity error: %v", err)
	}
	if res.PromptJSON != "" {
		t.Errorf("expected empty prompt JSON on soft failure, got %s", res.PromptJSON)
	}
}

func TestRefineActivity_RecordsEdits(t *testing.T) {
	revised := strings.Replace(validPromptJSON, "Design the pipeline.", "Design and document the pipeline.", 1)
	SetDependencies(&Dependencies{Provider: &fakeProvider{reply: revised}})

	res, err := RefineActivity(context.Background(), RefineInput{
		RawPrompt:   "design a pipeline",
		Model:       "test-model",
		CurrentJSON: validPromptJSON,
		Iteration:   1,
		Total:       1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(res.Edits, "task") {
		t.Errorf("expected edit summary to name task, got %q", res.Edits)
	}
}

func TestGenerateActivity_TemperatureForwarded(t *testing.T) {
	p := &fakeProvider{reply: validPromptJSON}
	SetDependencies(&Dependencies{Provider: p, Temperature: llm.Float(0.4)})

	_, err := GenerateActivity(context.Background(), OptimizeInput{
		RawPrompt: "design a pipeline",
		Model:     "test-model",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.lastReq.Temperature == nil || *p.lastReq.Temperature != 0.4 {
		t.Errorf("temperature = %v, want 0.4", p.lastReq.Temperature)
	}
}

func TestRefineActivity_UsesRefineBackend(t *testing.T) {
	revised := strings.Replace(validPromptJSON, "Design the pipeline.", "Design and document the pipeline.", 1)
	primary := &fakeProvider{reply: validPromptJSON}
	refiner := &fakeProvider{reply: revised}
	SetDependencies(&Dependencies{
		Provider:    primary,
		Refiner:     refiner,
		RefineModel: "small-model",
	})

	res, err := RefineActivity(context.Background(), RefineInput{
		RawPrompt:   "design a pipeline",
		Model:       "big-model",
		CurrentJSON: validPromptJSON,
		Iteration:   1,
		Total:       1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if primary.calls != 0 {
		t.Errorf("primary provider calls = %d, want 0", primary.calls)
	}
	if refiner.calls != 1 {
		t.Errorf("refine provider calls = %d, want 1", refiner.calls)
	}
	if refiner.lastReq.Model != "small-model" {
		t.Errorf("refine model = %q, want small-model", refiner.lastReq.Model)
	}
	if !strings.Contains(res.PromptJSON, "Design and document") {
		t.Errorf("refined prompt JSON = %s", res.PromptJSON)
	}
}

func TestSaveRunActivity(t *testing.T) {
	store, err := history.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	SetDependencies(&Dependencies{Provider: &fakeProvider{}, Sink: store})

	ctx := context.Background()
	id, err := SaveRunActivity(ctx, SaveInput{
		RawPrompt:  "design a pipeline",
		Model:      "test-model",
		PromptJSON: validPromptJSON,
		History:    []HistoryEntry{{Iteration: 1, Edits: "initial structured draft generated from the raw prompt"}},
		Difficulty: "simple",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == "" {
		t.Fatal("expected a run ID")
	}

	rec, err := store.Load(ctx, id)
	if err != nil {
		t.Fatalf("unexpected error loading record: %v", err)
	}
	if rec.Provider != "fake" || rec.Model != "test-model" {
		t.Errorf("record provenance wrong: %s/%s", rec.Provider, rec.Model)
	}
	if !rec.Prompt.Valid() {
		t.Error("stored prompt should be valid")
	}
}

func TestSaveRunActivity_NoSink(t *testing.T) {
	SetDependencies(&Dependencies{Provider: &fakeProvider{}})

	id, err := SaveRunActivity(context.Background(), SaveInput{PromptJSON: validPromptJSON})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "" {
		t.Errorf("expected empty ID without a sink, got %s", id)
	}
}
