package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/efebarandurmaz/promptforge/internal/llm"
)

const chatReply = `{
	"model": "llama3.2",
	"message": {"role": "assistant", "content": "hi there"},
	"done": true,
	"done_reason": "stop",
	"prompt_eval_count": 26,
	"eval_count": 12
}`

func TestComplete_RequestShape(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&captured)
		w.Write([]byte(chatReply))
	}))
	defer srv.Close()

	c := New(srv.URL)
	req := &llm.CompletionRequest{
		Model: "llama3.2",
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "be terse"},
			{Role: llm.RoleUser, Content: "hello"},
		},
		MaxTokens: llm.Int(128),
	}
	resp, err := c.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if captured["model"] != "llama3.2" {
		t.Errorf("model = %v", captured["model"])
	}
	// The daemon streams by default; batch mode must be explicit.
	if captured["stream"] != false {
		t.Errorf("stream = %v, want false", captured["stream"])
	}
	// Token cap rides under options, not at the top level.
	opts := captured["options"].(map[string]any)
	if opts["num_predict"] != float64(128) {
		t.Errorf("num_predict = %v, want 128", opts["num_predict"])
	}
	msgs := captured["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}

	if resp.Text() != "hi there" {
		t.Errorf("Text() = %q", resp.Text())
	}
	// Usage is synthesized from the eval counts.
	if resp.Usage.PromptTokens != 26 || resp.Usage.CompletionTokens != 12 || resp.Usage.TotalTokens != 38 {
		t.Errorf("usage = %+v", resp.Usage)
	}
	if resp.Choices[0].FinishReason != "stop" {
		t.Errorf("finish reason = %q", resp.Choices[0].FinishReason)
	}
}

func TestComplete_NoOptionsWithoutMaxTokens(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		w.Write([]byte(chatReply))
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.Complete(context.Background(), &llm.CompletionRequest{
		Model:    "llama3.2",
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := captured["options"]; ok {
		t.Error("options block should be absent without a token cap")
	}
}

func TestComplete_LengthFinish(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"model": "llama3.2",
			"message": {"role": "assistant", "content": "truncat"},
			"done": true,
			"done_reason": "length",
			"prompt_eval_count": 5,
			"eval_count": 64
		}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	resp, err := c.Complete(context.Background(), &llm.CompletionRequest{
		Model:    "llama3.2",
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Choices[0].FinishReason != "length" {
		t.Errorf("finish reason = %q, want length", resp.Choices[0].FinishReason)
	}
}

func TestComplete_ModelNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error": "model \"nope\" not found, try pulling it first"}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.Complete(context.Background(), &llm.CompletionRequest{
		Model:    "nope",
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hello"}},
	})
	if !llm.IsKind(err, llm.ErrNotFound) {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestComplete_DaemonDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := New(srv.URL)
	_, err := c.Complete(context.Background(), &llm.CompletionRequest{
		Model:    "llama3.2",
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hello"}},
	})
	if !llm.IsKind(err, llm.ErrNetwork) {
		t.Fatalf("expected network error, got %v", err)
	}
}

func TestEmbed_NotSupported(t *testing.T) {
	c := New("")
	_, err := c.Embed(context.Background(), []string{"x"})
	if !llm.IsKind(err, llm.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
