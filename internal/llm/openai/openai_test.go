package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/efebarandurmaz/promptforge/internal/llm"
)

func chatReply(content string) string {
	return `{
		"model": "gpt-4o-mini",
		"choices": [{"message": {"role": "assistant", "content": ` + mustQuote(content) + `}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 12, "completion_tokens": 34, "total_tokens": 46}
	}`
}

func mustQuote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func basicRequest() *llm.CompletionRequest {
	return &llm.CompletionRequest{
		Model: "gpt-4o-mini",
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "be terse"},
			{Role: llm.RoleUser, Content: "hello"},
		},
	}
}

func TestComplete_RequestShape(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("auth header = %q", got)
		}
		json.NewDecoder(r.Body).Decode(&captured)
		w.Write([]byte(chatReply("hi")))
	}))
	defer srv.Close()

	c := New("test-key", srv.URL, "")
	req := basicRequest()
	req.MaxTokens = llm.Int(256)
	resp, err := c.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if captured["model"] != "gpt-4o-mini" {
		t.Errorf("model = %v", captured["model"])
	}
	if captured["max_tokens"] != float64(256) {
		t.Errorf("max_tokens = %v", captured["max_tokens"])
	}
	msgs := captured["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if resp.Text() != "hi" {
		t.Errorf("Text() = %q", resp.Text())
	}
	if resp.Usage.TotalTokens != 46 {
		t.Errorf("total tokens = %d", resp.Usage.TotalTokens)
	}
}

func TestComplete_ClampsSamplingParams(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		w.Write([]byte(chatReply("ok")))
	}))
	defer srv.Close()

	c := New("k", srv.URL, "")
	req := basicRequest()
	req.Temperature = llm.Float(5.0)
	req.TopP = llm.Float(-1.0)
	req.FrequencyPenalty = llm.Float(9.0)
	req.PresencePenalty = llm.Float(-9.0)
	if _, err := c.Complete(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if captured["temperature"] != float64(2) {
		t.Errorf("temperature = %v, want 2", captured["temperature"])
	}
	if captured["top_p"] != float64(0) {
		t.Errorf("top_p = %v, want 0", captured["top_p"])
	}
	if captured["frequency_penalty"] != float64(2) {
		t.Errorf("frequency_penalty = %v, want 2", captured["frequency_penalty"])
	}
	if captured["presence_penalty"] != float64(-2) {
		t.Errorf("presence_penalty = %v, want -2", captured["presence_penalty"])
	}
}

func TestComplete_TruncatesStopSequences(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		w.Write([]byte(chatReply("ok")))
	}))
	defer srv.Close()

	c := New("k", srv.URL, "")
	req := basicRequest()
	req.Stop = []string{"a", "b", "c", "d", "e", "f"}
	if _, err := c.Complete(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stop := captured["stop"].([]any)
	if len(stop) != 4 {
		t.Errorf("stop length = %d, want 4", len(stop))
	}
}

func TestComplete_InvalidRoleNeverCallsNetwork(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(chatReply("ok")))
	}))
	defer srv.Close()

	c := New("k", srv.URL, "")
	req := &llm.CompletionRequest{
		Model:    "gpt-4o-mini",
		Messages: []llm.Message{{Role: "robot", Content: "hi"}},
	}
	_, err := c.Complete(context.Background(), req)
	if !llm.IsKind(err, llm.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if calls != 0 {
		t.Errorf("expected 0 network calls, got %d", calls)
	}
}

func TestComplete_RateLimitWithRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limit exceeded"}}`))
	}))
	defer srv.Close()

	c := New("k", srv.URL, "")
	_, err := c.Complete(context.Background(), basicRequest())
	if !llm.IsKind(err, llm.ErrRateLimit) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	var le *llm.Error
	if !errors.As(err, &le) {
		t.Fatal("expected *llm.Error")
	}
	if le.RetryAfter != 30*time.Second {
		t.Errorf("RetryAfter = %v, want 30s", le.RetryAfter)
	}
	if le.Message != "rate limit exceeded" {
		t.Errorf("message = %q, want native message", le.Message)
	}
}

func TestComplete_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"invalid api key"}}`))
	}))
	defer srv.Close()

	c := New("bad", srv.URL, "")
	_, err := c.Complete(context.Background(), basicRequest())
	if !llm.IsKind(err, llm.ErrAuthentication) {
		t.Fatalf("expected authentication error, got %v", err)
	}
}

func TestComplete_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream dead"))
	}))
	defer srv.Close()

	c := New("k", srv.URL, "")
	_, err := c.Complete(context.Background(), basicRequest())
	if !llm.IsKind(err, llm.ErrServer) {
		t.Fatalf("expected server error, got %v", err)
	}
}

func TestComplete_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // immediate close: connection refused

	c := New("k", srv.URL, "")
	_, err := c.Complete(context.Background(), basicRequest())
	if !llm.IsKind(err, llm.ErrNetwork) {
		t.Fatalf("expected network error, got %v", err)
	}
}

func TestEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["model"] != "text-embedding-3-small" {
			t.Errorf("embed model = %v", body["model"])
		}
		w.Write([]byte(`{"data":[{"embedding":[0.1,0.2]},{"embedding":[0.3,0.4]}]}`))
	}))
	defer srv.Close()

	c := New("k", srv.URL, "")
	vecs, err := c.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vecs) != 2 || len(vecs[0]) != 2 {
		t.Fatalf("unexpected embedding shape: %v", vecs)
	}
}
