// Package ollama implements llm.Provider for a local Ollama daemon's
// native chat endpoint.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/efebarandurmaz/promptforge/internal/llm"
)

const defaultBaseURL = "http://localhost:11434"

// Client implements llm.Provider for the Ollama /api/chat endpoint.
// The wire shape is deliberately small: {model, messages, stream} plus
// the token limit under options.num_predict, and the response carries a
// single message object with no usage block.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates an Ollama provider. No credential is required.
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 300 * time.Second},
	}
}

func (c *Client) Name() string { return "ollama" }

func (c *Client) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if err := llm.ValidateRequest(c.Name(), req); err != nil {
		return nil, err
	}

	msgs := make([]map[string]string, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = map[string]string{"role": string(m.Role), "content": m.Content}
	}

	body := map[string]any{
		"model":    req.Model,
		"messages": msgs,
		"stream":   false,
	}
	if req.MaxTokens != nil {
		body["options"] = map[string]any{"num_predict": *req.MaxTokens}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, llm.NewError(llm.ErrValidation, c.Name(), "marshal request: "+err.Error())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(data))
	if err != nil {
		return nil, llm.NewError(llm.ErrValidation, c.Name(), err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, llm.NetworkError(c.Name(), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, llm.NetworkError(c.Name(), err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, llm.FromStatus(c.Name(), resp.StatusCode,
			errorMessage(respBody), llm.RetryAfterHint(resp.Header))
	}

	var result struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		Model           string `json:"model"`
		DoneReason      string `json:"done_reason"`
		PromptEvalCount int    `json:"prompt_eval_count"`
		EvalCount       int    `json:"eval_count"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, llm.NewError(llm.ErrServer, c.Name(), "malformed response body: "+err.Error())
	}

	finish := "stop"
	if result.DoneReason == "length" {
		finish = "length"
	}

	// The daemon reports eval counts rather than a usage block; usage is
	// synthesized from them and stays zero when they are absent.
	return &llm.CompletionResponse{
		Choices: []llm.Choice{{
			Message:      llm.Message{Role: llm.RoleAssistant, Content: result.Message.Content},
			FinishReason: finish,
		}},
		Usage: llm.Usage{
			PromptTokens:     result.PromptEvalCount,
			CompletionTokens: result.EvalCount,
			TotalTokens:      result.PromptEvalCount + result.EvalCount,
		},
		Model: result.Model,
	}, nil
}

func errorMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return e.Error
	}
	return string(body)
}

func (c *Client) Embed(_ context.Context, _ []string) ([][]float32, error) {
	return nil, llm.NewError(llm.ErrConfiguration, c.Name(),
		"embedding not supported, use a dedicated embedding provider")
}
