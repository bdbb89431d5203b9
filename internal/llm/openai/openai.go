// Package openai implements llm.Provider for the OpenAI chat-completions
// API and every OpenAI-compatible backend (Groq, DeepSeek, Together,
// vLLM, custom base URLs).
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/efebarandurmaz/promptforge/internal/llm"
)

const defaultBaseURL = "https://api.openai.com/v1"

// maxStopSequences is the most stop entries the API accepts.
const maxStopSequences = 4

// Client implements llm.Provider for OpenAI-compatible APIs.
type Client struct {
	apiKey     string
	baseURL    string
	embedModel string
	http       *http.Client
}

// New creates an OpenAI-compatible provider.
func New(apiKey, baseURL, embedModel string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if embedModel == "" {
		embedModel = "text-embedding-3-small"
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		embedModel: embedModel,
		http:       &http.Client{Timeout: 300 * time.Second},
	}
}

func (c *Client) Name() string { return "openai" }

// chatResponse is the subset of the wire response the contract needs.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

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
	}
	if req.MaxTokens != nil {
		body["max_tokens"] = *req.MaxTokens
	}
	if req.Temperature != nil {
		body["temperature"] = llm.ClampFloat(*req.Temperature, 0, 2)
	}
	if req.TopP != nil {
		body["top_p"] = llm.ClampFloat(*req.TopP, 0, 1)
	}
	if req.FrequencyPenalty != nil {
		body["frequency_penalty"] = llm.ClampFloat(*req.FrequencyPenalty, -2, 2)
	}
	if req.PresencePenalty != nil {
		body["presence_penalty"] = llm.ClampFloat(*req.PresencePenalty, -2, 2)
	}
	if len(req.Stop) > 0 {
		body["stop"] = llm.TruncateStop(req.Stop, maxStopSequences)
	}
	if req.Stream {
		body["stream"] = true
	}

	respBody, err := c.post(ctx, "/chat/completions", body)
	if err != nil {
		return nil, err
	}

	var result chatResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, llm.NewError(llm.ErrServer, c.Name(), "malformed response body: "+err.Error())
	}

	out := &llm.CompletionResponse{Model: result.Model}
	out.Usage = llm.Usage{
		PromptTokens:     result.Usage.PromptTokens,
		CompletionTokens: result.Usage.CompletionTokens,
		TotalTokens:      result.Usage.TotalTokens,
	}
	if out.Usage.TotalTokens == 0 {
		out.Usage.TotalTokens = out.Usage.PromptTokens + out.Usage.CompletionTokens
	}
	for _, ch := range result.Choices {
		finish := ch.FinishReason
		if finish == "" {
			finish = "stop"
		}
		role := llm.Role(ch.Message.Role)
		if !role.Valid() {
			role = llm.RoleAssistant
		}
		out.Choices = append(out.Choices, llm.Choice{
			Message:      llm.Message{Role: role, Content: ch.Message.Content},
			FinishReason: finish,
		})
	}
	return out, nil
}

// post sends a JSON request and returns the response body, normalizing
// transport and backend errors into *llm.Error.
func (c *Client) post(ctx context.Context, path string, body any) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, llm.NewError(llm.ErrValidation, c.Name(), "marshal request: "+err.Error())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, llm.NewError(llm.ErrValidation, c.Name(), err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, llm.NetworkError(c.Name(), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, llm.NetworkError(c.Name(), err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, llm.FromStatus(c.Name(), resp.StatusCode,
			errorMessage(respBody), llm.RetryAfterHint(resp.Header))
	}
	return respBody, nil
}

// errorMessage extracts the native error message from an OpenAI-style
// error body, falling back to the raw body.
func errorMessage(body []byte) string {
	var e struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	return string(body)
}

func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	body := map[string]any{
		"model": c.embedModel,
		"input": texts,
	}

	respBody, err := c.post(ctx, "/embeddings", body)
	if err != nil {
		return nil, err
	}

	var result struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, llm.NewError(llm.ErrServer, c.Name(), "malformed embedding body: "+err.Error())
	}

	embeddings := make([][]float32, len(result.Data))
	for i, d := range result.Data {
		embeddings[i] = d.Embedding
	}
	return embeddings, nil
}
