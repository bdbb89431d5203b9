// Package openrouter implements llm.Provider for OpenRouter, which
// speaks the OpenAI chat-completions wire shape plus two required
// caller-identification headers and extra billing error codes.
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/efebarandurmaz/promptforge/internal/llm"
)

const defaultBaseURL = "https://openrouter.ai/api/v1"

const (
	defaultReferer = "https://github.com/efebarandurmaz/promptforge"
	defaultTitle   = "PromptForge"

	maxStopSequences = 4
)

// Client implements llm.Provider for OpenRouter.
type Client struct {
	apiKey  string
	baseURL string
	referer string
	title   string
	http    *http.Client
}

// New creates an OpenRouter provider. referer and title identify the
// calling application; OpenRouter requires both on every request.
func New(apiKey, baseURL, referer, title string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if referer == "" {
		referer = defaultReferer
	}
	if title == "" {
		title = defaultTitle
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		referer: referer,
		title:   title,
		http:    &http.Client{Timeout: 300 * time.Second},
	}
}

func (c *Client) Name() string { return "openrouter" }

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

	data, err := json.Marshal(body)
	if err != nil {
		return nil, llm.NewError(llm.ErrValidation, c.Name(), "marshal request: "+err.Error())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, llm.NewError(llm.ErrValidation, c.Name(), err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("HTTP-Referer", c.referer)
	httpReq.Header.Set("X-Title", c.title)

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
		return nil, c.normalizeError(resp, respBody)
	}

	var result struct {
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
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, llm.NewError(llm.ErrServer, c.Name(), "malformed response body: "+err.Error())
	}

	out := &llm.CompletionResponse{
		Model: result.Model,
		Usage: llm.Usage{
			PromptTokens:     result.Usage.PromptTokens,
			CompletionTokens: result.Usage.CompletionTokens,
			TotalTokens:      result.Usage.TotalTokens,
		},
	}
	if out.Usage.TotalTokens == 0 {
		out.Usage.TotalTokens = out.Usage.PromptTokens + out.Usage.CompletionTokens
	}
	for _, ch := range result.Choices {
		finish := ch.FinishReason
		if finish == "" {
			finish = "stop"
		}
		out.Choices = append(out.Choices, llm.Choice{
			Message:      llm.Message{Role: llm.RoleAssistant, Content: ch.Message.Content},
			FinishReason: finish,
		})
	}
	return out, nil
}

// normalizeError extends the shared status mapping with OpenRouter's
// billing codes: 402 means the account has no credits left and 403 is
// access denied for the key or model; both surface as authentication
// failures since no request change can fix them.
func (c *Client) normalizeError(resp *http.Response, body []byte) *llm.Error {
	msg := errorMessage(body)
	switch resp.StatusCode {
	case http.StatusPaymentRequired:
		if msg == "" {
			msg = "insufficient credits"
		}
		return &llm.Error{
			Kind:       llm.ErrAuthentication,
			Provider:   c.Name(),
			StatusCode: resp.StatusCode,
			Message:    msg,
		}
	case http.StatusForbidden:
		if msg == "" {
			msg = "access denied"
		}
		return &llm.Error{
			Kind:       llm.ErrAuthentication,
			Provider:   c.Name(),
			StatusCode: resp.StatusCode,
			Message:    msg,
		}
	}
	return llm.FromStatus(c.Name(), resp.StatusCode, msg, llm.RetryAfterHint(resp.Header))
}

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

func (c *Client) Embed(_ context.Context, _ []string) ([][]float32, error) {
	return nil, llm.NewError(llm.ErrConfiguration, c.Name(),
		"embedding not supported, use a dedicated embedding provider")
}
