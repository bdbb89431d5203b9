// Package anthropic implements llm.Provider for the Anthropic Messages
// API.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/efebarandurmaz/promptforge/internal/llm"
)

const defaultBaseURL = "https://api.anthropic.com/v1"

const (
	apiVersion       = "2023-06-01"
	defaultMaxTokens = 4096
	// maxStopSequences is the API's stop_sequences limit.
	maxStopSequences = 4
)

// Client implements llm.Provider for the Anthropic Messages API.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// New creates an Anthropic provider.
func New(apiKey, baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		http:    &http.Client{Timeout: 300 * time.Second},
	}
}

func (c *Client) Name() string { return "anthropic" }

func (c *Client) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if err := llm.ValidateRequest(c.Name(), req); err != nil {
		return nil, err
	}

	// The Messages API takes a single system string outside the message
	// list; all system-role messages are concatenated in order.
	var systems []string
	var msgs []map[string]string
	for _, m := range req.Messages {
		if m.Role == llm.RoleSystem {
			systems = append(systems, m.Content)
			continue
		}
		msgs = append(msgs, map[string]string{"role": string(m.Role), "content": m.Content})
	}
	if len(msgs) == 0 || msgs[0]["role"] != string(llm.RoleUser) {
		return nil, llm.NewError(llm.ErrValidation, c.Name(),
			"conversation must begin with a user message")
	}

	maxTokens := defaultMaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	body := map[string]any{
		"model":      req.Model,
		"max_tokens": maxTokens,
		"messages":   msgs,
	}
	if len(systems) > 0 {
		body["system"] = strings.Join(systems, "\n\n")
	}
	if req.Temperature != nil {
		body["temperature"] = llm.ClampFloat(*req.Temperature, 0, 1)
	}
	if req.TopP != nil {
		body["top_p"] = llm.ClampFloat(*req.TopP, 0, 1)
	}
	if len(req.Stop) > 0 {
		body["stop_sequences"] = llm.TruncateStop(req.Stop, maxStopSequences)
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, llm.NewError(llm.ErrValidation, c.Name(), "marshal request: "+err.Error())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(data))
	if err != nil {
		return nil, llm.NewError(llm.ErrValidation, c.Name(), err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

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
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		Model      string `json:"model"`
		StopReason string `json:"stop_reason"`
		Usage      struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, llm.NewError(llm.ErrServer, c.Name(), "malformed response body: "+err.Error())
	}

	// Response content is an ordered sequence of typed blocks; only
	// text-typed blocks contribute to the completion text.
	var text strings.Builder
	for _, block := range result.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &llm.CompletionResponse{
		Choices: []llm.Choice{{
			Message:      llm.Message{Role: llm.RoleAssistant, Content: text.String()},
			FinishReason: finishReason(result.StopReason),
		}},
		Usage: llm.Usage{
			PromptTokens:     result.Usage.InputTokens,
			CompletionTokens: result.Usage.OutputTokens,
			TotalTokens:      result.Usage.InputTokens + result.Usage.OutputTokens,
		},
		Model: result.Model,
	}, nil
}

// finishReason maps Anthropic stop reasons onto the shared vocabulary.
func finishReason(stopReason string) string {
	switch stopReason {
	case "end_turn", "stop_sequence", "":
		return "stop"
	case "max_tokens":
		return "length"
	default:
		return stopReason
	}
}

// errorMessage extracts the native error message from an Anthropic
// error body, falling back to the raw body.
func errorMessage(body []byte) string {
	var e struct {
		Error struct {
			Type    string `json:"type"`
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
