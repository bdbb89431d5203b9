// Package gemini implements llm.Provider for the Gemini generateContent
// API.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/efebarandurmaz/promptforge/internal/llm"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com"

// defaultSafetySettings are applied unless the caller overrides them.
var defaultSafetySettings = []map[string]string{
	{"category": "HARM_CATEGORY_HARASSMENT", "threshold": "BLOCK_MEDIUM_AND_ABOVE"},
	{"category": "HARM_CATEGORY_HATE_SPEECH", "threshold": "BLOCK_MEDIUM_AND_ABOVE"},
	{"category": "HARM_CATEGORY_SEXUALLY_EXPLICIT", "threshold": "BLOCK_MEDIUM_AND_ABOVE"},
	{"category": "HARM_CATEGORY_DANGEROUS_CONTENT", "threshold": "BLOCK_MEDIUM_AND_ABOVE"},
}

// Client implements llm.Provider for Gemini.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client

	// safetySettings overrides the default thresholds when non-nil.
	safetySettings []map[string]string
}

// New creates a Gemini provider.
func New(apiKey, baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 300 * time.Second},
	}
}

// WithSafetySettings replaces the default safety thresholds.
func (c *Client) WithSafetySettings(settings []map[string]string) *Client {
	c.safetySettings = settings
	return c
}

func (c *Client) Name() string { return "gemini" }

func (c *Client) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if err := llm.ValidateRequest(c.Name(), req); err != nil {
		return nil, err
	}

	// System instruction travels outside the conversation history;
	// assistant turns are remapped to the "model" role.
	var systems []string
	var contents []map[string]any
	for _, m := range req.Messages {
		if m.Role == llm.RoleSystem {
			systems = append(systems, m.Content)
			continue
		}
		role := "user"
		if m.Role == llm.RoleAssistant {
			role = "model"
		}
		contents = append(contents, map[string]any{
			"role":  role,
			"parts": []map[string]string{{"text": m.Content}},
		})
	}
	if len(contents) == 0 {
		return nil, llm.NewError(llm.ErrValidation, c.Name(),
			"conversation must contain at least one non-system message")
	}

	genConfig := map[string]any{}
	if req.MaxTokens != nil {
		genConfig["maxOutputTokens"] = *req.MaxTokens
	}
	if req.Temperature != nil {
		genConfig["temperature"] = llm.ClampFloat(*req.Temperature, 0, 2)
	}
	if req.TopP != nil {
		genConfig["topP"] = llm.ClampFloat(*req.TopP, 0, 1)
	}
	if req.FrequencyPenalty != nil {
		genConfig["frequencyPenalty"] = llm.ClampFloat(*req.FrequencyPenalty, -2, 2)
	}
	if req.PresencePenalty != nil {
		genConfig["presencePenalty"] = llm.ClampFloat(*req.PresencePenalty, -2, 2)
	}
	if len(req.Stop) > 0 {
		genConfig["stopSequences"] = llm.TruncateStop(req.Stop, 5)
	}

	safety := c.safetySettings
	if safety == nil {
		safety = defaultSafetySettings
	}

	body := map[string]any{
		"contents":       contents,
		"safetySettings": safety,
	}
	if len(systems) > 0 {
		body["systemInstruction"] = map[string]any{
			"parts": []map[string]string{{"text": strings.Join(systems, "\n\n")}},
		}
	}
	if len(genConfig) > 0 {
		body["generationConfig"] = genConfig
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, llm.NewError(llm.ErrValidation, c.Name(), "marshal request: "+err.Error())
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		c.baseURL, url.PathEscape(req.Model), url.QueryEscape(c.apiKey))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
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
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
			FinishReason string `json:"finishReason"`
		} `json:"candidates"`
		PromptFeedback struct {
			BlockReason string `json:"blockReason"`
		} `json:"promptFeedback"`
		UsageMetadata struct {
			PromptTokenCount     int `json:"promptTokenCount"`
			CandidatesTokenCount int `json:"candidatesTokenCount"`
			TotalTokenCount      int `json:"totalTokenCount"`
		} `json:"usageMetadata"`
		ModelVersion string `json:"modelVersion"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, llm.NewError(llm.ErrServer, c.Name(), "malformed response body: "+err.Error())
	}

	// A safety-filter block is a distinct terminal condition, not a
	// generic server error and not a parse failure.
	if result.PromptFeedback.BlockReason != "" {
		return nil, llm.NewError(llm.ErrSafetyBlock, c.Name(),
			"prompt blocked: "+result.PromptFeedback.BlockReason)
	}

	out := &llm.CompletionResponse{
		Model: result.ModelVersion,
		Usage: llm.Usage{
			PromptTokens:     result.UsageMetadata.PromptTokenCount,
			CompletionTokens: result.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      result.UsageMetadata.TotalTokenCount,
		},
	}
	if out.Model == "" {
		out.Model = req.Model
	}
	if out.Usage.TotalTokens == 0 {
		out.Usage.TotalTokens = out.Usage.PromptTokens + out.Usage.CompletionTokens
	}

	for _, cand := range result.Candidates {
		if cand.FinishReason == "SAFETY" {
			return nil, llm.NewError(llm.ErrSafetyBlock, c.Name(), "candidate blocked by safety filter")
		}
		var text strings.Builder
		for _, p := range cand.Content.Parts {
			text.WriteString(p.Text)
		}
		out.Choices = append(out.Choices, llm.Choice{
			Message:      llm.Message{Role: llm.RoleAssistant, Content: text.String()},
			FinishReason: finishReason(cand.FinishReason),
		})
	}
	if len(out.Choices) == 0 {
		return nil, llm.NewError(llm.ErrServer, c.Name(), "response carried no candidates")
	}
	return out, nil
}

// finishReason maps Gemini finish reasons onto the shared vocabulary.
func finishReason(reason string) string {
	switch reason {
	case "STOP", "":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	default:
		return strings.ToLower(reason)
	}
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
