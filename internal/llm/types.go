package llm

// Role identifies who authored a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether the role is one of the three allowed values.
func (r Role) Valid() bool {
	return r == RoleSystem || r == RoleUser || r == RoleAssistant
}

// Message is a single turn in a conversation. Ordering within a request
// is meaningful.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the provider-agnostic input to a completion call.
// Numeric sampling fields are pointers so adapters can distinguish
// "unset" from an explicit zero; set values are clamped into each
// backend's valid range by the adapter.
type CompletionRequest struct {
	Model            string
	Messages         []Message
	MaxTokens        *int
	Temperature      *float64
	TopP             *float64
	FrequencyPenalty *float64
	PresencePenalty  *float64
	Stop             []string
	Stream           bool
}

// Usage reports token accounting for one completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates usage from another response.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// Choice is one candidate completion.
type Choice struct {
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// CompletionResponse is the provider-agnostic completion result.
type CompletionResponse struct {
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
	Model   string   `json:"model"`
}

// Text returns the content of the first choice, or "" when the response
// carries no choices.
func (r *CompletionResponse) Text() string {
	if r == nil || len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// Int returns a pointer to v, for optional request fields.
func Int(v int) *int { return &v }

// Float returns a pointer to v, for optional request fields.
func Float(v float64) *float64 { return &v }

// ClampFloat limits v to [lo, hi].
func ClampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// TruncateStop limits a stop-sequence list to a backend's maximum count.
func TruncateStop(stop []string, max int) []string {
	if len(stop) <= max {
		return stop
	}
	return stop[:max]
}
