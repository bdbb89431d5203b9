package llm

import "fmt"

// ValidateRequest performs the uniform pre-call checks shared by all
// adapters. It must run before any network I/O: a malformed request is
// rejected with ErrValidation and no call is attempted.
func ValidateRequest(provider string, req *CompletionRequest) error {
	if req == nil {
		return NewError(ErrValidation, provider, "nil request")
	}
	if req.Model == "" {
		return NewError(ErrValidation, provider, "model must not be empty")
	}
	if len(req.Messages) == 0 {
		return NewError(ErrValidation, provider, "messages must not be empty")
	}
	for i, m := range req.Messages {
		if !m.Role.Valid() {
			return NewError(ErrValidation, provider,
				fmt.Sprintf("message %d: invalid role %q", i, m.Role))
		}
		if m.Content == "" {
			return NewError(ErrValidation, provider,
				fmt.Sprintf("message %d: empty content", i))
		}
	}
	return nil
}
