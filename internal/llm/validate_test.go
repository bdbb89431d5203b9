package llm

import (
	"strings"
	"testing"
)

func TestValidateRequest(t *testing.T) {
	valid := func() *CompletionRequest {
		return &CompletionRequest{
			Model:    "m",
			Messages: []Message{{Role: RoleUser, Content: "hi"}},
		}
	}

	if err := ValidateRequest("test", valid()); err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}

	if err := ValidateRequest("test", nil); !IsKind(err, ErrValidation) {
		t.Errorf("nil request: %v", err)
	}

	r := valid()
	r.Model = ""
	if err := ValidateRequest("test", r); !IsKind(err, ErrValidation) {
		t.Errorf("empty model: %v", err)
	}

	r = valid()
	r.Messages = nil
	if err := ValidateRequest("test", r); !IsKind(err, ErrValidation) {
		t.Errorf("no messages: %v", err)
	}

	r = valid()
	r.Messages = append(r.Messages, Message{Role: "robot", Content: "x"})
	err := ValidateRequest("test", r)
	if !IsKind(err, ErrValidation) {
		t.Fatalf("invalid role: %v", err)
	}
	// The message index is part of the diagnostic.
	if !strings.Contains(err.Error(), `message 1: invalid role "robot"`) {
		t.Errorf("diagnostic = %q", err.Error())
	}

	r = valid()
	r.Messages[0].Content = ""
	if err := ValidateRequest("test", r); !IsKind(err, ErrValidation) {
		t.Errorf("empty content: %v", err)
	}
}

func TestRoleValid(t *testing.T) {
	for _, role := range []Role{RoleSystem, RoleUser, RoleAssistant} {
		if !role.Valid() {
			t.Errorf("%s should be valid", role)
		}
	}
	if Role("tool").Valid() {
		t.Error("unknown role accepted")
	}
}
