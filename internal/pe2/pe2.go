// Package pe2 models the five-field structured prompt (context, role,
// task, constraints, output) an optimization run produces, and recovers
// it from free-form model output.
package pe2

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Prompt is the structured form of an optimized prompt. All five fields
// are required; a Prompt with any empty field is not valid.
type Prompt struct {
	Context     string `json:"context"`
	Role        string `json:"role"`
	Task        Text   `json:"task"`
	Constraints Text   `json:"constraints"`
	Output      Output `json:"output"`
}

// Valid reports whether all five fields are present and non-empty.
// Lists and keyed records count as non-empty when they have at least
// one element.
func (p *Prompt) Valid() bool {
	return p != nil &&
		p.Context != "" &&
		p.Role != "" &&
		!p.Task.Empty() &&
		!p.Constraints.Empty() &&
		!p.Output.Empty()
}

// JSON renders the prompt as indented JSON. Used both for display and
// as the serialized form fed back into refinement rounds.
func (p *Prompt) JSON() string {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return ""
	}
	return string(data)
}

// Markdown renders the prompt as a human-readable document.
func (p *Prompt) Markdown() string {
	var b strings.Builder
	b.WriteString("## Context\n\n" + p.Context + "\n\n")
	b.WriteString("## Role\n\n" + p.Role + "\n\n")
	b.WriteString("## Task\n\n" + p.Task.String() + "\n\n")
	b.WriteString("## Constraints\n\n" + p.Constraints.String() + "\n\n")
	b.WriteString("## Output\n\n" + p.Output.String() + "\n")
	return b.String()
}

// Text is a prompt field models emit either as plain text or as a list
// of strings. Exactly one of Value and List is set.
type Text struct {
	Value string
	List  []string
}

// Empty reports whether the field carries no content.
func (t Text) Empty() bool { return t.Value == "" && len(t.List) == 0 }

// String flattens the field for rendering; list items become lines.
func (t Text) String() string {
	if len(t.List) > 0 {
		return "- " + strings.Join(t.List, "\n- ")
	}
	return t.Value
}

func (t Text) MarshalJSON() ([]byte, error) {
	if t.List != nil {
		return json.Marshal(t.List)
	}
	return json.Marshal(t.Value)
}

func (t *Text) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		t.Value, t.List = s, nil
		return nil
	}
	var list []string
	if err := json.Unmarshal(b, &list); err == nil {
		t.Value, t.List = "", list
		return nil
	}
	return fmt.Errorf("field must be a string or a list of strings")
}

// Output is the expected-output field: plain text or a non-empty keyed
// record (e.g. {"format": "json", "length": "500 words"}).
type Output struct {
	Value  string
	Fields map[string]string
}

// Empty reports whether the field carries no content.
func (o Output) Empty() bool { return o.Value == "" && len(o.Fields) == 0 }

// String flattens the field for rendering; record keys sort for
// deterministic output.
func (o Output) String() string {
	if len(o.Fields) == 0 {
		return o.Value
	}
	keys := make([]string, 0, len(o.Fields))
	for k := range o.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var lines []string
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("- %s: %s", k, o.Fields[k]))
	}
	return strings.Join(lines, "\n")
}

func (o Output) MarshalJSON() ([]byte, error) {
	if o.Fields != nil {
		return json.Marshal(o.Fields)
	}
	return json.Marshal(o.Value)
}

func (o *Output) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		o.Value, o.Fields = s, nil
		return nil
	}
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err == nil {
		fields := make(map[string]string, len(raw))
		for k, v := range raw {
			switch vv := v.(type) {
			case string:
				fields[k] = vv
			default:
				fields[k] = fmt.Sprintf("%v", vv)
			}
		}
		o.Value, o.Fields = "", fields
		return nil
	}
	return fmt.Errorf("output must be a string or an object")
}
