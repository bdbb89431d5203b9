package pe2

import (
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"
)

const strictJSON = `{
  "context": "Data engineering team at a retail company",
  "role": "You are a senior data engineer.",
  "task": "Design an ingestion pipeline.",
  "constraints": ["Idempotent", "Under 5 minute latency"],
  "output": {"format": "design doc", "length": "2 pages"}
}`

func TestParse_StrictTier(t *testing.T) {
	p, tier := ParseWithTier(strictJSON)
	if tier != 1 {
		t.Fatalf("tier = %d, want 1", tier)
	}
	want := &Prompt{
		Context:     "Data engineering team at a retail company",
		Role:        "You are a senior data engineer.",
		Task:        Text{Value: "Design an ingestion pipeline."},
		Constraints: Text{List: []string{"Idempotent", "Under 5 minute latency"}},
		Output:      Output{Fields: map[string]string{"format": "design doc", "length": "2 pages"}},
	}
	if !reflect.DeepEqual(p, want) {
		t.Errorf("parsed = %+v\nwant %+v", p, want)
	}
}

func TestParse_StrictTierAfterFenceStrip(t *testing.T) {
	fenced := "```json\n" + strictJSON + "\n```"
	p, tier := ParseWithTier(fenced)
	if tier != 1 {
		t.Fatalf("tier = %d, want 1", tier)
	}
	if p.Role != "You are a senior data engineer." {
		t.Errorf("role = %q", p.Role)
	}
}

func TestParse_BracedTierWithProse(t *testing.T) {
	raw := "Sure! Here is the optimized prompt:\n\n" + strictJSON + "\n\nLet me know if you need changes."
	p, tier := ParseWithTier(raw)
	if tier != 2 {
		t.Fatalf("tier = %d, want 2", tier)
	}
	if p.Context != "Data engineering team at a retail company" {
		t.Errorf("context = %q", p.Context)
	}
}

func TestParse_BracedTierTrailingComma(t *testing.T) {
	raw := `Here you go: {
		"context": "Ops team",
		"role": "You are an SRE.",
		"task": "Write the runbook.",
		"constraints": "Keep it short.",
		"output": "A runbook.",
	}`
	p, tier := ParseWithTier(raw)
	if tier != 2 {
		t.Fatalf("tier = %d, want 2", tier)
	}
	if p.Task.Value != "Write the runbook." {
		t.Errorf("task = %q", p.Task.Value)
	}
}

func TestParse_BracedTierFillsPlaceholders(t *testing.T) {
	raw := `prose around {"task": "Summarize the report.", "output": "Bullet points."} more prose`
	p, tier := ParseWithTier(raw)
	if tier != 2 {
		t.Fatalf("tier = %d, want 2", tier)
	}
	if p.Context != "No context provided" {
		t.Errorf("context placeholder = %q", p.Context)
	}
	if p.Role != "You are a helpful assistant." {
		t.Errorf("role placeholder = %q", p.Role)
	}
	if p.Constraints.Value != "Provide a clear, accurate and complete response." {
		t.Errorf("constraints placeholder = %q", p.Constraints.Value)
	}
	if p.Task.Value != "Summarize the report." {
		t.Errorf("recovered task = %q", p.Task.Value)
	}
	if !p.Valid() {
		t.Error("synthesized prompt should be valid")
	}
}

func TestParse_FieldTierQuotedKeys(t *testing.T) {
	// Broken JSON that the braced tier cannot repair, but with
	// extractable quoted key-value pairs.
	raw := `"role": "You are a reviewer." and also "task": "Review the diff." but no braces balance {{{`
	p, tier := ParseWithTier(raw)
	if tier != 3 {
		t.Fatalf("tier = %d, want 3", tier)
	}
	if p.Role != "You are a reviewer." {
		t.Errorf("role = %q", p.Role)
	}
	if p.Task.Value != "Review the diff." {
		t.Errorf("task = %q", p.Task.Value)
	}
	if !p.Valid() {
		t.Error("recovered prompt should be valid")
	}
}

func TestParse_FieldTierMarkdownBold(t *testing.T) {
	raw := "**Role**: You are a translator.\n**Task**: Translate the document to French.\n"
	p, tier := ParseWithTier(raw)
	if tier != 3 {
		t.Fatalf("tier = %d, want 3", tier)
	}
	if p.Role != "You are a translator." {
		t.Errorf("role = %q", p.Role)
	}
}

func TestParse_FieldTierBareKeys(t *testing.T) {
	raw := "context: A small bakery\ntask: Write a marketing email\n"
	p, tier := ParseWithTier(raw)
	if tier != 3 {
		t.Fatalf("tier = %d, want 3", tier)
	}
	if p.Context != "A small bakery" {
		t.Errorf("context = %q", p.Context)
	}
	// The missing task placeholder was not needed; the recovered one wins.
	if p.Task.Value != "Write a marketing email" {
		t.Errorf("task = %q", p.Task.Value)
	}
}

func TestParse_FieldTierSynthesizesTaskFromExcerpt(t *testing.T) {
	raw := `"role": "You are a poet." Write something beautiful about the sea.`
	p, tier := ParseWithTier(raw)
	if tier != 3 {
		t.Fatalf("tier = %d, want 3", tier)
	}
	if !strings.HasPrefix(p.Task.Value, "Address the following: ") {
		t.Errorf("synthesized task = %q", p.Task.Value)
	}
}

func TestParse_FieldTierExcerptKeepsRunesIntact(t *testing.T) {
	// Long enough to force truncation, with 3-byte runes so a byte cut
	// would land mid-rune.
	raw := `"role": "You are a poet." ` + strings.Repeat("海", 120)
	p, tier := ParseWithTier(raw)
	if tier != 3 {
		t.Fatalf("tier = %d, want 3", tier)
	}
	if !utf8.ValidString(p.Task.Value) {
		t.Errorf("synthesized task is not valid UTF-8: %q", p.Task.Value)
	}
}

func TestParse_Unrecoverable(t *testing.T) {
	for _, raw := range []string{
		"",
		"I cannot help with that request.",
		"The weather is nice today and nothing here looks structured.",
	} {
		p, tier := ParseWithTier(raw)
		if p != nil || tier != 0 {
			t.Errorf("ParseWithTier(%q) = %v, %d; want nil, 0", raw, p, tier)
		}
	}
}

func TestParse_NeverPanicsOnGarbage(t *testing.T) {
	inputs := []string{
		"{{{{{{",
		"}}}}}}",
		`{"context": `,
		strings.Repeat("x", 1<<16),
		"\x00\x01\x02",
		`{"context": 42, "role": true, "task": null, "constraints": {}, "output": []}`,
	}
	for _, in := range inputs {
		Parse(in)
	}
}

func TestTextRoundTrip(t *testing.T) {
	p1 := Parse(strictJSON)
	if p1 == nil {
		t.Fatal("parse failed")
	}
	p2 := Parse(p1.JSON())
	if !reflect.DeepEqual(p1, p2) {
		t.Errorf("round trip changed the prompt:\n%+v\n%+v", p1, p2)
	}
}

func TestTextString(t *testing.T) {
	if got := (Text{Value: "plain"}).String(); got != "plain" {
		t.Errorf("String() = %q", got)
	}
	if got := (Text{List: []string{"a", "b"}}).String(); got != "- a\n- b" {
		t.Errorf("String() = %q", got)
	}
}

func TestOutputStringSortsKeys(t *testing.T) {
	o := Output{Fields: map[string]string{"length": "short", "format": "json"}}
	if got := o.String(); got != "- format: json\n- length: short" {
		t.Errorf("String() = %q", got)
	}
}

func TestMarkdownRendering(t *testing.T) {
	p := Parse(strictJSON)
	md := p.Markdown()
	for _, heading := range []string{"## Context", "## Role", "## Task", "## Constraints", "## Output"} {
		if !strings.Contains(md, heading) {
			t.Errorf("markdown missing %q", heading)
		}
	}
	if !strings.Contains(md, "- Idempotent") {
		t.Error("markdown missing constraint list item")
	}
}
