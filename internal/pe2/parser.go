package pe2

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/efebarandurmaz/promptforge/internal/llm"
)

// Field names, in canonical order.
var fieldNames = []string{"context", "role", "task", "constraints", "output"}

// Fixed placeholders substituted for fields the braced extraction could
// not recover.
var placeholders = map[string]string{
	"context":     "No context provided",
	"role":        "You are a helpful assistant.",
	"task":        "Complete the request as described.",
	"constraints": "Provide a clear, accurate and complete response.",
	"output":      "A clear, well-structured response.",
}

// trailingCommaRe matches a comma left dangling before a closing
// bracket or brace, the most common malformation in model JSON.
var trailingCommaRe = regexp.MustCompile(`,(\s*[}\]])`)

// fieldPatterns holds the per-field extraction chains for the regex
// fallback: quoted key-value, markdown-bold key, bare key-colon-value.
var fieldPatterns = map[string][]*regexp.Regexp{}

func init() {
	for _, name := range fieldNames {
		fieldPatterns[name] = []*regexp.Regexp{
			regexp.MustCompile(`(?i)"` + name + `"\s*:\s*"((?:[^"\\]|\\.)*)"`),
			regexp.MustCompile(`(?i)\*\*` + name + `\*\*\s*:?\s*(.+)`),
			regexp.MustCompile(`(?im)^` + name + `\s*:\s*(.+)$`),
		}
	}
}

// Parse recovers a structured prompt from arbitrary model output.
// Recovery is best-effort across three tiers: a strict parse of the
// whole text, a brace-matched extraction with trailing-comma repair and
// placeholder synthesis, and per-field regex extraction. It always
// terminates and never panics; nil is returned only when not a single
// field is recoverable.
func Parse(raw string) *Prompt {
	p, _ := ParseWithTier(raw)
	return p
}

// ParseWithTier is Parse plus the tier that produced the result: 1 for
// the strict parse, 2 for the braced extraction, 3 for field recovery,
// 0 when nothing was recoverable.
func ParseWithTier(raw string) (*Prompt, int) {
	cleaned := llm.StripMarkdownFences(raw)

	if p := parseStrict(cleaned); p != nil {
		return p, 1
	}
	if p := parseBraced(cleaned); p != nil {
		return p, 2
	}
	if p := parseFields(cleaned); p != nil {
		return p, 3
	}
	return nil, 0
}

// parseStrict accepts only when the entire text is a valid five-field
// JSON object.
func parseStrict(text string) *Prompt {
	var p Prompt
	if err := json.Unmarshal([]byte(text), &p); err != nil {
		return nil
	}
	if !p.Valid() {
		return nil
	}
	return &p
}

// parseBraced extracts the substring between the first opening and last
// closing brace, repairs trailing commas, and retries the structured
// parse. Missing fields are synthesized from fixed placeholders; the
// synthesized record is returned as valid.
func parseBraced(text string) *Prompt {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end <= start {
		return nil
	}

	candidate := trailingCommaRe.ReplaceAllString(text[start:end+1], "$1")

	var p Prompt
	if err := json.Unmarshal([]byte(candidate), &p); err != nil {
		return nil
	}

	if p.Context == "" {
		p.Context = placeholders["context"]
	}
	if p.Role == "" {
		p.Role = placeholders["role"]
	}
	if p.Task.Empty() {
		p.Task = Text{Value: placeholders["task"]}
	}
	if p.Constraints.Empty() {
		p.Constraints = Text{Value: placeholders["constraints"]}
	}
	if p.Output.Empty() {
		p.Output = Output{Value: placeholders["output"]}
	}
	return &p
}

// parseFields runs the per-field regex chains over the text. If at
// least one field is recovered the rest are synthesized from templates
// seeded with the original text; if none are, the text is irrecoverable.
func parseFields(text string) *Prompt {
	recovered := map[string]string{}
	for _, name := range fieldNames {
		for _, re := range fieldPatterns[name] {
			m := re.FindStringSubmatch(text)
			if m == nil {
				continue
			}
			val := strings.TrimSpace(m[1])
			if re == fieldPatterns[name][0] {
				val = unescapeJSON(val)
			}
			if val != "" {
				recovered[name] = val
				break
			}
		}
	}
	if len(recovered) == 0 {
		return nil
	}

	get := func(name string) string {
		if v, ok := recovered[name]; ok {
			return v
		}
		return synthesize(name, text)
	}
	return &Prompt{
		Context:     get("context"),
		Role:        get("role"),
		Task:        Text{Value: get("task")},
		Constraints: Text{Value: get("constraints")},
		Output:      Output{Value: get("output")},
	}
}

// synthesize builds a fallback value for a missing field. The task is
// seeded with an excerpt of the original text so the synthesized record
// stays anchored to what the model actually said.
func synthesize(name, text string) string {
	if name == "task" {
		if ex := excerpt(text, 200); ex != "" {
			return "Address the following: " + ex
		}
	}
	return placeholders[name]
}

// excerpt returns at most n bytes of the text, collapsed onto one line
// and cut on a rune boundary.
func excerpt(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	if len(text) > n {
		for n > 0 && !utf8.RuneStart(text[n]) {
			n--
		}
		text = text[:n]
	}
	return strings.TrimSpace(text)
}

// unescapeJSON undoes JSON string escaping on a regex-captured value.
func unescapeJSON(s string) string {
	unquoted, err := strconv.Unquote(`"` + s + `"`)
	if err != nil {
		return s
	}
	return unquoted
}
