package llm

import "strings"

// StripThinkingTags removes <think>...</think> blocks from LLM output.
// Some models (e.g. qwen3) wrap their reasoning in these tags.
func StripThinkingTags(s string) string {
	for {
		start := strings.Index(s, "<think>")
		if start == -1 {
			break
		}
		end := strings.Index(s, "</think>")
		if end == -1 {
			s = strings.TrimSpace(s[:start])
			break
		}
		s = s[:start] + s[end+len("</think>"):]
	}
	return strings.TrimSpace(s)
}

// StripMarkdownFences removes the outermost markdown code fence pair
// (``` ... ```) from LLM output, after stripping thinking tags. Models
// routinely wrap JSON answers in ```json fences even when told not to.
func StripMarkdownFences(s string) string {
	s = StripThinkingTags(s)

	lines := strings.Split(s, "\n")

	// Find and remove leading fence.
	start := 0
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			start = i + 1
			break
		}
	}

	// Find and remove trailing fence.
	end := len(lines)
	for i := len(lines) - 1; i >= start; i-- {
		trimmed := strings.TrimSpace(lines[i])
		if strings.HasPrefix(trimmed, "```") {
			end = i
			break
		}
	}

	// If no fences found, return original.
	if start == 0 && end == len(lines) {
		return s
	}

	return strings.TrimSpace(strings.Join(lines[start:end], "\n"))
}
