package optimizer

import (
	"fmt"
	"strings"

	"github.com/efebarandurmaz/promptforge/internal/pe2"
)

// generateSystem instructs the model to produce the initial structured
// draft. The output contract is a single JSON object with exactly the
// five required keys; the parser tolerates deviations, but asking
// precisely keeps tier-1 parsing the common case.
const generateSystem = `You are an expert prompt engineer. Transform the user's raw prompt into a structured, optimized prompt.

Respond with a single JSON object and nothing else, using exactly these keys:
  "context"     - background the model needs before acting
  "role"        - the persona the model should adopt
  "task"        - what to do, as a string or a list of steps
  "constraints" - rules to obey, as a string or a list
  "output"      - the expected output format, as a string or an object

Every key is required and must be non-empty. Do not wrap the JSON in markdown fences or add commentary.`

func generateUser(raw string) string {
	return "Raw prompt to optimize:\n\n" + raw
}

// refineSystem instructs the model to critique and improve the current
// draft while keeping the same output contract.
const refineSystem = `You are an expert prompt engineer refining a structured prompt over several rounds.

Critique the current draft and return an improved version: sharpen vague wording, add missing constraints, tighten the task description, and keep everything faithful to the original intent.

Respond with a single JSON object and nothing else, using exactly the keys "context", "role", "task", "constraints" and "output". Every key is required and must be non-empty. Do not wrap the JSON in markdown fences or add commentary.`

func refineUser(raw string, current *pe2.Prompt, history []HistoryEntry, iteration, total int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Refinement round %d of %d.\n\n", iteration, total)
	b.WriteString("Original raw prompt:\n")
	b.WriteString(raw)
	b.WriteString("\n\nCurrent draft:\n")
	b.WriteString(current.JSON())
	if len(history) > 0 {
		b.WriteString("\n\nEdits so far:\n")
		for _, h := range history {
			fmt.Fprintf(&b, "- round %d: %s\n", h.Iteration, h.Edits)
		}
	}
	return b.String()
}
