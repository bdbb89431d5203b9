// Package analyzer scores raw prompt text for complexity and derives
// how many refinement iterations an optimization run should spend on
// it. Scoring is pure and deterministic: no I/O, no failure modes.
package analyzer

import (
	"regexp"
	"strings"
)

// Difficulty labels, ordered from easiest to hardest.
const (
	DifficultyTrivial  = "trivial"
	DifficultySimple   = "simple"
	DifficultyModerate = "moderate"
	DifficultyComplex  = "complex"
	DifficultyExpert   = "expert"
)

// Result is the outcome of scoring one prompt.
type Result struct {
	Score      int    `json:"score"`
	Difficulty string `json:"difficulty"`
	Iterations int    `json:"iterations"`
}

// Sub-score caps.
const (
	maxWordScore       = 4
	maxTechnicalScore  = 4
	maxDomainScore     = 3
	maxStructuralScore = 4
	maxConnectiveScore = 3
	maxDensityScore    = 2
)

var technicalKeywords = []string{
	"api", "database", "sql", "algorithm", "function", "architecture",
	"deploy", "kubernetes", "docker", "concurrency", "latency",
	"optimize", "refactor", "debug", "benchmark", "schema", "protocol",
	"encryption", "authentication", "microservice", "pipeline", "cache",
	"regression", "neural", "embedding", "compiler", "json",
}

var domainKeywords = []string{
	"legal", "contract", "medical", "clinical", "diagnosis", "financial",
	"investment", "tax", "marketing", "curriculum", "scientific",
	"statistical", "academic", "regulatory", "compliance", "biology",
	"chemistry", "physics",
}

var connectiveKeywords = []string{
	"if", "then", "unless", "because", "therefore", "otherwise",
	"however", "whereas", "although", "depending", "provided",
}

var (
	numberedLineRe = regexp.MustCompile(`(?m)^\s*\d+[.)]\s+`)
	bulletLineRe   = regexp.MustCompile(`(?m)^\s*[-*+]\s+`)
	codeFenceRe    = regexp.MustCompile("(?m)^```")
	headingRe      = regexp.MustCompile(`(?m)^#{1,6}\s+`)
)

// Score analyzes text and maps the heuristic total onto the five
// difficulty bands. Empty input scores zero and lands in the lowest
// band with a single iteration.
func Score(text string) Result {
	if strings.TrimSpace(text) == "" {
		return Result{Score: 0, Difficulty: DifficultyTrivial, Iterations: 1}
	}

	total := wordScore(text) +
		keywordScore(text, technicalKeywords, maxTechnicalScore) +
		keywordScore(text, domainKeywords, maxDomainScore) +
		structuralScore(text) +
		keywordScore(text, connectiveKeywords, maxConnectiveScore) +
		densityScore(text)

	difficulty, iterations := band(total)
	return Result{Score: total, Difficulty: difficulty, Iterations: iterations}
}

// band maps a total score onto its difficulty tier and iteration count.
func band(score int) (string, int) {
	switch {
	case score <= 4:
		return DifficultyTrivial, 1
	case score <= 8:
		return DifficultySimple, 2
	case score <= 12:
		return DifficultyModerate, 3
	case score <= 16:
		return DifficultyComplex, 4
	default:
		return DifficultyExpert, 5
	}
}

func wordScore(text string) int {
	n := len(strings.Fields(text))
	switch {
	case n < 25:
		return 0
	case n < 75:
		return 1
	case n < 150:
		return 2
	case n < 300:
		return 3
	default:
		return maxWordScore
	}
}

// keywordScore counts distinct keywords present as whole words, capped.
func keywordScore(text string, keywords []string, limit int) int {
	words := wordSet(text)
	hits := 0
	for _, kw := range keywords {
		if words[kw] {
			hits++
			if hits == limit {
				break
			}
		}
	}
	return hits
}

// wordSet tokenizes lowered text into a set of words with surrounding
// punctuation stripped.
func wordSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,;:!?()[]{}\"'`")
		if w != "" {
			set[w] = true
		}
	}
	return set
}

// structuralScore counts lines that look like list items, code fences,
// or headings, capped.
func structuralScore(text string) int {
	hits := len(numberedLineRe.FindAllString(text, -1)) +
		len(bulletLineRe.FindAllString(text, -1)) +
		len(codeFenceRe.FindAllString(text, -1)) +
		len(headingRe.FindAllString(text, -1))
	if hits > maxStructuralScore {
		return maxStructuralScore
	}
	return hits
}

// densityScore rewards prompts dense in non-alphanumeric structure
// (braces, operators, paths) that usually signal technical content.
func densityScore(text string) int {
	if len(text) == 0 {
		return 0
	}
	special := 0
	for _, r := range text {
		switch r {
		case '{', '}', '[', ']', '(', ')', '<', '>', '/', '\\', '|',
			'@', '#', '$', '%', '^', '&', '*', '~', '=', '+':
			special++
		}
	}
	ratio := float64(special) / float64(len(text))
	switch {
	case ratio > 0.05:
		return maxDensityScore
	case ratio > 0.02:
		return 1
	default:
		return 0
	}
}
