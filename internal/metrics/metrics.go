// Package metrics collects statistics for one optimization run and
// renders them for humans or machines.
package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/efebarandurmaz/promptforge/internal/llm"
)

// RunMetrics collects statistics for a full optimization run.
type RunMetrics struct {
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at,omitempty"`
	Duration   time.Duration `json:"duration_ms,omitempty"`

	Provider string `json:"provider"`
	Model    string `json:"model"`

	Difficulty          string `json:"difficulty"`
	ComplexityScore     int    `json:"complexity_score"`
	RequestedIterations int    `json:"requested_iterations"`
	CompletedIterations int    `json:"completed_iterations"`
	Truncated           bool   `json:"truncated"`

	Usage  llm.Usage      `json:"usage"`
	Stages []StageMetrics `json:"stages"`
}

// StageMetrics records a single generate or refine stage.
type StageMetrics struct {
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration_ms"`
	OK       bool          `json:"ok"`
}

// New starts tracking an optimization run.
func New(provider, model string) *RunMetrics {
	return &RunMetrics{StartedAt: time.Now(), Provider: provider, Model: model}
}

// AddStage records a single stage's timing and outcome.
func (m *RunMetrics) AddStage(name string, d time.Duration, ok bool) {
	m.Stages = append(m.Stages, StageMetrics{Name: name, Duration: d, OK: ok})
}

// AddUsage accumulates token usage from one completion.
func (m *RunMetrics) AddUsage(u llm.Usage) {
	m.Usage.Add(u)
}

// Finish marks the run as complete.
func (m *RunMetrics) Finish() {
	m.FinishedAt = time.Now()
	m.Duration = m.FinishedAt.Sub(m.StartedAt)
}

// WriteJSON emits the metrics as indented JSON.
func (m *RunMetrics) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(m)
}

// PrintSummary writes a human-readable summary.
func (m *RunMetrics) PrintSummary(w io.Writer) {
	fmt.Fprintf(w, "\n╔══════════════════════════════════════╗\n")
	fmt.Fprintf(w, "║       PROMPTFORGE RUN REPORT         ║\n")
	fmt.Fprintf(w, "╠══════════════════════════════════════╣\n")
	fmt.Fprintf(w, "║ Duration:    %-23s ║\n", m.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "║ Provider:    %-23s ║\n", m.Provider)
	fmt.Fprintf(w, "║ Model:       %-23s ║\n", m.Model)
	fmt.Fprintf(w, "║ Difficulty:  %-23s ║\n", fmt.Sprintf("%s (score %d)", m.Difficulty, m.ComplexityScore))
	iter := fmt.Sprintf("%d/%d", m.CompletedIterations, m.RequestedIterations)
	if m.Truncated {
		iter += " (stopped early)"
	}
	fmt.Fprintf(w, "║ Iterations:  %-23s ║\n", iter)
	fmt.Fprintf(w, "║ Tokens:      %-23s ║\n",
		fmt.Sprintf("%d in / %d out", m.Usage.PromptTokens, m.Usage.CompletionTokens))
	fmt.Fprintf(w, "╚══════════════════════════════════════╝\n")
	for _, s := range m.Stages {
		status := "ok"
		if !s.OK {
			status = "failed"
		}
		fmt.Fprintf(w, "  %-14s %8s  %s\n", s.Name, s.Duration.Round(time.Millisecond), status)
	}
}
