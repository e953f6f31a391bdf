package query

import (
	"context"
	"strings"
)

// OfflineGenerator is the degraded-mode Generator used when no completion
// provider is configured. It echoes the grounded context instead of
// synthesizing, which keeps the pipeline and its tests fully offline.
type OfflineGenerator struct{}

func (OfflineGenerator) Generate(_ context.Context, system, prompt string) (string, error) {
	switch system {
	case conversationalSystemPrompt:
		return "Hello! Ask me anything about your archived conversations.", nil
	case fallbackSystemPrompt:
		return "", nil
	}
	// Grounded and summary prompts: surface the raw context block so the
	// caller still sees what was retrieved.
	if i := strings.Index(prompt, "--- CONTEXT START ---"); i >= 0 {
		if j := strings.Index(prompt, "--- CONTEXT END ---"); j > i {
			return strings.TrimSpace(prompt[i+len("--- CONTEXT START ---") : j]), nil
		}
	}
	return prompt, nil
}
