package llm

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"convergeai/internal/logging"
)

// =============================================================================
// TEMPLATE CLIENT (OFFLINE)
// =============================================================================

// TemplateClient is a deterministic, network-free completion source. It is
// the default provider: demos, tests, and air-gapped deployments run the full
// pipeline with it. For grounded policy prompts it answers by restating the
// highest-ranked reference excerpts, which keeps grounding scores honest:
// answers are exactly as good as the retrieved material.
type TemplateClient struct{}

// NewTemplateClient creates the offline completion client.
func NewTemplateClient() *TemplateClient {
	return &TemplateClient{}
}

var excerptLineRe = regexp.MustCompile(`^\[(\d+)\]\s+(.+)$`)

// Complete sends a prompt and returns the completion.
func (c *TemplateClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem answers grounded prompts from their excerpts and
// everything else with a short generic completion.
func (c *TemplateClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("template complete: %w", err)
	}

	excerpts, question, ok := parseGroundedPrompt(userPrompt)
	if ok {
		answer := composeFromExcerpts(excerpts, question)
		logging.LLMDebug("[template] grounded answer: excerpts=%d answer_len=%d", len(excerpts), len(answer))
		return answer, nil
	}

	logging.LLMDebug("[template] generic completion: user_len=%d", len(userPrompt))
	return genericCompletion(userPrompt), nil
}

// parseGroundedPrompt recognizes the policy agent's prompt shape: a
// "Reference excerpts:" block of numbered [n] lines followed by a
// "Question:" line.
func parseGroundedPrompt(prompt string) (excerpts []string, question string, ok bool) {
	if !strings.Contains(prompt, "Reference excerpts:") {
		return nil, "", false
	}

	inExcerpts := false
	for _, line := range strings.Split(prompt, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "Reference excerpts:"):
			inExcerpts = true
		case strings.HasPrefix(line, "Question:"):
			inExcerpts = false
			question = strings.TrimSpace(strings.TrimPrefix(line, "Question:"))
		case inExcerpts:
			if m := excerptLineRe.FindStringSubmatch(line); m != nil {
				excerpts = append(excerpts, m[2])
			} else if line != "" && len(excerpts) > 0 {
				// Continuation of a wrapped excerpt line.
				excerpts[len(excerpts)-1] += " " + line
			}
		}
	}

	if len(excerpts) == 0 {
		return nil, "", false
	}
	return excerpts, question, true
}

// composeFromExcerpts builds an answer out of the leading sentences of the
// top excerpts. No material means no answer; the caller's grounding check
// turns that into a refusal.
func composeFromExcerpts(excerpts []string, question string) string {
	var parts []string
	parts = append(parts, leadingSentences(excerpts[0], 2)...)
	if len(excerpts) > 1 {
		parts = append(parts, leadingSentences(excerpts[1], 1)...)
	}
	if len(parts) == 0 {
		return "I could not find relevant policy details for that question."
	}
	return strings.Join(parts, " ")
}

// leadingSentences returns up to n sentences from the front of text.
func leadingSentences(text string, n int) []string {
	var out []string
	rest := strings.TrimSpace(text)
	for len(out) < n && rest != "" {
		idx := strings.IndexAny(rest, ".!?")
		if idx < 0 {
			out = append(out, rest)
			break
		}
		out = append(out, strings.TrimSpace(rest[:idx+1]))
		rest = strings.TrimSpace(rest[idx+1:])
	}
	return out
}

func genericCompletion(prompt string) string {
	lower := strings.ToLower(prompt)
	switch {
	case strings.Contains(lower, "thank"):
		return "You're welcome! Is there anything else I can help you with?"
	case strings.Contains(lower, "sorry") || strings.Contains(lower, "apolog"):
		return "I'm sorry about the trouble. Let me know how I can help put it right."
	default:
		return "Happy to help! Could you share a bit more detail about what you need?"
	}
}
