package agent

import (
	"context"
	"fmt"
	"strings"

	"convergeai/internal/config"
	"convergeai/internal/logging"
	"convergeai/internal/resilience"
	"convergeai/internal/retrieval"
	"convergeai/internal/types"
)

// RefusalReply is the fixed response for policy questions the retrieved
// excerpts cannot support. Kept verbatim so transcripts and tests can match
// on it.
const RefusalReply = "I don't have confident information about that — please contact support"

// provenanceLimit caps how many chunk references a grounded answer records.
const provenanceLimit = 3

const policySystemPrompt = "You are a customer support assistant for a home-services marketplace. " +
	"Answer using only the reference excerpts provided. If they do not cover the question, say so plainly."

// PolicyAgent answers policy questions with retrieval-grounded completions.
// Every answer is scored against the excerpts it was generated from; answers
// below the grounding threshold are replaced with a refusal rather than
// risk inventing policy.
type PolicyAgent struct {
	retrieval *retrieval.Engine
	llm       types.LLMClient
	breaker   *resilience.Breaker
	retry     resilience.RetryConfig
	cfg       config.Provider
}

func NewPolicyAgent(engine *retrieval.Engine, client types.LLMClient, cfg config.Provider) *PolicyAgent {
	return &PolicyAgent{
		retrieval: engine,
		llm:       client,
		breaker: resilience.NewBreaker(resilience.BreakerConfig{
			Name:     "policy-llm",
			Category: logging.CategoryLLM,
		}),
		retry: resilience.DefaultRetryConfig(),
		cfg:   cfg,
	}
}

func (a *PolicyAgent) Name() string { return "policy" }

func (a *PolicyAgent) Handle(ctx context.Context, turn TurnContext) types.AgentOutcome {
	question, ok := types.EntityString(turn.Classification.Entities, types.EntityQuery)
	if !ok || strings.TrimSpace(question) == "" {
		question = turn.Text
	}

	conf := a.cfg.Current()
	chunks, err := a.retrieval.Retrieve(ctx, question, conf.Retrieval.PolicyNamespace, conf.Retrieval.TopK, nil)
	if err != nil {
		return failedTurn(turn, err)
	}
	if len(chunks) == 0 {
		logging.Agent("policy: no excerpts for %q, refusing", question)
		return refusalOutcome(0).WithTrace("no excerpts retrieved")
	}

	var answer string
	err = a.breaker.Execute(ctx, types.ErrLLMUnavailable, func(ctx context.Context) error {
		return resilience.WithRetry(ctx, a.retry, logging.CategoryLLM, "policy completion", func(ctx context.Context) error {
			callCtx, cancel := context.WithTimeout(ctx, conf.LLMTimeout())
			defer cancel()
			out, cerr := a.llm.CompleteWithSystem(callCtx, policySystemPrompt, groundedPrompt(question, chunks))
			if cerr != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("%w: %v", types.ErrLLMUnavailable, cerr)
			}
			answer = strings.TrimSpace(out)
			return nil
		})
	})
	if err != nil {
		return failedTurn(turn, err)
	}

	score := retrieval.GroundingScore(answer, chunks)
	if answer == "" || score < conf.Retrieval.GroundingThreshold {
		logging.Agent("policy: grounding %.2f below %.2f for %q, refusing",
			score, conf.Retrieval.GroundingThreshold, question)
		return refusalOutcome(score).WithTrace(fmt.Sprintf("grounding %.2f rejected", score))
	}

	prov := make([]types.Provenance, 0, provenanceLimit)
	for i, c := range chunks {
		if i == provenanceLimit {
			break
		}
		prov = append(prov, types.Provenance{DocID: c.ChunkID, Score: c.NormalizedScore})
	}
	return types.AgentOutcome{
		ReplyText:      answer,
		ActionTaken:    types.ActionPolicyAnswer,
		GroundingScore: &score,
		Provenance:     prov,
		Metadata:       map[string]any{"chunks": len(chunks)},
	}.WithTrace(fmt.Sprintf("grounded answer %.2f from %d chunks", score, len(chunks)))
}

// refusalOutcome carries the grounding score that triggered it but no
// provenance: a refusal cites nothing.
func refusalOutcome(score float64) types.AgentOutcome {
	s := score
	return types.AgentOutcome{
		ReplyText:      RefusalReply,
		ActionTaken:    types.ActionPolicyRefusal,
		GroundingScore: &s,
	}
}

// groundedPrompt lays the excerpts out as numbered lines under a fixed
// header with the question last. The template client parses this exact
// shape, and the hosted clients read it as plain instructions.
func groundedPrompt(question string, chunks []types.RetrievedChunk) string {
	var sb strings.Builder
	sb.WriteString("Answer the customer's question using only the reference excerpts below. ")
	sb.WriteString("Quote the excerpts where you can.\n\n")
	sb.WriteString("Reference excerpts:\n")
	for i, c := range chunks {
		fmt.Fprintf(&sb, "[%d] %s\n", i+1, strings.ReplaceAll(c.Text, "\n", " "))
	}
	sb.WriteString("\nQuestion: ")
	sb.WriteString(question)
	return sb.String()
}
