package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"convergeai/internal/llm"
	"convergeai/internal/retrieval"
	"convergeai/internal/types"
)

// =============================================================================
// RETRIEVAL FAKES
// =============================================================================

type fakeEmbedder struct {
	lastText string
	err      error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.lastText = text
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 0, 0}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return 3 }

func (f *fakeEmbedder) Name() string { return "fake" }

type fakeVectors struct {
	matches   []types.VectorMatch
	err       error
	calls     int
	namespace string
	k         int
}

func (f *fakeVectors) Upsert(ctx context.Context, namespace string, chunks []types.PolicyChunk, embeddings [][]float32) error {
	return nil
}

func (f *fakeVectors) Query(ctx context.Context, namespace string, vec []float32, k int, filter map[string]string) ([]types.VectorMatch, error) {
	f.calls++
	f.namespace = namespace
	f.k = k
	if f.err != nil {
		return nil, f.err
	}
	return f.matches, nil
}

func (f *fakeVectors) Count(ctx context.Context, namespace string) (int, error) {
	return len(f.matches), nil
}

type scriptedLLM struct {
	reply string
	err   error
	calls int
	last  string
}

func (f *scriptedLLM) Complete(ctx context.Context, prompt string) (string, error) {
	return f.CompleteWithSystem(ctx, "", prompt)
}

func (f *scriptedLLM) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	f.calls++
	f.last = userPrompt
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func refundChunks() []types.VectorMatch {
	return []types.VectorMatch{
		{ChunkID: "refund-1", Score: 0.80, Text: "Cancellations made more than four hours before the visit receive a full refund. Refunds reach the original payment method within five to seven business days."},
		{ChunkID: "refund-2", Score: 0.70, Text: "Cancellations between two and four hours before the visit receive a half refund."},
		{ChunkID: "refund-3", Score: 0.65, Text: "Cancellations under two hours before the visit are not refunded."},
	}
}

func testPolicyAgent(vectors *fakeVectors, client types.LLMClient) (*PolicyAgent, *fakeEmbedder) {
	emb := &fakeEmbedder{}
	engine := retrieval.NewEngine(emb, vectors, 7)
	return NewPolicyAgent(engine, client, testConfig()), emb
}

// =============================================================================
// TESTS
// =============================================================================

func TestPolicyAgentGroundedAnswer(t *testing.T) {
	vectors := &fakeVectors{matches: refundChunks()}
	client := &scriptedLLM{reply: "Cancellations made more than four hours before the visit receive a full refund."}
	a, _ := testPolicyAgent(vectors, client)
	cls := types.Classification{Intent: types.IntentPolicyInquiry}

	out := a.Handle(context.Background(), turnFor("what is the refund policy?", cls, nil))
	if out.Err != nil {
		t.Fatalf("Handle: %v", out.Err)
	}
	if out.ActionTaken != types.ActionPolicyAnswer {
		t.Fatalf("ActionTaken = %s, want policy answer", out.ActionTaken)
	}
	if out.ReplyText != client.reply {
		t.Errorf("reply = %q", out.ReplyText)
	}
	if out.GroundingScore == nil || *out.GroundingScore < 0.60 {
		t.Fatalf("GroundingScore = %v, want >= 0.60", out.GroundingScore)
	}
	if len(out.Provenance) != 3 {
		t.Fatalf("provenance entries = %d, want 3", len(out.Provenance))
	}
	if out.Provenance[0].DocID != "refund-1" {
		t.Errorf("top provenance = %s, want refund-1", out.Provenance[0].DocID)
	}
	if out.Provenance[0].Score < out.Provenance[1].Score {
		t.Errorf("provenance should keep retrieval order: %v", out.Provenance)
	}

	if vectors.namespace != "policies" {
		t.Errorf("queried namespace %q, want policies", vectors.namespace)
	}
	if vectors.k != 7 {
		t.Errorf("queried k = %d, want configured top_k 7", vectors.k)
	}
	if !strings.Contains(client.last, "Reference excerpts:") || !strings.Contains(client.last, "Question: what is the refund policy?") {
		t.Errorf("prompt shape off:\n%s", client.last)
	}
}

func TestPolicyAgentRefusesUngroundedAnswer(t *testing.T) {
	vectors := &fakeVectors{matches: refundChunks()}
	client := &scriptedLLM{reply: "Bananas ripen faster inside paper bags."}
	a, _ := testPolicyAgent(vectors, client)

	out := a.Handle(context.Background(), turnFor("what is the refund policy?", types.Classification{}, nil))
	if out.Err != nil {
		t.Fatalf("Handle: %v", out.Err)
	}
	if out.ActionTaken != types.ActionPolicyRefusal {
		t.Fatalf("ActionTaken = %s, want refusal", out.ActionTaken)
	}
	if out.ReplyText != RefusalReply {
		t.Errorf("reply = %q, want the fixed refusal", out.ReplyText)
	}
	if len(out.Provenance) != 0 {
		t.Errorf("a refusal must cite nothing, got %v", out.Provenance)
	}
	if out.GroundingScore == nil || *out.GroundingScore >= 0.60 {
		t.Errorf("GroundingScore = %v, want below threshold", out.GroundingScore)
	}
}

func TestPolicyAgentRefusesWhenNothingRetrieved(t *testing.T) {
	vectors := &fakeVectors{} // no matches
	client := &scriptedLLM{reply: "should never be used"}
	a, _ := testPolicyAgent(vectors, client)

	out := a.Handle(context.Background(), turnFor("do you allow pets?", types.Classification{}, nil))
	if out.ActionTaken != types.ActionPolicyRefusal {
		t.Fatalf("ActionTaken = %s, want refusal", out.ActionTaken)
	}
	if client.calls != 0 {
		t.Errorf("LLM should not be called with no excerpts, got %d calls", client.calls)
	}
	if out.ReplyText != RefusalReply {
		t.Errorf("reply = %q", out.ReplyText)
	}
}

func TestPolicyAgentVectorStoreDown(t *testing.T) {
	vectors := &fakeVectors{err: errors.New("connection refused")}
	client := &scriptedLLM{reply: "unused"}
	a, _ := testPolicyAgent(vectors, client)

	out := a.Handle(context.Background(), turnFor("what is the refund policy?", types.Classification{}, nil))
	if out.Err == nil {
		t.Fatal("expected an upstream error")
	}
	if !errors.Is(out.Err, types.ErrVectorStoreUnavailable) {
		t.Errorf("err = %v, want vector store unavailable", out.Err)
	}
	if kind := out.ErrKind(); kind != types.KindUpstream {
		t.Errorf("ErrKind = %s, want upstream", kind)
	}
	if out.ActionTaken != types.ActionFailed {
		t.Errorf("ActionTaken = %s", out.ActionTaken)
	}
	if out.ReplyText != "" {
		t.Errorf("agent should leave the apology to the coordinator, got %q", out.ReplyText)
	}
}

func TestPolicyAgentUsesEntityQuery(t *testing.T) {
	vectors := &fakeVectors{matches: refundChunks()}
	client := &scriptedLLM{reply: "Cancellations made more than four hours before the visit receive a full refund."}
	a, emb := testPolicyAgent(vectors, client)
	cls := types.Classification{
		Intent:   types.IntentPolicyInquiry,
		Entities: map[string]any{types.EntityQuery: "refund policy"},
	}

	out := a.Handle(context.Background(), turnFor("hey so I was wondering, um, about the refund policy?", cls, nil))
	if out.Err != nil {
		t.Fatalf("Handle: %v", out.Err)
	}
	if emb.lastText != "refund policy" {
		t.Errorf("embedded %q, want the extracted query", emb.lastText)
	}
}

// The grounded prompt must stay parseable by the offline template client:
// that pairing is what keeps the chat demo working without API keys.
func TestGroundedPromptRoundTripsThroughTemplateClient(t *testing.T) {
	chunks := make([]types.RetrievedChunk, 0, 3)
	for _, m := range refundChunks() {
		chunks = append(chunks, types.RetrievedChunk{
			ChunkID:         m.ChunkID,
			RawScore:        m.Score,
			NormalizedScore: retrieval.NormalizeScore(m.Score),
			Text:            m.Text,
		})
	}

	prompt := groundedPrompt("What is the refund policy?", chunks)
	answer, err := llm.NewTemplateClient().CompleteWithSystem(context.Background(), policySystemPrompt, prompt)
	if err != nil {
		t.Fatalf("CompleteWithSystem: %v", err)
	}
	if strings.TrimSpace(answer) == "" {
		t.Fatal("template client produced no answer")
	}
	if score := retrieval.GroundingScore(answer, chunks); score < 0.60 {
		t.Errorf("template answer grounds at %.2f, want >= 0.60:\n%s", score, answer)
	}
}
