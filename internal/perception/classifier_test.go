package perception

import (
	"context"
	"testing"
	"time"

	"convergeai/internal/types"
)

func TestClassifyIntents(t *testing.T) {
	c := NewClassifier(nil, nil)
	ctx := context.Background()

	cases := []struct {
		text string
		want types.Intent
	}{
		{"hi", types.IntentGreeting},
		{"good morning!", types.IntentGreeting},
		{"I want to book a deep cleaning service", types.IntentBooking},
		{"I need AC repair tomorrow at 2pm", types.IntentBooking},
		{"book a plumber visit for saturday", types.IntentBooking},
		{"reschedule my booking to friday", types.IntentReschedule},
		{"can you move my appointment to another slot", types.IntentReschedule},
		{"cancel my booking", types.IntentCancellation},
		{"please cancel order 12", types.IntentCancellation},
		{"I want to file a complaint about the cleaner", types.IntentComplaint},
		{"the technician never showed up", types.IntentComplaint},
		{"I was charged twice for the same visit", types.IntentComplaint},
		{"what services do you offer", types.IntentServiceInquiry},
		{"show me the catalog", types.IntentServiceInquiry},
		{"what is your cancellation policy?", types.IntentPolicyInquiry},
		{"can I get a refund for a service 3 weeks ago?", types.IntentPolicyInquiry},
		{"how much does sofa cleaning cost", types.IntentPriceInquiry},
		{"show my bookings", types.IntentStatusInquiry},
		{"where is my technician", types.IntentStatusInquiry},
	}

	for _, tc := range cases {
		got := c.Classify(ctx, tc.text)
		if got.Intent != tc.want {
			t.Errorf("Classify(%q) = %s (%.2f), want %s", tc.text, got.Intent, got.Confidence, tc.want)
		}
		if got.LowConfidence {
			t.Errorf("Classify(%q) flagged low confidence at %.2f", tc.text, got.Confidence)
		}
	}
}

func TestClassifyLowConfidence(t *testing.T) {
	c := NewClassifier(nil, nil)

	got := c.Classify(context.Background(), "xylophone quartz umbrella")
	if got.Intent != types.IntentOther {
		t.Errorf("intent = %s, want other", got.Intent)
	}
	if !got.LowConfidence {
		t.Error("expected low-confidence flag")
	}
	if got.Confidence >= types.ConfidenceFloor {
		t.Errorf("confidence = %.2f, want < %.2f", got.Confidence, types.ConfidenceFloor)
	}
}

func TestClassifyEmptyUtterance(t *testing.T) {
	c := NewClassifier(nil, nil)

	got := c.Classify(context.Background(), "   ")
	if got.Intent != types.IntentOther || !got.LowConfidence {
		t.Errorf("empty utterance = %+v, want other/low-confidence", got)
	}
}

// fakeCatalog serves a fixed subcategory list for alias resolution.
type fakeCatalog struct {
	types.CatalogRepo
	subs  []types.Subcategory
	calls int
}

func (f *fakeCatalog) AllSubcategories(ctx context.Context) ([]types.Subcategory, error) {
	f.calls++
	return f.subs, nil
}

func TestClassifyResolvesServiceAliases(t *testing.T) {
	catalog := &fakeCatalog{subs: []types.Subcategory{
		{ID: 201, CategoryID: 2, Name: "AC Repair", Active: true,
			Aliases: []string{"ac repair", "air conditioner repair", "ac service"}},
		{ID: 103, CategoryID: 1, Name: "Sofa Cleaning", Active: true,
			Aliases: []string{"sofa shampoo", "couch cleaning"}},
		{ID: 999, CategoryID: 9, Name: "Retired Service", Active: false},
	}}
	c := NewClassifier(catalog, nil)
	ctx := context.Background()

	got := c.Classify(ctx, "I need AC repair tomorrow at 2pm")
	if id, ok := types.EntityInt64(got.Entities, types.EntitySubcategoryID); !ok || id != 201 {
		t.Fatalf("subcategory_id = %v, want 201", got.Entities[types.EntitySubcategoryID])
	}
	if id, ok := types.EntityInt64(got.Entities, types.EntityCategoryID); !ok || id != 2 {
		t.Errorf("category_id = %v, want 2", got.Entities[types.EntityCategoryID])
	}

	// Inactive subcategories never resolve.
	got = c.Classify(ctx, "book retired service")
	if _, ok := got.Entities[types.EntitySubcategoryID]; ok {
		t.Errorf("inactive subcategory resolved: %v", got.Entities)
	}
}

func TestAliasIndexIsCached(t *testing.T) {
	catalog := &fakeCatalog{subs: []types.Subcategory{
		{ID: 201, CategoryID: 2, Name: "AC Repair", Active: true, Aliases: []string{"ac repair"}},
	}}
	c := NewClassifier(catalog, nil)
	ctx := context.Background()

	c.Classify(ctx, "ac repair please")
	c.Classify(ctx, "ac repair again")
	if catalog.calls != 1 {
		t.Errorf("catalog calls = %d, want 1 (index cached)", catalog.calls)
	}

	// Force the refresh window to lapse.
	c.now = func() time.Time { return time.Now().Add(aliasRefreshInterval + time.Minute) }
	c.Classify(ctx, "ac repair once more")
	if catalog.calls != 2 {
		t.Errorf("catalog calls = %d, want 2 after refresh window", catalog.calls)
	}
}

// fakeLLM returns a fixed completion.
type fakeLLM struct {
	reply string
	err   error
	calls int
}

func (f *fakeLLM) Complete(ctx context.Context, prompt string) (string, error) {
	return f.CompleteWithSystem(ctx, "", prompt)
}

func (f *fakeLLM) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	f.calls++
	return f.reply, f.err
}

func TestClassifyLLMAssist(t *testing.T) {
	llm := &fakeLLM{reply: `{"intent": "booking", "confidence": 0.82}`}
	c := NewClassifier(nil, llm)

	got := c.Classify(context.Background(), "same as last time please")
	if got.Intent != types.IntentBooking {
		t.Errorf("intent = %s, want booking via assist", got.Intent)
	}
	if got.Confidence != 0.82 {
		t.Errorf("confidence = %.2f, want 0.82", got.Confidence)
	}
	if llm.calls != 1 {
		t.Errorf("llm calls = %d, want 1", llm.calls)
	}
}

func TestClassifyLLMAssistSkippedWhenConfident(t *testing.T) {
	llm := &fakeLLM{reply: `{"intent": "complaint", "confidence": 0.9}`}
	c := NewClassifier(nil, llm)

	got := c.Classify(context.Background(), "cancel my booking")
	if got.Intent != types.IntentCancellation {
		t.Errorf("intent = %s, want cancellation", got.Intent)
	}
	if llm.calls != 0 {
		t.Errorf("llm calls = %d, want 0 (deterministic pass was confident)", llm.calls)
	}
}

func TestClassifyLLMAssistMalformedFallsBack(t *testing.T) {
	cases := []string{
		"I think this is a booking",
		`{"intent": "teleportation", "confidence": 0.9}`,
		`{"intent": "booking", "confidence": 1.7}`,
		`{"intent": "booking"`,
	}
	for _, reply := range cases {
		llm := &fakeLLM{reply: reply}
		c := NewClassifier(nil, llm)

		got := c.Classify(context.Background(), "hmm whatever works")
		if got.Intent != types.IntentOther || !got.LowConfidence {
			t.Errorf("reply %q: got %s/low=%v, want other/low=true", reply, got.Intent, got.LowConfidence)
		}
	}
}

func TestIsWorkflowCancellation(t *testing.T) {
	positives := []string{"cancel", "CANCEL this", "stop", "never mind", "nevermind, forget it"}
	for _, text := range positives {
		if !IsWorkflowCancellation(text) {
			t.Errorf("IsWorkflowCancellation(%q) = false, want true", text)
		}
	}

	negatives := []string{"10:30", "yes", "2 sofas", "my home address", "tomorrow"}
	for _, text := range negatives {
		if IsWorkflowCancellation(text) {
			t.Errorf("IsWorkflowCancellation(%q) = true, want false", text)
		}
	}
}

func TestExtractJSONObject(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"Sure, here you go:\n```json\n{\"intent\": \"booking\", \"confidence\": 0.8}\n```", `{"intent": "booking", "confidence": 0.8}`},
		{`prefix {"nested": {"x": "}"}} suffix`, `{"nested": {"x": "}"}}`},
		{"no json here", ""},
		{`{"unterminated": true`, ""},
	}
	for _, tc := range cases {
		if got := extractJSONObject(tc.in); got != tc.want {
			t.Errorf("extractJSONObject(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
