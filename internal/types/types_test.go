package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func f64Ptr(f float64) *float64 { return &f }

func TestConversationMessageRoundTrip(t *testing.T) {
	created := time.Date(2026, 8, 25, 10, 30, 0, 0, time.UTC)
	msg := ConversationMessage{
		ID:               17,
		SessionID:        "sess_abc",
		Role:             RoleAssistant,
		Text:             "Your cancellation policy allows a full refund.",
		Intent:           "policy_inquiry",
		IntentConfidence: f64Ptr(0.91),
		AgentTrace:       []string{"classify", "policy_agent", "retrieval"},
		RetrievalProvenance: []Provenance{
			{DocID: "chunk-9", Score: 0.964},
			{DocID: "chunk-2", Score: 0.91},
			{DocID: "chunk-5", Score: 0.905},
		},
		GroundingScore: f64Ptr(0.78),
		LatencyMs:      412,
		CreatedAt:      created,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var got ConversationMessage
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if diff := cmp.Diff(msg, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
	// Provenance ordering must survive the trip.
	for i, want := range []string{"chunk-9", "chunk-2", "chunk-5"} {
		if got.RetrievalProvenance[i].DocID != want {
			t.Errorf("provenance[%d] = %q, want %q", i, got.RetrievalProvenance[i].DocID, want)
		}
	}
}

func TestParseIntent(t *testing.T) {
	tests := []struct {
		in     string
		want   Intent
		wantOK bool
	}{
		{"booking", IntentBooking, true},
		{"policy_inquiry", IntentPolicyInquiry, true},
		{"other", IntentOther, true},
		{"upsell", IntentOther, false},
		{"", IntentOther, false},
	}
	for _, tt := range tests {
		got, ok := ParseIntent(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParseIntent(%q) = (%v, %v), want (%v, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestPriorityOrdering(t *testing.T) {
	if !PriorityCritical.AtLeast(PriorityHigh) {
		t.Error("critical should rank at least high")
	}
	if PriorityLow.AtLeast(PriorityMedium) {
		t.Error("low should not rank at least medium")
	}
	if got := PriorityMedium.Max(PriorityHigh); got != PriorityHigh {
		t.Errorf("Max(medium, high) = %v, want high", got)
	}
	if got := PriorityCritical.Max(PriorityLow); got != PriorityCritical {
		t.Errorf("Max(critical, low) = %v, want critical", got)
	}
}

func TestBookingStatusCancellable(t *testing.T) {
	tests := []struct {
		status BookingStatus
		want   bool
	}{
		{BookingPending, true},
		{BookingConfirmed, true},
		{BookingInProgress, false},
		{BookingCompleted, false},
		{BookingCancelled, false},
	}
	for _, tt := range tests {
		if got := tt.status.Cancellable(); got != tt.want {
			t.Errorf("%s.Cancellable() = %v, want %v", tt.status, got, tt.want)
		}
	}
}
