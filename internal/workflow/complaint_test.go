package workflow

import (
	"strings"
	"testing"

	"convergeai/internal/types"
)

func complaintEngine() *Engine {
	return NewEngine(NewComplaintMachine(newFakeBookings()))
}

func TestComplaintHappyPath(t *testing.T) {
	e := complaintEngine()

	res := advance(t, e, &types.ComplaintDraft{}, "I have a complaint", nil)
	for _, want := range []string{"1. service quality", "7. other", "You can reply with the number."} {
		if !strings.Contains(res.Reply, want) {
			t.Errorf("issue prompt missing %q:\n%s", want, res.Reply)
		}
	}

	res = advance(t, e, res.State, "the technician was rude to my mother", nil)
	if got := res.State.(*types.ComplaintDraft).IssueType; got != string(types.ComplaintProviderBehavior) {
		t.Fatalf("issue = %q, want provider_behavior from keywords", got)
	}
	if !strings.Contains(res.Reply, "about a specific booking") {
		t.Errorf("reply = %q, want the related-booking prompt", res.Reply)
	}

	res = advance(t, e, res.State, "none", nil)
	d := res.State.(*types.ComplaintDraft)
	if !d.BookingSkipped || d.RelatedBookingID != 0 {
		t.Fatalf("skip answer: draft = %+v", d)
	}
	if !strings.Contains(res.Reply, "describe what happened") {
		t.Errorf("reply = %q, want the description prompt", res.Reply)
	}

	res = advance(t, e, res.State, "it was bad", nil)
	if !strings.Contains(res.Reply, "a bit more detail") {
		t.Errorf("short description: reply = %q", res.Reply)
	}

	res = advance(t, e, res.State, "He shouted at my mother and left the repair half done.", nil)
	if res.State.PendingSlot() != SlotConfirm {
		t.Fatalf("pending = %q, want confirmation", res.State.PendingSlot())
	}
	for _, want := range []string{
		"Issue: provider behavior",
		"About: not linked to a booking",
		"Details: He shouted at my mother",
		"Shall I register this complaint? (yes/no)",
	} {
		if !strings.Contains(res.Reply, want) {
			t.Errorf("summary missing %q:\n%s", want, res.Reply)
		}
	}

	res = advance(t, e, res.State, "yes", nil)
	if res.Disposition != ConfirmedDraft {
		t.Fatalf("disposition = %s, want confirmed", res.Disposition)
	}
	if got := res.State.(*types.ComplaintDraft); got.IssueType != "provider_behavior" || !got.Confirmed {
		t.Errorf("confirmed draft = %+v", got)
	}
}

func TestComplaintIssueSelection(t *testing.T) {
	cases := []struct {
		text string
		want types.ComplaintType
	}{
		{"6", types.ComplaintRefundIssue},
		{"billing", types.ComplaintBilling},
		{"refund issue", types.ComplaintRefundIssue},
		{"i was overcharged", types.ComplaintBilling},
		{"they kept me waiting for hours", types.ComplaintDelay},
		{"something else", types.ComplaintOther},
	}
	for _, tc := range cases {
		e := complaintEngine()
		res := advance(t, e, &types.ComplaintDraft{Pending: slotIssueType}, tc.text, nil)
		if got := res.State.(*types.ComplaintDraft).IssueType; got != string(tc.want) {
			t.Errorf("%q: issue = %q, want %s", tc.text, got, tc.want)
		}
	}

	e := complaintEngine()
	res := advance(t, e, &types.ComplaintDraft{Pending: slotIssueType}, "9", nil)
	if !strings.Contains(res.Reply, "between 1 and 7") {
		t.Errorf("out-of-range number: reply = %q", res.Reply)
	}

	res = advance(t, e, &types.ComplaintDraft{Pending: slotIssueType}, "the weather", nil)
	if !strings.Contains(res.Reply, "didn't recognize that issue type") {
		t.Errorf("unknown issue: reply = %q", res.Reply)
	}
}

func TestComplaintRelatedBooking(t *testing.T) {
	e := complaintEngine()

	res := advance(t, e, &types.ComplaintDraft{IssueType: "billing"}, "about my booking", map[string]any{
		types.EntityBookingID: int64(1042),
	})
	if got := res.State.(*types.ComplaintDraft).RelatedBookingID; got != 1042 {
		t.Errorf("related booking = %d, want 1042", got)
	}

	for _, text := range []string{"9999", "1043"} {
		e := complaintEngine()
		ws := &types.ComplaintDraft{IssueType: "billing", Pending: slotRelatedBooking}
		res := advance(t, e, ws, text, nil)
		if !strings.Contains(res.Reply, "Reply \"none\"") {
			t.Errorf("%s: reply = %q, want the not-found reprompt", text, res.Reply)
		}
	}

	e = complaintEngine()
	ws := &types.ComplaintDraft{IssueType: "billing", Pending: slotRelatedBooking}
	res = advance(t, e, ws, "it's not about a booking", nil)
	if !res.State.(*types.ComplaintDraft).BookingSkipped {
		t.Errorf("general complaint should skip the booking link")
	}
}

func TestComplaintDescriptionLength(t *testing.T) {
	ws := func() *types.ComplaintDraft {
		return &types.ComplaintDraft{IssueType: "billing", BookingSkipped: true, Pending: slotDescription}
	}

	e := complaintEngine()
	res := advance(t, e, ws(), strings.Repeat("x", minDescriptionChars-1), nil)
	if got := res.State.(*types.ComplaintDraft).Description; got != "" {
		t.Errorf("19 runes accepted: %q", got)
	}

	text := strings.Repeat("x", minDescriptionChars)
	res = advance(t, e, ws(), text, nil)
	if got := res.State.(*types.ComplaintDraft).Description; got != text {
		t.Errorf("20 runes rejected, description = %q", got)
	}
}
