package workflow

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"convergeai/internal/types"
)

const (
	slotIssueType      = "issue_type"
	slotRelatedBooking = "related_booking_id"
	slotDescription    = "description"

	minDescriptionChars = 20
)

// ComplaintMachine gathers the issue type, an optional booking reference, and
// a description long enough to act on. Priority and SLA deadlines are derived
// at commit by the complaint agent, not here.
type ComplaintMachine struct {
	bookings types.BookingRepo
	slots    []Slot
}

// NewComplaintMachine wires the complaint machine. bookings validates the
// optional related-booking reference.
func NewComplaintMachine(bookings types.BookingRepo) *ComplaintMachine {
	m := &ComplaintMachine{bookings: bookings}
	m.slots = []Slot{
		{
			Name:    slotIssueType,
			Filled:  func(ws types.WorkflowState) bool { return ws.(*types.ComplaintDraft).IssueType != "" },
			Extract: m.extractIssueType,
			Prompt: func(ctx context.Context, ws types.WorkflowState) string {
				var b strings.Builder
				b.WriteString("I'm sorry to hear that. What kind of issue is this?\n")
				for i, ct := range types.AllComplaintTypes {
					fmt.Fprintf(&b, "%d. %s\n", i+1, humanizeIssue(string(ct)))
				}
				b.WriteString("You can reply with the number.")
				return b.String()
			},
		},
		{
			Name: slotRelatedBooking,
			Filled: func(ws types.WorkflowState) bool {
				d := ws.(*types.ComplaintDraft)
				return d.RelatedBookingID != 0 || d.BookingSkipped
			},
			Extract: m.extractRelatedBooking,
			Prompt: func(ctx context.Context, ws types.WorkflowState) string {
				return "Is this about a specific booking? Share the booking id, or reply \"none\"."
			},
		},
		{
			Name:    slotDescription,
			Filled:  func(ws types.WorkflowState) bool { return ws.(*types.ComplaintDraft).Description != "" },
			Extract: m.extractDescription,
			Prompt: func(ctx context.Context, ws types.WorkflowState) string {
				return "Please describe what happened, in a sentence or two."
			},
		},
	}
	return m
}

func (m *ComplaintMachine) Kind() types.WorkflowKind { return types.WorkflowComplaint }
func (m *ComplaintMachine) Slots() []Slot            { return m.slots }

func (m *ComplaintMachine) Summary(ctx context.Context, ws types.WorkflowState, userRef int64) string {
	d := ws.(*types.ComplaintDraft)

	booking := "not linked to a booking"
	if d.RelatedBookingID != 0 {
		booking = fmt.Sprintf("booking #%d", d.RelatedBookingID)
		if b, err := m.bookings.GetByID(ctx, d.RelatedBookingID); err == nil {
			booking = fmt.Sprintf("booking %s", b.BookingNumber)
		}
	}
	return fmt.Sprintf(
		"Here's your complaint:\n  Issue: %s\n  About: %s\n  Details: %s\nShall I register this complaint? (yes/no)",
		humanizeIssue(d.IssueType), booking, d.Description)
}

func humanizeIssue(issueType string) string {
	return strings.ReplaceAll(issueType, "_", " ")
}

func (m *ComplaintMachine) extractIssueType(ctx context.Context, ws types.WorkflowState, turn Turn, pending bool) (bool, error) {
	d := ws.(*types.ComplaintDraft)
	if !pending {
		return false, nil
	}
	t := strings.ToLower(strings.TrimSpace(turn.Text))
	if t == "" {
		return false, nil
	}

	if n, ok := bareNumber(t); ok {
		if n < 1 || int(n) > len(types.AllComplaintTypes) {
			return false, ErrValidation(slotIssueType, "Please pick a number between 1 and %d.", len(types.AllComplaintTypes))
		}
		d.IssueType = string(types.AllComplaintTypes[n-1])
		return true, nil
	}
	if ct, ok := types.ParseComplaintType(strings.ReplaceAll(t, " ", "_")); ok {
		d.IssueType = string(ct)
		return true, nil
	}
	if ct, ok := issueFromKeywords(t); ok {
		d.IssueType = string(ct)
		return true, nil
	}
	return false, ErrValidation(slotIssueType, "I didn't recognize that issue type. Please pick one of the listed options, or reply with its number.")
}

// issueFromKeywords maps informal phrasing onto the issue enum.
func issueFromKeywords(t string) (types.ComplaintType, bool) {
	switch {
	case strings.Contains(t, "quality") || strings.Contains(t, "bad service") || strings.Contains(t, "poor"):
		return types.ComplaintServiceQuality, true
	case strings.Contains(t, "behav") || strings.Contains(t, "rude") || strings.Contains(t, "technician") || strings.Contains(t, "professional"):
		return types.ComplaintProviderBehavior, true
	case strings.Contains(t, "bill") || strings.Contains(t, "charge") || strings.Contains(t, "payment") || strings.Contains(t, "overcharg"):
		return types.ComplaintBilling, true
	case strings.Contains(t, "late") || strings.Contains(t, "delay") || strings.Contains(t, "waiting"):
		return types.ComplaintDelay, true
	case strings.Contains(t, "cancel"):
		return types.ComplaintCancellationIssue, true
	case strings.Contains(t, "refund") || strings.Contains(t, "money back"):
		return types.ComplaintRefundIssue, true
	case strings.Contains(t, "other") || strings.Contains(t, "something else"):
		return types.ComplaintOther, true
	}
	return "", false
}

func (m *ComplaintMachine) extractRelatedBooking(ctx context.Context, ws types.WorkflowState, turn Turn, pending bool) (bool, error) {
	d := ws.(*types.ComplaintDraft)

	if id, ok := types.EntityInt64(turn.Entities, types.EntityBookingID); ok {
		return m.linkBooking(ctx, d, id, turn.UserRef)
	}
	if !pending {
		return false, nil
	}
	t := strings.TrimSpace(turn.Text)
	if isDecline(t) || strings.Contains(strings.ToLower(t), "not about") || strings.Contains(strings.ToLower(t), "general") {
		d.BookingSkipped = true
		return true, nil
	}
	if n, ok := bareNumber(t); ok {
		return m.linkBooking(ctx, d, n, turn.UserRef)
	}
	return false, nil
}

func (m *ComplaintMachine) linkBooking(ctx context.Context, d *types.ComplaintDraft, id, userRef int64) (bool, error) {
	b, err := m.bookings.GetByID(ctx, id)
	if err != nil {
		if isMissingRow(err) {
			return false, ErrValidation(slotRelatedBooking, "I couldn't find that booking. Reply \"none\" if this isn't about a specific booking.")
		}
		return false, err
	}
	if b.UserRef != userRef {
		return false, ErrValidation(slotRelatedBooking, "I couldn't find that booking. Reply \"none\" if this isn't about a specific booking.")
	}
	d.RelatedBookingID = id
	return true, nil
}

func (m *ComplaintMachine) extractDescription(ctx context.Context, ws types.WorkflowState, turn Turn, pending bool) (bool, error) {
	d := ws.(*types.ComplaintDraft)
	if !pending {
		return false, nil
	}
	text := strings.TrimSpace(turn.Text)
	if text == "" {
		return false, nil
	}
	if utf8.RuneCountInString(text) < minDescriptionChars {
		return false, ErrValidation(slotDescription, "Could you describe the issue in a bit more detail? A sentence or two helps us route it to the right team.")
	}
	d.Description = text
	return true, nil
}
