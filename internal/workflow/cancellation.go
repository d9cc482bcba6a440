package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"convergeai/internal/config"
	"convergeai/internal/types"
)

const (
	slotBookingRef = "booking_id"
	slotReason     = "reason"
)

// CancellationMachine identifies which booking to cancel and why. The refund
// preview in the confirmation summary comes from the policy refund schedule
// keyed on hours until the scheduled visit; the actual cancellation is the
// booking agent's commit.
type CancellationMachine struct {
	bookings types.BookingRepo
	refund   func() config.RefundSchedule
	now      func() time.Time
	slots    []Slot
}

// NewCancellationMachine wires the cancellation machine. refund may be nil
// when no policy is loaded; the summary then skips the preview.
func NewCancellationMachine(bookings types.BookingRepo, refund func() config.RefundSchedule, now func() time.Time) *CancellationMachine {
	if now == nil {
		now = time.Now
	}
	m := &CancellationMachine{bookings: bookings, refund: refund, now: now}
	m.slots = []Slot{
		{
			Name:    slotBookingRef,
			Filled:  func(ws types.WorkflowState) bool { return ws.(*types.CancellationDraft).BookingID != 0 },
			Extract: m.extractBooking,
			Prompt: func(ctx context.Context, ws types.WorkflowState) string {
				return "Which booking would you like to cancel? Share the booking id, or say \"latest\"."
			},
		},
		{
			Name:    slotReason,
			Filled:  func(ws types.WorkflowState) bool { return ws.(*types.CancellationDraft).Reason != "" },
			Extract: m.extractReason,
			Prompt: func(ctx context.Context, ws types.WorkflowState) string {
				return "Could you tell me why you're cancelling? This helps us improve."
			},
		},
	}
	return m
}

func (m *CancellationMachine) Kind() types.WorkflowKind { return types.WorkflowCancellation }
func (m *CancellationMachine) Slots() []Slot            { return m.slots }

// Summary previews the refund so the user confirms with the consequences in
// front of them.
func (m *CancellationMachine) Summary(ctx context.Context, ws types.WorkflowState, userRef int64) string {
	d := ws.(*types.CancellationDraft)

	ref := fmt.Sprintf("booking #%d", d.BookingID)
	refundLine := ""
	if b, err := m.bookings.GetByID(ctx, d.BookingID); err == nil {
		ref = fmt.Sprintf("booking %s (scheduled %s at %s)", b.BookingNumber, b.PreferredDate, b.PreferredTime)
		if m.refund != nil {
			pct := m.refund().Percent(HoursUntil(b, m.now()))
			refundLine = fmt.Sprintf("\n  Refund: %d%% of %s per our cancellation policy", pct, formatMoney(b.Total))
		}
	}
	return fmt.Sprintf(
		"You're cancelling %s.\n  Reason: %s%s\nShall I go ahead? (yes/no)",
		ref, d.Reason, refundLine)
}

// HoursUntil computes hours between now and the booking's scheduled start.
// Past or unparseable schedules count as zero hours (no refund band).
func HoursUntil(b *types.Booking, now time.Time) float64 {
	at, err := time.Parse("2006-01-02 15:04", b.PreferredDate+" "+b.PreferredTime)
	if err != nil {
		return 0
	}
	h := at.Sub(now).Hours()
	if h < 0 {
		return 0
	}
	return h
}

func (m *CancellationMachine) extractBooking(ctx context.Context, ws types.WorkflowState, turn Turn, pending bool) (bool, error) {
	d := ws.(*types.CancellationDraft)

	id, ok := types.EntityInt64(turn.Entities, types.EntityBookingID)
	if !ok {
		if !pending {
			return false, nil
		}
		if n, numeric := bareNumber(turn.Text); numeric {
			id = n
		} else if mentionsLatest(turn.Text) {
			latest, err := m.latestCancellable(ctx, turn.UserRef)
			if err != nil {
				return false, err
			}
			id = latest
		} else {
			return false, nil
		}
	}

	b, err := m.bookings.GetByID(ctx, id)
	if err != nil {
		if isMissingRow(err) {
			return false, ErrValidation(slotBookingRef, "I couldn't find that booking. Could you check the booking id?")
		}
		return false, err
	}
	// An id belonging to someone else reads the same as a missing one.
	if b.UserRef != turn.UserRef {
		return false, ErrValidation(slotBookingRef, "I couldn't find that booking. Could you check the booking id?")
	}
	if !b.Status.Cancellable() {
		return false, ErrValidation(slotBookingRef, "Booking %s is already %s and can't be cancelled.", b.BookingNumber, b.Status)
	}
	d.BookingID = id
	return true, nil
}

func (m *CancellationMachine) latestCancellable(ctx context.Context, userRef int64) (int64, error) {
	list, err := m.bookings.ListForUser(ctx, userRef, 10)
	if err != nil {
		return 0, err
	}
	for _, b := range list {
		if b.Status.Cancellable() {
			return b.ID, nil
		}
	}
	return 0, ErrValidation(slotBookingRef, "I couldn't find an active booking to cancel on your account.")
}

func mentionsLatest(text string) bool {
	t := strings.ToLower(text)
	return strings.Contains(t, "latest") || strings.Contains(t, "last") || strings.Contains(t, "recent")
}

func (m *CancellationMachine) extractReason(ctx context.Context, ws types.WorkflowState, turn Turn, pending bool) (bool, error) {
	d := ws.(*types.CancellationDraft)
	if !pending {
		return false, nil
	}
	text := strings.TrimSpace(turn.Text)
	if text == "" {
		return false, nil
	}
	if isDecline(text) {
		text = "not specified"
	}
	d.Reason = text
	return true, nil
}
