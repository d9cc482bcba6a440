package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"convergeai/internal/audit"
	"convergeai/internal/catalog"
	"convergeai/internal/config"
	"convergeai/internal/logging"
	"convergeai/internal/resilience"
	"convergeai/internal/types"
	"convergeai/internal/workflow"
)

// statusReportLimit caps how many bookings a status inquiry lists.
const statusReportLimit = 5

// BookingAgent owns the booking and cancellation transactions plus read-only
// status reports. The slot-filling itself lives in the workflow engine; this
// agent starts drafts, relays prompts, and commits confirmed drafts against
// the store.
type BookingAgent struct {
	engine   *workflow.Engine
	catalog  *catalog.Service
	bookings types.BookingRepo
	cfg      config.Provider
	audit    *audit.Recorder
	retry    resilience.RetryConfig
	now      func() time.Time
}

func NewBookingAgent(engine *workflow.Engine, svc *catalog.Service, bookings types.BookingRepo, cfg config.Provider, rec *audit.Recorder, now func() time.Time) *BookingAgent {
	if now == nil {
		now = time.Now
	}
	return &BookingAgent{
		engine:   engine,
		catalog:  svc,
		bookings: bookings,
		cfg:      cfg,
		audit:    rec,
		retry:    resilience.DefaultRetryConfig(),
		now:      now,
	}
}

func (a *BookingAgent) Name() string { return "booking" }

func (a *BookingAgent) Handle(ctx context.Context, turn TurnContext) types.AgentOutcome {
	ws := turn.Workflow
	if ws == nil {
		switch turn.Classification.Intent {
		case types.IntentBooking:
			ws = &types.BookingDraft{}
		case types.IntentCancellation:
			ws = &types.CancellationDraft{}
		case types.IntentReschedule:
			return types.AgentOutcome{
				ReplyText: "I can't reschedule bookings yet. You can cancel this one and " +
					"book a fresh slot, or contact support and they'll move it for you.",
				ActionTaken: types.ActionNotSupported,
			}
		case types.IntentStatusInquiry:
			return a.statusReport(ctx, turn)
		default:
			return failedTurn(turn, types.WithKind(types.KindInvariant,
				fmt.Errorf("booking agent cannot start intent %q", turn.Classification.Intent)))
		}
	}

	res, err := a.engine.Advance(ctx, ws, wfTurn(turn))
	if err != nil {
		return failedTurn(turn, err)
	}

	switch res.Disposition {
	case workflow.ConfirmedDraft:
		switch d := res.State.(type) {
		case *types.BookingDraft:
			return a.commitBooking(ctx, turn, d)
		case *types.CancellationDraft:
			return a.commitCancellation(ctx, turn, d)
		default:
			return failedTurn(turn, types.WithKind(types.KindInvariant,
				fmt.Errorf("booking agent cannot commit %s draft", res.State.Kind())))
		}
	case workflow.CancelledDraft:
		return types.AgentOutcome{
			ReplyText:   res.Reply,
			ActionTaken: types.ActionWorkflowCancelled,
		}.WithTrace("draft discarded by user")
	case workflow.AbortedDraft:
		return types.AgentOutcome{
			ReplyText:   res.Reply,
			ActionTaken: types.ActionWorkflowAborted,
		}.WithTrace("draft aborted after strikes")
	default:
		out := types.AgentOutcome{
			ReplyText:     res.Reply,
			WorkflowAfter: res.State,
			ActionTaken:   types.ActionWorkflowPrompt,
		}
		if len(res.Filled) > 0 {
			out.Metadata = map[string]any{"slots_filled": res.Filled}
		}
		return out
	}
}

// =============================================================================
// BOOKING COMMIT
// =============================================================================

// commitBooking turns a confirmed draft into a persisted booking. Every
// catalog fact is re-read here: the conversation may have outlived a price
// change, a deactivation, or serviceability.
func (a *BookingAgent) commitBooking(ctx context.Context, turn TurnContext, d *types.BookingDraft) types.AgentOutcome {
	sub, err := a.catalog.SubcategoryByID(ctx, d.SubcategoryID)
	if err != nil {
		return a.bookingCommitFailure(ctx, turn, d, err)
	}
	card, err := a.catalog.RateCardByID(ctx, d.RateCardID)
	if err != nil {
		return a.bookingCommitFailure(ctx, turn, d, err)
	}
	if !sub.Active || !card.Active {
		return a.bookingCommitFailure(ctx, turn, d, fmt.Errorf(
			"%w: %s is no longer offered", types.ErrNoServiceableProvider, sub.Name))
	}
	addr, err := a.catalog.AddressByID(ctx, d.AddressID, turn.UserRef)
	if err != nil {
		return a.bookingCommitFailure(ctx, turn, d, err)
	}

	ok, err := a.catalog.IsServiceable(ctx, sub.ID, addr.Pincode)
	if err != nil {
		return a.bookingCommitFailure(ctx, turn, d, err)
	}
	if !ok {
		a.audit.BusinessRuleDenied(ctx, audit.ResourceBooking, 0,
			fmt.Sprintf("no active verified provider for subcategory %d in pincode %s", sub.ID, addr.Pincode))
		return types.AgentOutcome{
			ReplyText: fmt.Sprintf(
				"I'm sorry, %s (%s) is not yet serviced for %s, so I couldn't place this booking. "+
					"Please try again with a different address.", addr.Label, addr.Pincode, sub.Name),
			ActionTaken: types.ActionFailed,
			Err:         fmt.Errorf("%w: pincode %s", types.ErrNoServiceableProvider, addr.Pincode),
		}.WithTrace("serviceability recheck denied")
	}

	qty := d.Quantity
	if qty <= 0 {
		qty = 1
	}
	subtotal := card.Price.Mul(decimal.NewFromInt(int64(qty)))
	from, to := workflow.ScheduleWindow(d.PreferredTime, sub.DefaultDuration)
	instructions := ""
	if d.SpecialInstructions != nil {
		instructions = *d.SpecialInstructions
	}

	// Tokens are minted inside the closure so a retried insert never reuses
	// identifiers from an attempt that may have half-landed.
	var booked *types.Booking
	err = resilience.WithRetry(ctx, a.retry, logging.CategoryAgent, "booking commit", func(ctx context.Context) error {
		b := &types.Booking{
			OrderID:             newToken("ORD"),
			BookingNumber:       newToken("BKG"),
			UserRef:             turn.UserRef,
			AddressRef:          addr.ID,
			Subtotal:            subtotal,
			Total:               subtotal,
			Status:              types.BookingPending,
			PaymentStatus:       types.PaymentUnpaid,
			PreferredDate:       d.PreferredDate,
			PreferredTime:       d.PreferredTime,
			SpecialInstructions: instructions,
		}
		item := &types.BookingItem{
			RateCardID:          card.ID,
			AddressRef:          addr.ID,
			ServiceName:         sub.Name,
			Quantity:            qty,
			UnitPrice:           card.Price,
			TotalAmount:         subtotal,
			FinalAmount:         subtotal,
			ScheduledDate:       d.PreferredDate,
			ScheduledWindowFrom: from,
			ScheduledWindowTo:   to,
			Status:              types.BookingPending,
			PaymentStatus:       types.PaymentUnpaid,
		}
		if cerr := a.bookings.CreateWithItem(ctx, b, item); cerr != nil {
			return cerr
		}
		booked = b
		return nil
	})
	if err != nil {
		return a.bookingCommitFailure(ctx, turn, d, err)
	}

	logging.Agent("booking %s committed for user %d: %s x %d, %s %s",
		booked.BookingNumber, turn.UserRef, sub.Name, qty, d.PreferredDate, from)

	reply := fmt.Sprintf(
		"Your booking is confirmed.\n  Booking number: %s\n  %s x %d\n  Total: %s\n  Scheduled: %s, %s to %s\n"+
			"You'll receive a reminder before the visit.",
		booked.BookingNumber, sub.Name, qty, money(subtotal), d.PreferredDate, from, to)
	return types.AgentOutcome{
		ReplyText:   reply,
		ActionTaken: types.ActionBookingCommitted,
		Metadata: map[string]any{
			"booking_id":     booked.ID,
			"order_id":       booked.OrderID,
			"booking_number": booked.BookingNumber,
			"total":          subtotal.StringFixed(2),
		},
	}.WithTrace("booking committed")
}

// bookingCommitFailure sorts a commit error into the two recovery shapes:
// transient failures park the draft back at the confirmation stage so the
// next "yes" retries, rule failures clear the draft with an explanation.
func (a *BookingAgent) bookingCommitFailure(ctx context.Context, turn TurnContext, d *types.BookingDraft, err error) types.AgentOutcome {
	logging.AgentError("booking commit for user %d: %v", turn.UserRef, err)
	switch types.KindOf(err) {
	case types.KindUpstream, types.KindDeadline:
		d.Confirmed = false
		d.Pending = workflow.SlotConfirm
		d.ConfirmAttempts = 0
		out := failedTurn(turn, err)
		out.WorkflowAfter = d
		return out
	case types.KindBusinessRule, types.KindUserInput:
		a.audit.BusinessRuleDenied(ctx, audit.ResourceBooking, 0, err.Error())
		return types.AgentOutcome{
			ReplyText: "Part of this booking is no longer available, so I couldn't place it. " +
				"Let's start over whenever you're ready.",
			ActionTaken: types.ActionFailed,
			Err:         err,
		}
	default:
		return failedTurn(turn, err)
	}
}

// =============================================================================
// CANCELLATION COMMIT
// =============================================================================

func (a *BookingAgent) commitCancellation(ctx context.Context, turn TurnContext, d *types.CancellationDraft) types.AgentOutcome {
	b, err := a.bookings.GetByID(ctx, d.BookingID)
	if err != nil {
		return a.cancelCommitFailure(ctx, turn, d, nil, err)
	}
	if b.UserRef != turn.UserRef {
		// Mask foreign bookings as missing, same as the slot validator.
		a.audit.BusinessRuleDenied(ctx, audit.ResourceBooking, b.ID,
			fmt.Sprintf("cancel denied: booking belongs to user %d, not %d", b.UserRef, turn.UserRef))
		return a.cancelCommitFailure(ctx, turn, d, b,
			fmt.Errorf("%w: booking %d", types.ErrBookingNotFound, d.BookingID))
	}

	now := a.now()
	err = resilience.WithRetry(ctx, a.retry, logging.CategoryAgent, "booking cancel", func(ctx context.Context) error {
		return a.bookings.Cancel(ctx, d.BookingID, d.Reason, now)
	})
	if err != nil {
		return a.cancelCommitFailure(ctx, turn, d, b, err)
	}

	pct := a.cfg.Current().Policies.Refund.Percent(workflow.HoursUntil(b, now))
	refund := b.Total.Mul(decimal.NewFromInt(int64(pct))).Div(decimal.NewFromInt(100))
	a.audit.BookingCancelled(ctx, b.ID, d.Reason)
	logging.Agent("booking %s cancelled for user %d, refund %d%%", b.BookingNumber, turn.UserRef, pct)

	reply := fmt.Sprintf("Your booking %s has been cancelled. This close to the visit our policy doesn't allow a refund.", b.BookingNumber)
	if pct > 0 {
		reply = fmt.Sprintf("Your booking %s has been cancelled. A %d%% refund of %s will go back to your original payment method within 5 to 7 business days.",
			b.BookingNumber, pct, money(refund))
	}
	return types.AgentOutcome{
		ReplyText:   reply,
		ActionTaken: types.ActionBookingCancelled,
		Metadata: map[string]any{
			"booking_id":     b.ID,
			"refund_percent": pct,
		},
	}.WithTrace("booking cancelled")
}

func (a *BookingAgent) cancelCommitFailure(ctx context.Context, turn TurnContext, d *types.CancellationDraft, b *types.Booking, err error) types.AgentOutcome {
	logging.AgentError("cancellation commit for user %d: %v", turn.UserRef, err)
	switch types.KindOf(err) {
	case types.KindUpstream, types.KindDeadline:
		d.Confirmed = false
		d.Pending = workflow.SlotConfirm
		d.ConfirmAttempts = 0
		out := failedTurn(turn, err)
		out.WorkflowAfter = d
		return out
	case types.KindBusinessRule:
		a.audit.BusinessRuleDenied(ctx, audit.ResourceBooking, d.BookingID, err.Error())
		reply := "That booking can no longer be cancelled, so I've left it as is."
		if b != nil {
			reply = fmt.Sprintf("Booking %s is already %s and can't be cancelled, so I've left it as is.", b.BookingNumber, b.Status)
		}
		return types.AgentOutcome{ReplyText: reply, ActionTaken: types.ActionFailed, Err: err}
	case types.KindUserInput:
		return types.AgentOutcome{
			ReplyText:   "I couldn't find that booking anymore, so nothing was changed.",
			ActionTaken: types.ActionFailed,
			Err:         err,
		}
	default:
		return failedTurn(turn, err)
	}
}

// =============================================================================
// STATUS REPORT
// =============================================================================

// statusReport answers "where is my booking" without a workflow: a read-only
// listing of the user's most recent bookings.
func (a *BookingAgent) statusReport(ctx context.Context, turn TurnContext) types.AgentOutcome {
	list, err := a.bookings.ListForUser(ctx, turn.UserRef, statusReportLimit)
	if err != nil {
		return failedTurn(turn, err)
	}
	if len(list) == 0 {
		return types.AgentOutcome{
			ReplyText:   "You don't have any bookings yet. Would you like to make one?",
			ActionTaken: types.ActionStatusReport,
		}
	}

	var sb strings.Builder
	sb.WriteString("Here are your recent bookings:\n")
	for i, b := range list {
		name := "service"
		if len(b.Items) > 0 {
			name = b.Items[0].ServiceName
		}
		fmt.Fprintf(&sb, "%d. %s: %s on %s at %s (%s)\n",
			i+1, b.BookingNumber, name, b.PreferredDate, b.PreferredTime, b.Status)
	}
	return types.AgentOutcome{
		ReplyText:   strings.TrimRight(sb.String(), "\n"),
		ActionTaken: types.ActionStatusReport,
		Metadata:    map[string]any{"bookings": len(list)},
	}
}
