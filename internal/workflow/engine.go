// Package workflow runs the slot-filling state machines behind
// conversational transactions. One machine exists per draft variant; the
// engine owns the shared turn loop: extract every slot it can from the
// utterance, validate, reprompt on failure, confirm before commit. The
// engine never persists anything; it returns the post-turn state and the
// caller decides whether the turn deserves to be saved.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"convergeai/internal/logging"
	"convergeai/internal/perception"
	"convergeai/internal/types"
)

// SlotConfirm is the sentinel pending-slot name while the machine waits for
// the user to approve the confirmation summary.
const SlotConfirm = "confirm"

// maxSlotStrikes aborts the workflow after this many consecutive validator
// failures on the same slot.
const maxSlotStrikes = 3

// affirmatives are the accepted confirmation tokens, matched case-insensitive
// against the whole trimmed utterance.
var affirmatives = map[string]struct{}{
	"yes": {}, "y": {}, "confirm": {}, "ok": {}, "sure": {}, "go ahead": {},
}

// =============================================================================
// TURN CONTRACT
// =============================================================================

// Turn is one user utterance plus what perception already extracted from it.
type Turn struct {
	UserRef  int64
	Text     string
	Entities map[string]any
}

// Disposition says how the engine left the workflow after a turn.
type Disposition string

const (
	// Prompted: the machine asked for the next slot, a correction, or the
	// confirmation; the returned state must be persisted.
	Prompted Disposition = "prompted"
	// ConfirmedDraft: the user approved the summary; the returned state is
	// the completed draft and the owning agent should commit it.
	ConfirmedDraft Disposition = "confirmed"
	// CancelledDraft: the user backed out; the draft is discarded.
	CancelledDraft Disposition = "cancelled"
	// AbortedDraft: strikes or confirmation attempts ran out; discarded.
	AbortedDraft Disposition = "aborted"
)

// Result is the outcome of advancing a workflow by one turn.
type Result struct {
	Disposition Disposition
	Reply       string
	// State is the post-turn draft for Prompted and ConfirmedDraft, nil for
	// CancelledDraft and AbortedDraft.
	State types.WorkflowState
	// Filled lists slot names the turn filled, in machine order.
	Filled []string
}

// ValidationError rejects an extracted slot value with a user-facing reason.
// The engine turns it into a targeted reprompt and a strike; any other error
// from an extractor propagates as a turn failure.
type ValidationError struct {
	Slot   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("slot %s: %s", e.Slot, e.Reason)
}

// ErrValidation builds a ValidationError.
func ErrValidation(slot, format string, args ...interface{}) error {
	return &ValidationError{Slot: slot, Reason: fmt.Sprintf(format, args...)}
}

// =============================================================================
// MACHINE CONTRACT
// =============================================================================

// Slot is one piece of information a machine gathers. Extract runs whenever
// the slot is unset; pending is true when the machine's last reply prompted
// for exactly this slot, which licenses reading the whole utterance as the
// answer instead of only explicit entities.
type Slot struct {
	Name    string
	Filled  func(ws types.WorkflowState) bool
	Extract func(ctx context.Context, ws types.WorkflowState, turn Turn, pending bool) (bool, error)
	Prompt  func(ctx context.Context, ws types.WorkflowState) string
}

// Machine declares the slots and confirmation summary for one draft variant.
type Machine interface {
	Kind() types.WorkflowKind
	Slots() []Slot
	// Summary renders the pre-commit confirmation text for a draft whose
	// required slots are all filled.
	Summary(ctx context.Context, ws types.WorkflowState, userRef int64) string
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine advances any registered machine by one turn.
type Engine struct {
	machines map[types.WorkflowKind]Machine
}

// NewEngine registers the given machines.
func NewEngine(machines ...Machine) *Engine {
	m := make(map[types.WorkflowKind]Machine, len(machines))
	for _, mach := range machines {
		m[mach.Kind()] = mach
	}
	return &Engine{machines: m}
}

// Advance runs one turn against the active draft. The input state is never
// mutated; the returned Result carries a clone, so a caller that hits an
// error later in the turn can keep the stored state untouched.
func (e *Engine) Advance(ctx context.Context, ws types.WorkflowState, turn Turn) (Result, error) {
	if ws == nil {
		return Result{}, types.WithKind(types.KindInvariant, errors.New("advance called with no active workflow"))
	}
	m, ok := e.machines[ws.Kind()]
	if !ok {
		return Result{}, types.WithKind(types.KindInvariant, fmt.Errorf("no machine for workflow kind %q", ws.Kind()))
	}

	draft := ws.Clone()
	bk := bookkeepingOf(draft)
	if bk == nil {
		return Result{}, types.WithKind(types.KindInvariant, fmt.Errorf("unknown draft type %T", draft))
	}

	if *bk.Pending == SlotConfirm {
		return e.confirmTurn(ctx, m, draft, bk, turn), nil
	}

	// Multi-slot extraction to a fixed point: a slot filled late in one pass
	// can unlock extraction for an earlier one on the next.
	var filled []string
	for {
		progress := false
		for _, s := range m.Slots() {
			if s.Filled(draft) {
				continue
			}
			got, err := s.Extract(ctx, draft, turn, s.Name == *bk.Pending)
			var verr *ValidationError
			if errors.As(err, &verr) {
				return e.rejectSlot(m, draft, bk, s, verr)
			}
			if err != nil {
				return Result{}, err
			}
			if got {
				filled = append(filled, s.Name)
				progress = true
				if *bk.FailedSlot == s.Name {
					*bk.FailedSlot = ""
					*bk.FailStreak = 0
				}
			}
		}
		if !progress {
			break
		}
	}

	// Prompt the first still-unset slot, or move to confirmation.
	for _, s := range m.Slots() {
		if s.Filled(draft) {
			continue
		}
		reply := s.Prompt(ctx, draft)
		if len(filled) == 0 && *bk.Pending == s.Name && strings.TrimSpace(turn.Text) != "" {
			reply = "Sorry, I didn't catch that. " + reply
		}
		*bk.Pending = s.Name
		logging.WorkflowDebug("%s: prompting %s (filled this turn: %v)", m.Kind(), s.Name, filled)
		return Result{Disposition: Prompted, Reply: reply, State: draft, Filled: filled}, nil
	}

	*bk.Pending = SlotConfirm
	logging.Workflow("%s: all slots filled, asking for confirmation", m.Kind())
	return Result{Disposition: Prompted, Reply: m.Summary(ctx, draft, turn.UserRef), State: draft, Filled: filled}, nil
}

// confirmTurn handles the reply to a confirmation summary: an affirmative
// token commits, a cancellation discards, anything else re-asks once and then
// aborts.
func (e *Engine) confirmTurn(ctx context.Context, m Machine, draft types.WorkflowState, bk *bookkeeping, turn Turn) Result {
	if isAffirmative(turn.Text) {
		*bk.Confirmed = true
		*bk.Pending = ""
		logging.Workflow("%s: draft confirmed", m.Kind())
		return Result{Disposition: ConfirmedDraft, State: draft}
	}
	if perception.IsWorkflowCancellation(turn.Text) {
		logging.Workflow("%s: draft discarded at confirmation", m.Kind())
		return Result{
			Disposition: CancelledDraft,
			Reply:       "Okay, I've discarded that request. Is there anything else I can help you with?",
		}
	}

	*bk.ConfirmAttempts++
	if *bk.ConfirmAttempts >= 2 {
		logging.Workflow("%s: confirmation attempts exhausted, aborting", m.Kind())
		return Result{
			Disposition: AbortedDraft,
			Reply:       "I didn't get a confirmation, so I've cleared that request. We can start over whenever you're ready.",
		}
	}
	return Result{
		Disposition: Prompted,
		Reply:       "Please reply \"yes\" to proceed or \"cancel\" to discard.\n\n" + m.Summary(ctx, draft, turn.UserRef),
		State:       draft,
	}
}

// rejectSlot books a validator strike and either reprompts with the reason or
// aborts after the third consecutive failure on the same slot.
func (e *Engine) rejectSlot(m Machine, draft types.WorkflowState, bk *bookkeeping, s Slot, verr *ValidationError) (Result, error) {
	if *bk.FailedSlot == s.Name {
		*bk.FailStreak++
	} else {
		*bk.FailedSlot = s.Name
		*bk.FailStreak = 1
	}
	logging.Workflow("%s: slot %s rejected (%d/%d): %s", m.Kind(), s.Name, *bk.FailStreak, maxSlotStrikes, verr.Reason)

	if *bk.FailStreak >= maxSlotStrikes {
		return Result{
			Disposition: AbortedDraft,
			Reply:       "I'm having trouble with that, so let's try again later. I've cleared the request for now.",
		}, nil
	}
	*bk.Pending = s.Name
	return Result{Disposition: Prompted, Reply: verr.Reason, State: draft}, nil
}

// isAffirmative matches the trimmed, lowercased utterance against the
// accepted confirmation tokens. Trailing punctuation is forgiven; extra words
// are not.
func isAffirmative(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	t = strings.TrimRight(t, ".!?")
	t = strings.Join(strings.Fields(t), " ")
	_, ok := affirmatives[t]
	return ok
}

// =============================================================================
// DRAFT BOOKKEEPING
// =============================================================================

// bookkeeping exposes the progress fields every draft variant carries.
type bookkeeping struct {
	Pending         *string
	FailedSlot      *string
	FailStreak      *int
	ConfirmAttempts *int
	Confirmed       *bool
}

func bookkeepingOf(ws types.WorkflowState) *bookkeeping {
	switch d := ws.(type) {
	case *types.BookingDraft:
		return &bookkeeping{&d.Pending, &d.FailedSlot, &d.FailStreak, &d.ConfirmAttempts, &d.Confirmed}
	case *types.CancellationDraft:
		return &bookkeeping{&d.Pending, &d.FailedSlot, &d.FailStreak, &d.ConfirmAttempts, &d.Confirmed}
	case *types.ComplaintDraft:
		return &bookkeeping{&d.Pending, &d.FailedSlot, &d.FailStreak, &d.ConfirmAttempts, &d.Confirmed}
	case *types.RescheduleDraft:
		return &bookkeeping{&d.Pending, &d.FailedSlot, &d.FailStreak, &d.ConfirmAttempts, &d.Confirmed}
	default:
		return nil
	}
}
