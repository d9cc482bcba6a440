package workflow

import (
	"context"
	"strings"
	"testing"

	"convergeai/internal/types"
)

// scriptMachine exercises the engine loop without catalog plumbing. It stores
// into BookingDraft fields: ServiceQuery holds slot "color", PreferredDate
// holds slot "size". "size" only extracts once "color" is set, which forces
// the fixed-point pass. The token "bad" fails validation on either slot.
type scriptMachine struct {
	slots []Slot
}

func newScriptMachine() *scriptMachine {
	m := &scriptMachine{}
	m.slots = []Slot{
		{
			Name:   "color",
			Filled: func(ws types.WorkflowState) bool { return ws.(*types.BookingDraft).ServiceQuery != "" },
			Extract: func(ctx context.Context, ws types.WorkflowState, turn Turn, pending bool) (bool, error) {
				d := ws.(*types.BookingDraft)
				for _, f := range strings.Fields(turn.Text) {
					if f == "bad" {
						return false, ErrValidation("color", "That color won't work, pick another.")
					}
					if strings.HasPrefix(f, "color:") {
						d.ServiceQuery = strings.TrimPrefix(f, "color:")
						return true, nil
					}
				}
				return false, nil
			},
			Prompt: func(ctx context.Context, ws types.WorkflowState) string { return "Which color?" },
		},
		{
			Name:   "size",
			Filled: func(ws types.WorkflowState) bool { return ws.(*types.BookingDraft).PreferredDate != "" },
			Extract: func(ctx context.Context, ws types.WorkflowState, turn Turn, pending bool) (bool, error) {
				d := ws.(*types.BookingDraft)
				if d.ServiceQuery == "" {
					return false, nil
				}
				for _, f := range strings.Fields(turn.Text) {
					if f == "bad" {
						return false, ErrValidation("size", "That size won't work, pick another.")
					}
					if strings.HasPrefix(f, "size:") {
						d.PreferredDate = strings.TrimPrefix(f, "size:")
						return true, nil
					}
				}
				return false, nil
			},
			Prompt: func(ctx context.Context, ws types.WorkflowState) string { return "Which size?" },
		},
	}
	return m
}

func (m *scriptMachine) Kind() types.WorkflowKind { return types.WorkflowBooking }
func (m *scriptMachine) Slots() []Slot            { return m.slots }
func (m *scriptMachine) Summary(ctx context.Context, ws types.WorkflowState, userRef int64) string {
	d := ws.(*types.BookingDraft)
	return "Order " + d.ServiceQuery + "/" + d.PreferredDate + "? (yes/no)"
}

func advanceText(t *testing.T, e *Engine, ws types.WorkflowState, text string) Result {
	t.Helper()
	res, err := e.Advance(context.Background(), ws, Turn{UserRef: 7, Text: text})
	if err != nil {
		t.Fatalf("Advance(%q): %v", text, err)
	}
	return res
}

func TestAdvanceFixedPointFillsDependentSlots(t *testing.T) {
	e := NewEngine(newScriptMachine())

	// size only extracts after color is set; one utterance carries both.
	res := advanceText(t, e, &types.BookingDraft{}, "size:xl color:red")
	if res.Disposition != Prompted {
		t.Fatalf("disposition = %s, want prompted", res.Disposition)
	}
	if len(res.Filled) != 2 || res.Filled[0] != "color" || res.Filled[1] != "size" {
		t.Errorf("filled = %v, want [color size]", res.Filled)
	}
	if res.State.PendingSlot() != SlotConfirm {
		t.Errorf("pending = %q, want confirmation", res.State.PendingSlot())
	}
	if !strings.Contains(res.Reply, "Order red/xl") {
		t.Errorf("reply = %q, want the confirmation summary", res.Reply)
	}
}

func TestAdvancePromptsFirstUnsetSlot(t *testing.T) {
	e := NewEngine(newScriptMachine())

	res := advanceText(t, e, &types.BookingDraft{}, "hello there")
	if res.Reply != "Which color?" {
		t.Errorf("reply = %q, want the color prompt", res.Reply)
	}
	if res.State.PendingSlot() != "color" {
		t.Errorf("pending = %q, want color", res.State.PendingSlot())
	}

	// An unparseable answer to the pending prompt gets the gentle prefix.
	res = advanceText(t, e, res.State, "purple-ish")
	if !strings.HasPrefix(res.Reply, "Sorry, I didn't catch that. ") {
		t.Errorf("reply = %q, want a didn't-catch-that reprompt", res.Reply)
	}
}

func TestAdvanceThreeStrikesAborts(t *testing.T) {
	e := NewEngine(newScriptMachine())

	ws := types.WorkflowState(&types.BookingDraft{})
	for i := 1; i <= 2; i++ {
		res := advanceText(t, e, ws, "bad")
		if res.Disposition != Prompted {
			t.Fatalf("strike %d: disposition = %s, want prompted", i, res.Disposition)
		}
		if !strings.Contains(res.Reply, "won't work") {
			t.Errorf("strike %d: reply = %q, want the validation reason", i, res.Reply)
		}
		if got := res.State.(*types.BookingDraft).FailStreak; got != i {
			t.Errorf("strike %d: streak = %d", i, got)
		}
		ws = res.State
	}

	res := advanceText(t, e, ws, "bad")
	if res.Disposition != AbortedDraft {
		t.Fatalf("third strike: disposition = %s, want aborted", res.Disposition)
	}
	if res.State != nil {
		t.Errorf("aborted draft should be cleared, got %+v", res.State)
	}
}

func TestAdvanceStrikeClearsOnSuccess(t *testing.T) {
	e := NewEngine(newScriptMachine())

	res := advanceText(t, e, &types.BookingDraft{}, "bad")
	res = advanceText(t, e, res.State, "color:blue")
	d := res.State.(*types.BookingDraft)
	if d.FailStreak != 0 || d.FailedSlot != "" {
		t.Errorf("streak not cleared after success: slot=%q streak=%d", d.FailedSlot, d.FailStreak)
	}

	// Failing again later starts a fresh count.
	res = advanceText(t, e, res.State, "bad")
	if got := res.State.(*types.BookingDraft).FailStreak; got != 1 {
		t.Errorf("streak = %d after fresh failure, want 1", got)
	}
}

func confirmableState(t *testing.T, e *Engine) types.WorkflowState {
	t.Helper()
	res := advanceText(t, e, &types.BookingDraft{}, "color:red size:xl")
	if res.State.PendingSlot() != SlotConfirm {
		t.Fatalf("setup: pending = %q, want confirmation", res.State.PendingSlot())
	}
	return res.State
}

func TestAdvanceConfirmationAffirmatives(t *testing.T) {
	e := NewEngine(newScriptMachine())

	for _, text := range []string{"yes", "Y", "CONFIRM", "ok", "Sure", "go ahead", "yes!", " go  ahead "} {
		res := advanceText(t, e, confirmableState(t, e), text)
		if res.Disposition != ConfirmedDraft {
			t.Errorf("%q: disposition = %s, want confirmed", text, res.Disposition)
			continue
		}
		if !res.State.(*types.BookingDraft).Confirmed {
			t.Errorf("%q: draft not marked confirmed", text)
		}
	}
}

func TestAdvanceConfirmationReasksOnceThenAborts(t *testing.T) {
	e := NewEngine(newScriptMachine())

	ws := confirmableState(t, e)
	res := advanceText(t, e, ws, "yes please")
	if res.Disposition != Prompted {
		t.Fatalf("first miss: disposition = %s, want prompted", res.Disposition)
	}
	if !strings.Contains(res.Reply, "Order red/xl") {
		t.Errorf("re-ask should repeat the summary, got %q", res.Reply)
	}

	res = advanceText(t, e, res.State, "maybe")
	if res.Disposition != AbortedDraft {
		t.Fatalf("second miss: disposition = %s, want aborted", res.Disposition)
	}
	if res.State != nil {
		t.Errorf("aborted draft should be cleared")
	}
}

func TestAdvanceConfirmationCancelDiscards(t *testing.T) {
	e := NewEngine(newScriptMachine())

	res := advanceText(t, e, confirmableState(t, e), "never mind")
	if res.Disposition != CancelledDraft {
		t.Fatalf("disposition = %s, want cancelled", res.Disposition)
	}
	if res.State != nil {
		t.Errorf("cancelled draft should be cleared")
	}
	if !strings.Contains(res.Reply, "discarded") {
		t.Errorf("reply = %q, want a discard acknowledgement", res.Reply)
	}
}

func TestAdvanceDoesNotMutateInput(t *testing.T) {
	e := NewEngine(newScriptMachine())

	in := &types.BookingDraft{}
	res := advanceText(t, e, in, "color:red")
	if in.ServiceQuery != "" || in.Pending != "" {
		t.Errorf("input draft mutated: %+v", in)
	}
	if res.State.(*types.BookingDraft).ServiceQuery != "red" {
		t.Errorf("returned state missing the extracted slot")
	}
}

func TestAdvanceRejectsUnknownWorkflow(t *testing.T) {
	e := NewEngine(newScriptMachine())

	if _, err := e.Advance(context.Background(), nil, Turn{}); err == nil {
		t.Error("nil workflow accepted")
	}
	_, err := e.Advance(context.Background(), &types.ComplaintDraft{}, Turn{})
	if err == nil {
		t.Fatal("unregistered workflow kind accepted")
	}
	if types.KindOf(err) != types.KindInvariant {
		t.Errorf("kind = %v, want invariant", types.KindOf(err))
	}
}

func TestIsAffirmative(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"yes", true},
		{"  YES.  ", true},
		{"go ahead", true},
		{"ok!", true},
		{"yes please", false},
		{"no", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := isAffirmative(tc.text); got != tc.want {
			t.Errorf("isAffirmative(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}
