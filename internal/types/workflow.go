package types

import (
	"encoding/json"
	"fmt"
)

// =============================================================================
// WORKFLOW STATE (tagged union)
// =============================================================================
//
// A session holds at most one active workflow. Each variant carries its own
// slot set plus the progress bookkeeping the slot-filling engine needs
// (pending slot, validator strike counter, confirmation attempts). States are
// persisted as tagged JSON: {"kind": "...", "state": {...}} so new variants
// can be added without migrating existing rows.

// WorkflowKind tags a WorkflowState variant.
type WorkflowKind string

const (
	WorkflowBooking      WorkflowKind = "booking"
	WorkflowCancellation WorkflowKind = "cancellation"
	WorkflowComplaint    WorkflowKind = "complaint"
	WorkflowReschedule   WorkflowKind = "reschedule"
)

// WorkflowState is the closed union of workflow drafts. Implementations are
// pointer types; a nil WorkflowState means no active workflow.
type WorkflowState interface {
	// Kind returns the variant tag used for persistence and dispatch.
	Kind() WorkflowKind
	// PendingSlot names the slot the engine is currently prompting for.
	// Empty when the machine has not prompted yet or is at confirmation.
	PendingSlot() string
	// Clone returns a deep copy. The engine mutates only clones so a failed
	// turn can roll back to the pre-turn state by simply not persisting.
	Clone() WorkflowState
}

// BookingDraft gathers the slots needed to commit a booking.
type BookingDraft struct {
	ServiceQuery        string  `json:"service_query,omitempty"`
	SubcategoryID       int64   `json:"subcategory_id,omitempty"`
	RateCardID          int64   `json:"rate_card_id,omitempty"`
	Quantity            int     `json:"quantity,omitempty"`
	AddressID           int64   `json:"address_id,omitempty"`
	PreferredDate       string  `json:"preferred_date,omitempty"` // 2006-01-02
	PreferredTime       string  `json:"preferred_time,omitempty"` // 15:04
	SpecialInstructions *string `json:"special_instructions,omitempty"`

	Confirmed       bool   `json:"confirmed"`
	Pending         string `json:"pending_slot,omitempty"`
	FailedSlot      string `json:"failed_slot,omitempty"`
	FailStreak      int    `json:"fail_streak,omitempty"`
	ConfirmAttempts int    `json:"confirm_attempts,omitempty"`
}

func (d *BookingDraft) Kind() WorkflowKind { return WorkflowBooking }
func (d *BookingDraft) PendingSlot() string {
	return d.Pending
}
func (d *BookingDraft) Clone() WorkflowState {
	cp := *d
	if d.SpecialInstructions != nil {
		v := *d.SpecialInstructions
		cp.SpecialInstructions = &v
	}
	return &cp
}

// CancellationDraft gathers the slots needed to cancel a booking.
type CancellationDraft struct {
	BookingID  int64  `json:"booking_id,omitempty"`
	Reason     string `json:"reason,omitempty"`
	RefundMode string `json:"refund_mode,omitempty"` // original | wallet

	Confirmed       bool   `json:"confirmed"`
	Pending         string `json:"pending_slot,omitempty"`
	FailedSlot      string `json:"failed_slot,omitempty"`
	FailStreak      int    `json:"fail_streak,omitempty"`
	ConfirmAttempts int    `json:"confirm_attempts,omitempty"`
}

func (d *CancellationDraft) Kind() WorkflowKind { return WorkflowCancellation }
func (d *CancellationDraft) PendingSlot() string {
	return d.Pending
}
func (d *CancellationDraft) Clone() WorkflowState {
	cp := *d
	return &cp
}

// ComplaintDraft gathers the slots needed to register a complaint.
type ComplaintDraft struct {
	IssueType        string `json:"issue_type,omitempty"`
	RelatedBookingID int64  `json:"related_booking_id,omitempty"`
	BookingSkipped   bool   `json:"booking_skipped,omitempty"`
	Description      string `json:"description,omitempty"`
	Severity         string `json:"severity,omitempty"`

	Confirmed       bool   `json:"confirmed"`
	Pending         string `json:"pending_slot,omitempty"`
	FailedSlot      string `json:"failed_slot,omitempty"`
	FailStreak      int    `json:"fail_streak,omitempty"`
	ConfirmAttempts int    `json:"confirm_attempts,omitempty"`
}

func (d *ComplaintDraft) Kind() WorkflowKind { return WorkflowComplaint }
func (d *ComplaintDraft) PendingSlot() string {
	return d.Pending
}
func (d *ComplaintDraft) Clone() WorkflowState {
	cp := *d
	return &cp
}

// RescheduleDraft exists for persistence compatibility. Reschedule commits
// are not supported; the booking agent answers reschedule intents with a
// "not supported" reply and never activates this machine.
type RescheduleDraft struct {
	BookingID int64  `json:"booking_id,omitempty"`
	NewDate   string `json:"new_date,omitempty"`
	NewTime   string `json:"new_time,omitempty"`

	Confirmed       bool   `json:"confirmed"`
	Pending         string `json:"pending_slot,omitempty"`
	FailedSlot      string `json:"failed_slot,omitempty"`
	FailStreak      int    `json:"fail_streak,omitempty"`
	ConfirmAttempts int    `json:"confirm_attempts,omitempty"`
}

func (d *RescheduleDraft) Kind() WorkflowKind { return WorkflowReschedule }
func (d *RescheduleDraft) PendingSlot() string {
	return d.Pending
}
func (d *RescheduleDraft) Clone() WorkflowState {
	cp := *d
	return &cp
}

// =============================================================================
// TAGGED JSON CODEC
// =============================================================================

type workflowEnvelope struct {
	Kind  WorkflowKind    `json:"kind"`
	State json.RawMessage `json:"state"`
}

// MarshalWorkflow encodes a workflow state as tagged JSON. A nil state
// encodes as JSON null (callers normally clear the row instead).
func MarshalWorkflow(ws WorkflowState) ([]byte, error) {
	if ws == nil {
		return []byte("null"), nil
	}
	state, err := json.Marshal(ws)
	if err != nil {
		return nil, fmt.Errorf("marshal %s state: %w", ws.Kind(), err)
	}
	return json.Marshal(workflowEnvelope{Kind: ws.Kind(), State: state})
}

// UnmarshalWorkflow decodes tagged JSON produced by MarshalWorkflow.
// Returns (nil, nil) for empty or null input.
func UnmarshalWorkflow(data []byte) (WorkflowState, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var env workflowEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode workflow envelope: %w", err)
	}

	var ws WorkflowState
	switch env.Kind {
	case WorkflowBooking:
		ws = &BookingDraft{}
	case WorkflowCancellation:
		ws = &CancellationDraft{}
	case WorkflowComplaint:
		ws = &ComplaintDraft{}
	case WorkflowReschedule:
		ws = &RescheduleDraft{}
	default:
		return nil, fmt.Errorf("%w: unknown workflow kind %q", ErrWorkflowSlotOrder, env.Kind)
	}
	if err := json.Unmarshal(env.State, ws); err != nil {
		return nil, fmt.Errorf("decode %s state: %w", env.Kind, err)
	}
	return ws, nil
}

// CloneWorkflow is a nil-safe Clone.
func CloneWorkflow(ws WorkflowState) WorkflowState {
	if ws == nil {
		return nil
	}
	return ws.Clone()
}
