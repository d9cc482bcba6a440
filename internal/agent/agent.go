// Package agent houses the specialist handlers the coordinator dispatches
// turns to. Each agent owns one conversational competence: bookings and
// cancellations, complaints, catalog discovery, grounded policy answers.
// Agents receive the classified turn plus any in-flight workflow state and
// return a single AgentOutcome; they never append conversation history and
// they never let an error escape past the outcome.
package agent

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"convergeai/internal/types"
	"convergeai/internal/workflow"
)

// =============================================================================
// TURN CONTRACT
// =============================================================================

// TurnContext is everything an agent may consult for one turn. Workflow is
// the stored draft from the session, nil when no transaction is in flight.
type TurnContext struct {
	Session        *types.Session
	UserRef        int64
	Text           string
	Classification types.Classification
	Workflow       types.WorkflowState
	History        []types.ConversationMessage
}

// Handler is one specialist agent.
type Handler interface {
	Name() string
	Handle(ctx context.Context, turn TurnContext) types.AgentOutcome
}

// =============================================================================
// DISPATCH
// =============================================================================

// Runtime maps classified intents and in-flight workflows to their owning
// agents. Greeting and other intents have no entry: the coordinator answers
// those itself without involving an agent.
type Runtime struct {
	byIntent   map[types.Intent]Handler
	byWorkflow map[types.WorkflowKind]Handler
}

func NewRuntime(booking *BookingAgent, complaint *ComplaintAgent, discovery *DiscoveryAgent, policy *PolicyAgent) *Runtime {
	return &Runtime{
		byIntent: map[types.Intent]Handler{
			types.IntentBooking:        booking,
			types.IntentReschedule:     booking,
			types.IntentCancellation:   booking,
			types.IntentStatusInquiry:  booking,
			types.IntentComplaint:      complaint,
			types.IntentServiceInquiry: discovery,
			types.IntentPriceInquiry:   discovery,
			types.IntentPolicyInquiry:  policy,
		},
		byWorkflow: map[types.WorkflowKind]Handler{
			types.WorkflowBooking:      booking,
			types.WorkflowCancellation: booking,
			types.WorkflowReschedule:   booking,
			types.WorkflowComplaint:    complaint,
		},
	}
}

// ForIntent returns the agent owning an intent, or false for the intents the
// coordinator handles internally.
func (r *Runtime) ForIntent(in types.Intent) (Handler, bool) {
	h, ok := r.byIntent[in]
	return h, ok
}

// ForWorkflow returns the agent that owns an in-flight draft. Workflow turns
// bypass intent classification, so this is keyed on the draft kind.
func (r *Runtime) ForWorkflow(kind types.WorkflowKind) (Handler, bool) {
	h, ok := r.byWorkflow[kind]
	return h, ok
}

// =============================================================================
// SHARED HELPERS
// =============================================================================

// wfTurn adapts a coordinator turn to the workflow engine's input shape.
func wfTurn(turn TurnContext) workflow.Turn {
	return workflow.Turn{
		UserRef:  turn.UserRef,
		Text:     turn.Text,
		Entities: turn.Classification.Entities,
	}
}

// failedTurn wraps an error into an outcome that leaves the stored workflow
// untouched. The coordinator derives the apology reply from the error kind.
func failedTurn(turn TurnContext, err error) types.AgentOutcome {
	return types.AgentOutcome{
		WorkflowAfter: turn.Workflow,
		ActionTaken:   types.ActionFailed,
		Err:           err,
	}
}

// newToken mints an opaque human-quotable reference like BKG-3F2A9C0B71DE.
// Uniqueness comes from the UUID; the prefix tells staff what they are
// looking at.
func newToken(prefix string) string {
	raw := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return prefix + "-" + raw[:12]
}

func money(d decimal.Decimal) string {
	return "₹" + d.StringFixed(2)
}
