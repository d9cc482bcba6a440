package types

// =============================================================================
// AGENT CONTRACT
// =============================================================================

// Common ActionTaken labels. Agents may emit others; these are the ones the
// coordinator and tests key on.
const (
	ActionCannedReply       = "canned_reply"
	ActionWorkflowPrompt    = "workflow_prompt"
	ActionWorkflowAborted   = "workflow_aborted"
	ActionWorkflowCancelled = "workflow_cancelled"
	ActionBookingCommitted  = "booking_committed"
	ActionBookingCancelled  = "booking_cancelled"
	ActionComplaintFiled    = "complaint_filed"
	ActionStatusReport      = "status_report"
	ActionCatalogBrowse     = "catalog_browse"
	ActionPolicyAnswer      = "policy_answer"
	ActionPolicyRefusal     = "policy_refusal"
	ActionNotSupported      = "not_supported"
	ActionFailed            = "failed"
)

// AgentOutcome is the uniform result every specialist agent returns.
// WorkflowAfter always carries the desired post-turn workflow state; nil
// means no active workflow after this turn. Err, when non-nil, marks the
// outcome failed; its Kind drives the coordinator's reply template. Write
// side effects are committed only on explicit confirmation turns.
type AgentOutcome struct {
	ReplyText      string
	WorkflowAfter  WorkflowState
	ActionTaken    string
	Metadata       map[string]any
	AgentTrace     []string
	Provenance     []Provenance
	GroundingScore *float64
	Err            error
}

// Failed reports whether the agent could not produce a normal reply.
func (o AgentOutcome) Failed() bool { return o.Err != nil }

// ErrKind classifies the outcome's error, KindNone when successful.
func (o AgentOutcome) ErrKind() Kind { return KindOf(o.Err) }

// WithTrace appends a trace step and returns the outcome for chaining.
func (o AgentOutcome) WithTrace(step string) AgentOutcome {
	o.AgentTrace = append(o.AgentTrace, step)
	return o
}
