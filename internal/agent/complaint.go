package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"convergeai/internal/audit"
	"convergeai/internal/config"
	"convergeai/internal/logging"
	"convergeai/internal/perception"
	"convergeai/internal/resilience"
	"convergeai/internal/types"
	"convergeai/internal/workflow"
)

// ComplaintAgent collects complaints through the slot-filling workflow and
// files confirmed drafts as tickets with derived priority and SLA deadlines.
type ComplaintAgent struct {
	engine     *workflow.Engine
	complaints types.ComplaintRepo
	cfg        config.Provider
	audit      *audit.Recorder
	retry      resilience.RetryConfig
	now        func() time.Time
}

func NewComplaintAgent(engine *workflow.Engine, complaints types.ComplaintRepo, cfg config.Provider, rec *audit.Recorder, now func() time.Time) *ComplaintAgent {
	if now == nil {
		now = time.Now
	}
	return &ComplaintAgent{
		engine:     engine,
		complaints: complaints,
		cfg:        cfg,
		audit:      rec,
		retry:      resilience.DefaultRetryConfig(),
		now:        now,
	}
}

func (a *ComplaintAgent) Name() string { return "complaint" }

func (a *ComplaintAgent) Handle(ctx context.Context, turn TurnContext) types.AgentOutcome {
	ws := turn.Workflow
	if ws == nil {
		ws = &types.ComplaintDraft{}
	}

	res, err := a.engine.Advance(ctx, ws, wfTurn(turn))
	if err != nil {
		return failedTurn(turn, err)
	}

	switch res.Disposition {
	case workflow.ConfirmedDraft:
		d, ok := res.State.(*types.ComplaintDraft)
		if !ok {
			return failedTurn(turn, types.WithKind(types.KindInvariant,
				fmt.Errorf("complaint agent cannot commit %s draft", res.State.Kind())))
		}
		return a.commit(ctx, turn, d)
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
// TICKET COMMIT
// =============================================================================

func (a *ComplaintAgent) commit(ctx context.Context, turn TurnContext, d *types.ComplaintDraft) types.AgentOutcome {
	now := a.now()
	issue := types.ComplaintType(d.IssueType)
	sentiment := perception.Sentiment(d.Description)
	priority := derivePriority(issue, d.Description, sentiment)

	responseDue, resolutionDue, err := a.cfg.Current().Policies.Deadlines(priority, now)
	if err != nil {
		// Misconfigured SLA table. Filing without deadlines would create a
		// ticket the scanners can never track, so refuse the turn instead.
		a.audit.BusinessRuleDenied(ctx, audit.ResourceComplaint, 0, err.Error())
		logging.AgentError("complaint commit for user %d: %v", turn.UserRef, err)
		return types.AgentOutcome{
			ReplyText: "I couldn't register this complaint right now. Please contact support " +
				"directly and they'll take it from there.",
			ActionTaken: types.ActionFailed,
			Err:         err,
		}
	}

	var bookingRef *int64
	if !d.BookingSkipped && d.RelatedBookingID > 0 {
		id := d.RelatedBookingID
		bookingRef = &id
	}
	sessionRef := ""
	if turn.Session != nil {
		sessionRef = turn.Session.SessionID
	}

	var filed *types.Complaint
	err = resilience.WithRetry(ctx, a.retry, logging.CategoryAgent, "complaint commit", func(ctx context.Context) error {
		c := &types.Complaint{
			TicketNumber:    newToken("CMP"),
			UserRef:         turn.UserRef,
			BookingRef:      bookingRef,
			SessionRef:      sessionRef,
			Type:            issue,
			Subject:         complaintSubject(issue, d.Description),
			Description:     d.Description,
			Priority:        priority,
			SentimentScore:  sentiment,
			Status:          types.ComplaintOpen,
			ResponseDueAt:   responseDue,
			ResolutionDueAt: resolutionDue,
		}
		if cerr := a.complaints.Create(ctx, c); cerr != nil {
			return cerr
		}
		filed = c
		return nil
	})
	if err != nil {
		logging.AgentError("complaint commit for user %d: %v", turn.UserRef, err)
		if k := types.KindOf(err); k == types.KindUpstream || k == types.KindDeadline {
			d.Confirmed = false
			d.Pending = workflow.SlotConfirm
			d.ConfirmAttempts = 0
			out := failedTurn(turn, err)
			out.WorkflowAfter = d
			return out
		}
		return failedTurn(turn, err)
	}

	// The intake note is best-effort: the ticket already exists, so a failed
	// history append must not fail the turn.
	update := &types.ComplaintUpdate{
		ComplaintID: filed.ID,
		Note:        "complaint registered via conversation",
		StatusAfter: string(types.ComplaintOpen),
	}
	if uerr := a.complaints.AppendUpdate(ctx, update); uerr != nil {
		logging.AgentError("complaint %s: intake update append: %v", filed.TicketNumber, uerr)
	}
	a.audit.ComplaintFiled(ctx, filed)
	logging.Agent("complaint %s filed for user %d: %s priority %s",
		filed.TicketNumber, turn.UserRef, filed.Type, filed.Priority)

	reply := fmt.Sprintf(
		"I've registered your complaint.\n  Ticket: %s\n  Priority: %s\nOur team will respond by %s UTC.",
		filed.TicketNumber, filed.Priority, filed.ResponseDueAt.UTC().Format("2006-01-02 15:04"))
	return types.AgentOutcome{
		ReplyText:   reply,
		ActionTaken: types.ActionComplaintFiled,
		Metadata: map[string]any{
			"complaint_id":  filed.ID,
			"ticket_number": filed.TicketNumber,
			"priority":      string(filed.Priority),
		},
	}.WithTrace("complaint filed")
}

// derivePriority grades a complaint from its issue type, wording, and
// sentiment. Escalations only ever raise the priority, never lower it.
func derivePriority(issue types.ComplaintType, description string, sentiment float64) types.Priority {
	p := types.PriorityMedium
	lower := strings.ToLower(description)

	if strings.Contains(lower, "urgent") || strings.Contains(lower, "immediately") || strings.Contains(lower, "emergency") {
		p = p.Max(types.PriorityHigh)
	}
	if issue == types.ComplaintRefundIssue || (issue == types.ComplaintServiceQuality && sentiment <= -0.5) {
		p = p.Max(types.PriorityHigh)
	}
	if sentiment <= -0.8 || strings.Contains(lower, "legal") {
		p = p.Max(types.PriorityCritical)
	}
	return p
}

// complaintSubject builds the staff-facing one-liner: issue type plus the
// head of the description.
func complaintSubject(issue types.ComplaintType, description string) string {
	head := strings.ReplaceAll(string(issue), "_", " ")
	brief := strings.TrimSpace(description)
	if r := []rune(brief); len(r) > 60 {
		brief = string(r[:57]) + "..."
	}
	return head + ": " + brief
}
