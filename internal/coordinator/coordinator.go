// Package coordinator runs the per-turn pipeline: session load, workflow
// short-circuit, intent classification, agent dispatch, and transcript
// persistence. It owns per-session serialization and the whole-turn budget.
// Agents below it never touch the transcript; transports above it never see
// a workflow draft.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"convergeai/internal/agent"
	"convergeai/internal/audit"
	"convergeai/internal/config"
	"convergeai/internal/logging"
	"convergeai/internal/perception"
	"convergeai/internal/types"
)

// Canned replies for the turns no agent owns.
const (
	greetingReply = "Hi! I can help you book home services, check or cancel a booking, file a complaint, or answer questions about our policies. What can I do for you today?"
	fallbackReply = "I'm not sure I understood that. I can help with booking a service, checking your bookings, filing a complaint, or questions about our policies."
	discardReply  = "Okay, I've discarded that request. Is there anything else I can help you with?"
)

// Reply templates for failed outcomes that carry no text of their own.
const (
	transientReply = "I'm having trouble right now, please try again."
	rejectedReply  = "I couldn't complete that request."
)

// Classifier scores an utterance into an intent with extracted entities.
// *perception.Classifier is the production implementation.
type Classifier interface {
	Classify(ctx context.Context, text string) types.Classification
}

// Coordinator drives one conversational turn end to end.
type Coordinator struct {
	sessions   types.SessionRepo
	agents     *agent.Runtime
	classifier Classifier
	cfg        config.Provider
	audit      *audit.Recorder

	locks sessionLocks
	now   func() time.Time
}

// New builds a Coordinator. rec may be nil when auditing is disabled.
func New(sessions types.SessionRepo, agents *agent.Runtime, classifier Classifier, cfg config.Provider, rec *audit.Recorder) *Coordinator {
	return &Coordinator{
		sessions:   sessions,
		agents:     agents,
		classifier: classifier,
		cfg:        cfg,
		audit:      rec,
		locks:      sessionLocks{entries: make(map[string]*sessionLock)},
		now:        time.Now,
	}
}

// HandleTurn runs the pipeline for one inbound turn under the session lock
// and the whole-turn budget. When both the response and the error are
// non-nil, the turn completed conversationally with a transient-failure
// reply and the error's kind tells transports which retryable status to
// map. A nil response with a non-nil error means the turn was aborted with
// nothing persisted beyond the session row itself.
func (c *Coordinator) HandleTurn(ctx context.Context, req types.TurnRequest) (*types.TurnResponse, error) {
	started := c.now()

	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, types.WithKind(types.KindUserInput, errors.New("turn text is empty"))
	}
	if utf8.RuneCountInString(text) > types.MaxTurnTextLen {
		return nil, types.WithKind(types.KindUserInput, fmt.Errorf("turn text exceeds %d characters", types.MaxTurnTextLen))
	}
	channel := req.Channel
	if !types.ValidChannel(channel) {
		channel = types.ChannelWeb
	}

	conf := c.cfg.Current()
	ctx, cancel := context.WithTimeout(ctx, conf.TurnBudget())
	defer cancel()

	// Turns against the same session serialize here; a minted session id is
	// unknown to other callers until we return, so it needs no lock.
	if req.SessionID != "" {
		unlock := c.locks.acquire(req.SessionID)
		defer unlock()
	}

	timer := logging.StartTimer(logging.CategoryCoordinator, "turn")
	defer timer.Stop()

	sess, fresh, err := c.sessions.OpenOrLoad(ctx, req.SessionID, req.UserRef, channel, conf.SessionIdleTimeout())
	if err != nil {
		return nil, err
	}
	if fresh {
		logging.CoordinatorDebug("Turn opened session %s (user=%d channel=%s)", sess.SessionID, sess.UserRef, channel)
	}

	history, err := c.sessions.Recent(ctx, sess.SessionID, conf.HistoryLimit())
	if err != nil {
		return nil, err
	}
	if role, ok := lastSpokenRole(history); ok && role == types.RoleUser {
		detail := "transcript ends on an unanswered user message"
		c.audit.InvariantViolation(ctx, sess.SessionID, detail)
		logging.CoordinatorError("Turn aborted on session %s: %s", sess.SessionID, detail)
		return nil, types.WithKind(types.KindInvariant, errors.New(detail))
	}

	turn := agent.TurnContext{
		Session:  sess,
		UserRef:  sess.UserRef,
		Text:     text,
		Workflow: sess.ActiveWorkflow,
		History:  history,
	}
	outcome, classified := c.route(ctx, &turn)

	kind := outcome.ErrKind()
	if outcome.Failed() {
		logging.CoordinatorError("Session %s: agent failure (%s): %v", sess.SessionID, kind, outcome.Err)
	}
	if kind == types.KindInvariant {
		c.audit.InvariantViolation(ctx, sess.SessionID, outcome.Err.Error())
		return nil, outcome.Err
	}

	// Persist the post-turn draft. On transient failures the stored
	// pre-turn draft stands so the user can simply retry.
	if kind != types.KindUpstream && kind != types.KindDeadline {
		if err := c.sessions.SaveWorkflow(ctx, sess.SessionID, outcome.WorkflowAfter); err != nil {
			return nil, err
		}
	}

	reply := outcome.ReplyText
	if reply == "" {
		reply = kindReply(kind)
	}

	userMsg := &types.ConversationMessage{Role: types.RoleUser, Text: text}
	if classified {
		userMsg.Intent = string(turn.Classification.Intent)
		confidence := turn.Classification.Confidence
		userMsg.IntentConfidence = &confidence
	}
	latency := c.now().Sub(started).Milliseconds()
	assistantMsg := &types.ConversationMessage{
		Role:                types.RoleAssistant,
		Text:                reply,
		AgentTrace:          outcome.AgentTrace,
		RetrievalProvenance: outcome.Provenance,
		GroundingScore:      outcome.GroundingScore,
		LatencyMs:           latency,
	}
	if err := c.sessions.AppendTurn(ctx, sess.SessionID, userMsg, assistantMsg); err != nil {
		return nil, err
	}

	logging.Coordinator("Session %s: %s -> %s (%dms)", sess.SessionID, orDash(userMsg.Intent), orDash(outcome.ActionTaken), latency)

	resp := &types.TurnResponse{
		SessionID:      sess.SessionID,
		UserMsgID:      userMsg.ID,
		AssistantMsgID: assistantMsg.ID,
		ReplyText:      reply,
		Intent:         userMsg.Intent,
		WorkflowActive: workflowActive(outcome, kind, sess.ActiveWorkflow),
		LatencyMs:      latency,
	}
	if kind == types.KindUpstream || kind == types.KindDeadline {
		return resp, outcome.Err
	}
	return resp, nil
}

// route picks the handler for a turn and runs it. The bool reports whether
// the classifier ran, which is false only on turns a workflow machine owns.
func (c *Coordinator) route(ctx context.Context, turn *agent.TurnContext) (types.AgentOutcome, bool) {
	if turn.Workflow != nil {
		if perception.IsWorkflowCancellation(turn.Text) {
			logging.Coordinator("Session %s: %s workflow discarded on cancellation phrase", turn.Session.SessionID, turn.Workflow.Kind())
			// The draft is gone; the utterance still gets classified, so
			// "cancel my booking" mid-workflow routes straight to the
			// cancellation agent instead of making the user repeat it.
			turn.Workflow = nil
			cls := c.classifier.Classify(ctx, turn.Text)
			turn.Classification = cls
			if h, ok := c.agents.ForIntent(cls.Intent); ok {
				out := h.Handle(ctx, *turn)
				out.AgentTrace = append([]string{"workflow discarded on cancellation phrase"}, out.AgentTrace...)
				return out, true
			}
			return types.AgentOutcome{
				ReplyText:   discardReply,
				ActionTaken: types.ActionWorkflowCancelled,
				AgentTrace:  []string{"workflow discarded on cancellation phrase"},
			}, true
		}
		h, ok := c.agents.ForWorkflow(turn.Workflow.Kind())
		if !ok {
			return types.AgentOutcome{
				WorkflowAfter: turn.Workflow,
				ActionTaken:   types.ActionFailed,
				Err:           types.WithKind(types.KindInvariant, fmt.Errorf("no agent owns workflow kind %q", turn.Workflow.Kind())),
			}, false
		}
		// Workflow turns skip classification; the machines still need the
		// deterministic entity pass for dates, times, and quantities.
		turn.Classification = types.Classification{Entities: perception.ExtractEntities(turn.Text, c.now())}
		return h.Handle(ctx, *turn), false
	}

	cls := c.classifier.Classify(ctx, turn.Text)
	turn.Classification = cls
	h, ok := c.agents.ForIntent(cls.Intent)
	if !ok {
		return cannedOutcome(cls.Intent), true
	}
	return h.Handle(ctx, *turn), true
}

// cannedOutcome answers greeting and unrecognized turns without an agent.
func cannedOutcome(in types.Intent) types.AgentOutcome {
	reply := fallbackReply
	if in == types.IntentGreeting {
		reply = greetingReply
	}
	return types.AgentOutcome{
		ReplyText:   reply,
		ActionTaken: types.ActionCannedReply,
		AgentTrace:  []string{"canned reply for " + string(in)},
	}
}

// kindReply fills in a reply for failed outcomes that carry none.
func kindReply(kind types.Kind) string {
	switch kind {
	case types.KindUpstream, types.KindDeadline:
		return transientReply
	default:
		return rejectedReply
	}
}

// workflowActive reports whether a draft is stored after this turn: the
// pre-turn draft for transient failures, the agent's post-turn state
// otherwise.
func workflowActive(outcome types.AgentOutcome, kind types.Kind, before types.WorkflowState) bool {
	if kind == types.KindUpstream || kind == types.KindDeadline {
		return before != nil
	}
	return outcome.WorkflowAfter != nil
}

// lastSpokenRole returns the role of the newest non-system message.
func lastSpokenRole(history []types.ConversationMessage) (types.Role, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role != types.RoleSystem {
			return history[i].Role, true
		}
	}
	return "", false
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// =============================================================================
// PER-SESSION SERIALIZATION
// =============================================================================

// sessionLocks hands out one mutex per in-flight session id. Entries are
// reference counted and dropped on last release, so the map is bounded by
// concurrent turns rather than by session count.
type sessionLocks struct {
	mu      sync.Mutex
	entries map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// acquire blocks until the caller holds the lock for key and returns the
// release func.
func (l *sessionLocks) acquire(key string) func() {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &sessionLock{}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.entries, key)
		}
		l.mu.Unlock()
	}
}
