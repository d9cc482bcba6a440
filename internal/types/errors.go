package types

import (
	"context"
	"errors"
	"fmt"
)

// =============================================================================
// ERROR TAXONOMY
// =============================================================================
//
// Errors are classified into kinds, not concrete types. Agents never let an
// error escape past the Coordinator: they return a failed AgentOutcome
// carrying the kind, and the Coordinator maps the kind to a reply template.

// Kind classifies an error for reply mapping and retry policy.
type Kind int

const (
	// KindNone marks a nil or unclassified-success case.
	KindNone Kind = iota
	// KindUserInput covers invalid user-supplied values; surfaced as a
	// natural-language reprompt within the current workflow slot.
	KindUserInput
	// KindBusinessRule covers domain rules that terminate a workflow with a
	// specific reason (no serviceable provider, booking not cancellable).
	KindBusinessRule
	// KindUpstream covers transient collaborator failures (LLM, vector
	// store, embedding, database). Retried once, then surfaced as a
	// transient-failure reply with the workflow draft preserved.
	KindUpstream
	// KindInvariant covers programming errors (role alternation, slot order).
	// The turn aborts, a full trace is logged, and a generic reply returned.
	KindInvariant
	// KindDeadline covers per-call and whole-turn budget expiry.
	KindDeadline
)

func (k Kind) String() string {
	switch k {
	case KindUserInput:
		return "user_input"
	case KindBusinessRule:
		return "business_rule"
	case KindUpstream:
		return "upstream"
	case KindInvariant:
		return "invariant"
	case KindDeadline:
		return "deadline"
	default:
		return "none"
	}
}

// Sentinel errors. Wrap with fmt.Errorf("...: %w", err) to add context;
// KindOf sees through the chain.
var (
	ErrSessionNotFound        = errors.New("session not found")
	ErrRateCardNotFound       = errors.New("rate card not found")
	ErrAddressNotFound        = errors.New("address not found")
	ErrBookingNotFound        = errors.New("booking not found")
	ErrComplaintNotFound      = errors.New("complaint not found")
	ErrAlertNotFound          = errors.New("alert not found")
	ErrNoServiceableProvider  = errors.New("no serviceable provider for pincode")
	ErrBookingNotCancellable  = errors.New("booking is not cancellable")
	ErrSLAPolicyMissing       = errors.New("no SLA policy for complaint priority")
	ErrLLMUnavailable         = errors.New("llm unavailable")
	ErrVectorStoreUnavailable = errors.New("vector store unavailable")
	ErrEmbeddingFailed        = errors.New("embedding failed")
	ErrDatabaseTransient      = errors.New("database transient failure")
	ErrRoleAlternation        = errors.New("conversation role alternation violated")
	ErrWorkflowSlotOrder      = errors.New("workflow slot order violated")
	ErrTurnBudgetExceeded     = errors.New("turn budget exceeded")
	ErrQuotaExceeded          = errors.New("request quota exceeded")
)

// kindError attaches an explicit Kind to an error chain.
type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string { return e.err.Error() }
func (e *kindError) Unwrap() error { return e.err }

// WithKind wraps err so KindOf(err) returns kind. A nil err returns nil.
func WithKind(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: err}
}

// UserInputErr builds a KindUserInput error whose message doubles as the
// reprompt shown to the user.
func UserInputErr(format string, args ...any) error {
	return &kindError{kind: KindUserInput, err: fmt.Errorf(format, args...)}
}

// sentinelKinds maps each sentinel to its kind for classification.
var sentinelKinds = []struct {
	err  error
	kind Kind
}{
	{ErrSessionNotFound, KindUserInput},
	{ErrRateCardNotFound, KindUserInput},
	{ErrAddressNotFound, KindUserInput},
	{ErrBookingNotFound, KindUserInput},
	{ErrComplaintNotFound, KindUserInput},
	{ErrAlertNotFound, KindUserInput},
	{ErrNoServiceableProvider, KindBusinessRule},
	{ErrBookingNotCancellable, KindBusinessRule},
	{ErrSLAPolicyMissing, KindBusinessRule},
	{ErrQuotaExceeded, KindBusinessRule},
	{ErrLLMUnavailable, KindUpstream},
	{ErrVectorStoreUnavailable, KindUpstream},
	{ErrEmbeddingFailed, KindUpstream},
	{ErrDatabaseTransient, KindUpstream},
	{ErrRoleAlternation, KindInvariant},
	{ErrWorkflowSlotOrder, KindInvariant},
	{ErrTurnBudgetExceeded, KindDeadline},
}

// KindOf classifies any error chain. Unknown errors classify as
// KindInvariant: an error nobody mapped is a programming problem and gets
// the generic-failure handling (trace log, no partial writes).
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindDeadline
	}
	for _, s := range sentinelKinds {
		if errors.Is(err, s.err) {
			return s.kind
		}
	}
	return KindInvariant
}

// Retryable reports whether one retry is warranted for this error.
func Retryable(err error) bool {
	return KindOf(err) == KindUpstream
}
