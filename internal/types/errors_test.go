package types

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindNone},
		{"session not found", ErrSessionNotFound, KindUserInput},
		{"wrapped sentinel", fmt.Errorf("loading: %w", ErrNoServiceableProvider), KindBusinessRule},
		{"double wrapped", fmt.Errorf("outer: %w", fmt.Errorf("inner: %w", ErrLLMUnavailable)), KindUpstream},
		{"deadline", context.DeadlineExceeded, KindDeadline},
		{"wrapped deadline", fmt.Errorf("llm call: %w", context.DeadlineExceeded), KindDeadline},
		{"turn budget", ErrTurnBudgetExceeded, KindDeadline},
		{"role alternation", ErrRoleAlternation, KindInvariant},
		{"unknown defaults to invariant", errors.New("nil map write"), KindInvariant},
		{"explicit kind wins", WithKind(KindUserInput, errors.New("that date has passed")), KindUserInput},
		{"user input helper", UserInputErr("quantity must be between 1 and %d", 10), KindUserInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWithKindNil(t *testing.T) {
	if WithKind(KindUpstream, nil) != nil {
		t.Error("WithKind(nil) should return nil")
	}
}

func TestWithKindPreservesChain(t *testing.T) {
	err := WithKind(KindBusinessRule, fmt.Errorf("commit: %w", ErrNoServiceableProvider))
	if !errors.Is(err, ErrNoServiceableProvider) {
		t.Error("WithKind should preserve errors.Is through the chain")
	}
	if KindOf(err) != KindBusinessRule {
		t.Errorf("KindOf = %v, want business_rule", KindOf(err))
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(ErrDatabaseTransient) {
		t.Error("database transient should be retryable")
	}
	if !Retryable(fmt.Errorf("query: %w", ErrVectorStoreUnavailable)) {
		t.Error("wrapped upstream should be retryable")
	}
	if Retryable(ErrBookingNotCancellable) {
		t.Error("business rule failures must not be retried")
	}
	if Retryable(ErrRoleAlternation) {
		t.Error("invariant violations must not be retried")
	}
}

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindNone, "none"},
		{KindUserInput, "user_input"},
		{KindBusinessRule, "business_rule"},
		{KindUpstream, "upstream"},
		{KindInvariant, "invariant"},
		{KindDeadline, "deadline"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}
