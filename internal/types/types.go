// Package types provides shared type definitions used across ConvergeAI packages.
// This package exists to break import cycles between the coordinator, agents,
// and the storage layer. Types in this package are foundational data
// structures with no complex dependencies.
package types

import (
	"time"
)

// =============================================================================
// SESSION & CONVERSATION TYPES
// =============================================================================

// Channel identifies the transport a session was opened on.
type Channel string

const (
	ChannelWeb      Channel = "web"
	ChannelMobile   Channel = "mobile"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelVoice    Channel = "voice"
)

// ValidChannel reports whether c is a known channel value.
func ValidChannel(c Channel) bool {
	switch c {
	case ChannelWeb, ChannelMobile, ChannelWhatsApp, ChannelVoice:
		return true
	}
	return false
}

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// SessionStatus tracks the lifecycle of a session. Sessions are never
// hard-deleted, only closed.
type SessionStatus string

const (
	SessionOpen   SessionStatus = "open"
	SessionClosed SessionStatus = "closed"
)

// Session is a single conversation between one user and the assistant.
// A session holds at most one active workflow at a time.
type Session struct {
	ID             int64         `json:"id"`
	SessionID      string        `json:"session_id"` // opaque, globally unique, <= 50 chars
	UserRef        int64         `json:"user_ref"`
	Channel        Channel       `json:"channel"`
	Status         SessionStatus `json:"status"`
	CreatedAt      time.Time     `json:"created_at"`
	LastActivityAt time.Time     `json:"last_activity_at"`

	// ActiveWorkflow is populated by SessionRepo.OpenOrLoad when a workflow
	// row exists. Mutations go through SaveWorkflow, never through this field.
	ActiveWorkflow WorkflowState `json:"-"`
}

// Provenance records one retrieved chunk that contributed to a reply.
type Provenance struct {
	DocID string  `json:"doc_id"`
	Score float64 `json:"score"`
}

// ConversationMessage is one append-only entry in a session transcript.
// Within a session, user and assistant roles strictly alternate after the
// initial user message; system messages may appear anywhere.
type ConversationMessage struct {
	ID                  int64        `json:"id"`
	SessionID           string       `json:"session_id"`
	Role                Role         `json:"role"`
	Text                string       `json:"text"`
	Intent              string       `json:"intent,omitempty"`
	IntentConfidence    *float64     `json:"intent_confidence,omitempty"`
	AgentTrace          []string     `json:"agent_trace,omitempty"`
	RetrievalProvenance []Provenance `json:"retrieval_provenance,omitempty"`
	GroundingScore      *float64     `json:"grounding_score,omitempty"`
	LatencyMs           int64        `json:"latency_ms"`
	CreatedAt           time.Time    `json:"created_at"`
}

// SessionSummary is the per-session row returned by ListSessions.
type SessionSummary struct {
	SessionID    string    `json:"session_id"`
	FirstAt      time.Time `json:"first_at"`
	LastAt       time.Time `json:"last_at"`
	MessageCount int       `json:"message_count"`
}

// =============================================================================
// TURN ENVELOPE
// =============================================================================

// MaxTurnTextLen bounds inbound turn text.
const MaxTurnTextLen = 4000

// TurnRequest is the transport-agnostic inbound turn envelope.
type TurnRequest struct {
	SessionID string  `json:"session_id,omitempty"`
	UserRef   int64   `json:"user_ref"`
	Text      string  `json:"text"`
	Channel   Channel `json:"channel"`
}

// TurnResponse is returned to the caller after a turn completes.
type TurnResponse struct {
	SessionID      string `json:"session_id"`
	UserMsgID      int64  `json:"user_msg_id"`
	AssistantMsgID int64  `json:"assistant_msg_id"`
	ReplyText      string `json:"reply_text"`
	Intent         string `json:"intent,omitempty"`
	WorkflowActive bool   `json:"workflow_active"`
	LatencyMs      int64  `json:"latency_ms"`
}
