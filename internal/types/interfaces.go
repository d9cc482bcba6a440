package types

import (
	"context"
	"time"
)

// =============================================================================
// REPOSITORY INTERFACES
// =============================================================================
//
// All domain logic consumes these interfaces; the SQLite implementations
// live in internal/store. Every method takes a context and honors its
// deadline (DB budget defaults to 3s, applied by callers).

// SessionRepo persists sessions, transcripts, and the single active workflow
// per session.
type SessionRepo interface {
	// OpenOrLoad returns the session for id, minting a new one when id is
	// empty or unknown. A session idle past idleTimeout is closed and
	// replaced with a fresh one. The bool reports whether a new session
	// was created.
	OpenOrLoad(ctx context.Context, id string, userRef int64, channel Channel, idleTimeout time.Duration) (*Session, bool, error)
	// AppendMessage atomically appends m to the session transcript and bumps
	// last_activity_at. Fails with ErrSessionNotFound if the session is gone.
	AppendMessage(ctx context.Context, sessionID string, m *ConversationMessage) (int64, error)
	// AppendTurn appends the user message and the assistant reply in one
	// transaction so the transcript never ends on an unanswered user
	// message. Both ids are filled in on success.
	AppendTurn(ctx context.Context, sessionID string, user, assistant *ConversationMessage) error
	// LoadWorkflow returns the active workflow state or nil.
	LoadWorkflow(ctx context.Context, sessionID string) (WorkflowState, error)
	// SaveWorkflow replaces the active workflow state; nil clears it.
	SaveWorkflow(ctx context.Context, sessionID string, ws WorkflowState) error
	// History returns messages ordered by created_at asc, id asc, or
	// ErrSessionNotFound for an unknown session id.
	History(ctx context.Context, sessionID string, limit, offset int) ([]ConversationMessage, error)
	// Recent returns the newest n messages in chronological order.
	Recent(ctx context.Context, sessionID string, n int) ([]ConversationMessage, error)
	// ListSessions returns summaries for a user ordered by last_at desc.
	ListSessions(ctx context.Context, userRef int64, limit, offset int) ([]SessionSummary, error)
	// CloseIdleSessions closes open sessions whose last activity predates
	// cutoff, returning the number closed.
	CloseIdleSessions(ctx context.Context, cutoff time.Time) (int64, error)
}

// BookingRepo persists bookings and their items.
type BookingRepo interface {
	// CreateWithItem persists a booking and its single item in one
	// transaction, filling in the generated ids.
	CreateWithItem(ctx context.Context, b *Booking, item *BookingItem) error
	// GetByID loads a booking with its items.
	GetByID(ctx context.Context, id int64) (*Booking, error)
	// ListForUser returns a user's bookings, items included, newest first.
	ListForUser(ctx context.Context, userRef int64, limit int) ([]Booking, error)
	// Cancel transitions a cancellable booking and all of its items to
	// cancelled. Fails with ErrBookingNotCancellable otherwise.
	Cancel(ctx context.Context, bookingID int64, reason string, at time.Time) error
	// CountForUser counts a user's bookings (any status) for VIP scoring.
	CountForUser(ctx context.Context, userRef int64) (int, error)
	// ListPending returns pending bookings for the priority queue projection.
	ListPending(ctx context.Context, limit int) ([]Booking, error)
}

// ComplaintRepo persists complaints and their update history.
type ComplaintRepo interface {
	Create(ctx context.Context, c *Complaint) error
	GetByID(ctx context.Context, id int64) (*Complaint, error)
	AppendUpdate(ctx context.Context, u *ComplaintUpdate) error
	// ListByStatus returns complaints in any of the given statuses,
	// oldest first. Used by the SLA scanner.
	ListByStatus(ctx context.Context, statuses []ComplaintStatus, limit int) ([]Complaint, error)
	// ListCreatedSince returns complaints created at or after since.
	// Used by the critical-complaint scanner.
	ListCreatedSince(ctx context.Context, since time.Time, limit int) ([]Complaint, error)
	// ListForQueue returns complaints matching the ops filter.
	ListForQueue(ctx context.Context, f QueueFilter, limit int) ([]Complaint, error)
	// UpdateStatus transitions a complaint and appends an update row.
	UpdateStatus(ctx context.Context, id int64, status ComplaintStatus, staff *int64, note string) error
}

// AlertRepo persists alerts and subscriptions.
type AlertRepo interface {
	Create(ctx context.Context, a *Alert) error
	// ExistsRecent reports whether an alert with the same dedup key
	// (type, resource kind, resource id) was created at or after since.
	ExistsRecent(ctx context.Context, alertType string, res ResourceRef, since time.Time) (bool, error)
	// List returns non-expired alerts visible to staff: directly addressed
	// ones plus broadcast alerts matching their subscriptions (all broadcast
	// alerts when they have no subscriptions).
	List(ctx context.Context, staff int64, f AlertFilter, limit, offset int) ([]Alert, error)
	MarkRead(ctx context.Context, alertID, staff int64) error
	Dismiss(ctx context.Context, alertID, staff int64) error
	UnreadCount(ctx context.Context, staff int64) (int, error)
	Subscribe(ctx context.Context, staff int64, alertType string) error
	Subscriptions(ctx context.Context, staff int64) ([]string, error)
	// SaveRuleSnapshot records the effective scanner rule set for ops
	// visibility. Idempotent per rule name.
	SaveRuleSnapshot(ctx context.Context, name string, intervalSec int, dedupHours int, severity AlertSeverity) error
}

// CatalogRepo reads the service catalog and user addresses. Read-mostly;
// callers layer a TTL cache on top.
type CatalogRepo interface {
	Categories(ctx context.Context) ([]Category, error)
	Subcategories(ctx context.Context, categoryID int64) ([]Subcategory, error)
	AllSubcategories(ctx context.Context) ([]Subcategory, error)
	SubcategoryByID(ctx context.Context, id int64) (*Subcategory, error)
	RateCards(ctx context.Context, subcategoryID int64) ([]RateCard, error)
	RateCardByID(ctx context.Context, id int64) (*RateCard, error)
	SearchRateCards(ctx context.Context, q RateCardSearch) ([]RateCard, error)
	// IsServiceable reports whether at least one active and verified
	// provider covers the subcategory at the pincode.
	IsServiceable(ctx context.Context, subcategoryID int64, pincode string) (bool, error)
	AddressByID(ctx context.Context, id, userRef int64) (*Address, error)
	AddressesForUser(ctx context.Context, userRef int64) ([]Address, error)
}

// AuditRepo appends to the ops audit log. The log is append-only; there is
// no update or delete surface.
type AuditRepo interface {
	RecordAudit(ctx context.Context, e *AuditEvent) error
}

// AuditEvent is one ops_audit_log row.
type AuditEvent struct {
	ID          int64     `json:"id"`
	StaffRef    *int64    `json:"staff_ref,omitempty"`
	Action      string    `json:"action"`
	Resource    string    `json:"resource"`
	ResourceID  int64     `json:"resource_id,omitempty"`
	PIIAccessed bool      `json:"pii_accessed"`
	Detail      string    `json:"detail,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// VectorStore is the ANN index over policy/service chunks.
type VectorStore interface {
	// Upsert stores chunks and their embeddings under a namespace.
	Upsert(ctx context.Context, namespace string, chunks []PolicyChunk, embeddings [][]float32) error
	// Query returns the k nearest chunks by cosine similarity, optionally
	// filtered by metadata equality.
	Query(ctx context.Context, namespace string, vec []float32, k int, filter map[string]string) ([]VectorMatch, error)
	// Count reports how many chunks a namespace holds.
	Count(ctx context.Context, namespace string) (int, error)
}

// LLMClient is the opaque text-generation collaborator. The core never
// assumes streaming.
type LLMClient interface {
	// Complete sends a prompt and returns the completion text.
	Complete(ctx context.Context, prompt string) (string, error)
	// CompleteWithSystem sends a system prompt and user prompt separately.
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}
