package types

import (
	"time"
)

// =============================================================================
// ALERT TYPES
// =============================================================================

// Alert type labels produced by the scanners.
const (
	AlertSLAAtRisk         = "sla_at_risk"
	AlertSLABreach         = "sla_breach"
	AlertCriticalComplaint = "critical_complaint"
)

// AlertSeverity grades how urgently an alert needs attention.
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// ResourceRef points an alert at the row it concerns.
type ResourceRef struct {
	Kind string `json:"kind"` // complaint | booking | session
	ID   int64  `json:"id"`
}

// Alert is one ops notification. StaffRef nil means broadcast; delivery is
// filtered at read time through alert subscriptions. Dedup key:
// (Type, Resource.Kind, Resource.ID) within a 24h window.
type Alert struct {
	ID          int64          `json:"id"`
	Type        string         `json:"type"`
	Severity    AlertSeverity  `json:"severity"`
	Title       string         `json:"title"`
	Message     string         `json:"message"`
	Resource    ResourceRef    `json:"resource"`
	StaffRef    *int64         `json:"staff_ref,omitempty"`
	IsRead      bool           `json:"is_read"`
	IsDismissed bool           `json:"is_dismissed"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	ReadAt      *time.Time     `json:"read_at,omitempty"`
	DismissedAt *time.Time     `json:"dismissed_at,omitempty"`
	ExpiresAt   *time.Time     `json:"expires_at,omitempty"`
}

// AlertSubscription opts a staff member into broadcast alerts of one type.
type AlertSubscription struct {
	ID        int64     `json:"id"`
	StaffRef  int64     `json:"staff_ref"`
	AlertType string    `json:"alert_type"`
	CreatedAt time.Time `json:"created_at"`
}

// AlertFilter narrows alert listings. Dismissed and expired alerts are
// always excluded.
type AlertFilter struct {
	Type         string
	Severity     AlertSeverity
	UnreadOnly   bool
	ResourceKind string
	ResourceID   int64
}

// =============================================================================
// PRIORITY QUEUE PROJECTION
// =============================================================================

// QueueItemKind distinguishes the two projected sources.
type QueueItemKind string

const (
	QueueComplaint      QueueItemKind = "complaint"
	QueueBookingPending QueueItemKind = "booking_pending"
)

// PriorityQueueItem is a projected (never stored) ops work item.
type PriorityQueueItem struct {
	Kind          QueueItemKind `json:"kind"`
	ResourceID    int64         `json:"resource_id"`
	UserRef       int64         `json:"user_ref"`
	Title         string        `json:"title"`
	Priority      Priority      `json:"priority,omitempty"` // complaints only
	PriorityScore int           `json:"priority_score"`     // [0, 100]
	SLADueAt      *time.Time    `json:"sla_due_at,omitempty"`
	AssignedStaff *int64        `json:"assigned_staff,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

// QueueFilter narrows the priority queue projection.
type QueueFilter struct {
	Status   string
	Priority Priority
	Assigned *bool // nil = any, true = assigned only, false = unassigned only
}
