package types

import (
	"time"
)

// =============================================================================
// COMPLAINT TYPES
// =============================================================================

// ComplaintType categorizes what a complaint is about.
type ComplaintType string

const (
	ComplaintServiceQuality    ComplaintType = "service_quality"
	ComplaintProviderBehavior  ComplaintType = "provider_behavior"
	ComplaintBilling           ComplaintType = "billing"
	ComplaintDelay             ComplaintType = "delay"
	ComplaintCancellationIssue ComplaintType = "cancellation_issue"
	ComplaintRefundIssue       ComplaintType = "refund_issue"
	ComplaintOther             ComplaintType = "other"
)

// AllComplaintTypes lists the accepted issue_type slot values.
var AllComplaintTypes = []ComplaintType{
	ComplaintServiceQuality,
	ComplaintProviderBehavior,
	ComplaintBilling,
	ComplaintDelay,
	ComplaintCancellationIssue,
	ComplaintRefundIssue,
	ComplaintOther,
}

// ParseComplaintType maps a raw label to a known ComplaintType.
func ParseComplaintType(s string) (ComplaintType, bool) {
	ct := ComplaintType(s)
	for _, known := range AllComplaintTypes {
		if ct == known {
			return ct, true
		}
	}
	return ComplaintOther, false
}

// Priority orders complaints for ops attention.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// priorityRank orders priorities so derivation bumps never downgrade.
var priorityRank = map[Priority]int{
	PriorityLow:      0,
	PriorityMedium:   1,
	PriorityHigh:     2,
	PriorityCritical: 3,
}

// AtLeast reports whether p ranks at or above other.
func (p Priority) AtLeast(other Priority) bool {
	return priorityRank[p] >= priorityRank[other]
}

// Max returns the higher-ranked of p and other.
func (p Priority) Max(other Priority) Priority {
	if priorityRank[other] > priorityRank[p] {
		return other
	}
	return p
}

// ComplaintStatus tracks the handling lifecycle of a complaint.
type ComplaintStatus string

const (
	ComplaintOpen       ComplaintStatus = "open"
	ComplaintInProgress ComplaintStatus = "in_progress"
	ComplaintResolved   ComplaintStatus = "resolved"
	ComplaintClosed     ComplaintStatus = "closed"
	ComplaintEscalated  ComplaintStatus = "escalated"
)

// Complaint is a registered customer grievance with derived SLA deadlines.
// Deadlines are absolute timestamps computed at creation from (type, priority).
type Complaint struct {
	ID              int64           `json:"id"`
	TicketNumber    string          `json:"ticket_number"`
	UserRef         int64           `json:"user_ref"`
	BookingRef      *int64          `json:"booking_ref,omitempty"`
	SessionRef      string          `json:"session_ref,omitempty"`
	Type            ComplaintType   `json:"type"`
	Subject         string          `json:"subject"`
	Description     string          `json:"description"`
	Priority        Priority        `json:"priority"`
	SentimentScore  float64         `json:"sentiment_score"` // [-1, 1]
	Status          ComplaintStatus `json:"status"`
	AssignedStaff   *int64          `json:"assigned_staff,omitempty"`
	Resolution      string          `json:"resolution,omitempty"`
	ResponseDueAt   time.Time       `json:"response_due_at"`
	ResolutionDueAt time.Time       `json:"resolution_due_at"`
	CreatedAt       time.Time       `json:"created_at"`
}

// ComplaintUpdate is one append-only entry in a complaint's handling history.
type ComplaintUpdate struct {
	ID          int64     `json:"id"`
	ComplaintID int64     `json:"complaint_id"`
	StaffRef    *int64    `json:"staff_ref,omitempty"`
	Note        string    `json:"note"`
	StatusAfter string    `json:"status_after,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
