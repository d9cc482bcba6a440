// Package audit records ops-facing actions to the append-only audit log.
// Every alert write, every user-visible ops list read, and every
// business-rule or invariant failure leaves a row. Audit failures are logged
// and swallowed: auditing must never break the operation it observes.
package audit

import (
	"context"
	"fmt"
	"time"

	"convergeai/internal/logging"
	"convergeai/internal/types"
)

// Audit action labels.
const (
	ActionAlertCreated     = "alert_created"
	ActionAlertRead        = "alert_read"
	ActionAlertDismissed   = "alert_dismissed"
	ActionAlertListViewed  = "alert_list_viewed"
	ActionQueueViewed      = "queue_viewed"
	ActionComplaintFiled   = "complaint_filed"
	ActionComplaintUpdated = "complaint_updated"
	ActionBookingCancelled = "booking_cancelled"
	ActionBusinessRule     = "business_rule_denied"
	ActionInvariant        = "invariant_violation"
)

// Resource kinds referenced by audit rows.
const (
	ResourceAlert     = "alert"
	ResourceComplaint = "complaint"
	ResourceBooking   = "booking"
	ResourceSession   = "session"
	ResourceQueue     = "priority_queue"
)

// Recorder writes audit events through an AuditRepo. A nil Recorder is a
// valid no-op, so tests and one-shot commands can skip wiring it.
type Recorder struct {
	repo types.AuditRepo
}

// NewRecorder returns a Recorder backed by repo.
func NewRecorder(repo types.AuditRepo) *Recorder {
	return &Recorder{repo: repo}
}

// Record writes one audit row. Errors are logged, never returned.
func (r *Recorder) Record(ctx context.Context, staff *int64, action, resource string, resourceID int64, pii bool, detail string) {
	if r == nil || r.repo == nil {
		return
	}
	e := &types.AuditEvent{
		StaffRef:    staff,
		Action:      action,
		Resource:    resource,
		ResourceID:  resourceID,
		PIIAccessed: pii,
		Detail:      detail,
		CreatedAt:   time.Now().UTC(),
	}
	if err := r.repo.RecordAudit(ctx, e); err != nil {
		logging.OpsError("audit write failed (action=%s resource=%s/%d): %v", action, resource, resourceID, err)
	}
}

// AlertCreated records a scanner or API alert write.
func (r *Recorder) AlertCreated(ctx context.Context, a *types.Alert) {
	r.Record(ctx, a.StaffRef, ActionAlertCreated, ResourceAlert, a.ID,
		false, a.Type)
}

// AlertRead records a staff member marking an alert read.
func (r *Recorder) AlertRead(ctx context.Context, alertID, staff int64) {
	r.Record(ctx, &staff, ActionAlertRead, ResourceAlert, alertID, false, "")
}

// AlertDismissed records a staff member dismissing an alert.
func (r *Recorder) AlertDismissed(ctx context.Context, alertID, staff int64) {
	r.Record(ctx, &staff, ActionAlertDismissed, ResourceAlert, alertID, false, "")
}

// AlertListViewed records a user-visible alert listing. Listing exposes
// complaint subjects, which may carry user text, so it counts as PII access.
func (r *Recorder) AlertListViewed(ctx context.Context, staff int64, count int) {
	r.Record(ctx, &staff, ActionAlertListViewed, ResourceAlert, 0, true, fmt.Sprintf("%d rows", count))
}

// QueueViewed records a priority queue projection read.
func (r *Recorder) QueueViewed(ctx context.Context, staff int64, count int) {
	r.Record(ctx, &staff, ActionQueueViewed, ResourceQueue, 0, true, fmt.Sprintf("%d rows", count))
}

// ComplaintFiled records a complaint creation with its derived priority.
func (r *Recorder) ComplaintFiled(ctx context.Context, c *types.Complaint) {
	r.Record(ctx, c.AssignedStaff, ActionComplaintFiled, ResourceComplaint, c.ID,
		true, string(c.Priority))
}

// BookingCancelled records a user-initiated booking cancellation.
func (r *Recorder) BookingCancelled(ctx context.Context, bookingID int64, reason string) {
	r.Record(ctx, nil, ActionBookingCancelled, ResourceBooking, bookingID, false, reason)
}

// BusinessRuleDenied records a workflow-terminating business rule failure.
func (r *Recorder) BusinessRuleDenied(ctx context.Context, resource string, resourceID int64, reason string) {
	r.Record(ctx, nil, ActionBusinessRule, resource, resourceID, false, reason)
}

// InvariantViolation records a programming-error abort for later forensics.
func (r *Recorder) InvariantViolation(ctx context.Context, sessionID string, detail string) {
	r.Record(ctx, nil, ActionInvariant, ResourceSession, 0, false, sessionID+": "+detail)
}
