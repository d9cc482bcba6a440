package audit

import (
	"context"
	"errors"
	"testing"

	"convergeai/internal/types"
)

type memRepo struct {
	events []*types.AuditEvent
	err    error
}

func (m *memRepo) RecordAudit(ctx context.Context, e *types.AuditEvent) error {
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, e)
	return nil
}

func TestNilRecorderIsNoOp(t *testing.T) {
	var r *Recorder
	// Must not panic; turn handling treats auditing as optional.
	r.InvariantViolation(context.Background(), "sess_x", "detail")
	r.QueueViewed(context.Background(), 1, 0)

	r = NewRecorder(nil)
	r.AlertRead(context.Background(), 1, 2)
}

func TestRecordFillsEvent(t *testing.T) {
	repo := &memRepo{}
	r := NewRecorder(repo)
	staff := int64(7)

	r.Record(context.Background(), &staff, ActionAlertRead, ResourceAlert, 42, false, "note")

	if len(repo.events) != 1 {
		t.Fatalf("got %d events, want 1", len(repo.events))
	}
	e := repo.events[0]
	if e.Action != ActionAlertRead || e.Resource != ResourceAlert || e.ResourceID != 42 {
		t.Errorf("event = %+v", e)
	}
	if e.StaffRef == nil || *e.StaffRef != 7 {
		t.Errorf("staff ref = %v", e.StaffRef)
	}
	if e.CreatedAt.IsZero() {
		t.Error("created_at not stamped")
	}
}

func TestRepoErrorIsSwallowed(t *testing.T) {
	r := NewRecorder(&memRepo{err: errors.New("disk full")})
	// Errors are logged, never surfaced to the audited operation.
	r.BookingCancelled(context.Background(), 9, "user request")
}

func TestListViewsCarryRowCounts(t *testing.T) {
	repo := &memRepo{}
	r := NewRecorder(repo)

	r.QueueViewed(context.Background(), 3, 12)
	r.AlertListViewed(context.Background(), 3, 4)

	if len(repo.events) != 2 {
		t.Fatalf("got %d events, want 2", len(repo.events))
	}
	if repo.events[0].Detail != "12 rows" || !repo.events[0].PIIAccessed {
		t.Errorf("queue view event = %+v", repo.events[0])
	}
	if repo.events[1].Detail != "4 rows" {
		t.Errorf("alert list event = %+v", repo.events[1])
	}
}
