package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"convergeai/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := New(":memory:")
	if err != nil {
		t.Fatalf("New(:memory:): %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestNewCreatesSchema(t *testing.T) {
	st := newTestStore(t)

	tables := []string{
		"sessions", "conversation_messages", "workflow_states",
		"bookings", "booking_items",
		"complaints", "complaint_updates",
		"alerts", "alert_rules", "alert_subscriptions",
		"ops_audit_log",
		"categories", "subcategories", "rate_cards", "providers", "provider_coverage", "addresses",
		"policy_chunks",
	}
	for _, table := range tables {
		if !tableExists(st.DB(), table) {
			t.Errorf("table %s missing after New", table)
		}
	}
	if st.Path() != ":memory:" {
		t.Errorf("Path() = %q, want :memory:", st.Path())
	}
}

func TestNewOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "convergeai.db")
	st, err := New(path)
	if err != nil {
		t.Fatalf("New(%s): %v", path, err)
	}
	defer st.Close()

	if !tableExists(st.DB(), "sessions") {
		t.Error("sessions table missing on disk-backed store")
	}
}

func TestMigrationsRerunIsNoop(t *testing.T) {
	st := newTestStore(t)

	// New already ran them once; a second pass must skip everything cleanly.
	if err := RunMigrations(st.DB()); err != nil {
		t.Fatalf("RunMigrations rerun: %v", err)
	}
	for _, m := range pendingMigrations {
		if !columnExists(st.DB(), m.Table, m.Column) {
			t.Errorf("migration column %s.%s missing", m.Table, m.Column)
		}
	}
}

func TestTimeHelpersRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 26, 53, 589_000_000, time.UTC)
	got := parseTime(fmtTime(now))
	if !got.Equal(now) {
		t.Errorf("parseTime(fmtTime(%v)) = %v", now, got)
	}

	// Lexicographic order must match chronological order.
	earlier := fmtTime(now.Add(-time.Millisecond))
	if !(earlier < fmtTime(now)) {
		t.Errorf("fmtTime not monotone: %q !< %q", earlier, fmtTime(now))
	}

	if got := parseTime("2026-03-14 09:26:53"); got.IsZero() {
		t.Error("second-precision layout should parse")
	}
	if got := parseTime("garbage"); !got.IsZero() {
		t.Errorf("parseTime(garbage) = %v, want zero", got)
	}
}

func TestDbErrClassification(t *testing.T) {
	if dbErr("op", nil) != nil {
		t.Error("dbErr(nil) should be nil")
	}

	locked := dbErr("insert", fmt.Errorf("database is locked"))
	if !errors.Is(locked, types.ErrDatabaseTransient) {
		t.Errorf("lock contention should classify transient, got %v", locked)
	}
	if !types.Retryable(locked) {
		t.Error("transient database errors should be retryable")
	}

	plain := dbErr("insert", fmt.Errorf("UNIQUE constraint failed"))
	if errors.Is(plain, types.ErrDatabaseTransient) {
		t.Errorf("constraint failure should not classify transient: %v", plain)
	}
}

func TestAuditRecordAndRecent(t *testing.T) {
	st := newTestStore(t)
	audit := st.Audit()
	ctx := context.Background()

	staff := int64(3)
	first := &types.AuditEvent{
		StaffRef:    &staff,
		Action:      "alert_read",
		Resource:    "alert",
		ResourceID:  11,
		PIIAccessed: false,
	}
	if err := audit.RecordAudit(ctx, first); err != nil {
		t.Fatalf("RecordAudit: %v", err)
	}
	if first.ID == 0 {
		t.Error("RecordAudit should fill in the row id")
	}

	second := &types.AuditEvent{
		Action:      "priority_queue_viewed",
		Resource:    "priority_queue",
		PIIAccessed: true,
		Detail:      "limit=50",
	}
	if err := audit.RecordAudit(ctx, second); err != nil {
		t.Fatalf("RecordAudit: %v", err)
	}

	events, err := audit.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Recent returned %d events, want 2", len(events))
	}
	if events[0].Action != "priority_queue_viewed" {
		t.Errorf("newest first: got %q", events[0].Action)
	}
	if !events[0].PIIAccessed {
		t.Error("pii flag lost on round trip")
	}
	if events[0].StaffRef != nil {
		t.Error("nil staff ref should stay nil")
	}
	if events[1].StaffRef == nil || *events[1].StaffRef != staff {
		t.Errorf("staff ref lost: %v", events[1].StaffRef)
	}
}
