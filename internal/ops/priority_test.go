package ops

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"convergeai/internal/audit"
	"convergeai/internal/config"
	"convergeai/internal/types"
)

type queueHarness struct {
	projector  *Projector
	complaints *opsComplaints
	bookings   *opsBookings
	audits     *memOpsAudit
	now        time.Time
}

func newQueueHarness() *queueHarness {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	complaints := &opsComplaints{}
	bookings := &opsBookings{counts: map[int64]int{9: 7}} // user 9 is a VIP
	audits := &memOpsAudit{}
	p := NewProjector(complaints, bookings, config.NewStatic(config.DefaultConfig()),
		audit.NewRecorder(audits), func() time.Time { return now })
	return &queueHarness{projector: p, complaints: complaints, bookings: bookings, audits: audits, now: now}
}

func (h *queueHarness) addComplaint(id, userRef int64, pr types.Priority, sentiment float64, due, created time.Time) {
	h.complaints.mu.Lock()
	defer h.complaints.mu.Unlock()
	h.complaints.queueRows = append(h.complaints.queueRows, types.Complaint{
		ID:              id,
		TicketNumber:    "TKT-X",
		UserRef:         userRef,
		Subject:         "subject",
		Priority:        pr,
		SentimentScore:  sentiment,
		Status:          types.ComplaintOpen,
		ResponseDueAt:   due,
		ResolutionDueAt: due.Add(20 * time.Hour),
		CreatedAt:       created,
	})
}

func (h *queueHarness) addPendingBooking(id, userRef int64, created time.Time) {
	h.bookings.mu.Lock()
	defer h.bookings.mu.Unlock()
	h.bookings.pending = append(h.bookings.pending, types.Booking{
		ID:            id,
		BookingNumber: "BKG-X",
		UserRef:       userRef,
		Status:        types.BookingPending,
		CreatedAt:     created,
	})
}

func TestQueueScoringAndOrder(t *testing.T) {
	h := newQueueHarness()
	now := h.now

	// critical, strong negative sentiment, past due, VIP: 80+16+20+15 clamps to 100
	h.addComplaint(1, 9, types.PriorityCritical, -0.8, now.Add(-time.Minute), now.Add(-2*time.Hour))
	// high, mild negative sentiment, due within the hour: 70+5+10 = 85
	h.addComplaint(2, 1, types.PriorityHigh, -0.25, now.Add(30*time.Minute), now.Add(-time.Hour))
	// medium, positive sentiment contributes nothing, due far out: 50
	h.addComplaint(3, 1, types.PriorityMedium, 0.5, now.Add(5*time.Hour), now.Add(-30*time.Minute))
	// low with the sentiment bump maxed: 30+20 = 50, created earlier than the medium
	h.addComplaint(4, 1, types.PriorityLow, -1.0, now.Add(2*time.Hour), now.Add(-45*time.Minute))
	// pending bookings: VIP 30+15, regular 30
	h.addPendingBooking(10, 9, now.Add(-10*time.Minute))
	h.addPendingBooking(11, 1, now.Add(-5*time.Minute))

	items, err := h.projector.Project(context.Background(), 42, types.QueueFilter{}, 20, 0)
	if err != nil {
		t.Fatalf("Project: %v", err)
	}

	type row struct {
		Kind  types.QueueItemKind
		ID    int64
		Score int
	}
	var got []row
	for _, it := range items {
		got = append(got, row{it.Kind, it.ResourceID, it.PriorityScore})
	}
	want := []row{
		{types.QueueComplaint, 1, 100},
		{types.QueueComplaint, 2, 85},
		{types.QueueComplaint, 4, 50}, // ties with 3, earlier created_at wins
		{types.QueueComplaint, 3, 50},
		{types.QueueBookingPending, 10, 45},
		{types.QueueBookingPending, 11, 30},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("queue order mismatch (-want +got):\n%s", diff)
	}

	if items[0].SLADueAt == nil {
		t.Error("complaint item should carry its response deadline")
	}
	if items[4].SLADueAt != nil {
		t.Error("booking item should not carry an SLA deadline")
	}
	if h.audits.count(audit.ActionQueueViewed) != 1 {
		t.Error("queue read was not audited")
	}
}

func TestQueueVIPLookupCachedPerUser(t *testing.T) {
	h := newQueueHarness()
	now := h.now

	h.addComplaint(1, 9, types.PriorityHigh, 0, now.Add(5*time.Hour), now.Add(-time.Hour))
	h.addComplaint(2, 9, types.PriorityLow, 0, now.Add(5*time.Hour), now.Add(-time.Hour))
	h.addPendingBooking(10, 9, now)

	if _, err := h.projector.Project(context.Background(), 42, types.QueueFilter{}, 20, 0); err != nil {
		t.Fatalf("Project: %v", err)
	}

	h.bookings.mu.Lock()
	calls := h.bookings.countCalls[9]
	h.bookings.mu.Unlock()
	if calls != 1 {
		t.Errorf("CountForUser called %d times for one user, want 1", calls)
	}
}

func TestQueueFilterScopesBookings(t *testing.T) {
	assigned := true
	unassigned := false
	cases := []struct {
		name         string
		filter       types.QueueFilter
		wantBookings bool
	}{
		{"no filter", types.QueueFilter{}, true},
		{"priority filter", types.QueueFilter{Priority: types.PriorityHigh}, false},
		{"assigned only", types.QueueFilter{Assigned: &assigned}, false},
		{"unassigned only", types.QueueFilter{Assigned: &unassigned}, true},
		{"pending status", types.QueueFilter{Status: "pending"}, true},
		{"complaint status", types.QueueFilter{Status: "open"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newQueueHarness()
			h.addPendingBooking(10, 1, h.now)

			items, err := h.projector.Project(context.Background(), 42, tc.filter, 20, 0)
			if err != nil {
				t.Fatalf("Project: %v", err)
			}
			gotBookings := len(items) > 0
			if gotBookings != tc.wantBookings {
				t.Errorf("bookings in queue = %v, want %v", gotBookings, tc.wantBookings)
			}

			h.complaints.mu.Lock()
			f := h.complaints.lastQueueFilter
			h.complaints.mu.Unlock()
			if f == nil || f.Status != tc.filter.Status || f.Priority != tc.filter.Priority {
				t.Errorf("filter passed to store = %+v, want %+v", f, tc.filter)
			}
		})
	}
}

func TestQueuePagination(t *testing.T) {
	h := newQueueHarness()
	now := h.now
	for i := int64(1); i <= 5; i++ {
		h.addComplaint(i, 1, types.PriorityMedium, 0, now.Add(5*time.Hour), now.Add(time.Duration(i)*time.Minute))
	}

	page, err := h.projector.Project(context.Background(), 42, types.QueueFilter{}, 2, 0)
	if err != nil || len(page) != 2 {
		t.Fatalf("first page: n=%d err=%v, want 2", len(page), err)
	}
	if page[0].ResourceID != 1 || page[1].ResourceID != 2 {
		t.Errorf("first page ids = %d,%d, want 1,2", page[0].ResourceID, page[1].ResourceID)
	}

	page, err = h.projector.Project(context.Background(), 42, types.QueueFilter{}, 2, 4)
	if err != nil || len(page) != 1 {
		t.Fatalf("last page: n=%d err=%v, want 1", len(page), err)
	}

	page, err = h.projector.Project(context.Background(), 42, types.QueueFilter{}, 2, 99)
	if err != nil || len(page) != 0 {
		t.Fatalf("past the end: n=%d err=%v, want 0", len(page), err)
	}
}
