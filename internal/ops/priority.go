// Package ops houses the operational surface: the priority queue projection
// staff triage reads from, and the alert engine that watches SLA clocks.
package ops

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"convergeai/internal/audit"
	"convergeai/internal/config"
	"convergeai/internal/types"
)

// =============================================================================
// PRIORITY QUEUE PROJECTION
// =============================================================================

// Score components. The queue is a projection: scores are computed at read
// time and never stored, so tuning these tables changes the very next read.
var priorityBase = map[types.Priority]int{
	types.PriorityCritical: 80,
	types.PriorityHigh:     70,
	types.PriorityMedium:   50,
	types.PriorityLow:      30,
}

const (
	bookingBase       = 30
	vipBonus          = 15
	vipBookingFloor   = 5
	slaPastBonus      = 20
	slaImminentBonus  = 10
	slaImminentWithin = time.Hour
	maxSentimentBump  = 20
	maxPriorityScore  = 100
)

// Projector ranks open complaints and pending bookings for ops attention.
type Projector struct {
	complaints types.ComplaintRepo
	bookings   types.BookingRepo
	cfg        config.Provider
	audit      *audit.Recorder
	now        func() time.Time
}

// NewProjector wires a Projector. now falls back to time.Now.
func NewProjector(complaints types.ComplaintRepo, bookings types.BookingRepo, cfg config.Provider, rec *audit.Recorder, now func() time.Time) *Projector {
	if now == nil {
		now = time.Now
	}
	return &Projector{
		complaints: complaints,
		bookings:   bookings,
		cfg:        cfg,
		audit:      rec,
		now:        now,
	}
}

// Project returns one page of the ranked queue and records the read to the
// audit log. Ordering is score descending, then created_at ascending so two
// reads with the same data always agree.
func (p *Projector) Project(ctx context.Context, staff int64, f types.QueueFilter, limit, offset int) ([]types.PriorityQueueItem, error) {
	if limit <= 0 {
		limit = 20
	}
	batch := p.cfg.Current().Policies.Alerts.BatchLimit()
	now := p.now().UTC()

	complaints, err := p.complaints.ListForQueue(ctx, f, batch)
	if err != nil {
		return nil, fmt.Errorf("project queue: %w", err)
	}

	items := make([]types.PriorityQueueItem, 0, len(complaints))
	vips := vipCache{bookings: p.bookings, known: make(map[int64]bool)}
	for _, c := range complaints {
		c := c
		items = append(items, types.PriorityQueueItem{
			Kind:          types.QueueComplaint,
			ResourceID:    c.ID,
			UserRef:       c.UserRef,
			Title:         fmt.Sprintf("%s: %s", c.TicketNumber, c.Subject),
			Priority:      c.Priority,
			PriorityScore: p.scoreComplaint(ctx, &c, now, &vips),
			SLADueAt:      &c.ResponseDueAt,
			AssignedStaff: c.AssignedStaff,
			CreatedAt:     c.CreatedAt,
		})
	}

	if includeBookings(f) {
		pending, err := p.bookings.ListPending(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("project queue: %w", err)
		}
		for _, b := range pending {
			items = append(items, types.PriorityQueueItem{
				Kind:          types.QueueBookingPending,
				ResourceID:    b.ID,
				UserRef:       b.UserRef,
				Title:         fmt.Sprintf("Pending booking %s", b.BookingNumber),
				PriorityScore: clampScore(bookingBase + vips.bonus(ctx, b.UserRef)),
				CreatedAt:     b.CreatedAt,
			})
		}
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].PriorityScore != items[j].PriorityScore {
			return items[i].PriorityScore > items[j].PriorityScore
		}
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ResourceID < items[j].ResourceID
	})

	if offset >= len(items) {
		items = nil
	} else {
		items = items[offset:]
		if len(items) > limit {
			items = items[:limit]
		}
	}

	p.audit.QueueViewed(ctx, staff, len(items))
	return items, nil
}

// scoreComplaint applies the scoring table: priority base, a bump for
// negative sentiment, SLA proximity, and the VIP bonus, clamped to [0, 100].
func (p *Projector) scoreComplaint(ctx context.Context, c *types.Complaint, now time.Time, vips *vipCache) int {
	score := priorityBase[c.Priority]

	bump := int(math.Round(-c.SentimentScore * 20))
	if bump < 0 {
		bump = 0
	}
	if bump > maxSentimentBump {
		bump = maxSentimentBump
	}
	score += bump

	score += slaRiskBonus(c.ResponseDueAt, now)
	score += vips.bonus(ctx, c.UserRef)
	return clampScore(score)
}

// slaRiskBonus keys on the response deadline: first response is the clock
// that decides queue urgency. Resolution breaches surface through the alert
// engine instead.
func slaRiskBonus(due, now time.Time) int {
	remaining := due.Sub(now)
	switch {
	case remaining <= 0:
		return slaPastBonus
	case remaining <= slaImminentWithin:
		return slaImminentBonus
	default:
		return 0
	}
}

// includeBookings reports whether the filter admits pending bookings:
// complaint-only dimensions (priority, assignment, a non-pending status)
// exclude them.
func includeBookings(f types.QueueFilter) bool {
	if f.Priority != "" {
		return false
	}
	if f.Assigned != nil && *f.Assigned {
		return false
	}
	if f.Status != "" && f.Status != string(types.BookingPending) {
		return false
	}
	return true
}

func clampScore(s int) int {
	if s < 0 {
		return 0
	}
	if s > maxPriorityScore {
		return maxPriorityScore
	}
	return s
}

// vipCache memoizes the prior-booking lookup per projection pass so a user
// with several queue rows costs one count query.
type vipCache struct {
	bookings types.BookingRepo
	known    map[int64]bool
}

func (v *vipCache) bonus(ctx context.Context, userRef int64) int {
	vip, ok := v.known[userRef]
	if !ok {
		n, err := v.bookings.CountForUser(ctx, userRef)
		// A failed count means no bonus this pass, not a failed projection.
		vip = err == nil && n >= vipBookingFloor
		v.known[userRef] = vip
	}
	if vip {
		return vipBonus
	}
	return 0
}
