package ops

import (
	"context"
	"fmt"
	"sync"
	"time"

	"convergeai/internal/audit"
	"convergeai/internal/config"
	"convergeai/internal/logging"
	"convergeai/internal/types"
)

// =============================================================================
// ALERT ENGINE
// =============================================================================

// Engine runs the two background scanners (SLA clocks every 5 minutes,
// fresh critical complaints every 10 by default) and fronts the alert API
// that staff tooling calls. Scan passes are also exported so the ops CLI
// and tests can run one synchronously.
//
// A scanner failure on one complaint never halts the pass: the row is
// logged and the scan continues.
type Engine struct {
	alerts     types.AlertRepo
	complaints types.ComplaintRepo
	cfg        config.Provider
	audit      *audit.Recorder
	now        func() time.Time

	mu           sync.Mutex
	running      bool
	stopCh       chan struct{}
	doneCh       chan struct{}
	lastCritical time.Time // high-water mark for the critical scan window
}

// NewEngine wires an Engine. now falls back to time.Now.
func NewEngine(alerts types.AlertRepo, complaints types.ComplaintRepo, cfg config.Provider, rec *audit.Recorder, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{
		alerts:     alerts,
		complaints: complaints,
		cfg:        cfg,
		audit:      rec,
		now:        now,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start snapshots the effective rule set and launches the scan loop.
// Calling Start twice is a no-op.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.mu.Unlock()

	e.snapshotRules(ctx)
	rules := e.cfg.Current().Policies.Alerts
	logging.Ops("Alert engine started (sla=%s critical=%s buffer=%s)",
		rules.ScanInterval(), rules.CriticalInterval(), rules.SLABuffer())
	go e.run(ctx)
}

// Stop halts the loop and waits for an in-flight pass to finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.mu.Unlock()

	close(e.stopCh)
	<-e.doneCh
	logging.Ops("Alert engine stopped")
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.doneCh)

	rules := e.cfg.Current().Policies.Alerts
	slaTicker := time.NewTicker(rules.ScanInterval())
	critTicker := time.NewTicker(rules.CriticalInterval())
	defer slaTicker.Stop()
	defer critTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-slaTicker.C:
			if _, err := e.ScanSLA(ctx); err != nil {
				logging.OpsError("SLA scan failed: %v", err)
			}
			// Intervals are hot-reloadable; pick up changes between ticks.
			slaTicker.Reset(e.cfg.Current().Policies.Alerts.ScanInterval())
		case <-critTicker.C:
			if _, err := e.ScanCritical(ctx); err != nil {
				logging.OpsError("Critical complaint scan failed: %v", err)
			}
			critTicker.Reset(e.cfg.Current().Policies.Alerts.CriticalInterval())
		}
	}
}

// snapshotRules persists the effective scanner configuration so ops can see
// what the running process enforces. Failures are logged, not fatal.
func (e *Engine) snapshotRules(ctx context.Context) {
	rules := e.cfg.Current().Policies.Alerts
	dedupHours := int(rules.DedupWindow().Hours())
	for _, r := range []struct {
		name     string
		interval time.Duration
		severity types.AlertSeverity
	}{
		{types.AlertSLAAtRisk, rules.ScanInterval(), types.SeverityWarning},
		{types.AlertSLABreach, rules.ScanInterval(), types.SeverityCritical},
		{types.AlertCriticalComplaint, rules.CriticalInterval(), types.SeverityCritical},
	} {
		if err := e.alerts.SaveRuleSnapshot(ctx, r.name, int(r.interval.Seconds()), dedupHours, r.severity); err != nil {
			logging.OpsError("Rule snapshot %s failed: %v", r.name, err)
		}
	}
}

// =============================================================================
// SCANNERS
// =============================================================================

// ScanSLA runs one SLA pass over open and in-progress complaints and
// returns how many alerts it created.
func (e *Engine) ScanSLA(ctx context.Context) (int, error) {
	rules := e.cfg.Current().Policies.Alerts
	now := e.now().UTC()

	rows, err := e.complaints.ListByStatus(ctx,
		[]types.ComplaintStatus{types.ComplaintOpen, types.ComplaintInProgress}, rules.BatchLimit())
	if err != nil {
		return 0, fmt.Errorf("sla scan: %w", err)
	}

	created := 0
	for i := range rows {
		n, err := e.checkSLA(ctx, &rows[i], now, rules)
		created += n
		if err != nil {
			logging.OpsError("SLA scan: complaint %d: %v", rows[i].ID, err)
		}
	}
	if created > 0 {
		logging.Ops("SLA scan created %d alert(s) over %d complaint(s)", created, len(rows))
	}
	return created, nil
}

// checkSLA evaluates both SLA conditions independently; dedup keeps a
// complaint at one alert per type per window.
func (e *Engine) checkSLA(ctx context.Context, c *types.Complaint, now time.Time, rules config.AlertRules) (int, error) {
	created := 0

	if !now.Add(rules.SLABuffer()).Before(c.ResponseDueAt) {
		ok, err := e.ensure(ctx, now, rules, types.AlertSLAAtRisk, types.SeverityWarning,
			fmt.Sprintf("SLA at risk: %s", c.TicketNumber),
			fmt.Sprintf("Complaint %s (%s priority) needs a first response by %s.",
				c.TicketNumber, c.Priority, c.ResponseDueAt.Format(time.RFC3339)), c)
		if err != nil {
			return created, err
		}
		if ok {
			created++
		}
	}

	if !now.Before(c.ResponseDueAt) || !now.Before(c.ResolutionDueAt) {
		ok, err := e.ensure(ctx, now, rules, types.AlertSLABreach, types.SeverityCritical,
			fmt.Sprintf("SLA breached: %s", c.TicketNumber), breachMessage(c, now), c)
		if err != nil {
			return created, err
		}
		if ok {
			created++
		}
	}

	return created, nil
}

func breachMessage(c *types.Complaint, now time.Time) string {
	if !now.Before(c.ResponseDueAt) {
		return fmt.Sprintf("Complaint %s (%s priority) missed its response deadline (%s).",
			c.TicketNumber, c.Priority, c.ResponseDueAt.Format(time.RFC3339))
	}
	return fmt.Sprintf("Complaint %s (%s priority) missed its resolution deadline (%s).",
		c.TicketNumber, c.Priority, c.ResolutionDueAt.Format(time.RFC3339))
}

// ScanCritical runs one pass over complaints created since the previous
// pass and alerts on critical-priority filings.
func (e *Engine) ScanCritical(ctx context.Context) (int, error) {
	rules := e.cfg.Current().Policies.Alerts
	now := e.now().UTC()

	e.mu.Lock()
	since := e.lastCritical
	e.mu.Unlock()
	if since.IsZero() {
		since = now.Add(-rules.CriticalInterval())
	}

	rows, err := e.complaints.ListCreatedSince(ctx, since, rules.BatchLimit())
	if err != nil {
		return 0, fmt.Errorf("critical scan: %w", err)
	}

	created := 0
	for i := range rows {
		c := &rows[i]
		if c.Priority != types.PriorityCritical {
			continue
		}
		ok, err := e.ensure(ctx, now, rules, types.AlertCriticalComplaint, types.SeverityCritical,
			fmt.Sprintf("Critical complaint: %s", c.TicketNumber),
			fmt.Sprintf("Complaint %s was filed with critical priority: %s", c.TicketNumber, c.Subject), c)
		if err != nil {
			logging.OpsError("Critical scan: complaint %d: %v", c.ID, err)
			continue
		}
		if ok {
			created++
		}
	}

	e.mu.Lock()
	e.lastCritical = now
	e.mu.Unlock()

	if created > 0 {
		logging.Ops("Critical scan created %d alert(s)", created)
	}
	return created, nil
}

// ensure creates one alert unless the dedup key already fired inside the
// window. Alerts go to the complaint's assigned staff when there is one,
// otherwise broadcast.
func (e *Engine) ensure(ctx context.Context, now time.Time, rules config.AlertRules, alertType string, severity types.AlertSeverity, title, message string, c *types.Complaint) (bool, error) {
	res := types.ResourceRef{Kind: audit.ResourceComplaint, ID: c.ID}

	seen, err := e.alerts.ExistsRecent(ctx, alertType, res, now.Add(-rules.DedupWindow()))
	if err != nil {
		return false, err
	}
	if seen {
		return false, nil
	}

	expires := now.Add(rules.Expiry())
	a := &types.Alert{
		Type:     alertType,
		Severity: severity,
		Title:    title,
		Message:  message,
		Resource: res,
		StaffRef: c.AssignedStaff,
		Metadata: map[string]any{
			"ticket_number": c.TicketNumber,
			"priority":      string(c.Priority),
		},
		CreatedAt: now,
		ExpiresAt: &expires,
	}
	if err := e.alerts.Create(ctx, a); err != nil {
		return false, err
	}
	e.audit.AlertCreated(ctx, a)
	logging.Ops("Alert %s created for complaint %d (%s)", alertType, c.ID, c.TicketNumber)
	return true, nil
}

// =============================================================================
// FOREGROUND API
// =============================================================================

// List returns one page of alerts visible to staff and records the read.
func (e *Engine) List(ctx context.Context, staff int64, f types.AlertFilter, limit, offset int) ([]types.Alert, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := e.alerts.List(ctx, staff, f, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	e.audit.AlertListViewed(ctx, staff, len(rows))
	return rows, nil
}

// MarkRead marks an alert read for staff.
func (e *Engine) MarkRead(ctx context.Context, alertID, staff int64) error {
	if err := e.alerts.MarkRead(ctx, alertID, staff); err != nil {
		return err
	}
	e.audit.AlertRead(ctx, alertID, staff)
	return nil
}

// Dismiss removes an alert from staff listings for good.
func (e *Engine) Dismiss(ctx context.Context, alertID, staff int64) error {
	if err := e.alerts.Dismiss(ctx, alertID, staff); err != nil {
		return err
	}
	e.audit.AlertDismissed(ctx, alertID, staff)
	return nil
}

// UnreadCount reports how many visible alerts staff has not read. Counts
// carry no complaint content, so the read is not audited.
func (e *Engine) UnreadCount(ctx context.Context, staff int64) (int, error) {
	return e.alerts.UnreadCount(ctx, staff)
}

// Subscribe opts staff into broadcast alerts of the given type.
func (e *Engine) Subscribe(ctx context.Context, staff int64, alertType string) error {
	switch alertType {
	case types.AlertSLAAtRisk, types.AlertSLABreach, types.AlertCriticalComplaint:
	default:
		return types.UserInputErr("unknown alert type %q", alertType)
	}
	return e.alerts.Subscribe(ctx, staff, alertType)
}

// Subscriptions lists the alert types staff subscribed to.
func (e *Engine) Subscriptions(ctx context.Context, staff int64) ([]string, error) {
	return e.alerts.Subscriptions(ctx, staff)
}
