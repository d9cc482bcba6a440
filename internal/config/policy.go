package config

import (
	"fmt"
	"sort"
	"time"

	"convergeai/internal/types"
)

// =============================================================================
// POLICY TABLES
// =============================================================================
//
// Business policy lives in configuration, not code: the cancellation refund
// schedule, per-priority SLA deadlines, and the alert rule set. Values load
// at startup and refresh with the config snapshot; nothing on the user path
// can mutate them.

// PolicyConfig groups the config-loaded policy tables.
type PolicyConfig struct {
	Refund RefundSchedule       `yaml:"refund"`
	SLA    map[string]SLAPolicy `yaml:"sla"`    // keyed by priority label
	Alerts AlertRules           `yaml:"alerts"`
}

// RefundBand grants Percent refund when cancellation happens at least
// MinHoursBefore hours before the scheduled service time.
type RefundBand struct {
	MinHoursBefore float64 `yaml:"min_hours_before"`
	Percent        int     `yaml:"percent"`
}

// RefundSchedule is an ordered list of refund bands.
type RefundSchedule struct {
	Bands []RefundBand `yaml:"bands"`
}

// Percent returns the refund percentage for a cancellation happening
// hoursBefore the scheduled service time. Bands are evaluated from the
// most generous threshold down; below every band the refund is 0.
func (s RefundSchedule) Percent(hoursBefore float64) int {
	bands := make([]RefundBand, len(s.Bands))
	copy(bands, s.Bands)
	sort.Slice(bands, func(i, j int) bool { return bands[i].MinHoursBefore > bands[j].MinHoursBefore })
	for _, b := range bands {
		if hoursBefore >= b.MinHoursBefore {
			return b.Percent
		}
	}
	return 0
}

// SLAPolicy fixes the response and resolution windows for one priority.
type SLAPolicy struct {
	ResponseHours   float64 `yaml:"response_hours"`
	ResolutionHours float64 `yaml:"resolution_hours"`
}

// Deadlines computes absolute SLA deadlines for a complaint created at t.
// Fails with ErrSLAPolicyMissing when the priority has no table entry.
func (p PolicyConfig) Deadlines(priority types.Priority, t time.Time) (response, resolution time.Time, err error) {
	pol, ok := p.SLA[string(priority)]
	if !ok {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %s", types.ErrSLAPolicyMissing, priority)
	}
	response = t.Add(time.Duration(pol.ResponseHours * float64(time.Hour)))
	resolution = t.Add(time.Duration(pol.ResolutionHours * float64(time.Hour)))
	return response, resolution, nil
}

// AlertRules configures the background scanners. SLABufferHours is
// hot-reloadable.
type AlertRules struct {
	SLAScanInterval      string  `yaml:"sla_scan_interval"`
	CriticalScanInterval string  `yaml:"critical_scan_interval"`
	DedupWindowHours     float64 `yaml:"dedup_window_hours"`
	SLABufferHours       float64 `yaml:"sla_buffer_hours"`
	ExpiryHours          float64 `yaml:"expiry_hours"` // alerts auto-expire after this
	ScanBatchLimit       int     `yaml:"scan_batch_limit"`
}

// ScanInterval returns the SLA scanner period.
func (r AlertRules) ScanInterval() time.Duration {
	return parseDuration(r.SLAScanInterval, 5*time.Minute)
}

// CriticalInterval returns the critical-complaint scanner period.
func (r AlertRules) CriticalInterval() time.Duration {
	return parseDuration(r.CriticalScanInterval, 10*time.Minute)
}

// DedupWindow returns the alert dedup window.
func (r AlertRules) DedupWindow() time.Duration {
	if r.DedupWindowHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(r.DedupWindowHours * float64(time.Hour))
}

// SLABuffer returns how far ahead of response_due_at the at-risk alert fires.
func (r AlertRules) SLABuffer() time.Duration {
	if r.SLABufferHours <= 0 {
		return time.Hour
	}
	return time.Duration(r.SLABufferHours * float64(time.Hour))
}

// Expiry returns the alert auto-expiry duration.
func (r AlertRules) Expiry() time.Duration {
	if r.ExpiryHours <= 0 {
		return 72 * time.Hour
	}
	return time.Duration(r.ExpiryHours * float64(time.Hour))
}

// BatchLimit bounds how many rows one scan pass touches.
func (r AlertRules) BatchLimit() int {
	if r.ScanBatchLimit <= 0 {
		return 500
	}
	return r.ScanBatchLimit
}

// DefaultPolicies returns the stock policy tables.
func DefaultPolicies() PolicyConfig {
	return PolicyConfig{
		Refund: RefundSchedule{
			Bands: []RefundBand{
				{MinHoursBefore: 4, Percent: 100},
				{MinHoursBefore: 2, Percent: 50},
				{MinHoursBefore: 0, Percent: 0},
			},
		},
		SLA: map[string]SLAPolicy{
			string(types.PriorityCritical): {ResponseHours: 1, ResolutionHours: 8},
			string(types.PriorityHigh):     {ResponseHours: 4, ResolutionHours: 24},
			string(types.PriorityMedium):   {ResponseHours: 12, ResolutionHours: 72},
			string(types.PriorityLow):      {ResponseHours: 24, ResolutionHours: 168},
		},
		Alerts: AlertRules{
			SLAScanInterval:      "5m",
			CriticalScanInterval: "10m",
			DedupWindowHours:     24,
			SLABufferHours:       1,
			ExpiryHours:          72,
			ScanBatchLimit:       500,
		},
	}
}

// Validate checks the policy tables.
func (p PolicyConfig) Validate() error {
	if len(p.Refund.Bands) == 0 {
		return fmt.Errorf("policies.refund needs at least one band")
	}
	for _, b := range p.Refund.Bands {
		if b.Percent < 0 || b.Percent > 100 {
			return fmt.Errorf("refund percent must be in [0, 100], got %d", b.Percent)
		}
		if b.MinHoursBefore < 0 {
			return fmt.Errorf("refund min_hours_before must be >= 0, got %g", b.MinHoursBefore)
		}
	}
	for _, pr := range []types.Priority{types.PriorityLow, types.PriorityMedium, types.PriorityHigh, types.PriorityCritical} {
		pol, ok := p.SLA[string(pr)]
		if !ok {
			return fmt.Errorf("policies.sla missing entry for %q", pr)
		}
		if pol.ResponseHours <= 0 || pol.ResolutionHours <= 0 {
			return fmt.Errorf("policies.sla[%s] hours must be positive", pr)
		}
		if pol.ResponseHours > pol.ResolutionHours {
			return fmt.Errorf("policies.sla[%s] response window exceeds resolution window", pr)
		}
	}
	if p.Alerts.DedupWindowHours < 0 || p.Alerts.SLABufferHours < 0 {
		return fmt.Errorf("alert windows must be >= 0")
	}
	return nil
}
