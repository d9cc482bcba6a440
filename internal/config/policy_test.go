package config

import (
	"errors"
	"testing"
	"time"

	"convergeai/internal/types"
)

func TestRefundPercentBands(t *testing.T) {
	sched := DefaultPolicies().Refund

	tests := []struct {
		hoursBefore float64
		want        int
	}{
		{48, 100},
		{4.01, 100},
		{4, 100}, // boundary: exactly 4h before still gets full refund
		{3.99, 50},
		{2, 50}, // boundary: exactly 2h before gets half
		{1.99, 0},
		{0.5, 0},
		{0, 0},
	}
	for _, tt := range tests {
		if got := sched.Percent(tt.hoursBefore); got != tt.want {
			t.Errorf("Percent(%g) = %d, want %d", tt.hoursBefore, got, tt.want)
		}
	}
}

func TestRefundPercentUnsortedBands(t *testing.T) {
	// Band order in the file must not matter.
	sched := RefundSchedule{Bands: []RefundBand{
		{MinHoursBefore: 0, Percent: 0},
		{MinHoursBefore: 4, Percent: 100},
		{MinHoursBefore: 2, Percent: 50},
	}}
	if got := sched.Percent(6); got != 100 {
		t.Errorf("Percent(6) = %d, want 100", got)
	}
	if got := sched.Percent(3); got != 50 {
		t.Errorf("Percent(3) = %d, want 50", got)
	}
}

func TestRefundPercentNegativeHours(t *testing.T) {
	// Cancellation after the scheduled time falls below every band.
	sched := DefaultPolicies().Refund
	if got := sched.Percent(-1); got != 0 {
		t.Errorf("Percent(-1) = %d, want 0", got)
	}
}

func TestSLADeadlines(t *testing.T) {
	pol := DefaultPolicies()
	at := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		priority       types.Priority
		wantResponse   time.Duration
		wantResolution time.Duration
	}{
		{types.PriorityCritical, time.Hour, 8 * time.Hour},
		{types.PriorityHigh, 4 * time.Hour, 24 * time.Hour},
		{types.PriorityMedium, 12 * time.Hour, 72 * time.Hour},
		{types.PriorityLow, 24 * time.Hour, 168 * time.Hour},
	}
	for _, tt := range tests {
		resp, resol, err := pol.Deadlines(tt.priority, at)
		if err != nil {
			t.Fatalf("Deadlines(%s): %v", tt.priority, err)
		}
		if got := resp.Sub(at); got != tt.wantResponse {
			t.Errorf("%s response window = %v, want %v", tt.priority, got, tt.wantResponse)
		}
		if got := resol.Sub(at); got != tt.wantResolution {
			t.Errorf("%s resolution window = %v, want %v", tt.priority, got, tt.wantResolution)
		}
	}
}

func TestSLADeadlinesMissingPriority(t *testing.T) {
	pol := PolicyConfig{SLA: map[string]SLAPolicy{
		string(types.PriorityLow): {ResponseHours: 24, ResolutionHours: 168},
	}}
	_, _, err := pol.Deadlines(types.PriorityHigh, time.Now())
	if !errors.Is(err, types.ErrSLAPolicyMissing) {
		t.Fatalf("err = %v, want ErrSLAPolicyMissing", err)
	}
}

func TestAlertRuleGetterDefaults(t *testing.T) {
	var r AlertRules // zero value falls back everywhere

	if got := r.ScanInterval(); got != 5*time.Minute {
		t.Errorf("ScanInterval = %v, want 5m", got)
	}
	if got := r.CriticalInterval(); got != 10*time.Minute {
		t.Errorf("CriticalInterval = %v, want 10m", got)
	}
	if got := r.DedupWindow(); got != 24*time.Hour {
		t.Errorf("DedupWindow = %v, want 24h", got)
	}
	if got := r.SLABuffer(); got != time.Hour {
		t.Errorf("SLABuffer = %v, want 1h", got)
	}
	if got := r.Expiry(); got != 72*time.Hour {
		t.Errorf("Expiry = %v, want 72h", got)
	}
	if got := r.BatchLimit(); got != 500 {
		t.Errorf("BatchLimit = %d, want 500", got)
	}
}

func TestPolicyValidate(t *testing.T) {
	t.Run("defaults pass", func(t *testing.T) {
		if err := DefaultPolicies().Validate(); err != nil {
			t.Fatalf("default policies should validate: %v", err)
		}
	})

	t.Run("missing sla priority", func(t *testing.T) {
		p := DefaultPolicies()
		delete(p.SLA, string(types.PriorityHigh))
		if err := p.Validate(); err == nil {
			t.Fatal("expected error for missing high priority")
		}
	})

	t.Run("refund percent out of range", func(t *testing.T) {
		p := DefaultPolicies()
		p.Refund.Bands[0].Percent = 150
		if err := p.Validate(); err == nil {
			t.Fatal("expected error for percent 150")
		}
	})

	t.Run("response exceeds resolution", func(t *testing.T) {
		p := DefaultPolicies()
		p.SLA[string(types.PriorityLow)] = SLAPolicy{ResponseHours: 200, ResolutionHours: 168}
		if err := p.Validate(); err == nil {
			t.Fatal("expected error for response > resolution")
		}
	})

	t.Run("no refund bands", func(t *testing.T) {
		p := DefaultPolicies()
		p.Refund.Bands = nil
		if err := p.Validate(); err == nil {
			t.Fatal("expected error for empty refund schedule")
		}
	})
}
