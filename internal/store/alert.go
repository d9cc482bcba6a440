package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"convergeai/internal/logging"
	"convergeai/internal/types"
)

// =============================================================================
// ALERTS
// =============================================================================

// AlertStore implements types.AlertRepo.
type AlertStore struct {
	st *Store
}

const alertColumns = `id, type, severity, title, message, resource_kind, resource_id, staff_ref,
	is_read, is_dismissed, metadata, created_at, read_at, dismissed_at, expires_at`

// visibleClause selects alerts a staff member can see: directly addressed
// ones plus broadcast alerts matching their subscriptions (all broadcast
// alerts when they have no subscriptions). Binds staff three times.
const visibleClause = `(staff_ref = ?
	OR (staff_ref IS NULL AND (
		NOT EXISTS (SELECT 1 FROM alert_subscriptions s WHERE s.staff_ref = ?)
		OR EXISTS (SELECT 1 FROM alert_subscriptions s WHERE s.staff_ref = ? AND s.alert_type = alerts.type))))`

// Create persists an alert, filling in the generated id.
func (r *AlertStore) Create(ctx context.Context, a *types.Alert) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	var metadata any
	if len(a.Metadata) > 0 {
		b, err := json.Marshal(a.Metadata)
		if err != nil {
			return fmt.Errorf("marshal alert metadata: %w", err)
		}
		metadata = string(b)
	}

	res, err := r.st.db.ExecContext(ctx,
		`INSERT INTO alerts
		 (type, severity, title, message, resource_kind, resource_id, staff_ref,
		  is_read, is_dismissed, metadata, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0, 0, ?, ?, ?)`,
		a.Type, string(a.Severity), a.Title, a.Message, a.Resource.Kind, a.Resource.ID,
		nullableInt64(a.StaffRef), metadata, fmtTime(a.CreatedAt), fmtTimePtr(a.ExpiresAt))
	if err != nil {
		return dbErr("create alert", err)
	}
	a.ID, _ = res.LastInsertId()
	logging.Store("Alert %d created (%s %s/%d)", a.ID, a.Type, a.Resource.Kind, a.Resource.ID)
	return nil
}

// ExistsRecent reports whether an alert with the same dedup key was created
// at or after since, regardless of read or dismissed state.
func (r *AlertStore) ExistsRecent(ctx context.Context, alertType string, res types.ResourceRef, since time.Time) (bool, error) {
	r.st.mu.RLock()
	defer r.st.mu.RUnlock()

	var n int
	err := r.st.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM alerts
		 WHERE type = ? AND resource_kind = ? AND resource_id = ? AND created_at >= ?`,
		alertType, res.Kind, res.ID, fmtTime(since)).Scan(&n)
	if err != nil {
		return false, dbErr("alert dedup check", err)
	}
	return n > 0, nil
}

// List returns undismissed, non-expired alerts visible to staff, newest first.
func (r *AlertStore) List(ctx context.Context, staff int64, f types.AlertFilter, limit, offset int) ([]types.Alert, error) {
	timer := logging.StartTimer(logging.CategoryStore, "AlertStore.List")
	defer timer.Stop()

	r.st.mu.RLock()
	defer r.st.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := "SELECT " + alertColumns + ` FROM alerts
		WHERE is_dismissed = 0
		  AND (expires_at IS NULL OR expires_at > ?)
		  AND ` + visibleClause
	args := []any{fmtTime(time.Now().UTC()), staff, staff, staff}

	if f.Type != "" {
		query += " AND type = ?"
		args = append(args, f.Type)
	}
	if f.Severity != "" {
		query += " AND severity = ?"
		args = append(args, string(f.Severity))
	}
	if f.UnreadOnly {
		query += " AND is_read = 0"
	}
	if f.ResourceKind != "" {
		query += " AND resource_kind = ?"
		args = append(args, f.ResourceKind)
	}
	if f.ResourceID != 0 {
		query += " AND resource_id = ?"
		args = append(args, f.ResourceID)
	}

	query += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := r.st.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbErr("list alerts", err)
	}
	defer rows.Close()

	var out []types.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, dbErr("list alerts", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// MarkRead marks an alert read. Idempotent; read_at keeps its first value.
func (r *AlertStore) MarkRead(ctx context.Context, alertID, staff int64) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	res, err := r.st.db.ExecContext(ctx,
		`UPDATE alerts SET is_read = 1, read_at = COALESCE(read_at, ?)
		 WHERE id = ? AND (staff_ref IS NULL OR staff_ref = ?)`,
		fmtTime(time.Now().UTC()), alertID, staff)
	if err != nil {
		return dbErr("mark alert read", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("mark alert read: %w: alert %d for staff %d", types.ErrAlertNotFound, alertID, staff)
	}
	return nil
}

// Dismiss hides an alert from future listings.
func (r *AlertStore) Dismiss(ctx context.Context, alertID, staff int64) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	res, err := r.st.db.ExecContext(ctx,
		`UPDATE alerts SET is_dismissed = 1, dismissed_at = COALESCE(dismissed_at, ?)
		 WHERE id = ? AND (staff_ref IS NULL OR staff_ref = ?)`,
		fmtTime(time.Now().UTC()), alertID, staff)
	if err != nil {
		return dbErr("dismiss alert", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("dismiss alert: %w: alert %d for staff %d", types.ErrAlertNotFound, alertID, staff)
	}
	return nil
}

// UnreadCount counts unread alerts visible to staff.
func (r *AlertStore) UnreadCount(ctx context.Context, staff int64) (int, error) {
	r.st.mu.RLock()
	defer r.st.mu.RUnlock()

	var n int
	err := r.st.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM alerts
		 WHERE is_dismissed = 0 AND is_read = 0
		   AND (expires_at IS NULL OR expires_at > ?)
		   AND `+visibleClause,
		fmtTime(time.Now().UTC()), staff, staff, staff).Scan(&n)
	if err != nil {
		return 0, dbErr("unread alert count", err)
	}
	return n, nil
}

// Subscribe opts staff into broadcast alerts of alertType. Idempotent.
func (r *AlertStore) Subscribe(ctx context.Context, staff int64, alertType string) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	_, err := r.st.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO alert_subscriptions (staff_ref, alert_type, created_at) VALUES (?, ?, ?)`,
		staff, alertType, fmtTime(time.Now().UTC()))
	return dbErr("subscribe", err)
}

// Subscriptions lists the alert types staff subscribed to.
func (r *AlertStore) Subscriptions(ctx context.Context, staff int64) ([]string, error) {
	r.st.mu.RLock()
	defer r.st.mu.RUnlock()

	rows, err := r.st.db.QueryContext(ctx,
		"SELECT alert_type FROM alert_subscriptions WHERE staff_ref = ? ORDER BY alert_type", staff)
	if err != nil {
		return nil, dbErr("list subscriptions", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, dbErr("list subscriptions", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SaveRuleSnapshot records the effective scanner rule set for ops visibility.
func (r *AlertStore) SaveRuleSnapshot(ctx context.Context, name string, intervalSec int, dedupHours int, severity types.AlertSeverity) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	_, err := r.st.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO alert_rules (name, interval_sec, dedup_hours, severity, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		name, intervalSec, dedupHours, string(severity), fmtTime(time.Now().UTC()))
	return dbErr("save alert rule", err)
}

func scanAlert(row rowScanner) (*types.Alert, error) {
	var (
		a           types.Alert
		severity    string
		staffRef    sql.NullInt64
		isRead      int
		isDismissed int
		metadata    sql.NullString
		createdAt   string
		readAt      sql.NullString
		dismissedAt sql.NullString
		expiresAt   sql.NullString
	)
	if err := row.Scan(&a.ID, &a.Type, &severity, &a.Title, &a.Message,
		&a.Resource.Kind, &a.Resource.ID, &staffRef, &isRead, &isDismissed,
		&metadata, &createdAt, &readAt, &dismissedAt, &expiresAt); err != nil {
		return nil, err
	}
	a.Severity = types.AlertSeverity(severity)
	a.StaffRef = int64Ptr(staffRef)
	a.IsRead = isRead != 0
	a.IsDismissed = isDismissed != 0
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &a.Metadata); err != nil {
			return nil, fmt.Errorf("decode alert metadata: %w", err)
		}
	}
	a.CreatedAt = parseTime(createdAt)
	a.ReadAt = parseTimeN(readAt)
	a.DismissedAt = parseTimeN(dismissedAt)
	a.ExpiresAt = parseTimeN(expiresAt)
	return &a, nil
}
