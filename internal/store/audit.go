package store

import (
	"context"
	"database/sql"
	"time"

	"convergeai/internal/types"
)

// =============================================================================
// OPS AUDIT LOG (append-only)
// =============================================================================

// AuditStore implements types.AuditRepo.
type AuditStore struct {
	st *Store
}

// RecordAudit appends one audit row.
func (r *AuditStore) RecordAudit(ctx context.Context, e *types.AuditEvent) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	pii := 0
	if e.PIIAccessed {
		pii = 1
	}
	res, err := r.st.db.ExecContext(ctx,
		`INSERT INTO ops_audit_log (staff_ref, action, resource, resource_id, pii_accessed, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		nullableInt64(e.StaffRef), e.Action, e.Resource, e.ResourceID, pii, nullStr(e.Detail), fmtTime(e.CreatedAt))
	if err != nil {
		return dbErr("record audit", err)
	}
	e.ID, _ = res.LastInsertId()
	return nil
}

// Recent returns the newest audit rows for the ops CLI.
func (r *AuditStore) Recent(ctx context.Context, limit int) ([]types.AuditEvent, error) {
	r.st.mu.RLock()
	defer r.st.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := r.st.db.QueryContext(ctx,
		`SELECT id, staff_ref, action, resource, resource_id, pii_accessed, detail, created_at
		 FROM ops_audit_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, dbErr("list audit", err)
	}
	defer rows.Close()

	var out []types.AuditEvent
	for rows.Next() {
		var (
			e         types.AuditEvent
			staffRef  sql.NullInt64
			pii       int
			detail    sql.NullString
			createdAt string
		)
		if err := rows.Scan(&e.ID, &staffRef, &e.Action, &e.Resource, &e.ResourceID, &pii, &detail, &createdAt); err != nil {
			return nil, dbErr("list audit", err)
		}
		e.StaffRef = int64Ptr(staffRef)
		e.PIIAccessed = pii != 0
		e.Detail = detail.String
		e.CreatedAt = parseTime(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}
