package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"convergeai/internal/logging"
	"convergeai/internal/types"
)

// =============================================================================
// COMPLAINTS
// =============================================================================

// ComplaintStore implements types.ComplaintRepo.
type ComplaintStore struct {
	st *Store
}

const complaintColumns = `id, ticket_number, user_ref, booking_ref, session_ref, type, subject,
	description, priority, sentiment_score, status, assigned_staff, resolution,
	response_due_at, resolution_due_at, created_at`

// Create persists a complaint, filling in the generated id.
func (r *ComplaintStore) Create(ctx context.Context, c *types.Complaint) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	res, err := r.st.db.ExecContext(ctx,
		`INSERT INTO complaints
		 (ticket_number, user_ref, booking_ref, session_ref, type, subject, description, priority,
		  sentiment_score, status, assigned_staff, resolution, response_due_at, resolution_due_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.TicketNumber, c.UserRef, nullableInt64(c.BookingRef), nullStr(c.SessionRef),
		string(c.Type), c.Subject, c.Description, string(c.Priority), c.SentimentScore,
		string(c.Status), nullableInt64(c.AssignedStaff), nullStr(c.Resolution),
		fmtTime(c.ResponseDueAt), fmtTime(c.ResolutionDueAt), fmtTime(c.CreatedAt))
	if err != nil {
		return dbErr("create complaint", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return dbErr("create complaint", err)
	}
	c.ID = id
	logging.Store("Complaint %s filed (id=%d priority=%s)", c.TicketNumber, c.ID, c.Priority)
	return nil
}

// GetByID loads one complaint.
func (r *ComplaintStore) GetByID(ctx context.Context, id int64) (*types.Complaint, error) {
	r.st.mu.RLock()
	defer r.st.mu.RUnlock()

	row := r.st.db.QueryRowContext(ctx, "SELECT "+complaintColumns+" FROM complaints WHERE id = ?", id)
	c, err := scanComplaint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %d", types.ErrComplaintNotFound, id)
	}
	if err != nil {
		return nil, dbErr("get complaint", err)
	}
	return c, nil
}

// AppendUpdate records one handling-history entry.
func (r *ComplaintStore) AppendUpdate(ctx context.Context, u *types.ComplaintUpdate) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	res, err := r.st.db.ExecContext(ctx,
		`INSERT INTO complaint_updates (complaint_id, staff_ref, note, status_after, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		u.ComplaintID, nullableInt64(u.StaffRef), u.Note, nullStr(u.StatusAfter), fmtTime(u.CreatedAt))
	if err != nil {
		return dbErr("append complaint update", err)
	}
	u.ID, _ = res.LastInsertId()
	return nil
}

// ListByStatus returns complaints in any of the given statuses, oldest first.
func (r *ComplaintStore) ListByStatus(ctx context.Context, statuses []types.ComplaintStatus, limit int) ([]types.Complaint, error) {
	r.st.mu.RLock()
	defer r.st.mu.RUnlock()

	if len(statuses) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 500
	}

	placeholders := make([]string, len(statuses))
	args := make([]any, 0, len(statuses)+1)
	for i, s := range statuses {
		placeholders[i] = "?"
		args = append(args, string(s))
	}
	args = append(args, limit)

	query := "SELECT " + complaintColumns + " FROM complaints WHERE status IN (" +
		strings.Join(placeholders, ", ") + ") ORDER BY created_at ASC, id ASC LIMIT ?"
	return r.query(ctx, query, args...)
}

// ListCreatedSince returns complaints created at or after since, oldest first.
func (r *ComplaintStore) ListCreatedSince(ctx context.Context, since time.Time, limit int) ([]types.Complaint, error) {
	r.st.mu.RLock()
	defer r.st.mu.RUnlock()

	if limit <= 0 {
		limit = 500
	}
	return r.query(ctx,
		"SELECT "+complaintColumns+" FROM complaints WHERE created_at >= ? ORDER BY created_at ASC, id ASC LIMIT ?",
		fmtTime(since), limit)
}

// ListForQueue returns active complaints matching the ops filter, oldest
// first; the projector re-sorts by priority score.
func (r *ComplaintStore) ListForQueue(ctx context.Context, f types.QueueFilter, limit int) ([]types.Complaint, error) {
	timer := logging.StartTimer(logging.CategoryStore, "ComplaintStore.ListForQueue")
	defer timer.Stop()

	r.st.mu.RLock()
	defer r.st.mu.RUnlock()

	if limit <= 0 {
		limit = 200
	}

	var (
		conds []string
		args  []any
	)
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, f.Status)
	} else {
		conds = append(conds, "status IN (?, ?, ?)")
		args = append(args, string(types.ComplaintOpen), string(types.ComplaintInProgress), string(types.ComplaintEscalated))
	}
	if f.Priority != "" {
		conds = append(conds, "priority = ?")
		args = append(args, string(f.Priority))
	}
	if f.Assigned != nil {
		if *f.Assigned {
			conds = append(conds, "assigned_staff IS NOT NULL")
		} else {
			conds = append(conds, "assigned_staff IS NULL")
		}
	}
	args = append(args, limit)

	query := "SELECT " + complaintColumns + " FROM complaints WHERE " +
		strings.Join(conds, " AND ") + " ORDER BY created_at ASC, id ASC LIMIT ?"
	return r.query(ctx, query, args...)
}

// UpdateStatus transitions a complaint and appends an update row atomically.
func (r *ComplaintStore) UpdateStatus(ctx context.Context, id int64, status types.ComplaintStatus, staff *int64, note string) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	tx, err := r.st.db.BeginTx(ctx, nil)
	if err != nil {
		return dbErr("update complaint", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE complaints SET status = ?, assigned_staff = COALESCE(?, assigned_staff) WHERE id = ?",
		string(status), nullableInt64(staff), id)
	if err != nil {
		return dbErr("update complaint", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: id %d", types.ErrComplaintNotFound, id)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO complaint_updates (complaint_id, staff_ref, note, status_after, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		id, nullableInt64(staff), note, string(status), fmtTime(time.Now().UTC())); err != nil {
		return dbErr("update complaint", err)
	}

	if err := tx.Commit(); err != nil {
		return dbErr("update complaint", err)
	}
	logging.Store("Complaint %d -> %s", id, status)
	return nil
}

// Updates returns the handling history for a complaint, oldest first.
func (r *ComplaintStore) Updates(ctx context.Context, complaintID int64) ([]types.ComplaintUpdate, error) {
	r.st.mu.RLock()
	defer r.st.mu.RUnlock()

	rows, err := r.st.db.QueryContext(ctx,
		`SELECT id, complaint_id, staff_ref, note, status_after, created_at
		 FROM complaint_updates WHERE complaint_id = ? ORDER BY created_at ASC, id ASC`, complaintID)
	if err != nil {
		return nil, dbErr("list complaint updates", err)
	}
	defer rows.Close()

	var out []types.ComplaintUpdate
	for rows.Next() {
		var (
			u           types.ComplaintUpdate
			staffRef    sql.NullInt64
			statusAfter sql.NullString
			createdAt   string
		)
		if err := rows.Scan(&u.ID, &u.ComplaintID, &staffRef, &u.Note, &statusAfter, &createdAt); err != nil {
			return nil, dbErr("list complaint updates", err)
		}
		u.StaffRef = int64Ptr(staffRef)
		u.StatusAfter = statusAfter.String
		u.CreatedAt = parseTime(createdAt)
		out = append(out, u)
	}
	return out, rows.Err()
}

func (r *ComplaintStore) query(ctx context.Context, query string, args ...any) ([]types.Complaint, error) {
	rows, err := r.st.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbErr("list complaints", err)
	}
	defer rows.Close()

	var out []types.Complaint
	for rows.Next() {
		c, err := scanComplaint(rows)
		if err != nil {
			return nil, dbErr("list complaints", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func scanComplaint(row rowScanner) (*types.Complaint, error) {
	var (
		c             types.Complaint
		bookingRef    sql.NullInt64
		sessionRef    sql.NullString
		ctype         string
		priority      string
		status        string
		assignedStaff sql.NullInt64
		resolution    sql.NullString
		responseDue   string
		resolutionDue string
		createdAt     string
	)
	if err := row.Scan(&c.ID, &c.TicketNumber, &c.UserRef, &bookingRef, &sessionRef, &ctype,
		&c.Subject, &c.Description, &priority, &c.SentimentScore, &status, &assignedStaff,
		&resolution, &responseDue, &resolutionDue, &createdAt); err != nil {
		return nil, err
	}
	c.BookingRef = int64Ptr(bookingRef)
	c.SessionRef = sessionRef.String
	c.Type = types.ComplaintType(ctype)
	c.Priority = types.Priority(priority)
	c.Status = types.ComplaintStatus(status)
	c.AssignedStaff = int64Ptr(assignedStaff)
	c.Resolution = resolution.String
	c.ResponseDueAt = parseTime(responseDue)
	c.ResolutionDueAt = parseTime(resolutionDue)
	c.CreatedAt = parseTime(createdAt)
	return &c, nil
}
