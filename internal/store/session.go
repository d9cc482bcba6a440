package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"convergeai/internal/logging"
	"convergeai/internal/types"
)

// =============================================================================
// SESSIONS, TRANSCRIPTS, WORKFLOW STATE
// =============================================================================

// SessionStore implements types.SessionRepo.
type SessionStore struct {
	st *Store
}

// sessionIDRetries bounds regeneration attempts on the (vanishingly rare)
// session id collision.
const sessionIDRetries = 3

// OpenOrLoad returns the session for id, minting a fresh one when id is
// empty, unknown, owned by another user, closed, or idle past idleTimeout.
// Idle sessions are closed and their workflow state abandoned before the
// replacement is minted.
func (r *SessionStore) OpenOrLoad(ctx context.Context, id string, userRef int64, channel types.Channel, idleTimeout time.Duration) (*types.Session, bool, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	now := time.Now().UTC()

	if id != "" {
		sess, err := r.loadLocked(ctx, id)
		switch {
		case err == nil && sess.UserRef != userRef:
			// Another user's session id: treat as unknown rather than
			// handing over their transcript.
			logging.Session("Session %s belongs to user %d, not %d; minting a fresh session", id, sess.UserRef, userRef)
		case err == nil:
			if sess.Status == types.SessionOpen && now.Sub(sess.LastActivityAt) <= idleTimeout {
				ws, err := r.loadWorkflowLocked(ctx, id)
				if err != nil {
					return nil, false, err
				}
				sess.ActiveWorkflow = ws
				return sess, false, nil
			}
			if sess.Status == types.SessionOpen {
				logging.Session("Session %s idle for %s, closing", id, now.Sub(sess.LastActivityAt).Round(time.Second))
				if err := r.closeLocked(ctx, id); err != nil {
					return nil, false, err
				}
			}
		case errors.Is(err, types.ErrSessionNotFound):
			logging.SessionDebug("Unknown session id %q, minting a fresh session", id)
		default:
			return nil, false, err
		}
	}

	sess, err := r.mintLocked(ctx, userRef, channel, now)
	if err != nil {
		return nil, false, err
	}
	logging.Session("Session %s opened (user=%d channel=%s)", sess.SessionID, userRef, channel)
	return sess, true, nil
}

func (r *SessionStore) mintLocked(ctx context.Context, userRef int64, channel types.Channel, now time.Time) (*types.Session, error) {
	var lastErr error
	for attempt := 0; attempt < sessionIDRetries; attempt++ {
		sid := "sess_" + uuid.NewString()
		res, err := r.st.db.ExecContext(ctx,
			`INSERT INTO sessions (session_id, user_ref, channel, status, created_at, last_activity_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			sid, userRef, string(channel), string(types.SessionOpen), fmtTime(now), fmtTime(now))
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE") {
				lastErr = err
				continue
			}
			return nil, dbErr("mint session", err)
		}
		rowID, err := res.LastInsertId()
		if err != nil {
			return nil, dbErr("mint session", err)
		}
		return &types.Session{
			ID:             rowID,
			SessionID:      sid,
			UserRef:        userRef,
			Channel:        channel,
			Status:         types.SessionOpen,
			CreatedAt:      now,
			LastActivityAt: now,
		}, nil
	}
	return nil, dbErr("mint session", fmt.Errorf("session id collision persisted after %d attempts: %w", sessionIDRetries, lastErr))
}

func (r *SessionStore) loadLocked(ctx context.Context, id string) (*types.Session, error) {
	var (
		sess         types.Session
		channel      string
		status       string
		createdAt    string
		lastActivity string
	)
	err := r.st.db.QueryRowContext(ctx,
		`SELECT id, session_id, user_ref, channel, status, created_at, last_activity_at
		 FROM sessions WHERE session_id = ?`, id).
		Scan(&sess.ID, &sess.SessionID, &sess.UserRef, &channel, &status, &createdAt, &lastActivity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", types.ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, dbErr("load session", err)
	}
	sess.Channel = types.Channel(channel)
	sess.Status = types.SessionStatus(status)
	sess.CreatedAt = parseTime(createdAt)
	sess.LastActivityAt = parseTime(lastActivity)
	return &sess, nil
}

func (r *SessionStore) closeLocked(ctx context.Context, id string) error {
	if _, err := r.st.db.ExecContext(ctx, "DELETE FROM workflow_states WHERE session_id = ?", id); err != nil {
		return dbErr("close session", err)
	}
	if _, err := r.st.db.ExecContext(ctx, "UPDATE sessions SET status = ? WHERE session_id = ?",
		string(types.SessionClosed), id); err != nil {
		return dbErr("close session", err)
	}
	return nil
}

// AppendMessage appends m to the transcript and bumps last_activity_at in
// one transaction. Closed or unknown sessions fail with ErrSessionNotFound.
func (r *SessionStore) AppendMessage(ctx context.Context, sessionID string, m *types.ConversationMessage) (int64, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	tx, err := r.st.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, dbErr("append message", err)
	}
	defer tx.Rollback()

	if err := requireOpenTx(ctx, tx, sessionID); err != nil {
		return 0, err
	}
	if err := insertMessageTx(ctx, tx, sessionID, m); err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, "UPDATE sessions SET last_activity_at = ? WHERE session_id = ?",
		fmtTime(m.CreatedAt), sessionID); err != nil {
		return 0, dbErr("append message", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, dbErr("append message", err)
	}
	return m.ID, nil
}

// AppendTurn appends the user message and the assistant reply in a single
// transaction. Either both land or neither does, so a crash between them can
// never leave a transcript ending on an unanswered user message.
func (r *SessionStore) AppendTurn(ctx context.Context, sessionID string, user, assistant *types.ConversationMessage) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	tx, err := r.st.db.BeginTx(ctx, nil)
	if err != nil {
		return dbErr("append turn", err)
	}
	defer tx.Rollback()

	if err := requireOpenTx(ctx, tx, sessionID); err != nil {
		return err
	}
	if err := insertMessageTx(ctx, tx, sessionID, user); err != nil {
		return err
	}
	if assistant.CreatedAt.IsZero() || assistant.CreatedAt.Before(user.CreatedAt) {
		assistant.CreatedAt = user.CreatedAt
	}
	if err := insertMessageTx(ctx, tx, sessionID, assistant); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "UPDATE sessions SET last_activity_at = ? WHERE session_id = ?",
		fmtTime(assistant.CreatedAt), sessionID); err != nil {
		return dbErr("append turn", err)
	}

	if err := tx.Commit(); err != nil {
		return dbErr("append turn", err)
	}
	return nil
}

// requireOpenTx fails with ErrSessionNotFound when the session is missing
// or already closed.
func requireOpenTx(ctx context.Context, tx *sql.Tx, sessionID string) error {
	var status string
	err := tx.QueryRowContext(ctx, "SELECT status FROM sessions WHERE session_id = ?", sessionID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && status != string(types.SessionOpen)) {
		return fmt.Errorf("%w: %s", types.ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return dbErr("load session status", err)
	}
	return nil
}

func insertMessageTx(ctx context.Context, tx *sql.Tx, sessionID string, m *types.ConversationMessage) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	var trace, provenance any
	if len(m.AgentTrace) > 0 {
		b, err := json.Marshal(m.AgentTrace)
		if err != nil {
			return fmt.Errorf("marshal agent trace: %w", err)
		}
		trace = string(b)
	}
	if len(m.RetrievalProvenance) > 0 {
		b, err := json.Marshal(m.RetrievalProvenance)
		if err != nil {
			return fmt.Errorf("marshal provenance: %w", err)
		}
		provenance = string(b)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO conversation_messages
		 (session_id, role, text, intent, intent_confidence, agent_trace, retrieval_provenance, grounding_score, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, string(m.Role), m.Text, nullStr(m.Intent), nullFloat(m.IntentConfidence),
		trace, provenance, nullFloat(m.GroundingScore), m.LatencyMs, fmtTime(m.CreatedAt))
	if err != nil {
		return dbErr("insert message", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return dbErr("insert message", err)
	}
	m.ID = id
	m.SessionID = sessionID
	return nil
}

// LoadWorkflow returns the active workflow state or nil.
func (r *SessionStore) LoadWorkflow(ctx context.Context, sessionID string) (types.WorkflowState, error) {
	r.st.mu.RLock()
	defer r.st.mu.RUnlock()
	return r.loadWorkflowLocked(ctx, sessionID)
}

func (r *SessionStore) loadWorkflowLocked(ctx context.Context, sessionID string) (types.WorkflowState, error) {
	var stateJSON string
	err := r.st.db.QueryRowContext(ctx,
		"SELECT state_json FROM workflow_states WHERE session_id = ?", sessionID).Scan(&stateJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbErr("load workflow", err)
	}
	ws, err := types.UnmarshalWorkflow([]byte(stateJSON))
	if err != nil {
		return nil, fmt.Errorf("decode workflow state for %s: %w", sessionID, err)
	}
	return ws, nil
}

// SaveWorkflow replaces the active workflow state; nil clears it.
func (r *SessionStore) SaveWorkflow(ctx context.Context, sessionID string, ws types.WorkflowState) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	if ws == nil {
		_, err := r.st.db.ExecContext(ctx, "DELETE FROM workflow_states WHERE session_id = ?", sessionID)
		return dbErr("clear workflow", err)
	}

	b, err := types.MarshalWorkflow(ws)
	if err != nil {
		return fmt.Errorf("encode workflow state: %w", err)
	}
	_, err = r.st.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO workflow_states (session_id, state_json, updated_at) VALUES (?, ?, ?)`,
		sessionID, string(b), fmtTime(time.Now().UTC()))
	return dbErr("save workflow", err)
}

// History returns transcript messages ordered by created_at asc, id asc.
// An unknown session id fails with ErrSessionNotFound so transports can
// tell "no such session" from "no messages yet".
func (r *SessionStore) History(ctx context.Context, sessionID string, limit, offset int) ([]types.ConversationMessage, error) {
	timer := logging.StartTimer(logging.CategoryStore, "SessionStore.History")
	defer timer.Stop()

	r.st.mu.RLock()
	defer r.st.mu.RUnlock()

	var one int
	err := r.st.db.QueryRowContext(ctx,
		`SELECT 1 FROM sessions WHERE session_id = ?`, sessionID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", types.ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, dbErr("session history", err)
	}

	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.st.db.QueryContext(ctx,
		`SELECT id, session_id, role, text, intent, intent_confidence, agent_trace,
		        retrieval_provenance, grounding_score, latency_ms, created_at
		 FROM conversation_messages
		 WHERE session_id = ?
		 ORDER BY created_at ASC, id ASC
		 LIMIT ? OFFSET ?`,
		sessionID, limit, offset)
	if err != nil {
		return nil, dbErr("session history", err)
	}
	defer rows.Close()

	var msgs []types.ConversationMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, dbErr("session history", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// Recent returns the newest n messages in chronological order. The
// coordinator uses it for the per-turn history tail and the role-alternation
// check.
func (r *SessionStore) Recent(ctx context.Context, sessionID string, n int) ([]types.ConversationMessage, error) {
	r.st.mu.RLock()
	defer r.st.mu.RUnlock()

	if n <= 0 {
		n = 10
	}

	rows, err := r.st.db.QueryContext(ctx,
		`SELECT id, session_id, role, text, intent, intent_confidence, agent_trace,
		        retrieval_provenance, grounding_score, latency_ms, created_at
		 FROM conversation_messages
		 WHERE session_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		sessionID, n)
	if err != nil {
		return nil, dbErr("recent messages", err)
	}
	defer rows.Close()

	var msgs []types.ConversationMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, dbErr("recent messages", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("recent messages", err)
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func scanMessage(rows *sql.Rows) (types.ConversationMessage, error) {
	var (
		m          types.ConversationMessage
		role       string
		intent     sql.NullString
		confidence sql.NullFloat64
		trace      sql.NullString
		provenance sql.NullString
		grounding  sql.NullFloat64
		createdAt  string
	)
	if err := rows.Scan(&m.ID, &m.SessionID, &role, &m.Text, &intent, &confidence,
		&trace, &provenance, &grounding, &m.LatencyMs, &createdAt); err != nil {
		return m, err
	}
	m.Role = types.Role(role)
	m.Intent = intent.String
	if confidence.Valid {
		v := confidence.Float64
		m.IntentConfidence = &v
	}
	if trace.Valid && trace.String != "" {
		if err := json.Unmarshal([]byte(trace.String), &m.AgentTrace); err != nil {
			return m, fmt.Errorf("decode agent trace: %w", err)
		}
	}
	if provenance.Valid && provenance.String != "" {
		if err := json.Unmarshal([]byte(provenance.String), &m.RetrievalProvenance); err != nil {
			return m, fmt.Errorf("decode provenance: %w", err)
		}
	}
	if grounding.Valid {
		v := grounding.Float64
		m.GroundingScore = &v
	}
	m.CreatedAt = parseTime(createdAt)
	return m, nil
}

// ListSessions returns summaries for a user, most recently active first.
func (r *SessionStore) ListSessions(ctx context.Context, userRef int64, limit, offset int) ([]types.SessionSummary, error) {
	r.st.mu.RLock()
	defer r.st.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.st.db.QueryContext(ctx,
		`SELECT s.session_id, s.created_at, s.last_activity_at, COUNT(m.id)
		 FROM sessions s
		 LEFT JOIN conversation_messages m ON m.session_id = s.session_id
		 WHERE s.user_ref = ?
		 GROUP BY s.id
		 ORDER BY s.last_activity_at DESC
		 LIMIT ? OFFSET ?`,
		userRef, limit, offset)
	if err != nil {
		return nil, dbErr("list sessions", err)
	}
	defer rows.Close()

	var out []types.SessionSummary
	for rows.Next() {
		var (
			sum       types.SessionSummary
			createdAt string
			lastAt    string
		)
		if err := rows.Scan(&sum.SessionID, &createdAt, &lastAt, &sum.MessageCount); err != nil {
			return nil, dbErr("list sessions", err)
		}
		sum.FirstAt = parseTime(createdAt)
		sum.LastAt = parseTime(lastAt)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// CloseIdleSessions closes open sessions idle since before cutoff and
// abandons their workflow state. Returns the number of sessions closed.
func (r *SessionStore) CloseIdleSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	tx, err := r.st.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, dbErr("close idle sessions", err)
	}
	defer tx.Rollback()

	cut := fmtTime(cutoff)
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM workflow_states WHERE session_id IN
		 (SELECT session_id FROM sessions WHERE status = ? AND last_activity_at < ?)`,
		string(types.SessionOpen), cut); err != nil {
		return 0, dbErr("close idle sessions", err)
	}

	res, err := tx.ExecContext(ctx,
		"UPDATE sessions SET status = ? WHERE status = ? AND last_activity_at < ?",
		string(types.SessionClosed), string(types.SessionOpen), cut)
	if err != nil {
		return 0, dbErr("close idle sessions", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, dbErr("close idle sessions", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, dbErr("close idle sessions", err)
	}
	if n > 0 {
		logging.Session("Idle sweep closed %d session(s)", n)
	}
	return n, nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullFloat(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}
