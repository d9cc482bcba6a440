package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"convergeai/internal/types"
)

// =============================================================================
// RESPONSE ENVELOPES
// =============================================================================

// errorResponse is the uniform error body. Retryable marks upstream failures
// worth one client-side retry; Turn carries the apology reply when a turn
// failed after its transcript writes already landed.
type errorResponse struct {
	Error     string              `json:"error"`
	Retryable bool                `json:"retryable,omitempty"`
	RequestID string              `json:"request_id,omitempty"`
	Turn      *types.TurnResponse `json:"turn,omitempty"`
}

type historyResponse struct {
	SessionID string                      `json:"session_id"`
	Messages  []types.ConversationMessage `json:"messages"`
}

type queueResponse struct {
	Items []types.PriorityQueueItem `json:"items"`
}

type alertListResponse struct {
	Alerts []types.Alert `json:"alerts"`
}

// =============================================================================
// TURN + HISTORY
// =============================================================================

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req types.TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, types.UserInputErr("malformed turn request: %v", err))
		return
	}
	resp, err := s.turns.HandleTurn(r.Context(), req)
	if err != nil {
		// resp may still be set on upstream failure; the apology reply is
		// already in the transcript, so hand it to the client with the error.
		s.writeErrorWith(w, r, err, resp)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	q := r.URL.Query()
	msgs, err := s.sessions.History(r.Context(), sessionID,
		parseLimit(q.Get("limit"), 50, 500), parseOffset(q.Get("offset")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []types.ConversationMessage{}
	}
	s.writeJSON(w, http.StatusOK, historyResponse{SessionID: sessionID, Messages: msgs})
}

// =============================================================================
// OPS: QUEUE + ALERTS
// =============================================================================

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	staff, err := staffRef(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	f := types.QueueFilter{
		Status:   q.Get("status"),
		Priority: types.Priority(q.Get("priority")),
	}
	if v := q.Get("assigned"); v != "" {
		assigned := v == "true"
		f.Assigned = &assigned
	}
	items, err := s.queue.Project(r.Context(), staff, f,
		parseLimit(q.Get("limit"), 20, 200), parseOffset(q.Get("offset")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if items == nil {
		items = []types.PriorityQueueItem{}
	}
	s.writeJSON(w, http.StatusOK, queueResponse{Items: items})
}

func (s *Server) handleAlertList(w http.ResponseWriter, r *http.Request) {
	staff, err := staffRef(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	f := types.AlertFilter{
		Type:       q.Get("type"),
		Severity:   types.AlertSeverity(q.Get("severity")),
		UnreadOnly: q.Get("unread") == "true",
	}
	alerts, err := s.alerts.List(r.Context(), staff, f,
		parseLimit(q.Get("limit"), 20, 200), parseOffset(q.Get("offset")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if alerts == nil {
		alerts = []types.Alert{}
	}
	s.writeJSON(w, http.StatusOK, alertListResponse{Alerts: alerts})
}

func (s *Server) handleAlertRead(w http.ResponseWriter, r *http.Request) {
	s.alertAction(w, r, s.alerts.MarkRead)
}

func (s *Server) handleAlertDismiss(w http.ResponseWriter, r *http.Request) {
	s.alertAction(w, r, s.alerts.Dismiss)
}

func (s *Server) alertAction(w http.ResponseWriter, r *http.Request, do func(context.Context, int64, int64) error) {
	staff, err := staffRef(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, r, types.UserInputErr("invalid alert id %q", raw))
		return
	}
	if err := do(r.Context(), id, staff); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	staff, err := staffRef(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	n, err := s.alerts.UnreadCount(r.Context(), staff)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"unread": n})
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	staff, err := staffRef(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var body struct {
		Type string `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, r, types.UserInputErr("malformed subscription request: %v", err))
		return
	}
	if err := s.alerts.Subscribe(r.Context(), staff, body.Type); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	staff, err := staffRef(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	subs, err := s.alerts.Subscriptions(r.Context(), staff)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if subs == nil {
		subs = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string][]string{"subscriptions": subs})
}

// =============================================================================
// ERROR MAPPING + HELPERS
// =============================================================================

// statusFor maps error kinds onto the wire: bad input 400, unknown resource
// 404, exhausted budget 429, upstream trouble 503, anything else 500.
func statusFor(err error) int {
	if errors.Is(err, types.ErrSessionNotFound) || errors.Is(err, types.ErrAlertNotFound) {
		return http.StatusNotFound
	}
	switch types.KindOf(err) {
	case types.KindUserInput:
		return http.StatusBadRequest
	case types.KindDeadline:
		return http.StatusTooManyRequests
	case types.KindUpstream:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage keeps stack internals out of 5xx and 429 bodies.
func publicMessage(err error, status int) string {
	switch status {
	case http.StatusInternalServerError:
		return "internal error"
	case http.StatusServiceUnavailable:
		return "upstream failure"
	case http.StatusTooManyRequests:
		return "request budget exceeded"
	}
	return err.Error()
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	s.writeErrorWith(w, r, err, nil)
}

func (s *Server) writeErrorWith(w http.ResponseWriter, r *http.Request, err error, turn *types.TurnResponse) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("handler failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
	}
	s.writeJSON(w, status, errorResponse{
		Error:     publicMessage(err, status),
		Retryable: types.Retryable(err),
		RequestID: middleware.GetReqID(r.Context()),
		Turn:      turn,
	})
}

// writeJSON writes v with the given status. Encode failures are only logged;
// the status line is already on the wire.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", zap.Error(err))
	}
}

// staffRef pulls the acting staff id from the query string. Ops endpoints
// need it for audit attribution; authentication is outside this adapter.
func staffRef(r *http.Request) (int64, error) {
	raw := r.URL.Query().Get("staff")
	if raw == "" {
		return 0, types.UserInputErr("staff query parameter required")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, types.UserInputErr("invalid staff ref %q", raw)
	}
	return id, nil
}

// parseLimit parses a limit query param with a default and a cap.
func parseLimit(raw string, def, max int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

func parseOffset(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
