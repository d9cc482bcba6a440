// Package server is the thin HTTP adapter over the coordinator and the ops
// surfaces. Handlers marshal and map error kinds onto status codes; every
// decision about conversations, queues, and alerts stays behind the
// interfaces they call.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"convergeai/internal/types"
)

// =============================================================================
// DEPENDENCIES
// =============================================================================

// TurnHandler runs one conversational turn end to end.
type TurnHandler interface {
	HandleTurn(ctx context.Context, req types.TurnRequest) (*types.TurnResponse, error)
}

// HistoryReader reads session transcripts.
type HistoryReader interface {
	History(ctx context.Context, sessionID string, limit, offset int) ([]types.ConversationMessage, error)
}

// QueueProjector ranks open complaints and pending bookings for staff triage.
type QueueProjector interface {
	Project(ctx context.Context, staff int64, f types.QueueFilter, limit, offset int) ([]types.PriorityQueueItem, error)
}

// AlertService is the staff-facing slice of the alert engine.
type AlertService interface {
	List(ctx context.Context, staff int64, f types.AlertFilter, limit, offset int) ([]types.Alert, error)
	MarkRead(ctx context.Context, alertID, staff int64) error
	Dismiss(ctx context.Context, alertID, staff int64) error
	UnreadCount(ctx context.Context, staff int64) (int, error)
	Subscribe(ctx context.Context, staff int64, alertType string) error
	Subscriptions(ctx context.Context, staff int64) ([]string, error)
}

// =============================================================================
// SERVER
// =============================================================================

// Server holds the handler dependencies.
type Server struct {
	turns    TurnHandler
	sessions HistoryReader
	queue    QueueProjector
	alerts   AlertService
	logger   *zap.Logger
}

// New wires a Server. A nil logger falls back to a no-op one.
func New(turns TurnHandler, sessions HistoryReader, queue QueueProjector, alerts AlertService, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		turns:    turns,
		sessions: sessions,
		queue:    queue,
		alerts:   alerts,
		logger:   logger,
	}
}

// Router builds the chi router with all routes and middleware attached.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Post("/v1/turns", s.handleTurn)
	r.Get("/v1/sessions/{id}/history", s.handleHistory)

	r.Route("/v1/ops", func(r chi.Router) {
		r.Get("/queue", s.handleQueue)
		r.Get("/alerts", s.handleAlertList)
		r.Get("/alerts/unread-count", s.handleUnreadCount)
		r.Get("/alerts/subscriptions", s.handleSubscriptions)
		r.Post("/alerts/subscriptions", s.handleSubscribe)
		r.Post("/alerts/{id}/read", s.handleAlertRead)
		r.Post("/alerts/{id}/dismiss", s.handleAlertDismiss)
	})

	return r
}

// =============================================================================
// REQUEST LOGGING
// =============================================================================

// logRequests emits one structured line per request after the handler runs.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.status),
			zap.Int("bytes", sw.bytes),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// statusWriter captures the status code and body size for the request log.
type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}
