package coordinator

import (
	"context"
	"sync"
	"time"

	"convergeai/internal/config"
	"convergeai/internal/logging"
	"convergeai/internal/types"
)

// =============================================================================
// IDLE SESSION SWEEPER
// =============================================================================

// Sweeper closes sessions idle past the configured timeout on a fixed
// interval. Turns that race a sweep are safe: OpenOrLoad mints a fresh
// session when it finds a closed one.
type Sweeper struct {
	sessions types.SessionRepo
	cfg      config.Provider

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewSweeper builds a Sweeper; call Start to begin sweeping.
func NewSweeper(sessions types.SessionRepo, cfg config.Provider) *Sweeper {
	return &Sweeper{
		sessions: sessions,
		cfg:      cfg,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the sweep loop in a goroutine. Calling Start twice is a
// no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	logging.Session("Sweeper started (interval=%s idle=%s)",
		s.cfg.Current().SessionSweepInterval(), s.cfg.Current().SessionIdleTimeout())
	go s.run(ctx)
}

// Stop halts the loop and waits for the in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	<-s.doneCh
	logging.Session("Sweeper stopped")
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.cfg.Current().SessionSweepInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweep(ctx)
			// Interval is hot-reloadable; pick up changes between ticks.
			ticker.Reset(s.cfg.Current().SessionSweepInterval())
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	conf := s.cfg.Current()
	cutoff := time.Now().UTC().Add(-conf.SessionIdleTimeout())

	sweepCtx, cancel := context.WithTimeout(ctx, conf.DBTimeout())
	defer cancel()

	n, err := s.sessions.CloseIdleSessions(sweepCtx, cutoff)
	if err != nil {
		logging.Get(logging.CategorySession).Error("Sweep failed: %v", err)
		return
	}
	if n > 0 {
		logging.Session("Sweep closed %d idle session(s)", n)
	}
}
