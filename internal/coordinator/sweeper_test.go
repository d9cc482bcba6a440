package coordinator

import (
	"context"
	"testing"
	"time"

	"go.uber.org/goleak"

	"convergeai/internal/config"
	"convergeai/internal/types"
)

func TestSweeperClosesIdleSessions(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))

	sessions := newMemSessions()
	idle, _, err := sessions.OpenOrLoad(context.Background(), "", 7, types.ChannelWeb, 30*time.Minute)
	if err != nil {
		t.Fatalf("OpenOrLoad: %v", err)
	}
	fresh, _, err := sessions.OpenOrLoad(context.Background(), "", 8, types.ChannelWeb, 30*time.Minute)
	if err != nil {
		t.Fatalf("OpenOrLoad: %v", err)
	}

	sessions.mu.Lock()
	sessions.sessions[idle.SessionID].LastActivityAt = time.Now().UTC().Add(-2 * time.Hour)
	sessions.mu.Unlock()

	cfg := config.DefaultConfig()
	cfg.Session.SweepInterval = "20ms"
	sweeper := NewSweeper(sessions, config.NewStatic(cfg))

	sweeper.Start(context.Background())
	sweeper.Start(context.Background()) // second start is a no-op

	select {
	case <-sessions.sweeps:
	case <-time.After(5 * time.Second):
		t.Fatal("no sweep ran within 5s")
	}

	sweeper.Stop()
	sweeper.Stop() // second stop is a no-op

	sessions.mu.Lock()
	idleStatus := sessions.sessions[idle.SessionID].Status
	freshStatus := sessions.sessions[fresh.SessionID].Status
	sessions.mu.Unlock()

	if idleStatus != types.SessionClosed {
		t.Errorf("idle session status = %s, want closed", idleStatus)
	}
	if freshStatus != types.SessionOpen {
		t.Errorf("fresh session status = %s, want open", freshStatus)
	}
}

func TestSweeperStopsOnContextCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))

	sessions := newMemSessions()
	cfg := config.DefaultConfig()
	cfg.Session.SweepInterval = "20ms"
	sweeper := NewSweeper(sessions, config.NewStatic(cfg))

	ctx, cancel := context.WithCancel(context.Background())
	sweeper.Start(ctx)
	cancel()

	// Stop still returns promptly after the loop exited on its own.
	done := make(chan struct{})
	go func() {
		sweeper.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return after context cancellation")
	}
}
