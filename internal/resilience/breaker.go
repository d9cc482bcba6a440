package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"convergeai/internal/logging"
	"convergeai/internal/types"
)

// Breaker shields one upstream collaborator. It trips after five consecutive
// upstream failures and probes again after the cool-off.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// BreakerConfig tunes a Breaker.
type BreakerConfig struct {
	Name                string
	Category            logging.Category
	ConsecutiveFailures uint32        // trip threshold
	CoolOff             time.Duration // open -> half-open
}

// NewBreaker builds a breaker for the named collaborator.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	if cfg.CoolOff <= 0 {
		cfg.CoolOff = 30 * time.Second
	}
	cat := cfg.Category

	return &Breaker{cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.CoolOff,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !types.Retryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Get(cat).Warn("circuit %s: %s -> %s", name, from, to)
		},
	})}
}

// Execute runs fn under the breaker. An open circuit returns unavailable
// without invoking fn, so turn handling degrades instead of queueing on a
// dead collaborator.
func (b *Breaker) Execute(ctx context.Context, unavailable error, fn func(context.Context) error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: circuit %s open", unavailable, b.cb.Name())
	}
	return err
}

// State reports the breaker state for health endpoints.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}
