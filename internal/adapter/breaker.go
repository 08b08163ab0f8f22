package adapter

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerSettings tunes the per-tool circuit breakers.
type BreakerSettings struct {
	MaxFailures uint32        // consecutive errors that open the breaker
	OpenTimeout time.Duration // how long it stays open before probing
	HalfOpenMax uint32        // probe calls allowed while half-open
}

// DefaultBreakerSettings opens after five consecutive errors and probes
// again after thirty seconds.
var DefaultBreakerSettings = BreakerSettings{
	MaxFailures: 5,
	OpenTimeout: 30 * time.Second,
	HalfOpenMax: 3,
}

// Breakers hands out one circuit breaker per tool name.
type Breakers struct {
	settings BreakerSettings

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func NewBreakers(settings BreakerSettings) *Breakers {
	return &Breakers{settings: settings, breakers: make(map[string]*gobreaker.CircuitBreaker)}
}

// Get returns the breaker for name, creating it on first use.
func (b *Breakers) Get(name string) *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cb, ok := b.breakers[name]; ok {
		return cb
	}
	maxFailures := b.settings.MaxFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: b.settings.HalfOpenMax,
		Timeout:     b.settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("Circuit breaker %q: %s -> %s", name, from, to)
		},
		IsSuccessful: func(err error) bool {
			// A cancelled or timed-out call says nothing about the tool.
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})
	b.breakers[name] = cb
	return cb
}

// Guard wraps an adapter so that errors from Execute and Review feed a
// circuit breaker. While the breaker is open calls fail immediately.
// Failed results are not errors and do not trip it.
type Guard struct {
	Adapter
	cb *gobreaker.CircuitBreaker
}

// NewGuard wraps a with the breaker for its name.
func NewGuard(a Adapter, breakers *Breakers) *Guard {
	return &Guard{Adapter: a, cb: breakers.Get(a.Name())}
}

// State reports the breaker state.
func (g *Guard) State() gobreaker.State {
	return g.cb.State()
}

// IsAvailable is false while the breaker is open.
func (g *Guard) IsAvailable(ctx context.Context) bool {
	return g.cb.State() != gobreaker.StateOpen && g.Adapter.IsAvailable(ctx)
}

// Execute returns whatever the adapter reported alongside its error, so the
// tokens of a call that failed part way are still billed.
func (g *Guard) Execute(ctx context.Context, tc TaskContext) (ExecutionResult, error) {
	var res ExecutionResult
	_, err := g.cb.Execute(func() (interface{}, error) {
		var err error
		res, err = g.Adapter.Execute(ctx, tc)
		return nil, err
	})
	if err != nil {
		return res, g.wrap(err)
	}
	return res, nil
}

func (g *Guard) Review(ctx context.Context, tc TaskContext, diff string) (ReviewResult, error) {
	var rv ReviewResult
	_, err := g.cb.Execute(func() (interface{}, error) {
		var err error
		rv, err = g.Adapter.Review(ctx, tc, diff)
		return nil, err
	})
	if err != nil {
		return rv, g.wrap(err)
	}
	return rv, nil
}

func (g *Guard) wrap(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s unavailable: %w", g.Name(), err)
	}
	return err
}
