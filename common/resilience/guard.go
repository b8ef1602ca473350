// Package resilience guards calls to the services a document analysis
// depends on: bounded retry per call and one circuit breaker per dependency.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Verdict says what a failed attempt means for the dependency.
type Verdict int

const (
	// Final errors are not retried and say nothing about the dependency's
	// health: cancellations, rejected prompts, undecodable answers.
	Final Verdict = iota
	// Transient errors are retried and count against the breaker.
	Transient
	// Down errors are not retried but still count against the breaker.
	Down
)

func (v Verdict) String() string {
	switch v {
	case Transient:
		return "transient"
	case Down:
		return "down"
	default:
		return "final"
	}
}

type Classifier func(ctx context.Context, err error) Verdict

// Call describes one guarded request.
type Call struct {
	// Dependency keys the breaker, e.g. "llm:openai" or "nats". All stages
	// calling the same provider share it.
	Dependency string
	// Stage labels logs and retry metrics, e.g. "contract_summary".
	Stage    string
	Classify Classifier
}

// Observer receives retry and breaker signals. WorkerMetrics implements it.
type Observer interface {
	ObserveRetry(dependency, stage string)
	ObserveBreaker(dependency string, open bool)
}

type Guard struct {
	cfg      Config
	observer Observer

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[struct{}]
}

func NewGuard(cfg Config, observer Observer) *Guard {
	return &Guard{
		cfg:      cfg.withDefaults(),
		observer: observer,
		breakers: make(map[string]*gobreaker.CircuitBreaker[struct{}]),
	}
}

// exempt carries a Final error through the breaker so it is not counted.
type exempt struct{ err error }

func (e *exempt) Error() string { return e.err.Error() }
func (e *exempt) Unwrap() error { return e.err }

// Do runs fn under the retry policy. With the breaker enabled, the whole
// retry sequence is one breaker request for call.Dependency.
func (g *Guard) Do(ctx context.Context, call Call, fn func(context.Context) error) error {
	if fn == nil {
		return fmt.Errorf("resilience: nil call for %s", call.Dependency)
	}
	call.Dependency = strings.TrimSpace(call.Dependency)
	if call.Dependency == "" {
		call.Dependency = "unknown"
	}
	if call.Classify == nil {
		call.Classify = assumeDown
	}

	if !g.cfg.Breaker.Enabled {
		_, err := g.attempt(ctx, call, fn)
		return err
	}

	_, err := g.breaker(call.Dependency).Execute(func() (struct{}, error) {
		verdict, err := g.attempt(ctx, call, fn)
		if err != nil && verdict == Final {
			return struct{}{}, &exempt{err: err}
		}
		return struct{}{}, err
	})
	var ex *exempt
	if errors.As(err, &ex) {
		return ex.err
	}
	if IsUnavailable(err) {
		return fmt.Errorf("%s unavailable: %w", call.Dependency, err)
	}
	return err
}

func (g *Guard) attempt(ctx context.Context, call Call, fn func(context.Context) error) (Verdict, error) {
	policy := g.cfg.Retry
	backoff := policy.Backoff

	for n := 1; ; n++ {
		if err := ctx.Err(); err != nil {
			return Final, err
		}

		err := fn(ctx)
		if err == nil {
			return Final, nil
		}

		verdict := call.Classify(ctx, err)
		if verdict != Transient || n >= policy.Attempts {
			return verdict, err
		}

		slog.WarnContext(ctx, "retrying dependency call",
			"dependency", call.Dependency,
			"stage", call.Stage,
			"attempt", n,
			"max_attempts", policy.Attempts,
			"backoff_ms", backoff.Milliseconds(),
			"error", err)
		if g.observer != nil {
			g.observer.ObserveRetry(call.Dependency, call.Stage)
		}

		if backoff > 0 {
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return Final, err
			case <-timer.C:
			}
		}
		backoff = min(time.Duration(float64(backoff)*policy.Multiplier), policy.MaxBackoff)
	}
}

func (g *Guard) breaker(dependency string) *gobreaker.CircuitBreaker[struct{}] {
	g.mu.Lock()
	defer g.mu.Unlock()

	if b, ok := g.breakers[dependency]; ok {
		return b
	}

	policy := g.cfg.Breaker
	b := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        dependency,
		MaxRequests: policy.HalfOpenCalls,
		Timeout:     policy.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < policy.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= policy.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			var ex *exempt
			return err == nil || errors.As(err, &ex)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("dependency breaker changed state", "dependency", name, "from", from.String(), "to", to.String())
			if g.observer != nil {
				g.observer.ObserveBreaker(name, to == gobreaker.StateOpen)
			}
		},
	})
	g.breakers[dependency] = b
	return b
}

// Open reports whether the breaker for dependency is currently rejecting calls.
func (g *Guard) Open(dependency string) bool {
	g.mu.Lock()
	b, ok := g.breakers[dependency]
	g.mu.Unlock()
	return ok && b.State() == gobreaker.StateOpen
}

// IsUnavailable reports whether err came from an open or saturated breaker.
func IsUnavailable(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func assumeDown(context.Context, error) Verdict {
	return Down
}
