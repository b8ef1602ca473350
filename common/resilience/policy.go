package resilience

import "time"

// RetryPolicy bounds how often one guarded call is attempted.
type RetryPolicy struct {
	Attempts   int
	Backoff    time.Duration
	MaxBackoff time.Duration
	Multiplier float64
}

// BreakerPolicy configures the circuit breaker kept per dependency.
type BreakerPolicy struct {
	Enabled bool
	// MinRequests is how many guarded calls a window needs before it can trip.
	MinRequests  uint32
	FailureRatio float64
	// Cooldown is how long an open breaker rejects calls before letting
	// HalfOpenCalls calls through.
	Cooldown      time.Duration
	HalfOpenCalls uint32
}

type Config struct {
	Retry   RetryPolicy
	Breaker BreakerPolicy
}

// LLMDefaults suits generation calls: a few slow attempts and a breaker
// that opens when the provider keeps failing across documents.
func LLMDefaults() Config {
	return Config{
		Retry: RetryPolicy{
			Attempts:   3,
			Backoff:    time.Second,
			MaxBackoff: 8 * time.Second,
			Multiplier: 2,
		},
		Breaker: BreakerPolicy{
			Enabled:       true,
			MinRequests:   5,
			FailureRatio:  0.6,
			Cooldown:      30 * time.Second,
			HalfOpenCalls: 1,
		},
	}
}

// EventDefaults suits progress events: one quick retry and no breaker,
// since a dropped event never fails a document.
func EventDefaults() Config {
	return Config{
		Retry: RetryPolicy{
			Attempts:   2,
			Backoff:    100 * time.Millisecond,
			MaxBackoff: 100 * time.Millisecond,
			Multiplier: 1,
		},
	}
}

func (c Config) withDefaults() Config {
	def := LLMDefaults()

	r := &c.Retry
	if r.Attempts <= 0 {
		r.Attempts = 1
	}
	if r.Backoff < 0 {
		r.Backoff = 0
	}
	if r.MaxBackoff < r.Backoff {
		r.MaxBackoff = r.Backoff
	}
	if r.Multiplier < 1 {
		r.Multiplier = def.Retry.Multiplier
	}

	b := &c.Breaker
	if b.MinRequests == 0 {
		b.MinRequests = def.Breaker.MinRequests
	}
	if b.FailureRatio <= 0 || b.FailureRatio > 1 {
		b.FailureRatio = def.Breaker.FailureRatio
	}
	if b.Cooldown <= 0 {
		b.Cooldown = def.Breaker.Cooldown
	}
	if b.HalfOpenCalls == 0 {
		b.HalfOpenCalls = def.Breaker.HalfOpenCalls
	}
	return c
}
