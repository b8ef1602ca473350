package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"clausewise.app/analyzer/common/llm"
	"clausewise.app/analyzer/common/resilience"
)

const defaultCallTimeout = 90 * time.Second

// Caller is the single path from a stage to the generation service. It
// applies the rate limit, a per-call timeout, retry and the circuit breaker.
type Caller struct {
	client     llm.Client
	guard      *resilience.Guard
	dependency string
	limiter    *rate.Limiter
	timeout    time.Duration
}

type CallerOption func(*Caller)

func WithTimeout(d time.Duration) CallerOption {
	return func(c *Caller) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRateLimit caps generation calls per second across all stages. A
// non-positive rps leaves calls unlimited.
func WithRateLimit(rps float64, burst int) CallerOption {
	return func(c *Caller) {
		if rps <= 0 {
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithGuard routes every stage call for provider through one breaker.
func WithGuard(g *resilience.Guard, provider string) CallerOption {
	return func(c *Caller) {
		if g != nil {
			c.guard = g
		}
		if provider != "" {
			c.dependency = "llm:" + provider
		}
	}
}

func NewCaller(client llm.Client, opts ...CallerOption) *Caller {
	c := &Caller{
		client:     client,
		guard:      resilience.NewGuard(resilience.Config{}, nil),
		dependency: "llm",
		timeout:    defaultCallTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call sends one stage request and decodes the JSON answer into result. The
// returned error describes an upstream failure; stages turn it into a failed
// Result.
func (c *Caller) Call(ctx context.Context, stage string, req llm.Request, result any) error {
	p := prompts[stage]
	if req.SystemPrompt == "" {
		req.SystemPrompt = p.System
	}
	if req.Temperature == nil {
		req.Temperature = llm.Temp(p.Temperature)
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = p.MaxTokens
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}

	start := time.Now()
	var resp *llm.Response
	call := resilience.Call{Dependency: c.dependency, Stage: stage, Classify: classifyLLMError}
	err := c.guard.Do(ctx, call, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		r, err := c.client.Chat(callCtx, req, result)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%s generation timed out after %s", stage, c.timeout)
		}
		if resilience.IsUnavailable(err) {
			return fmt.Errorf("%s generation unavailable: %w", stage, err)
		}
		return fmt.Errorf("%s generation: %w", stage, err)
	}

	attrs := []any{
		"stage", stage,
		"model", c.client.Model(),
		"prompt_version", p.Version,
		"latency_ms", time.Since(start).Milliseconds(),
	}
	if resp != nil {
		attrs = append(attrs, "prompt_tokens", resp.PromptTokens, "completion_tokens", resp.CompletionTokens)
	}
	slog.InfoContext(ctx, "generation call completed", attrs...)

	return nil
}

func classifyLLMError(ctx context.Context, err error) resilience.Verdict {
	switch {
	case errors.Is(err, context.Canceled):
		return resilience.Final
	case llm.IsRetryable(ctx, err), errors.Is(err, context.DeadlineExceeded):
		return resilience.Transient
	}
	switch llm.StatusCode(err) {
	case http.StatusUnauthorized, http.StatusForbidden:
		// No stage can succeed with a rejected key; let the breaker open.
		return resilience.Down
	}
	// The service answered; a bad prompt or bad output says nothing about its health.
	return resilience.Final
}
