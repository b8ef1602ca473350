package resilience_test

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sony/gobreaker/v2"

	"clausewise.app/analyzer/common/resilience"
)

type recordingObserver struct {
	mu       sync.Mutex
	retries  []string
	breakers []bool
}

func (o *recordingObserver) ObserveRetry(dependency, stage string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.retries = append(o.retries, dependency+"/"+stage)
}

func (o *recordingObserver) ObserveBreaker(_ string, open bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.breakers = append(o.breakers, open)
}

var _ = Describe("Guard", func() {
	var (
		ctx        context.Context
		errTimeout error
		errRefused error
		observer   *recordingObserver
	)

	BeforeEach(func() {
		ctx = context.Background()
		errTimeout = errors.New("upstream timeout")
		errRefused = errors.New("prompt rejected")
		observer = &recordingObserver{}
	})

	classify := func(_ context.Context, err error) resilience.Verdict {
		switch {
		case errors.Is(err, errTimeout):
			return resilience.Transient
		case errors.Is(err, errRefused):
			return resilience.Final
		}
		return resilience.Down
	}

	fastRetry := resilience.RetryPolicy{Attempts: 3, Backoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond, Multiplier: 2}

	It("retries transient failures and reports each retry with its stage", func() {
		g := resilience.NewGuard(resilience.Config{Retry: fastRetry}, observer)

		attempts := 0
		err := g.Do(ctx, resilience.Call{Dependency: "llm:openai", Stage: "contract_summary", Classify: classify}, func(context.Context) error {
			attempts++
			if attempts < 3 {
				return errTimeout
			}
			return nil
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(attempts).To(Equal(3))
		Expect(observer.retries).To(Equal([]string{"llm:openai/contract_summary", "llm:openai/contract_summary"}))
	})

	It("returns the last error once attempts are spent", func() {
		g := resilience.NewGuard(resilience.Config{Retry: resilience.RetryPolicy{Attempts: 2, Backoff: time.Millisecond}}, nil)

		attempts := 0
		err := g.Do(ctx, resilience.Call{Dependency: "nats", Classify: classify}, func(context.Context) error {
			attempts++
			return errTimeout
		})

		Expect(err).To(MatchError(errTimeout))
		Expect(attempts).To(Equal(2))
	})

	It("does not retry final or down verdicts", func() {
		g := resilience.NewGuard(resilience.Config{Retry: fastRetry}, nil)

		for _, failure := range []error{errRefused, errors.New("auth failed")} {
			attempts := 0
			err := g.Do(ctx, resilience.Call{Dependency: "llm:openai", Classify: classify}, func(context.Context) error {
				attempts++
				return failure
			})
			Expect(err).To(MatchError(failure))
			Expect(attempts).To(Equal(1))
		}
	})

	Describe("breakers", func() {
		tripFast := resilience.BreakerPolicy{Enabled: true, MinRequests: 2, FailureRatio: 0.5, Cooldown: time.Minute, HalfOpenCalls: 1}

		It("opens one breaker for every stage calling the same provider", func() {
			g := resilience.NewGuard(resilience.Config{Retry: resilience.RetryPolicy{Attempts: 1}, Breaker: tripFast}, observer)

			for _, stage := range []string{"contract_validation", "contract_summary"} {
				err := g.Do(ctx, resilience.Call{Dependency: "llm:openai", Stage: stage, Classify: classify}, func(context.Context) error {
					return errTimeout
				})
				Expect(err).To(MatchError(errTimeout))
			}
			Expect(g.Open("llm:openai")).To(BeTrue())
			Expect(observer.breakers).To(Equal([]bool{true}))

			called := false
			err := g.Do(ctx, resilience.Call{Dependency: "llm:openai", Stage: "contract_details"}, func(context.Context) error {
				called = true
				return nil
			})
			Expect(called).To(BeFalse())
			Expect(errors.Is(err, gobreaker.ErrOpenState)).To(BeTrue())
			Expect(resilience.IsUnavailable(err)).To(BeTrue())
			Expect(err).To(MatchError(ContainSubstring("llm:openai unavailable")))

			Expect(g.Do(ctx, resilience.Call{Dependency: "llm:anthropic"}, func(context.Context) error { return nil })).To(Succeed())
		})

		It("does not count final errors against the provider", func() {
			g := resilience.NewGuard(resilience.Config{Retry: resilience.RetryPolicy{Attempts: 1}, Breaker: tripFast}, nil)

			for range 4 {
				err := g.Do(ctx, resilience.Call{Dependency: "llm:openai", Classify: classify}, func(context.Context) error {
					return errRefused
				})
				Expect(err).To(Equal(errRefused))
			}
			Expect(g.Open("llm:openai")).To(BeFalse())
		})

		It("classifies each call with its own classifier", func() {
			g := resilience.NewGuard(resilience.Config{Retry: resilience.RetryPolicy{Attempts: 1}, Breaker: tripFast}, nil)
			lenient := func(context.Context, error) resilience.Verdict { return resilience.Final }

			// The first call creates the breaker; its classifier must not stick.
			Expect(g.Do(ctx, resilience.Call{Dependency: "nats", Classify: lenient}, func(context.Context) error {
				return errTimeout
			})).To(MatchError(errTimeout))
			for range 2 {
				_ = g.Do(ctx, resilience.Call{Dependency: "nats", Classify: classify}, func(context.Context) error {
					return errTimeout
				})
			}
			Expect(g.Open("nats")).To(BeTrue())
		})
	})

	It("returns without calling fn when the context is already done", func() {
		g := resilience.NewGuard(resilience.LLMDefaults(), nil)
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		called := false
		err := g.Do(cancelled, resilience.Call{Dependency: "llm:openai"}, func(context.Context) error {
			called = true
			return nil
		})

		Expect(err).To(MatchError(context.Canceled))
		Expect(called).To(BeFalse())
		Expect(g.Open("llm:openai")).To(BeFalse())
	})

	It("names verdicts for logs", func() {
		Expect(resilience.Transient.String()).To(Equal("transient"))
		Expect(resilience.Down.String()).To(Equal("down"))
		Expect(resilience.Final.String()).To(Equal("final"))
	})
})
