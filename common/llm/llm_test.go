package llm_test

import (
	"context"
	"errors"
	"fmt"
	"net"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"clausewise.app/analyzer/common/llm"
)

var _ = Describe("decode", func() {
	type out struct {
		Name string `json:"name"`
	}

	It("decodes a bare JSON object", func() {
		var o out
		Expect(llm.Decode(`{"name":"nda"}`, &o)).To(Succeed())
		Expect(o.Name).To(Equal("nda"))
	})

	It("strips markdown fences and prose around the object", func() {
		var o out
		content := "Here you go:\n```json\n{\"name\": \"ica\"}\n```\nThanks."
		Expect(llm.Decode(content, &o)).To(Succeed())
		Expect(o.Name).To(Equal("ica"))
	})

	It("returns ErrEmptyResponse for blank output", func() {
		var o out
		Expect(llm.Decode("  \n", &o)).To(MatchError(llm.ErrEmptyResponse))
	})

	It("fails when there is no object at all", func() {
		var o out
		err := llm.Decode("I cannot help with that.", &o)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("unmarshal response"))
	})
})

var _ = Describe("IsRetryable", func() {
	ctx := context.Background()

	It("does not retry cancellation", func() {
		Expect(llm.IsRetryable(ctx, context.Canceled)).To(BeFalse())
		Expect(llm.IsRetryable(ctx, fmt.Errorf("chat: %w", context.DeadlineExceeded))).To(BeFalse())
	})

	It("does not retry decode failures or empty output", func() {
		Expect(llm.IsRetryable(ctx, fmt.Errorf("unmarshal response: bad"))).To(BeFalse())
		Expect(llm.IsRetryable(ctx, llm.ErrEmptyResponse)).To(BeFalse())
	})

	It("retries network failures", func() {
		err := &net.OpError{Op: "dial", Err: errors.New("connection refused")}
		Expect(llm.IsRetryable(ctx, err)).To(BeTrue())
	})

	It("treats nil as not retryable", func() {
		Expect(llm.IsRetryable(ctx, nil)).To(BeFalse())
	})

	It("reports no status for errors that are not provider responses", func() {
		Expect(llm.StatusCode(&net.OpError{Op: "dial", Err: errors.New("refused")})).To(BeZero())
		Expect(llm.StatusCode(nil)).To(BeZero())
	})
})

var _ = Describe("New", func() {
	It("requires an API key", func() {
		_, err := llm.New(llm.Config{Provider: llm.ProviderOpenAI})
		Expect(err).To(HaveOccurred())
	})

	It("rejects unknown providers", func() {
		_, err := llm.New(llm.Config{Provider: "mistral", APIKey: "k"})
		Expect(err).To(MatchError(ContainSubstring("unsupported LLM provider")))
	})

	It("builds a client with the configured model", func() {
		c, err := llm.New(llm.Config{Provider: llm.ProviderAnthropic, APIKey: "k", Model: "claude-test"})
		Expect(err).NotTo(HaveOccurred())
		Expect(c.Model()).To(Equal("claude-test"))
	})
})

var _ = Describe("Validator", func() {
	schema := map[string]any{
		"type":     "object",
		"required": []any{"isValidContract", "confidenceScore"},
		"properties": map[string]any{
			"isValidContract": map[string]any{"type": "boolean"},
			"confidenceScore": map[string]any{"type": "integer", "minimum": 1, "maximum": 100},
		},
	}

	It("accepts a conforming value", func() {
		v := llm.NewValidator("validation", schema)
		Expect(v.Validate(map[string]any{"isValidContract": true, "confidenceScore": float64(90)})).To(Succeed())
	})

	It("rejects missing fields and out-of-range values", func() {
		v := llm.NewValidator("validation", schema)
		Expect(v.Validate(map[string]any{"isValidContract": true})).NotTo(Succeed())
		Expect(v.Validate(map[string]any{"isValidContract": true, "confidenceScore": float64(150)})).NotTo(Succeed())
	})
})
