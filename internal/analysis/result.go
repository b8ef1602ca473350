package analysis

// Result is a stage outcome: either a value or a failure reason, never both.
// Expected failures (bad input, rejected contract, bad model output) travel as
// a failed Result. Go errors returned next to a Result mean infrastructure
// trouble and are handled by the caller's retry policy.
type Result[T any] struct {
	value  T
	reason string
	failed bool
}

func Ok[T any](v T) Result[T] {
	return Result[T]{value: v}
}

func Fail[T any](reason string) Result[T] {
	if reason == "" {
		reason = "Unknown failure"
	}
	return Result[T]{reason: reason, failed: true}
}

func (r Result[T]) IsOk() bool {
	return !r.failed
}

// Value returns the payload; it is the zero value for a failed Result.
func (r Result[T]) Value() T {
	return r.value
}

// Reason returns the failure message; it is empty for a successful Result.
func (r Result[T]) Reason() string {
	return r.reason
}
