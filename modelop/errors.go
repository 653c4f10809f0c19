package modelop

import "errors"

// Sentinel errors for every admission-pipeline rejection kind named in
// spec.md §7. Wrapped with fmt.Errorf("...: %w", ...) for context and
// unwrapped with errors.Is by callers (e.g. an HTTP layer mapping these to
// status codes).
var (
	// ErrInvalid covers a budget violation or an oversize prompt with
	// truncation disabled. Maps to 400.
	ErrInvalid = errors.New("gateway: invalid request")
	// ErrConflict is a request-id collision. Maps to 409.
	ErrConflict = errors.New("gateway: request id already in flight")
	// ErrRateLimited is a tenant rate-limit rejection. Maps to 429.
	ErrRateLimited = errors.New("gateway: rate limit exceeded")
	// ErrBackpressure covers KV-cache shedding and queue-full rejections.
	// Maps to 429.
	ErrBackpressure = errors.New("gateway: backpressure")
	// ErrTimeout is a generation-timeout rejection. Maps to 504.
	ErrTimeout = errors.New("gateway: generation timeout")
	// ErrUnavailable is a request-id allocation exhaustion. Maps to 503.
	ErrUnavailable = errors.New("gateway: could not allocate request id")
	// errSchedulerStopped is the terminal condition every outstanding job
	// resolves with when the scheduler drains.
	errSchedulerStopped = errors.New("gateway: scheduler stopped")
)
