package domain

import (
	"errors"
	"fmt"
)

// ErrStorageUnavailable marks a fatal persistence failure. No partial writes
// happen behind it; callers surface it as a 5xx.
var ErrStorageUnavailable = errors.New("storage unavailable")

// ErrNotFound reports a missing actor, run or record.
var ErrNotFound = errors.New("not found")

// ErrRateLimited reports a request dropped by the dispatcher's rate limiter.
var ErrRateLimited = errors.New("rate limited")

// ValidationError reports a missing or malformed request field. The request
// does not proceed past validation and no state is mutated.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// UnknownActionError reports an orchestration envelope with an action outside
// the closed enumeration.
type UnknownActionError struct {
	Action string
}

func (e UnknownActionError) Error() string {
	return fmt.Sprintf("unknown action %q", e.Action)
}

// StepFailedError reports a step that exhausted its retry budget, failing the
// enclosing run. Step records persisted so far stay visible for diagnosis.
type StepFailedError struct {
	RunID    string
	Step     string
	Attempts int
	Err      error
}

func (e *StepFailedError) Error() string {
	return fmt.Sprintf("step %s failed after %d attempts: %v", e.Step, e.Attempts, e.Err)
}

func (e *StepFailedError) Unwrap() error { return e.Err }

// OrchestrationError wraps a downstream actor failure observed by the hub.
// The original message is preserved; the hub never retries on its own.
type OrchestrationError struct {
	Action string
	Err    error
}

func (e *OrchestrationError) Error() string {
	return fmt.Sprintf("orchestration failed for %s: %v", e.Action, e.Err)
}

func (e *OrchestrationError) Unwrap() error { return e.Err }
