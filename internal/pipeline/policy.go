package pipeline

import "time"

// RetryPolicy controls how the runner retries a failed processing run.
// The delay doubles with every attempt: BaseDelay, 2x, 4x, and so on.
// Retries happen here, inside the run, so one workflow execution owns
// the whole lifecycle of an asset.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 60 * time.Second}
}

// Delay returns the wait before re-running after the given zero-based
// attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	return p.BaseDelay * (1 << attempt)
}
