package pipeline

import (
	"errors"
	"time"

	"github.com/refstack/ocrbridge/internal/ocr"
)

// RetryPolicy bounds retries of transient OCR failures. Waits grow
// linearly: BaseDelay after the first failed attempt, 2*BaseDelay after the
// second, and so on.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, BaseDelay: 10 * time.Second}
}

// Wait returns the delay after the given failed attempt (1-indexed).
func (p RetryPolicy) Wait(attempt int) time.Duration {
	return p.BaseDelay * time.Duration(attempt)
}

// IsRetryable checks if an error is a transient provider failure.
func IsRetryable(err error) bool {
	var retryErr *ocr.RetryableError
	return errors.As(err, &retryErr)
}
