package pipeline

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/refstack/ocrbridge/internal/ocr"
)

func TestRetryPolicy_WaitGrowsLinearly(t *testing.T) {
	p := DefaultRetryPolicy()
	want := []time.Duration{
		10 * time.Second,
		20 * time.Second,
		30 * time.Second,
		40 * time.Second,
	}
	for i, w := range want {
		if got := p.Wait(i + 1); got != w {
			t.Errorf("Wait(%d) = %s, want %s", i+1, got, w)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	retryable := &ocr.RetryableError{StatusCode: 503, Message: "unavailable"}
	if !IsRetryable(retryable) {
		t.Error("RetryableError must be retryable")
	}
	if !IsRetryable(fmt.Errorf("chunk 2: %w", retryable)) {
		t.Error("wrapped RetryableError must be retryable")
	}
	if IsRetryable(errors.New("ocr api status 401: unauthorized")) {
		t.Error("plain errors must not be retryable")
	}
	if IsRetryable(nil) {
		t.Error("nil must not be retryable")
	}
}
