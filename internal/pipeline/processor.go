package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/refstack/ocrbridge/internal/ocr"
)

// ocrClient is the remote OCR boundary; satisfied by *ocr.Client.
type ocrClient interface {
	Process(ctx context.Context, document []byte, sourceFile string, opts ocr.Options) (*ocr.Result, error)
}

// ChunkProcessor runs one document (a whole PDF or one materialized chunk)
// through the remote OCR service with bounded retry. Success or failure is
// all-or-nothing per call; no partial state is kept between attempts.
type ChunkProcessor struct {
	client ocrClient
	policy RetryPolicy
	opts   ocr.Options
	log    *slog.Logger
}

func NewChunkProcessor(client ocrClient, policy RetryPolicy, opts ocr.Options, log *slog.Logger) *ChunkProcessor {
	return &ChunkProcessor{client: client, policy: policy, opts: opts, log: log}
}

// ProcessFile reads a PDF and processes it remotely. Transient failures are
// retried up to the policy's attempt limit with linear backoff; the wait is
// cancellable through ctx. Terminal failures abort immediately. When every
// attempt fails transiently, the last transient error is surfaced.
func (p *ChunkProcessor) ProcessFile(ctx context.Context, path, sourceFile string) (*ocr.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var lastErr error
	for attempt := 1; attempt <= p.policy.MaxAttempts; attempt++ {
		result, err := p.client.Process(ctx, data, sourceFile, p.opts)
		if err == nil {
			return result, nil
		}
		if !IsRetryable(err) {
			return nil, err
		}
		lastErr = err
		if attempt == p.policy.MaxAttempts {
			break
		}

		wait := p.policy.Wait(attempt)
		p.log.Warn("transient ocr failure, retrying",
			"source", sourceFile,
			"attempt", attempt,
			"max_attempts", p.policy.MaxAttempts,
			"wait", wait.String(),
			"error", err)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}
