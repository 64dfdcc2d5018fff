package zotero

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// ErrNotFound means the source document or attachment is missing.
var ErrNotFound = errors.New("not found")

// ErrNotAccessible means the file exists but could not be read within the
// probe bound, typically an unsynced remote-placeholder file. Surfaced
// distinctly from ErrNotFound so callers can prompt for remediation instead
// of silently skipping.
var ErrNotAccessible = errors.New("file not accessible")

// ProbeFile verifies that a file can actually be read, within a timeout.
// Cloud-synced library storage can expose placeholder files whose reads
// block indefinitely until the file is downloaded.
func ProbeFile(ctx context.Context, path string, timeout time.Duration) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return fmt.Errorf("%s: %w", path, err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		f, err := os.Open(path)
		if err != nil {
			done <- err
			return
		}
		defer f.Close()
		var buf [4096]byte
		_, err = f.Read(buf[:])
		if err == io.EOF {
			err = nil
		}
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%s: %w: %v", path, ErrNotAccessible, err)
		}
		return nil
	case <-ctx.Done():
		// The reading goroutine is abandoned; it holds no resources the
		// caller depends on.
		return fmt.Errorf("%s: %w: read timed out", path, ErrNotAccessible)
	}
}
