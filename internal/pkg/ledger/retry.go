package ledger

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"strings"
	"time"
)

const (
	storageRetryAttempts = 3
	storageRetryInitial  = 100 * time.Millisecond
)

// withStorageRetry runs fn, retrying transient infrastructure failures with
// exponential backoff. Application-level errors (validation, signature,
// record-not-found) are never retried.
func withStorageRetry(ctx context.Context, fn func() error) error {
	delay := storageRetryInitial
	var err error
	for attempt := 0; attempt < storageRetryAttempts; attempt++ {
		if err = fn(); err == nil || !isTransientStorageError(err) {
			return err
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
	return err
}

func isTransientStorageError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, fragment := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"invalid connection",
		"i/o timeout",
		"try restarting transaction", // MySQL deadlock (1213)
		"lock wait timeout",
	} {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}
