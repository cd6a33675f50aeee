// retry.go retries journal writes that hit transient SQLite contention.
//
// Several datacenters may share one WAL-mode journal. busy_timeout covers
// SQLITE_BUSY at the connection level; SQLITE_LOCKED and short WAL reads
// still surface and are retried here with exponential backoff.
package journal

import (
	"context"
	"strings"
	"time"

	clocks "github.com/vimeo/go-clocks"
	retry "github.com/vimeo/go-retry"
)

type retryConfig struct {
	maxRetries int
	backoff    func() *retry.Backoff
	clock      clocks.Clock
}

func defaultRetryConfig() retryConfig {
	return retryConfig{
		maxRetries: 3,
		backoff: func() *retry.Backoff {
			b := retry.DefaultBackoff()
			b.MinBackoff = 50 * time.Millisecond
			b.MaxBackoff = 500 * time.Millisecond
			return &b
		},
		clock: clocks.DefaultClock(),
	}
}

// isTransientSQLiteErr reports whether err is worth retrying:
//   - SQLITE_BUSY (5)
//   - SQLITE_LOCKED (6)
//   - SQLITE_IOERR_SHORT_READ (522)
//   - "database is locked" text from the busy_timeout fallthrough
func isTransientSQLiteErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, pattern := range []string{
		"SQLITE_BUSY",
		"SQLITE_LOCKED",
		"IOERR_SHORT_READ",
		"database is locked",
		"database table is locked",
		"(5)",
		"(6)",
		"(522)",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// retryOp runs fn until it succeeds, fails permanently, or maxRetries
// retries have been spent.
func retryOp(cfg retryConfig, fn func() error) error {
	b := cfg.backoff()
	var lastErr error
	for attempt := 0; attempt <= cfg.maxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil || !isTransientSQLiteErr(lastErr) {
			return lastErr
		}
		if attempt < cfg.maxRetries {
			cfg.clock.SleepFor(context.Background(), b.Next())
		}
	}
	return lastErr
}
