// Package retry runs an operation with exponential backoff.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Config controls the backoff schedule.
type Config struct {
	MaxRetries   int           // Retries after the first attempt (0 = single attempt)
	InitialDelay time.Duration // Delay before the first retry
	MaxDelay     time.Duration // Cap for any single delay
}

// DefaultConfig returns the schedule used for opening devices.
func DefaultConfig() Config {
	return Config{
		MaxRetries:   2,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     2 * time.Second,
	}
}

// Func is one attempt. The returned error decides whether to retry through
// the Retryable predicate passed to Run.
type Func func(ctx context.Context) error

// Run calls fn until it succeeds, returns a non-retryable error, exhausts
// cfg.MaxRetries or ctx is cancelled. The last attempt's error is returned
// wrapped with the attempt count. label prefixes log messages.
func Run(ctx context.Context, label string, cfg Config, retryable func(error) bool, fn Func) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				slog.Info(label+": succeeded after retry", "attempts", attempt+1)
			}
			return nil
		}
		if !retryable(err) {
			return err
		}
		if attempt >= cfg.MaxRetries {
			if attempt == 0 {
				return err
			}
			return fmt.Errorf("%s: giving up after %d attempts: %w", label, attempt+1, err)
		}

		delay := Backoff(attempt+1, cfg)
		slog.Warn(label+": attempt failed, retrying",
			"attempt", attempt+1,
			"max_retries", cfg.MaxRetries,
			"delay", delay,
			"error", err,
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Backoff returns InitialDelay * 2^(retry-1), capped at MaxDelay.
func Backoff(retry int, cfg Config) time.Duration {
	if retry < 1 {
		retry = 1
	}
	delay := cfg.InitialDelay * time.Duration(1<<uint(retry-1))
	if cfg.MaxDelay > 0 && (delay > cfg.MaxDelay || delay <= 0) {
		delay = cfg.MaxDelay
	}
	return delay
}
