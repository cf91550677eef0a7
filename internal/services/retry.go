package services

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
)

// RetryPolicy controls exponential backoff between attempts.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultStartupPolicy waits roughly half a minute for a backing service to
// come up.
var DefaultStartupPolicy = RetryPolicy{
	MaxRetries:    6,
	InitialDelay:  500 * time.Millisecond,
	MaxDelay:      8 * time.Second,
	BackoffFactor: 2,
}

// Retry calls op until it succeeds, fails with a non-retryable error, runs
// out of attempts or ctx is cancelled. The last error is returned.
func Retry(ctx context.Context, name string, policy RetryPolicy, op func(context.Context) error) error {
	var err error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if err = op(ctx); err == nil {
			return nil
		}
		if !isRetryable(err) || attempt >= policy.MaxRetries {
			break
		}
		slog.Warn("retry: attempt failed", "op", name, "attempt", attempt+1, "err", err)
		if !sleepWithBackoff(ctx, policy, attempt) {
			return fmt.Errorf("%s: %w", name, ctx.Err())
		}
	}
	return fmt.Errorf("%s: %w", name, err)
}

// sleepWithBackoff waits for the backoff duration. It reports false if ctx
// ended first.
func sleepWithBackoff(ctx context.Context, policy RetryPolicy, attempt int) bool {
	delay := calculateBackoff(policy, attempt)
	slog.Info("retry: backing off", "attempt", attempt+1, "delay", delay)

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// calculateBackoff computes the delay for a given attempt using exponential backoff.
func calculateBackoff(policy RetryPolicy, attempt int) time.Duration {
	delay := float64(policy.InitialDelay) * math.Pow(policy.BackoffFactor, float64(attempt))
	if time.Duration(delay) > policy.MaxDelay {
		return policy.MaxDelay
	}
	return time.Duration(delay)
}

// isRetryable checks if an error looks like a transient connectivity problem.
func isRetryable(err error) bool {
	lower := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"timeout", "i/o timeout", "connection reset", "connection refused",
		"no such host", "eof", "the database system is starting up",
		"loading", "too many clients",
	}
	for _, pattern := range retryablePatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}
