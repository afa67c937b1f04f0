// Package ratelimit implements fixed-window request counters keyed by an
// arbitrary client key (usually an IP address or user id).
package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of counting one request.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is how long the client should wait before the window resets.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	return max(d.ResetAt.Sub(now), 0)
}

// Policy counts requests per key within a window.
type Policy interface {
	// Allow counts one request for key and reports whether it fits the limit.
	Allow(ctx context.Context, key string) (Decision, error)
	// Release un-counts a request previously admitted for key.
	Release(ctx context.Context, key string) error
	// Name identifies the policy in keys, logs and metrics.
	Name() string
}

// Rule describes one limit.
type Rule struct {
	Name   string
	Limit  int
	Window time.Duration
}

func decide(rule Rule, count int64, resetAt time.Time) Decision {
	return Decision{
		Allowed:   count <= int64(rule.Limit),
		Limit:     rule.Limit,
		Remaining: max(rule.Limit-int(count), 0),
		ResetAt:   resetAt,
	}
}
