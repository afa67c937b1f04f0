package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-chi/httprate"
)

// MemoryLimiter is a single-process Policy used when no Redis is configured.
// Its windows are aligned to multiples of the rule's window.
type MemoryLimiter struct {
	rule    Rule
	counter httprate.LimitCounter
	now     func() time.Time

	// mu keeps the increment and the read of one Allow together.
	mu sync.Mutex
}

func NewMemoryLimiter(rule Rule) *MemoryLimiter {
	return &MemoryLimiter{
		rule:    rule,
		counter: httprate.NewLocalLimitCounter(rule.Window),
		now:     time.Now,
	}
}

// WithClock replaces the time source and returns l.
func (l *MemoryLimiter) WithClock(now func() time.Time) *MemoryLimiter {
	l.now = now
	return l
}

func (l *MemoryLimiter) Name() string { return l.rule.Name }

func (l *MemoryLimiter) windows() (current, previous time.Time) {
	current = l.now().UTC().Truncate(l.rule.Window)
	return current, current.Add(-l.rule.Window)
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	current, previous := l.windows()
	if err := l.counter.IncrementBy(key, current, 1); err != nil {
		return Decision{}, fmt.Errorf("count request: %w", err)
	}
	n, _, err := l.counter.Get(key, current, previous)
	if err != nil {
		return Decision{}, fmt.Errorf("read counter: %w", err)
	}

	return decide(l.rule, int64(n), current.Add(l.rule.Window)), nil
}

func (l *MemoryLimiter) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	current, previous := l.windows()
	n, _, err := l.counter.Get(key, current, previous)
	if err != nil {
		return fmt.Errorf("read counter: %w", err)
	}
	if n == 0 {
		return nil
	}
	return l.counter.IncrementBy(key, current, -1)
}
