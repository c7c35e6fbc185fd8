// Package ratelimit provides fixed-window admission control keyed by
// (identifier, action). Windows are aligned to fixed epoch boundaries, not to
// the actor's first action, so an actor's budget resets entirely at each
// boundary. Two backends share the same Take contract: an in-process store
// for tests and single-node runs, and a Redis store whose Lua script makes
// the check-and-increment atomic across instances.
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Actions recognized by this application.
const (
	ActionVote       = "vote"
	ActionCreatePoll = "create_poll"
)

// Rule bounds how many times an identifier may perform an action within one
// aligned window.
type Rule struct {
	Max    int
	Window time.Duration
}

// DefaultRules returns the application defaults: 10 votes per minute and
// 5 poll creations per 5 minutes.
func DefaultRules() map[string]Rule {
	return map[string]Rule{
		ActionVote:       {Max: 10, Window: time.Minute},
		ActionCreatePoll: {Max: 5, Window: 5 * time.Minute},
	}
}

// Decision is the outcome of a Take.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Store atomically counts the windows inside the lookback and, when under
// the limit, increments the current aligned window.
type Store interface {
	Take(ctx context.Context, identifier, action string, rule Rule, now time.Time) (Decision, error)
}

// Error is returned by Limiter.Check when an action is denied.
type Error struct {
	Action     string
	RetryAfter time.Duration
}

// RetryAfterSeconds returns the retry delay in whole seconds, at least 1.
func (e *Error) RetryAfterSeconds() int {
	secs := int((e.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

func (e *Error) Error() string {
	return fmt.Sprintf("rate limit exceeded: you can %s again in %d seconds", e.Action, e.RetryAfterSeconds())
}

// Limiter applies per-action rules through a Store.
type Limiter struct {
	store Store
	rules map[string]Rule
	now   func() time.Time
}

// New creates a limiter. A nil now defaults to time.Now; tests inject a fake
// clock to step across window boundaries.
func New(store Store, rules map[string]Rule, now func() time.Time) *Limiter {
	if rules == nil {
		rules = DefaultRules()
	}
	if now == nil {
		now = time.Now
	}
	return &Limiter{store: store, rules: rules, now: now}
}

// Check admits or denies one occurrence of action by identifier. Denial is
// reported as *Error; actions without a configured rule pass. The occurrence
// is only billed when admitted.
func (l *Limiter) Check(ctx context.Context, identifier, action string) error {
	rule, ok := l.rules[action]
	if !ok {
		return nil
	}
	d, err := l.store.Take(ctx, identifier, action, rule, l.now())
	if err != nil {
		return err
	}
	if !d.Allowed {
		return &Error{Action: action, RetryAfter: d.RetryAfter}
	}
	return nil
}

// windowStart floors t to the rule's aligned window boundary (epoch-based).
func windowStart(t time.Time, window time.Duration) time.Time {
	ms := window.Milliseconds()
	return time.UnixMilli(t.UnixMilli() / ms * ms)
}
