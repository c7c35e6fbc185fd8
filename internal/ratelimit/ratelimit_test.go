package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// alignedStart returns a time safely inside a fresh aligned window, so a test
// never straddles a boundary by accident.
func alignedStart(window time.Duration) time.Time {
	return windowStart(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC), window).Add(time.Second)
}

func TestLimiterAllowsUpToMax(t *testing.T) {
	rule := Rule{Max: 10, Window: time.Minute}
	clock := newFakeClock(alignedStart(rule.Window))
	l := New(NewMemoryStore(), map[string]Rule{ActionVote: rule}, clock.Now)

	for i := 0; i < rule.Max; i++ {
		require.NoError(t, l.Check(context.Background(), "fp-1", ActionVote), "call %d should pass", i+1)
	}

	err := l.Check(context.Background(), "fp-1", ActionVote)
	require.Error(t, err)

	var rle *Error
	require.True(t, errors.As(err, &rle))
	assert.Equal(t, ActionVote, rle.Action)
	assert.Positive(t, rle.RetryAfterSeconds())
	assert.LessOrEqual(t, rle.RetryAfterSeconds(), 60)
}

func TestLimiterDenialDoesNotConsumeBudget(t *testing.T) {
	rule := Rule{Max: 2, Window: time.Minute}
	clock := newFakeClock(alignedStart(rule.Window))
	l := New(NewMemoryStore(), map[string]Rule{ActionVote: rule}, clock.Now)

	require.NoError(t, l.Check(context.Background(), "fp-1", ActionVote))
	require.NoError(t, l.Check(context.Background(), "fp-1", ActionVote))
	require.Error(t, l.Check(context.Background(), "fp-1", ActionVote))

	// A denied call must not be billed: once the window rolls over the full
	// budget is available again.
	clock.Advance(rule.Window)
	require.NoError(t, l.Check(context.Background(), "fp-1", ActionVote))
	require.NoError(t, l.Check(context.Background(), "fp-1", ActionVote))
}

func TestLimiterResetsAfterWindow(t *testing.T) {
	rule := Rule{Max: 5, Window: 5 * time.Minute}
	clock := newFakeClock(alignedStart(rule.Window))
	l := New(NewMemoryStore(), map[string]Rule{ActionCreatePoll: rule}, clock.Now)

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Check(context.Background(), "fp-1", ActionCreatePoll))
	}
	require.Error(t, l.Check(context.Background(), "fp-1", ActionCreatePoll))

	clock.Advance(rule.Window)
	assert.NoError(t, l.Check(context.Background(), "fp-1", ActionCreatePoll))
}

func TestLimiterIsolatesIdentifiersAndActions(t *testing.T) {
	clock := newFakeClock(alignedStart(time.Minute))
	l := New(NewMemoryStore(), map[string]Rule{
		ActionVote:       {Max: 1, Window: time.Minute},
		ActionCreatePoll: {Max: 1, Window: 5 * time.Minute},
	}, clock.Now)

	require.NoError(t, l.Check(context.Background(), "fp-1", ActionVote))
	require.Error(t, l.Check(context.Background(), "fp-1", ActionVote))

	// Other identifiers and other actions keep their own budgets.
	assert.NoError(t, l.Check(context.Background(), "fp-2", ActionVote))
	assert.NoError(t, l.Check(context.Background(), "fp-1", ActionCreatePoll))
}

func TestLimiterUnknownActionPasses(t *testing.T) {
	l := New(NewMemoryStore(), map[string]Rule{}, nil)
	assert.NoError(t, l.Check(context.Background(), "fp-1", "unrecognized"))
}

func TestMemoryStoreRetryAfterFromEarliestWindow(t *testing.T) {
	rule := Rule{Max: 1, Window: time.Minute}
	store := NewMemoryStore()
	now := alignedStart(rule.Window) // 1s past the boundary

	d, err := store.Take(context.Background(), "fp-1", ActionVote, rule, now)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	// 10s later the window has 50s left.
	d, err = store.Take(context.Background(), "fp-1", ActionVote, rule, now.Add(10*time.Second))
	require.NoError(t, err)
	require.False(t, d.Allowed)
	assert.Equal(t, 49*time.Second, d.RetryAfter)
}

func TestMemoryStoreGCsStaleWindows(t *testing.T) {
	rule := Rule{Max: 3, Window: time.Minute}
	store := NewMemoryStore()
	now := alignedStart(rule.Window)

	for i := 0; i < 3; i++ {
		d, err := store.Take(context.Background(), "fp-1", ActionVote, rule, now)
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}

	// Two windows later the old counter is outside the lookback and gets
	// dropped; the fresh take starts a new window at full budget.
	later := now.Add(2 * rule.Window)
	d, err := store.Take(context.Background(), "fp-1", ActionVote, rule, later)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 2, d.Remaining)

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.windows["fp-1\x00vote"], 1)
	assert.Equal(t, windowStart(later, rule.Window), store.windows["fp-1\x00vote"][0].start)
}

func TestMemoryStoreConcurrentTakesNeverOvershoot(t *testing.T) {
	rule := Rule{Max: 10, Window: time.Minute}
	store := NewMemoryStore()
	now := alignedStart(rule.Window)

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := store.Take(context.Background(), "fp-1", ActionVote, rule, now)
			if err == nil && d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, rule.Max, allowed)
}

func TestWindowStartAlignment(t *testing.T) {
	w := time.Minute
	base := time.Date(2025, 3, 1, 12, 7, 0, 0, time.UTC)
	// Compare instants, not time.Time values: windowStart returns a local
	// time and Equal on the struct would trip over the location.
	require.True(t, base.Equal(windowStart(base, w)), "boundary instants map to themselves")
	assert.True(t, base.Equal(windowStart(base.Add(59*time.Second), w)))
	assert.True(t, base.Add(time.Minute).Equal(windowStart(base.Add(60*time.Second), w)))
}
