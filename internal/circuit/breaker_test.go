package circuit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

var errUpstream = errors.New("upstream failed")

func failing(calls *int) func(context.Context) error {
	return func(context.Context) error {
		*calls++
		return errUpstream
	}
}

func succeeding(calls *int) func(context.Context) error {
	return func(context.Context) error {
		*calls++
		return nil
	}
}

func TestBreakerFullCycle(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}

	var transitions []State
	b := New("test",
		WithFailureThreshold(3),
		WithResetTimeout(30*time.Second),
		WithClock(clock.Now),
		WithStateListener(func(_ string, _, to State) { transitions = append(transitions, to) }),
	)

	calls := 0
	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, b.Execute(ctx, failing(&calls)), errUpstream)
	}
	assert.Equal(t, StateOpen, b.State())
	assert.Equal(t, 3, calls)

	// Rejected without invoking the wrapped call.
	clock.Advance(10 * time.Second)
	assert.ErrorIs(t, b.Execute(ctx, succeeding(&calls)), ErrOpen)
	assert.Equal(t, 3, calls)

	clock.Advance(20 * time.Second)
	require.NoError(t, b.Execute(ctx, succeeding(&calls)))
	assert.Equal(t, StateHalfOpen, b.State())
	assert.Equal(t, 4, calls)

	require.NoError(t, b.Execute(ctx, succeeding(&calls)))
	assert.Equal(t, StateHalfOpen, b.State())
	require.NoError(t, b.Execute(ctx, succeeding(&calls)))
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.Failures())

	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateClosed}, transitions)
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := New("test", WithFailureThreshold(2), WithResetTimeout(time.Minute), WithClock(clock.Now))

	calls := 0
	_ = b.Execute(ctx, failing(&calls))
	_ = b.Execute(ctx, failing(&calls))
	require.Equal(t, StateOpen, b.State())

	clock.Advance(time.Minute)
	require.NoError(t, b.Execute(ctx, succeeding(&calls)))
	require.Equal(t, StateHalfOpen, b.State())

	assert.ErrorIs(t, b.Execute(ctx, failing(&calls)), errUpstream)
	assert.Equal(t, StateOpen, b.State())

	// The reset timeout restarts from the half-open failure.
	clock.Advance(30 * time.Second)
	assert.ErrorIs(t, b.Execute(ctx, succeeding(&calls)), ErrOpen)
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	ctx := context.Background()
	b := New("test", WithFailureThreshold(3))

	calls := 0
	_ = b.Execute(ctx, failing(&calls))
	_ = b.Execute(ctx, failing(&calls))
	assert.Equal(t, 2, b.Failures())

	require.NoError(t, b.Execute(ctx, succeeding(&calls)))
	assert.Equal(t, 0, b.Failures())

	_ = b.Execute(ctx, failing(&calls))
	_ = b.Execute(ctx, failing(&calls))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerFailurePredicate(t *testing.T) {
	ctx := context.Background()
	clientErr := errors.New("bad request")
	b := New("test",
		WithFailureThreshold(1),
		WithFailurePredicate(func(err error) bool { return !errors.Is(err, clientErr) }),
	)

	err := b.Execute(ctx, func(context.Context) error { return clientErr })
	assert.ErrorIs(t, err, clientErr)
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.Failures())
}

func TestCallReturnsValue(t *testing.T) {
	b := New("test")
	v, err := Call(context.Background(), b, func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	b := New("test", WithFailureThreshold(1))

	calls := 0
	_ = b.Execute(ctx, failing(&calls))
	require.Equal(t, StateOpen, b.State())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.Failures())
	require.NoError(t, b.Execute(ctx, succeeding(&calls)))
}
