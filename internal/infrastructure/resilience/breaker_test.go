package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDown = errors.New("upstream down")

// clock is a manually advanced time source
type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(s Settings) (*Breaker, *clock) {
	clk := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := New("test", s)
	b.now = clk.now
	b.until = clk.now().Add(b.settings.Interval)
	return b, clk
}

func fail(b *Breaker, n int) {
	for i := 0; i < n; i++ {
		_ = b.Execute(func() error { return errDown })
	}
}

func tripAfter(n uint32) func(Counts) bool {
	return func(c Counts) bool { return c.ConsecutiveFailures >= n }
}

func TestBreakerTrips(t *testing.T) {
	tests := []struct {
		name     string
		outcomes []error
		want     State
	}{
		{"successes keep it closed", []error{nil, nil, nil}, StateClosed},
		{"three failures in a row open it", []error{errDown, errDown, errDown}, StateOpen},
		{"a success resets the streak", []error{errDown, errDown, nil, errDown, errDown}, StateClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, _ := newTestBreaker(Settings{ReadyToTrip: tripAfter(3)})
			for _, outcome := range tt.outcomes {
				_ = b.Execute(func() error { return outcome })
			}
			assert.Equal(t, tt.want, b.State())
		})
	}
}

func TestBreakerCounts(t *testing.T) {
	b, _ := newTestBreaker(Settings{})

	got, err := Call(b, func() (string, error) { return "sess_1", nil })
	require.NoError(t, err)
	assert.Equal(t, "sess_1", got)
	assert.Equal(t, Counts{Requests: 1, TotalSuccesses: 1, ConsecutiveSuccesses: 1}, b.Counts())

	fail(b, 1)
	assert.Equal(t, Counts{Requests: 2, TotalSuccesses: 1, TotalFailures: 1, ConsecutiveFailures: 1}, b.Counts())
}

func TestBreakerWindowRollsOver(t *testing.T) {
	b, clk := newTestBreaker(Settings{Interval: time.Minute, ReadyToTrip: tripAfter(3)})

	fail(b, 2)
	clk.advance(61 * time.Second)
	fail(b, 1)

	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, uint32(1), b.Counts().ConsecutiveFailures)
}

func TestBreakerOpenFailsFast(t *testing.T) {
	b, _ := newTestBreaker(Settings{Timeout: time.Minute, ReadyToTrip: tripAfter(2)})
	fail(b, 2)

	called := false
	err := b.Execute(func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
	assert.False(t, b.Allow())
}

func TestBreakerHalfOpen(t *testing.T) {
	t.Run("closes after enough trial successes", func(t *testing.T) {
		b, clk := newTestBreaker(Settings{MaxRequests: 2, Timeout: 30 * time.Second, ReadyToTrip: tripAfter(2)})
		fail(b, 2)

		clk.advance(31 * time.Second)
		assert.Equal(t, StateHalfOpen, b.State())
		assert.True(t, b.Allow())

		require.NoError(t, b.Execute(func() error { return nil }))
		assert.Equal(t, StateHalfOpen, b.State())
		require.NoError(t, b.Execute(func() error { return nil }))
		assert.Equal(t, StateClosed, b.State())
	})

	t.Run("reopens on a trial failure", func(t *testing.T) {
		b, clk := newTestBreaker(Settings{Timeout: 30 * time.Second, ReadyToTrip: tripAfter(1)})
		fail(b, 1)
		clk.advance(31 * time.Second)

		fail(b, 1)
		assert.Equal(t, StateOpen, b.State())
	})

	t.Run("limits concurrent trials", func(t *testing.T) {
		b, clk := newTestBreaker(Settings{MaxRequests: 1, Timeout: time.Second, ReadyToTrip: tripAfter(1)})
		fail(b, 1)
		clk.advance(2 * time.Second)

		err := b.Execute(func() error {
			assert.False(t, b.Allow())
			return b.Execute(func() error { return nil })
		})
		assert.ErrorIs(t, err, ErrTooManyRequests)
	})
}

func TestBreakerIgnoresStaleResults(t *testing.T) {
	b, clk := newTestBreaker(Settings{Timeout: time.Second, ReadyToTrip: tripAfter(1)})

	// a call admitted while closed finishes after the breaker opened
	err := b.Execute(func() error {
		fail(b, 1)
		clk.advance(2 * time.Second)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, StateHalfOpen, b.State())
	assert.Equal(t, uint32(0), b.Counts().TotalSuccesses)
}

func TestBreakerIsSuccessful(t *testing.T) {
	b, _ := newTestBreaker(Settings{
		ReadyToTrip: tripAfter(1),
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	err := b.Execute(func() error { return context.Canceled })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, b.State())

	fail(b, 1)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerStateChanges(t *testing.T) {
	var transitions []string
	b, clk := newTestBreaker(Settings{
		Timeout:     10 * time.Second,
		ReadyToTrip: tripAfter(2),
		OnStateChange: func(name string, from, to State) {
			assert.Equal(t, "test", name)
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	fail(b, 2)
	clk.advance(11 * time.Second)
	_ = b.Execute(func() error { return nil })

	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}

func TestBreakerPanicCountsAsFailure(t *testing.T) {
	b, _ := newTestBreaker(Settings{ReadyToTrip: tripAfter(1)})

	assert.PanicsWithValue(t, "target crashed", func() {
		_ = b.Execute(func() error { panic("target crashed") })
	})
	assert.Equal(t, StateOpen, b.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}
