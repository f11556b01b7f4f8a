package browser

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/GriffinCanCode/framerender/internal/shared/id"
)

func TestNewSession(t *testing.T) {
	s := NewSession("ctx")

	assert.True(t, id.IsValid(s.ID.String()))
	assert.Equal(t, "ctx", s.Handle())
	assert.Equal(t, 0, s.Uses())
	assert.False(t, s.Busy())
	assert.False(t, s.Closed())
	assert.Equal(t, s.CreatedAt, s.LastUsed())
}

func TestSessionDone(t *testing.T) {
	s := NewSession(nil)
	before := s.LastUsed()
	time.Sleep(time.Millisecond)

	s.Done(true)
	s.Done(false)

	assert.Equal(t, 2, s.Uses())
	assert.Equal(t, 1, s.Failures())
	assert.True(t, s.LastUsed().After(before))
}

func TestSessionBusy(t *testing.T) {
	s := NewSession(nil)
	s.SetBusy(true)
	assert.True(t, s.Busy())
	assert.True(t, s.Info().Busy)
	s.SetBusy(false)
	assert.False(t, s.Busy())
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	s := NewSession(nil)
	boom := errors.New("boom")
	var calls atomic.Int32

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.CloseWith(func() error {
				calls.Add(1)
				return boom
			})
			assert.ErrorIs(t, err, boom)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.True(t, s.Closed())
}

func TestSessionAge(t *testing.T) {
	s := NewSession(nil)
	assert.Equal(t, time.Minute, s.Age(s.CreatedAt.Add(time.Minute)))
}
