package cache

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errBackend = errors.New("backend failed")

func newTestBreaker(maxFailures, halfOpenCalls int) (*CircuitBreaker, *time.Time) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(&CircuitBreakerConfig{
		Name:             "test",
		MaxFailures:      maxFailures,
		Timeout:          time.Minute,
		HalfOpenMaxCalls: halfOpenCalls,
	})
	cb.now = func() time.Time { return now }
	return cb, &now
}

func fail() error    { return errBackend }
func succeed() error { return nil }

func TestCircuitBreaker_StaysClosedOnSuccess(t *testing.T) {
	cb, _ := newTestBreaker(3, 2)

	assert.Equal(t, CircuitBreakerClosed, cb.GetState())
	assert.NoError(t, cb.Execute(succeed))
	assert.Equal(t, CircuitBreakerClosed, cb.GetState())
}

func TestCircuitBreaker_OpensAtThreshold(t *testing.T) {
	cb, _ := newTestBreaker(2, 2)

	assert.ErrorIs(t, cb.Execute(fail), errBackend)
	assert.Equal(t, CircuitBreakerClosed, cb.GetState())

	assert.ErrorIs(t, cb.Execute(fail), errBackend)
	assert.Equal(t, CircuitBreakerOpen, cb.GetState())
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(2, 2)

	_ = cb.Execute(fail)
	_ = cb.Execute(succeed)
	_ = cb.Execute(fail)

	assert.Equal(t, CircuitBreakerClosed, cb.GetState())
}

func TestCircuitBreaker_OpenRejectsCalls(t *testing.T) {
	cb, _ := newTestBreaker(1, 2)
	_ = cb.Execute(fail)

	err := cb.Execute(func() error {
		t.Error("operation should not run while the circuit is open")
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitBreakerOpen)
}

func TestCircuitBreaker_HalfOpenThenClosed(t *testing.T) {
	cb, now := newTestBreaker(1, 2)
	_ = cb.Execute(fail)

	*now = now.Add(time.Minute)

	assert.NoError(t, cb.Execute(succeed))
	assert.Equal(t, CircuitBreakerHalfOpen, cb.GetState())

	assert.NoError(t, cb.Execute(succeed))
	assert.Equal(t, CircuitBreakerClosed, cb.GetState())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, now := newTestBreaker(1, 2)
	_ = cb.Execute(fail)

	*now = now.Add(time.Minute)

	assert.ErrorIs(t, cb.Execute(fail), errBackend)
	assert.Equal(t, CircuitBreakerOpen, cb.GetState())
	assert.ErrorIs(t, cb.Execute(succeed), ErrCircuitBreakerOpen)
}

func TestCircuitBreaker_Stats(t *testing.T) {
	cb, _ := newTestBreaker(1, 2)
	_ = cb.Execute(fail)

	stats := cb.GetStats()
	assert.Equal(t, "test", stats["name"])
	assert.Equal(t, "open", stats["state"])
	assert.Equal(t, 1, stats["failure_count"])
}

func TestCircuitBreaker_Concurrency(t *testing.T) {
	cb := NewCircuitBreaker(&CircuitBreakerConfig{
		MaxFailures:      5,
		Timeout:          100 * time.Millisecond,
		HalfOpenMaxCalls: 3,
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_ = cb.Execute(func() error {
					if (id+j)%3 == 0 {
						return errBackend
					}
					return nil
				})
			}
		}(i)
	}
	wg.Wait()

	err := cb.Execute(succeed)
	if err != nil {
		assert.ErrorIs(t, err, ErrCircuitBreakerOpen)
	}
}
