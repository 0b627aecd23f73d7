package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var boom = errors.New("redis down")

func fail(context.Context) error    { return boom }
func succeed(context.Context) error { return nil }

func TestCacheBreaker_OpensAndRecovers(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var transitions []State

	cb := CacheBreaker("catalog-cache", func(_ string, _, to State) {
		transitions = append(transitions, to)
	})
	cb.settings.Now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(context.Background(), fail), boom)
	}
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	now = now.Add(16 * time.Second)
	assert.NoError(t, cb.Execute(context.Background(), succeed))
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateClosed}, transitions)

	counts := cb.Counts()
	assert.Equal(t, 4, counts.Requests)
	assert.Equal(t, 3, counts.Failures)
	assert.Equal(t, 1, counts.Rejected)
}

func TestFailedProbeReopens(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := New(Settings{FailureThreshold: 1, CoolDown: time.Second, Now: func() time.Time { return now }})

	assert.ErrorIs(t, cb.Execute(context.Background(), fail), boom)
	now = now.Add(2 * time.Second)
	assert.ErrorIs(t, cb.Execute(context.Background(), fail), boom)
	assert.Equal(t, StateOpen, cb.State())
	assert.ErrorIs(t, cb.Execute(context.Background(), succeed), ErrCircuitOpen)
}

func TestCallerCancellationIsNotAFailure(t *testing.T) {
	cb := New(Settings{FailureThreshold: 1})

	err := cb.Execute(context.Background(), func(context.Context) error {
		return context.Canceled
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Counts().Failures)
}
