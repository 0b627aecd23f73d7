package handlers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCompositeHealthChecker_NoChecks(t *testing.T) {
	status := NewCompositeHealthChecker("v").Check(context.Background())
	assert.True(t, status.Healthy)
	assert.True(t, status.Ready)
	assert.Equal(t, "No health checks registered", status.Message)
}

func TestCompositeHealthChecker_CriticalFailure(t *testing.T) {
	c := NewCompositeHealthChecker("v")
	c.AddCritical("postgres", func(context.Context) error { return errors.New("refused") })
	c.AddOptional("redis", func(context.Context) error { return errors.New("refused") })

	status := c.Check(context.Background())
	assert.False(t, status.Healthy)
	assert.False(t, status.Ready)
	assert.Equal(t, "Some checks failed: postgres, redis", status.Message)
	assert.True(t, status.Checks["postgres"].Critical)
	assert.False(t, status.Checks["redis"].Critical)
	assert.Equal(t, "refused", status.Checks["redis"].Message)
}

func TestCompositeHealthChecker_TimeoutBoundsEachCheck(t *testing.T) {
	c := NewCompositeHealthChecker("v")
	c.SetTimeout(20 * time.Millisecond)
	c.AddCritical("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	status := c.Check(context.Background())
	assert.False(t, status.Ready)
	assert.Contains(t, status.Checks["slow"].Message, "deadline exceeded")
}

func TestCompositeHealthChecker_RemoveCheck(t *testing.T) {
	c := NewCompositeHealthChecker("v")
	c.AddCritical("postgres", func(context.Context) error { return errors.New("down") })
	c.RemoveCheck("postgres")

	assert.True(t, c.Check(context.Background()).Ready)
}
