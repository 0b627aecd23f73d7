package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExpirer struct {
	n   int
	err error
}

func (f fakeExpirer) ExpireAbandonedMatches(context.Context) (int, error) {
	return f.n, f.err
}

func TestExpireMatchesJob_Run(t *testing.T) {
	job := NewExpireMatchesJob(fakeExpirer{n: 3}, nil)
	assert.Nil(t, job.LastRunStats())

	require.NoError(t, job.Run(context.Background()))

	stats := job.LastRunStats()
	require.NotNil(t, stats)
	assert.Equal(t, 3, stats.Expired)
	assert.False(t, stats.Failed)
	assert.Equal(t, "expire_abandoned_matches", job.Name())
}

func TestExpireMatchesJob_PartialFailure(t *testing.T) {
	job := NewExpireMatchesJob(fakeExpirer{n: 1, err: errors.New("refund failed")}, nil)

	assert.EqualError(t, job.Run(context.Background()), "refund failed")
	assert.Equal(t, 1, job.LastRunStats().Expired)
	assert.True(t, job.LastRunStats().Failed)
}
