package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubJob struct {
	name string
	err  error
	runs int
}

func (j *stubJob) Name() string        { return j.name }
func (j *stubJob) Description() string { return "stub " + j.name }
func (j *stubJob) Run(ctx context.Context) error {
	j.runs++
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("run without deadline")
	}
	return j.err
}

func newTestScheduler() *Scheduler {
	cfg := DefaultConfig()
	cfg.JobTimeout = time.Second
	return NewScheduler(cfg)
}

func TestRegister_Validation(t *testing.T) {
	s := newTestScheduler()

	assert.ErrorIs(t, s.Register(nil, time.Minute), ErrNilJob)
	assert.ErrorIs(t, s.Register(&stubJob{name: "a"}, 0), ErrInvalidInterval)

	require.NoError(t, s.Register(&stubJob{name: "a"}, time.Minute))
	assert.ErrorIs(t, s.Register(&stubJob{name: "a"}, time.Minute), ErrJobAlreadyExists)
}

func TestRunNow_RecordsStats(t *testing.T) {
	s := newTestScheduler()
	ok := &stubJob{name: "ok"}
	bad := &stubJob{name: "bad", err: errors.New("store down")}
	require.NoError(t, s.Register(ok, time.Hour))
	require.NoError(t, s.Register(bad, time.Hour))

	require.NoError(t, s.RunNow(context.Background(), "ok"))
	require.NoError(t, s.RunNow(context.Background(), "ok"))
	assert.EqualError(t, s.RunNow(context.Background(), "bad"), "store down")
	assert.ErrorIs(t, s.RunNow(context.Background(), "missing"), ErrJobNotFound)

	stats := s.Stats()
	require.Len(t, stats, 2)

	assert.Equal(t, "bad", stats[0].Name)
	assert.Equal(t, int64(1), stats[0].Runs)
	assert.Equal(t, int64(1), stats[0].Failures)
	assert.Equal(t, "store down", stats[0].LastError)

	assert.Equal(t, "ok", stats[1].Name)
	assert.Equal(t, int64(2), stats[1].Runs)
	assert.Zero(t, stats[1].Failures)
	assert.Empty(t, stats[1].LastError)
	assert.Equal(t, time.Hour, stats[1].Interval)
	assert.False(t, stats[1].LastRun.IsZero())
}

func TestLastErrorClearsOnSuccess(t *testing.T) {
	s := newTestScheduler()
	job := &stubJob{name: "flaky", err: errors.New("timeout")}
	require.NoError(t, s.Register(job, time.Hour))

	_ = s.RunNow(context.Background(), "flaky")
	job.err = nil
	require.NoError(t, s.RunNow(context.Background(), "flaky"))

	st := s.Stats()[0]
	assert.Empty(t, st.LastError)
	assert.Equal(t, int64(1), st.Failures)
	assert.Equal(t, st.TotalTime/2, st.AverageDuration())
}

func TestStartStop(t *testing.T) {
	s := newTestScheduler()
	require.NoError(t, s.Register(&stubJob{name: "a"}, time.Hour))

	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)

	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.IsRunning())
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)

	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
}
