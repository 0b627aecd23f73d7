// Package jobs contains the scheduled maintenance jobs of the engine.
package jobs

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/linguaquest/progression/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// EXPIRE ABANDONED MATCHES JOB
// ══════════════════════════════════════════════════════════════════════════════

// MatchExpirer cancels and refunds abandoned matches. *engine.Engine
// implements it.
type MatchExpirer interface {
	ExpireAbandonedMatches(ctx context.Context) (int, error)
}

// ExpireMatchesJob cancels active matches whose players stopped submitting
// scores, refunding both escrows.
type ExpireMatchesJob struct {
	matches MatchExpirer
	logger  *logger.Logger

	lastRunStats atomic.Pointer[ExpireMatchesStats]
}

// ExpireMatchesStats describes the last run.
type ExpireMatchesStats struct {
	StartedAt time.Time
	Duration  time.Duration
	Expired   int
	Failed    bool
}

// NewExpireMatchesJob creates the job.
func NewExpireMatchesJob(matches MatchExpirer, log *logger.Logger) *ExpireMatchesJob {
	if log == nil {
		log = logger.Nop()
	}
	return &ExpireMatchesJob{
		matches: matches,
		logger:  log.With(logger.Component("expire_matches_job")),
	}
}

// Name implements scheduler.Job.
func (j *ExpireMatchesJob) Name() string { return "expire_abandoned_matches" }

// Description implements scheduler.Job.
func (j *ExpireMatchesJob) Description() string {
	return "Cancels abandoned active matches and refunds both bets"
}

// Run implements scheduler.Job. Matches expired before a failure stay
// expired; the next run picks up the rest.
func (j *ExpireMatchesJob) Run(ctx context.Context) error {
	start := time.Now()
	n, err := j.matches.ExpireAbandonedMatches(ctx)

	j.lastRunStats.Store(&ExpireMatchesStats{
		StartedAt: start,
		Duration:  time.Since(start),
		Expired:   n,
		Failed:    err != nil,
	})

	if n > 0 {
		j.logger.Info("expired abandoned matches", logger.Int("count", n))
	}
	return err
}

// LastRunStats returns the stats of the last run, nil before the first.
func (j *ExpireMatchesJob) LastRunStats() *ExpireMatchesStats {
	return j.lastRunStats.Load()
}
