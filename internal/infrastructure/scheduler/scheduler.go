// Package scheduler runs the engine's periodic maintenance jobs. Timing is
// delegated to gocron; this package adds per-run timeouts, graceful stop
// and per-job run statistics.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/linguaquest/progression/pkg/logger"
)

// Job is a unit of periodic work.
type Job interface {
	// Name is the unique job key.
	Name() string

	// Run executes one pass. ctx is cancelled on Stop and bounded by the
	// configured job timeout.
	Run(ctx context.Context) error

	Description() string
}

var (
	ErrNilJob                  = errors.New("scheduler: job cannot be nil")
	ErrInvalidInterval         = errors.New("scheduler: interval must be positive")
	ErrJobAlreadyExists        = errors.New("scheduler: job already exists")
	ErrJobNotFound             = errors.New("scheduler: job not found")
	ErrSchedulerAlreadyRunning = errors.New("scheduler: already running")
	ErrSchedulerNotRunning     = errors.New("scheduler: not running")
)

// Config configures a Scheduler.
type Config struct {
	Logger *logger.Logger

	// Timezone for gocron's calendar. Default UTC.
	Timezone *time.Location

	// JobTimeout bounds a single run. Zero means no bound beyond Stop.
	JobTimeout time.Duration

	// MaxConcurrentJobs limits parallel runs across all jobs. Zero means
	// no limit.
	MaxConcurrentJobs int
}

// DefaultConfig returns the worker defaults.
func DefaultConfig() Config {
	return Config{
		Timezone:          time.UTC,
		JobTimeout:        time.Minute,
		MaxConcurrentJobs: 2,
	}
}

// JobStats is the running record of one job.
type JobStats struct {
	Name         string        `json:"name"`
	Interval     time.Duration `json:"interval"`
	Runs         int64         `json:"runs"`
	Failures     int64         `json:"failures"`
	LastRun      time.Time     `json:"last_run"`
	LastDuration time.Duration `json:"last_duration"`
	LastError    string        `json:"last_error,omitempty"`
	TotalTime    time.Duration `json:"-"`
}

// AverageDuration is TotalTime over Runs.
func (s JobStats) AverageDuration() time.Duration {
	if s.Runs == 0 {
		return 0
	}
	return s.TotalTime / time.Duration(s.Runs)
}

type entry struct {
	job   Job
	stats JobStats
}

// Scheduler runs registered jobs on fixed intervals. gocron runs each job
// in singleton mode, so a slow pass delays the next instead of overlapping.
type Scheduler struct {
	cron       *gocron.Scheduler
	log        *logger.Logger
	jobTimeout time.Duration

	mu       sync.RWMutex
	jobs     map[string]*entry
	running  bool
	ctx      context.Context
	cancel   context.CancelFunc
	started  time.Time
	inflight sync.WaitGroup
}

// NewScheduler creates a scheduler. Jobs run only after Start.
func NewScheduler(cfg Config) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.Timezone == nil {
		cfg.Timezone = time.UTC
	}

	cron := gocron.NewScheduler(cfg.Timezone)
	cron.SingletonModeAll()
	if cfg.MaxConcurrentJobs > 0 {
		cron.SetMaxConcurrentJobs(cfg.MaxConcurrentJobs, gocron.WaitMode)
	}

	return &Scheduler{
		cron:       cron,
		log:        cfg.Logger.With(logger.Component("scheduler")),
		jobTimeout: cfg.JobTimeout,
		jobs:       make(map[string]*entry),
	}
}

// Register adds a job that runs every interval. The first run happens one
// interval after Start.
func (s *Scheduler) Register(job Job, interval time.Duration) error {
	if job == nil {
		return ErrNilJob
	}
	if interval <= 0 {
		return ErrInvalidInterval
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := job.Name()
	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("%w: %s", ErrJobAlreadyExists, name)
	}

	e := &entry{job: job, stats: JobStats{Name: name, Interval: interval}}
	if _, err := s.cron.Every(interval).Tag(name).WaitForSchedule().Do(s.tick, e); err != nil {
		return fmt.Errorf("scheduler: register %s: %w", name, err)
	}
	s.jobs[name] = e

	s.log.Info("job registered",
		logger.String("job", name),
		logger.String("description", job.Description()),
		logger.Duration("interval", interval),
	)
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Lifecycle
// ─────────────────────────────────────────────────────────────────────────────

// Start begins running registered jobs. Cancelling ctx cancels running
// jobs but does not stop the scheduler; call Stop for that.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrSchedulerAlreadyRunning
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.started = time.Now()
	s.cron.StartAsync()

	s.log.Info("scheduler started", logger.Int("jobs", len(s.jobs)))
	return nil
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.cron.Stop()
	s.inflight.Wait()

	s.log.Info("scheduler stopped", logger.Duration("uptime", time.Since(s.started)))
	return nil
}

// IsRunning reports whether Start has been called and Stop has not.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// ─────────────────────────────────────────────────────────────────────────────
// Execution
// ─────────────────────────────────────────────────────────────────────────────

func (s *Scheduler) tick(e *entry) {
	s.mu.RLock()
	if !s.running {
		s.mu.RUnlock()
		return
	}
	ctx := s.ctx
	s.inflight.Add(1)
	s.mu.RUnlock()
	defer s.inflight.Done()

	_ = s.run(ctx, e)
}

// RunNow runs a job immediately, outside its schedule, and returns its
// error.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.RLock()
	e, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	return s.run(ctx, e)
}

func (s *Scheduler) run(ctx context.Context, e *entry) error {
	if s.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.jobTimeout)
		defer cancel()
	}

	name := e.job.Name()
	start := time.Now()
	err := e.job.Run(ctx)
	took := time.Since(start)

	s.mu.Lock()
	e.stats.Runs++
	e.stats.LastRun = start
	e.stats.LastDuration = took
	e.stats.TotalTime += took
	e.stats.LastError = ""
	if err != nil {
		e.stats.Failures++
		e.stats.LastError = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Error("job failed", logger.String("job", name), logger.Duration("duration", took), logger.Err(err))
		return err
	}
	s.log.Debug("job completed", logger.String("job", name), logger.Duration("duration", took))
	return nil
}

// Stats returns a copy of every job's record, ordered by name.
func (s *Scheduler) Stats() []JobStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]JobStats, 0, len(s.jobs))
	for _, e := range s.jobs {
		out = append(out, e.stats)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
