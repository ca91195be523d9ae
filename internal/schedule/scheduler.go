// Package schedule launches healing runs on cron schedules.
package schedule

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// RunFunc launches one scheduled run and blocks until it has finished
type RunFunc func(ctx context.Context, job Job) error

// Scheduler manages scheduled runs
type Scheduler struct {
	jobs    map[string]Job
	parser  cron.Parser
	lastRun map[string]time.Time
	running map[string]bool
	started time.Time
	now     func() time.Time
	logger  zerolog.Logger
	mu      sync.RWMutex
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler; jobs are validated up front
func NewScheduler(jobs []Job, logger zerolog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		jobs:    make(map[string]Job),
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		lastRun: make(map[string]time.Time),
		running: make(map[string]bool),
		now:     time.Now,
		logger:  logger.With().Str("component", "schedule").Logger(),
	}
	s.started = s.now()

	for _, job := range jobs {
		if err := job.Validate(); err != nil {
			return nil, err
		}
		s.jobs[job.Name] = job
	}

	return s, nil
}

// ParseCron parses a five-field cron expression
func ParseCron(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return parser.Parse(expr)
}

// NextRun returns the next scheduled run time for a job
func (s *Scheduler) NextRun(name string) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[name]
	if !ok {
		return time.Time{}
	}

	sched, err := s.parser.Parse(job.Cron)
	if err != nil {
		return time.Time{}
	}

	return sched.Next(s.now())
}

// ShouldRun returns true if a job is due and its previous run has finished.
// Jobs never run for occurrences before the scheduler started.
func (s *Scheduler) ShouldRun(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[name]
	if !ok || s.running[name] {
		return false
	}

	sched, err := s.parser.Parse(job.Cron)
	if err != nil {
		return false
	}

	lastRun := s.lastRun[name]
	if lastRun.IsZero() {
		lastRun = s.started
	}

	return !s.now().Before(sched.Next(lastRun))
}

// MarkRunning marks a job as currently running
func (s *Scheduler) MarkRunning(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[name] = true
}

// MarkComplete marks a job as complete
func (s *Scheduler) MarkComplete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[name] = false
	s.lastRun[name] = s.now()
}

// GetJob returns a job by name
func (s *Scheduler) GetJob(name string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[name]
	return job, ok
}

// ListJobs returns all job names, sorted
func (s *Scheduler) ListJobs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start checks the schedule every interval until ctx is cancelled, then
// waits for running jobs to return.
func (s *Scheduler) Start(ctx context.Context, interval time.Duration, run RunFunc) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer s.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.dispatch(ctx, run)
		}
	}
}

func (s *Scheduler) dispatch(ctx context.Context, run RunFunc) {
	for _, name := range s.ListJobs() {
		if !s.ShouldRun(name) {
			continue
		}
		job, _ := s.GetJob(name)
		s.MarkRunning(name)
		s.logger.Info().Str("job", name).Str("repo", job.RepoURL).Msg("starting scheduled run")

		s.wg.Add(1)
		go func(j Job) {
			defer s.wg.Done()
			defer s.MarkComplete(j.Name)
			if err := run(ctx, j); err != nil {
				s.logger.Error().Err(err).Str("job", j.Name).Msg("scheduled run failed")
			}
		}(job)
	}
}
