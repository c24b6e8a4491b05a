// Package jobs runs periodic maintenance (retention) on a cron schedule.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// DefaultJobTimeout bounds one run of a job.
const DefaultJobTimeout = 10 * time.Minute

// Job is one unit of scheduled work.
type Job func(ctx context.Context) error

// Scheduler manages cron-based maintenance jobs.
type Scheduler struct {
	cron    *cron.Cron
	timeout time.Duration
}

// NewScheduler creates a scheduler. Specs use the standard 5-field format
// or descriptors such as "@hourly".
func NewScheduler() *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		timeout: DefaultJobTimeout,
	}
}

// Register adds job under name on spec.
func (s *Scheduler) Register(name, spec string, job Job) error {
	_, err := s.cron.AddFunc(spec, func() { s.run(name, job) })
	if err != nil {
		return fmt.Errorf("registering cron %q for job %s: %w", spec, name, err)
	}
	return nil
}

func (s *Scheduler) run(name string, job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start := time.Now()
	log.Debug().Str("job", name).Msg("scheduled_job_fired")
	if err := job(ctx); err != nil {
		log.Error().Err(err).Str("job", name).Msg("scheduled_job_failed")
		return
	}
	log.Debug().Str("job", name).Dur("duration", time.Since(start)).Msg("scheduled_job_completed")
}

// RunNow executes every job once, synchronously. serve uses it at startup.
func (s *Scheduler) RunNow() {
	for _, e := range s.cron.Entries() {
		e.Job.Run()
	}
}

// Start begins executing registered cron jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler and waits for running jobs to complete.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Entries returns the number of registered cron entries.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}
