// Package scheduler runs the batch sweeps on an in-process ticker
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/jaecopzm/trakpilot/app/dto"
	"github.com/sirupsen/logrus"
)

// Sweeper advances one kind of due work. Sweeps are safe to run repeatedly.
type Sweeper interface {
	Sweep(ctx context.Context) (*dto.SweepResult, error)
}

// Job is one sweep with its own interval
type Job struct {
	Name     string
	Sweeper  Sweeper
	Interval time.Duration
	// Timeout bounds a single pass; defaults to the interval
	Timeout time.Duration
}

// SweepScheduler periodically runs each job. A pass never overlaps with the previous pass of the same job.
type SweepScheduler struct {
	jobs   []Job
	logger *log.Logger
}

func NewSweepScheduler(jobs []Job, logger *log.Logger) *SweepScheduler {
	if logger == nil {
		logger = log.New(logrus.StandardLogger().Writer(), "scheduler ", log.LstdFlags|log.Lmicroseconds|log.LUTC)
	}

	normalized := make([]Job, 0, len(jobs))
	for _, j := range jobs {
		if j.Sweeper == nil {
			continue
		}
		if j.Interval <= 0 {
			j.Interval = time.Minute
		}
		if j.Timeout <= 0 {
			j.Timeout = j.Interval
		}
		normalized = append(normalized, j)
	}

	return &SweepScheduler{jobs: normalized, logger: logger}
}

// Start launches one loop per job and returns a stop function that waits for running passes
func (s *SweepScheduler) Start(parent context.Context) func() {
	ctx, cancel := context.WithCancel(parent)

	var wg sync.WaitGroup
	for _, job := range s.jobs {
		wg.Go(func() {
			s.loop(ctx, job)
		})
	}

	s.logger.Printf("scheduler: started %d sweep jobs", len(s.jobs))

	return func() {
		cancel()
		wg.Wait()
		s.logger.Printf("scheduler: stopped")
	}
}

func (s *SweepScheduler) loop(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	s.runOnce(ctx, job)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, job)
		}
	}
}

func (s *SweepScheduler) runOnce(parent context.Context, job Job) {
	ctx, cancel := context.WithTimeout(parent, job.Timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Printf("scheduler: sweep %s panicked: %v", job.Name, r)
		}
	}()

	res, err := job.Sweeper.Sweep(ctx)
	if err != nil {
		s.logger.Printf("scheduler: sweep %s failed: %v", job.Name, err)
		return
	}
	if res == nil || res.Found == 0 {
		return
	}
	s.logger.Printf("scheduler: sweep %s found=%d processed=%d errored=%d skipped=%d",
		job.Name, res.Found, res.Processed, res.Errored, res.Skipped)
}
