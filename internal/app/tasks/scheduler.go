package tasks

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/PabloGalante/mockinterview/internal/observability"
)

// Job is an operation submitted on a fixed wall-clock interval.
type Job struct {
	Operation string
	Args      any
	Every     time.Duration
}

// Scheduler submits periodic jobs, independent of any user flow.
type Scheduler struct {
	client *Client
	jobs   []Job
}

func NewScheduler(client *Client, jobs ...Job) *Scheduler {
	return &Scheduler{client: client, jobs: jobs}
}

// Run blocks until ctx is cancelled. A failed submission is logged and the
// job fires again on its next tick.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, job := range s.jobs {
		if job.Every <= 0 {
			continue
		}
		job := job
		g.Go(func() error {
			ticker := time.NewTicker(job.Every)
			defer ticker.Stop()

			log := observability.LoggerFromContext(ctx).With("operation", job.Operation)
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					id, err := s.client.Submit(ctx, job.Operation, job.Args)
					if err != nil {
						if ctx.Err() != nil {
							return nil
						}
						log.Warn("scheduled submission failed", "error", err)
						continue
					}
					log.Debug("scheduled task submitted", "task_id", id)
				}
			}
		})
	}
	return g.Wait()
}
