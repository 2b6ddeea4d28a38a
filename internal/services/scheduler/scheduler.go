// Package scheduler implements the JobScheduler (spec §4.2): one poll loop
// per job type, each bounded by a per-type concurrency semaphore, claiming
// work via JobStore.ClaimNext and heartbeating running jobs at half their
// stale threshold so a crashed worker's claim is reclaimable promptly.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/TKontu/knowledge-extraction-sub001/internal/common"
	"github.com/TKontu/knowledge-extraction-sub001/internal/interfaces"
	"github.com/TKontu/knowledge-extraction-sub001/internal/models"
)

// HandlerFunc executes one claimed Job and reports its outcome. A returned
// error that is context.Canceled or wraps it is treated as a cancellation, as
// is any error returned after the job's context was cancelled (a cancel
// request or shutdown); any other error marks the job failed.
type HandlerFunc func(ctx context.Context, job *models.Job) (*models.JobResult, error)

// Scheduler runs one poll loop per registered JobType.
type Scheduler struct {
	jobs     interfaces.JobStore
	config   *common.SchedulerConfig
	logger   arbor.ILogger
	handlers map[models.JobType]HandlerFunc

	wg sync.WaitGroup
}

func New(jobs interfaces.JobStore, config *common.SchedulerConfig, logger arbor.ILogger) *Scheduler {
	return &Scheduler{jobs: jobs, config: config, logger: logger, handlers: make(map[models.JobType]HandlerFunc)}
}

// Register binds a handler to a job type. Call before Start.
func (s *Scheduler) Register(jobType models.JobType, handler HandlerFunc) {
	s.handlers[jobType] = handler
}

// Start launches one poll loop per registered type and returns immediately.
// Stop via ctx cancellation, then Wait for in-flight jobs to finish.
func (s *Scheduler) Start(ctx context.Context) {
	for jobType, handler := range s.handlers {
		s.wg.Add(1)
		go s.pollLoop(ctx, jobType, handler)
	}
}

// Wait blocks until every poll loop and in-flight job handler has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) pollLoop(ctx context.Context, jobType models.JobType, handler HandlerFunc) {
	defer s.wg.Done()

	interval := time.Duration(s.config.PollIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	staleThreshold := s.staleThreshold(jobType)
	concurrency := s.concurrency(jobType)
	sem := make(chan struct{}, concurrency)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var inflight sync.WaitGroup
	defer inflight.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for {
			select {
			case sem <- struct{}{}:
			default:
				goto nextTick
			}

			job, err := s.jobs.ClaimNext(ctx, jobType, staleThreshold)
			if err != nil {
				s.logger.Error().Err(err).Str("job_type", string(jobType)).Msg("failed to claim next job")
				<-sem
				goto nextTick
			}
			if job == nil {
				<-sem
				goto nextTick
			}

			inflight.Add(1)
			go func(job *models.Job) {
				defer inflight.Done()
				defer func() { <-sem }()
				s.runJob(ctx, job, handler, staleThreshold)
			}(job)
		}
	nextTick:
	}
}

// runJob executes handler for one claimed job, heartbeating at half the
// stale threshold and checking for cancellation requests between heartbeats
// (spec §5's cancellation checkpoint model).
func (s *Scheduler) runJob(ctx context.Context, job *models.Job, handler HandlerFunc, staleThreshold time.Duration) {
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	heartbeatInterval := staleThreshold / 2
	if heartbeatInterval <= 0 {
		heartbeatInterval = 30 * time.Second
	}

	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go func() {
		defer hbWG.Done()
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-jobCtx.Done():
				return
			case <-ticker.C:
				if err := s.jobs.Heartbeat(jobCtx, job.ID); err != nil {
					s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("heartbeat failed")
				}
				if cancelled, err := s.jobs.IsCancelRequested(jobCtx, job.ID); err == nil && cancelled {
					cancel()
					return
				}
			}
		}
	}()

	result, err := handler(jobCtx, job)
	// Read the cancellation state before cancel() below, which always
	// leaves jobCtx cancelled.
	cancelled := jobCtx.Err() != nil
	cancel()
	hbWG.Wait()

	if err != nil {
		if cancelled || errors.Is(err, context.Canceled) {
			if cerr := s.jobs.MarkCancelled(ctx, job.ID, result); cerr != nil {
				s.logger.Error().Err(cerr).Str("job_id", job.ID).Msg("failed to mark job cancelled")
			}
			return
		}
		s.logger.Error().Err(err).Str("job_id", job.ID).Str("job_type", string(job.Type)).Msg("job failed")
		if ferr := s.jobs.Fail(ctx, job.ID, err.Error()); ferr != nil {
			s.logger.Error().Err(ferr).Str("job_id", job.ID).Msg("failed to mark job failed")
		}
		return
	}

	if cerr := s.jobs.Complete(ctx, job.ID, result); cerr != nil {
		s.logger.Error().Err(cerr).Str("job_id", job.ID).Msg("failed to mark job complete")
	}
}

func (s *Scheduler) staleThreshold(jobType models.JobType) time.Duration {
	minutes := 0
	switch jobType {
	case models.JobTypeScrape:
		minutes = s.config.ScrapeStaleMinutes
	case models.JobTypeExtract:
		minutes = s.config.ExtractStaleMinutes
	case models.JobTypeCrawl:
		minutes = s.config.CrawlStaleMinutes
	case models.JobTypeReport:
		minutes = s.config.ReportStaleMinutes
	}
	if minutes <= 0 {
		return models.DefaultStaleThreshold(jobType)
	}
	return time.Duration(minutes) * time.Minute
}

func (s *Scheduler) concurrency(jobType models.JobType) int {
	n := 0
	switch jobType {
	case models.JobTypeScrape:
		n = s.config.ScrapeConcurrency
	case models.JobTypeCrawl:
		n = s.config.CrawlConcurrency
	case models.JobTypeExtract:
		n = s.config.ExtractConcurrency
	case models.JobTypeReport:
		n = s.config.ReportConcurrency
	}
	if n <= 0 {
		return models.DefaultConcurrency(jobType)
	}
	return n
}
