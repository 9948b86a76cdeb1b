package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/admin/agro-bots/farm-insights/internal/ports/jobs"
	"github.com/admin/agro-bots/farm-insights/internal/ports/service"
)

// DefaultRetryDelays паузы перед повторными попытками: now + 1m + 10m + 30m
var DefaultRetryDelays = []time.Duration{
	1 * time.Minute,
	10 * time.Minute,
	30 * time.Minute,
}

// Scheduler управляет запуском периодических джоб
type Scheduler struct {
	jobs           []jobs.Job
	alerterService service.IAlerterService
	retryDelays    []time.Duration
	now            func() time.Time
	log            *slog.Logger
}

// NewScheduler создаёт новый планировщик джоб; alerterService может быть nil
func NewScheduler(log *slog.Logger, alerterService service.IAlerterService, retryDelays []time.Duration) *Scheduler {
	if retryDelays == nil {
		retryDelays = DefaultRetryDelays
	}
	return &Scheduler{
		jobs:           make([]jobs.Job, 0),
		alerterService: alerterService,
		retryDelays:    retryDelays,
		now:            time.Now,
		log:            log,
	}
}

// Register регистрирует джобу в планировщике
func (s *Scheduler) Register(job jobs.Job) {
	s.jobs = append(s.jobs, job)
	s.log.Debug("job registered", "job_name", job.Name(), "total_jobs", len(s.jobs))
}

// Run запускает все джобы и блокируется до отмены ctx
func (s *Scheduler) Run(ctx context.Context) error {
	if len(s.jobs) == 0 {
		s.log.Warn("no jobs registered, scheduler not started")
		return nil
	}

	s.log.Info("starting job scheduler", "jobs_count", len(s.jobs))

	g, ctx := errgroup.WithContext(ctx)
	for _, job := range s.jobs {
		g.Go(func() error {
			s.runJob(ctx, job)
			return nil
		})
	}
	return g.Wait()
}

// runJob запускает отдельную джобу в цикле
func (s *Scheduler) runJob(ctx context.Context, job jobs.Job) {
	jobName := job.Name()
	for {
		now := s.now()
		if !sleep(ctx, job.NextRun(now).Sub(now)) {
			s.log.Info("job stopped by context", "job_name", jobName)
			return
		}

		started := s.now()
		attemptErrors, err := s.executeJobWithRetry(ctx, job)
		switch {
		case err == nil:
			s.log.Info("job executed successfully", "job_name", jobName, "elapsed", s.now().Sub(started))
		case errors.Is(err, context.Canceled):
			s.log.Info("job interrupted by shutdown", "job_name", jobName)
			return
		default:
			s.log.Error("job failed after all retries",
				"job_name", jobName,
				"error", err,
				"attempts", len(attemptErrors),
			)
			s.sendAlert(context.WithoutCancel(ctx), jobName, attemptErrors)
		}
	}
}

// jobAttemptError представляет ошибку конкретной попытки выполнения джобы
type jobAttemptError struct {
	attempt int
	err     error
}

// executeJobWithRetry выполняет джобу с retry при ошибках.
// Возвращает ошибки всех попыток и финальную ошибку.
func (s *Scheduler) executeJobWithRetry(ctx context.Context, job jobs.Job) ([]jobAttemptError, error) {
	var attemptErrors []jobAttemptError

	for attempt := 1; ; attempt++ {
		err := job.Run(ctx)
		if err == nil {
			return nil, nil
		}
		if ctx.Err() != nil {
			return attemptErrors, ctx.Err()
		}
		attemptErrors = append(attemptErrors, jobAttemptError{attempt: attempt, err: err})

		remaining := len(s.retryDelays) - attempt + 1
		if remaining <= 0 {
			break
		}
		s.log.Warn("job execution failed, will retry",
			"job_name", job.Name(),
			"attempt", attempt,
			"retries_remaining", remaining,
			"error", err,
		)
		if !sleep(ctx, s.retryDelays[attempt-1]) {
			return attemptErrors, ctx.Err()
		}
	}

	return attemptErrors, fmt.Errorf("all retry attempts failed (total attempts: %d)", len(attemptErrors))
}

// sleep ждёт d; false, если ctx отменён раньше
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// sendAlert алертит на финальную ошибку после ретраев
func (s *Scheduler) sendAlert(ctx context.Context, jobName string, attemptErrors []jobAttemptError) {
	if s.alerterService == nil {
		return
	}

	var message strings.Builder
	message.WriteString("⚠️ Job failed, retries exhausted\n\n")
	fmt.Fprintf(&message, "Job: %s\n\n", jobName)
	message.WriteString("Attempt errors:\n")
	for _, attemptErr := range attemptErrors {
		fmt.Fprintf(&message, "Attempt %d: %s\n", attemptErr.attempt, attemptErr.err)
	}

	if alertErr := s.alerterService.SendAlert(ctx, message.String()); alertErr != nil {
		s.log.Warn("failed to send job failure alert",
			"job_name", jobName,
			"error", alertErr,
		)
	}
}
