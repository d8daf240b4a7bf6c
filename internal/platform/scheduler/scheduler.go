package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/sahra-camps/api/internal/platform/observability"
)

const defaultJobTimeout = 5 * time.Minute

// Job is a named unit of periodic work. Schedule uses the six-field cron syntax (with seconds) and
// is evaluated in UTC. An empty schedule disables the job.
type Job struct {
	Name     string
	Schedule string
	Timeout  time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler runs registered jobs on their cron schedules. A job never overlaps with itself.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger
	base   context.Context
	cancel context.CancelFunc
}

// New constructs a scheduler that logs through logger.
func New(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	cronLogger := cron.PrintfLogger(observability.NewPrintfAdapter(logger.Named("cron")))
	base, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(time.UTC),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		logger: logger,
		base:   base,
		cancel: cancel,
	}
}

// Register adds job. It returns false without error when the job is disabled.
func (s *Scheduler) Register(job Job) (bool, error) {
	name := strings.TrimSpace(job.Name)
	if name == "" {
		return false, errors.New("scheduler: job name is required")
	}
	if job.Run == nil {
		return false, fmt.Errorf("scheduler: job %s has no run function", name)
	}
	schedule := strings.TrimSpace(job.Schedule)
	if schedule == "" {
		s.logger.Info("scheduled job disabled", zap.String("job", name))
		return false, nil
	}
	if _, err := s.cron.AddFunc(schedule, s.wrap(job)); err != nil {
		return false, fmt.Errorf("scheduler: job %s: invalid schedule %q: %w", name, schedule, err)
	}
	s.logger.Info("scheduled job registered", zap.String("job", name), zap.String("schedule", schedule))
	return true, nil
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop prevents new runs, cancels in-flight ones and waits for them until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	s.cancel()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) wrap(job Job) func() {
	timeout := job.Timeout
	if timeout <= 0 {
		timeout = defaultJobTimeout
	}
	return func() {
		ctx, cancel := context.WithTimeout(s.base, timeout)
		defer cancel()
		ctx = observability.WithLogger(ctx, s.logger.With(zap.String("job", job.Name)))

		started := time.Now()
		err := job.Run(ctx)
		fields := []zap.Field{
			zap.String("job", job.Name),
			zap.Duration("duration", time.Since(started)),
		}
		if err != nil {
			s.logger.Warn("scheduled job failed", append(fields, zap.Error(err))...)
			return
		}
		s.logger.Info("scheduled job completed", fields...)
	}
}
