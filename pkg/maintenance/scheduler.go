// Package maintenance runs the portal's periodic cleanup jobs on cron
// schedules: expired sessions, stale rate-limit windows, the document
// access log and pending webhook retries.
package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/mustardtree/portal/pkg/audit"
	"github.com/mustardtree/portal/pkg/auth"
	"github.com/mustardtree/portal/pkg/config"
	"github.com/mustardtree/portal/pkg/observability"
	"github.com/mustardtree/portal/pkg/webhooks"
)

// Job names, used in logs and the portal_maintenance_runs_total metric
const (
	JobSessionCleanup = "session_cleanup"
	JobLimiterCleanup = "limiter_cleanup"
	JobAccessLogPrune = "access_log_prune"
	JobWebhookRetry   = "webhook_retry"
)

// jobTimeout bounds a single run
const jobTimeout = time.Minute

// LimiterCleaner drops expired rate-limit windows. The in-memory limiter
// implements it; the redis limiter relies on key expiry instead.
type LimiterCleaner interface {
	Cleanup() int
}

// Targets are the components the jobs operate on. Nil targets get no job.
type Targets struct {
	Sessions  *auth.SessionManager
	Limiter   LimiterCleaner
	AccessLog *audit.AccessLog
	Webhooks  *webhooks.Manager
}

// Scheduler runs maintenance jobs
type Scheduler struct {
	cron    *cron.Cron
	targets Targets
	logger  *logrus.Logger
	metrics *observability.Metrics
	jobs    []string
	runs    map[string]func(context.Context) (int, error)
}

// New registers a job for every non-nil target with a non-empty schedule.
// A schedule that does not parse is an error. metrics may be nil.
func New(cfg config.MaintenanceConfig, targets Targets, logger *logrus.Logger, metrics *observability.Metrics) (*Scheduler, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLogger(cron.PrintfLogger(logger)),
			cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(logger))),
		),
		targets: targets,
		logger:  logger,
		metrics: metrics,
		runs:    make(map[string]func(context.Context) (int, error)),
	}

	type entry struct {
		name     string
		schedule string
		enabled  bool
		run      func(context.Context) (int, error)
	}
	entries := []entry{
		{JobSessionCleanup, cfg.SessionCleanup, targets.Sessions != nil, s.CleanupSessions},
		{JobLimiterCleanup, cfg.LimiterCleanup, targets.Limiter != nil, s.CleanupLimiter},
		{JobAccessLogPrune, cfg.AccessLogPrune, targets.AccessLog != nil, s.PruneAccessLog},
		{JobWebhookRetry, cfg.WebhookRetry, targets.Webhooks != nil, s.RetryWebhooks},
	}
	for _, e := range entries {
		if !e.enabled || e.schedule == "" {
			continue
		}
		name, run := e.name, e.run
		if _, err := s.cron.AddFunc(e.schedule, func() { s.runJob(context.Background(), name, run) }); err != nil {
			return nil, fmt.Errorf("invalid %s schedule %q: %w", name, e.schedule, err)
		}
		s.jobs = append(s.jobs, name)
		s.runs[name] = run
		logger.WithFields(logrus.Fields{"job": name, "schedule": e.schedule}).Info("Maintenance job scheduled")
	}
	return s, nil
}

// Jobs returns the names of the scheduled jobs
func (s *Scheduler) Jobs() []string {
	return append([]string(nil), s.jobs...)
}

// Start begins running jobs in the background
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling and waits for running jobs, or for ctx
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts the scheduler and blocks until ctx is cancelled
func (s *Scheduler) Run(ctx context.Context) error {
	s.Start()
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	return s.Stop(stopCtx)
}

// RunAll runs every scheduled job once, in order, and returns the first error
func (s *Scheduler) RunAll(ctx context.Context) error {
	var first error
	for _, name := range s.jobs {
		if err := s.runJob(ctx, name, s.runs[name]); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (s *Scheduler) runJob(ctx context.Context, name string, run func(context.Context) (int, error)) error {
	ctx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	start := time.Now()
	n, err := run(ctx)
	fields := logrus.Fields{"job": name, "duration": time.Since(start).String()}

	status := "success"
	if err != nil {
		status = "error"
		s.logger.WithFields(fields).WithError(err).Error("Maintenance job failed")
	} else if n > 0 {
		s.logger.WithFields(fields).WithField("count", n).Info("Maintenance job completed")
	} else {
		s.logger.WithFields(fields).Debug("Maintenance job completed, nothing to do")
	}
	if s.metrics != nil {
		s.metrics.MaintenanceRunsTotal.WithLabelValues(name, status).Inc()
	}
	return err
}

// CleanupSessions removes expired sessions and refreshes the active
// sessions gauge. It returns the number removed.
func (s *Scheduler) CleanupSessions(ctx context.Context) (int, error) {
	removed, err := s.targets.Sessions.CleanupExpired(ctx)
	if err != nil {
		return 0, fmt.Errorf("cleanup expired sessions: %w", err)
	}
	if s.metrics != nil {
		active, err := s.targets.Sessions.Active(ctx)
		if err != nil {
			return removed, fmt.Errorf("count active sessions: %w", err)
		}
		s.metrics.SessionsActive.Set(float64(active))
	}
	return removed, nil
}

// CleanupLimiter drops expired rate-limit windows
func (s *Scheduler) CleanupLimiter(_ context.Context) (int, error) {
	return s.targets.Limiter.Cleanup(), nil
}

// PruneAccessLog trims the access log to its retention
func (s *Scheduler) PruneAccessLog(ctx context.Context) (int, error) {
	dropped, err := s.targets.AccessLog.Prune(ctx)
	if err != nil {
		return 0, fmt.Errorf("prune access log: %w", err)
	}
	return dropped, nil
}

// RetryWebhooks re-sends webhook deliveries whose retry time has passed
func (s *Scheduler) RetryWebhooks(ctx context.Context) (int, error) {
	return s.targets.Webhooks.RetryPending(ctx), nil
}
