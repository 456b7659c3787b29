// Package reconciler runs the lease-reclamation and stale-orchestrator
// sweep on a fixed cadence. Both passes are idempotent conditional bulk
// writes; a tick with nothing to do is a no-op, and the sweep is safe
// to run concurrently with live client traffic.
package reconciler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/fleetci/taskhub/internal/persistence"
)

// DefaultInterval matches spec's "≈1 minute" cadence.
const DefaultInterval = 60 * time.Second

// DefaultStaleOrchestratorTimeout matches the default
// staleOrchestratorTimeoutSeconds configuration value.
const DefaultStaleOrchestratorTimeout = 120 * time.Second

// Config holds the scheduler's dependencies.
type Config struct {
	Store                    *persistence.Store
	Logger                   *slog.Logger
	Interval                 time.Duration // parsed as an `@every` cron expression
	StaleOrchestratorTimeout time.Duration
}

// Scheduler fires the reconciliation pass on a fixed interval, parsed
// through robfig/cron's `@every` expression rather than a bare ticker so
// the cadence is configured the same way as every other scheduled job in
// this codebase.
type Scheduler struct {
	store        *persistence.Store
	logger       *slog.Logger
	schedule     cronlib.Schedule
	staleTimeout time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Scheduler. Interval defaults to DefaultInterval and is
// parsed as `@every <interval>`; a malformed interval falls back to the
// default rather than failing startup.
func New(cfg Config) *Scheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	staleTimeout := cfg.StaleOrchestratorTimeout
	if staleTimeout <= 0 {
		staleTimeout = DefaultStaleOrchestratorTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	schedule, err := cronlib.ParseStandard("@every " + interval.String())
	if err != nil {
		schedule, _ = cronlib.ParseStandard("@every " + DefaultInterval.String())
		logger.Error("reconciler: invalid interval, falling back to default", "interval", interval, "error", err)
	}

	return &Scheduler{
		store:        cfg.Store,
		logger:       logger,
		schedule:     schedule,
		staleTimeout: staleTimeout,
	}
}

// Start runs the reconciliation loop in a background goroutine until
// the context is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("reconciler started")
}

// Stop cancels the loop and waits for the in-flight tick to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("reconciler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	next := s.schedule.Next(time.Now())
	timer := time.NewTimer(time.Until(next))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.Tick(ctx)
			next = s.schedule.Next(time.Now())
			timer.Reset(time.Until(next))
		}
	}
}

// Tick runs both conditional bulk writes once. It is exported so tests
// and the operator CLI can trigger a reconciliation pass on demand
// without waiting for the clock.
func (s *Scheduler) Tick(ctx context.Context) {
	now := time.Now()

	requeued, err := s.store.RequeueExpiredLeases(ctx, now)
	if err != nil {
		s.logger.Error("reconciler: failed to requeue expired leases", "error", err)
	} else if len(requeued) > 0 {
		s.logger.Info("reconciler: released expired leases", "count", len(requeued), "task_ids", requeued)
	}

	offline, err := s.store.MarkStaleOrchestratorsOffline(ctx, now, s.staleTimeout)
	if err != nil {
		s.logger.Error("reconciler: failed to mark stale orchestrators offline", "error", err)
	} else if len(offline) > 0 {
		s.logger.Info("reconciler: marked orchestrators offline", "count", len(offline), "orchestrator_ids", offline)
	}
}
