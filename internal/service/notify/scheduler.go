package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"tasksync/internal/config"
	"tasksync/internal/model"
	"tasksync/pkg/metrics"
)

// DueLister is the slice of the task repository the scheduler needs.
type DueLister interface {
	ListDue(ctx context.Context, from, until time.Time) ([]*model.Task, error)
}

// Scheduler owns the background scan loop and is the single entry point
// for transition-derived intents. Scan cycles never overlap: a tick that
// fires while the previous scan is still running is dropped and logged by
// the cron chain.
type Scheduler struct {
	store    DueLister
	queue    *Queue
	resolver *Resolver
	cfg      config.NotifyConfig
	logger   *zap.Logger

	cron *cron.Cron
	now  func() time.Time
}

func NewScheduler(store DueLister, queue *Queue, resolver *Resolver, cfg config.NotifyConfig, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		store:    store,
		queue:    queue,
		resolver: resolver,
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Notify forwards a before/after task transition into the intent queue.
// Called by the CRUD layer after every successful local mutation.
func (s *Scheduler) Notify(before, after *model.Task) {
	kind, ok := Derive(before, after)
	if !ok {
		return
	}
	recipient := s.resolver.Resolve(after)
	if recipient == "" {
		s.logger.Debug("No recipient for transition, skipping intent",
			zap.Int64("task_ref", after.LocalID),
			zap.String("kind", string(kind)))
		return
	}
	s.queue.Enqueue(newIntent(after.LocalID, kind, recipient, s.now()))
}

// Start registers the periodic scan job and launches the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	cronLogger := &zapCronLogger{logger: s.logger}
	s.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger)))

	spec := fmt.Sprintf("@every %s", s.cfg.ScanInterval.Std())
	_, err := s.cron.AddFunc(spec, func() {
		s.ScanDueSoon(ctx)
		s.ScanOverdue(ctx)
	})
	if err != nil {
		return fmt.Errorf("register scan job: %w", err)
	}
	s.cron.Start()
	s.logger.Info("Notification scheduler started", zap.String("interval", s.cfg.ScanInterval.Std().String()))
	return nil
}

// Stop halts the cron loop and waits for a running scan to finish.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// ScanDueSoon enqueues a due_soon intent for every incomplete task whose
// due instant falls inside the lookahead window. The dispatcher's dedup
// makes repeated scans within one window idempotent.
func (s *Scheduler) ScanDueSoon(ctx context.Context) {
	start := s.now()
	defer func() { metrics.RecordScan("due_soon", time.Since(start)) }()

	tasks, err := s.store.ListDue(ctx, start, start.Add(s.cfg.DueSoonLookahead.Std()))
	if err != nil {
		s.logger.Error("Due-soon scan failed", zap.Error(err))
		return
	}
	s.enqueueScanIntents(tasks, model.IntentDueSoon)
}

// ScanOverdue enqueues an overdue intent for every incomplete task whose
// due instant has passed. Bucketed dedup caps it at one per rescan
// period, not one per scan.
func (s *Scheduler) ScanOverdue(ctx context.Context) {
	start := s.now()
	defer func() { metrics.RecordScan("overdue", time.Since(start)) }()

	tasks, err := s.store.ListDue(ctx, time.UnixMilli(1), start)
	if err != nil {
		s.logger.Error("Overdue scan failed", zap.Error(err))
		return
	}
	s.enqueueScanIntents(tasks, model.IntentOverdue)
}

func (s *Scheduler) enqueueScanIntents(tasks []*model.Task, kind model.IntentKind) {
	for _, t := range tasks {
		recipient := s.resolver.Resolve(t)
		if recipient == "" {
			continue
		}
		s.queue.Enqueue(newIntent(t.LocalID, kind, recipient, s.now()))
	}
}

// zapCronLogger adapts zap to the cron logger interface so skipped ticks
// land in the structured log.
type zapCronLogger struct {
	logger *zap.Logger
}

func (l *zapCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg, zap.Any("details", keysAndValues))
}

func (l *zapCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err), zap.Any("details", keysAndValues))
}
