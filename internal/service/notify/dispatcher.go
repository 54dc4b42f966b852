package notify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"tasksync/internal/config"
	"tasksync/internal/model"
	"tasksync/internal/mq"
	"tasksync/internal/provider"
	"tasksync/internal/repository"
	"tasksync/pkg/metrics"
	"tasksync/pkg/util"
)

// TaskGetter is the slice of the task repository the dispatcher needs for
// its dispatch-time state re-check.
type TaskGetter interface {
	Get(ctx context.Context, localID int64) (*model.Task, error)
}

// Dispatcher consumes intents from the shared queue with a worker pool,
// deduplicates them against the delivery log, renders the message and
// delivers it through the provider. Retries re-enter the queue via a
// timer so they never park a worker.
type Dispatcher struct {
	queue   *Queue
	tasks   TaskGetter
	log     *repository.DeliveryLogStore
	deduper *util.Deduper
	sender  provider.Sender
	events  *mq.Publisher
	cfg     config.NotifyConfig
	logger  *zap.Logger

	now func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{} // one in-flight attempt per (task, kind)

	wg sync.WaitGroup
}

func NewDispatcher(queue *Queue, tasks TaskGetter, log *repository.DeliveryLogStore, deduper *util.Deduper, sender provider.Sender, events *mq.Publisher, cfg config.NotifyConfig, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		queue:    queue,
		tasks:    tasks,
		log:      log,
		deduper:  deduper,
		sender:   sender,
		events:   events,
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		inflight: make(map[string]struct{}),
	}
}

// Start launches the worker pool. Workers drain until ctx is cancelled;
// Wait blocks until they exit.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case in := <-d.queue.C():
					d.handle(ctx, in)
				}
			}
		}()
	}
}

func (d *Dispatcher) Wait() { d.wg.Wait() }

// bucketFor returns the dedup window for an intent kind. Transition
// intents share the configured dedup window; scan intents bucket by the
// interval that makes them idempotent (one due-soon per lookahead window,
// one overdue per rescan period).
func (d *Dispatcher) bucketFor(kind model.IntentKind) time.Duration {
	switch kind {
	case model.IntentDueSoon:
		return d.cfg.DueSoonLookahead.Std()
	case model.IntentOverdue:
		return d.cfg.OverdueRescanPeriod.Std()
	default:
		return d.cfg.DedupWindow.Std()
	}
}

func (d *Dispatcher) dedupKey(in model.NotificationIntent, bucket time.Duration) string {
	idx := d.now().UnixMilli() / bucket.Milliseconds()
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d|%s|%s|%d", in.TaskRef, in.Kind, in.Recipient, idx)))
	return hex.EncodeToString(sum[:16])
}

func inflightKey(in model.NotificationIntent) string {
	return fmt.Sprintf("%d|%s", in.TaskRef, in.Kind)
}

func (d *Dispatcher) handle(ctx context.Context, in model.NotificationIntent) {
	bucket := d.bucketFor(in.Kind)
	// The key is fixed at first dispatch. Recomputing it on a retry
	// would derive a fresh bucket once the window rolls over and orphan
	// the log entry the first attempt was recorded under.
	key := in.DedupKey
	if key == "" {
		key = d.dedupKey(in, bucket)
	}
	ik := inflightKey(in)

	// Retries already hold the in-flight slot and the dedup key.
	if in.Attempt == 0 {
		if !d.claim(ik) {
			d.drop("duplicate", in, "another attempt in flight")
			return
		}
		delivered, err := d.log.HasDelivered(ctx, key, d.now().Add(-bucket))
		if err != nil {
			d.logger.Error("Delivery log check failed", zap.Error(err))
			d.release(ik)
			return
		}
		if delivered {
			d.release(ik)
			d.drop("duplicate", in, "already delivered in window")
			return
		}
		if !d.deduper.AcquireOnce(ctx, key, bucket) {
			d.release(ik)
			d.drop("duplicate", in, "claimed by another process")
			return
		}
		entry := model.DeliveryLogEntry{
			TaskRef:    in.TaskRef,
			IntentKind: in.Kind,
			Recipient:  in.Recipient,
			DedupKey:   key,
		}
		if err := d.log.Ensure(ctx, &entry); err != nil {
			d.logger.Error("Delivery log insert failed", zap.Error(err))
			d.deduper.Release(ctx, key)
			d.release(ik)
			return
		}
	}

	t, err := d.tasks.Get(ctx, in.TaskRef)
	if errors.Is(err, repository.ErrTaskNotFound) {
		d.dropStale(ctx, in, key, ik, "task deleted before dispatch")
		return
	}
	if err != nil {
		d.logger.Error("Task re-check failed", zap.Int64("task_ref", in.TaskRef), zap.Error(err))
		d.deduper.Release(ctx, key)
		d.release(ik)
		return
	}
	if t.Status == model.StatusComplete && in.Kind != model.IntentCompleted {
		d.dropStale(ctx, in, key, ik, "task completed before dispatch")
		return
	}

	body, err := renderMessage(in.Kind, t)
	if err != nil {
		d.fail(ctx, in, key, ik, in.Attempt, err)
		return
	}

	attempt := in.Attempt + 1
	start := d.now()
	_, sendErr := d.sender.Send(ctx, in.Recipient, body)
	elapsed := time.Since(start)

	if sendErr == nil {
		metrics.RecordDelivery("sent", elapsed)
		now := d.now()
		if err := d.log.MarkDelivered(ctx, key, attempt, now); err != nil {
			d.logger.Error("Delivery log update failed", zap.Error(err))
		}
		d.release(ik)
		_ = d.events.Publish(mq.RouteNotificationDelivered, mq.NotificationDeliveredPayload{
			TaskRef:     in.TaskRef,
			Kind:        string(in.Kind),
			Recipient:   in.Recipient,
			Attempts:    attempt,
			DeliveredAt: now,
		})
		d.logger.Info("Notification delivered",
			zap.Int64("task_ref", in.TaskRef),
			zap.String("kind", string(in.Kind)),
			zap.Int("attempts", attempt))
		return
	}

	metrics.RecordDelivery(provider.KindOf(sendErr).String(), elapsed)

	if provider.Permanent(sendErr) || attempt >= d.cfg.MaxDeliveryAttempts {
		d.fail(ctx, in, key, ik, attempt, sendErr)
		return
	}

	if err := d.log.RecordAttempt(ctx, key, attempt, sendErr.Error()); err != nil {
		d.logger.Error("Delivery log update failed", zap.Error(err))
	}
	pause := d.retryPause(attempt, sendErr)
	d.logger.Warn("Delivery attempt failed, scheduling retry",
		zap.Int64("task_ref", in.TaskRef),
		zap.String("kind", string(in.Kind)),
		zap.Int("attempt", attempt),
		zap.Duration("pause", pause),
		zap.Error(sendErr))

	retry := in
	retry.Attempt = attempt
	retry.DedupKey = key
	time.AfterFunc(pause, func() {
		if !d.queue.Enqueue(retry) {
			d.fail(context.Background(), retry, key, ik, attempt, errors.New("retry queue full"))
		}
	})
}

func (d *Dispatcher) retryPause(attempt int, err error) time.Duration {
	if ra := provider.RetryAfterOf(err); ra > 0 {
		return ra
	}
	pause := d.cfg.BackoffBase.Std()
	for i := 1; i < attempt; i++ {
		pause *= 2
	}
	if cap := d.cfg.BackoffCap.Std(); pause > cap {
		pause = cap
	}
	return pause
}

func (d *Dispatcher) claim(ik string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, busy := d.inflight[ik]; busy {
		return false
	}
	d.inflight[ik] = struct{}{}
	return true
}

func (d *Dispatcher) release(ik string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inflight, ik)
}

func (d *Dispatcher) drop(reason string, in model.NotificationIntent, detail string) {
	metrics.IntentsDroppedTotal.WithLabelValues(reason).Inc()
	d.logger.Debug("Dropping intent",
		zap.String("reason", reason),
		zap.String("detail", detail),
		zap.Int64("task_ref", in.TaskRef),
		zap.String("kind", string(in.Kind)))
}

// dropStale abandons an intent whose task no longer warrants it. The
// dedup key is released so the window is not poisoned for a task that
// later becomes relevant again.
func (d *Dispatcher) dropStale(ctx context.Context, in model.NotificationIntent, key, ik, reason string) {
	if err := d.log.MarkFailed(ctx, key, in.Attempt, reason, d.now()); err != nil {
		d.logger.Error("Delivery log update failed", zap.Error(err))
	}
	d.deduper.Release(ctx, key)
	d.release(ik)
	d.drop("stale", in, reason)
}

func (d *Dispatcher) fail(ctx context.Context, in model.NotificationIntent, key, ik string, attempts int, cause error) {
	if err := d.log.MarkFailed(ctx, key, attempts, cause.Error(), d.now()); err != nil {
		d.logger.Error("Delivery log update failed", zap.Error(err))
	}
	d.release(ik)
	_ = d.events.Publish(mq.RouteNotificationFailed, mq.NotificationFailedPayload{
		TaskRef:   in.TaskRef,
		Kind:      string(in.Kind),
		Recipient: in.Recipient,
		Attempts:  attempts,
		Error:     cause.Error(),
	})
	d.logger.Warn("Notification failed terminally",
		zap.Int64("task_ref", in.TaskRef),
		zap.String("kind", string(in.Kind)),
		zap.Int("attempts", attempts),
		zap.Error(cause))
}
