// Package syncer reconciles the local task store with the remote task
// service: pushing dirty local tasks out and pulling workspace state in.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"tasksync/internal/config"
	"tasksync/internal/mapper"
	"tasksync/internal/model"
	"tasksync/internal/mq"
	"tasksync/internal/remote"
	"tasksync/internal/repository"
	"tasksync/pkg/metrics"
)

// Outcome names the result of one per-task sync attempt.
type Outcome string

const (
	OutcomeCreated         Outcome = "created"
	OutcomeUpdated         Outcome = "updated"
	OutcomeUnchanged       Outcome = "unchanged"
	OutcomeRecreatePending Outcome = "recreate_pending"
	OutcomeErrored         Outcome = "errored"
)

// Store is the slice of the task repository the reconciler needs.
type Store interface {
	Get(ctx context.Context, localID int64) (*model.Task, error)
	GetByRemoteID(ctx context.Context, remoteID string) (*model.Task, error)
	Insert(ctx context.Context, t *model.Task) error
	UpdateIfVersion(ctx context.Context, t *model.Task, expected int64) (bool, error)
	SetSyncState(ctx context.Context, localID int64, remoteID string, syncedVersion int64, at time.Time) error
	ClearRemote(ctx context.Context, localID int64) error
	Delete(ctx context.Context, localID int64) error
	ListDirty(ctx context.Context) ([]*model.Task, error)
}

// BulkSyncReport summarizes one workspace pull.
type BulkSyncReport struct {
	Created   int
	Updated   int
	Unchanged int
	Errored   int
	Errors    []error
}

// DirtySyncReport summarizes one push of all dirty tasks.
type DirtySyncReport struct {
	Synced  int
	Errored int
	Errors  []error
}

// Reconciler drives both sync directions. Per-task work is serialized by
// a keyed mutex so concurrent triggers for the same task cannot race.
type Reconciler struct {
	store  Store
	client remote.Client
	mapper *mapper.Mapper
	events *mq.Publisher
	cfg    config.SyncConfig
	logger *zap.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu    sync.Mutex
	locks map[int64]*taskLock
}

// taskLock is a refcounted per-task mutex entry so the lock table can be
// pruned once no goroutine holds or awaits it.
type taskLock struct {
	mu   sync.Mutex
	refs int
}

func NewReconciler(store Store, client remote.Client, m *mapper.Mapper, events *mq.Publisher, cfg config.SyncConfig, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		store:  store,
		client: client,
		mapper: m,
		events: events,
		cfg:    cfg,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		sleep:  sleepCtx,
		locks:  make(map[int64]*taskLock),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (r *Reconciler) lockTask(localID int64) func() {
	r.mu.Lock()
	l, ok := r.locks[localID]
	if !ok {
		l = &taskLock{}
		r.locks[localID] = l
	}
	l.refs++
	r.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		r.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, localID)
		}
		r.mu.Unlock()
	}
}

// SyncTask pushes one task's local state to the remote service. A clean
// task returns OutcomeUnchanged without any remote call. A task whose
// remote counterpart vanished has its binding cleared and reports
// OutcomeRecreatePending; the next sync attempt recreates it.
func (r *Reconciler) SyncTask(ctx context.Context, localID int64) (Outcome, error) {
	unlock := r.lockTask(localID)
	defer unlock()

	outcome, err := r.syncTaskLocked(ctx, localID)

	metrics.SyncTasksTotal.WithLabelValues(string(outcome)).Inc()
	if err != nil {
		r.logger.Warn("Task sync failed",
			zap.Int64("local_id", localID),
			zap.String("outcome", string(outcome)),
			zap.Error(err))
		_ = r.events.Publish(mq.RouteTaskSyncFailed, mq.TaskSyncFailedPayload{
			LocalID: localID,
			Error:   err.Error(),
		})
	}
	return outcome, err
}

func (r *Reconciler) syncTaskLocked(ctx context.Context, localID int64) (Outcome, error) {
	t, err := r.store.Get(ctx, localID)
	if err != nil {
		return OutcomeErrored, err
	}
	if !t.Dirty() {
		return OutcomeUnchanged, nil
	}

	payload, err := r.mapper.ToRemote(*t)
	if err != nil {
		return OutcomeErrored, err
	}

	version := t.Version

	if t.RemoteID == "" {
		var remoteID string
		err = r.withRetry(ctx, func() error {
			var cerr error
			remoteID, cerr = r.client.Create(ctx, t.ListID, payload)
			return cerr
		})
		if err != nil {
			return OutcomeErrored, err
		}
		if err := r.store.SetSyncState(ctx, localID, remoteID, version, r.now()); err != nil {
			return OutcomeErrored, err
		}
		r.publishSynced(localID, remoteID, OutcomeCreated)
		return OutcomeCreated, nil
	}

	err = r.withRetry(ctx, func() error {
		return r.client.Update(ctx, t.RemoteID, payload)
	})
	if remote.IsNotFound(err) {
		r.logger.Info("Remote task vanished, clearing binding for recreation",
			zap.Int64("local_id", localID),
			zap.String("remote_id", t.RemoteID))
		if cerr := r.store.ClearRemote(ctx, localID); cerr != nil {
			return OutcomeErrored, cerr
		}
		return OutcomeRecreatePending, nil
	}
	if err != nil {
		return OutcomeErrored, err
	}
	if err := r.store.SetSyncState(ctx, localID, t.RemoteID, version, r.now()); err != nil {
		return OutcomeErrored, err
	}
	r.publishSynced(localID, t.RemoteID, OutcomeUpdated)
	return OutcomeUpdated, nil
}

func (r *Reconciler) publishSynced(localID int64, remoteID string, outcome Outcome) {
	_ = r.events.Publish(mq.RouteTaskSynced, mq.TaskSyncedPayload{
		LocalID:  localID,
		RemoteID: remoteID,
		Outcome:  string(outcome),
		SyncedAt: r.now(),
	})
}

// DeleteTask removes the task locally and, when bound, remotely. A
// remote record that is already gone is not an error.
func (r *Reconciler) DeleteTask(ctx context.Context, localID int64) error {
	unlock := r.lockTask(localID)
	defer unlock()

	t, err := r.store.Get(ctx, localID)
	if err != nil {
		return err
	}
	if t.RemoteID != "" {
		err = r.withRetry(ctx, func() error {
			return r.client.Delete(ctx, t.RemoteID)
		})
		if err != nil && !remote.IsNotFound(err) {
			return err
		}
	}
	return r.store.Delete(ctx, localID)
}

// withRetry runs call up to MaxAttempts times, retrying transient and
// rate-limited failures with exponential backoff. A server-advised
// Retry-After overrides the computed pause.
func (r *Reconciler) withRetry(ctx context.Context, call func() error) error {
	backoff := r.cfg.BackoffBase.Std()
	var err error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		err = call()
		if err == nil || !remote.Retryable(err) {
			return err
		}
		if attempt == r.cfg.MaxAttempts {
			break
		}
		pause := backoff
		if ra := remote.RetryAfterOf(err); ra > 0 {
			pause = ra
		}
		if serr := r.sleep(ctx, pause); serr != nil {
			return serr
		}
		backoff *= 2
		if cap := r.cfg.BackoffCap.Std(); backoff > cap {
			backoff = cap
		}
	}
	return err
}

// SyncDirty pushes every dirty task. An aborting remote error stops the
// run; per-task mapping errors are recorded and skipped.
func (r *Reconciler) SyncDirty(ctx context.Context) (DirtySyncReport, error) {
	var report DirtySyncReport
	dirty, err := r.store.ListDirty(ctx)
	if err != nil {
		return report, err
	}
	for _, t := range dirty {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		_, err := r.SyncTask(ctx, t.LocalID)
		if err != nil {
			report.Errored++
			report.Errors = append(report.Errors, fmt.Errorf("task %d: %w", t.LocalID, err))
			if remote.Aborting(err) {
				return report, err
			}
			continue
		}
		report.Synced++
	}
	return report, nil
}

// SyncWorkspace pulls every remote task in the list into the local store.
// Local edits are never regressed: a task with unconfirmed local changes
// keeps them, and a concurrent edit during the pull wins via version
// compare-and-set. After RateLimitThreshold consecutive rate-limited
// reads the pull pauses with exponential backoff before resuming; the
// iterator continues where it left off.
func (r *Reconciler) SyncWorkspace(ctx context.Context, listID string) (BulkSyncReport, error) {
	start := r.now()
	defer func() {
		metrics.BulkSyncDuration.Observe(time.Since(start).Seconds())
	}()

	var report BulkSyncReport
	it := r.client.List(listID)

	consecutiveRateLimits := 0
	listFailures := 0
	rlPause := r.cfg.BackoffBase.Std()
	listPause := r.cfg.BackoffBase.Std()

	for {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}

		rec, ok, err := it.Next(ctx)
		if err != nil {
			if remote.Aborting(err) {
				return report, err
			}
			if remote.KindOf(err) == remote.KindRateLimited {
				consecutiveRateLimits++
				if consecutiveRateLimits >= r.cfg.RateLimitThreshold {
					wait := rlPause
					if ra := remote.RetryAfterOf(err); ra > 0 {
						wait = ra
					}
					r.logger.Warn("Rate limited repeatedly, pausing workspace pull",
						zap.Duration("pause", wait))
					if serr := r.sleep(ctx, wait); serr != nil {
						return report, serr
					}
					rlPause *= 2
					if cap := r.cfg.BackoffCap.Std(); rlPause > cap {
						rlPause = cap
					}
					consecutiveRateLimits = 0
				}
				continue
			}
			// Other read failures get bounded retries with backoff,
			// then the run stops with the partial report.
			listFailures++
			if listFailures >= r.cfg.MaxAttempts {
				report.Errored++
				report.Errors = append(report.Errors, err)
				r.logger.Warn("Workspace pull read failed repeatedly, stopping",
					zap.Int("attempts", listFailures),
					zap.Error(err))
				return report, err
			}
			if serr := r.sleep(ctx, listPause); serr != nil {
				return report, serr
			}
			listPause *= 2
			if cap := r.cfg.BackoffCap.Std(); listPause > cap {
				listPause = cap
			}
			continue
		}
		if !ok {
			break
		}
		consecutiveRateLimits = 0
		listFailures = 0
		listPause = r.cfg.BackoffBase.Std()

		if err := r.upsertRecord(ctx, listID, rec, &report); err != nil {
			report.Errored++
			report.Errors = append(report.Errors, fmt.Errorf("record %s: %w", rec.ID, err))
		}
	}

	r.logger.Info("Workspace pull finished",
		zap.String("list_id", listID),
		zap.Int("created", report.Created),
		zap.Int("updated", report.Updated),
		zap.Int("unchanged", report.Unchanged),
		zap.Int("errored", report.Errored))
	return report, nil
}

func (r *Reconciler) upsertRecord(ctx context.Context, listID string, rec remote.Record, report *BulkSyncReport) error {
	mapped := r.mapper.FromRemote(rec)
	mapped.ListID = listID

	existing, err := r.store.GetByRemoteID(ctx, rec.ID)
	if errors.Is(err, repository.ErrTaskNotFound) {
		now := r.now()
		mapped.IsSynced = true
		mapped.Version = 1
		mapped.SyncedVersion = 1
		mapped.LastSyncAt = &now
		if err := r.store.Insert(ctx, &mapped); err != nil {
			return err
		}
		report.Created++
		return nil
	}
	if err != nil {
		return err
	}

	if existing.Dirty() {
		// Unconfirmed local edits win over the pulled snapshot.
		report.Unchanged++
		return nil
	}
	if sameContent(existing, &mapped) {
		report.Unchanged++
		return nil
	}

	now := r.now()
	updated := *existing
	updated.Name = mapped.Name
	updated.Description = mapped.Description
	updated.Status = mapped.Status
	updated.StatusRaw = mapped.StatusRaw
	updated.Priority = mapped.Priority
	updated.DueAt = mapped.DueAt
	updated.DueRaw = ""
	updated.AssigneeRef = mapped.AssigneeRef
	updated.CustomFields = mapped.CustomFields
	updated.Version = existing.Version + 1
	updated.SyncedVersion = updated.Version
	updated.IsSynced = true
	updated.LastSyncAt = &now

	ok, err := r.store.UpdateIfVersion(ctx, &updated, existing.Version)
	if err != nil {
		return err
	}
	if !ok {
		// A local edit landed between read and write; it wins.
		report.Unchanged++
		return nil
	}
	report.Updated++
	return nil
}

// sameContent compares the fields a workspace pull would overwrite.
func sameContent(a, b *model.Task) bool {
	if a.Name != b.Name || a.Description != b.Description ||
		a.Status != b.Status || a.StatusRaw != b.StatusRaw ||
		a.Priority != b.Priority || a.DueAt != b.DueAt ||
		a.AssigneeRef != b.AssigneeRef {
		return false
	}
	if len(a.CustomFields) != len(b.CustomFields) {
		return false
	}
	for i := range a.CustomFields {
		if a.CustomFields[i] != b.CustomFields[i] {
			return false
		}
	}
	return true
}
