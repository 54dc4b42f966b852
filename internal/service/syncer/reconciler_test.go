package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"tasksync/internal/config"
	"tasksync/internal/mapper"
	"tasksync/internal/model"
	"tasksync/internal/remote"
	"tasksync/internal/repository"
)

type fakeStore struct {
	mu     sync.Mutex
	tasks  map[int64]*model.Task
	nextID int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{tasks: make(map[int64]*model.Task), nextID: 1}
}

func (s *fakeStore) add(t model.Task) *model.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.LocalID = s.nextID
	s.nextID++
	cp := t
	s.tasks[cp.LocalID] = &cp
	return &cp
}

func (s *fakeStore) Get(_ context.Context, localID int64) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[localID]
	if !ok {
		return nil, repository.ErrTaskNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *fakeStore) GetByRemoteID(_ context.Context, remoteID string) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.RemoteID == remoteID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, repository.ErrTaskNotFound
}

func (s *fakeStore) Insert(_ context.Context, t *model.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.LocalID = s.nextID
	s.nextID++
	cp := *t
	s.tasks[cp.LocalID] = &cp
	return nil
}

func (s *fakeStore) UpdateIfVersion(_ context.Context, t *model.Task, expected int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.tasks[t.LocalID]
	if !ok || cur.Version != expected {
		return false, nil
	}
	cp := *t
	s.tasks[t.LocalID] = &cp
	return true, nil
}

func (s *fakeStore) SetSyncState(_ context.Context, localID int64, remoteID string, syncedVersion int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[localID]
	if !ok {
		return repository.ErrTaskNotFound
	}
	t.RemoteID = remoteID
	t.IsSynced = true
	t.SyncedVersion = syncedVersion
	t.LastSyncAt = &at
	return nil
}

func (s *fakeStore) ClearRemote(_ context.Context, localID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[localID]
	if !ok {
		return repository.ErrTaskNotFound
	}
	t.RemoteID = ""
	t.IsSynced = false
	return nil
}

func (s *fakeStore) Delete(_ context.Context, localID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[localID]; !ok {
		return repository.ErrTaskNotFound
	}
	delete(s.tasks, localID)
	return nil
}

func (s *fakeStore) ListDirty(_ context.Context) ([]*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Task
	for _, t := range s.tasks {
		if t.Dirty() {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

// fakeClient scripts remote behavior per method. Unscripted calls
// succeed: Create hands out sequential ids.
type fakeClient struct {
	mu         sync.Mutex
	createSeq  int
	creates    int
	updates    int
	deletes    int
	updateErrs []error
	createErrs []error
	deleteErrs []error
	records    []remote.Record
	listErrs   []error // consumed before records, one per Next call
	listAlways error   // when set, every Next call fails with it
	nextCalls  int
}

func (c *fakeClient) Create(_ context.Context, _ string, _ remote.Payload) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creates++
	if len(c.createErrs) > 0 {
		err := c.createErrs[0]
		c.createErrs = c.createErrs[1:]
		if err != nil {
			return "", err
		}
	}
	c.createSeq++
	return fmt.Sprintf("rt-%d", c.createSeq), nil
}

func (c *fakeClient) Update(_ context.Context, _ string, _ remote.Payload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates++
	if len(c.updateErrs) > 0 {
		err := c.updateErrs[0]
		c.updateErrs = c.updateErrs[1:]
		return err
	}
	return nil
}

func (c *fakeClient) Get(_ context.Context, id string) (remote.Record, error) {
	for _, r := range c.records {
		if r.ID == id {
			return r, nil
		}
	}
	return remote.Record{}, &remote.Error{Kind: remote.KindNotFound, Op: "get"}
}

func (c *fakeClient) Delete(context.Context, string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deletes++
	if len(c.deleteErrs) > 0 {
		err := c.deleteErrs[0]
		c.deleteErrs = c.deleteErrs[1:]
		return err
	}
	return nil
}

func (c *fakeClient) List(string) remote.Iterator {
	return &fakeIterator{client: c}
}

type fakeIterator struct {
	client *fakeClient
	pos    int
}

func (it *fakeIterator) Next(context.Context) (remote.Record, bool, error) {
	it.client.mu.Lock()
	defer it.client.mu.Unlock()
	it.client.nextCalls++
	if it.client.listAlways != nil {
		return remote.Record{}, false, it.client.listAlways
	}
	if len(it.client.listErrs) > 0 {
		err := it.client.listErrs[0]
		it.client.listErrs = it.client.listErrs[1:]
		return remote.Record{}, false, err
	}
	if it.pos >= len(it.client.records) {
		return remote.Record{}, false, nil
	}
	rec := it.client.records[it.pos]
	it.pos++
	return rec, true, nil
}

func testReconciler(store Store, client remote.Client) (*Reconciler, *[]time.Duration) {
	cfg := config.SyncConfig{
		MaxAttempts:        3,
		BackoffBase:        config.Duration(2 * time.Second),
		BackoffCap:         config.Duration(60 * time.Second),
		RateLimitThreshold: 3,
	}
	m := mapper.New(config.MappingConfig{}, zap.NewNop())
	r := NewReconciler(store, client, m, nil, cfg, zap.NewNop())

	pauses := &[]time.Duration{}
	r.sleep = func(_ context.Context, d time.Duration) error {
		*pauses = append(*pauses, d)
		return nil
	}
	return r, pauses
}

func dirtyTask(name string) model.Task {
	return model.Task{
		ListID:   "list-1",
		Name:     name,
		Status:   model.StatusTodo,
		Version:  1,
		IsSynced: false,
	}
}

func TestSyncTaskCreatesWhenUnbound(t *testing.T) {
	store := newFakeStore()
	client := &fakeClient{}
	r, _ := testReconciler(store, client)

	task := store.add(dirtyTask("write report"))

	outcome, err := r.SyncTask(context.Background(), task.LocalID)
	if err != nil {
		t.Fatalf("SyncTask: %v", err)
	}
	if outcome != OutcomeCreated {
		t.Fatalf("expected created, got %s", outcome)
	}

	after, _ := store.Get(context.Background(), task.LocalID)
	if after.RemoteID != "rt-1" {
		t.Fatalf("remote id not bound: %q", after.RemoteID)
	}
	if after.Dirty() {
		t.Fatal("task still dirty after successful create")
	}
}

func TestSyncTaskCleanMakesNoRemoteCalls(t *testing.T) {
	store := newFakeStore()
	client := &fakeClient{}
	r, _ := testReconciler(store, client)

	task := store.add(model.Task{
		ListID: "list-1", Name: "done already", RemoteID: "rt-9",
		Version: 2, SyncedVersion: 2, IsSynced: true,
	})

	outcome, err := r.SyncTask(context.Background(), task.LocalID)
	if err != nil {
		t.Fatalf("SyncTask: %v", err)
	}
	if outcome != OutcomeUnchanged {
		t.Fatalf("expected unchanged, got %s", outcome)
	}
	if client.creates != 0 || client.updates != 0 {
		t.Fatalf("clean task triggered remote calls: %d creates, %d updates", client.creates, client.updates)
	}
}

func TestSyncTaskRecreatesAfterRemoteVanished(t *testing.T) {
	store := newFakeStore()
	client := &fakeClient{
		updateErrs: []error{&remote.Error{Kind: remote.KindNotFound, Op: "update"}},
	}
	r, _ := testReconciler(store, client)

	task := store.add(model.Task{
		ListID: "list-1", Name: "ghost", RemoteID: "rt-old",
		Version: 3, SyncedVersion: 2, IsSynced: true,
	})

	outcome, err := r.SyncTask(context.Background(), task.LocalID)
	if err != nil {
		t.Fatalf("SyncTask: %v", err)
	}
	if outcome != OutcomeRecreatePending {
		t.Fatalf("expected recreate_pending, got %s", outcome)
	}

	mid, _ := store.Get(context.Background(), task.LocalID)
	if mid.RemoteID != "" {
		t.Fatalf("binding not cleared: %q", mid.RemoteID)
	}

	outcome, err = r.SyncTask(context.Background(), task.LocalID)
	if err != nil {
		t.Fatalf("second SyncTask: %v", err)
	}
	if outcome != OutcomeCreated {
		t.Fatalf("expected created on retry, got %s", outcome)
	}
	after, _ := store.Get(context.Background(), task.LocalID)
	if after.RemoteID == "" || after.RemoteID == "rt-old" {
		t.Fatalf("expected fresh remote id, got %q", after.RemoteID)
	}
}

func TestSyncTaskMappingErrorIsReported(t *testing.T) {
	store := newFakeStore()
	client := &fakeClient{}
	r, _ := testReconciler(store, client)

	task := dirtyTask("bad due")
	task.DueRaw = "next thursday-ish"
	added := store.add(task)

	outcome, err := r.SyncTask(context.Background(), added.LocalID)
	if outcome != OutcomeErrored {
		t.Fatalf("expected errored, got %s", outcome)
	}
	var me *mapper.MappingError
	if !errors.As(err, &me) {
		t.Fatalf("expected MappingError, got %v", err)
	}
	if client.creates != 0 {
		t.Fatal("mapping failure must not reach the remote service")
	}
}

func TestSyncTaskRetriesTransientThenSucceeds(t *testing.T) {
	store := newFakeStore()
	client := &fakeClient{
		createErrs: []error{
			&remote.Error{Kind: remote.KindTransient, Op: "create"},
			&remote.Error{Kind: remote.KindRateLimited, Op: "create", RetryAfter: 5 * time.Second},
		},
	}
	r, pauses := testReconciler(store, client)

	task := store.add(dirtyTask("flaky"))

	outcome, err := r.SyncTask(context.Background(), task.LocalID)
	if err != nil {
		t.Fatalf("SyncTask: %v", err)
	}
	if outcome != OutcomeCreated {
		t.Fatalf("expected created, got %s", outcome)
	}
	if client.creates != 3 {
		t.Fatalf("expected 3 create attempts, got %d", client.creates)
	}
	want := []time.Duration{2 * time.Second, 5 * time.Second}
	if len(*pauses) != len(want) {
		t.Fatalf("pauses = %v, want %v", *pauses, want)
	}
	for i := range want {
		if (*pauses)[i] != want[i] {
			t.Fatalf("pause %d = %v, want %v", i, (*pauses)[i], want[i])
		}
	}
}

func TestSyncTaskUnauthorizedDoesNotRetry(t *testing.T) {
	store := newFakeStore()
	client := &fakeClient{
		createErrs: []error{&remote.Error{Kind: remote.KindUnauthorized, Op: "create"}},
	}
	r, pauses := testReconciler(store, client)

	task := store.add(dirtyTask("blocked"))

	outcome, err := r.SyncTask(context.Background(), task.LocalID)
	if outcome != OutcomeErrored {
		t.Fatalf("expected errored, got %s", outcome)
	}
	if !remote.Aborting(err) {
		t.Fatalf("expected aborting error, got %v", err)
	}
	if client.creates != 1 {
		t.Fatalf("unauthorized retried: %d attempts", client.creates)
	}
	if len(*pauses) != 0 {
		t.Fatalf("unexpected pauses: %v", *pauses)
	}
}

func TestSyncWorkspaceUpserts(t *testing.T) {
	store := newFakeStore()
	due := int64(1756080000000)
	client := &fakeClient{records: []remote.Record{
		{ID: "rt-1", Name: "brand new", Status: "to do"},
		{ID: "rt-2", Name: "renamed remotely", Status: "in progress", DueDate: &due},
		{ID: "rt-3", Name: "untouched", Status: "to do"},
	}}
	r, _ := testReconciler(store, client)

	store.add(model.Task{
		ListID: "list-1", RemoteID: "rt-2", Name: "old name",
		Status: model.StatusInProgress, Version: 1, SyncedVersion: 1, IsSynced: true,
	})
	store.add(model.Task{
		ListID: "list-1", RemoteID: "rt-3", Name: "untouched",
		Status: model.StatusTodo, Version: 1, SyncedVersion: 1, IsSynced: true,
	})

	report, err := r.SyncWorkspace(context.Background(), "list-1")
	if err != nil {
		t.Fatalf("SyncWorkspace: %v", err)
	}
	if report.Created != 1 || report.Updated != 1 || report.Unchanged != 1 || report.Errored != 0 {
		t.Fatalf("report = %+v", report)
	}

	updated, err := store.GetByRemoteID(context.Background(), "rt-2")
	if err != nil {
		t.Fatalf("GetByRemoteID: %v", err)
	}
	if updated.Name != "renamed remotely" || updated.DueAt != due {
		t.Fatalf("pull did not apply: %+v", updated)
	}
	if updated.Dirty() {
		t.Fatal("pulled task must not be dirty")
	}
}

func TestSyncWorkspaceNeverRegressesLocalEdits(t *testing.T) {
	store := newFakeStore()
	client := &fakeClient{records: []remote.Record{
		{ID: "rt-1", Name: "remote snapshot", Status: "to do"},
	}}
	r, _ := testReconciler(store, client)

	store.add(model.Task{
		ListID: "list-1", RemoteID: "rt-1", Name: "local edit in flight",
		Status: model.StatusTodo, Version: 4, SyncedVersion: 3, IsSynced: false,
	})

	report, err := r.SyncWorkspace(context.Background(), "list-1")
	if err != nil {
		t.Fatalf("SyncWorkspace: %v", err)
	}
	if report.Unchanged != 1 || report.Updated != 0 {
		t.Fatalf("report = %+v", report)
	}

	after, _ := store.GetByRemoteID(context.Background(), "rt-1")
	if after.Name != "local edit in flight" {
		t.Fatalf("local edit regressed to %q", after.Name)
	}
}

func TestSyncWorkspacePausesAfterRepeatedRateLimits(t *testing.T) {
	store := newFakeStore()
	rl := func() error { return &remote.Error{Kind: remote.KindRateLimited, Op: "list"} }
	client := &fakeClient{
		listErrs: []error{rl(), rl(), rl()},
		records:  []remote.Record{{ID: "rt-1", Name: "late arrival", Status: "to do"}},
	}
	r, pauses := testReconciler(store, client)

	report, err := r.SyncWorkspace(context.Background(), "list-1")
	if err != nil {
		t.Fatalf("SyncWorkspace: %v", err)
	}
	if report.Created != 1 {
		t.Fatalf("record after pause not pulled: %+v", report)
	}
	if len(*pauses) != 1 || (*pauses)[0] != 2*time.Second {
		t.Fatalf("expected one 2s pause after threshold, got %v", *pauses)
	}
}

func TestSyncWorkspaceStopsAfterPersistentReadFailures(t *testing.T) {
	store := newFakeStore()
	client := &fakeClient{
		listAlways: &remote.Error{Kind: remote.KindTransient, Op: "list"},
	}
	r, pauses := testReconciler(store, client)

	report, err := r.SyncWorkspace(context.Background(), "list-1")
	if remote.KindOf(err) != remote.KindTransient {
		t.Fatalf("expected the transient read error, got %v", err)
	}
	if client.nextCalls != 3 {
		t.Fatalf("expected 3 bounded read attempts, got %d", client.nextCalls)
	}
	want := []time.Duration{2 * time.Second, 4 * time.Second}
	if len(*pauses) != len(want) {
		t.Fatalf("pauses = %v, want %v", *pauses, want)
	}
	for i := range want {
		if (*pauses)[i] != want[i] {
			t.Fatalf("pause %d = %v, want %v", i, (*pauses)[i], want[i])
		}
	}
	if report.Errored != 1 || len(report.Errors) != 1 {
		t.Fatalf("report must record the failure once, got %+v", report)
	}
}

func TestSyncWorkspaceRecoversFromOneTransientRead(t *testing.T) {
	store := newFakeStore()
	client := &fakeClient{
		listErrs: []error{&remote.Error{Kind: remote.KindTransient, Op: "list"}},
		records:  []remote.Record{{ID: "rt-1", Name: "after blip", Status: "to do"}},
	}
	r, _ := testReconciler(store, client)

	report, err := r.SyncWorkspace(context.Background(), "list-1")
	if err != nil {
		t.Fatalf("SyncWorkspace: %v", err)
	}
	if report.Created != 1 || report.Errored != 0 {
		t.Fatalf("report = %+v", report)
	}
}

func TestTaskLocksPrunedWhenIdle(t *testing.T) {
	store := newFakeStore()
	client := &fakeClient{}
	r, _ := testReconciler(store, client)

	for i := 0; i < 10; i++ {
		task := store.add(dirtyTask("churn"))
		if _, err := r.SyncTask(context.Background(), task.LocalID); err != nil {
			t.Fatalf("SyncTask: %v", err)
		}
	}

	r.mu.Lock()
	held := len(r.locks)
	r.mu.Unlock()
	if held != 0 {
		t.Fatalf("lock table retains %d idle entries", held)
	}
}

func TestSyncWorkspaceAbortsOnUnauthorized(t *testing.T) {
	store := newFakeStore()
	client := &fakeClient{
		listErrs: []error{&remote.Error{Kind: remote.KindUnauthorized, Op: "list"}},
		records:  []remote.Record{{ID: "rt-1", Name: "never reached", Status: "to do"}},
	}
	r, _ := testReconciler(store, client)

	_, err := r.SyncWorkspace(context.Background(), "list-1")
	if !remote.Aborting(err) {
		t.Fatalf("expected aborting error, got %v", err)
	}
	if _, gerr := store.GetByRemoteID(context.Background(), "rt-1"); gerr == nil {
		t.Fatal("no records should land after an aborting error")
	}
}

func TestDeleteTaskRemovesBothSides(t *testing.T) {
	store := newFakeStore()
	client := &fakeClient{}
	r, _ := testReconciler(store, client)

	task := store.add(model.Task{
		ListID: "list-1", Name: "doomed", RemoteID: "rt-1",
		Version: 1, SyncedVersion: 1, IsSynced: true,
	})

	if err := r.DeleteTask(context.Background(), task.LocalID); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	if client.deletes != 1 {
		t.Fatalf("expected 1 remote delete, got %d", client.deletes)
	}
	if _, err := store.Get(context.Background(), task.LocalID); !errors.Is(err, repository.ErrTaskNotFound) {
		t.Fatalf("local row survived: %v", err)
	}
}

func TestDeleteTaskToleratesRemoteAlreadyGone(t *testing.T) {
	store := newFakeStore()
	client := &fakeClient{
		deleteErrs: []error{&remote.Error{Kind: remote.KindNotFound, Op: "delete"}},
	}
	r, _ := testReconciler(store, client)

	task := store.add(model.Task{
		ListID: "list-1", Name: "half gone", RemoteID: "rt-1",
		Version: 1, SyncedVersion: 1, IsSynced: true,
	})

	if err := r.DeleteTask(context.Background(), task.LocalID); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	if _, err := store.Get(context.Background(), task.LocalID); !errors.Is(err, repository.ErrTaskNotFound) {
		t.Fatal("local row should be removed even when remote is gone")
	}
}

func TestSyncDirtyPushesEveryDirtyTask(t *testing.T) {
	store := newFakeStore()
	client := &fakeClient{}
	r, _ := testReconciler(store, client)

	store.add(dirtyTask("one"))
	store.add(dirtyTask("two"))
	store.add(model.Task{
		ListID: "list-1", Name: "clean", RemoteID: "rt-c",
		Version: 1, SyncedVersion: 1, IsSynced: true,
	})

	report, err := r.SyncDirty(context.Background())
	if err != nil {
		t.Fatalf("SyncDirty: %v", err)
	}
	if report.Synced != 2 || report.Errored != 0 {
		t.Fatalf("report = %+v", report)
	}
	if client.creates != 2 {
		t.Fatalf("expected 2 creates, got %d", client.creates)
	}
}
