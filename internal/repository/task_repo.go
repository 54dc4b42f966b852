package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"tasksync/internal/model"
)

// ErrTaskNotFound is returned when no row matches the requested task.
var ErrTaskNotFound = errors.New("task not found")

const taskColumns = `
        local_id, remote_id, list_id, name, description, status, status_raw,
        priority, due_at, due_raw, assignee_ref, custom_fields,
        is_synced, synced_version, last_sync_at, version
`

type TaskRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewTaskRepository(db *pgxpool.Pool, logger *zap.Logger) *TaskRepository {
	return &TaskRepository{db: db, logger: logger}
}

func (r *TaskRepository) Get(ctx context.Context, localID int64) (*model.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE local_id = $1`
	return r.scanOne(r.db.QueryRow(ctx, query, localID))
}

func (r *TaskRepository) GetByRemoteID(ctx context.Context, remoteID string) (*model.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE remote_id = $1`
	return r.scanOne(r.db.QueryRow(ctx, query, remoteID))
}

// Insert stores a new task and assigns its local id.
func (r *TaskRepository) Insert(ctx context.Context, t *model.Task) error {
	fields, err := json.Marshal(t.CustomFields)
	if err != nil {
		return fmt.Errorf("encode custom fields: %w", err)
	}
	query := `
        INSERT INTO tasks (remote_id, list_id, name, description, status, status_raw,
                           priority, due_at, due_raw, assignee_ref, custom_fields,
                           is_synced, synced_version, last_sync_at, version)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
        RETURNING local_id
    `
	return r.db.QueryRow(ctx, query,
		nullable(t.RemoteID), t.ListID, t.Name, t.Description, string(t.Status), t.StatusRaw,
		t.Priority, t.DueAt, t.DueRaw, t.AssigneeRef, fields,
		t.IsSynced, t.SyncedVersion, t.LastSyncAt, t.Version,
	).Scan(&t.LocalID)
}

// UpdateIfVersion overwrites the task row only when its version still
// equals expected; returns false when a concurrent local edit won.
func (r *TaskRepository) UpdateIfVersion(ctx context.Context, t *model.Task, expected int64) (bool, error) {
	fields, err := json.Marshal(t.CustomFields)
	if err != nil {
		return false, fmt.Errorf("encode custom fields: %w", err)
	}
	query := `
        UPDATE tasks
        SET remote_id = $1, name = $2, description = $3, status = $4, status_raw = $5,
            priority = $6, due_at = $7, due_raw = $8, assignee_ref = $9, custom_fields = $10,
            is_synced = $11, synced_version = $12, last_sync_at = $13, version = $14
        WHERE local_id = $15 AND version = $16
    `
	tag, err := r.db.Exec(ctx, query,
		nullable(t.RemoteID), t.Name, t.Description, string(t.Status), t.StatusRaw,
		t.Priority, t.DueAt, t.DueRaw, t.AssigneeRef, fields,
		t.IsSynced, t.SyncedVersion, t.LastSyncAt, t.Version,
		t.LocalID, expected,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// SetSyncState records a confirmed remote round trip. The reconciler is
// the sole caller of this method.
func (r *TaskRepository) SetSyncState(ctx context.Context, localID int64, remoteID string, syncedVersion int64, at time.Time) error {
	query := `
        UPDATE tasks
        SET remote_id = $1, is_synced = TRUE, synced_version = $2, last_sync_at = $3
        WHERE local_id = $4
    `
	_, err := r.db.Exec(ctx, query, remoteID, syncedVersion, at, localID)
	return err
}

// ClearRemote drops the remote binding after drift is detected, so the
// next sync attempt recreates the task under a fresh remote id.
func (r *TaskRepository) ClearRemote(ctx context.Context, localID int64) error {
	query := `
        UPDATE tasks
        SET remote_id = NULL, is_synced = FALSE
        WHERE local_id = $1
    `
	_, err := r.db.Exec(ctx, query, localID)
	return err
}

// Delete removes the task row.
func (r *TaskRepository) Delete(ctx context.Context, localID int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM tasks WHERE local_id = $1`, localID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// ListDirty returns tasks whose latest local mutation has not been
// confirmed remotely.
func (r *TaskRepository) ListDirty(ctx context.Context) ([]*model.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE is_synced = FALSE ORDER BY local_id`
	return r.scanMany(ctx, query)
}

// ListDue returns incomplete tasks with a due instant inside [from, until).
func (r *TaskRepository) ListDue(ctx context.Context, from, until time.Time) ([]*model.Task, error) {
	query := `
        SELECT ` + taskColumns + `
        FROM tasks
        WHERE due_at > 0 AND due_at >= $1 AND due_at < $2 AND status <> $3
        ORDER BY due_at
    `
	return r.scanMany(ctx, query, from.UnixMilli(), until.UnixMilli(), string(model.StatusComplete))
}

func (r *TaskRepository) scanMany(ctx context.Context, query string, args ...any) ([]*model.Task, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := []*model.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (r *TaskRepository) scanOne(row pgx.Row) (*model.Task, error) {
	t, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	return t, err
}

func scanTask(row pgx.Row) (*model.Task, error) {
	var (
		t        model.Task
		remoteID *string
		status   string
		fields   []byte
	)
	err := row.Scan(
		&t.LocalID, &remoteID, &t.ListID, &t.Name, &t.Description, &status, &t.StatusRaw,
		&t.Priority, &t.DueAt, &t.DueRaw, &t.AssigneeRef, &fields,
		&t.IsSynced, &t.SyncedVersion, &t.LastSyncAt, &t.Version,
	)
	if err != nil {
		return nil, err
	}
	if remoteID != nil {
		t.RemoteID = *remoteID
	}
	t.Status = model.Status(status)
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &t.CustomFields); err != nil {
			return nil, fmt.Errorf("decode custom fields: %w", err)
		}
	}
	return &t, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
