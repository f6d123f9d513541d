// Package queue holds projects and the pending-task queue. Tasks carry a
// priority and an advisory dependency list; retrieval is priority-ordered
// with an oldest-first tie-break, and that ordering is load-bearing — the
// automatic assignment selector reuses it.
package queue

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"mmos/pkg/protocol"
	"mmos/pkg/store"
)

// Queue provides project and task storage over the shared database.
type Queue struct {
	db *store.DB
}

// New creates a Queue backed by the given database.
func New(db *store.DB) *Queue {
	return &Queue{db: db}
}

// CreateTaskParams holds parameters for appending a task.
type CreateTaskParams struct {
	ProjectID    int64
	Type         string // free-form tag (planning, coding, testing, ...)
	Description  string
	Dependencies []int64 // stored, never enforced
	Priority     int     // 1-10, defaults to 5 when zero
}

// CreateTask appends a pending task to a project. Fails with NotFound when
// the project does not exist.
func (q *Queue) CreateTask(ctx context.Context, p CreateTaskParams) (int64, error) {
	if strings.TrimSpace(p.Type) == "" {
		return 0, &protocol.ValidationError{Field: "type", Reason: "must not be empty"}
	}
	if strings.TrimSpace(p.Description) == "" {
		return 0, &protocol.ValidationError{Field: "description", Reason: "must not be empty"}
	}
	if p.Priority == 0 {
		p.Priority = 5
	}
	if !protocol.ValidPriority(p.Priority) {
		return 0, protocol.Validatef("priority", "must be %d-%d, got %d", protocol.MinPriority, protocol.MaxPriority, p.Priority)
	}

	var id int64
	err := q.db.WriteTx(ctx, func(tx *sql.Tx) error {
		var exists int
		row := tx.QueryRow(`SELECT 1 FROM projects WHERE id = ?`, p.ProjectID)
		if err := row.Scan(&exists); err != nil {
			if err == sql.ErrNoRows {
				return &protocol.NotFoundError{Kind: "project", Ref: strconv.FormatInt(p.ProjectID, 10)}
			}
			return fmt.Errorf("lookup project: %w", err)
		}

		out, err := tx.Exec(
			`INSERT INTO tasks (project_id, task_type, description, dependencies, status, priority)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			p.ProjectID, p.Type, p.Description, store.IDsToJSON(p.Dependencies),
			string(protocol.TaskPending), p.Priority,
		)
		if err != nil {
			return fmt.Errorf("insert task: %w", err)
		}
		id, err = out.LastInsertId()
		if err != nil {
			return fmt.Errorf("task id: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// ListOpts filters task listings.
type ListOpts struct {
	ProjectID  int64  // 0 = all projects
	TypeFilter string // empty = all types
	Limit      int    // 0 = driver default of 50
}

// ListPending returns pending tasks ordered by priority descending, then
// creation time ascending (oldest first). The automatic assignment selector
// depends on this exact ordering being stable.
func (q *Queue) ListPending(ctx context.Context, opts ListOpts) ([]protocol.Task, error) {
	clause := "WHERE t.status = ?"
	args := []any{string(protocol.TaskPending)}
	return q.list(ctx, clause, args, opts)
}

// ListAssignedTo returns tasks assigned to a worker and not yet accepted,
// in the same load-bearing ordering as ListPending.
func (q *Queue) ListAssignedTo(ctx context.Context, workerID int64, opts ListOpts) ([]protocol.Task, error) {
	clause := "WHERE t.status = ? AND t.assigned_worker_id = ?"
	args := []any{string(protocol.TaskAssigned), workerID}
	return q.list(ctx, clause, args, opts)
}

// GetTask returns one task row.
func (q *Queue) GetTask(ctx context.Context, id int64) (protocol.Task, error) {
	tasks, err := q.list(ctx, "WHERE t.id = ?", []any{id}, ListOpts{Limit: 1})
	if err != nil {
		return protocol.Task{}, err
	}
	if len(tasks) == 0 {
		return protocol.Task{}, &protocol.NotFoundError{Kind: "task", Ref: strconv.FormatInt(id, 10)}
	}
	return tasks[0], nil
}

// GetTaskDetail returns a task joined with its project name.
func (q *Queue) GetTaskDetail(ctx context.Context, id int64) (protocol.TaskDetail, error) {
	task, err := q.GetTask(ctx, id)
	if err != nil {
		return protocol.TaskDetail{}, err
	}
	var name string
	row := q.db.SQL().QueryRowContext(ctx, `SELECT name FROM projects WHERE id = ?`, task.ProjectID)
	if err := row.Scan(&name); err != nil && err != sql.ErrNoRows {
		return protocol.TaskDetail{}, fmt.Errorf("lookup project name: %w", err)
	}
	return protocol.TaskDetail{Task: task, ProjectName: name}, nil
}

const taskColumns = `t.id, t.project_id, t.task_type, t.description, t.dependencies,
	t.status, t.priority, t.assigned_worker_id, t.estimated_minutes, t.result,
	t.created_at, t.assigned_at, t.completed_at`

func (q *Queue) list(ctx context.Context, clause string, args []any, opts ListOpts) ([]protocol.Task, error) {
	query := "SELECT " + taskColumns + " FROM tasks t " + clause
	if opts.ProjectID != 0 {
		query += " AND t.project_id = ?"
		args = append(args, opts.ProjectID)
	}
	if opts.TypeFilter != "" {
		query += " AND t.task_type = ?"
		args = append(args, opts.TypeFilter)
	}
	query += " ORDER BY t.priority DESC, t.created_at ASC, t.id ASC"
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	query += fmt.Sprintf(" LIMIT %d", limit)

	rows, err := q.db.SQL().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []protocol.Task
	for rows.Next() {
		task, err := ScanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return tasks, nil
}

// ScanTask scans one task row in taskColumns order. Shared with the
// assignment engine, whose transactions re-read task rows under lock.
func ScanTask(rows interface{ Scan(...any) error }) (protocol.Task, error) {
	var t protocol.Task
	var deps, status, createdAt string
	var workerID, estMinutes sql.NullInt64
	var result, assignedAt, completedAt sql.NullString

	if err := rows.Scan(
		&t.ID, &t.ProjectID, &t.Type, &t.Description, &deps,
		&status, &t.Priority, &workerID, &estMinutes, &result,
		&createdAt, &assignedAt, &completedAt,
	); err != nil {
		return protocol.Task{}, fmt.Errorf("scan task: %w", err)
	}

	t.Dependencies = store.IDsFromJSON(deps)
	t.Status = protocol.TaskStatus(status)
	t.AssignedWorkerID = workerID.Int64
	t.EstimatedMinutes = int(estMinutes.Int64)
	t.Result = result.String
	if ts, err := store.ParseTime(createdAt); err == nil {
		t.CreatedAt = ts
	}
	t.AssignedAt = store.NullableTime(assignedAt)
	t.CompletedAt = store.NullableTime(completedAt)
	return t, nil
}

// TaskColumns exposes the shared select column list for packages that read
// task rows inside their own transactions.
func TaskColumns() string {
	return taskColumns
}
