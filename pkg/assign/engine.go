// Package assign implements the assignment engine and the task lifecycle
// state machine:
//
//	pending -> assigned -> in_progress -> completed | failed
//
// Both the operator's manual assignment and the automatic load-based
// selector funnel through the same transitions, and every transition runs
// as one write transaction spanning the read that validates the record and
// the write that mutates it. The preconditions are enforced as conditional
// updates (compare-and-swap), not as prior reads: two racing callers see
// exactly one success regardless of interleaving.
package assign

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"mmos/pkg/protocol"
	"mmos/pkg/queue"
	"mmos/pkg/store"
)

// DefaultEstimatedMinutes is used when an assignment carries no estimate.
const DefaultEstimatedMinutes = 30

// resultReasonLimit caps how much of a task result is copied into the audit
// trail reason.
const resultReasonLimit = 200

// Engine drives task state transitions over the shared store.
type Engine struct {
	db *store.DB
}

// New creates an Engine backed by the given database.
func New(db *store.DB) *Engine {
	return &Engine{db: db}
}

// AssignParams holds parameters for assigning a task.
type AssignParams struct {
	TaskID           int64
	WorkerName       string // instance name, or protocol.AutoWorker
	EstimatedMinutes int    // defaults to DefaultEstimatedMinutes when zero
	ChangedBy        string // audit identity, defaults to operator
}

// Assign transitions a pending task to assigned and flips the chosen worker
// to busy, atomically.
//
// With an explicit worker name the worker is resolved by name and claimed
// regardless of its current status, matching operator intent. With
// protocol.AutoWorker the idle worker with the lowest load score is claimed
// by a conditional update (ties broken by fewest completed tasks, so fresh
// workers go first); zero rows affected means every candidate was taken by
// a concurrent assignment and the call fails with NoWorkerAvailable rather
// than granting the same worker twice.
func (e *Engine) Assign(ctx context.Context, p AssignParams) (protocol.AssignmentResult, error) {
	if p.TaskID <= 0 {
		return protocol.AssignmentResult{}, &protocol.ValidationError{Field: "task_id", Reason: "must be positive"}
	}
	if strings.TrimSpace(p.WorkerName) == "" {
		return protocol.AssignmentResult{}, &protocol.ValidationError{Field: "worker_name", Reason: "must not be empty"}
	}
	if p.EstimatedMinutes < 0 {
		return protocol.AssignmentResult{}, protocol.Validatef("estimated_minutes", "must not be negative, got %d", p.EstimatedMinutes)
	}
	if p.EstimatedMinutes == 0 {
		p.EstimatedMinutes = DefaultEstimatedMinutes
	}
	if p.ChangedBy == "" {
		p.ChangedBy = protocol.OperatorActor
	}

	var res protocol.AssignmentResult
	now := e.db.Now()

	err := e.db.WriteTx(ctx, func(tx *sql.Tx) error {
		var status string
		row := tx.QueryRow(`SELECT status FROM tasks WHERE id = ?`, p.TaskID)
		if err := row.Scan(&status); err != nil {
			if err == sql.ErrNoRows {
				return &protocol.NotFoundError{Kind: "task", Ref: strconv.FormatInt(p.TaskID, 10)}
			}
			return fmt.Errorf("lookup task: %w", err)
		}
		if protocol.TaskStatus(status) != protocol.TaskPending {
			return &protocol.InvalidStateError{Kind: "task", ID: p.TaskID, Status: status, Op: "assign"}
		}

		var workerID int64
		var workerName string
		var err error
		if p.WorkerName == protocol.AutoWorker {
			workerID, workerName, err = claimIdleWorker(tx, store.FormatTime(now))
		} else {
			workerID, workerName, err = claimNamedWorker(tx, p.WorkerName, store.FormatTime(now))
		}
		if err != nil {
			return err
		}

		out, err := tx.Exec(
			`UPDATE tasks
			 SET status = ?, assigned_worker_id = ?, assigned_at = ?, estimated_minutes = ?
			 WHERE id = ? AND status = ?`,
			string(protocol.TaskAssigned), workerID, store.FormatTime(now), p.EstimatedMinutes,
			p.TaskID, string(protocol.TaskPending),
		)
		if err != nil {
			return fmt.Errorf("assign task: %w", err)
		}
		n, err := out.RowsAffected()
		if err != nil {
			return fmt.Errorf("assign rows: %w", err)
		}
		if n == 0 {
			// The status changed between the read above and here; only
			// possible if a concurrent writer slipped in, so report it.
			return &protocol.InvalidStateError{Kind: "task", ID: p.TaskID, Op: "assign"}
		}

		if err := store.AppendLogTx(tx, protocol.StatusLogEntry{
			TaskID:         p.TaskID,
			PreviousStatus: protocol.TaskPending,
			NewStatus:      protocol.TaskAssigned,
			ChangedBy:      p.ChangedBy,
			Reason:         fmt.Sprintf("assigned to %s (est. %d min)", workerName, p.EstimatedMinutes),
		}); err != nil {
			return err
		}

		res = protocol.AssignmentResult{
			TaskID:           p.TaskID,
			WorkerID:         workerID,
			WorkerName:       workerName,
			EstimatedMinutes: p.EstimatedMinutes,
			AssignedAt:       now,
		}
		return nil
	})
	if err != nil {
		return protocol.AssignmentResult{}, err
	}
	return res, nil
}

// claimIdleWorker atomically selects and claims the most eligible idle
// worker: lowest load score, fewest completed tasks, lowest id. The claim is
// a conditional update so a lost race yields zero rows, never a double grant.
func claimIdleWorker(tx *sql.Tx, now string) (int64, string, error) {
	row := tx.QueryRow(
		`UPDATE workers SET status = ?, last_active = ?
		 WHERE id = (
		     SELECT w.id FROM workers w
		     LEFT JOIN worker_pool wp ON wp.worker_id = w.id
		     WHERE w.status = ?
		     ORDER BY COALESCE(wp.load_score, 0) ASC, w.tasks_completed ASC, w.id ASC
		     LIMIT 1
		 ) AND status = ?
		 RETURNING id, instance_name`,
		string(protocol.WorkerBusy), now,
		string(protocol.WorkerIdle), string(protocol.WorkerIdle),
	)

	var id int64
	var name string
	if err := row.Scan(&id, &name); err != nil {
		if err == sql.ErrNoRows {
			return 0, "", &protocol.NoWorkerAvailableError{}
		}
		return 0, "", fmt.Errorf("claim idle worker: %w", err)
	}
	return id, name, nil
}

// claimNamedWorker resolves an explicit worker by name and flips it busy.
func claimNamedWorker(tx *sql.Tx, name, now string) (int64, string, error) {
	row := tx.QueryRow(
		`UPDATE workers SET status = ?, last_active = ?
		 WHERE instance_name = ?
		 RETURNING id`,
		string(protocol.WorkerBusy), now, name,
	)

	var id int64
	if err := row.Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return 0, "", &protocol.NotFoundError{Kind: "worker", Ref: name}
		}
		return 0, "", fmt.Errorf("claim worker %s: %w", name, err)
	}
	return id, name, nil
}

// Accept transitions an assigned task to in_progress on behalf of the worker
// it was assigned to. The conditional update on (status, assigned_worker_id)
// is the point that prevents two workers from both believing they own the
// same task: of two concurrent accepts exactly one sees a row flip.
func (e *Engine) Accept(ctx context.Context, taskID, workerID int64) (protocol.TaskDetail, error) {
	if taskID <= 0 {
		return protocol.TaskDetail{}, &protocol.ValidationError{Field: "task_id", Reason: "must be positive"}
	}
	if workerID <= 0 {
		return protocol.TaskDetail{}, &protocol.ValidationError{Field: "worker_id", Reason: "must be positive"}
	}

	var detail protocol.TaskDetail
	now := store.FormatTime(e.db.Now())

	err := e.db.WriteTx(ctx, func(tx *sql.Tx) error {
		out, err := tx.Exec(
			`UPDATE tasks SET status = ?
			 WHERE id = ? AND assigned_worker_id = ? AND status = ?`,
			string(protocol.TaskInProgress), taskID, workerID, string(protocol.TaskAssigned),
		)
		if err != nil {
			return fmt.Errorf("accept task: %w", err)
		}
		n, err := out.RowsAffected()
		if err != nil {
			return fmt.Errorf("accept rows: %w", err)
		}
		if n == 0 {
			return diagnoseTask(tx, taskID, "accept")
		}

		name, err := touchWorker(tx, workerID, now)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(
			`UPDATE worker_pool SET pool_status = ?, current_task_id = ? WHERE worker_id = ?`,
			string(protocol.PoolBusy), taskID, workerID,
		); err != nil {
			return fmt.Errorf("update pool entry: %w", err)
		}

		if err := store.AppendLogTx(tx, protocol.StatusLogEntry{
			TaskID:         taskID,
			PreviousStatus: protocol.TaskAssigned,
			NewStatus:      protocol.TaskInProgress,
			ChangedBy:      name,
			Reason:         "accepted",
		}); err != nil {
			return err
		}

		detail, err = readTaskDetail(tx, taskID)
		return err
	})
	if err != nil {
		return protocol.TaskDetail{}, err
	}
	return detail, nil
}

// ReportProgress appends a progress note to the audit trail without changing
// the task status. Percent is a log-only signal; it is never persisted on
// the task row.
func (e *Engine) ReportProgress(ctx context.Context, taskID, workerID int64, percent int, note string) error {
	if percent < 0 || percent > 100 {
		return protocol.Validatef("percent", "must be 0-100, got %d", percent)
	}
	if taskID <= 0 {
		return &protocol.ValidationError{Field: "task_id", Reason: "must be positive"}
	}
	if workerID <= 0 {
		return &protocol.ValidationError{Field: "worker_id", Reason: "must be positive"}
	}

	now := store.FormatTime(e.db.Now())
	return e.db.WriteTx(ctx, func(tx *sql.Tx) error {
		var status string
		var owner sql.NullInt64
		row := tx.QueryRow(`SELECT status, assigned_worker_id FROM tasks WHERE id = ?`, taskID)
		if err := row.Scan(&status, &owner); err != nil {
			if err == sql.ErrNoRows {
				return &protocol.NotFoundError{Kind: "task", Ref: strconv.FormatInt(taskID, 10)}
			}
			return fmt.Errorf("lookup task: %w", err)
		}
		if protocol.TaskStatus(status) != protocol.TaskInProgress || owner.Int64 != workerID {
			return &protocol.InvalidStateError{Kind: "task", ID: taskID, Status: status, Op: "report progress on"}
		}

		name, err := touchWorker(tx, workerID, now)
		if err != nil {
			return err
		}

		return store.AppendLogTx(tx, protocol.StatusLogEntry{
			TaskID:         taskID,
			PreviousStatus: protocol.TaskInProgress,
			NewStatus:      protocol.TaskInProgress,
			ChangedBy:      name,
			Reason:         fmt.Sprintf("Progress: %d%% - %s", percent, note),
		})
	})
}

// CompleteParams holds parameters for finishing a task.
type CompleteParams struct {
	TaskID int64

	// WorkerID identifies the owning worker. Zero means an operator
	// override: the task transition and audit entry happen, but no worker
	// statistics or statuses are touched.
	WorkerID int64

	Result  string
	Success bool
}

// Complete transitions an in_progress task to completed or failed, stamps
// completed_at and stores the result. On a worker call the task must be
// owned by that worker; tasks_completed is incremented only on success, and
// the worker always returns to idle with its pool entry released.
func (e *Engine) Complete(ctx context.Context, p CompleteParams) error {
	if p.TaskID <= 0 {
		return &protocol.ValidationError{Field: "task_id", Reason: "must be positive"}
	}
	if p.WorkerID < 0 {
		return &protocol.ValidationError{Field: "worker_id", Reason: "must not be negative"}
	}
	if strings.TrimSpace(p.Result) == "" {
		return &protocol.ValidationError{Field: "result", Reason: "must not be empty"}
	}

	newStatus := protocol.TaskCompleted
	if !p.Success {
		newStatus = protocol.TaskFailed
	}
	now := store.FormatTime(e.db.Now())

	return e.db.WriteTx(ctx, func(tx *sql.Tx) error {
		var prevStatus protocol.TaskStatus
		var out sql.Result
		var err error
		if p.WorkerID != 0 {
			prevStatus = protocol.TaskInProgress
			out, err = tx.Exec(
				`UPDATE tasks SET status = ?, result = ?, completed_at = ?
				 WHERE id = ? AND assigned_worker_id = ? AND status = ?`,
				string(newStatus), p.Result, now,
				p.TaskID, p.WorkerID, string(protocol.TaskInProgress),
			)
		} else {
			// Operator override: may also close out a task that was
			// assigned but never accepted.
			row := tx.QueryRow(`SELECT status FROM tasks WHERE id = ?`, p.TaskID)
			var cur string
			if scanErr := row.Scan(&cur); scanErr != nil {
				if scanErr == sql.ErrNoRows {
					return &protocol.NotFoundError{Kind: "task", Ref: strconv.FormatInt(p.TaskID, 10)}
				}
				return fmt.Errorf("lookup task: %w", scanErr)
			}
			prevStatus = protocol.TaskStatus(cur)
			out, err = tx.Exec(
				`UPDATE tasks SET status = ?, result = ?, completed_at = ?
				 WHERE id = ? AND status IN (?, ?)`,
				string(newStatus), p.Result, now,
				p.TaskID, string(protocol.TaskAssigned), string(protocol.TaskInProgress),
			)
		}
		if err != nil {
			return fmt.Errorf("complete task: %w", err)
		}
		n, err := out.RowsAffected()
		if err != nil {
			return fmt.Errorf("complete rows: %w", err)
		}
		if n == 0 {
			return diagnoseTask(tx, p.TaskID, "complete")
		}

		changedBy := protocol.OperatorActor
		if p.WorkerID != 0 {
			name, err := releaseWorker(tx, p.WorkerID, p.Success, now)
			if err != nil {
				return err
			}
			changedBy = name
		}

		verb := "completed"
		if !p.Success {
			verb = "failed"
		}
		return store.AppendLogTx(tx, protocol.StatusLogEntry{
			TaskID:         p.TaskID,
			PreviousStatus: prevStatus,
			NewStatus:      newStatus,
			ChangedBy:      changedBy,
			Reason:         fmt.Sprintf("task %s: %s", verb, truncate(p.Result, resultReasonLimit)),
		})
	})
}

// releaseWorker returns a worker to idle after a terminal transition,
// incrementing tasks_completed only on success, and frees its pool entry.
func releaseWorker(tx *sql.Tx, workerID int64, success bool, now string) (string, error) {
	increment := 0
	if success {
		increment = 1
	}
	row := tx.QueryRow(
		`UPDATE workers
		 SET status = ?, tasks_completed = tasks_completed + ?, last_active = ?
		 WHERE id = ?
		 RETURNING instance_name`,
		string(protocol.WorkerIdle), increment, now, workerID,
	)
	var name string
	if err := row.Scan(&name); err != nil {
		if err == sql.ErrNoRows {
			return "", &protocol.NotFoundError{Kind: "worker", Ref: strconv.FormatInt(workerID, 10)}
		}
		return "", fmt.Errorf("release worker: %w", err)
	}

	if _, err := tx.Exec(
		`UPDATE worker_pool
		 SET pool_status = ?, current_task_id = NULL, last_task_completed_at = ?
		 WHERE worker_id = ?`,
		string(protocol.PoolAvailable), now, workerID,
	); err != nil {
		return "", fmt.Errorf("release pool entry: %w", err)
	}
	return name, nil
}

// touchWorker refreshes last_active and returns the worker's instance name.
func touchWorker(tx *sql.Tx, workerID int64, now string) (string, error) {
	row := tx.QueryRow(
		`UPDATE workers SET last_active = ? WHERE id = ? RETURNING instance_name`,
		now, workerID,
	)
	var name string
	if err := row.Scan(&name); err != nil {
		if err == sql.ErrNoRows {
			return "", &protocol.NotFoundError{Kind: "worker", Ref: strconv.FormatInt(workerID, 10)}
		}
		return "", fmt.Errorf("touch worker: %w", err)
	}
	return name, nil
}

// diagnoseTask turns a zero-row conditional update into the precise error:
// NotFound when the task does not exist, InvalidState otherwise.
func diagnoseTask(tx *sql.Tx, taskID int64, op string) error {
	var status string
	row := tx.QueryRow(`SELECT status FROM tasks WHERE id = ?`, taskID)
	if err := row.Scan(&status); err != nil {
		if err == sql.ErrNoRows {
			return &protocol.NotFoundError{Kind: "task", Ref: strconv.FormatInt(taskID, 10)}
		}
		return fmt.Errorf("diagnose task: %w", err)
	}
	return &protocol.InvalidStateError{Kind: "task", ID: taskID, Status: status, Op: op}
}

// readTaskDetail loads the task and its project name inside the caller's
// transaction.
func readTaskDetail(tx *sql.Tx, taskID int64) (protocol.TaskDetail, error) {
	row := tx.QueryRow("SELECT "+queue.TaskColumns()+" FROM tasks t WHERE t.id = ?", taskID)
	task, err := queue.ScanTask(row)
	if err != nil {
		return protocol.TaskDetail{}, err
	}

	var name string
	if err := tx.QueryRow(`SELECT name FROM projects WHERE id = ?`, task.ProjectID).Scan(&name); err != nil {
		return protocol.TaskDetail{}, fmt.Errorf("lookup project name: %w", err)
	}
	return protocol.TaskDetail{Task: task, ProjectName: name}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
