// Package registry tracks worker identity, declared capabilities, liveness
// and throughput. Workers are upserted by instance name: a restarting worker
// re-registers and reuses its logical identity instead of creating a
// duplicate row.
//
// The registry is observational about liveness. "offline" is a status a
// worker (or an external reaper) sets explicitly; silent workers are never
// timed out here. Minutes-since-last-active is exposed so callers can apply
// their own staleness policy.
package registry

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"mmos/pkg/protocol"
	"mmos/pkg/store"
)

// Registry provides worker registration and liveness over the shared store.
type Registry struct {
	db *store.DB
}

// New creates a Registry backed by the given database.
func New(db *store.DB) *Registry {
	return &Registry{db: db}
}

// RegisterParams holds parameters for registering a worker.
type RegisterParams struct {
	Name         string
	Kind         string // declared model/agent type
	Capabilities []string
	Capacity     int // max concurrent tasks, must be positive
}

// RegisterResult reports the outcome of a registration.
type RegisterResult struct {
	WorkerID int64
	Updated  bool // true when an existing row was refreshed
	Requeued int  // tasks released back to pending during reconciliation
}

// Register upserts a worker by instance name. An unseen name creates the
// worker idle with a fresh pool entry; a seen name overwrites capabilities
// and capacity, forces the worker idle and refreshes last_active, leaving
// the pool entry in place.
//
// In the same transaction, any task still owned by this worker in assigned
// or in_progress is requeued to pending with an audit entry. A crashed
// worker that re-registers therefore releases its orphaned work instead of
// leaving it stuck on a now-idle owner.
func (r *Registry) Register(ctx context.Context, p RegisterParams) (RegisterResult, error) {
	if strings.TrimSpace(p.Name) == "" {
		return RegisterResult{}, &protocol.ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if strings.TrimSpace(p.Kind) == "" {
		return RegisterResult{}, &protocol.ValidationError{Field: "kind", Reason: "must not be empty"}
	}
	if p.Capacity <= 0 {
		return RegisterResult{}, protocol.Validatef("capacity", "must be positive, got %d", p.Capacity)
	}

	var res RegisterResult
	now := store.FormatTime(r.db.Now())

	err := r.db.WriteTx(ctx, func(tx *sql.Tx) error {
		var id int64
		row := tx.QueryRow(`SELECT id FROM workers WHERE instance_name = ?`, p.Name)
		switch err := row.Scan(&id); err {
		case nil:
			res.Updated = true
			if _, err := tx.Exec(
				`UPDATE workers
				 SET worker_type = ?, status = ?, capabilities = ?, capacity = ?, last_active = ?
				 WHERE id = ?`,
				p.Kind, string(protocol.WorkerIdle), store.StringsToJSON(p.Capabilities), p.Capacity, now, id,
			); err != nil {
				return fmt.Errorf("update worker: %w", err)
			}
		case sql.ErrNoRows:
			out, err := tx.Exec(
				`INSERT INTO workers (instance_name, worker_type, status, capabilities, capacity, last_active)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				p.Name, p.Kind, string(protocol.WorkerIdle), store.StringsToJSON(p.Capabilities), p.Capacity, now,
			)
			if err != nil {
				return fmt.Errorf("insert worker: %w", err)
			}
			id, err = out.LastInsertId()
			if err != nil {
				return fmt.Errorf("worker id: %w", err)
			}
		default:
			return fmt.Errorf("lookup worker: %w", err)
		}
		res.WorkerID = id

		// Existing pool entries are left untouched.
		if _, err := tx.Exec(
			`INSERT OR IGNORE INTO worker_pool (worker_id, pool_status, load_score) VALUES (?, ?, 0)`,
			id, string(protocol.PoolAvailable),
		); err != nil {
			return fmt.Errorf("ensure pool entry: %w", err)
		}

		requeued, err := requeueOrphans(tx, id)
		if err != nil {
			return err
		}
		res.Requeued = requeued
		return nil
	})
	if err != nil {
		return RegisterResult{}, err
	}
	return res, nil
}

// requeueOrphans releases tasks still owned by a re-registering worker back
// to pending. Returns the number of tasks released.
func requeueOrphans(tx *sql.Tx, workerID int64) (int, error) {
	rows, err := tx.Query(
		`SELECT id, status FROM tasks
		 WHERE assigned_worker_id = ? AND status IN (?, ?)`,
		workerID, string(protocol.TaskAssigned), string(protocol.TaskInProgress),
	)
	if err != nil {
		return 0, fmt.Errorf("find orphaned tasks: %w", err)
	}

	type orphan struct {
		id     int64
		status protocol.TaskStatus
	}
	var orphans []orphan
	for rows.Next() {
		var o orphan
		var status string
		if err := rows.Scan(&o.id, &status); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan orphaned task: %w", err)
		}
		o.status = protocol.TaskStatus(status)
		orphans = append(orphans, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate orphaned tasks: %w", err)
	}
	if len(orphans) == 0 {
		return 0, nil
	}

	for _, o := range orphans {
		if _, err := tx.Exec(
			`UPDATE tasks SET status = ?, assigned_worker_id = NULL, assigned_at = NULL WHERE id = ?`,
			string(protocol.TaskPending), o.id,
		); err != nil {
			return 0, fmt.Errorf("requeue task %d: %w", o.id, err)
		}
		if err := store.AppendLogTx(tx, protocol.StatusLogEntry{
			TaskID:         o.id,
			PreviousStatus: o.status,
			NewStatus:      protocol.TaskPending,
			ChangedBy:      protocol.SystemActor,
			Reason:         "requeued: owning worker re-registered without completing",
		}); err != nil {
			return 0, err
		}
	}

	if _, err := tx.Exec(
		`UPDATE worker_pool SET pool_status = ?, current_task_id = NULL WHERE worker_id = ?`,
		string(protocol.PoolAvailable), workerID,
	); err != nil {
		return 0, fmt.Errorf("reset pool entry: %w", err)
	}
	return len(orphans), nil
}

// Heartbeat refreshes last_active for a registered worker. Returns false
// when the name is unknown; no row is created and no status changes.
func (r *Registry) Heartbeat(ctx context.Context, name string) (bool, error) {
	if strings.TrimSpace(name) == "" {
		return false, &protocol.ValidationError{Field: "name", Reason: "must not be empty"}
	}

	var known bool
	err := r.db.WriteTx(ctx, func(tx *sql.Tx) error {
		out, err := tx.Exec(
			`UPDATE workers SET last_active = ? WHERE instance_name = ?`,
			store.FormatTime(r.db.Now()), name,
		)
		if err != nil {
			return fmt.Errorf("heartbeat: %w", err)
		}
		n, err := out.RowsAffected()
		if err != nil {
			return fmt.Errorf("heartbeat rows: %w", err)
		}
		known = n > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return known, nil
}

// MarkOffline flips a worker to offline. This is the explicit observational
// signal described by the liveness model; nothing else sets offline.
func (r *Registry) MarkOffline(ctx context.Context, name string) error {
	return r.db.WriteTx(ctx, func(tx *sql.Tx) error {
		out, err := tx.Exec(
			`UPDATE workers SET status = ? WHERE instance_name = ?`,
			string(protocol.WorkerOffline), name,
		)
		if err != nil {
			return fmt.Errorf("mark offline: %w", err)
		}
		n, err := out.RowsAffected()
		if err != nil {
			return fmt.Errorf("mark offline rows: %w", err)
		}
		if n == 0 {
			return &protocol.NotFoundError{Kind: "worker", Ref: name}
		}
		return nil
	})
}

// GetStatus returns the snapshot for one worker: worker row, pool entry, and
// the current task if the pool references one.
func (r *Registry) GetStatus(ctx context.Context, name string) (protocol.WorkerSnapshot, error) {
	snaps, err := r.query(ctx, "WHERE w.instance_name = ?", name)
	if err != nil {
		return protocol.WorkerSnapshot{}, err
	}
	if len(snaps) == 0 {
		return protocol.WorkerSnapshot{}, &protocol.NotFoundError{Kind: "worker", Ref: name}
	}
	return snaps[0], nil
}

// Discover lists all workers for the operator's fleet view: busy first,
// then idle, offline last, most recently active first within each group.
func (r *Registry) Discover(ctx context.Context) ([]protocol.WorkerSnapshot, error) {
	return r.query(ctx, `ORDER BY
		CASE w.status WHEN 'busy' THEN 0 WHEN 'idle' THEN 1 ELSE 2 END,
		w.last_active DESC`)
}

// GetByID returns the snapshot for a worker id.
func (r *Registry) GetByID(ctx context.Context, id int64) (protocol.WorkerSnapshot, error) {
	snaps, err := r.query(ctx, "WHERE w.id = ?", id)
	if err != nil {
		return protocol.WorkerSnapshot{}, err
	}
	if len(snaps) == 0 {
		return protocol.WorkerSnapshot{}, &protocol.NotFoundError{Kind: "worker", Ref: strconv.FormatInt(id, 10)}
	}
	return snaps[0], nil
}

func (r *Registry) query(ctx context.Context, clause string, args ...any) ([]protocol.WorkerSnapshot, error) {
	query := `
		SELECT w.id, w.instance_name, w.worker_type, w.status, w.capabilities,
		       w.capacity, w.tasks_completed, w.last_active,
		       wp.pool_status, wp.current_task_id, wp.load_score, wp.last_task_completed_at,
		       t.id, t.project_id, t.task_type, t.description, t.status, t.priority
		FROM workers w
		LEFT JOIN worker_pool wp ON wp.worker_id = w.id
		LEFT JOIN tasks t ON t.id = wp.current_task_id
		` + clause

	rows, err := r.db.SQL().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query workers: %w", err)
	}
	defer rows.Close()

	now := r.db.Now()
	var snaps []protocol.WorkerSnapshot
	for rows.Next() {
		var s protocol.WorkerSnapshot
		var wStatus, caps, lastActive string
		var poolStatus, lastDone sql.NullString
		var currentTaskID, loadScore sql.NullInt64
		var tID, tProject, tPriority sql.NullInt64
		var tType, tDesc, tStatus sql.NullString

		if err := rows.Scan(
			&s.Worker.ID, &s.Worker.InstanceName, &s.Worker.Type, &wStatus, &caps,
			&s.Worker.Capacity, &s.Worker.TasksCompleted, &lastActive,
			&poolStatus, &currentTaskID, &loadScore, &lastDone,
			&tID, &tProject, &tType, &tDesc, &tStatus, &tPriority,
		); err != nil {
			return nil, fmt.Errorf("scan worker: %w", err)
		}

		s.Worker.Status = protocol.WorkerStatus(wStatus)
		s.Worker.Capabilities = store.StringsFromJSON(caps)
		if t, err := store.ParseTime(lastActive); err == nil {
			s.Worker.LastActive = t
			s.MinutesInactive = int(now.Sub(t) / time.Minute)
		}

		s.Pool = protocol.PoolEntry{WorkerID: s.Worker.ID}
		if poolStatus.Valid {
			s.Pool.Status = protocol.PoolStatus(poolStatus.String)
			s.Pool.CurrentTaskID = currentTaskID.Int64
			s.Pool.LoadScore = int(loadScore.Int64)
			s.Pool.LastTaskCompletedAt = store.NullableTime(lastDone)
		}

		if tID.Valid {
			s.CurrentTask = &protocol.Task{
				ID:          tID.Int64,
				ProjectID:   tProject.Int64,
				Type:        tType.String,
				Description: tDesc.String,
				Status:      protocol.TaskStatus(tStatus.String),
				Priority:    int(tPriority.Int64),
			}
		}

		snaps = append(snaps, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workers: %w", err)
	}
	return snaps, nil
}
