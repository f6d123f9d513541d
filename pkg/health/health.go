// Package health derives fleet-wide counts from the shared store. It is
// purely read-side: no state of its own, no writes, and every report is
// taken inside a single read transaction so the worker, project and task
// counters always describe the same instant.
package health

import (
	"context"
	"database/sql"
	"fmt"

	"mmos/pkg/protocol"
	"mmos/pkg/store"
)

// Report is one consistent snapshot of the fleet.
type Report struct {
	Workers  WorkerCounts  `json:"workers"`
	Projects ProjectCounts `json:"projects"`
	Tasks    TaskCounts    `json:"tasks"`

	// CapacityAvailable is true when at least one idle worker could take
	// an assignment right now.
	CapacityAvailable bool `json:"capacity_available"`

	// BacklogStalled is true when pending tasks exist but no idle worker
	// does, the condition an operator most wants surfaced.
	BacklogStalled bool `json:"backlog_stalled"`
}

// WorkerCounts is the worker status histogram.
type WorkerCounts struct {
	Total   int `json:"total"`
	Idle    int `json:"idle"`
	Busy    int `json:"busy"`
	Offline int `json:"offline"`
}

// ProjectCounts is the project status histogram.
type ProjectCounts struct {
	Total     int `json:"total"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
}

// TaskCounts is the task status histogram.
type TaskCounts struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Assigned   int `json:"assigned"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Aggregator computes health reports over the shared store.
type Aggregator struct {
	db *store.DB
}

// New creates an Aggregator backed by the given database.
func New(db *store.DB) *Aggregator {
	return &Aggregator{db: db}
}

// Snapshot reads all three histograms in one transaction and derives the
// capacity signals.
func (a *Aggregator) Snapshot(ctx context.Context) (Report, error) {
	var r Report
	err := a.db.ReadTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRow(
			`SELECT COUNT(*),
			        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0)
			 FROM workers`,
			string(protocol.WorkerIdle), string(protocol.WorkerBusy), string(protocol.WorkerOffline),
		).Scan(&r.Workers.Total, &r.Workers.Idle, &r.Workers.Busy, &r.Workers.Offline); err != nil {
			return fmt.Errorf("count workers: %w", err)
		}

		if err := tx.QueryRow(
			`SELECT COUNT(*),
			        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0)
			 FROM projects`,
			string(protocol.ProjectActive), string(protocol.ProjectCompleted),
		).Scan(&r.Projects.Total, &r.Projects.Active, &r.Projects.Completed); err != nil {
			return fmt.Errorf("count projects: %w", err)
		}

		if err := tx.QueryRow(
			`SELECT COUNT(*),
			        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0)
			 FROM tasks`,
			string(protocol.TaskPending), string(protocol.TaskAssigned),
			string(protocol.TaskInProgress), string(protocol.TaskCompleted),
			string(protocol.TaskFailed),
		).Scan(&r.Tasks.Total, &r.Tasks.Pending, &r.Tasks.Assigned,
			&r.Tasks.InProgress, &r.Tasks.Completed, &r.Tasks.Failed); err != nil {
			return fmt.Errorf("count tasks: %w", err)
		}
		return nil
	})
	if err != nil {
		return Report{}, err
	}

	r.CapacityAvailable = r.Workers.Idle > 0
	r.BacklogStalled = r.Tasks.Pending > 0 && r.Workers.Idle == 0
	return r, nil
}
