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

// CreateProject creates a project in status active. Priority defaults to 5
// when zero.
func (q *Queue) CreateProject(ctx context.Context, name, description string, priority int) (int64, error) {
	if strings.TrimSpace(name) == "" {
		return 0, &protocol.ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if priority == 0 {
		priority = 5
	}
	if !protocol.ValidPriority(priority) {
		return 0, protocol.Validatef("priority", "must be %d-%d, got %d", protocol.MinPriority, protocol.MaxPriority, priority)
	}

	var id int64
	err := q.db.WriteTx(ctx, func(tx *sql.Tx) error {
		out, err := tx.Exec(
			`INSERT INTO projects (name, description, status, priority) VALUES (?, ?, ?, ?)`,
			name, description, string(protocol.ProjectActive), priority,
		)
		if err != nil {
			return fmt.Errorf("insert project: %w", err)
		}
		id, err = out.LastInsertId()
		if err != nil {
			return fmt.Errorf("project id: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// SetProjectStatus updates a project's status. Projects are operator-mutated
// only; nothing in the core flips them.
func (q *Queue) SetProjectStatus(ctx context.Context, id int64, status protocol.ProjectStatus) error {
	if !status.Valid() {
		return protocol.Validatef("status", "unknown project status %q", string(status))
	}
	return q.db.WriteTx(ctx, func(tx *sql.Tx) error {
		out, err := tx.Exec(`UPDATE projects SET status = ? WHERE id = ?`, string(status), id)
		if err != nil {
			return fmt.Errorf("update project status: %w", err)
		}
		n, err := out.RowsAffected()
		if err != nil {
			return fmt.Errorf("update project rows: %w", err)
		}
		if n == 0 {
			return &protocol.NotFoundError{Kind: "project", Ref: strconv.FormatInt(id, 10)}
		}
		return nil
	})
}

// GetProject returns one project row.
func (q *Queue) GetProject(ctx context.Context, id int64) (protocol.Project, error) {
	var p protocol.Project
	var status, createdAt string
	row := q.db.SQL().QueryRowContext(ctx,
		`SELECT id, name, description, status, priority, created_at FROM projects WHERE id = ?`, id)
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &status, &p.Priority, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return protocol.Project{}, &protocol.NotFoundError{Kind: "project", Ref: strconv.FormatInt(id, 10)}
		}
		return protocol.Project{}, fmt.Errorf("get project: %w", err)
	}
	p.Status = protocol.ProjectStatus(status)
	if t, err := store.ParseTime(createdAt); err == nil {
		p.CreatedAt = t
	}
	return p, nil
}

// ProjectStatus returns the per-project task histogram, newest project first.
// A zero projectID reports all projects; a specific id reports one and fails
// with NotFound when absent.
func (q *Queue) ProjectStatus(ctx context.Context, projectID int64) ([]protocol.ProjectReport, error) {
	query := `
		SELECT p.id, p.name, p.description, p.status, p.priority, p.created_at,
		       COUNT(t.id),
		       SUM(CASE WHEN t.status = 'pending' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN t.status = 'assigned' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN t.status = 'in_progress' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN t.status = 'completed' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN t.status = 'failed' THEN 1 ELSE 0 END)
		FROM projects p
		LEFT JOIN tasks t ON t.project_id = p.id`
	var args []any
	if projectID != 0 {
		query += " WHERE p.id = ?"
		args = append(args, projectID)
	}
	query += " GROUP BY p.id ORDER BY p.created_at DESC, p.id DESC"

	rows, err := q.db.SQL().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query project status: %w", err)
	}
	defer rows.Close()

	var reports []protocol.ProjectReport
	for rows.Next() {
		var r protocol.ProjectReport
		var status, createdAt string
		var pending, assigned, inProgress, completed, failed sql.NullInt64
		if err := rows.Scan(
			&r.Project.ID, &r.Project.Name, &r.Project.Description, &status, &r.Project.Priority, &createdAt,
			&r.Total, &pending, &assigned, &inProgress, &completed, &failed,
		); err != nil {
			return nil, fmt.Errorf("scan project status: %w", err)
		}
		r.Project.Status = protocol.ProjectStatus(status)
		if t, err := store.ParseTime(createdAt); err == nil {
			r.Project.CreatedAt = t
		}
		r.Pending = int(pending.Int64)
		r.Assigned = int(assigned.Int64)
		r.InProgress = int(inProgress.Int64)
		r.Completed = int(completed.Int64)
		r.Failed = int(failed.Int64)
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate project status: %w", err)
	}

	if projectID != 0 && len(reports) == 0 {
		return nil, &protocol.NotFoundError{Kind: "project", Ref: strconv.FormatInt(projectID, 10)}
	}
	return reports, nil
}
