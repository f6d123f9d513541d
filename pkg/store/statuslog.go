package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"mmos/pkg/protocol"
)

// AppendLogTx appends one audit record inside the caller's transaction, so
// the status transition and its log entry commit or roll back together.
// Status log rows are never updated or deleted afterwards.
func AppendLogTx(tx *sql.Tx, e protocol.StatusLogEntry) error {
	_, err := tx.Exec(
		`INSERT INTO status_log (task_id, previous_status, new_status, changed_by, reason)
		 VALUES (?, ?, ?, ?, ?)`,
		e.TaskID, string(e.PreviousStatus), string(e.NewStatus), e.ChangedBy, e.Reason,
	)
	if err != nil {
		return fmt.Errorf("append status log: %w", err)
	}
	return nil
}

// LogQueryOpts specifies filter criteria for reading the status log.
type LogQueryOpts struct {
	// TaskID filters entries to a single task.
	TaskID int64

	// ChangedBy filters entries to a single actor (worker name or operator).
	ChangedBy string

	// Limit restricts the number of results (0 = no limit).
	Limit int
}

// QueryLog retrieves audit entries matching opts, newest first.
// Returns an empty slice if no entries match.
func (d *DB) QueryLog(ctx context.Context, opts LogQueryOpts) ([]protocol.StatusLogEntry, error) {
	query, args := buildLogQuery(opts)

	rows, err := d.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query status log: %w", err)
	}
	defer rows.Close()

	var entries []protocol.StatusLogEntry
	for rows.Next() {
		var e protocol.StatusLogEntry
		var prev, next, createdAt string

		if err := rows.Scan(&e.ID, &e.TaskID, &prev, &next, &e.ChangedBy, &e.Reason, &createdAt); err != nil {
			return nil, fmt.Errorf("scan status log: %w", err)
		}
		e.PreviousStatus = protocol.TaskStatus(prev)
		e.NewStatus = protocol.TaskStatus(next)
		if createdAt != "" {
			t, err := ParseTime(createdAt)
			if err != nil {
				return nil, fmt.Errorf("parse created_at: %w", err)
			}
			e.CreatedAt = t
		}

		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status log: %w", err)
	}

	return entries, nil
}

// buildLogQuery constructs the SQL query and arguments from LogQueryOpts.
func buildLogQuery(opts LogQueryOpts) (string, []any) {
	var conditions []string
	var args []any

	query := "SELECT id, task_id, previous_status, new_status, changed_by, reason, created_at FROM status_log WHERE 1=1"

	if opts.TaskID != 0 {
		conditions = append(conditions, "task_id = ?")
		args = append(args, opts.TaskID)
	}

	if opts.ChangedBy != "" {
		conditions = append(conditions, "changed_by = ?")
		args = append(args, opts.ChangedBy)
	}

	if len(conditions) > 0 {
		query += " AND " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY id DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}

	return query, args
}
