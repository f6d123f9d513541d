package queue

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"mmos/pkg/protocol"
)

// Subtask is one strategy-produced piece of a decomposed task.
type Subtask struct {
	Type        string
	Description string
	Priority    int
}

// Strategy turns a main task description into subtasks. Decomposition
// heuristics are deliberately swappable; the coordination core only cares
// that the result is a list of tasks to enqueue.
type Strategy interface {
	Subtasks(mainDescription string) []Subtask
}

// KeywordStrategy is the default decomposition: a coarse keyword match on
// the main description selects an api, frontend, database or generic task
// breakdown.
type KeywordStrategy struct{}

// Subtasks implements Strategy.
func (KeywordStrategy) Subtasks(mainDescription string) []Subtask {
	desc := strings.ToLower(mainDescription)

	switch {
	case containsAny(desc, "api", "endpoint", "rest"):
		return []Subtask{
			{Type: "planning", Description: "API design and endpoint planning", Priority: 7},
			{Type: "coding", Description: "Core API implementation", Priority: 6},
			{Type: "testing", Description: "API endpoint testing", Priority: 5},
			{Type: "documentation", Description: "API documentation", Priority: 4},
		}
	case containsAny(desc, "web", "frontend", "ui"):
		return []Subtask{
			{Type: "planning", Description: "UI/UX design planning", Priority: 7},
			{Type: "coding", Description: "Frontend component development", Priority: 6},
			{Type: "testing", Description: "Frontend testing and debugging", Priority: 5},
		}
	case containsAny(desc, "database", "db", "sql"):
		return []Subtask{
			{Type: "planning", Description: "Database schema design", Priority: 7},
			{Type: "coding", Description: "Database migration and setup", Priority: 6},
			{Type: "testing", Description: "Database query performance testing", Priority: 4},
		}
	default:
		return []Subtask{
			{Type: "planning", Description: fmt.Sprintf("Detailed planning for %q", mainDescription), Priority: 7},
			{Type: "coding", Description: fmt.Sprintf("Implementation of %q", mainDescription), Priority: 6},
			{Type: "testing", Description: fmt.Sprintf("Testing and verification of %q", mainDescription), Priority: 5},
		}
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Decompose inserts the main planning task (priority 8) plus the subtasks
// produced by strategy, all pending, in one transaction. The returned slice
// starts with the main task id. A nil strategy enqueues only the main task.
func (q *Queue) Decompose(ctx context.Context, projectID int64, mainDescription string, strategy Strategy) ([]int64, error) {
	if strings.TrimSpace(mainDescription) == "" {
		return nil, &protocol.ValidationError{Field: "description", Reason: "must not be empty"}
	}

	var subtasks []Subtask
	if strategy != nil {
		subtasks = strategy.Subtasks(mainDescription)
	}

	var ids []int64
	err := q.db.WriteTx(ctx, func(tx *sql.Tx) error {
		var exists int
		row := tx.QueryRow(`SELECT 1 FROM projects WHERE id = ?`, projectID)
		if err := row.Scan(&exists); err != nil {
			if err == sql.ErrNoRows {
				return &protocol.NotFoundError{Kind: "project", Ref: strconv.FormatInt(projectID, 10)}
			}
			return fmt.Errorf("lookup project: %w", err)
		}

		insert := func(taskType, description string, priority int) (int64, error) {
			out, err := tx.Exec(
				`INSERT INTO tasks (project_id, task_type, description, dependencies, status, priority)
				 VALUES (?, ?, ?, '[]', ?, ?)`,
				projectID, taskType, description, string(protocol.TaskPending), priority,
			)
			if err != nil {
				return 0, fmt.Errorf("insert task: %w", err)
			}
			return out.LastInsertId()
		}

		mainID, err := insert("planning", mainDescription, 8)
		if err != nil {
			return err
		}
		ids = append(ids, mainID)

		for _, st := range subtasks {
			id, err := insert(st.Type, st.Description, st.Priority)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}
