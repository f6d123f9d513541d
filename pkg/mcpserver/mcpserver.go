// Package mcpserver exposes the coordination core over the Model Context
// Protocol. Two servers share one store: the orchestrator server carries the
// operator-side tools (projects, decomposition, assignment, fleet health)
// and the executor server carries the worker-side tools (register, poll,
// accept, progress, complete, heartbeat).
//
// Tool handlers validate their inputs before touching the store and report
// every failure as a textual IsError result rather than a protocol error,
// so a misbehaving caller sees a message instead of a dropped session. All
// logging goes to stderr; stdout belongs to the stdio transport.
package mcpserver

import (
	"time"

	"github.com/sirupsen/logrus"
	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"mmos/pkg/protocol"
)

// --- Shared tool output shapes ---

type taskOutput struct {
	ID               int64   `json:"id"`
	ProjectID        int64   `json:"project_id"`
	Type             string  `json:"type"`
	Description      string  `json:"description"`
	Dependencies     []int64 `json:"dependencies,omitempty"`
	Status           string  `json:"status"`
	Priority         int     `json:"priority"`
	AssignedWorkerID int64   `json:"assigned_worker_id,omitempty"`
	EstimatedMinutes int     `json:"estimated_minutes,omitempty"`
	Result           string  `json:"result,omitempty"`
	CreatedAt        string  `json:"created_at"`
	AssignedAt       string  `json:"assigned_at,omitempty"`
	CompletedAt      string  `json:"completed_at,omitempty"`
}

func taskToOutput(t protocol.Task) taskOutput {
	return taskOutput{
		ID:               t.ID,
		ProjectID:        t.ProjectID,
		Type:             t.Type,
		Description:      t.Description,
		Dependencies:     t.Dependencies,
		Status:           string(t.Status),
		Priority:         t.Priority,
		AssignedWorkerID: t.AssignedWorkerID,
		EstimatedMinutes: t.EstimatedMinutes,
		Result:           t.Result,
		CreatedAt:        timeString(t.CreatedAt),
		AssignedAt:       nullableTimeString(t.AssignedAt),
		CompletedAt:      nullableTimeString(t.CompletedAt),
	}
}

type workerOutput struct {
	ID              int64       `json:"id"`
	InstanceName    string      `json:"instance_name"`
	Type            string      `json:"type"`
	Status          string      `json:"status"`
	Capabilities    []string    `json:"capabilities,omitempty"`
	Capacity        int         `json:"capacity"`
	TasksCompleted  int         `json:"tasks_completed"`
	LastActive      string      `json:"last_active"`
	MinutesInactive int         `json:"minutes_inactive"`
	PoolStatus      string      `json:"pool_status"`
	LoadScore       int         `json:"load_score"`
	CurrentTask     *taskOutput `json:"current_task,omitempty"`
}

func workerToOutput(ws protocol.WorkerSnapshot) workerOutput {
	out := workerOutput{
		ID:              ws.Worker.ID,
		InstanceName:    ws.Worker.InstanceName,
		Type:            ws.Worker.Type,
		Status:          string(ws.Worker.Status),
		Capabilities:    ws.Worker.Capabilities,
		Capacity:        ws.Worker.Capacity,
		TasksCompleted:  ws.Worker.TasksCompleted,
		LastActive:      timeString(ws.Worker.LastActive),
		MinutesInactive: ws.MinutesInactive,
		PoolStatus:      string(ws.Pool.Status),
		LoadScore:       ws.Pool.LoadScore,
	}
	if ws.CurrentTask != nil {
		t := taskToOutput(*ws.CurrentTask)
		out.CurrentTask = &t
	}
	return out
}

func timeString(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func nullableTimeString(t *time.Time) string {
	if t == nil {
		return ""
	}
	return timeString(*t)
}

// --- Error reporting ---

func errorResult(msg string) *gomcp.CallToolResult {
	return &gomcp.CallToolResult{
		Content: []gomcp.Content{&gomcp.TextContent{Text: msg}},
		IsError: true,
	}
}

// toolLogger returns a per-tool log entry. Callers pass the shared logger;
// nil falls back to the logrus standard logger, which cmd configures for
// stderr.
func toolLogger(log *logrus.Logger, tool string) *logrus.Entry {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return log.WithField("tool", tool)
}
