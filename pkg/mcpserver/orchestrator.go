package mcpserver

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"mmos/pkg/assign"
	"mmos/pkg/health"
	"mmos/pkg/protocol"
	"mmos/pkg/queue"
	"mmos/pkg/registry"
	"mmos/pkg/store"
)

// Orchestrator is the operator-side MCP server: project and task creation,
// decomposition, assignment, worker discovery and fleet health.
type Orchestrator struct {
	server *gomcp.Server
	queue  *queue.Queue
	engine *assign.Engine
	reg    *registry.Registry
	agg    *health.Aggregator
	log    *logrus.Logger
}

// NewOrchestrator creates the orchestrator server on the given store.
func NewOrchestrator(db *store.DB, version string, log *logrus.Logger) *Orchestrator {
	if version == "" {
		version = "dev"
	}
	o := &Orchestrator{
		queue:  queue.New(db),
		engine: assign.New(db),
		reg:    registry.New(db),
		agg:    health.New(db),
		log:    log,
	}
	o.server = gomcp.NewServer(
		&gomcp.Implementation{Name: "mmos-orchestrator", Version: version},
		nil,
	)
	o.registerTools()
	return o
}

// Run serves over stdio until the client disconnects or ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	return o.server.Run(ctx, &gomcp.StdioTransport{})
}

// MCPServer returns the underlying server for in-memory test transports.
func (o *Orchestrator) MCPServer() *gomcp.Server {
	return o.server
}

// --- Tool input/output types ---

type createProjectInput struct {
	Name        string `json:"name" jsonschema:"required,project name"`
	Description string `json:"description,omitempty" jsonschema:"optional project description"`
	Priority    int    `json:"priority,omitempty" jsonschema:"priority 1-10, defaults to 5"`
}

type createProjectOutput struct {
	ProjectID int64  `json:"project_id"`
	Message   string `json:"message"`
}

type decomposeTaskInput struct {
	ProjectID   int64  `json:"project_id" jsonschema:"required,project to attach the tasks to"`
	Description string `json:"description" jsonschema:"required,description of the main task to break down"`
}

type decomposeTaskOutput struct {
	TaskIDs []int64 `json:"task_ids"`
	Count   int     `json:"count"`
	Message string  `json:"message"`
}

type assignTaskInput struct {
	TaskID           int64  `json:"task_id" jsonschema:"required,pending task to assign"`
	WorkerName       string `json:"worker_name,omitempty" jsonschema:"worker instance name, or auto to pick the least loaded idle worker. Defaults to auto."`
	EstimatedMinutes int    `json:"estimated_minutes,omitempty" jsonschema:"estimated duration, defaults to 30"`
}

type assignTaskOutput struct {
	TaskID           int64  `json:"task_id"`
	WorkerID         int64  `json:"worker_id"`
	WorkerName       string `json:"worker_name"`
	EstimatedMinutes int    `json:"estimated_minutes"`
	AssignedAt       string `json:"assigned_at"`
}

type discoverWorkersInput struct{}

type discoverWorkersOutput struct {
	Workers []workerOutput `json:"workers"`
	Count   int            `json:"count"`
	Idle    int            `json:"idle"`
	Busy    int            `json:"busy"`
}

type projectStatusInput struct {
	ProjectID int64 `json:"project_id,omitempty" jsonschema:"limit the report to one project; omit for all projects"`
}

type projectReportOutput struct {
	ProjectID      int64  `json:"project_id"`
	Name           string `json:"name"`
	Status         string `json:"status"`
	Priority       int    `json:"priority"`
	TotalTasks     int    `json:"total_tasks"`
	Pending        int    `json:"pending"`
	Assigned       int    `json:"assigned"`
	InProgress     int    `json:"in_progress"`
	Completed      int    `json:"completed"`
	Failed         int    `json:"failed"`
	CompletionRate int    `json:"completion_rate"`
}

type projectStatusOutput struct {
	Projects []projectReportOutput `json:"projects"`
	Count    int                   `json:"count"`
}

type systemHealthInput struct{}

// --- Tool registration ---

func (o *Orchestrator) registerTools() {
	gomcp.AddTool(o.server, &gomcp.Tool{
		Name:        "create_project",
		Description: "Create a new project to group tasks under. Returns the project id.",
	}, o.handleCreateProject)

	gomcp.AddTool(o.server, &gomcp.Tool{
		Name:        "decompose_task",
		Description: "Break a main task description into prioritized subtasks and enqueue them as pending tasks of the project.",
	}, o.handleDecomposeTask)

	gomcp.AddTool(o.server, &gomcp.Tool{
		Name:        "assign_task",
		Description: "Assign a pending task to a worker, either by instance name or automatically by load. Flips the task to assigned and the worker to busy.",
	}, o.handleAssignTask)

	gomcp.AddTool(o.server, &gomcp.Tool{
		Name:        "discover_workers",
		Description: "List all registered workers with status, load, capabilities and current task.",
	}, o.handleDiscoverWorkers)

	gomcp.AddTool(o.server, &gomcp.Tool{
		Name:        "project_status",
		Description: "Report per-project task counts by status and completion rate.",
	}, o.handleProjectStatus)

	gomcp.AddTool(o.server, &gomcp.Tool{
		Name:        "system_health",
		Description: "One consistent snapshot of worker, project and task counts with capacity signals.",
	}, o.handleSystemHealth)
}

// --- Tool handlers ---

func (o *Orchestrator) handleCreateProject(ctx context.Context, _ *gomcp.CallToolRequest, input createProjectInput) (*gomcp.CallToolResult, createProjectOutput, error) {
	if input.Name == "" {
		return errorResult("name is required"), createProjectOutput{}, nil
	}

	id, err := o.queue.CreateProject(ctx, input.Name, input.Description, input.Priority)
	if err != nil {
		return errorResult(fmt.Sprintf("creating project %q: %s", input.Name, err)), createProjectOutput{}, nil
	}

	toolLogger(o.log, "create_project").WithFields(logrus.Fields{
		"project_id": id,
		"name":       input.Name,
	}).Info("project created")

	return nil, createProjectOutput{
		ProjectID: id,
		Message:   fmt.Sprintf("project %q created with id %d", input.Name, id),
	}, nil
}

func (o *Orchestrator) handleDecomposeTask(ctx context.Context, _ *gomcp.CallToolRequest, input decomposeTaskInput) (*gomcp.CallToolResult, decomposeTaskOutput, error) {
	if input.ProjectID <= 0 {
		return errorResult("project_id is required"), decomposeTaskOutput{}, nil
	}
	if input.Description == "" {
		return errorResult("description is required"), decomposeTaskOutput{}, nil
	}

	ids, err := o.queue.Decompose(ctx, input.ProjectID, input.Description, queue.KeywordStrategy{})
	if err != nil {
		return errorResult(fmt.Sprintf("decomposing task for project %d: %s", input.ProjectID, err)), decomposeTaskOutput{}, nil
	}

	toolLogger(o.log, "decompose_task").WithFields(logrus.Fields{
		"project_id": input.ProjectID,
		"tasks":      len(ids),
	}).Info("task decomposed")

	return nil, decomposeTaskOutput{
		TaskIDs: ids,
		Count:   len(ids),
		Message: fmt.Sprintf("created %d tasks for project %d", len(ids), input.ProjectID),
	}, nil
}

func (o *Orchestrator) handleAssignTask(ctx context.Context, _ *gomcp.CallToolRequest, input assignTaskInput) (*gomcp.CallToolResult, assignTaskOutput, error) {
	if input.TaskID <= 0 {
		return errorResult("task_id is required"), assignTaskOutput{}, nil
	}
	workerName := input.WorkerName
	if workerName == "" {
		workerName = protocol.AutoWorker
	}

	res, err := o.engine.Assign(ctx, assign.AssignParams{
		TaskID:           input.TaskID,
		WorkerName:       workerName,
		EstimatedMinutes: input.EstimatedMinutes,
	})
	if err != nil {
		return errorResult(fmt.Sprintf("assigning task %d: %s", input.TaskID, err)), assignTaskOutput{}, nil
	}

	toolLogger(o.log, "assign_task").WithFields(logrus.Fields{
		"task_id": res.TaskID,
		"worker":  res.WorkerName,
	}).Info("task assigned")

	return nil, assignTaskOutput{
		TaskID:           res.TaskID,
		WorkerID:         res.WorkerID,
		WorkerName:       res.WorkerName,
		EstimatedMinutes: res.EstimatedMinutes,
		AssignedAt:       timeString(res.AssignedAt),
	}, nil
}

func (o *Orchestrator) handleDiscoverWorkers(ctx context.Context, _ *gomcp.CallToolRequest, _ discoverWorkersInput) (*gomcp.CallToolResult, discoverWorkersOutput, error) {
	snapshots, err := o.reg.Discover(ctx)
	if err != nil {
		return errorResult(fmt.Sprintf("discovering workers: %s", err)), discoverWorkersOutput{}, nil
	}

	out := discoverWorkersOutput{
		Workers: make([]workerOutput, len(snapshots)),
		Count:   len(snapshots),
	}
	for i, ws := range snapshots {
		out.Workers[i] = workerToOutput(ws)
		switch ws.Worker.Status {
		case protocol.WorkerIdle:
			out.Idle++
		case protocol.WorkerBusy:
			out.Busy++
		}
	}
	return nil, out, nil
}

func (o *Orchestrator) handleProjectStatus(ctx context.Context, _ *gomcp.CallToolRequest, input projectStatusInput) (*gomcp.CallToolResult, projectStatusOutput, error) {
	reports, err := o.queue.ProjectStatus(ctx, input.ProjectID)
	if err != nil {
		return errorResult(fmt.Sprintf("reading project status: %s", err)), projectStatusOutput{}, nil
	}

	out := projectStatusOutput{
		Projects: make([]projectReportOutput, len(reports)),
		Count:    len(reports),
	}
	for i, r := range reports {
		out.Projects[i] = projectReportOutput{
			ProjectID:      r.Project.ID,
			Name:           r.Project.Name,
			Status:         string(r.Project.Status),
			Priority:       r.Project.Priority,
			TotalTasks:     r.Total,
			Pending:        r.Pending,
			Assigned:       r.Assigned,
			InProgress:     r.InProgress,
			Completed:      r.Completed,
			Failed:         r.Failed,
			CompletionRate: r.CompletionRate(),
		}
	}
	return nil, out, nil
}

func (o *Orchestrator) handleSystemHealth(ctx context.Context, _ *gomcp.CallToolRequest, _ systemHealthInput) (*gomcp.CallToolResult, health.Report, error) {
	report, err := o.agg.Snapshot(ctx)
	if err != nil {
		return errorResult(fmt.Sprintf("reading system health: %s", err)), health.Report{}, nil
	}
	return nil, report, nil
}
