package mcpserver

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"mmos/pkg/assign"
	"mmos/pkg/protocol"
	"mmos/pkg/queue"
	"mmos/pkg/registry"
	"mmos/pkg/store"
	"mmos/pkg/watch"
)

// maxPollWait bounds how long a blocking poll_tasks call may hold the
// session.
const maxPollWait = 300 * time.Second

// Identity is the worker identity the serving process resolved from its
// configuration and environment. The executor tools fall back to it when a
// call omits instance_name or worker_type, so a session inherits the
// identity of the process it talks to.
type Identity struct {
	InstanceName string
	WorkerType   string
}

// Executor is the worker-side MCP server: registration, polling, the task
// lifecycle calls and heartbeat.
type Executor struct {
	server *gomcp.Server
	reg    *registry.Registry
	queue  *queue.Queue
	engine *assign.Engine
	waiter *watch.Waiter // nil disables blocking poll
	ident  Identity
	log    *logrus.Logger
}

// NewExecutor creates the executor server on the given store. A non-nil
// waiter lets poll_tasks block until the store changes instead of returning
// an empty list immediately.
func NewExecutor(db *store.DB, waiter *watch.Waiter, ident Identity, version string, log *logrus.Logger) *Executor {
	if version == "" {
		version = "dev"
	}
	e := &Executor{
		reg:    registry.New(db),
		queue:  queue.New(db),
		engine: assign.New(db),
		waiter: waiter,
		ident:  ident,
		log:    log,
	}
	e.server = gomcp.NewServer(
		&gomcp.Implementation{Name: "mmos-executor", Version: version},
		nil,
	)
	e.registerTools()
	return e
}

// Run serves over stdio until the client disconnects or ctx is cancelled.
func (e *Executor) Run(ctx context.Context) error {
	return e.server.Run(ctx, &gomcp.StdioTransport{})
}

// MCPServer returns the underlying server for in-memory test transports.
func (e *Executor) MCPServer() *gomcp.Server {
	return e.server
}

// --- Tool input/output types ---

type registerWorkerInput struct {
	InstanceName string   `json:"instance_name,omitempty" jsonschema:"unique worker identity, stable across restarts; defaults to the serving process's configured identity"`
	WorkerType   string   `json:"worker_type,omitempty" jsonschema:"declared model or agent type; defaults to the serving process's configured type"`
	Capabilities []string `json:"capabilities,omitempty" jsonschema:"capability tags"`
	Capacity     int      `json:"capacity,omitempty" jsonschema:"max concurrent tasks, defaults to 1"`
}

type registerWorkerOutput struct {
	WorkerID      int64  `json:"worker_id"`
	Updated       bool   `json:"updated"`
	RequeuedTasks int    `json:"requeued_tasks"`
	Message       string `json:"message"`
}

type pollTasksInput struct {
	ProjectID   int64  `json:"project_id,omitempty" jsonschema:"limit to one project"`
	TaskType    string `json:"task_type,omitempty" jsonschema:"limit to one task type"`
	WorkerID    int64  `json:"worker_id,omitempty" jsonschema:"when set, return tasks assigned to this worker awaiting acceptance instead of the pending backlog"`
	Limit       int    `json:"limit,omitempty" jsonschema:"max tasks to return, defaults to 50"`
	WaitSeconds int    `json:"wait_seconds,omitempty" jsonschema:"when no task matches, block up to this many seconds for new work (max 300)"`
}

type pollTasksOutput struct {
	Tasks []taskOutput `json:"tasks"`
	Count int          `json:"count"`
}

type acceptTaskInput struct {
	TaskID   int64 `json:"task_id" jsonschema:"required,task previously assigned to this worker"`
	WorkerID int64 `json:"worker_id" jsonschema:"required,id returned by register_worker"`
}

type acceptTaskOutput struct {
	Task        taskOutput `json:"task"`
	ProjectName string     `json:"project_name"`
}

type reportProgressInput struct {
	TaskID   int64  `json:"task_id" jsonschema:"required"`
	WorkerID int64  `json:"worker_id" jsonschema:"required"`
	Percent  int    `json:"percent" jsonschema:"required,progress 0-100"`
	Note     string `json:"note,omitempty" jsonschema:"short progress note"`
}

type reportProgressOutput struct {
	Message string `json:"message"`
}

type completeTaskInput struct {
	TaskID   int64  `json:"task_id" jsonschema:"required"`
	WorkerID int64  `json:"worker_id,omitempty" jsonschema:"owning worker id; omit for an operator override that leaves worker statistics untouched"`
	Result   string `json:"result" jsonschema:"required,outcome text stored on the task"`
	Success  bool   `json:"success" jsonschema:"true for completed, false for failed"`
}

type completeTaskOutput struct {
	Message string `json:"message"`
}

type workerStatusInput struct {
	InstanceName string `json:"instance_name,omitempty" jsonschema:"defaults to the serving process's configured identity"`
}

type heartbeatInput struct {
	InstanceName string `json:"instance_name,omitempty" jsonschema:"defaults to the serving process's configured identity"`
}

type heartbeatOutput struct {
	Known   bool   `json:"known"`
	Message string `json:"message"`
}

// --- Tool registration ---

func (e *Executor) registerTools() {
	gomcp.AddTool(e.server, &gomcp.Tool{
		Name:        "register_worker",
		Description: "Register or refresh this worker by instance name. Re-registration releases any task the previous incarnation left unfinished.",
	}, e.handleRegisterWorker)

	gomcp.AddTool(e.server, &gomcp.Tool{
		Name:        "poll_tasks",
		Description: "List pending tasks in assignment order (priority desc, oldest first), or with worker_id the tasks assigned to that worker awaiting acceptance. Optionally block until new work appears.",
	}, e.handlePollTasks)

	gomcp.AddTool(e.server, &gomcp.Tool{
		Name:        "accept_task",
		Description: "Claim an assigned task for execution. Fails unless the task is assigned to this worker.",
	}, e.handleAcceptTask)

	gomcp.AddTool(e.server, &gomcp.Tool{
		Name:        "report_progress",
		Description: "Append a progress note to an in-progress task's audit trail. Does not change the task status.",
	}, e.handleReportProgress)

	gomcp.AddTool(e.server, &gomcp.Tool{
		Name:        "complete_task",
		Description: "Finish an in-progress task as completed or failed, store the result and release the worker.",
	}, e.handleCompleteTask)

	gomcp.AddTool(e.server, &gomcp.Tool{
		Name:        "worker_status",
		Description: "Report one worker's status, load and current task by instance name.",
	}, e.handleWorkerStatus)

	gomcp.AddTool(e.server, &gomcp.Tool{
		Name:        "heartbeat",
		Description: "Refresh this worker's last-active timestamp. Returns known=false for an unregistered name.",
	}, e.handleHeartbeat)
}

// --- Tool handlers ---

func (e *Executor) handleRegisterWorker(ctx context.Context, _ *gomcp.CallToolRequest, input registerWorkerInput) (*gomcp.CallToolResult, registerWorkerOutput, error) {
	name := input.InstanceName
	if name == "" {
		name = e.ident.InstanceName
	}
	if name == "" {
		return errorResult("instance_name is required"), registerWorkerOutput{}, nil
	}
	kind := input.WorkerType
	if kind == "" {
		kind = e.ident.WorkerType
	}
	if kind == "" {
		return errorResult("worker_type is required"), registerWorkerOutput{}, nil
	}
	capacity := input.Capacity
	if capacity == 0 {
		capacity = 1
	}

	res, err := e.reg.Register(ctx, registry.RegisterParams{
		Name:         name,
		Kind:         kind,
		Capabilities: input.Capabilities,
		Capacity:     capacity,
	})
	if err != nil {
		return errorResult(fmt.Sprintf("registering worker %q: %s", name, err)), registerWorkerOutput{}, nil
	}

	toolLogger(e.log, "register_worker").WithFields(logrus.Fields{
		"worker":   name,
		"updated":  res.Updated,
		"requeued": res.Requeued,
	}).Info("worker registered")

	verb := "registered"
	if res.Updated {
		verb = "re-registered"
	}
	msg := fmt.Sprintf("worker %q %s with id %d", name, verb, res.WorkerID)
	if res.Requeued > 0 {
		msg += fmt.Sprintf(", %d orphaned tasks requeued", res.Requeued)
	}
	return nil, registerWorkerOutput{
		WorkerID:      res.WorkerID,
		Updated:       res.Updated,
		RequeuedTasks: res.Requeued,
		Message:       msg,
	}, nil
}

func (e *Executor) handlePollTasks(ctx context.Context, _ *gomcp.CallToolRequest, input pollTasksInput) (*gomcp.CallToolResult, pollTasksOutput, error) {
	if input.WaitSeconds < 0 {
		return errorResult("wait_seconds must not be negative"), pollTasksOutput{}, nil
	}
	wait := time.Duration(input.WaitSeconds) * time.Second
	if wait > maxPollWait {
		wait = maxPollWait
	}

	opts := queue.ListOpts{
		ProjectID:  input.ProjectID,
		TypeFilter: input.TaskType,
		Limit:      input.Limit,
	}

	list := func() ([]protocol.Task, error) {
		if input.WorkerID > 0 {
			return e.queue.ListAssignedTo(ctx, input.WorkerID, opts)
		}
		return e.queue.ListPending(ctx, opts)
	}

	deadline := time.Now().Add(wait)
	for {
		tasks, err := list()
		if err != nil {
			return errorResult(fmt.Sprintf("polling tasks: %s", err)), pollTasksOutput{}, nil
		}
		if len(tasks) > 0 || e.waiter == nil || wait == 0 || time.Now().After(deadline) {
			out := pollTasksOutput{Tasks: make([]taskOutput, len(tasks)), Count: len(tasks)}
			for i, t := range tasks {
				out.Tasks[i] = taskToOutput(t)
			}
			return nil, out, nil
		}

		waitCtx, cancel := context.WithDeadline(ctx, deadline)
		err = e.waiter.Wait(waitCtx)
		cancel()
		if err != nil && ctx.Err() != nil {
			return errorResult("polling cancelled"), pollTasksOutput{}, nil
		}
	}
}

func (e *Executor) handleAcceptTask(ctx context.Context, _ *gomcp.CallToolRequest, input acceptTaskInput) (*gomcp.CallToolResult, acceptTaskOutput, error) {
	if input.TaskID <= 0 {
		return errorResult("task_id is required"), acceptTaskOutput{}, nil
	}
	if input.WorkerID <= 0 {
		return errorResult("worker_id is required"), acceptTaskOutput{}, nil
	}

	detail, err := e.engine.Accept(ctx, input.TaskID, input.WorkerID)
	if err != nil {
		return errorResult(fmt.Sprintf("accepting task %d: %s", input.TaskID, err)), acceptTaskOutput{}, nil
	}

	toolLogger(e.log, "accept_task").WithFields(logrus.Fields{
		"task_id":   input.TaskID,
		"worker_id": input.WorkerID,
	}).Info("task accepted")

	return nil, acceptTaskOutput{
		Task:        taskToOutput(detail.Task),
		ProjectName: detail.ProjectName,
	}, nil
}

func (e *Executor) handleReportProgress(ctx context.Context, _ *gomcp.CallToolRequest, input reportProgressInput) (*gomcp.CallToolResult, reportProgressOutput, error) {
	if input.TaskID <= 0 {
		return errorResult("task_id is required"), reportProgressOutput{}, nil
	}
	if input.WorkerID <= 0 {
		return errorResult("worker_id is required"), reportProgressOutput{}, nil
	}

	if err := e.engine.ReportProgress(ctx, input.TaskID, input.WorkerID, input.Percent, input.Note); err != nil {
		return errorResult(fmt.Sprintf("reporting progress on task %d: %s", input.TaskID, err)), reportProgressOutput{}, nil
	}
	return nil, reportProgressOutput{
		Message: fmt.Sprintf("progress recorded for task %d: %d%%", input.TaskID, input.Percent),
	}, nil
}

func (e *Executor) handleCompleteTask(ctx context.Context, _ *gomcp.CallToolRequest, input completeTaskInput) (*gomcp.CallToolResult, completeTaskOutput, error) {
	if input.TaskID <= 0 {
		return errorResult("task_id is required"), completeTaskOutput{}, nil
	}
	if input.Result == "" {
		return errorResult("result is required"), completeTaskOutput{}, nil
	}

	err := e.engine.Complete(ctx, assign.CompleteParams{
		TaskID:   input.TaskID,
		WorkerID: input.WorkerID,
		Result:   input.Result,
		Success:  input.Success,
	})
	if err != nil {
		return errorResult(fmt.Sprintf("completing task %d: %s", input.TaskID, err)), completeTaskOutput{}, nil
	}

	outcome := "completed"
	if !input.Success {
		outcome = "failed"
	}
	toolLogger(e.log, "complete_task").WithFields(logrus.Fields{
		"task_id": input.TaskID,
		"outcome": outcome,
	}).Info("task finished")

	return nil, completeTaskOutput{
		Message: fmt.Sprintf("task %d %s", input.TaskID, outcome),
	}, nil
}

func (e *Executor) handleWorkerStatus(ctx context.Context, _ *gomcp.CallToolRequest, input workerStatusInput) (*gomcp.CallToolResult, workerOutput, error) {
	name := input.InstanceName
	if name == "" {
		name = e.ident.InstanceName
	}
	if name == "" {
		return errorResult("instance_name is required"), workerOutput{}, nil
	}

	snapshot, err := e.reg.GetStatus(ctx, name)
	if err != nil {
		return errorResult(fmt.Sprintf("reading worker %q: %s", name, err)), workerOutput{}, nil
	}
	return nil, workerToOutput(snapshot), nil
}

func (e *Executor) handleHeartbeat(ctx context.Context, _ *gomcp.CallToolRequest, input heartbeatInput) (*gomcp.CallToolResult, heartbeatOutput, error) {
	name := input.InstanceName
	if name == "" {
		name = e.ident.InstanceName
	}
	if name == "" {
		return errorResult("instance_name is required"), heartbeatOutput{}, nil
	}

	known, err := e.reg.Heartbeat(ctx, name)
	if err != nil {
		return errorResult(fmt.Sprintf("heartbeat for %q: %s", name, err)), heartbeatOutput{}, nil
	}

	msg := "heartbeat recorded"
	if !known {
		msg = fmt.Sprintf("worker %q is not registered; call register_worker first", name)
	}
	return nil, heartbeatOutput{Known: known, Message: msg}, nil
}
