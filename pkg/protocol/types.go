package protocol

import "time"

// --- Status enumerations ---

// ProjectStatus is the lifecycle status of a project. Projects are
// operator-mutated only; the core never flips them.
type ProjectStatus string

// Project status constants.
const (
	ProjectActive    ProjectStatus = "active"
	ProjectPaused    ProjectStatus = "paused"
	ProjectCompleted ProjectStatus = "completed"
	ProjectCancelled ProjectStatus = "cancelled"
)

// Valid reports whether s is a known project status.
func (s ProjectStatus) Valid() bool {
	switch s {
	case ProjectActive, ProjectPaused, ProjectCompleted, ProjectCancelled:
		return true
	}
	return false
}

// TaskStatus is the lifecycle status of a task. Legal transitions:
//
//	pending -> assigned -> in_progress -> completed | failed
//
// completed and failed are terminal; a failed task is re-created as a new
// task by an operator, never resurrected.
type TaskStatus string

// Task status constants.
const (
	TaskPending    TaskStatus = "pending"
	TaskAssigned   TaskStatus = "assigned"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// Valid reports whether s is a known task status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskAssigned, TaskInProgress, TaskCompleted, TaskFailed:
		return true
	}
	return false
}

// Terminal reports whether s is a terminal status.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// WorkerStatus is the observational status of a worker. "offline" is only
// ever set explicitly; the registry never times out a silent worker.
type WorkerStatus string

// Worker status constants.
const (
	WorkerIdle    WorkerStatus = "idle"
	WorkerBusy    WorkerStatus = "busy"
	WorkerOffline WorkerStatus = "offline"
)

// Valid reports whether s is a known worker status.
func (s WorkerStatus) Valid() bool {
	switch s {
	case WorkerIdle, WorkerBusy, WorkerOffline:
		return true
	}
	return false
}

// PoolStatus is the availability of a worker in the assignment pool.
type PoolStatus string

// Pool status constants.
const (
	PoolAvailable PoolStatus = "available"
	PoolBusy      PoolStatus = "busy"
)

// --- Priority bounds ---

// Priority bounds for projects and tasks.
const (
	MinPriority = 1
	MaxPriority = 10
)

// ValidPriority reports whether p is within the accepted 1-10 range.
func ValidPriority(p int) bool {
	return p >= MinPriority && p <= MaxPriority
}

// --- Records ---

// Project is a named unit of work grouping tasks.
type Project struct {
	ID          int64
	Name        string
	Description string
	Status      ProjectStatus
	Priority    int
	CreatedAt   time.Time
}

// Task is a single dispatchable unit of work. AssignedWorkerID is zero while
// the task is pending and after it reaches a terminal status; it is non-zero
// exactly while the task is assigned or in_progress.
type Task struct {
	ID               int64
	ProjectID        int64
	Type             string
	Description      string
	Dependencies     []int64 // advisory only, never gates assignment
	Status           TaskStatus
	Priority         int
	AssignedWorkerID int64
	EstimatedMinutes int
	Result           string
	CreatedAt        time.Time
	AssignedAt       *time.Time
	CompletedAt      *time.Time
}

// Worker is a registered agent identity. Rows are upserted by InstanceName:
// a restarting worker re-registers and reuses the same logical identity.
type Worker struct {
	ID             int64
	InstanceName   string
	Type           string
	Status         WorkerStatus
	Capabilities   []string
	Capacity       int
	TasksCompleted int
	LastActive     time.Time
}

// PoolEntry is the 1:1 assignment-pool companion of a Worker. It exists so
// the auto-assignment ranking query does not overload the worker row.
type PoolEntry struct {
	WorkerID            int64
	Status              PoolStatus
	CurrentTaskID       int64
	LoadScore           int
	LastTaskCompletedAt *time.Time
}

// StatusLogEntry is one append-only audit record of a task status
// transition. Entries are never mutated or deleted.
type StatusLogEntry struct {
	ID             int64
	TaskID         int64
	PreviousStatus TaskStatus
	NewStatus      TaskStatus
	ChangedBy      string
	Reason         string
	CreatedAt      time.Time
}

// --- Composite views ---

// WorkerSnapshot is a read-only projection joining a worker, its pool entry,
// and its in-progress task if any.
type WorkerSnapshot struct {
	Worker          Worker
	Pool            PoolEntry
	CurrentTask     *Task
	MinutesInactive int
}

// AssignmentResult reports a successful task assignment.
type AssignmentResult struct {
	TaskID           int64
	WorkerID         int64
	WorkerName       string
	EstimatedMinutes int
	AssignedAt       time.Time
}

// TaskDetail is the task-plus-project view returned on acceptance and poll.
type TaskDetail struct {
	Task        Task
	ProjectName string
}

// ProjectReport is the per-project task histogram used by project_status.
type ProjectReport struct {
	Project    Project
	Total      int
	Pending    int
	Assigned   int
	InProgress int
	Completed  int
	Failed     int
}

// CompletionRate returns the percentage of completed tasks, 0 when empty.
func (r ProjectReport) CompletionRate() int {
	if r.Total == 0 {
		return 0
	}
	return r.Completed * 100 / r.Total
}
