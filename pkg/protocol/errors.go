package protocol

import "fmt"

// NotFoundError reports that a referenced project, task or worker does not
// exist. It enables typed error discrimination via errors.As; callers surface
// it as-is and do not retry.
type NotFoundError struct {
	Kind string // "project", "task", "worker"
	Ref  string // id or instance name as given by the caller
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.Ref)
}

// InvalidStateError reports that an operation's precondition on the current
// status was not met (accepting a task that is not assigned, completing a
// task the caller does not own). The caller must re-poll before retrying.
type InvalidStateError struct {
	Kind   string // "task" or "worker"
	ID     int64
	Status string // observed status, empty when the precondition is ownership
	Op     string // the operation that was refused
}

func (e *InvalidStateError) Error() string {
	if e.Status == "" {
		return fmt.Sprintf("%s %d: %s precondition not met", e.Kind, e.ID, e.Op)
	}
	return fmt.Sprintf("%s %d is %s: cannot %s", e.Kind, e.ID, e.Status, e.Op)
}

// NoWorkerAvailableError reports that automatic assignment found no idle
// worker. The caller may retry later.
type NoWorkerAvailableError struct{}

func (e *NoWorkerAvailableError) Error() string {
	return "no available worker: all workers are busy or offline"
}

// ValidationError reports malformed input, rejected before any store access.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Validatef builds a ValidationError with a formatted reason.
func Validatef(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
