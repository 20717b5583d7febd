package task

import (
	"context"
	"encoding/json"
	"time"

	"github.com/xraph/signoff/id"
)

// ListOpts filters and paginates task queries.
type ListOpts struct {
	// Status filters by status. Empty means all statuses.
	Status Status
	// WorkflowVersionID restricts results to tasks raised against one version.
	WorkflowVersionID id.VersionID
	// GroupID restricts results to one workflow group.
	GroupID id.GroupID
	// Assignee filters by assignee. Empty means any.
	Assignee string
	// Ascending returns oldest first instead of newest first.
	Ascending bool
	// Limit is the maximum number of tasks to return. Zero means no limit.
	Limit int
	// Offset is the number of tasks to skip.
	Offset int
}

// Transition is a compare-and-set of a task's status.
type Transition struct {
	From     Status
	To       Status
	Response json.RawMessage
	At       time.Time
}

// Store defines the persistence contract for human tasks.
type Store interface {
	// CreateTask persists a new task. Returns ErrAlreadyExists if the ID
	// is taken and ErrTaskPending if t is pending while its version
	// already has a pending task. The pending check and the insert are
	// one atomic step.
	CreateTask(ctx context.Context, t *Task) error

	// GetTask retrieves a task by ID.
	GetTask(ctx context.Context, taskID id.TaskID) (*Task, error)

	// TransitionTask moves a task from tr.From to tr.To, storing the
	// response and resolution time, only if its current status is tr.From.
	// Returns ErrInvalidState when the status differs and ErrTaskNotFound
	// when the task does not exist.
	TransitionTask(ctx context.Context, taskID id.TaskID, tr Transition) (*Task, error)

	// ListTasks returns tasks matching opts, newest first unless
	// opts.Ascending is set.
	ListTasks(ctx context.Context, opts ListOpts) ([]*Task, error)
}
