package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/signoff"
	"github.com/xraph/signoff/id"
)

// Defaults applied when a task is opened without them.
const (
	DefaultStepID   = "finance_review_step"
	DefaultAssignee = "Admin"
	DefaultChannel  = "all"
)

// DefaultUISchema is the approve/reject form shown for a task opened
// without its own schema.
var DefaultUISchema = json.RawMessage(`{"type":"form","fields":[` +
	`{"name":"comment","type":"text","label":"Add a note"},` +
	`{"name":"decision","type":"radio","options":["approve","reject"]}]}`)

// OpenParams describes a new task.
type OpenParams struct {
	// ID, when set, is used as the task ID. Callers that must derive a
	// correlation key before the task becomes visible pre-generate it.
	ID                id.TaskID
	WorkflowVersionID id.VersionID
	GroupID           id.GroupID
	StepID            string
	Assignee          string
	AssigneeID        string
	UISchema          json.RawMessage
	Channel           string
	ExpiresAt         *time.Time
}

// Filter narrows FindPending.
type Filter struct {
	GroupID           id.GroupID
	WorkflowVersionID id.VersionID
	Assignee          string
	Limit             int
	Offset            int
}

// Registry is the only mutator of human tasks.
type Registry struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithClock overrides the time source used for resolution timestamps.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// NewRegistry returns a Registry over store.
func NewRegistry(store Store, logger *slog.Logger, opts ...RegistryOption) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Open creates a pending task. A version may have only one pending task;
// opening a second fails with ErrTaskPending, which matches ErrConflict.
// The store enforces this on insert, so concurrent Opens cannot both win.
// Re-opening an existing ID for the same version returns the stored task.
func (r *Registry) Open(ctx context.Context, p OpenParams) (*Task, error) {
	if p.WorkflowVersionID.IsNil() {
		return nil, signoff.NewValidationError("workflow_version_id", "required")
	}

	if !p.ID.IsNil() {
		existing, err := r.store.GetTask(ctx, p.ID)
		switch {
		case err == nil:
			if existing.WorkflowVersionID.String() != p.WorkflowVersionID.String() {
				return nil, fmt.Errorf("task: %s already raised against %s: %w",
					p.ID, existing.WorkflowVersionID, signoff.ErrAlreadyExists)
			}
			return existing, nil
		case !errors.Is(err, signoff.ErrTaskNotFound):
			return nil, err
		}
	}

	pending, err := r.store.ListTasks(ctx, ListOpts{
		Status:            StatusPending,
		WorkflowVersionID: p.WorkflowVersionID,
		Limit:             1,
	})
	if err != nil {
		return nil, err
	}
	if len(pending) > 0 {
		return nil, fmt.Errorf("task: version %s already has pending task %s: %w",
			p.WorkflowVersionID, pending[0].ID, signoff.ErrTaskPending)
	}

	t := &Task{
		Entity:            signoff.NewEntity(),
		ID:                p.ID,
		WorkflowVersionID: p.WorkflowVersionID,
		GroupID:           p.GroupID,
		StepID:            orDefault(p.StepID, DefaultStepID),
		Assignee:          orDefault(p.Assignee, DefaultAssignee),
		AssigneeID:        p.AssigneeID,
		UISchema:          p.UISchema,
		Status:            StatusPending,
		Channel:           orDefault(p.Channel, DefaultChannel),
		ExpiresAt:         p.ExpiresAt,
	}
	if t.ID.IsNil() {
		t.ID = id.NewTaskID()
	}
	if len(t.UISchema) == 0 {
		t.UISchema = DefaultUISchema
	}

	if err := r.store.CreateTask(ctx, t); err != nil {
		return nil, fmt.Errorf("task: create %s: %w", t.ID, err)
	}

	r.logger.Info("human task opened",
		slog.String("task_id", t.ID.String()),
		slog.String("version_id", t.WorkflowVersionID.String()),
		slog.String("assignee", t.Assignee),
	)
	return t, nil
}

// Resolve records a decision on a pending task. It fails with
// ErrInvalidState when the task is no longer pending; of two concurrent
// calls exactly one succeeds.
func (r *Registry) Resolve(ctx context.Context, taskID id.TaskID, d Decision, response json.RawMessage) (*Task, error) {
	if !d.Valid() {
		return nil, signoff.NewValidationError("decision", fmt.Sprintf("must be approve or reject, got %q", d))
	}
	return r.transition(ctx, taskID, d.Status(), response)
}

// Expire marks a pending task as timed out. It fails with ErrInvalidState
// when the task is no longer pending.
func (r *Registry) Expire(ctx context.Context, taskID id.TaskID) (*Task, error) {
	return r.transition(ctx, taskID, StatusTimedOut, nil)
}

func (r *Registry) transition(ctx context.Context, taskID id.TaskID, to Status, response json.RawMessage) (*Task, error) {
	t, err := r.store.TransitionTask(ctx, taskID, Transition{
		From:     StatusPending,
		To:       to,
		Response: response,
		At:       r.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("task: %s to %s: %w", taskID, to, err)
	}

	r.logger.Info("human task resolved",
		slog.String("task_id", t.ID.String()),
		slog.String("status", string(t.Status)),
	)
	return t, nil
}

// Get returns a task by ID.
func (r *Registry) Get(ctx context.Context, taskID id.TaskID) (*Task, error) {
	return r.store.GetTask(ctx, taskID)
}

// FindPending lists pending tasks, newest first.
func (r *Registry) FindPending(ctx context.Context, f Filter) ([]*Task, error) {
	return r.store.ListTasks(ctx, ListOpts{
		Status:            StatusPending,
		GroupID:           f.GroupID,
		WorkflowVersionID: f.WorkflowVersionID,
		Assignee:          f.Assignee,
		Limit:             f.Limit,
		Offset:            f.Offset,
	})
}

// ListByVersion lists every task raised against a version, oldest first.
func (r *Registry) ListByVersion(ctx context.Context, versionID id.VersionID) ([]*Task, error) {
	return r.store.ListTasks(ctx, ListOpts{WorkflowVersionID: versionID, Ascending: true})
}

// ListByGroup lists every task of a workflow group, oldest first.
func (r *Registry) ListByGroup(ctx context.Context, groupID id.GroupID) ([]*Task, error) {
	return r.store.ListTasks(ctx, ListOpts{GroupID: groupID, Ascending: true})
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
