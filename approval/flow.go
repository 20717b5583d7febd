package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/signoff"
	"github.com/xraph/signoff/audit"
	"github.com/xraph/signoff/compensation"
	"github.com/xraph/signoff/id"
	"github.com/xraph/signoff/task"
	"github.com/xraph/signoff/version"
	"github.com/xraph/signoff/wait"
	"github.com/xraph/signoff/workflow"
)

// Step names. They double as the version CurrentStep and the audit StepID.
const (
	StepRegisterWait     = "register_wait"
	StepStart            = "start"
	StepAwaitingApproval = "awaiting_approval"
	StepExecution        = "purchase_execution"
	StepRejected         = "purchase_rejected"
	StepTimeout          = "purchase_timeout"
)

// ApprovedByUnknown is recorded when a decision names no approver.
const ApprovedByUnknown = "unknown"

// lapsedWait is the timeout given to a wait whose expiresAt has already
// passed. Register treats zero as "use the default".
const lapsedWait = time.Millisecond

// Waits is the part of the wait manager the flow uses.
type Waits interface {
	Register(ctx context.Context, key string, timeout time.Duration, runID id.RunID) (*wait.Record, error)
	Get(ctx context.Context, key string) (*wait.Record, error)
	Deliver(ctx context.Context, key string, payload json.RawMessage) (bool, error)
}

// Observer is told about the flow's domain effects. A step replayed after
// a crash may report the same effect twice.
type Observer interface {
	EmitVersionCreated(ctx context.Context, v *version.Version)
	EmitTaskOpened(ctx context.Context, t *task.Task)
	EmitTaskResolved(ctx context.Context, t *task.Task)
	EmitDecisionDelivered(ctx context.Context, t *task.Task, d Decision)
}

type nopObserver struct{}

func (nopObserver) EmitVersionCreated(context.Context, *version.Version)        {}
func (nopObserver) EmitTaskOpened(context.Context, *task.Task)                  {}
func (nopObserver) EmitTaskResolved(context.Context, *task.Task)                {}
func (nopObserver) EmitDecisionDelivered(context.Context, *task.Task, Decision) {}

// Option configures a Flow.
type Option func(*Flow)

// WithValidator replaces the default PurchaseValidator.
func WithValidator(v Validator) Option {
	return func(f *Flow) { f.validator = v }
}

// WithObserver sets the observer notified of domain effects.
func WithObserver(o Observer) Option {
	return func(f *Flow) { f.observer = o }
}

// WithTimeout sets how long a run waits for a decision.
func WithTimeout(d time.Duration) Option {
	return func(f *Flow) { f.timeout = d }
}

// WithWorkflowName sets the version name used when a trigger has none.
func WithWorkflowName(name string) Option {
	return func(f *Flow) { f.name = name }
}

// WithLogger sets the flow's logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Flow) { f.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(f *Flow) { f.now = now }
}

// Flow is the purchase approval workflow.
type Flow struct {
	chain     *version.Chain
	tasks     *task.Registry
	audit     *audit.Log
	comps     compensation.Store
	waits     Waits
	validator Validator
	observer  Observer
	logger    *slog.Logger
	timeout   time.Duration
	name      string
	now       func() time.Time
}

// NewFlow returns a Flow over its collaborators.
func NewFlow(
	chain *version.Chain,
	tasks *task.Registry,
	log *audit.Log,
	comps compensation.Store,
	waits Waits,
	opts ...Option,
) *Flow {
	f := &Flow{
		chain:     chain,
		tasks:     tasks,
		audit:     log,
		comps:     comps,
		waits:     waits,
		validator: PurchaseValidator{},
		observer:  nopObserver{},
		logger:    slog.Default(),
		timeout:   wait.DefaultTimeout,
		name:      signoff.DefaultWorkflowName,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Definition returns the workflow definition to register with a runner.
func (f *Flow) Definition() *workflow.Definition[Input] {
	def := workflow.NewWorkflow(RequestType, f.run)
	def.OnFailure = f.onFailure
	return def
}

// Prepare validates req and fixes the identities of the run it starts.
// Nothing is written; a failed validation has no side effects.
func (f *Flow) Prepare(ctx context.Context, req TriggerRequest) (Input, error) {
	p, err := f.validator.Validate(ctx, req)
	if err != nil {
		return Input{}, err
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(f.now()) {
		return Input{}, signoff.NewValidationError("expiresAt", "must be in the future")
	}
	if req.Type == "" {
		req.Type = RequestType
	}
	name := req.WorkflowName
	if name == "" {
		name = f.name
	}
	return Input{
		Request:  req,
		Purchase: p,
		Name:     name,
		GroupID:  version.NewGroupID(),
		TaskID:   id.NewTaskID(),
	}, nil
}

// Decide delivers a decision for a pending task. It fails with
// ErrInvalidState when the task is resolved or its wait already ended;
// of concurrent decisions exactly one is accepted.
func (f *Flow) Decide(ctx context.Context, req DecisionRequest) (Decision, error) {
	if req.HumanTaskID.IsNil() {
		return Decision{}, signoff.NewValidationError("humanTaskId", "required")
	}
	if !req.Decision.Valid() {
		return Decision{}, signoff.NewValidationError("decision", fmt.Sprintf("must be approve or reject, got %q", req.Decision))
	}

	t, err := f.tasks.Get(ctx, req.HumanTaskID)
	if err != nil {
		return Decision{}, err
	}
	if !t.Pending() {
		return Decision{}, fmt.Errorf("approval: task %s is already %s: %w", t.ID, t.Status, signoff.ErrInvalidState)
	}

	d := Decision{
		Status:     req.Decision,
		Comment:    req.Comment,
		ApprovedBy: req.ApprovedBy,
		Timestamp:  f.now(),
	}
	if d.ApprovedBy == "" {
		d.ApprovedBy = ApprovedByUnknown
	}
	payload, err := json.Marshal(d)
	if err != nil {
		return Decision{}, fmt.Errorf("approval: encode decision: %w", err)
	}

	ok, err := f.waits.Deliver(ctx, CorrelationKey(t.ID), payload)
	if err != nil {
		return Decision{}, err
	}
	if !ok {
		return Decision{}, fmt.Errorf("approval: task %s no longer accepts decisions: %w", t.ID, signoff.ErrInvalidState)
	}

	f.logger.Info("decision delivered",
		slog.String("task_id", t.ID.String()),
		slog.String("decision", string(d.Status)),
		slog.String("approved_by", d.ApprovedBy),
	)
	f.observer.EmitDecisionDelivered(ctx, t, d)
	return d, nil
}

func (f *Flow) run(wf *workflow.Workflow, in Input) error {
	key := CorrelationKey(in.TaskID)

	deadline, err := workflow.StepWithResult(wf, StepRegisterWait, func(ctx context.Context) (time.Time, error) {
		return f.registerWait(ctx, wf.RunID(), key, in.Request.ExpiresAt)
	})
	if err != nil {
		return err
	}

	v1, err := workflow.StepWithResult(wf, StepStart, func(ctx context.Context) (id.VersionID, error) {
		return f.start(ctx, in, deadline)
	})
	if err != nil {
		return err
	}

	v2, err := workflow.StepWithResult(wf, StepAwaitingApproval, func(ctx context.Context) (id.VersionID, error) {
		v, err := f.advance(ctx, in, v1, version.StatusWaitingApproval, StepAwaitingApproval, nil, in.Request.CreatedByID)
		if err != nil {
			return id.Nil, err
		}
		return v.ID, nil
	})
	if err != nil {
		return err
	}

	res, err := wf.Await("approval", key)
	if err != nil {
		return err
	}

	if res.TimedOut() {
		return wf.Step(StepTimeout, func(ctx context.Context) error {
			return f.conclude(ctx, in, v2, conclusion{
				step:       StepTimeout,
				status:     version.StatusRejected,
				taskStatus: task.StatusTimedOut,
				entryType:  audit.TypePurchaseTimeout,
				actor:      audit.ActorTimeout,
				result: outcome{
					PurchaseID: in.Purchase.ID,
					Status:     "cancelled",
					Reason:     "timeout",
					At:         f.now(),
				},
				compensate: true,
			})
		})
	}

	var d Decision
	if err := json.Unmarshal(res.Payload, &d); err != nil {
		return fmt.Errorf("approval: decode decision for task %s: %w", in.TaskID, err)
	}

	if d.Status == task.DecisionApprove {
		return wf.Step(StepExecution, func(ctx context.Context) error {
			return f.conclude(ctx, in, v2, conclusion{
				step:       StepExecution,
				status:     version.StatusApproved,
				taskStatus: task.StatusApproved,
				entryType:  audit.TypePurchaseApproved,
				actor:      d.ApprovedBy,
				decision:   &d,
				result: outcome{
					PurchaseID: in.Purchase.ID,
					Status:     "executed",
					ApprovedBy: d.ApprovedBy,
					Comment:    d.Comment,
					At:         d.Timestamp,
				},
			})
		})
	}

	return wf.Step(StepRejected, func(ctx context.Context) error {
		return f.conclude(ctx, in, v2, conclusion{
			step:       StepRejected,
			status:     version.StatusRejected,
			taskStatus: task.StatusRejected,
			entryType:  audit.TypePurchaseRejected,
			actor:      d.ApprovedBy,
			decision:   &d,
			result: outcome{
				PurchaseID: in.Purchase.ID,
				Status:     "cancelled",
				Reason:     "rejected",
				ApprovedBy: d.ApprovedBy,
				Comment:    d.Comment,
				At:         d.Timestamp,
			},
			compensate: true,
		})
	})
}

// registerWait persists the wait before the task exists, so no decision
// can be delivered to a key nobody registered. A replay finds the record
// it registered earlier and keeps that deadline. An expiresAt that has
// passed since the trigger was accepted yields an immediate timeout.
func (f *Flow) registerWait(ctx context.Context, runID id.RunID, key string, expiresAt *time.Time) (time.Time, error) {
	existing, err := f.waits.Get(ctx, key)
	switch {
	case err == nil:
		if existing.RunID.String() != runID.String() {
			return time.Time{}, fmt.Errorf("approval: wait %q belongs to run %s: %w", key, existing.RunID, signoff.ErrWaitConflict)
		}
		return existing.Deadline, nil
	case !errors.Is(err, signoff.ErrWaitNotFound):
		return time.Time{}, err
	}

	timeout := f.timeout
	if expiresAt != nil {
		switch until := expiresAt.Sub(f.now()); {
		case until <= 0:
			timeout = lapsedWait
		case until < timeout:
			timeout = until
		}
	}

	rec, err := f.waits.Register(ctx, key, timeout, runID)
	if err != nil {
		return time.Time{}, err
	}
	return rec.Deadline, nil
}

func (f *Flow) start(ctx context.Context, in Input, deadline time.Time) (id.VersionID, error) {
	v1, err := f.firstVersion(ctx, in)
	if err != nil {
		return id.Nil, err
	}

	t, err := f.tasks.Open(ctx, task.OpenParams{
		ID:                in.TaskID,
		WorkflowVersionID: v1.ID,
		GroupID:           in.GroupID,
		StepID:            in.Request.StepID,
		Assignee:          in.Request.Assignee,
		AssigneeID:        in.Request.AssigneeID,
		UISchema:          in.Request.UISchema,
		Channel:           in.Request.Channel,
		ExpiresAt:         &deadline,
	})
	if err != nil {
		return id.Nil, err
	}
	f.observer.EmitTaskOpened(ctx, t)

	_, err = f.audit.AppendOnce(ctx, audit.Record{
		WorkflowVersionID: v1.ID,
		GroupID:           in.GroupID,
		StepID:            StepStart,
		Type:              audit.TypeWorkflowStarted,
		Data:              snapshot{Purchase: in.Purchase, TaskID: in.TaskID},
		Actor:             in.Request.CreatedByID,
	})
	if err != nil {
		return id.Nil, err
	}
	return v1.ID, nil
}

// firstVersion returns version 1 of the run's group, creating it once.
func (f *Flow) firstVersion(ctx context.Context, in Input) (*version.Version, error) {
	history, err := f.chain.History(ctx, in.GroupID)
	if err == nil {
		return history[len(history)-1], nil
	}
	if !errors.Is(err, signoff.ErrGroupNotFound) {
		return nil, err
	}

	data, err := json.Marshal(snapshot{Purchase: in.Purchase, TaskID: in.TaskID})
	if err != nil {
		return nil, fmt.Errorf("approval: encode context: %w", err)
	}
	v, err := f.chain.Create(ctx, version.CreateParams{
		GroupID:     in.GroupID,
		Name:        in.Name,
		Status:      version.StatusRunning,
		CurrentStep: StepStart,
		Context:     data,
		CreatedBy:   in.Request.CreatedByID,
	})
	if errors.Is(err, signoff.ErrAlreadyExists) {
		history, err = f.chain.History(ctx, in.GroupID)
		if err != nil {
			return nil, err
		}
		return history[len(history)-1], nil
	}
	if err != nil {
		return nil, err
	}
	f.observer.EmitVersionCreated(ctx, v)
	return v, nil
}

// advance moves the group from prevID to a version in status. The
// successor of prevID is the idempotency key: if one exists it is
// returned instead of creating another.
func (f *Flow) advance(
	ctx context.Context,
	in Input,
	prevID id.VersionID,
	status version.Status,
	step string,
	result *outcome,
	createdBy string,
) (*version.Version, error) {
	next, err := f.chain.Successor(ctx, prevID)
	if err != nil {
		return nil, err
	}
	if next != nil {
		return f.expectStatus(next, status)
	}

	data, err := json.Marshal(snapshot{Purchase: in.Purchase, TaskID: in.TaskID, Outcome: result})
	if err != nil {
		return nil, fmt.Errorf("approval: encode context: %w", err)
	}
	v, err := f.chain.Create(ctx, version.CreateParams{
		GroupID:           in.GroupID,
		Name:              in.Name,
		Status:            status,
		CurrentStep:       step,
		Context:           data,
		CreatedBy:         createdBy,
		PreviousVersionID: prevID,
	})
	if errors.Is(err, signoff.ErrStaleVersion) {
		next, serr := f.chain.Successor(ctx, prevID)
		if serr != nil {
			return nil, serr
		}
		if next != nil {
			return f.expectStatus(next, status)
		}
	}
	if err != nil {
		return nil, err
	}
	f.observer.EmitVersionCreated(ctx, v)
	return v, nil
}

func (f *Flow) expectStatus(v *version.Version, status version.Status) (*version.Version, error) {
	if v.Status != status {
		return nil, fmt.Errorf("approval: version %s is %s, want %s: %w", v.ID, v.Status, status, signoff.ErrStaleVersion)
	}
	f.logger.Debug("reusing existing version",
		slog.String("version_id", v.ID.String()),
		slog.String("status", string(v.Status)),
	)
	return v, nil
}

// conclusion describes a terminal step.
type conclusion struct {
	step       string
	status     version.Status
	taskStatus task.Status
	entryType  string
	actor      string
	decision   *Decision
	result     outcome
	compensate bool
}

func (f *Flow) conclude(ctx context.Context, in Input, prevID id.VersionID, c conclusion) error {
	if err := f.settleTask(ctx, in.TaskID, c); err != nil {
		return err
	}

	v3, err := f.advance(ctx, in, prevID, c.status, c.step, &c.result, c.actor)
	if err != nil {
		return err
	}

	_, err = f.audit.AppendOnce(ctx, audit.Record{
		WorkflowVersionID: v3.ID,
		GroupID:           in.GroupID,
		StepID:            c.step,
		Type:              c.entryType,
		Data:              c.result,
		Actor:             c.actor,
	})
	if err != nil {
		return err
	}

	if c.compensate {
		data, err := json.Marshal(c.result)
		if err != nil {
			return fmt.Errorf("approval: encode compensation: %w", err)
		}
		_, err = compensation.RecordOnce(ctx, f.comps, &compensation.Record{
			WorkflowVersionID: v3.ID,
			GroupID:           in.GroupID,
			StepID:            c.step,
			Action:            compensation.ActionCancelPurchase,
			Data:              data,
		})
		if err != nil {
			return err
		}
	}

	f.logger.Info("purchase approval concluded",
		slog.String("group_id", in.GroupID.String()),
		slog.String("purchase_id", in.Purchase.ID.String()),
		slog.String("step", c.step),
		slog.String("actor", c.actor),
	)
	return nil
}

// settleTask applies the outcome to the task unless a previous attempt
// already did.
func (f *Flow) settleTask(ctx context.Context, taskID id.TaskID, c conclusion) error {
	var (
		t   *task.Task
		err error
	)
	if c.decision == nil {
		t, err = f.tasks.Expire(ctx, taskID)
	} else {
		payload, encErr := json.Marshal(c.decision)
		if encErr != nil {
			return fmt.Errorf("approval: encode response: %w", encErr)
		}
		t, err = f.tasks.Resolve(ctx, taskID, c.decision.Status, payload)
	}

	if errors.Is(err, signoff.ErrInvalidState) {
		current, getErr := f.tasks.Get(ctx, taskID)
		if getErr != nil {
			return getErr
		}
		if current.Status == c.taskStatus {
			return nil
		}
		return err
	}
	if err != nil {
		return err
	}
	f.observer.EmitTaskResolved(ctx, t)
	return nil
}

func (f *Flow) onFailure(ctx context.Context, run *workflow.Run, in Input, runErr error) {
	latest, err := f.chain.Latest(ctx, in.GroupID)
	if err != nil {
		f.logger.Warn("no workflow version to record failure against",
			slog.String("run_id", run.ID.String()),
			slog.String("group_id", in.GroupID.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	_, err = f.audit.AppendOnce(ctx, audit.Record{
		WorkflowVersionID: latest.ID,
		GroupID:           in.GroupID,
		StepID:            latest.CurrentStep,
		Type:              audit.TypeWorkflowFailed,
		Data: map[string]string{
			"runId": run.ID.String(),
			"error": runErr.Error(),
		},
	})
	if err != nil {
		f.logger.Error("failed to record workflow failure",
			slog.String("run_id", run.ID.String()),
			slog.String("group_id", in.GroupID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// snapshot is the JSON context stored on each version.
type snapshot struct {
	Purchase Purchase  `json:"purchase"`
	TaskID   id.TaskID `json:"taskId"`
	Outcome  *outcome  `json:"outcome,omitempty"`
}

// outcome is what a terminal step did with the purchase.
type outcome struct {
	PurchaseID id.PurchaseID `json:"purchaseId"`
	Status     string        `json:"status"`
	Reason     string        `json:"reason,omitempty"`
	ApprovedBy string        `json:"approvedBy,omitempty"`
	Comment    string        `json:"comment,omitempty"`
	At         time.Time     `json:"at"`
}
