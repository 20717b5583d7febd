package engine_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/signoff"
	"github.com/xraph/signoff/approval"
	"github.com/xraph/signoff/audit"
	"github.com/xraph/signoff/engine"
	"github.com/xraph/signoff/id"
	"github.com/xraph/signoff/store/memory"
	"github.com/xraph/signoff/task"
	"github.com/xraph/signoff/version"
	"github.com/xraph/signoff/wait"
	"github.com/xraph/signoff/workflow"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastRetry() signoff.RetryConfig {
	return signoff.RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
	}
}

// newEngine builds and starts an engine over s.
func newEngine(t *testing.T, s signoff.Storer, timeout time.Duration, opts ...engine.Option) *engine.Engine {
	t.Helper()
	rt, err := signoff.New(
		signoff.WithStore(s),
		signoff.WithLogger(discardLogger()),
		signoff.WithApprovalTimeout(timeout),
		signoff.WithConcurrency(4),
		signoff.WithRetry(fastRetry()),
	)
	require.NoError(t, err)

	eng, err := engine.Build(rt, opts...)
	require.NoError(t, err)
	require.NoError(t, eng.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = eng.Stop(ctx)
	})
	return eng
}

func purchase(amount any, item string) approval.TriggerRequest {
	return approval.TriggerRequest{
		Type:         approval.RequestType,
		PurchaseData: map[string]any{"amount": amount, "item": item},
		Assignee:     "finance",
		CreatedByID:  "user_7",
	}
}

func waitForRun(t *testing.T, eng *engine.Engine, runID id.RunID, state workflow.RunState) *workflow.Run {
	t.Helper()
	var run *workflow.Run
	require.Eventually(t, func() bool {
		got, err := eng.GetRun(context.Background(), runID)
		if err != nil {
			return false
		}
		run = got
		return got.State == state
	}, 5*time.Second, 10*time.Millisecond, "run %s never reached %s", runID, state)
	return run
}

func auditTypes(t *testing.T, eng *engine.Engine, groupID id.GroupID) []string {
	t.Helper()
	entries, err := eng.AuditTrail(context.Background(), groupID)
	require.NoError(t, err)
	types := make([]string, 0, len(entries))
	for _, e := range entries {
		types = append(types, e.Type)
	}
	return types
}

// ──────────────────────────────────────────────────
// Scenarios
// ──────────────────────────────────────────────────

func TestEngine_TriggerThenApprove(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, memory.New(), time.Minute)

	res, err := eng.Trigger(ctx, purchase(1000, "AWS Credits"))
	require.NoError(t, err)
	assert.False(t, res.RunID.IsNil())

	head, err := eng.LatestVersion(ctx, res.GroupID)
	require.NoError(t, err)
	assert.Equal(t, res.VersionID.String(), head.ID.String())
	assert.Equal(t, version.StatusWaitingApproval, head.Status)
	assert.Equal(t, 2, head.Number)

	history, err := eng.History(ctx, res.GroupID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	first := history[len(history)-1]
	assert.Equal(t, 1, first.Number)
	assert.Equal(t, version.StatusRunning, first.Status)

	tk, err := eng.GetTask(ctx, res.TaskID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusPending, tk.Status)
	assert.Equal(t, "finance", tk.Assignee)

	pending, err := eng.PendingTasks(ctx, task.Filter{GroupID: res.GroupID})
	require.NoError(t, err)
	require.Len(t, pending, 1)

	d, err := eng.Decide(ctx, approval.DecisionRequest{
		HumanTaskID: res.TaskID,
		Decision:    task.DecisionApprove,
		ApprovedBy:  "cfo",
	})
	require.NoError(t, err)
	assert.Equal(t, "cfo", d.ApprovedBy)

	waitForRun(t, eng, res.RunID, workflow.RunStateCompleted)

	head, err = eng.LatestVersion(ctx, res.GroupID)
	require.NoError(t, err)
	assert.Equal(t, 3, head.Number)
	assert.Equal(t, version.StatusApproved, head.Status)
	assert.Equal(t, approval.StepExecution, head.CurrentStep)

	tk, err = eng.GetTask(ctx, res.TaskID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusApproved, tk.Status)

	assert.Equal(t, []string{audit.TypeWorkflowStarted, audit.TypePurchaseApproved}, auditTypes(t, eng, res.GroupID))

	comps, err := eng.Compensations(ctx, res.GroupID)
	require.NoError(t, err)
	assert.Empty(t, comps)

	pending, err = eng.PendingTasks(ctx, task.Filter{GroupID: res.GroupID})
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestEngine_TriggerThenReject(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, memory.New(), time.Minute)

	res, err := eng.Trigger(ctx, purchase(80.5, "Keyboard"))
	require.NoError(t, err)

	_, err = eng.Decide(ctx, approval.DecisionRequest{
		HumanTaskID: res.TaskID,
		Decision:    task.DecisionReject,
		Comment:     "over budget",
	})
	require.NoError(t, err)
	waitForRun(t, eng, res.RunID, workflow.RunStateCompleted)

	head, err := eng.LatestVersion(ctx, res.GroupID)
	require.NoError(t, err)
	assert.Equal(t, version.StatusRejected, head.Status)
	assert.Equal(t, approval.StepRejected, head.CurrentStep)

	comps, err := eng.Compensations(ctx, res.GroupID)
	require.NoError(t, err)
	require.Len(t, comps, 1)
	assert.Equal(t, head.ID.String(), comps[0].WorkflowVersionID.String())
}

func TestEngine_NoDecisionTimesOut(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, memory.New(), 50*time.Millisecond)

	res, err := eng.Trigger(ctx, purchase(1000, "AWS Credits"))
	require.NoError(t, err)

	waitForRun(t, eng, res.RunID, workflow.RunStateCompleted)

	head, err := eng.LatestVersion(ctx, res.GroupID)
	require.NoError(t, err)
	assert.Equal(t, version.StatusRejected, head.Status)
	assert.Equal(t, approval.StepTimeout, head.CurrentStep)

	tk, err := eng.GetTask(ctx, res.TaskID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusTimedOut, tk.Status)

	entries, err := eng.VersionAuditTrail(ctx, head.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.TypePurchaseTimeout, entries[0].Type)
	assert.Equal(t, audit.ActorTimeout, entries[0].Actor)

	_, err = eng.Decide(ctx, approval.DecisionRequest{HumanTaskID: res.TaskID, Decision: task.DecisionApprove})
	assert.ErrorIs(t, err, signoff.ErrInvalidState)
}

func TestEngine_InvalidAmountCreatesNothing(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, memory.New(), time.Minute)

	_, err := eng.Trigger(ctx, purchase(-5, "AWS Credits"))
	require.ErrorIs(t, err, signoff.ErrValidation)

	var verr *signoff.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "purchaseData.amount", verr.Field)

	versions, err := eng.ListVersions(ctx, version.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestEngine_ConcurrentDecisionsAcceptOne(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, memory.New(), time.Minute)

	res, err := eng.Trigger(ctx, purchase(300, "Monitor"))
	require.NoError(t, err)

	const n = 10
	var accepted, invalid atomic.Int32
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			decision := task.DecisionApprove
			if i%2 == 1 {
				decision = task.DecisionReject
			}
			_, err := eng.Decide(ctx, approval.DecisionRequest{HumanTaskID: res.TaskID, Decision: decision})
			switch {
			case err == nil:
				accepted.Add(1)
			case errors.Is(err, signoff.ErrInvalidState):
				invalid.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, accepted.Load())
	assert.EqualValues(t, n-1, invalid.Load())

	waitForRun(t, eng, res.RunID, workflow.RunStateCompleted)
	history, err := eng.History(ctx, res.GroupID)
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestEngine_DecideUnknownTask(t *testing.T) {
	eng := newEngine(t, memory.New(), time.Minute)
	_, err := eng.Decide(context.Background(), approval.DecisionRequest{
		HumanTaskID: id.NewTaskID(),
		Decision:    task.DecisionApprove,
	})
	assert.ErrorIs(t, err, signoff.ErrTaskNotFound)
}

// ──────────────────────────────────────────────────
// Recovery
// ──────────────────────────────────────────────────

func TestEngine_DecisionAfterRestart(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	first := newEngine(t, s, time.Minute)
	res, err := first.Trigger(ctx, purchase(42, "Chair"))
	require.NoError(t, err)
	require.NoError(t, first.Stop(ctx))

	second := newEngine(t, s, time.Minute)
	run := waitForRun(t, second, res.RunID, workflow.RunStateWaiting)
	assert.Equal(t, approval.CorrelationKey(res.TaskID), run.WaitKey)

	_, err = second.Decide(ctx, approval.DecisionRequest{HumanTaskID: res.TaskID, Decision: task.DecisionApprove})
	require.NoError(t, err)
	waitForRun(t, second, res.RunID, workflow.RunStateCompleted)

	history, err := second.History(ctx, res.GroupID)
	require.NoError(t, err)
	assert.Len(t, history, 3)
	assert.Equal(t, []string{audit.TypeWorkflowStarted, audit.TypePurchaseApproved}, auditTypes(t, second, res.GroupID))
}

// ──────────────────────────────────────────────────
// Store failures
// ──────────────────────────────────────────────────

// brokenTasks fails every task creation with a store failure.
type brokenTasks struct {
	*memory.Store
}

func (b *brokenTasks) CreateTask(context.Context, *task.Task) error {
	return signoff.StoreError("create task", errors.New("connection refused"))
}

func TestEngine_StoreFailureFailsRun(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, &brokenTasks{Store: memory.New()}, time.Minute)

	res, err := eng.Trigger(ctx, purchase(10, "Pens"))
	require.ErrorIs(t, err, engine.ErrRunFailed)

	run, err := eng.GetRun(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, workflow.RunStateFailed, run.State)

	head, err := eng.LatestVersion(ctx, res.GroupID)
	require.NoError(t, err)
	assert.Equal(t, 1, head.Number)
	assert.Equal(t, version.StatusRunning, head.Status)

	assert.Equal(t, []string{audit.TypeWorkflowFailed}, auditTypes(t, eng, res.GroupID))
}

// ──────────────────────────────────────────────────
// Build
// ──────────────────────────────────────────────────

type storerOnly struct{}

func (storerOnly) Migrate(context.Context) error { return nil }
func (storerOnly) Ping(context.Context) error    { return nil }
func (storerOnly) Close() error                  { return nil }

func TestEngine_BuildBadStore(t *testing.T) {
	rt, err := signoff.New(signoff.WithStore(storerOnly{}))
	require.NoError(t, err)

	_, err = engine.Build(rt)
	assert.Error(t, err)
}

func TestEngine_NewRequiresStore(t *testing.T) {
	_, err := signoff.New()
	assert.ErrorIs(t, err, signoff.ErrNoStore)
}

// ──────────────────────────────────────────────────
// Extensions
// ──────────────────────────────────────────────────

type recordingExt struct {
	mu    sync.Mutex
	calls []string
}

func (e *recordingExt) Name() string { return "recording" }

func (e *recordingExt) add(name string) error {
	e.mu.Lock()
	e.calls = append(e.calls, name)
	e.mu.Unlock()
	return nil
}

func (e *recordingExt) has(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range e.calls {
		if c == name {
			return true
		}
	}
	return false
}

func (e *recordingExt) OnWorkflowStarted(context.Context, *workflow.Run) error {
	return e.add("started")
}

func (e *recordingExt) OnWorkflowSuspended(context.Context, *workflow.Run, string) error {
	return e.add("suspended")
}

func (e *recordingExt) OnWorkflowCompleted(context.Context, *workflow.Run, time.Duration) error {
	return e.add("completed")
}

func (e *recordingExt) OnTaskOpened(context.Context, *task.Task) error {
	return e.add("task_opened")
}

func (e *recordingExt) OnDecisionDelivered(context.Context, *task.Task, approval.Decision) error {
	return e.add("decision")
}

func (e *recordingExt) OnWaitResolved(context.Context, *wait.Record) error {
	return e.add("wait_resolved")
}

func (e *recordingExt) OnShutdown(context.Context) error {
	return e.add("shutdown")
}

func TestEngine_ExtensionLifecycleEvents(t *testing.T) {
	ctx := context.Background()
	rec := &recordingExt{}
	eng := newEngine(t, memory.New(), time.Minute, engine.WithExtension(rec))

	res, err := eng.Trigger(ctx, purchase(5, "Stapler"))
	require.NoError(t, err)
	for _, name := range []string{"started", "task_opened", "suspended"} {
		assert.True(t, rec.has(name), "missing %s", name)
	}

	_, err = eng.Decide(ctx, approval.DecisionRequest{HumanTaskID: res.TaskID, Decision: task.DecisionApprove})
	require.NoError(t, err)
	waitForRun(t, eng, res.RunID, workflow.RunStateCompleted)

	require.Eventually(t, func() bool { return rec.has("completed") }, time.Second, 5*time.Millisecond)
	assert.True(t, rec.has("decision"))
	assert.True(t, rec.has("wait_resolved"))

	require.NoError(t, eng.Stop(ctx))
	assert.True(t, rec.has("shutdown"))
}
