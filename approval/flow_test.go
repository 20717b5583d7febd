package approval_test

import (
	"context"
	"encoding/json"
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
	"github.com/xraph/signoff/backoff"
	"github.com/xraph/signoff/compensation"
	"github.com/xraph/signoff/id"
	"github.com/xraph/signoff/store/memory"
	"github.com/xraph/signoff/task"
	"github.com/xraph/signoff/version"
	"github.com/xraph/signoff/wait"
	"github.com/xraph/signoff/workflow"
)

type nopEmitter struct{}

func (nopEmitter) EmitStepCompleted(context.Context, *workflow.Run, string, time.Duration) {}
func (nopEmitter) EmitStepFailed(context.Context, *workflow.Run, string, error)           {}
func (nopEmitter) EmitWorkflowStarted(context.Context, *workflow.Run)                     {}
func (nopEmitter) EmitWorkflowSuspended(context.Context, *workflow.Run, string)           {}
func (nopEmitter) EmitWorkflowResumed(context.Context, *workflow.Run)                     {}
func (nopEmitter) EmitWorkflowCompleted(context.Context, *workflow.Run, time.Duration)    {}
func (nopEmitter) EmitWorkflowFailed(context.Context, *workflow.Run, error)               {}

type harness struct {
	store  *memory.Store
	waits  *wait.Manager
	chain  *version.Chain
	tasks  *task.Registry
	log    *audit.Log
	flow   *approval.Flow
	runner *workflow.Runner
}

type harnessConfig struct {
	// tasks and audit wrap the shared memory store when set.
	tasks func(*memory.Store) task.Store
	audit func(*memory.Store) audit.Store
	opts  []approval.Option
}

func newHarness(t *testing.T, cfg harnessConfig) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s := memory.New()
	var taskStore task.Store = s
	if cfg.tasks != nil {
		taskStore = cfg.tasks(s)
	}
	var auditStore audit.Store = s
	if cfg.audit != nil {
		auditStore = cfg.audit(s)
	}

	waits := wait.NewManager(s, wait.WithLogger(logger))
	t.Cleanup(waits.Stop)

	h := &harness{
		store: s,
		waits: waits,
		chain: version.NewChain(s, logger),
		tasks: task.NewRegistry(taskStore, logger),
		log:   audit.NewLog(auditStore, logger),
	}
	opts := append([]approval.Option{approval.WithLogger(logger)}, cfg.opts...)
	h.flow = approval.NewFlow(h.chain, h.tasks, h.log, s, waits, opts...)

	reg := workflow.NewRegistry()
	workflow.RegisterDefinition(reg, h.flow.Definition())
	h.runner = workflow.NewRunner(reg, s, waits, nopEmitter{}, logger,
		workflow.WithRetryPolicy(backoff.Policy{
			Strategy:    backoff.NewConstant(time.Millisecond),
			MaxAttempts: 3,
		}),
	)
	return h
}

func purchaseRequest() approval.TriggerRequest {
	return approval.TriggerRequest{
		Type:         approval.RequestType,
		PurchaseData: map[string]any{"amount": 1200.0, "item": "Laptop"},
		CreatedByID:  "user_42",
	}
}

func (h *harness) trigger(t *testing.T, req approval.TriggerRequest) (approval.Input, *workflow.Run) {
	t.Helper()
	ctx := context.Background()
	in, err := h.flow.Prepare(ctx, req)
	require.NoError(t, err)
	run, err := workflow.Start(ctx, h.runner, approval.RequestType, in)
	require.NoError(t, err)
	require.Equal(t, workflow.RunStateWaiting, run.State)
	return in, run
}

func (h *harness) resume(t *testing.T, run *workflow.Run) *workflow.Run {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.runner.Resume(ctx, run.ID))
	got, err := h.store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	return got
}

func auditTypes(entries []*audit.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Type
	}
	return out
}

func TestFlow_TriggerSuspendsOnApproval(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	ctx := context.Background()
	in, run := h.trigger(t, purchaseRequest())

	assert.Equal(t, approval.CorrelationKey(in.TaskID), run.WaitKey)

	history, err := h.chain.History(ctx, in.GroupID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, version.StatusWaitingApproval, history[0].Status)
	assert.Equal(t, approval.StepAwaitingApproval, history[0].CurrentStep)
	assert.Equal(t, version.StatusRunning, history[1].Status)
	assert.Equal(t, signoff.DefaultWorkflowName, history[1].Name)
	assert.Equal(t, "user_42", history[1].CreatedBy)
	assert.JSONEq(t,
		`{"purchase":{"id":"`+in.Purchase.ID.String()+`","amount":1200,"item":"Laptop"},"taskId":"`+in.TaskID.String()+`"}`,
		string(history[1].Context))

	tk, err := h.tasks.Get(ctx, in.TaskID)
	require.NoError(t, err)
	assert.True(t, tk.Pending())
	assert.Equal(t, history[1].ID.String(), tk.WorkflowVersionID.String())
	assert.Equal(t, task.DefaultStepID, tk.StepID)
	assert.Equal(t, task.DefaultAssignee, tk.Assignee)
	assert.Equal(t, task.DefaultChannel, tk.Channel)
	require.NotNil(t, tk.ExpiresAt)

	rec, err := h.waits.Get(ctx, run.WaitKey)
	require.NoError(t, err)
	assert.True(t, rec.Open())
	assert.Equal(t, run.ID.String(), rec.RunID.String())
	assert.WithinDuration(t, rec.Deadline, *tk.ExpiresAt, time.Millisecond)

	trail, err := h.log.ForGroup(ctx, in.GroupID)
	require.NoError(t, err)
	assert.Equal(t, []string{audit.TypeWorkflowStarted}, auditTypes(trail))
	assert.Equal(t, "user_42", trail[0].Actor)
}

func TestFlow_Approve(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	ctx := context.Background()
	in, run := h.trigger(t, purchaseRequest())

	d, err := h.flow.Decide(ctx, approval.DecisionRequest{
		HumanTaskID: in.TaskID,
		Decision:    task.DecisionApprove,
		Comment:     "within budget",
		ApprovedBy:  "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, "alice", d.ApprovedBy)

	run = h.resume(t, run)
	assert.Equal(t, workflow.RunStateCompleted, run.State)

	latest, err := h.chain.Latest(ctx, in.GroupID)
	require.NoError(t, err)
	assert.Equal(t, 3, latest.Number)
	assert.Equal(t, version.StatusApproved, latest.Status)
	assert.Equal(t, approval.StepExecution, latest.CurrentStep)
	assert.Equal(t, "alice", latest.CreatedBy)

	history, err := h.chain.History(ctx, in.GroupID)
	require.NoError(t, err)
	require.NoError(t, version.VerifyChain(history))

	tk, err := h.tasks.Get(ctx, in.TaskID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusApproved, tk.Status)
	var resp approval.Decision
	require.NoError(t, json.Unmarshal(tk.Response, &resp))
	assert.Equal(t, task.DecisionApprove, resp.Status)
	assert.Equal(t, "within budget", resp.Comment)
	assert.Equal(t, "alice", resp.ApprovedBy)

	trail, err := h.log.ForGroup(ctx, in.GroupID)
	require.NoError(t, err)
	assert.Equal(t, []string{audit.TypeWorkflowStarted, audit.TypePurchaseApproved}, auditTypes(trail))
	assert.Equal(t, "alice", trail[1].Actor)
	assert.Equal(t, latest.ID.String(), trail[1].WorkflowVersionID.String())

	comps, err := h.store.ListCompensations(ctx, compensation.ListOpts{GroupID: in.GroupID})
	require.NoError(t, err)
	assert.Empty(t, comps)
}

func TestFlow_Reject(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	ctx := context.Background()
	in, run := h.trigger(t, purchaseRequest())

	_, err := h.flow.Decide(ctx, approval.DecisionRequest{HumanTaskID: in.TaskID, Decision: task.DecisionReject})
	require.NoError(t, err)
	run = h.resume(t, run)
	assert.Equal(t, workflow.RunStateCompleted, run.State)

	latest, err := h.chain.Latest(ctx, in.GroupID)
	require.NoError(t, err)
	assert.Equal(t, version.StatusRejected, latest.Status)
	assert.Equal(t, approval.StepRejected, latest.CurrentStep)

	tk, err := h.tasks.Get(ctx, in.TaskID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusRejected, tk.Status)

	trail, err := h.log.ForVersion(ctx, latest.ID)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, audit.TypePurchaseRejected, trail[0].Type)
	assert.Equal(t, approval.ApprovedByUnknown, trail[0].Actor)

	comps, err := h.store.ListCompensations(ctx, compensation.ListOpts{GroupID: in.GroupID})
	require.NoError(t, err)
	require.Len(t, comps, 1)
	assert.Equal(t, compensation.ActionCancelPurchase, comps[0].Action)
	assert.Equal(t, latest.ID.String(), comps[0].WorkflowVersionID.String())
}

func TestFlow_Timeout(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	ctx := context.Background()
	in, run := h.trigger(t, purchaseRequest())

	ok, err := h.waits.Expire(ctx, run.WaitKey)
	require.NoError(t, err)
	require.True(t, ok)

	run = h.resume(t, run)
	assert.Equal(t, workflow.RunStateCompleted, run.State)

	latest, err := h.chain.Latest(ctx, in.GroupID)
	require.NoError(t, err)
	assert.Equal(t, version.StatusRejected, latest.Status)
	assert.Equal(t, approval.StepTimeout, latest.CurrentStep)

	tk, err := h.tasks.Get(ctx, in.TaskID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusTimedOut, tk.Status)

	trail, err := h.log.ForVersion(ctx, latest.ID)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, audit.TypePurchaseTimeout, trail[0].Type)
	assert.Equal(t, audit.ActorTimeout, trail[0].Actor)

	_, err = h.flow.Decide(ctx, approval.DecisionRequest{HumanTaskID: in.TaskID, Decision: task.DecisionApprove})
	assert.ErrorIs(t, err, signoff.ErrInvalidState)
}

func TestFlow_TimerExpiryEndsWait(t *testing.T) {
	h := newHarness(t, harnessConfig{opts: []approval.Option{approval.WithTimeout(20 * time.Millisecond)}})
	ctx := context.Background()
	in, err := h.flow.Prepare(ctx, purchaseRequest())
	require.NoError(t, err)
	run, err := workflow.Start(ctx, h.runner, approval.RequestType, in)
	require.NoError(t, err)
	if run.State == workflow.RunStateCompleted {
		// The timer fired before the run reached its wait.
		return
	}
	require.Equal(t, workflow.RunStateWaiting, run.State)

	require.Eventually(t, func() bool {
		rec, err := h.waits.Get(ctx, run.WaitKey)
		return err == nil && !rec.Open()
	}, 2*time.Second, 5*time.Millisecond)

	run = h.resume(t, run)
	assert.Equal(t, workflow.RunStateCompleted, run.State)
}

func TestFlow_ExpiresAtShortensDeadline(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h := newHarness(t, harnessConfig{opts: []approval.Option{
		approval.WithTimeout(time.Hour),
		approval.WithClock(func() time.Time { return now }),
	}})
	ctx := context.Background()

	req := purchaseRequest()
	expires := now.Add(10 * time.Minute)
	req.ExpiresAt = &expires
	in, run := h.trigger(t, req)

	rec, err := h.waits.Get(ctx, run.WaitKey)
	require.NoError(t, err)
	// The manager measures from its own clock; the window is what matters.
	assert.InDelta(t, (10 * time.Minute).Seconds(), rec.Deadline.Sub(rec.RegisteredAt).Seconds(), 1)

	tk, err := h.tasks.Get(ctx, in.TaskID)
	require.NoError(t, err)
	require.NotNil(t, tk.ExpiresAt)
	assert.WithinDuration(t, rec.Deadline, *tk.ExpiresAt, time.Millisecond)
}

func TestFlow_PastExpiresAtRejected(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h := newHarness(t, harnessConfig{opts: []approval.Option{
		approval.WithClock(func() time.Time { return now }),
	}})

	for _, expires := range []time.Time{now.Add(-time.Minute), now} {
		req := purchaseRequest()
		req.ExpiresAt = &expires
		_, err := h.flow.Prepare(context.Background(), req)
		require.ErrorIs(t, err, signoff.ErrValidation)

		var ve *signoff.ValidationError
		require.True(t, errors.As(err, &ve))
		assert.Equal(t, "expiresAt", ve.Field)
	}
}

func TestFlow_LapsedExpiresAtTimesOutImmediately(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var clock atomic.Int64
	clock.Store(start.UnixNano())
	h := newHarness(t, harnessConfig{opts: []approval.Option{
		approval.WithTimeout(time.Hour),
		approval.WithClock(func() time.Time { return time.Unix(0, clock.Load()).UTC() }),
	}})
	ctx := context.Background()

	req := purchaseRequest()
	expires := start.Add(time.Minute)
	req.ExpiresAt = &expires
	in, err := h.flow.Prepare(ctx, req)
	require.NoError(t, err)

	// The deadline passes before the run registers its wait.
	clock.Store(start.Add(2 * time.Minute).UnixNano())
	run, err := workflow.Start(ctx, h.runner, approval.RequestType, in)
	require.NoError(t, err)

	if run.State == workflow.RunStateWaiting {
		rec, err := h.waits.Get(ctx, run.WaitKey)
		require.NoError(t, err)
		assert.Less(t, rec.Deadline.Sub(rec.RegisteredAt), time.Second)

		require.Eventually(t, func() bool {
			rec, err := h.waits.Get(ctx, run.WaitKey)
			return err == nil && !rec.Open()
		}, 2*time.Second, 5*time.Millisecond)
		run = h.resume(t, run)
	}
	assert.Equal(t, workflow.RunStateCompleted, run.State)

	latest, err := h.chain.Latest(ctx, in.GroupID)
	require.NoError(t, err)
	assert.Equal(t, approval.StepTimeout, latest.CurrentStep)
}

func TestFlow_DecideErrors(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	ctx := context.Background()
	in, _ := h.trigger(t, purchaseRequest())

	tests := []struct {
		name string
		req  approval.DecisionRequest
		want error
	}{
		{"missing task", approval.DecisionRequest{Decision: task.DecisionApprove}, signoff.ErrValidation},
		{"unknown decision", approval.DecisionRequest{HumanTaskID: in.TaskID, Decision: "maybe"}, signoff.ErrValidation},
		{"unknown task", approval.DecisionRequest{HumanTaskID: id.NewTaskID(), Decision: task.DecisionApprove}, signoff.ErrTaskNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.flow.Decide(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	// The first decision wins even before the run resumes.
	_, err := h.flow.Decide(ctx, approval.DecisionRequest{HumanTaskID: in.TaskID, Decision: task.DecisionReject})
	require.NoError(t, err)
	_, err = h.flow.Decide(ctx, approval.DecisionRequest{HumanTaskID: in.TaskID, Decision: task.DecisionApprove})
	assert.ErrorIs(t, err, signoff.ErrInvalidState)
}

func TestFlow_ConcurrentDecisions(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	ctx := context.Background()
	in, run := h.trigger(t, purchaseRequest())

	const deciders = 10
	var (
		wg       sync.WaitGroup
		accepted atomic.Int32
		invalid  atomic.Int32
	)
	for i := 0; i < deciders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d := task.DecisionApprove
			if i%2 == 1 {
				d = task.DecisionReject
			}
			_, err := h.flow.Decide(ctx, approval.DecisionRequest{HumanTaskID: in.TaskID, Decision: d})
			switch {
			case err == nil:
				accepted.Add(1)
			case errors.Is(err, signoff.ErrInvalidState):
				invalid.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), accepted.Load())
	assert.Equal(t, int32(deciders-1), invalid.Load())

	run = h.resume(t, run)
	assert.Equal(t, workflow.RunStateCompleted, run.State)

	history, err := h.chain.History(ctx, in.GroupID)
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

// flakyAudit fails the first n appends of one entry type.
type flakyAudit struct {
	audit.Store
	entryType string
	remaining atomic.Int32
}

func (f *flakyAudit) AppendEntry(ctx context.Context, e *audit.Entry) error {
	if e.Type == f.entryType && f.remaining.Add(-1) >= 0 {
		return signoff.StoreError("append entry", errors.New("connection reset"))
	}
	return f.Store.AppendEntry(ctx, e)
}

func TestFlow_TerminalStepRetriesWithoutDuplicates(t *testing.T) {
	h := newHarness(t, harnessConfig{audit: func(s *memory.Store) audit.Store {
		f := &flakyAudit{Store: s, entryType: audit.TypePurchaseApproved}
		f.remaining.Store(2)
		return f
	}})
	ctx := context.Background()

	in, run := h.trigger(t, purchaseRequest())
	_, err := h.flow.Decide(ctx, approval.DecisionRequest{HumanTaskID: in.TaskID, Decision: task.DecisionApprove, ApprovedBy: "bob"})
	require.NoError(t, err)

	run = h.resume(t, run)
	assert.Equal(t, workflow.RunStateCompleted, run.State)

	history, err := h.chain.History(ctx, in.GroupID)
	require.NoError(t, err)
	assert.Len(t, history, 3, "retried step must reuse its version")

	trail, err := h.log.ForGroup(ctx, in.GroupID)
	require.NoError(t, err)
	assert.Equal(t, []string{audit.TypeWorkflowStarted, audit.TypePurchaseApproved}, auditTypes(trail))
}

// failingTasks fails every task transition.
type failingTasks struct {
	task.Store
}

func (failingTasks) TransitionTask(context.Context, id.TaskID, task.Transition) (*task.Task, error) {
	return nil, signoff.StoreError("transition task", errors.New("database is locked"))
}

func TestFlow_ExhaustedRetriesFailRun(t *testing.T) {
	h := newHarness(t, harnessConfig{tasks: func(s *memory.Store) task.Store {
		return failingTasks{Store: s}
	}})
	ctx := context.Background()

	in, run := h.trigger(t, purchaseRequest())
	_, err := h.flow.Decide(ctx, approval.DecisionRequest{HumanTaskID: in.TaskID, Decision: task.DecisionApprove})
	require.NoError(t, err)

	run = h.resume(t, run)
	assert.Equal(t, workflow.RunStateFailed, run.State)
	assert.Contains(t, run.Error, "database is locked")

	latest, err := h.chain.Latest(ctx, in.GroupID)
	require.NoError(t, err)
	assert.Equal(t, version.StatusWaitingApproval, latest.Status, "no partial version")

	trail, err := h.log.ForVersion(ctx, latest.ID)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, audit.TypeWorkflowFailed, trail[0].Type)
	var data map[string]string
	require.NoError(t, json.Unmarshal(trail[0].Data, &data))
	assert.Equal(t, run.ID.String(), data["runId"])
	assert.Equal(t, run.Error, data["error"])
}
