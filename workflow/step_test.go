package workflow_test

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/xraph/signoff"
	"github.com/xraph/signoff/middleware"
	"github.com/xraph/signoff/workflow"
)

func TestStep_HappyPath(t *testing.T) {
	f := newFixture()

	var step1Done, step2Done bool
	workflow.RegisterDefinition(f.reg, workflow.NewWorkflow("step-test", func(wf *workflow.Workflow, _ struct{}) error {
		if err := wf.Step("step-1", func(_ context.Context) error {
			step1Done = true
			return nil
		}); err != nil {
			return err
		}
		return wf.Step("step-2", func(_ context.Context) error {
			step2Done = true
			return nil
		})
	}))

	run, err := workflow.Start(context.Background(), f.runner, "step-test", struct{}{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !step1Done || !step2Done {
		t.Fatalf("steps executed = %v/%v, want both", step1Done, step2Done)
	}
	if run.State != workflow.RunStateCompleted {
		t.Errorf("run state = %q, want %q", run.State, workflow.RunStateCompleted)
	}

	want := []string{"started", "step.completed:step-1", "step.completed:step-2", "completed"}
	if got := f.emitter.Events(); !slices.Equal(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}

	cps, err := f.store.ListCheckpoints(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("ListCheckpoints: %v", err)
	}
	if len(cps) != 2 {
		t.Errorf("expected 2 checkpoints, got %d", len(cps))
	}
}

func TestStep_CheckpointSkip(t *testing.T) {
	f := newFixture()

	calls := 0
	workflow.RegisterDefinition(f.reg, workflow.NewWorkflow("skip-test", func(wf *workflow.Workflow, _ struct{}) error {
		return wf.Step("once", func(_ context.Context) error {
			calls++
			return nil
		})
	}))

	run, err := workflow.Start(context.Background(), f.runner, "skip-test", struct{}{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Simulate a crash after the step was checkpointed.
	run.State = workflow.RunStateRunning
	run.CompletedAt = nil
	if err := f.store.UpdateRun(context.Background(), run); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}
	if err := f.runner.Resume(context.Background(), run.ID); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	if calls != 1 {
		t.Errorf("step calls = %d, want 1", calls)
	}
}

func TestStep_Failure(t *testing.T) {
	f := newFixture()

	stepErr := errors.New("payment gateway down")
	workflow.RegisterDefinition(f.reg, workflow.NewWorkflow("fail-step", func(wf *workflow.Workflow, _ struct{}) error {
		return wf.Step("charge", func(_ context.Context) error { return stepErr })
	}))

	run, err := workflow.Start(context.Background(), f.runner, "fail-step", struct{}{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if run.State != workflow.RunStateFailed {
		t.Fatalf("run state = %q, want %q", run.State, workflow.RunStateFailed)
	}
	if run.Error == "" {
		t.Error("expected run error to be recorded")
	}
	if !slices.Contains(f.emitter.Events(), "step.failed:charge") {
		t.Errorf("expected step.failed event, got %v", f.emitter.Events())
	}
}

func TestStepWithResult_CheckpointResume(t *testing.T) {
	f := newFixture()

	type quote struct {
		Price float64 `json:"price"`
		Item  string  `json:"item"`
	}

	calls := 0
	var results []quote
	workflow.RegisterDefinition(f.reg, workflow.NewWorkflow("quote-wf", func(wf *workflow.Workflow, _ struct{}) error {
		q, err := workflow.StepWithResult(wf, "quote", func(_ context.Context) (quote, error) {
			calls++
			return quote{Price: 1250.5, Item: "Laptop"}, nil
		})
		if err != nil {
			return err
		}
		results = append(results, q)
		return nil
	}))

	run, err := workflow.Start(context.Background(), f.runner, "quote-wf", struct{}{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	run.State = workflow.RunStateRunning
	if err := f.store.UpdateRun(context.Background(), run); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}
	if err := f.runner.Resume(context.Background(), run.ID); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	if calls != 1 {
		t.Errorf("step calls = %d, want 1", calls)
	}
	if len(results) != 2 {
		t.Fatalf("handler passes = %d, want 2", len(results))
	}
	for i, q := range results {
		if q.Price != 1250.5 || q.Item != "Laptop" {
			t.Errorf("results[%d] = %+v", i, q)
		}
	}

	data, err := f.store.GetCheckpoint(context.Background(), run.ID, "quote")
	if err != nil {
		t.Fatalf("GetCheckpoint: %v", err)
	}
	var stored quote
	if err := json.Unmarshal(data, &stored); err != nil {
		t.Fatalf("checkpoint is not JSON: %v", err)
	}
}

func TestStep_RetriesStoreFailures(t *testing.T) {
	f := newFixture(workflow.WithRetryPolicy(fastRetry(3)))

	attempts := 0
	workflow.RegisterDefinition(f.reg, workflow.NewWorkflow("flaky", func(wf *workflow.Workflow, _ struct{}) error {
		return wf.Step("write", func(_ context.Context) error {
			attempts++
			if attempts < 3 {
				return signoff.StoreError("insert", errors.New("connection reset"))
			}
			return nil
		})
	}))

	run, err := workflow.Start(context.Background(), f.runner, "flaky", struct{}{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if run.State != workflow.RunStateCompleted {
		t.Fatalf("run state = %q, want %q (error %q)", run.State, workflow.RunStateCompleted, run.Error)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestStep_RetryExhaustedFailsRun(t *testing.T) {
	f := newFixture(workflow.WithRetryPolicy(fastRetry(2)))

	attempts := 0
	var failedWith error
	def := workflow.NewWorkflow("broken-store", func(wf *workflow.Workflow, _ struct{}) error {
		return wf.Step("write", func(_ context.Context) error {
			attempts++
			return signoff.StoreError("insert", errors.New("connection refused"))
		})
	})
	def.OnFailure = func(_ context.Context, _ *workflow.Run, _ struct{}, err error) {
		failedWith = err
	}
	workflow.RegisterDefinition(f.reg, def)

	run, err := workflow.Start(context.Background(), f.runner, "broken-store", struct{}{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if run.State != workflow.RunStateFailed {
		t.Fatalf("run state = %q, want %q", run.State, workflow.RunStateFailed)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
	if !errors.Is(failedWith, signoff.ErrStoreFailure) {
		t.Errorf("OnFailure error = %v, want ErrStoreFailure", failedWith)
	}
}

func TestStep_NonRetryableFailsImmediately(t *testing.T) {
	f := newFixture(workflow.WithRetryPolicy(fastRetry(5)))

	attempts := 0
	workflow.RegisterDefinition(f.reg, workflow.NewWorkflow("invalid", func(wf *workflow.Workflow, _ struct{}) error {
		return wf.Step("validate", func(_ context.Context) error {
			attempts++
			return signoff.NewValidationError("amount", "must be positive")
		})
	}))

	run, err := workflow.Start(context.Background(), f.runner, "invalid", struct{}{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if run.State != workflow.RunStateFailed {
		t.Fatalf("run state = %q, want %q", run.State, workflow.RunStateFailed)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestStep_Middleware(t *testing.T) {
	var (
		mu    sync.Mutex
		steps []middleware.Step
	)
	record := func(ctx context.Context, s middleware.Step, next middleware.Handler) error {
		mu.Lock()
		steps = append(steps, s)
		mu.Unlock()
		return next(ctx)
	}
	f := newFixture(workflow.WithMiddleware(record))

	workflow.RegisterDefinition(f.reg, workflow.NewWorkflow("mw-wf", func(wf *workflow.Workflow, _ struct{}) error {
		return wf.Step("only", func(_ context.Context) error { return nil })
	}))

	run, err := workflow.Start(context.Background(), f.runner, "mw-wf", struct{}{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if len(steps) != 1 {
		t.Fatalf("middleware saw %d steps, want 1", len(steps))
	}
	s := steps[0]
	if s.Name != "only" || s.Workflow != "mw-wf" || s.RunID != run.ID.String() || s.Attempt != 1 {
		t.Errorf("unexpected step %+v", s)
	}
}

func TestAwait_UnknownKeyFailsRun(t *testing.T) {
	f := newFixture()

	workflow.RegisterDefinition(f.reg, workflow.NewWorkflow("no-wait", func(wf *workflow.Workflow, _ struct{}) error {
		_, err := wf.Await("decision", "approval:missing")
		return err
	}))

	run, err := workflow.Start(context.Background(), f.runner, "no-wait", struct{}{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if run.State != workflow.RunStateFailed {
		t.Fatalf("run state = %q, want %q", run.State, workflow.RunStateFailed)
	}
}
