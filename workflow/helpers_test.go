package workflow_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/signoff/backoff"
	"github.com/xraph/signoff/store/memory"
	"github.com/xraph/signoff/wait"
	"github.com/xraph/signoff/workflow"
)

// testLogger returns a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fastRetry retries quickly so failure tests stay fast.
func fastRetry(attempts int) backoff.Policy {
	return backoff.Policy{
		Strategy:    backoff.NewConstant(time.Millisecond),
		MaxAttempts: attempts,
	}
}

// noopEmitter implements workflow.RunEmitter with no-ops.
type noopEmitter struct{}

func (noopEmitter) EmitStepCompleted(context.Context, *workflow.Run, string, time.Duration) {}
func (noopEmitter) EmitStepFailed(context.Context, *workflow.Run, string, error)           {}
func (noopEmitter) EmitWorkflowStarted(context.Context, *workflow.Run)                     {}
func (noopEmitter) EmitWorkflowSuspended(context.Context, *workflow.Run, string)           {}
func (noopEmitter) EmitWorkflowResumed(context.Context, *workflow.Run)                     {}
func (noopEmitter) EmitWorkflowCompleted(context.Context, *workflow.Run, time.Duration)    {}
func (noopEmitter) EmitWorkflowFailed(context.Context, *workflow.Run, error)               {}

// recordingEmitter records lifecycle events in order.
type recordingEmitter struct {
	mu     sync.Mutex
	events []string
}

func (e *recordingEmitter) add(ev string) {
	e.mu.Lock()
	e.events = append(e.events, ev)
	e.mu.Unlock()
}

func (e *recordingEmitter) Events() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.events...)
}

func (e *recordingEmitter) EmitStepCompleted(_ context.Context, _ *workflow.Run, step string, _ time.Duration) {
	e.add("step.completed:" + step)
}
func (e *recordingEmitter) EmitStepFailed(_ context.Context, _ *workflow.Run, step string, _ error) {
	e.add("step.failed:" + step)
}
func (e *recordingEmitter) EmitWorkflowStarted(context.Context, *workflow.Run) { e.add("started") }
func (e *recordingEmitter) EmitWorkflowSuspended(_ context.Context, _ *workflow.Run, key string) {
	e.add("suspended:" + key)
}
func (e *recordingEmitter) EmitWorkflowResumed(context.Context, *workflow.Run) { e.add("resumed") }
func (e *recordingEmitter) EmitWorkflowCompleted(context.Context, *workflow.Run, time.Duration) {
	e.add("completed")
}
func (e *recordingEmitter) EmitWorkflowFailed(context.Context, *workflow.Run, error) { e.add("failed") }

type fixture struct {
	store   *memory.Store
	waits   *wait.Manager
	reg     *workflow.Registry
	runner  *workflow.Runner
	emitter *recordingEmitter
}

func newFixture(opts ...workflow.RunnerOption) *fixture {
	s := memory.New()
	waits := wait.NewManager(s, wait.WithLogger(testLogger()))
	reg := workflow.NewRegistry()
	em := &recordingEmitter{}
	opts = append([]workflow.RunnerOption{workflow.WithRetryPolicy(fastRetry(3))}, opts...)
	return &fixture{
		store:   s,
		waits:   waits,
		reg:     reg,
		runner:  workflow.NewRunner(reg, s, waits, em, testLogger(), opts...),
		emitter: em,
	}
}
