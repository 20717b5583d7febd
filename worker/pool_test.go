package worker_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/signoff"
	"github.com/xraph/signoff/backoff"
	"github.com/xraph/signoff/id"
	"github.com/xraph/signoff/worker"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeResumer records resumes and can block or fail them.
type fakeResumer struct {
	mu      sync.Mutex
	resumed []string
	calls   atomic.Int32
	fail    func(call int32) error
	block   chan struct{}
}

func (f *fakeResumer) Resume(ctx context.Context, runID id.RunID) error {
	call := f.calls.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.fail != nil {
		if err := f.fail(call); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.resumed = append(f.resumed, runID.String())
	f.mu.Unlock()
	return nil
}

func (f *fakeResumer) Resumed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.resumed...)
}

func fastPolicy(attempts int) backoff.Policy {
	return backoff.Policy{Strategy: backoff.NewConstant(time.Millisecond), MaxAttempts: attempts}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for condition")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func stopPool(t *testing.T, p *worker.Pool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("stop error: %v", err)
	}
}

func TestPool_StartStop(t *testing.T) {
	p := worker.NewPool(worker.NewExecutor(&fakeResumer{}, fastPolicy(1), testLogger()), testLogger(),
		worker.WithPoolConcurrency(2))

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	// Double start should be no-op.
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("unexpected double-start error: %v", err)
	}

	stopPool(t, p)
	// Double stop should be no-op.
	stopPool(t, p)

	if _, err := p.Submit(id.NewRunID()); !errors.Is(err, worker.ErrPoolStopped) {
		t.Fatalf("Submit after stop: got %v, want ErrPoolStopped", err)
	}
}

func TestPool_ResumesSubmittedRuns(t *testing.T) {
	r := &fakeResumer{}
	p := worker.NewPool(worker.NewExecutor(r, fastPolicy(1), testLogger()), testLogger(),
		worker.WithPoolConcurrency(3))
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer stopPool(t, p)

	want := map[string]bool{}
	for range 5 {
		runID := id.NewRunID()
		want[runID.String()] = true
		if ok, err := p.Submit(runID); err != nil || !ok {
			t.Fatalf("Submit: ok=%v err=%v", ok, err)
		}
	}

	waitFor(t, func() bool { return len(r.Resumed()) == len(want) })
	for _, got := range r.Resumed() {
		if !want[got] {
			t.Errorf("unexpected resume of %s", got)
		}
	}
}

func TestPool_DeduplicatesQueuedRuns(t *testing.T) {
	r := &fakeResumer{}
	p := worker.NewPool(worker.NewExecutor(r, fastPolicy(1), testLogger()), testLogger())

	// Not started: submissions stay queued.
	runID := id.NewRunID()
	if ok, _ := p.Submit(runID); !ok {
		t.Fatal("first submit should queue")
	}
	if ok, _ := p.Submit(runID); ok {
		t.Fatal("second submit of a queued run should be dropped")
	}

	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer stopPool(t, p)
	waitFor(t, func() bool { return len(r.Resumed()) == 1 })

	// Once dequeued the run can be submitted again.
	waitFor(t, func() bool {
		ok, _ := p.Submit(runID)
		return ok
	})
	waitFor(t, func() bool { return len(r.Resumed()) == 2 })
}

func TestPool_RetriesTransientFailures(t *testing.T) {
	r := &fakeResumer{fail: func(call int32) error {
		if call < 3 {
			return signoff.StoreError("get run", errors.New("connection refused"))
		}
		return nil
	}}
	p := worker.NewPool(worker.NewExecutor(r, fastPolicy(5), testLogger()), testLogger())
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer stopPool(t, p)

	if _, err := p.Submit(id.NewRunID()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(r.Resumed()) == 1 })
	if got := r.calls.Load(); got != 3 {
		t.Errorf("resume calls = %d, want 3", got)
	}
}

func TestPool_RateLimit(t *testing.T) {
	r := &fakeResumer{}
	p := worker.NewPool(worker.NewExecutor(r, fastPolicy(1), testLogger()), testLogger(),
		worker.WithPoolConcurrency(4),
		worker.WithRateLimit(20),
	)
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer stopPool(t, p)

	start := time.Now()
	for range 30 {
		if _, err := p.Submit(id.NewRunID()); err != nil {
			t.Fatal(err)
		}
	}
	waitFor(t, func() bool { return len(r.Resumed()) == 30 })

	// Burst of 20, then 10 more at 20/s.
	if elapsed := time.Since(start); elapsed < 400*time.Millisecond {
		t.Errorf("30 resumes took %s, rate limit not applied", elapsed)
	}
}

func TestPool_Reconcile(t *testing.T) {
	r := &fakeResumer{}
	stalled := id.NewRunID()
	var rounds atomic.Int32
	p := worker.NewPool(worker.NewExecutor(r, fastPolicy(1), testLogger()), testLogger(),
		worker.WithReconcile(10*time.Millisecond, func(context.Context) ([]id.RunID, error) {
			if rounds.Add(1) == 1 {
				return []id.RunID{stalled}, nil
			}
			return nil, nil
		}),
	)
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer stopPool(t, p)

	waitFor(t, func() bool { return len(r.Resumed()) == 1 })
	if got := r.Resumed()[0]; got != stalled.String() {
		t.Errorf("resumed %s, want %s", got, stalled)
	}
}

func TestPool_StopCancelsActiveResumesAfterDeadline(t *testing.T) {
	r := &fakeResumer{block: make(chan struct{})}
	p := worker.NewPool(worker.NewExecutor(r, fastPolicy(1), testLogger()), testLogger())
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Submit(id.NewRunID()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return r.calls.Load() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("stop error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("stop took %s, active resume was not cancelled", elapsed)
	}
	if len(r.Resumed()) != 0 {
		t.Error("cancelled resume should not complete")
	}
}
