package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/signoff/middleware"
	"github.com/xraph/signoff/wait"
)

// ErrSuspended is returned by Await when the wait is still open. Handlers
// must return it unchanged so the runner parks the run.
var ErrSuspended = middleware.ErrSuspended

// emptyCheckpoint marks a completed step that has no result.
var emptyCheckpoint = []byte("null")

// Step executes a named step function. If a checkpoint exists for this
// step name the step is skipped. Otherwise fn runs through the step
// middleware, retried on transient store failures, and a checkpoint is
// saved on success.
func (w *Workflow) Step(name string, fn func(ctx context.Context) error) error {
	_, err := StepWithResult(w, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// StepWithResult executes a named step that returns a typed value. The
// result is checkpointed as JSON; on replay the cached result is decoded
// and returned without re-executing fn.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func StepWithResult[T any](w *Workflow, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	data, err := w.checkpoint(name)
	if err != nil {
		return zero, err
	}
	if data != nil {
		var result T
		if decErr := json.Unmarshal(data, &result); decErr != nil {
			return zero, fmt.Errorf("workflow %s: decode checkpoint %q: %w", w.run.Name, name, decErr)
		}
		w.logger.Debug("skipping checkpointed step",
			slog.String("run_id", w.run.ID.String()),
			slog.String("step", name),
		)
		return result, nil
	}

	var result T
	start := time.Now()
	attempt := 0
	stepErr := w.policy.Do(w.ctx, func(ctx context.Context) error {
		attempt++
		s := middleware.Step{
			RunID:    w.run.ID.String(),
			Workflow: w.run.Name,
			Name:     name,
			Attempt:  attempt,
		}
		return w.chain(ctx, s, func(ctx context.Context) error {
			r, err := fn(ctx)
			if err != nil {
				return err
			}
			result = r
			return nil
		})
	})
	elapsed := time.Since(start)

	if stepErr != nil {
		if errors.Is(stepErr, ErrSuspended) {
			return zero, stepErr
		}
		w.emitter.EmitStepFailed(w.ctx, w.run, name, stepErr)
		return zero, fmt.Errorf("workflow %s step %q: %w", w.run.Name, name, stepErr)
	}

	encoded, encErr := json.Marshal(result)
	if encErr != nil {
		return zero, fmt.Errorf("workflow %s: encode checkpoint %q: %w", w.run.Name, name, encErr)
	}
	if err := w.saveCheckpoint(name, encoded); err != nil {
		return zero, err
	}

	w.emitter.EmitStepCompleted(w.ctx, w.run, name, elapsed)
	return result, nil
}

// Await suspends the run until the wait registered under key resolves.
// A resolved wait is checkpointed under name and its result returned; an
// open wait makes Await return ErrSuspended after recording key on the
// run, and the runner resumes the handler once the wait resolves.
func (w *Workflow) Await(name, key string) (wait.Result, error) {
	stepName := "await:" + name

	data, err := w.checkpoint(stepName)
	if err != nil {
		return wait.Result{}, err
	}
	if data != nil {
		var res wait.Result
		if decErr := json.Unmarshal(data, &res); decErr != nil {
			return wait.Result{}, fmt.Errorf("workflow %s: decode await checkpoint %q: %w", w.run.Name, name, decErr)
		}
		return res, nil
	}

	var rec *wait.Record
	err = w.policy.Do(w.ctx, func(ctx context.Context) error {
		r, getErr := w.waits.Get(ctx, key)
		if getErr != nil {
			return getErr
		}
		rec = r
		return nil
	})
	if err != nil {
		return wait.Result{}, fmt.Errorf("workflow %s: read wait %q: %w", w.run.Name, key, err)
	}

	if rec.Open() {
		w.parkedOn = key
		w.logger.Debug("workflow suspended",
			slog.String("run_id", w.run.ID.String()),
			slog.String("step", stepName),
			slog.String("wait_key", key),
		)
		return wait.Result{}, ErrSuspended
	}

	res := rec.Result()
	encoded, encErr := json.Marshal(res)
	if encErr != nil {
		return wait.Result{}, fmt.Errorf("workflow %s: encode await checkpoint %q: %w", w.run.Name, name, encErr)
	}
	if err := w.saveCheckpoint(stepName, encoded); err != nil {
		return wait.Result{}, err
	}
	w.emitter.EmitStepCompleted(w.ctx, w.run, stepName, 0)
	return res, nil
}

func (w *Workflow) checkpoint(name string) ([]byte, error) {
	var data []byte
	err := w.policy.Do(w.ctx, func(ctx context.Context) error {
		d, err := w.store.GetCheckpoint(ctx, w.run.ID, name)
		if err != nil {
			return err
		}
		data = d
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("workflow %s: get checkpoint %q: %w", w.run.Name, name, err)
	}
	return data, nil
}

func (w *Workflow) saveCheckpoint(name string, data []byte) error {
	if len(data) == 0 {
		data = emptyCheckpoint
	}
	err := w.policy.Do(w.ctx, func(ctx context.Context) error {
		return w.store.SaveCheckpoint(ctx, w.run.ID, name, data)
	})
	if err != nil {
		return fmt.Errorf("workflow %s: save checkpoint %q: %w", w.run.Name, name, err)
	}
	return nil
}
