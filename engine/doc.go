// Package engine wires the signoff subsystems together and provides the
// application-level API for triggering approval runs, submitting
// decisions and querying their history.
//
// The engine package exists to break a fundamental import cycle: the root
// signoff package defines Entity and the error taxonomy (imported by
// version, task, workflow, etc.) and therefore cannot import those
// packages back. Engine sits above all subsystem packages and below the
// application layer.
//
// # Building an Engine
//
//	rt, err := signoff.New(
//	    signoff.WithStore(pgStore),
//	    signoff.WithApprovalTimeout(10*time.Minute),
//	    signoff.WithConcurrency(16),
//	)
//
//	eng, err := engine.Build(rt,
//	    engine.WithExtension(myExtension),
//	    engine.WithMiddleware(middleware.Logging(logger)),
//	    engine.WithMeterProvider(mp),
//	)
//
//	if err := eng.Start(ctx); err != nil { ... }
//	defer eng.Stop(ctx)
//
// # Triggering and Deciding
//
//	res, err := eng.Trigger(ctx, approval.TriggerRequest{
//	    Type:         approval.RequestType,
//	    PurchaseData: map[string]any{"amount": 1000, "item": "AWS Credits"},
//	})
//
//	_, err = eng.Decide(ctx, approval.DecisionRequest{
//	    HumanTaskID: res.TaskID,
//	    Decision:    task.DecisionApprove,
//	    ApprovedBy:  "cfo",
//	})
//
// Trigger returns once the run has parked on its approval wait. Decide
// resolves that wait; the run is resumed by the engine's worker pool, so
// the final version appears shortly after Decide returns.
//
// # Options
//
//   - [WithExtension]: register a lifecycle extension
//   - [WithMiddleware]: add a step middleware after the default chain
//   - [WithValidator]: replace the purchase validator
//   - [WithStepTimeout]: bound each step body
//   - [WithTracerProvider]: set the OpenTelemetry tracer provider
//   - [WithMeterProvider]: set the OpenTelemetry meter provider
package engine
