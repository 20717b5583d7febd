// Package signoff orchestrates approval workflows that pause for a human
// decision, survive restarts while paused, and keep a replayable audit trail.
//
// signoff is a library first. Configure a store, build an engine, and drive
// runs through the trigger and decision entry points; the HTTP surface in
// package api and the binary in cmd/signoff are thin wrappers around it.
// Package stream publishes lifecycle events to live subscribers and
// package client consumes the HTTP API from other Go programs.
//
// # Quick Start
//
//	rt, err := signoff.New(
//	    signoff.WithStore(memory.New()),
//	    signoff.WithApprovalTimeout(10*time.Minute),
//	)
//	eng, err := engine.Build(rt)
//	_ = eng.Start(ctx)
//	res, err := eng.Trigger(ctx, approval.TriggerRequest{...})
//	_, err = eng.Decide(ctx, approval.DecisionRequest{HumanTaskID: res.TaskID, Decision: task.DecisionApprove})
//
// # Architecture
//
// Each subsystem (version, task, audit, compensation, wait, workflow)
// defines its own store interface and a single backend implements all of
// them. Every state transition of a run is captured as a new immutable
// version; the wait for a decision is a durable record resolved by exactly
// one of a delivered decision or its deadline.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package signoff
