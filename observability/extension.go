package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/signoff/approval"
	"github.com/xraph/signoff/ext"
	"github.com/xraph/signoff/task"
	"github.com/xraph/signoff/version"
	"github.com/xraph/signoff/wait"
	"github.com/xraph/signoff/workflow"
)

// meterName is the instrumentation scope for lifecycle counters.
const meterName = "github.com/xraph/signoff/observability"

// Compile-time interface checks.
var (
	_ ext.Extension         = (*MetricsExtension)(nil)
	_ ext.WorkflowStarted   = (*MetricsExtension)(nil)
	_ ext.WorkflowSuspended = (*MetricsExtension)(nil)
	_ ext.WorkflowCompleted = (*MetricsExtension)(nil)
	_ ext.WorkflowFailed    = (*MetricsExtension)(nil)
	_ ext.VersionCreated    = (*MetricsExtension)(nil)
	_ ext.TaskOpened        = (*MetricsExtension)(nil)
	_ ext.TaskResolved      = (*MetricsExtension)(nil)
	_ ext.DecisionDelivered = (*MetricsExtension)(nil)
	_ ext.WaitResolved      = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle counters through an
// OpenTelemetry meter. Register it as a signoff extension to track run
// throughput, human task outcomes and how often approvals time out.
type MetricsExtension struct {
	WorkflowStarted   metric.Int64Counter
	WorkflowSuspended metric.Int64Counter
	WorkflowCompleted metric.Int64Counter
	WorkflowFailed    metric.Int64Counter
	WorkflowDuration  metric.Float64Histogram
	VersionCreated    metric.Int64Counter
	TaskOpened        metric.Int64Counter
	TaskResolved      metric.Int64Counter
	DecisionDelivered metric.Int64Counter
	WaitResolved      metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension on the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		// On error the API hands back a noop instrument.
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc))
		return c
	}
	duration, _ := meter.Float64Histogram(
		"signoff.workflow.duration",
		metric.WithDescription("Duration of the final pass of a finished run in seconds"),
		metric.WithUnit("s"),
	)

	return &MetricsExtension{
		WorkflowStarted:   counter("signoff.workflow.started", "Workflow runs started"),
		WorkflowSuspended: counter("signoff.workflow.suspended", "Workflow runs parked on a wait"),
		WorkflowCompleted: counter("signoff.workflow.completed", "Workflow runs completed"),
		WorkflowFailed:    counter("signoff.workflow.failed", "Workflow runs failed"),
		WorkflowDuration:  duration,
		VersionCreated:    counter("signoff.version.created", "Workflow versions appended"),
		TaskOpened:        counter("signoff.task.opened", "Human tasks opened"),
		TaskResolved:      counter("signoff.task.resolved", "Human tasks resolved by status"),
		DecisionDelivered: counter("signoff.decision.delivered", "Human decisions accepted by decision"),
		WaitResolved:      counter("signoff.wait.resolved", "Waits resolved by outcome"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ── Workflow lifecycle hooks ────────────────────────

// OnWorkflowStarted implements ext.WorkflowStarted.
func (m *MetricsExtension) OnWorkflowStarted(ctx context.Context, r *workflow.Run) error {
	m.WorkflowStarted.Add(ctx, 1, workflowAttr(r))
	return nil
}

// OnWorkflowSuspended implements ext.WorkflowSuspended.
func (m *MetricsExtension) OnWorkflowSuspended(ctx context.Context, r *workflow.Run, _ string) error {
	m.WorkflowSuspended.Add(ctx, 1, workflowAttr(r))
	return nil
}

// OnWorkflowCompleted implements ext.WorkflowCompleted.
func (m *MetricsExtension) OnWorkflowCompleted(ctx context.Context, r *workflow.Run, elapsed time.Duration) error {
	m.WorkflowCompleted.Add(ctx, 1, workflowAttr(r))
	m.WorkflowDuration.Record(ctx, elapsed.Seconds(), workflowAttr(r))
	return nil
}

// OnWorkflowFailed implements ext.WorkflowFailed.
func (m *MetricsExtension) OnWorkflowFailed(ctx context.Context, r *workflow.Run, _ error) error {
	m.WorkflowFailed.Add(ctx, 1, workflowAttr(r))
	return nil
}

// ── Approval lifecycle hooks ────────────────────────

// OnVersionCreated implements ext.VersionCreated.
func (m *MetricsExtension) OnVersionCreated(ctx context.Context, v *version.Version) error {
	m.VersionCreated.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", string(v.Status)),
	))
	return nil
}

// OnTaskOpened implements ext.TaskOpened.
func (m *MetricsExtension) OnTaskOpened(ctx context.Context, t *task.Task) error {
	m.TaskOpened.Add(ctx, 1, metric.WithAttributes(
		attribute.String("channel", t.Channel),
	))
	return nil
}

// OnTaskResolved implements ext.TaskResolved.
func (m *MetricsExtension) OnTaskResolved(ctx context.Context, t *task.Task) error {
	m.TaskResolved.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", string(t.Status)),
	))
	return nil
}

// OnDecisionDelivered implements ext.DecisionDelivered.
func (m *MetricsExtension) OnDecisionDelivered(ctx context.Context, _ *task.Task, d approval.Decision) error {
	m.DecisionDelivered.Add(ctx, 1, metric.WithAttributes(
		attribute.String("decision", string(d.Status)),
	))
	return nil
}

// OnWaitResolved implements ext.WaitResolved.
func (m *MetricsExtension) OnWaitResolved(ctx context.Context, rec *wait.Record) error {
	m.WaitResolved.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", string(rec.Outcome)),
	))
	return nil
}

func workflowAttr(r *workflow.Run) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("workflow", r.Name))
}
