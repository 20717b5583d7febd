package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/signoff/approval"
	"github.com/xraph/signoff/ext"
	"github.com/xraph/signoff/task"
	"github.com/xraph/signoff/version"
	"github.com/xraph/signoff/workflow"
)

// Compile-time interface checks.
var (
	_ ext.Extension         = (*Broker)(nil)
	_ ext.VersionCreated    = (*Broker)(nil)
	_ ext.TaskOpened        = (*Broker)(nil)
	_ ext.TaskResolved      = (*Broker)(nil)
	_ ext.DecisionDelivered = (*Broker)(nil)
	_ ext.WorkflowStarted   = (*Broker)(nil)
	_ ext.WorkflowSuspended = (*Broker)(nil)
	_ ext.WorkflowResumed   = (*Broker)(nil)
	_ ext.WorkflowCompleted = (*Broker)(nil)
	_ ext.WorkflowFailed    = (*Broker)(nil)
	_ ext.Shutdown          = (*Broker)(nil)
)

// DefaultBufferSize is the default per-subscriber event buffer.
const DefaultBufferSize = 256

// DefaultCredits is the default initial credits for new subscribers.
const DefaultCredits int64 = 1000

// Broker receives lifecycle hooks as an engine extension and fans them out
// to subscribers by topic.
type Broker struct {
	topics *TopicRegistry
	logger *slog.Logger
	now    func() time.Time

	subscribers sync.Map // subscriberID → *Subscriber
	nextID      atomic.Int64

	totalPublished atomic.Int64

	bufferSize     int
	defaultCredits int64
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBufferSize sets the per-subscriber event buffer size.
func WithBufferSize(size int) BrokerOption {
	return func(b *Broker) { b.bufferSize = size }
}

// WithDefaultCredits sets the initial credits for new subscribers.
func WithDefaultCredits(credits int64) BrokerOption {
	return func(b *Broker) { b.defaultCredits = credits }
}

// NewBroker creates a new stream broker.
func NewBroker(logger *slog.Logger, opts ...BrokerOption) *Broker {
	b := &Broker{
		topics:         NewTopicRegistry(),
		logger:         logger,
		now:            func() time.Time { return time.Now().UTC() },
		bufferSize:     DefaultBufferSize,
		defaultCredits: DefaultCredits,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements ext.Extension.
func (b *Broker) Name() string { return "stream-broker" }

// Topics returns the topic registry.
func (b *Broker) Topics() *TopicRegistry { return b.topics }

// Subscribe creates a subscriber with a generated ID on the given topics.
func (b *Broker) Subscribe(topics ...string) *Subscriber {
	return b.SubscribeAs(fmt.Sprintf("sub-%d", b.nextID.Add(1)), topics...)
}

// SubscribeAs creates a subscriber with a caller-chosen ID. An existing
// subscriber with the same ID is replaced and closed.
func (b *Broker) SubscribeAs(subscriberID string, topics ...string) *Subscriber {
	b.RemoveSubscriber(subscriberID)
	sub := NewSubscriber(subscriberID, b.bufferSize, b.defaultCredits)
	b.subscribers.Store(subscriberID, sub)
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
	return sub
}

// RemoveSubscriber removes a subscriber from all topics and closes it.
func (b *Broker) RemoveSubscriber(subscriberID string) {
	b.topics.UnsubscribeAll(subscriberID)
	if val, ok := b.subscribers.LoadAndDelete(subscriberID); ok {
		val.(*Subscriber).Close() //nolint:errcheck // sync.Map always stores *Subscriber
	}
}

// Stats returns broker statistics.
func (b *Broker) Stats() BrokerStats {
	stats := BrokerStats{
		TopicCount:     b.topics.TopicCount(),
		TotalPublished: b.totalPublished.Load(),
	}
	b.subscribers.Range(func(_, v any) bool {
		stats.SubscriberCount++
		stats.TotalDropped += v.(*Subscriber).Dropped() //nolint:errcheck // sync.Map always stores *Subscriber
		return true
	})
	return stats
}

// BrokerStats contains broker metrics.
type BrokerStats struct {
	TopicCount      int   `json:"topic_count"`
	SubscriberCount int   `json:"subscriber_count"`
	TotalPublished  int64 `json:"total_published"`
	TotalDropped    int64 `json:"total_dropped"`
}

// publish sends evt to the firehose, its class topic and every entity
// topic. The first entity topic becomes evt.Topic.
func (b *Broker) publish(typ EventType, data any, entityTopics ...string) {
	raw, err := json.Marshal(data)
	if err != nil {
		b.logger.Error("stream: marshal event", slog.String("type", string(typ)), slog.String("error", err.Error()))
		return
	}
	evt := &Event{Type: typ, Timestamp: b.now(), Data: raw}
	if len(entityTopics) > 0 {
		evt.Topic = entityTopics[0]
	}

	topics := make([]string, 0, len(entityTopics)+2)
	topics = append(topics, TopicFirehose)
	if class := classTopic(typ); class != "" {
		topics = append(topics, class)
	}
	topics = append(topics, entityTopics...)

	b.totalPublished.Add(int64(b.topics.Broadcast(topics, evt)))
}

// ── Approval hooks ──────────────────────────────────

func (b *Broker) OnVersionCreated(_ context.Context, v *version.Version) error {
	b.publish(EventVersionCreated, VersionEventData{
		VersionID:   v.ID.String(),
		GroupID:     v.GroupID.String(),
		Number:      v.Number,
		Status:      string(v.Status),
		CurrentStep: v.CurrentStep,
	}, GroupTopic(v.GroupID.String()))
	return nil
}

func (b *Broker) OnTaskOpened(_ context.Context, t *task.Task) error {
	b.publish(EventTaskOpened, taskData(t), taskTopics(t)...)
	return nil
}

func (b *Broker) OnTaskResolved(_ context.Context, t *task.Task) error {
	b.publish(EventTaskResolved, taskData(t), taskTopics(t)...)
	return nil
}

func (b *Broker) OnDecisionDelivered(_ context.Context, t *task.Task, d approval.Decision) error {
	data := taskData(t)
	data.Decision = string(d.Status)
	data.ApprovedBy = d.ApprovedBy
	b.publish(EventDecisionDelivered, data, taskTopics(t)...)
	return nil
}

func taskData(t *task.Task) TaskEventData {
	return TaskEventData{
		TaskID:    t.ID.String(),
		VersionID: t.WorkflowVersionID.String(),
		GroupID:   t.GroupID.String(),
		Assignee:  t.Assignee,
		Status:    string(t.Status),
	}
}

func taskTopics(t *task.Task) []string {
	return []string{
		TaskTopic(t.ID.String()),
		GroupTopic(t.GroupID.String()),
		AssigneeTopic(t.Assignee),
	}
}

// ── Workflow hooks ──────────────────────────────────

func (b *Broker) OnWorkflowStarted(_ context.Context, r *workflow.Run) error {
	b.publishRun(EventWorkflowStarted, r, WorkflowEventData{})
	return nil
}

func (b *Broker) OnWorkflowSuspended(_ context.Context, r *workflow.Run, waitKey string) error {
	b.publishRun(EventWorkflowSuspended, r, WorkflowEventData{WaitKey: waitKey})
	return nil
}

func (b *Broker) OnWorkflowResumed(_ context.Context, r *workflow.Run) error {
	b.publishRun(EventWorkflowResumed, r, WorkflowEventData{})
	return nil
}

func (b *Broker) OnWorkflowCompleted(_ context.Context, r *workflow.Run, elapsed time.Duration) error {
	b.publishRun(EventWorkflowCompleted, r, WorkflowEventData{ElapsedMs: elapsed.Milliseconds()})
	return nil
}

func (b *Broker) OnWorkflowFailed(_ context.Context, r *workflow.Run, runErr error) error {
	data := WorkflowEventData{}
	if runErr != nil {
		data.Error = runErr.Error()
	}
	b.publishRun(EventWorkflowFailed, r, data)
	return nil
}

func (b *Broker) publishRun(typ EventType, r *workflow.Run, data WorkflowEventData) {
	data.RunID = r.ID.String()
	data.Name = r.Name
	data.State = string(r.State)
	b.publish(typ, data, WorkflowTopic(r.ID.String()))
}

// OnShutdown closes every subscriber.
func (b *Broker) OnShutdown(_ context.Context) error {
	b.subscribers.Range(func(key, _ any) bool {
		b.RemoveSubscriber(key.(string)) //nolint:errcheck // keys are subscriber IDs
		return true
	})
	b.logger.Info("stream broker shut down")
	return nil
}
