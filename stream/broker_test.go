package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/signoff/approval"
	"github.com/xraph/signoff/id"
	"github.com/xraph/signoff/task"
	"github.com/xraph/signoff/version"
	"github.com/xraph/signoff/workflow"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func receive(t *testing.T, sub *Subscriber) *Event {
	t.Helper()
	select {
	case evt, ok := <-sub.C():
		if !ok {
			t.Fatalf("subscriber %s closed", sub.ID())
		}
		return evt
	case <-time.After(time.Second):
		t.Fatalf("subscriber %s timed out", sub.ID())
		return nil
	}
}

func assertEmpty(t *testing.T, sub *Subscriber) {
	t.Helper()
	select {
	case evt := <-sub.C():
		t.Fatalf("subscriber %s got unexpected %s", sub.ID(), evt.Type)
	default:
	}
}

func testTask() *task.Task {
	return &task.Task{
		ID:                id.NewTaskID(),
		WorkflowVersionID: id.NewVersionID(),
		GroupID:           id.NewGroupID(),
		Assignee:          "finance",
		Status:            task.StatusPending,
	}
}

func TestBrokerTaskTopics(t *testing.T) {
	t.Parallel()
	b := NewBroker(testLogger())
	tk := testTask()

	byTask := b.Subscribe(TaskTopic(tk.ID.String()))
	byGroup := b.Subscribe(GroupTopic(tk.GroupID.String()))
	byAssignee := b.Subscribe(AssigneeTopic("finance"))
	byClass := b.Subscribe(TopicTasks)
	firehose := b.Subscribe(TopicFirehose)
	other := b.Subscribe(AssigneeTopic("legal"), TopicWorkflows)

	if err := b.OnTaskOpened(context.Background(), tk); err != nil {
		t.Fatalf("OnTaskOpened: %v", err)
	}

	for _, sub := range []*Subscriber{byTask, byGroup, byAssignee, byClass, firehose} {
		evt := receive(t, sub)
		if evt.Type != EventTaskOpened {
			t.Errorf("%s: Type = %q, want %q", sub.ID(), evt.Type, EventTaskOpened)
		}
		if evt.Topic != TaskTopic(tk.ID.String()) {
			t.Errorf("%s: Topic = %q", sub.ID(), evt.Topic)
		}
	}
	assertEmpty(t, other)
}

func TestBrokerDecisionPayload(t *testing.T) {
	t.Parallel()
	b := NewBroker(testLogger())
	tk := testTask()
	sub := b.Subscribe(TaskTopic(tk.ID.String()))

	_ = b.OnDecisionDelivered(context.Background(), tk, approval.Decision{
		Status:     task.DecisionApprove,
		ApprovedBy: "cfo",
	})

	evt := receive(t, sub)
	if evt.Type != EventDecisionDelivered {
		t.Fatalf("Type = %q", evt.Type)
	}
	var data TaskEventData
	if err := json.Unmarshal(evt.Data, &data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if data.Decision != string(task.DecisionApprove) || data.ApprovedBy != "cfo" {
		t.Errorf("data = %+v", data)
	}
	if data.TaskID != tk.ID.String() || data.GroupID != tk.GroupID.String() {
		t.Errorf("ids = %+v", data)
	}
}

func TestBrokerVersionAndWorkflowEvents(t *testing.T) {
	t.Parallel()
	b := NewBroker(testLogger())
	ctx := context.Background()

	v := &version.Version{
		ID:          id.NewVersionID(),
		GroupID:     id.NewGroupID(),
		Number:      2,
		Status:      version.StatusApproved,
		CurrentStep: "approved",
	}
	run := &workflow.Run{ID: id.NewRunID(), Name: "Purchase Approval Flow", State: workflow.RunStateFailed}

	versions := b.Subscribe(TopicVersions)
	runs := b.Subscribe(WorkflowTopic(run.ID.String()))

	_ = b.OnVersionCreated(ctx, v)
	_ = b.OnWorkflowFailed(ctx, run, errors.New("boom"))

	evt := receive(t, versions)
	var vd VersionEventData
	if err := json.Unmarshal(evt.Data, &vd); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if vd.Number != 2 || vd.Status != string(version.StatusApproved) {
		t.Errorf("version data = %+v", vd)
	}
	assertEmpty(t, versions)

	evt = receive(t, runs)
	var wd WorkflowEventData
	if err := json.Unmarshal(evt.Data, &wd); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if evt.Type != EventWorkflowFailed || wd.Error != "boom" || wd.State != "failed" {
		t.Errorf("workflow event = %s %+v", evt.Type, wd)
	}
}

func TestBrokerRemoveSubscriber(t *testing.T) {
	t.Parallel()
	b := NewBroker(testLogger())

	sub := b.SubscribeAs("ui-1", TopicTasks, TopicVersions)
	if got := b.Topics().SubscriberCount(TopicTasks); got != 1 {
		t.Fatalf("SubscriberCount = %d, want 1", got)
	}

	b.RemoveSubscriber("ui-1")
	if _, ok := <-sub.C(); ok {
		t.Error("channel should be closed")
	}
	if got := b.Topics().TopicCount(); got != 0 {
		t.Errorf("TopicCount = %d, want 0", got)
	}

	// Publishing with no subscribers is a no-op.
	_ = b.OnTaskOpened(context.Background(), testTask())
}

func TestBrokerSubscribeAsReplaces(t *testing.T) {
	t.Parallel()
	b := NewBroker(testLogger())

	first := b.SubscribeAs("ui", TopicTasks)
	second := b.SubscribeAs("ui", TopicTasks)

	if _, ok := <-first.C(); ok {
		t.Error("replaced subscriber should be closed")
	}
	_ = b.OnTaskOpened(context.Background(), testTask())
	receive(t, second)
}

func TestBrokerStats(t *testing.T) {
	t.Parallel()
	b := NewBroker(testLogger(), WithDefaultCredits(1))

	b.Subscribe(TopicFirehose)
	b.Subscribe(TopicTasks)

	_ = b.OnTaskOpened(context.Background(), testTask())
	_ = b.OnTaskResolved(context.Background(), testTask())

	stats := b.Stats()
	if stats.SubscriberCount != 2 {
		t.Errorf("SubscriberCount = %d, want 2", stats.SubscriberCount)
	}
	if stats.TotalPublished != 2 {
		t.Errorf("TotalPublished = %d, want 2", stats.TotalPublished)
	}
	if stats.TotalDropped != 2 {
		t.Errorf("TotalDropped = %d, want 2", stats.TotalDropped)
	}
}

func TestBrokerShutdownClosesSubscribers(t *testing.T) {
	t.Parallel()
	b := NewBroker(testLogger())
	sub := b.Subscribe(TopicFirehose)

	if err := b.OnShutdown(context.Background()); err != nil {
		t.Fatalf("OnShutdown: %v", err)
	}
	if _, ok := <-sub.C(); ok {
		t.Error("channel should be closed")
	}
	if n := b.Stats().SubscriberCount; n != 0 {
		t.Errorf("SubscriberCount = %d, want 0", n)
	}
}

func TestSubscriberCredits(t *testing.T) {
	t.Parallel()
	sub := NewSubscriber("s", 10, 2)
	evt := &Event{Type: EventTaskOpened}

	if !sub.send(evt) || !sub.send(evt) {
		t.Fatal("first two sends should succeed")
	}
	if sub.send(evt) {
		t.Fatal("send without credits should drop")
	}
	if sub.Dropped() != 1 {
		t.Errorf("Dropped = %d, want 1", sub.Dropped())
	}

	sub.AddCredits(1)
	if !sub.send(evt) {
		t.Error("send after AddCredits should succeed")
	}
	if sub.Credits() != 0 {
		t.Errorf("Credits = %d, want 0", sub.Credits())
	}
}

func TestSubscriberFullBufferRestoresCredit(t *testing.T) {
	t.Parallel()
	sub := NewSubscriber("s", 1, 5)
	evt := &Event{Type: EventTaskOpened}

	sub.send(evt)
	if sub.send(evt) {
		t.Fatal("send into full buffer should drop")
	}
	if sub.Credits() != 4 {
		t.Errorf("Credits = %d, want 4", sub.Credits())
	}
}

func TestSubscriberFilter(t *testing.T) {
	t.Parallel()
	sub := NewSubscriber("s", 10, 10)
	sub.SetFilter(func(e *Event) bool { return e.Type == EventTaskResolved })

	if sub.send(&Event{Type: EventTaskOpened}) {
		t.Error("filtered event should not be delivered")
	}
	if !sub.send(&Event{Type: EventTaskResolved}) {
		t.Error("matching event should be delivered")
	}
}

func TestSubscriberSendAfterClose(t *testing.T) {
	t.Parallel()
	sub := NewSubscriber("s", 1, 1)
	sub.Close()
	sub.Close()
	if sub.send(&Event{Type: EventTaskOpened}) {
		t.Error("send after close should fail")
	}
}

func TestTopicValidation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		topic string
		ok    bool
	}{
		{TopicFirehose, true},
		{TopicTasks, true},
		{TopicVersions, true},
		{TopicWorkflows, true},
		{"group:wfgrp_01", true},
		{"task:htask_01", true},
		{"assignee:finance", true},
		{"workflow:wfrun_01", true},
		{"jobs", false},
		{"task:", false},
		{"queue:default", false},
		{"", false},
	}
	for _, tt := range tests {
		err := ValidateTopic(tt.topic)
		if (err == nil) != tt.ok {
			t.Errorf("ValidateTopic(%q) err = %v, want ok=%v", tt.topic, err, tt.ok)
		}
	}
}

func TestBroadcastDeduplication(t *testing.T) {
	t.Parallel()
	tr := NewTopicRegistry()
	sub := NewSubscriber("s", 10, 10)
	tr.Subscribe(TopicTasks, sub)
	tr.Subscribe(TopicFirehose, sub)

	if n := tr.Broadcast([]string{TopicFirehose, TopicTasks}, &Event{Type: EventTaskOpened}); n != 1 {
		t.Errorf("delivered = %d, want 1", n)
	}
	if got := sub.Topics(); len(got) != 2 || got[0] != TopicFirehose {
		t.Errorf("Topics = %v", got)
	}
}

func TestClassTopic(t *testing.T) {
	t.Parallel()
	cases := map[EventType]string{
		EventVersionCreated:    TopicVersions,
		EventDecisionDelivered: TopicTasks,
		EventWorkflowResumed:   TopicWorkflows,
		EventType("other"):     "",
	}
	for typ, want := range cases {
		if got := classTopic(typ); got != want {
			t.Errorf("classTopic(%q) = %q, want %q", typ, got, want)
		}
	}
}
