package stream

import (
	"fmt"
	"strings"
	"sync"
)

// Topic names follow a pattern:
//
//	group:<groupID>      events for one workflow group
//	task:<taskID>        events for one human task
//	assignee:<name>      task events for one assignee
//	workflow:<runID>     events for one workflow run
//	versions, tasks, workflows   every event of that class
//	firehose             everything

const (
	TopicVersions  = "versions"
	TopicTasks     = "tasks"
	TopicWorkflows = "workflows"
	TopicFirehose  = "firehose"
)

// GroupTopic returns the topic name for a workflow group.
func GroupTopic(groupID string) string { return "group:" + groupID }

// TaskTopic returns the topic name for a human task.
func TaskTopic(taskID string) string { return "task:" + taskID }

// AssigneeTopic returns the topic name for an assignee's tasks.
func AssigneeTopic(assignee string) string { return "assignee:" + assignee }

// WorkflowTopic returns the topic name for a specific workflow run.
func WorkflowTopic(runID string) string { return "workflow:" + runID }

// TopicRegistry manages subscriber sets per topic.
// It is safe for concurrent use.
type TopicRegistry struct {
	mu     sync.RWMutex
	topics map[string]map[string]*Subscriber // topic → subscriberID → subscriber
}

// NewTopicRegistry creates an empty topic registry.
func NewTopicRegistry() *TopicRegistry {
	return &TopicRegistry{
		topics: make(map[string]map[string]*Subscriber),
	}
}

// Subscribe adds a subscriber to a topic.
func (tr *TopicRegistry) Subscribe(topic string, sub *Subscriber) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	subs, ok := tr.topics[topic]
	if !ok {
		subs = make(map[string]*Subscriber)
		tr.topics[topic] = subs
	}
	subs[sub.ID()] = sub
	sub.addTopic(topic)
}

// Unsubscribe removes a subscriber from a topic. Empty topics are dropped.
func (tr *TopicRegistry) Unsubscribe(topic, subscriberID string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	subs, ok := tr.topics[topic]
	if !ok {
		return
	}
	if sub, exists := subs[subscriberID]; exists {
		sub.removeTopic(topic)
		delete(subs, subscriberID)
	}
	if len(subs) == 0 {
		delete(tr.topics, topic)
	}
}

// UnsubscribeAll removes a subscriber from all topics.
func (tr *TopicRegistry) UnsubscribeAll(subscriberID string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	for topic, subs := range tr.topics {
		if sub, ok := subs[subscriberID]; ok {
			sub.removeTopic(topic)
			delete(subs, subscriberID)
		}
		if len(subs) == 0 {
			delete(tr.topics, topic)
		}
	}
}

// Broadcast sends an event to every subscriber on any of topics, once per
// subscriber. It returns the number of deliveries.
func (tr *TopicRegistry) Broadcast(topics []string, evt *Event) int {
	tr.mu.RLock()
	seen := make(map[string]*Subscriber)
	for _, topic := range topics {
		for id, sub := range tr.topics[topic] {
			seen[id] = sub
		}
	}
	tr.mu.RUnlock()

	delivered := 0
	for _, sub := range seen {
		if sub.send(evt) {
			delivered++
		}
	}
	return delivered
}

// TopicCount returns the number of active topics.
func (tr *TopicRegistry) TopicCount() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.topics)
}

// SubscriberCount returns the number of subscribers on a topic.
func (tr *TopicRegistry) SubscriberCount(topic string) int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.topics[topic])
}

// classTopic maps an event type to its class topic.
func classTopic(t EventType) string {
	s := string(t)
	switch {
	case strings.HasPrefix(s, "version."):
		return TopicVersions
	case strings.HasPrefix(s, "task."):
		return TopicTasks
	case strings.HasPrefix(s, "workflow."):
		return TopicWorkflows
	}
	return ""
}

// ParseTopicEntity splits "task:htask_123" into ("task", "htask_123").
// Class topics yield ("", "").
func ParseTopicEntity(topic string) (entityType, entityID string) {
	idx := strings.IndexByte(topic, ':')
	if idx < 0 {
		return "", ""
	}
	return topic[:idx], topic[idx+1:]
}

// ValidateTopic checks whether a topic string is valid.
func ValidateTopic(topic string) error {
	switch topic {
	case TopicVersions, TopicTasks, TopicWorkflows, TopicFirehose:
		return nil
	}

	entityType, entityID := ParseTopicEntity(topic)
	if entityType == "" || entityID == "" {
		return fmt.Errorf("stream: invalid topic %q", topic)
	}

	switch entityType {
	case "group", "task", "assignee", "workflow":
		return nil
	default:
		return fmt.Errorf("stream: unknown topic entity type %q", entityType)
	}
}
