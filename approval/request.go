package approval

import (
	"encoding/json"
	"time"

	"github.com/xraph/signoff/id"
	"github.com/xraph/signoff/task"
)

// RequestType is the only trigger type the flow accepts.
const RequestType = "purchase_approval"

// TriggerRequest starts a purchase approval. Only Type and PurchaseData
// are required; the task fields fall back to the task package defaults.
type TriggerRequest struct {
	WorkflowName string          `json:"workflowName,omitempty"`
	Type         string          `json:"type"`
	PurchaseData map[string]any  `json:"purchaseData"`
	Assignee     string          `json:"assignee,omitempty"`
	AssigneeID   string          `json:"assigneeId,omitempty"`
	StepID       string          `json:"stepId,omitempty"`
	UISchema     json.RawMessage `json:"uiSchema,omitempty"`
	Channel      string          `json:"channel,omitempty"`
	ExpiresAt    *time.Time      `json:"expiresAt,omitempty"`
	CreatedByID  string          `json:"createdById,omitempty"`
}

// Purchase is a validated purchase request.
type Purchase struct {
	ID     id.PurchaseID `json:"id"`
	Amount float64       `json:"amount"`
	Item   string        `json:"item"`
}

// DecisionRequest is a human verdict on a pending task.
type DecisionRequest struct {
	HumanTaskID id.TaskID     `json:"humanTaskId"`
	Decision    task.Decision `json:"decision"`
	Comment     string        `json:"comment,omitempty"`
	ApprovedBy  string        `json:"approvedBy,omitempty"`
}

// Decision is the payload delivered to a suspended run and stored as the
// task response.
type Decision struct {
	Status     task.Decision `json:"status"`
	Comment    string        `json:"comment"`
	ApprovedBy string        `json:"approvedBy"`
	Timestamp  time.Time     `json:"timestamp"`
}

// Input is the durable input of one approval run. Everything a replay
// needs is fixed here before the run starts.
type Input struct {
	Request  TriggerRequest `json:"request"`
	Purchase Purchase       `json:"purchase"`
	Name     string         `json:"name"`
	GroupID  id.GroupID     `json:"group_id"`
	TaskID   id.TaskID      `json:"task_id"`
}

// CorrelationKey is the wait key a run suspends on while taskID is open.
func CorrelationKey(taskID id.TaskID) string {
	return "approval:" + taskID.String()
}
