package client

import (
	"context"
	"net/http"

	"github.com/xraph/signoff/approval"
	"github.com/xraph/signoff/id"
	"github.com/xraph/signoff/task"
)

// PendingOpts filters PendingTasks.
type PendingOpts struct {
	Assignee string
	GroupID  id.GroupID
	Limit    int
	Offset   int
}

// PendingTasks lists tasks awaiting a decision.
func (c *Client) PendingTasks(ctx context.Context, opts PendingOpts) ([]*task.Task, error) {
	q := pageQuery(opts.Limit, opts.Offset)
	if opts.Assignee != "" {
		q.Set("assignee", opts.Assignee)
	}
	if !opts.GroupID.IsNil() {
		q.Set("groupId", opts.GroupID.String())
	}
	var out []*task.Task
	if err := c.get(ctx, "/approvals/pending", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetTask returns one human task.
func (c *Client) GetTask(ctx context.Context, taskID id.TaskID) (*task.Task, error) {
	var out task.Task
	if err := c.get(ctx, "/approvals/"+taskID.String(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Decide submits a decision for a pending task. A task that was already
// decided yields an error matching signoff.ErrConflict.
func (c *Client) Decide(ctx context.Context, taskID id.TaskID, decision task.Decision, comment, approvedBy string) (*approval.Decision, error) {
	body := struct {
		Decision   task.Decision `json:"decision"`
		Comment    string        `json:"comment,omitempty"`
		ApprovedBy string        `json:"approvedBy,omitempty"`
	}{decision, comment, approvedBy}

	var out approval.Decision
	if err := c.do(ctx, http.MethodPost, "/approvals/"+taskID.String()+"/submit", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
