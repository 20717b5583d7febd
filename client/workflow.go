package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/xraph/signoff/approval"
	"github.com/xraph/signoff/audit"
	"github.com/xraph/signoff/compensation"
	"github.com/xraph/signoff/engine"
	"github.com/xraph/signoff/id"
	"github.com/xraph/signoff/task"
	"github.com/xraph/signoff/version"
	"github.com/xraph/signoff/workflow"
)

// Trigger starts a new approval chain. Triggers are not retried.
func (c *Client) Trigger(ctx context.Context, req approval.TriggerRequest) (*engine.TriggerResult, error) {
	var res engine.TriggerResult
	if err := c.do(ctx, http.MethodPost, "/workflows/trigger", nil, req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ListVersionsOpts filters ListVersions.
type ListVersionsOpts struct {
	Status version.Status

	// AllVersions includes superseded versions; by default only chain
	// heads are returned.
	AllVersions bool

	Limit  int
	Offset int
}

// ListVersions lists versions across groups, newest first.
func (c *Client) ListVersions(ctx context.Context, opts ListVersionsOpts) ([]*version.Version, error) {
	q := pageQuery(opts.Limit, opts.Offset)
	if opts.Status != "" {
		q.Set("status", string(opts.Status))
	}
	if opts.AllVersions {
		q.Set("latestOnly", "false")
	}
	var out []*version.Version
	if err := c.get(ctx, "/workflows", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// History returns every version of a group, newest first.
func (c *Client) History(ctx context.Context, groupID id.GroupID) ([]*version.Version, error) {
	var out []*version.Version
	if err := c.get(ctx, "/workflows/"+groupID.String()+"/history", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// LatestVersion returns the head of a group's chain.
func (c *Client) LatestVersion(ctx context.Context, groupID id.GroupID) (*version.Version, error) {
	var out version.Version
	if err := c.get(ctx, "/workflows/"+groupID.String()+"/latest", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetVersion returns one version.
func (c *Client) GetVersion(ctx context.Context, versionID id.VersionID) (*version.Version, error) {
	var out version.Version
	if err := c.get(ctx, "/versions/"+versionID.String(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AuditTrail returns the audit entries of a group in append order.
func (c *Client) AuditTrail(ctx context.Context, groupID id.GroupID) ([]*audit.Entry, error) {
	var out []*audit.Entry
	if err := c.get(ctx, "/workflows/"+groupID.String()+"/audit", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// VersionAuditTrail returns the audit entries recorded against one version.
func (c *Client) VersionAuditTrail(ctx context.Context, versionID id.VersionID) ([]*audit.Entry, error) {
	var out []*audit.Entry
	if err := c.get(ctx, "/versions/"+versionID.String()+"/audit", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Compensations returns the compensation records of a group.
func (c *Client) Compensations(ctx context.Context, groupID id.GroupID) ([]*compensation.Record, error) {
	var out []*compensation.Record
	if err := c.get(ctx, "/workflows/"+groupID.String()+"/compensations", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GroupTasks returns every human task of a group.
func (c *Client) GroupTasks(ctx context.Context, groupID id.GroupID) ([]*task.Task, error) {
	var out []*task.Task
	if err := c.get(ctx, "/workflows/"+groupID.String()+"/tasks", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetRun returns a workflow run.
func (c *Client) GetRun(ctx context.Context, runID id.RunID) (*workflow.Run, error) {
	var out workflow.Run
	if err := c.get(ctx, "/runs/"+runID.String(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func pageQuery(limit, offset int) url.Values {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	return q
}
