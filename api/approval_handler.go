package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xraph/signoff"
	"github.com/xraph/signoff/approval"
	"github.com/xraph/signoff/id"
	"github.com/xraph/signoff/task"
)

// submitRequest is the body of a decision submission. The task comes
// from the path.
type submitRequest struct {
	Decision   task.Decision `json:"decision"`
	Comment    string        `json:"comment"`
	ApprovedBy string        `json:"approvedBy"`
}

func (a *API) pendingTasks(c echo.Context) error {
	limit, offset, err := page(c)
	if err != nil {
		return err
	}
	f := task.Filter{
		Assignee: c.QueryParam("assignee"),
		Limit:    limit,
		Offset:   offset,
	}
	if g := c.QueryParam("groupId"); g != "" {
		groupID, err := id.ParseGroupID(g)
		if err != nil {
			return signoff.NewValidationError("groupId", err.Error())
		}
		f.GroupID = groupID
	}

	tasks, err := a.eng.PendingTasks(c.Request().Context(), f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tasks)
}

func (a *API) getTask(c echo.Context) error {
	taskID, err := pathID(c, "taskId", id.ParseTaskID)
	if err != nil {
		return err
	}
	t, err := a.eng.GetTask(c.Request().Context(), taskID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, t)
}

func (a *API) submitDecision(c echo.Context) error {
	taskID, err := pathID(c, "taskId", id.ParseTaskID)
	if err != nil {
		return err
	}
	var body submitRequest
	if err := c.Bind(&body); err != nil {
		return signoff.NewValidationError("body", "malformed decision")
	}

	d, err := a.eng.Decide(c.Request().Context(), approval.DecisionRequest{
		HumanTaskID: taskID,
		Decision:    body.Decision,
		Comment:     body.Comment,
		ApprovedBy:  body.ApprovedBy,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, d)
}
