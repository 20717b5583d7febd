package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xraph/signoff"
	"github.com/xraph/signoff/approval"
	"github.com/xraph/signoff/id"
	"github.com/xraph/signoff/version"
)

func (a *API) trigger(c echo.Context) error {
	var req approval.TriggerRequest
	if err := c.Bind(&req); err != nil {
		return signoff.NewValidationError("body", "malformed trigger request")
	}

	res, err := a.eng.Trigger(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, res)
}

func (a *API) listVersions(c echo.Context) error {
	limit, offset, err := page(c)
	if err != nil {
		return err
	}
	var status string
	latestOnly := true
	if err := echo.QueryParamsBinder(c).
		String("status", &status).
		Bool("latestOnly", &latestOnly).
		BindError(); err != nil {
		return signoff.NewValidationError("query", err.Error())
	}

	s := version.Status(status)
	if s != "" && !s.Valid() {
		return signoff.NewValidationError("status", "unknown status "+status)
	}

	versions, err := a.eng.ListVersions(c.Request().Context(), version.ListOpts{
		Status:     s,
		LatestOnly: latestOnly,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, versions)
}

func (a *API) history(c echo.Context) error {
	groupID, err := pathID(c, "groupId", id.ParseGroupID)
	if err != nil {
		return err
	}
	versions, err := a.eng.History(c.Request().Context(), groupID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, versions)
}

func (a *API) latest(c echo.Context) error {
	groupID, err := pathID(c, "groupId", id.ParseGroupID)
	if err != nil {
		return err
	}
	v, err := a.eng.LatestVersion(c.Request().Context(), groupID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, v)
}

func (a *API) auditTrail(c echo.Context) error {
	groupID, err := pathID(c, "groupId", id.ParseGroupID)
	if err != nil {
		return err
	}
	entries, err := a.eng.AuditTrail(c.Request().Context(), groupID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, entries)
}

func (a *API) compensations(c echo.Context) error {
	groupID, err := pathID(c, "groupId", id.ParseGroupID)
	if err != nil {
		return err
	}
	records, err := a.eng.Compensations(c.Request().Context(), groupID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, records)
}

func (a *API) groupTasks(c echo.Context) error {
	groupID, err := pathID(c, "groupId", id.ParseGroupID)
	if err != nil {
		return err
	}
	tasks, err := a.eng.TasksForGroup(c.Request().Context(), groupID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tasks)
}

func (a *API) getVersion(c echo.Context) error {
	versionID, err := pathID(c, "versionId", id.ParseVersionID)
	if err != nil {
		return err
	}
	v, err := a.eng.GetVersion(c.Request().Context(), versionID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, v)
}

func (a *API) versionAuditTrail(c echo.Context) error {
	versionID, err := pathID(c, "versionId", id.ParseVersionID)
	if err != nil {
		return err
	}
	entries, err := a.eng.VersionAuditTrail(c.Request().Context(), versionID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, entries)
}

func (a *API) getRun(c echo.Context) error {
	runID, err := pathID(c, "runId", id.ParseRunID)
	if err != nil {
		return err
	}
	run, err := a.eng.GetRun(c.Request().Context(), runID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, run)
}
