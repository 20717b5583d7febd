package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xraph/signoff"
)

// healthResponse reports store reachability.
type healthResponse struct {
	Status string `json:"status"`
}

func (a *API) healthz(c echo.Context) error {
	if err := a.eng.Ping(c.Request().Context()); err != nil {
		return signoff.StoreError("ping", err)
	}
	return c.JSON(http.StatusOK, healthResponse{Status: "ok"})
}
