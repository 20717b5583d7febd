package api

import (
	"github.com/labstack/echo/v4"

	"github.com/xraph/signoff"
	"github.com/xraph/signoff/id"
)

// defaultLimit caps list endpoints when the caller gives no limit.
const defaultLimit = 100

// pathID parses the path parameter name with parse.
func pathID(c echo.Context, name string, parse func(string) (id.ID, error)) (id.ID, error) {
	v, err := parse(c.Param(name))
	if err != nil {
		return id.Nil, signoff.NewValidationError(name, err.Error())
	}
	return v, nil
}

// page reads limit and offset query parameters.
func page(c echo.Context) (limit, offset int, err error) {
	limit = defaultLimit
	err = echo.QueryParamsBinder(c).
		Int("limit", &limit).
		Int("offset", &offset).
		BindError()
	if err != nil {
		return 0, 0, signoff.NewValidationError("query", err.Error())
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset, nil
}
